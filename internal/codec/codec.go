// Package codec encodes engine events into the protobuf wire layout shared
// with other peers. Field numbers are fixed; unknown fields are skipped.
package codec

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vovakirdan/wiresync/internal/core"
)

var (
	// ErrMalformed is returned for payloads that are not valid protobuf or
	// carry a field with the wrong wire type.
	ErrMalformed = errors.New("malformed payload")
	// ErrUnknownEventType is returned for room events with an unrecognised type.
	ErrUnknownEventType = errors.New("unknown room event type")
)

// RoomEvent fields.
const (
	roomEventType      protowire.Number = 1
	roomEventTimestamp protowire.Number = 2
	roomEventRoom      protowire.Number = 3
)

// Room fields.
const (
	roomID               protowire.Number = 1
	roomName             protowire.Number = 2
	roomCreator          protowire.Number = 3
	roomCreatedAt        protowire.Number = 4
	roomCode             protowire.Number = 5
	roomLastActivity     protowire.Number = 6
	roomParticipantCount protowire.Number = 7
	roomIsPublic         protowire.Number = 8
)

// ChatMessage fields.
const (
	chatTimestamp protowire.Number = 1
	chatSender    protowire.Number = 2
	chatContent   protowire.Number = 3
	chatRoomID    protowire.Number = 4
)

// EncodeRoomEvent serialises ev.
func EncodeRoomEvent(ev core.RoomEvent) ([]byte, error) {
	if !ev.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type)
	}

	var b []byte
	b = appendString(b, roomEventType, string(ev.Type))
	b = appendMillis(b, roomEventTimestamp, ev.Timestamp)
	b = protowire.AppendTag(b, roomEventRoom, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeRoom(ev.Room))
	return b, nil
}

func encodeRoom(r core.Room) []byte {
	var b []byte
	b = appendString(b, roomID, r.ID)
	b = appendString(b, roomName, r.Name)
	b = appendString(b, roomCreator, r.Creator)
	b = appendMillis(b, roomCreatedAt, r.CreatedAt)
	b = appendString(b, roomCode, r.Code)
	b = appendMillis(b, roomLastActivity, r.LastActivity)
	b = protowire.AppendTag(b, roomParticipantCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.ParticipantCount))
	b = protowire.AppendTag(b, roomIsPublic, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(r.IsPublic))
	return b
}

// DecodeRoomEvent parses a room event payload.
func DecodeRoomEvent(b []byte) (core.RoomEvent, error) {
	var ev core.RoomEvent
	err := walk(b, func(num protowire.Number, typ protowire.Type, v field) error {
		switch num {
		case roomEventType:
			s, err := v.str(typ)
			ev.Type = core.RoomEventType(s)
			return err
		case roomEventTimestamp:
			t, err := v.millis(typ)
			ev.Timestamp = t
			return err
		case roomEventRoom:
			raw, err := v.bytes(typ)
			if err != nil {
				return err
			}
			ev.Room, err = decodeRoom(raw)
			return err
		}
		return nil
	})
	if err != nil {
		return core.RoomEvent{}, err
	}
	if !ev.Type.Valid() {
		return core.RoomEvent{}, fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type)
	}
	if ev.Room.ID == "" {
		return core.RoomEvent{}, fmt.Errorf("%w: room id missing", ErrMalformed)
	}
	return ev, nil
}

func decodeRoom(b []byte) (core.Room, error) {
	var r core.Room
	err := walk(b, func(num protowire.Number, typ protowire.Type, v field) error {
		var err error
		switch num {
		case roomID:
			r.ID, err = v.str(typ)
		case roomName:
			r.Name, err = v.str(typ)
		case roomCreator:
			r.Creator, err = v.str(typ)
		case roomCreatedAt:
			r.CreatedAt, err = v.millis(typ)
		case roomCode:
			r.Code, err = v.str(typ)
		case roomLastActivity:
			r.LastActivity, err = v.millis(typ)
		case roomParticipantCount:
			var n uint64
			n, err = v.varint(typ)
			r.ParticipantCount = uint32(n)
		case roomIsPublic:
			var n uint64
			n, err = v.varint(typ)
			r.IsPublic = protowire.DecodeBool(n)
		}
		return err
	})
	return r, err
}

// EncodeChatMessage serialises m.
func EncodeChatMessage(m core.ChatMessage) []byte {
	var b []byte
	b = appendMillis(b, chatTimestamp, m.Timestamp)
	b = appendString(b, chatSender, m.Sender)
	b = appendString(b, chatContent, m.Content)
	b = appendString(b, chatRoomID, m.RoomID)
	return b
}

// DecodeChatMessage parses a chat message payload.
func DecodeChatMessage(b []byte) (core.ChatMessage, error) {
	var m core.ChatMessage
	err := walk(b, func(num protowire.Number, typ protowire.Type, v field) error {
		var err error
		switch num {
		case chatTimestamp:
			m.Timestamp, err = v.millis(typ)
		case chatSender:
			m.Sender, err = v.str(typ)
		case chatContent:
			m.Content, err = v.str(typ)
		case chatRoomID:
			m.RoomID, err = v.str(typ)
		}
		return err
	})
	if err != nil {
		return core.ChatMessage{}, err
	}
	return m, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMillis(b []byte, num protowire.Number, t time.Time) []byte {
	var ms uint64
	if !t.IsZero() && t.UnixMilli() > 0 {
		ms = uint64(t.UnixMilli())
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, ms)
}

// field is the raw value of one decoded field.
type field struct {
	raw []byte
}

func (f field) varint(typ protowire.Type) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("%w: expected varint, got wire type %d", ErrMalformed, typ)
	}
	v, n := protowire.ConsumeVarint(f.raw)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return v, nil
}

func (f field) bytes(typ protowire.Type) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("%w: expected bytes, got wire type %d", ErrMalformed, typ)
	}
	v, n := protowire.ConsumeBytes(f.raw)
	if n < 0 {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return v, nil
}

func (f field) str(typ protowire.Type) (string, error) {
	v, err := f.bytes(typ)
	return string(v), err
}

func (f field) millis(typ protowire.Type) (time.Time, error) {
	v, err := f.varint(typ)
	if err != nil || v == 0 {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(v)), nil
}

// walk calls fn for every field in b in wire order.
func walk(b []byte, fn func(protowire.Number, protowire.Type, field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
		}
		if err := fn(num, typ, field{raw: b[:m]}); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}
