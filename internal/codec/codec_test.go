package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vovakirdan/wiresync/internal/core"
)

func sampleRoom() core.Room {
	return core.Room{
		ID:               "0b6f3c1e-5f7a-4b43-9d55-1f1d2c0e7a10",
		Name:             "Morning Yoga",
		Creator:          "0xABC",
		CreatedAt:        time.UnixMilli(1_700_000_000_000),
		Code:             "K7MP2Q",
		LastActivity:     time.UnixMilli(1_700_000_100_000),
		ParticipantCount: 3,
		IsPublic:         true,
	}
}

func TestRoomEventRoundTrip(t *testing.T) {
	ev := core.RoomEvent{
		Type:      core.RoomEventUpdate,
		Timestamp: time.UnixMilli(1_700_000_200_000),
		Room:      sampleRoom(),
	}

	b, err := EncodeRoomEvent(ev)
	require.NoError(t, err)

	got, err := DecodeRoomEvent(b)
	require.NoError(t, err)
	assert.Equal(t, ev.Type, got.Type)
	assert.True(t, ev.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, ev.Room.ID, got.Room.ID)
	assert.Equal(t, ev.Room.Name, got.Room.Name)
	assert.Equal(t, ev.Room.Creator, got.Room.Creator)
	assert.True(t, ev.Room.CreatedAt.Equal(got.Room.CreatedAt))
	assert.Equal(t, ev.Room.Code, got.Room.Code)
	assert.True(t, ev.Room.LastActivity.Equal(got.Room.LastActivity))
	assert.Equal(t, ev.Room.ParticipantCount, got.Room.ParticipantCount)
	assert.Equal(t, ev.Room.IsPublic, got.Room.IsPublic)
}

func TestEncodeChatMessageWireLayout(t *testing.T) {
	b := EncodeChatMessage(core.ChatMessage{
		Timestamp: time.UnixMilli(1),
		Sender:    "a",
		Content:   "b",
		RoomID:    "r",
	})

	want := []byte{
		0x08, 0x01,      // 1: timestamp
		0x12, 0x01, 'a', // 2: sender
		0x1a, 0x01, 'b', // 3: content
		0x22, 0x01, 'r', // 4: roomId
	}
	assert.Equal(t, want, b)
}

func TestDecodeChatMessageSkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	b = protowire.AppendTag(b, chatContent, protowire.BytesType)
	b = protowire.AppendString(b, "hello")
	b = protowire.AppendTag(b, 100, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 7)
	b = protowire.AppendTag(b, chatTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, 1_700_000_000_000)

	m, err := DecodeChatMessage(b)
	require.NoError(t, err)
	assert.Equal(t, "hello", m.Content)
	assert.Equal(t, int64(1_700_000_000_000), m.Timestamp.UnixMilli())
	assert.Empty(t, m.RoomID, "payloads from older peers carry no room id")
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"truncated tag":    {0x80},
		"truncated string": {0x12, 0x05, 'a'},
		"wrong wire type":  {0x0a, 0x01, 'x'}, // field 1 as bytes, expected varint
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeChatMessage(payload)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeRoomEventRejectsUnknownType(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, roomEventType, protowire.BytesType)
	b = protowire.AppendString(b, "rename")
	b = protowire.AppendTag(b, roomEventRoom, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeRoom(sampleRoom()))

	_, err := DecodeRoomEvent(b)
	assert.ErrorIs(t, err, ErrUnknownEventType)

	_, err = EncodeRoomEvent(core.RoomEvent{Type: "rename"})
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestDecodeRoomEventRequiresRoomID(t *testing.T) {
	room := sampleRoom()
	room.ID = ""
	b, err := EncodeRoomEvent(core.RoomEvent{Type: core.RoomEventCreate, Room: room})
	require.NoError(t, err)

	_, err = DecodeRoomEvent(b)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRoomEventMalformedNestedRoom(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, roomEventType, protowire.BytesType)
	b = protowire.AppendString(b, string(core.RoomEventCreate))
	b = protowire.AppendTag(b, roomEventRoom, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{0x12, 0x09, 'x'})

	_, err := DecodeRoomEvent(b)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestZeroTimesEncodeAsZero(t *testing.T) {
	b := EncodeChatMessage(core.ChatMessage{Sender: "a"})
	m, err := DecodeChatMessage(b)
	require.NoError(t, err)
	assert.True(t, m.Timestamp.IsZero())
}
