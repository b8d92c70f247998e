package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello   = "hello"
	InboundTypeWatch   = "watch"
	InboundTypeUnwatch = "unwatch"
	InboundTypeMsg     = "msg"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventNameRooms      = "rooms"
	EventNameHistory    = "history"
	EventNameMessage    = "message"
	EventNameConnection = "connection"

	ErrCodeUnsupportedVersion = "unsupported_version"
	ErrCodeInvalidMessage     = "invalid_message"
)

// HelloData is sent by the client to introduce itself.
type HelloData struct {
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

// WatchData subscribes to or unsubscribes from a feed. Room selects the
// feed of one room; otherwise Topic names "rooms" or "connection".
type WatchData struct {
	Topic string `json:"topic,omitempty"`
	Room  string `json:"room,omitempty"`
}

// MsgData is a chat message from the client.
type MsgData struct {
	Room string `json:"room"`
	Text string `json:"text"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Room is the client view of a room.
type Room struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Creator          string `json:"creator"`
	CreatedAt        int64  `json:"created_at"`
	Code             string `json:"code"`
	LastActivity     int64  `json:"last_activity"`
	ParticipantCount uint32 `json:"participant_count"`
	IsPublic         bool   `json:"is_public"`
}

// EventRoomsData carries the full room list.
type EventRoomsData struct {
	Rooms []Room `json:"rooms"`
}

// EventMessage is one chat message. TS is in unix milliseconds.
type EventMessage struct {
	Room string `json:"room"`
	User string `json:"user"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// EventHistory carries the message window of a room.
type EventHistory struct {
	Room     string         `json:"room"`
	Messages []EventMessage `json:"messages"`
}

// EventConnection reports the connection state.
type EventConnection struct {
	State   string `json:"state"`
	Attempt int    `json:"attempt,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
