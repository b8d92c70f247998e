package core

// EventKind is a notification the core emits to gateway clients.
type EventKind int

const (
	// EventRoomsChanged carries the full room list after a merge.
	EventRoomsChanged EventKind = iota
	// EventMessage carries one chat message accepted into a room window.
	EventMessage
	// EventHistory carries the current message window of a room.
	EventHistory
	// EventConnection reports a connection state transition.
	EventConnection
	// EventError notifies a client about a domain error.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventRoomsChanged:
		return "rooms"
	case EventMessage:
		return "message"
	case EventHistory:
		return "history"
	case EventConnection:
		return "connection"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the engine.
type Event struct {
	Kind       EventKind
	Topic      string
	RoomID     string
	Rooms      []Room
	Message    ChatMessage
	Messages   []ChatMessage // For EventHistory
	Connection *ConnectionInfo
	Error      *CoreError
}

// ConnectionInfo is the gateway view of the connection state.
type ConnectionInfo struct {
	State   string
	Attempt int
	Error   string
}

// Notifier receives events for fan-out. Implementations must not block.
type Notifier interface {
	Publish(topic string, ev *Event)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) Publish(string, *Event) {}

// Hub topics.
const (
	TopicRooms      = "rooms"
	TopicConnection = "connection"

	roomTopicPrefix = "room:"
)

// RoomTopic returns the hub topic for one room's messages.
func RoomTopic(roomID string) string {
	return roomTopicPrefix + roomID
}

// ParseRoomTopic extracts the room id from a RoomTopic value.
func ParseRoomTopic(topic string) (string, bool) {
	if len(topic) <= len(roomTopicPrefix) || topic[:len(roomTopicPrefix)] != roomTopicPrefix {
		return "", false
	}
	return topic[len(roomTopicPrefix):], true
}
