package core

import "time"

// ChatMessage is one message published on a room's chat topic.
type ChatMessage struct {
	Timestamp time.Time
	Sender    string
	Content   string
	RoomID    string
}

// MessageKey identifies a message for deduplication. The network assigns
// no envelope id, so the content tuple is the identity.
type MessageKey struct {
	Sender    string
	Timestamp int64
	Content   string
}

// NewChatMessage stamps a message with now at millisecond precision.
func NewChatMessage(roomID, sender, content string, now time.Time) ChatMessage {
	return ChatMessage{
		Timestamp: Millis(now),
		Sender:    sender,
		Content:   content,
		RoomID:    roomID,
	}
}

// Key returns the deduplication identity of m.
func (m ChatMessage) Key() MessageKey {
	return MessageKey{
		Sender:    m.Sender,
		Timestamp: m.Timestamp.UnixMilli(),
		Content:   m.Content,
	}
}
