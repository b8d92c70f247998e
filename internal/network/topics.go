package network

import "strings"

const (
	topicApp      = "wiresync"
	topicVersion  = "1"
	topicEncoding = "proto"
)

// RoomsTopic carries room create/update/delete events.
var RoomsTopic = buildTopic("rooms")

// ChatTopic returns the topic carrying chat messages of one room.
func ChatTopic(roomID string) string {
	return buildTopic("chat-" + roomID)
}

func buildTopic(name string) string {
	return "/" + strings.Join([]string{topicApp, topicVersion, name, topicEncoding}, "/")
}
