package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandWatch subscribes the client to a hub topic.
	CommandWatch CommandKind = iota
	// CommandUnwatch unsubscribes the client from a hub topic.
	CommandUnwatch
)

// Command represents an action requested by a client.
type Command struct {
	Kind  CommandKind
	Topic string
}
