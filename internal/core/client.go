package core

// Client is a gateway connection as seen by the hub.
type Client struct {
	ID       string
	Name     string
	Commands chan *Command
	Events   chan *Event
	Topics   map[string]struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id, name string) *Client {
	if name == "" {
		name = id
	}
	return &Client{
		ID:       id,
		Name:     name,
		Commands: make(chan *Command, 8),
		Events:   make(chan *Event, 32),
		Topics:   make(map[string]struct{}),
	}
}
