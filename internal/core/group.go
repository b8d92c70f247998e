package core

// group holds the clients watching one hub topic.
type group struct {
	topic   string
	clients map[*Client]struct{}
}

func newGroup(topic string) *group {
	return &group{
		topic:   topic,
		clients: make(map[*Client]struct{}),
	}
}

// add inserts a client. Returns true if newly added.
func (g *group) add(c *Client) bool {
	if _, exists := g.clients[c]; exists {
		return false
	}
	g.clients[c] = struct{}{}
	return true
}

// remove deletes a client. Returns true if removed.
func (g *group) remove(c *Client) bool {
	if _, exists := g.clients[c]; !exists {
		return false
	}
	delete(g.clients, c)
	return true
}

// broadcast sends an event to every client in the group.
func (g *group) broadcast(event *Event) int {
	dropped := 0
	for client := range g.clients {
		select {
		case client.Events <- event:
		default:
			// Drop if slow consumer.
			dropped++
		}
	}
	return dropped
}

func (g *group) empty() bool {
	return len(g.clients) == 0
}
