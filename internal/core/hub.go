package core

import (
	"context"

	"github.com/rs/zerolog"
)

type clientCommand struct {
	client *Client
	cmd    *Command
}

type publication struct {
	topic string
	event *Event
}

// Hub fans engine events out to gateway clients by topic. All state is
// owned by the Run goroutine.
type Hub struct {
	log zerolog.Logger

	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand
	publish    chan publication
	done       chan struct{}

	clients map[*Client]context.CancelFunc
	groups  map[string]*group
}

// NewHub creates a new hub instance. Call Run to start it.
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		log:        logger.With().Str("component", "hub").Logger(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan clientCommand, 64),
		publish:    make(chan publication, 256),
		done:       make(chan struct{}),
		clients:    make(map[*Client]context.CancelFunc),
		groups:     make(map[string]*group),
	}
}

// Run processes hub traffic until ctx is done, then closes every client's
// Events channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			return
		case c := <-h.register:
			pumpCtx, cancel := context.WithCancel(ctx)
			h.clients[c] = cancel
			go h.pump(pumpCtx, c)
			h.log.Debug().Str("client_id", c.ID).Msg("client registered")
		case c := <-h.unregister:
			h.remove(c)
		case cc := <-h.commands:
			h.handle(cc.client, cc.cmd)
		case p := <-h.publish:
			h.broadcast(p)
		}
	}
}

// RegisterClient attaches c. Its Commands are consumed until unregistered.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// UnregisterClient detaches c and closes its Events channel.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish queues ev for every client watching topic. It never blocks the
// caller once the hub has stopped.
func (h *Hub) Publish(topic string, ev *Event) {
	ev.Topic = topic
	select {
	case h.publish <- publication{topic: topic, event: ev}:
	case <-h.done:
	}
}

func (h *Hub) pump(ctx context.Context, c *Client) {
	for {
		select {
		case cmd, ok := <-c.Commands:
			if !ok {
				return
			}
			select {
			case h.commands <- clientCommand{client: c, cmd: cmd}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handle(c *Client, cmd *Command) {
	if _, ok := h.clients[c]; !ok || cmd == nil {
		return
	}

	switch cmd.Kind {
	case CommandWatch:
		g, ok := h.groups[cmd.Topic]
		if !ok {
			g = newGroup(cmd.Topic)
			h.groups[cmd.Topic] = g
		}
		if !g.add(c) {
			h.sendError(c, ErrCodeAlreadyWatching, "already watching "+cmd.Topic)
			return
		}
		c.Topics[cmd.Topic] = struct{}{}
	case CommandUnwatch:
		g, ok := h.groups[cmd.Topic]
		if !ok || !g.remove(c) {
			h.sendError(c, ErrCodeNotWatching, "not watching "+cmd.Topic)
			return
		}
		delete(c.Topics, cmd.Topic)
		if g.empty() {
			delete(h.groups, cmd.Topic)
		}
	default:
		h.sendError(c, ErrCodeBadRequest, "unknown command")
	}
}

func (h *Hub) broadcast(p publication) {
	g, ok := h.groups[p.topic]
	if !ok {
		return
	}
	if dropped := g.broadcast(p.event); dropped > 0 {
		h.log.Warn().Str("topic", p.topic).Int("dropped", dropped).Msg("slow consumers skipped event")
	}
}

func (h *Hub) remove(c *Client) {
	cancel, ok := h.clients[c]
	if !ok {
		return
	}
	cancel()
	delete(h.clients, c)

	for topic := range c.Topics {
		if g, ok := h.groups[topic]; ok {
			g.remove(c)
			if g.empty() {
				delete(h.groups, topic)
			}
		}
	}
	clear(c.Topics)
	close(c.Events)
	h.log.Debug().Str("client_id", c.ID).Msg("client unregistered")
}

func (h *Hub) sendError(c *Client, code, msg string) {
	select {
	case c.Events <- &Event{Kind: EventError, Error: coreError(code, msg)}:
	default:
	}
}
