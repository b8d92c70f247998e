package channel

import (
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/core"
)

// Registry owns the open channels, at most one per room.
type Registry struct {
	conn   Conn
	cfg    Config
	logger *zerolog.Logger
	opts   []Option

	mu       sync.Mutex
	channels map[string]*Channel
}

// NewRegistry creates an empty registry. opts apply to every channel it
// opens.
func NewRegistry(conn Conn, cfg Config, logger *zerolog.Logger, opts ...Option) *Registry {
	return &Registry{
		conn:     conn,
		cfg:      cfg,
		logger:   logger,
		opts:     opts,
		channels: make(map[string]*Channel),
	}
}

// Open returns the live channel of roomID, creating it if needed.
func (r *Registry) Open(roomID string) (*Channel, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, core.ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[roomID]; ok {
		return ch, nil
	}
	ch := New(roomID, r.conn, r.cfg, r.logger, r.opts...)
	r.channels[roomID] = ch
	return ch, nil
}

// Get returns the channel of roomID if it is open.
func (r *Registry) Get(roomID string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[roomID]
	return ch, ok
}

// Close tears the channel of roomID down. It reports whether one was open.
func (r *Registry) Close(roomID string) bool {
	r.mu.Lock()
	ch, ok := r.channels[roomID]
	delete(r.channels, roomID)
	r.mu.Unlock()

	if ok {
		ch.Close()
	}
	return ok
}

// Switch closes the channel of from and opens a fresh one for to. A channel
// is never re-scoped to another room.
func (r *Registry) Switch(from, to string) (*Channel, error) {
	if from != to {
		r.Close(from)
	}
	return r.Open(to)
}

// CloseAll tears every channel down.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	channels := r.channels
	r.channels = make(map[string]*Channel)
	r.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
}

// Rooms returns the ids of the open channels, sorted.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
