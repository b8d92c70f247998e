// Package rooms keeps the event-sourced room directory: the set of rooms
// rebuilt from create, update and delete events on the rooms topic.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/codec"
	"github.com/vovakirdan/wiresync/internal/connection"
	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/network"
)

var errStale = errors.New("directory reset during bootstrap")

// Conn is the part of connection.Manager the directory depends on.
type Conn interface {
	Status() connection.Status
	Enqueue(op connection.Op)
	OnReady(h connection.Hook) func()
	OnReset(fn func()) func()
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Config holds directory settings.
type Config struct {
	Topic    string
	Lookback time.Duration
	PageSize int
	// Buffer is the number of live events held while the replay runs.
	Buffer int
}

// DefaultConfig returns the default directory configuration.
func DefaultConfig() Config {
	return Config{
		Topic:    network.RoomsTopic,
		Lookback: 7 * 24 * time.Hour,
		PageSize: 100,
		Buffer:   256,
	}
}

// Resolution is the outcome of a lookup that may precede the replay.
type Resolution int

const (
	// ResolutionPending means the first replay has not been merged yet.
	ResolutionPending Resolution = iota
	ResolutionFound
	ResolutionNotFound
)

func (r Resolution) String() string {
	switch r {
	case ResolutionPending:
		return "pending"
	case ResolutionFound:
		return "found"
	case ResolutionNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Option configures a Directory.
type Option func(*Directory)

// WithNotifier publishes room list changes to n.
func WithNotifier(n core.Notifier) Option {
	return func(d *Directory) { d.notifier = n }
}

// WithClock overrides the clock used for timestamps and the replay window.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// Directory is the sole writer of the room snapshot set.
type Directory struct {
	conn     Conn
	cfg      Config
	log      zerolog.Logger
	notifier core.Notifier
	now      func() time.Time

	mu       sync.RWMutex
	snap     snapshot
	epoch    uint64
	loaded   bool
	loadedCh chan struct{}

	nextID   uint64
	removals map[uint64]func(roomID string)

	unregister []func()
}

// New creates a directory bound to conn. It bootstraps on every Ready and
// clears itself on every teardown.
func New(conn Conn, cfg Config, logger *zerolog.Logger, opts ...Option) *Directory {
	def := DefaultConfig()
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}

	d := &Directory{
		conn:     conn,
		cfg:      cfg,
		log:      logger.With().Str("component", "rooms").Logger(),
		notifier: core.NopNotifier{},
		now:      time.Now,
		snap:     newSnapshot(),
		loadedCh: make(chan struct{}),
		removals: make(map[uint64]func(string)),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.unregister = append(d.unregister, conn.OnReady(d.bootstrap), conn.OnReset(d.reset))
	return d
}

// Close detaches the directory from the connection.
func (d *Directory) Close() {
	for _, fn := range d.unregister {
		fn()
	}
	d.unregister = nil
}

// OnRemoved registers fn to run after a live delete event removes a room.
// It returns a function that unregisters fn.
func (d *Directory) OnRemoved(fn func(roomID string)) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.removals[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.removals, id)
		d.mu.Unlock()
	}
}

// List returns the rooms in insertion order.
func (d *Directory) List() []core.Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap.list()
}

// GetByID looks a room up by id.
func (d *Directory) GetByID(id string) (core.Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap.get(id)
}

// GetByCode looks a room up by join code, ignoring case and surrounding
// space.
func (d *Directory) GetByCode(code string) (core.Room, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return core.Room{}, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.snap.order {
		if r := d.snap.rooms[id]; strings.EqualFold(r.Code, code) {
			return r, true
		}
	}
	return core.Room{}, false
}

// Resolve looks a room up by id and tells a miss before the first replay
// apart from a definite miss.
func (d *Directory) Resolve(id string) (core.Room, Resolution) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if r, ok := d.snap.get(id); ok {
		return r, ResolutionFound
	}
	if !d.loaded {
		return core.Room{}, ResolutionPending
	}
	return core.Room{}, ResolutionNotFound
}

// Loaded reports whether the first replay of the session has been merged.
func (d *Directory) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// WaitLoaded blocks until the replay has been merged or ctx is done.
func (d *Directory) WaitLoaded(ctx context.Context) error {
	d.mu.RLock()
	ch := d.loadedCh
	d.mu.RUnlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Create publishes a new room. When the connection is not Ready the create
// is queued to run once Ready is reached and core.ErrNotReady is returned.
// The room is not applied locally; it appears once its event is merged.
func (d *Directory) Create(ctx context.Context, name, creator string) (core.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Room{}, core.ErrEmptyRoomName
	}

	if d.conn.Status().State != connection.StateReady {
		d.conn.Enqueue(func(ctx context.Context) {
			room, err := d.publishCreate(ctx, name, creator)
			if err != nil {
				d.log.Warn().Err(err).Str("name", name).Msg("queued room create failed")
				return
			}
			d.log.Info().Str("room_id", room.ID).Msg("queued room created")
		})
		return core.Room{}, core.ErrNotReady
	}
	return d.publishCreate(ctx, name, creator)
}

func (d *Directory) publishCreate(ctx context.Context, name, creator string) (core.Room, error) {
	room := core.NewRoom(name, creator, d.now())
	err := d.publish(ctx, core.RoomEvent{
		Type:      core.RoomEventCreate,
		Timestamp: room.CreatedAt,
		Room:      room,
	})
	if err != nil {
		return core.Room{}, err
	}
	return room, nil
}

// Update publishes a new snapshot of a known room. Id, creator, creation
// time and join code are kept; LastActivity moves strictly forward.
func (d *Directory) Update(ctx context.Context, room core.Room) (core.Room, error) {
	if d.conn.Status().State != connection.StateReady {
		return core.Room{}, core.ErrNotReady
	}
	room.Name = strings.TrimSpace(room.Name)
	if room.Name == "" {
		return core.Room{}, core.ErrEmptyRoomName
	}
	current, ok := d.GetByID(room.ID)
	if !ok {
		return core.Room{}, core.ErrRoomNotFound
	}

	room.Creator = current.Creator
	room.CreatedAt = current.CreatedAt
	room.Code = current.Code
	room.LastActivity = current.LastActivity
	room = room.Touch(d.now())

	err := d.publish(ctx, core.RoomEvent{
		Type:      core.RoomEventUpdate,
		Timestamp: room.LastActivity,
		Room:      room,
	})
	if err != nil {
		return core.Room{}, err
	}
	return room, nil
}

// Delete publishes the removal of a room. Only its creator may delete it.
func (d *Directory) Delete(ctx context.Context, id, requester string) error {
	if d.conn.Status().State != connection.StateReady {
		return core.ErrNotReady
	}
	current, ok := d.GetByID(id)
	if !ok {
		return core.ErrRoomNotFound
	}
	if !strings.EqualFold(strings.TrimSpace(requester), current.Creator) {
		return core.ErrForbidden
	}

	return d.publish(ctx, core.RoomEvent{
		Type:      core.RoomEventDelete,
		Timestamp: core.Millis(d.now()),
		Room:      current,
	})
}

func (d *Directory) publish(ctx context.Context, ev core.RoomEvent) error {
	payload, err := codec.EncodeRoomEvent(ev)
	if err != nil {
		return fmt.Errorf("encode room event: %w", err)
	}
	if err := d.conn.Publish(ctx, d.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish room %s: %w", ev.Type, err)
	}
	return nil
}

// bootstrap subscribes first, replays history into a staging set, commits
// it and only then starts merging the live events buffered meanwhile.
func (d *Directory) bootstrap(ctx context.Context, tr network.Transport) error {
	d.mu.Lock()
	d.epoch++
	epoch := d.epoch
	d.mu.Unlock()

	inbox := make(chan []byte, d.cfg.Buffer)
	sub, err := tr.Subscribe(ctx, d.cfg.Topic, func(p []byte) {
		select {
		case inbox <- p:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe rooms: %w", err)
	}

	staging := newSnapshot()
	end := d.now()
	replayed := 0
	err = tr.Query(ctx, d.cfg.Topic, network.QueryOptions{
		Start:    end.Add(-d.cfg.Lookback),
		End:      end,
		PageSize: d.cfg.PageSize,
	}, func(p []byte) {
		ev, err := codec.DecodeRoomEvent(p)
		if err != nil {
			d.log.Warn().Err(err).Msg("dropping undecodable room event")
			return
		}
		staging.apply(ev)
		replayed++
	})
	if errors.Is(err, network.ErrHistoryUnavailable) {
		d.log.Warn().Msg("room history unavailable, starting from live events")
		err = nil
	}
	if err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("replay rooms: %w", err)
	}

	d.mu.Lock()
	if d.epoch != epoch {
		d.mu.Unlock()
		_ = sub.Unsubscribe()
		return errStale
	}
	d.snap = staging
	if !d.loaded {
		d.loaded = true
		close(d.loadedCh)
	}
	rooms := d.snap.list()
	d.mu.Unlock()

	d.log.Info().Int("events", replayed).Int("rooms", len(rooms)).Msg("room history replayed")
	d.notify(rooms)
	go d.consume(ctx, epoch, inbox, sub)
	return nil
}

func (d *Directory) consume(ctx context.Context, epoch uint64, inbox <-chan []byte, sub network.Subscription) {
	defer func() { _ = sub.Unsubscribe() }()
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-inbox:
			if !d.applyLive(epoch, p) {
				return
			}
		}
	}
}

// applyLive merges one live payload. It returns false once the epoch has
// moved on and the consumer should stop.
func (d *Directory) applyLive(epoch uint64, p []byte) bool {
	ev, err := codec.DecodeRoomEvent(p)
	if err != nil {
		d.log.Warn().Err(err).Msg("dropping undecodable room event")
		return true
	}

	d.mu.Lock()
	if d.epoch != epoch {
		d.mu.Unlock()
		return false
	}
	changed := d.snap.apply(ev)
	var (
		rooms    []core.Room
		removals []func(string)
	)
	if changed {
		rooms = d.snap.list()
		if ev.Type == core.RoomEventDelete {
			for _, fn := range d.removals {
				removals = append(removals, fn)
			}
		}
	}
	d.mu.Unlock()

	if changed {
		d.log.Debug().Str("type", string(ev.Type)).Str("room_id", ev.Room.ID).Msg("room event merged")
		d.notify(rooms)
		for _, fn := range removals {
			fn(ev.Room.ID)
		}
	}
	return true
}

func (d *Directory) reset() {
	d.mu.Lock()
	d.epoch++
	d.snap = newSnapshot()
	if d.loaded {
		d.loaded = false
		d.loadedCh = make(chan struct{})
	}
	d.mu.Unlock()

	d.notify(nil)
}

func (d *Directory) notify(rooms []core.Room) {
	d.notifier.Publish(core.TopicRooms, &core.Event{Kind: core.EventRoomsChanged, Rooms: rooms})
}
