// Package channel keeps the bounded message window of one room, merged from
// a historical replay and live delivery on the room's chat topic.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/cache"
	"github.com/vovakirdan/wiresync/internal/codec"
	"github.com/vovakirdan/wiresync/internal/connection"
	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/network"
	"github.com/vovakirdan/wiresync/internal/store"
)

// ErrClosed is returned by Send on a closed channel.
var ErrClosed = errors.New("channel closed")

// Conn is the part of connection.Manager a channel depends on.
type Conn interface {
	Status() connection.Status
	OnReady(h connection.Hook) func()
	OnReset(fn func()) func()
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Config holds channel settings.
type Config struct {
	// Capacity is the number of most recent messages kept.
	Capacity int
	Lookback time.Duration
	PageSize int
	// Buffer is the number of live messages held while the replay runs.
	Buffer int
}

// DefaultConfig returns the default channel configuration.
func DefaultConfig() Config {
	return Config{
		Capacity: 100,
		Lookback: 24 * time.Hour,
		PageSize: 100,
		Buffer:   256,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = def.Capacity
	}
	if c.Lookback <= 0 {
		c.Lookback = def.Lookback
	}
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.Buffer <= 0 {
		c.Buffer = def.Buffer
	}
	return c
}

// Option configures a Channel.
type Option func(*Channel)

// WithStore writes the window through to s and seeds it from s on open.
func WithStore(s store.MessageStore) Option {
	return func(c *Channel) { c.store = s }
}

// WithNotifier publishes window changes to n.
func WithNotifier(n core.Notifier) Option {
	return func(c *Channel) { c.notifier = n }
}

// WithClock overrides the clock used for timestamps and the replay window.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

type window = cache.Bounded[core.ChatMessage, core.MessageKey]

// Channel is the sole writer of one room's message window.
type Channel struct {
	roomID   string
	topic    string
	conn     Conn
	cfg      Config
	log      zerolog.Logger
	notifier core.Notifier
	store    store.MessageStore
	now      func() time.Time

	// ctx lives until Close and bounds every subscription of the channel.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	win    *window
	epoch  uint64
	closed bool

	closeOnce  sync.Once
	unregister []func()
}

// New opens the channel of roomID. It bootstraps on every Ready, including
// the current session when conn is already Ready.
func New(roomID string, conn Conn, cfg Config, logger *zerolog.Logger, opts ...Option) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		roomID:   roomID,
		topic:    network.ChatTopic(roomID),
		conn:     conn,
		cfg:      cfg.withDefaults(),
		log:      logger.With().Str("component", "channel").Str("room_id", roomID).Logger(),
		notifier: core.NopNotifier{},
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.win = c.newWindow()
	c.seed(ctx, c.win)

	c.unregister = append(c.unregister, conn.OnReady(c.bootstrap), conn.OnReset(c.reset))
	return c
}

// RoomID returns the room the channel is scoped to.
func (c *Channel) RoomID() string { return c.roomID }

// History returns the window in ascending timestamp order.
func (c *Channel) History() []core.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.win.All()
}

// Send publishes a message and appends it locally. The live echo of the
// message is dropped as a duplicate.
func (c *Channel) Send(ctx context.Context, sender, content string) (core.ChatMessage, error) {
	if c.ctx.Err() != nil {
		return core.ChatMessage{}, ErrClosed
	}
	if c.conn.Status().State != connection.StateReady {
		return core.ChatMessage{}, core.ErrNotReady
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return core.ChatMessage{}, core.ErrEmptyMessage
	}
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return core.ChatMessage{}, core.ErrIdentityAbsent
	}

	msg := core.NewChatMessage(c.roomID, sender, content, c.now())
	if err := c.conn.Publish(ctx, c.topic, codec.EncodeChatMessage(msg)); err != nil {
		return core.ChatMessage{}, fmt.Errorf("publish message: %w", err)
	}
	c.insert(msg)
	return msg, nil
}

// Clear empties the window and its persisted copy. Nothing is published.
func (c *Channel) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.win.Clear()
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.ClearMessages(ctx, c.roomID); err != nil {
			return fmt.Errorf("clear stored messages: %w", err)
		}
	}
	c.notifyHistory(nil)
	return nil
}

// Close stops every subscription of the channel and drops the window.
// The persisted copy is kept for the next open.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		for _, fn := range c.unregister {
			fn()
		}

		c.mu.Lock()
		c.epoch++
		c.closed = true
		c.win.Clear()
		c.mu.Unlock()
	})
}

// insert is the single merge path for one inbound or sent message.
func (c *Channel) insert(msg core.ChatMessage) bool {
	if msg.RoomID != c.roomID {
		c.log.Debug().Str("message_room", msg.RoomID).Msg("dropping message for another room")
		return false
	}

	c.mu.Lock()
	if c.closed || !c.win.Add(msg) {
		c.mu.Unlock()
		return false
	}
	c.persist(msg)
	c.mu.Unlock()

	c.notifier.Publish(core.RoomTopic(c.roomID), &core.Event{
		Kind:    core.EventMessage,
		RoomID:  c.roomID,
		Message: msg,
	})
	return true
}

// bootstrap subscribes first, replays the lookback window into a staging
// window, commits it and only then merges the live messages buffered
// meanwhile.
func (c *Channel) bootstrap(ctx context.Context, tr network.Transport) error {
	ctx, release := c.bind(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		release()
		return nil
	}
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	inbox := make(chan []byte, c.cfg.Buffer)
	sub, err := tr.Subscribe(ctx, c.topic, func(p []byte) {
		select {
		case inbox <- p:
		case <-ctx.Done():
		}
	})
	if err != nil {
		release()
		return c.hookErr(fmt.Errorf("subscribe chat: %w", err))
	}

	staging := c.newWindow()
	c.seed(ctx, staging)
	end := c.now()
	replayed := 0
	err = tr.Query(ctx, c.topic, network.QueryOptions{
		Start:    end.Add(-c.cfg.Lookback),
		End:      end,
		PageSize: c.cfg.PageSize,
	}, func(p []byte) {
		msg, ok := c.decode(p)
		if !ok {
			return
		}
		staging.Add(msg)
		replayed++
	})
	if errors.Is(err, network.ErrHistoryUnavailable) {
		c.log.Warn().Msg("chat history unavailable, starting from live messages")
		err = nil
	}
	if err != nil {
		_ = sub.Unsubscribe()
		release()
		return c.hookErr(fmt.Errorf("replay chat: %w", err))
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		_ = sub.Unsubscribe()
		release()
		return nil
	}
	// Keep what was sent while the replay ran.
	for _, m := range c.win.All() {
		staging.Add(m)
	}
	c.win = staging
	msgs := c.win.All()
	for _, m := range msgs {
		c.persist(m)
	}
	c.mu.Unlock()

	c.log.Info().Int("replayed", replayed).Int("window", len(msgs)).Msg("chat history replayed")
	c.notifyHistory(msgs)
	go c.consume(ctx, release, epoch, inbox, sub)
	return nil
}

func (c *Channel) consume(ctx context.Context, release func(), epoch uint64, inbox <-chan []byte, sub network.Subscription) {
	defer release()
	defer func() { _ = sub.Unsubscribe() }()
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-inbox:
			msg, ok := c.decode(p)
			if !ok {
				continue
			}
			c.mu.Lock()
			stale := c.epoch != epoch
			c.mu.Unlock()
			if stale {
				return
			}
			c.insert(msg)
		}
	}
}

func (c *Channel) reset() {
	c.mu.Lock()
	c.epoch++
	c.win.Clear()
	c.mu.Unlock()

	c.notifyHistory(nil)
}

// bind derives a context ending with either the session or the channel.
func (c *Channel) bind(session context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(session)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// hookErr hides failures caused by closing the channel from the connection
// manager so they do not count as failed attempts.
func (c *Channel) hookErr(err error) error {
	if c.ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Channel) decode(p []byte) (core.ChatMessage, bool) {
	msg, err := codec.DecodeChatMessage(p)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping undecodable chat message")
		return core.ChatMessage{}, false
	}
	if msg.RoomID != c.roomID {
		c.log.Debug().Str("message_room", msg.RoomID).Msg("dropping message for another room")
		return core.ChatMessage{}, false
	}
	return msg, true
}

func (c *Channel) newWindow() *window {
	return cache.NewBounded(c.cfg.Capacity,
		func(m core.ChatMessage) time.Time { return m.Timestamp },
		core.ChatMessage.Key,
	)
}

// seed loads the persisted window into w.
func (c *Channel) seed(ctx context.Context, w *window) {
	if c.store == nil {
		return
	}
	stored, err := c.store.ListMessages(ctx, c.roomID, c.cfg.Capacity)
	if err != nil {
		c.log.Warn().Err(err).Msg("load stored messages")
		return
	}
	for _, m := range stored {
		w.Add(fromStored(m))
	}
}

// persist writes msg through to the store. Callers hold c.mu so writes
// follow window order.
func (c *Channel) persist(msg core.ChatMessage) {
	if c.store == nil {
		return
	}
	inserted, err := c.store.SaveMessage(c.ctx, toStored(msg))
	if err != nil {
		c.log.Warn().Err(err).Msg("store message")
		return
	}
	if !inserted {
		return
	}
	if err := c.store.TrimMessages(c.ctx, c.roomID, c.cfg.Capacity); err != nil {
		c.log.Warn().Err(err).Msg("trim stored messages")
	}
}

func (c *Channel) notifyHistory(msgs []core.ChatMessage) {
	c.notifier.Publish(core.RoomTopic(c.roomID), &core.Event{
		Kind:     core.EventHistory,
		RoomID:   c.roomID,
		Messages: msgs,
	})
}

func toStored(m core.ChatMessage) *store.Message {
	return &store.Message{
		RoomID:  m.RoomID,
		Sender:  m.Sender,
		Content: m.Content,
		SentAt:  m.Timestamp,
	}
}

func fromStored(m *store.Message) core.ChatMessage {
	return core.ChatMessage{
		Timestamp: m.SentAt,
		Sender:    m.Sender,
		Content:   m.Content,
		RoomID:    m.RoomID,
	}
}
