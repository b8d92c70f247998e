// Package memory provides an in-process publish/subscribe network with a
// message history. Transports created from the same Bus see each other's
// messages, which makes it the offline driver and the test double for the
// engine.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vovakirdan/wiresync/internal/network"
)

type record struct {
	at      time.Time
	payload []byte
}

// Bus is the shared medium behind memory transports.
type Bus struct {
	now func() time.Time

	mu      sync.Mutex
	history map[string][]record
	subs    map[string]map[uint64]network.Handler
	nextID  uint64
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithClock overrides the clock used to stamp published messages.
func WithClock(now func() time.Time) BusOption {
	return func(b *Bus) { b.now = now }
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		now:     time.Now,
		history: make(map[string][]record),
		subs:    make(map[string]map[uint64]network.Handler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// History returns copies of every payload published on topic, oldest first.
func (b *Bus) History(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([][]byte, 0, len(b.history[topic]))
	for _, r := range b.history[topic] {
		out = append(out, slices.Clone(r.payload))
	}
	return out
}

func (b *Bus) publish(topic string, payload []byte) {
	b.mu.Lock()
	b.history[topic] = append(b.history[topic], record{at: b.now(), payload: payload})
	handlers := make([]network.Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(slices.Clone(payload))
	}
}

func (b *Bus) subscribe(topic string, h network.Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]network.Handler)
	}
	b.subs[topic][id] = h
	return id
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subs[topic], id)
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

func (b *Bus) query(topic string, opts network.QueryOptions) []record {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]record, 0, len(b.history[topic]))
	for _, r := range b.history[topic] {
		if !opts.Start.IsZero() && r.at.Before(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && r.at.After(opts.End) {
			continue
		}
		out = append(out, record{at: r.at, payload: slices.Clone(r.payload)})
	}
	return out
}

// Option configures a Transport.
type Option func(*Transport)

// WithPeersGate makes WaitForPeers block until gate is closed.
// The wait still honours ctx.
func WithPeersGate(gate <-chan struct{}) Option {
	return func(t *Transport) { t.gate = gate }
}

// WithStartError makes Start fail with err.
func WithStartError(err error) Option {
	return func(t *Transport) { t.startErr = err }
}

// WithoutHistory makes Query report network.ErrHistoryUnavailable.
func WithoutHistory() Option {
	return func(t *Transport) { t.noHistory = true }
}

// Transport is one endpoint attached to a Bus.
type Transport struct {
	bus       *Bus
	gate      <-chan struct{}
	startErr  error
	noHistory bool

	mu      sync.Mutex
	started bool
	subs    map[uint64]*subscription
}

// NewTransport attaches a new endpoint to the bus.
func (b *Bus) NewTransport(opts ...Option) *Transport {
	t := &Transport{
		bus:  b,
		subs: make(map[uint64]*subscription),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Factory returns a network.Factory producing endpoints on this bus.
func (b *Bus) Factory(opts ...Option) network.Factory {
	return func() (network.Transport, error) {
		return b.NewTransport(opts...), nil
	}
}

func (t *Transport) Start(_ context.Context) error {
	if t.startErr != nil {
		return t.startErr
	}
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) Stop(_ context.Context) error {
	t.mu.Lock()
	subs := make([]*subscription, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.started = false
	t.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return nil
}

func (t *Transport) WaitForPeers(ctx context.Context) error {
	if !t.isStarted() {
		return network.ErrNotStarted
	}
	if t.gate == nil {
		return nil
	}
	select {
	case <-t.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) Publish(_ context.Context, topic string, payload []byte) error {
	if !t.isStarted() {
		return network.ErrNotStarted
	}
	t.bus.publish(topic, slices.Clone(payload))
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, topic string, h network.Handler) (network.Subscription, error) {
	if !t.isStarted() {
		return nil, network.ErrNotStarted
	}

	id := t.bus.subscribe(topic, h)
	s := &subscription{transport: t, topic: topic, id: id}
	s.mu.Lock()
	s.stop = context.AfterFunc(ctx, func() { _ = s.Unsubscribe() })
	s.mu.Unlock()

	t.mu.Lock()
	t.subs[id] = s
	t.mu.Unlock()
	return s, nil
}

func (t *Transport) Query(ctx context.Context, topic string, opts network.QueryOptions, h network.Handler) error {
	if !t.isStarted() {
		return network.ErrNotStarted
	}
	if t.noHistory {
		return network.ErrHistoryUnavailable
	}
	for _, r := range t.bus.query(topic, opts) {
		if err := ctx.Err(); err != nil {
			return err
		}
		h(r.payload)
	}
	return nil
}

func (t *Transport) isStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

type subscription struct {
	transport *Transport
	topic     string
	id        uint64
	mu        sync.Mutex
	stop      func() bool
	once      sync.Once
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.mu.Lock()
		stop := s.stop
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		s.transport.bus.unsubscribe(s.topic, s.id)
		s.transport.mu.Lock()
		delete(s.transport.subs, s.id)
		s.transport.mu.Unlock()
	})
	return nil
}
