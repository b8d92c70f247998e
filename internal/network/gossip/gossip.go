// Package gossip implements network.Transport over a libp2p host running
// gossipsub. Gossip has no message store, so Query always reports
// network.ErrHistoryUnavailable and state is bootstrapped from live events.
package gossip

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/network"
)

// Config holds gossip transport configuration.
type Config struct {
	ListenAddrs    []string
	BootstrapPeers []string
	// MinPeers is the number of connected peers WaitForPeers waits for.
	MinPeers     int
	DialTimeout  time.Duration
	PollInterval time.Duration
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddrs:  []string{"/ip4/0.0.0.0/tcp/0"},
		MinPeers:     1,
		DialTimeout:  5 * time.Second,
		PollInterval: 250 * time.Millisecond,
	}
}

// Transport is a gossipsub session.
type Transport struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	host   host.Host
	ps     *pubsub.PubSub
	topics map[string]*pubsub.Topic
	subs   map[*subscription]struct{}
}

// New creates an unstarted transport.
func New(cfg Config, logger *zerolog.Logger) *Transport {
	def := DefaultConfig()
	if len(cfg.ListenAddrs) == 0 {
		cfg.ListenAddrs = def.ListenAddrs
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Transport{
		cfg: cfg,
		log: logger.With().Str("component", "gossip").Logger(),
	}
}

// Factory returns a network.Factory building transports from cfg.
func Factory(cfg Config, logger *zerolog.Logger) network.Factory {
	return func() (network.Transport, error) {
		return New(cfg, logger), nil
	}
}

// Start creates the libp2p host, joins gossipsub and dials the bootstrap
// peers. Unreachable bootstrap peers are logged, not fatal.
func (t *Transport) Start(ctx context.Context) error {
	h, err := libp2p.New(libp2p.ListenAddrStrings(t.cfg.ListenAddrs...))
	if err != nil {
		return fmt.Errorf("libp2p host: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ps, err := pubsub.NewGossipSub(runCtx, h)
	if err != nil {
		cancel()
		_ = h.Close()
		return fmt.Errorf("gossipsub: %w", err)
	}

	t.mu.Lock()
	t.ctx = runCtx
	t.cancel = cancel
	t.host = h
	t.ps = ps
	t.topics = make(map[string]*pubsub.Topic)
	t.subs = make(map[*subscription]struct{})
	t.mu.Unlock()

	t.log.Info().Str("peer_id", h.ID().String()).Strs("addrs", t.Addrs()).Msg("libp2p host started")
	t.dialBootstrap(ctx, h)
	return nil
}

func (t *Transport) dialBootstrap(ctx context.Context, h host.Host) {
	for _, addr := range t.cfg.BootstrapPeers {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			t.log.Warn().Err(err).Str("addr", addr).Msg("invalid bootstrap address")
			continue
		}

		dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
		err = h.Connect(dialCtx, *info)
		cancel()
		if err != nil {
			t.log.Debug().Err(err).Str("peer", info.ID.String()).Msg("bootstrap dial failed")
			continue
		}
		t.log.Debug().Str("peer", info.ID.String()).Msg("bootstrap peer connected")
	}
}

// Addrs returns the dialable addresses of the local host including its
// peer id.
func (t *Transport) Addrs() []string {
	t.mu.Lock()
	h := t.host
	t.mu.Unlock()
	if h == nil {
		return nil
	}

	out := make([]string, 0, len(h.Addrs()))
	for _, a := range h.Addrs() {
		out = append(out, a.String()+"/p2p/"+h.ID().String())
	}
	return out
}

func (t *Transport) Stop(_ context.Context) error {
	t.mu.Lock()
	h := t.host
	cancel := t.cancel
	subs := make([]*subscription, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	topics := t.topics
	t.host = nil
	t.ps = nil
	t.cancel = nil
	t.topics = nil
	t.subs = nil
	t.mu.Unlock()

	if h == nil {
		return nil
	}
	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	for _, topic := range topics {
		_ = topic.Close()
	}
	cancel()
	if err := h.Close(); err != nil {
		return fmt.Errorf("close libp2p host: %w", err)
	}
	return nil
}

func (t *Transport) WaitForPeers(ctx context.Context) error {
	t.mu.Lock()
	h := t.host
	t.mu.Unlock()
	if h == nil {
		return network.ErrNotStarted
	}
	if t.cfg.MinPeers <= 0 {
		return nil
	}

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if n := len(h.Network().Peers()); n >= t.cfg.MinPeers {
			t.log.Debug().Int("peers", n).Msg("peers ready")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *Transport) join(name string) (*pubsub.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ps == nil {
		return nil, network.ErrNotStarted
	}
	if topic, ok := t.topics[name]; ok {
		return topic, nil
	}
	topic, err := t.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", name, err)
	}
	t.topics[name] = topic
	return topic, nil
}

func (t *Transport) Publish(ctx context.Context, name string, payload []byte) error {
	topic, err := t.join(name)
	if err != nil {
		return err
	}
	if err := topic.Publish(ctx, payload); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, name string, h network.Handler) (network.Subscription, error) {
	topic, err := t.join(name)
	if err != nil {
		return nil, err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}

	t.mu.Lock()
	if t.ctx == nil {
		t.mu.Unlock()
		sub.Cancel()
		return nil, network.ErrNotStarted
	}
	subCtx, cancel := context.WithCancel(t.ctx)
	s := &subscription{transport: t, sub: sub, cancel: cancel}
	t.subs[s] = struct{}{}
	t.mu.Unlock()

	s.mu.Lock()
	s.stop = context.AfterFunc(ctx, func() { _ = s.Unsubscribe() })
	s.mu.Unlock()
	go t.consume(subCtx, name, sub, h)
	return s, nil
}

func (t *Transport) consume(ctx context.Context, name string, sub *pubsub.Subscription, h network.Handler) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, pubsub.ErrSubscriptionCancelled) {
				t.log.Warn().Err(err).Str("topic", name).Msg("topic consumer stopped")
			}
			return
		}
		if len(msg.Data) == 0 {
			continue
		}
		h(msg.Data)
	}
}

// Query always fails: gossipsub keeps no history.
func (t *Transport) Query(_ context.Context, _ string, _ network.QueryOptions, _ network.Handler) error {
	t.mu.Lock()
	started := t.host != nil
	t.mu.Unlock()
	if !started {
		return network.ErrNotStarted
	}
	return network.ErrHistoryUnavailable
}

type subscription struct {
	transport *Transport
	sub       *pubsub.Subscription
	cancel    context.CancelFunc
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
		s.cancel()
		s.sub.Cancel()
		s.transport.mu.Lock()
		delete(s.transport.subs, s)
		s.transport.mu.Unlock()
	})
	return nil
}
