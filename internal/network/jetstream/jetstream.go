// Package jetstream implements network.Transport on top of NATS JetStream.
// Live delivery uses core NATS subscriptions; history comes from a stream
// that captures every topic under the configured subject prefix.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/network"
)

// Config holds NATS JetStream transport configuration.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	// MaxAge bounds how long history is retained by the stream.
	MaxAge      time.Duration
	MemoryStore bool
	// PollInterval paces WaitForPeers while the server is unreachable.
	PollInterval time.Duration
	// FetchWait bounds a single history page fetch.
	FetchWait time.Duration
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Stream:        "WIRESYNC",
		SubjectPrefix: "wiresync",
		MaxAge:        7 * 24 * time.Hour,
		PollInterval:  250 * time.Millisecond,
		FetchWait:     2 * time.Second,
	}
}

// Transport is a JetStream-backed network session.
type Transport struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
}

// New creates an unstarted transport.
func New(cfg Config, logger *zerolog.Logger) *Transport {
	def := DefaultConfig()
	if cfg.Stream == "" {
		cfg.Stream = def.Stream
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = def.SubjectPrefix
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = def.FetchWait
	}
	return &Transport{
		cfg: cfg,
		log: logger.With().Str("component", "jetstream").Logger(),
	}
}

// Factory returns a network.Factory building transports from cfg.
func Factory(cfg Config, logger *zerolog.Logger) network.Factory {
	return func() (network.Transport, error) {
		return New(cfg, logger), nil
	}
}

// Subject maps a topic path onto a NATS subject under the prefix.
func (t *Transport) Subject(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	for i, p := range parts {
		p = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(p)
		if p == "" {
			p = "_"
		}
		parts[i] = p
	}
	return t.cfg.SubjectPrefix + "." + strings.Join(parts, ".")
}

// Start opens the NATS connection. The server does not have to be
// reachable yet; WaitForPeers reports when it is.
func (t *Transport) Start(_ context.Context) error {
	nc, err := nats.Connect(t.cfg.URL,
		nats.Name("wiresync"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}

	t.mu.Lock()
	t.nc = nc
	t.js = js
	t.mu.Unlock()

	t.log.Debug().Str("url", t.cfg.URL).Msg("nats connection opened")
	return nil
}

func (t *Transport) Stop(_ context.Context) error {
	t.mu.Lock()
	nc := t.nc
	t.nc = nil
	t.js = nil
	t.stream = nil
	t.mu.Unlock()

	if nc != nil {
		nc.Close()
		t.log.Debug().Msg("nats connection closed")
	}
	return nil
}

// WaitForPeers blocks until the server accepts the history stream
// definition.
func (t *Transport) WaitForPeers(ctx context.Context) error {
	t.mu.Lock()
	js := t.js
	t.mu.Unlock()
	if js == nil {
		return network.ErrNotStarted
	}

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		stream, err := t.ensureStream(ctx, js)
		if err == nil {
			t.mu.Lock()
			t.stream = stream
			t.mu.Unlock()
			return nil
		}
		t.log.Debug().Err(err).Msg("jetstream not ready")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *Transport) ensureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	if _, err := js.AccountInfo(ctx); err != nil {
		return nil, fmt.Errorf("account info: %w", err)
	}

	storage := jetstream.FileStorage
	if t.cfg.MemoryStore {
		storage = jetstream.MemoryStorage
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        t.cfg.Stream,
		Description: "wiresync room and chat events",
		Subjects:    []string{t.cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      t.cfg.MaxAge,
		Storage:     storage,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	return stream, nil
}

func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.Lock()
	js := t.js
	t.mu.Unlock()
	if js == nil {
		return network.ErrNotStarted
	}

	if _, err := js.Publish(ctx, t.Subject(topic), payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, topic string, h network.Handler) (network.Subscription, error) {
	t.mu.Lock()
	nc := t.nc
	t.mu.Unlock()
	if nc == nil {
		return nil, network.ErrNotStarted
	}

	sub, err := nc.Subscribe(t.Subject(topic), func(m *nats.Msg) {
		h(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	s := &subscription{sub: sub}
	s.mu.Lock()
	s.stop = context.AfterFunc(ctx, func() { _ = s.Unsubscribe() })
	s.mu.Unlock()
	return s, nil
}

// Query replays stored messages on topic published within the window,
// fetching PageSize messages at a time through an ordered consumer.
func (t *Transport) Query(ctx context.Context, topic string, opts network.QueryOptions, h network.Handler) error {
	t.mu.Lock()
	stream := t.stream
	t.mu.Unlock()
	if stream == nil {
		return network.ErrNotStarted
	}

	subject := t.Subject(topic)
	info, err := stream.Info(ctx, jetstream.WithSubjectFilter(subject))
	if err != nil {
		return fmt.Errorf("stream info: %w", err)
	}
	if info.State.Subjects[subject] == 0 {
		return nil
	}
	if !opts.Start.IsZero() && info.State.LastTime.Before(opts.Start) {
		return nil
	}

	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if !opts.Start.IsZero() {
		start := opts.Start
		cfg.DeliverPolicy = jetstream.DeliverByStartTimePolicy
		cfg.OptStartTime = &start
	}
	cons, err := stream.OrderedConsumer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create ordered consumer: %w", err)
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := cons.Fetch(pageSize, jetstream.FetchMaxWait(t.cfg.FetchWait))
		if err != nil {
			return fmt.Errorf("fetch %s: %w", topic, err)
		}

		received := 0
		done := false
		for msg := range batch.Messages() {
			received++
			if done {
				continue
			}
			meta, err := msg.Metadata()
			if err != nil {
				t.log.Warn().Err(err).Str("topic", topic).Msg("history message without metadata")
				continue
			}
			if !opts.End.IsZero() && meta.Timestamp.After(opts.End) {
				done = true
				continue
			}
			h(msg.Data())
			if meta.NumPending == 0 {
				done = true
			}
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
			return fmt.Errorf("fetch %s: %w", topic, err)
		}
		if done || received == 0 {
			return nil
		}
	}
}

type subscription struct {
	sub  *nats.Subscription
	mu   sync.Mutex
	stop func() bool
	once sync.Once
	err  error
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.mu.Lock()
		stop := s.stop
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		err := s.sub.Unsubscribe()
		if err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			s.err = err
		}
	})
	return s.err
}
