package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wiresync/internal/backoff"
	"github.com/vovakirdan/wiresync/internal/channel"
	"github.com/vovakirdan/wiresync/internal/config"
	"github.com/vovakirdan/wiresync/internal/connection"
	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/identity"
	applog "github.com/vovakirdan/wiresync/internal/log"
	"github.com/vovakirdan/wiresync/internal/network"
	"github.com/vovakirdan/wiresync/internal/rooms"
	"github.com/vovakirdan/wiresync/internal/store"
	"github.com/vovakirdan/wiresync/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wiresync/internal/transport/http"
)

// App wires together the engine, the gateway and the wallet.
type App struct {
	cfg             config.Config
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	wallet          *identity.Wallet
	conn            *connection.Manager
	rooms           *rooms.Directory
	channels        *channel.Registry
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	factory, err := NewFactory(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:             cfg,
		shutdownTimeout: cfg.HTTP.ShutdownTimeout,
		hub:             core.NewHub(logger),
		wallet:          identity.NewWallet(),
		log:             applog.Component(logger, "app"),
	}

	var channelOpts []channel.Option
	if cfg.Store.Path != "" {
		st, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		a.store = st
		channelOpts = append(channelOpts, channel.WithStore(st))
		a.log.Info().Str("db_path", cfg.Store.Path).Msg("message store initialized")
	}

	a.conn = connection.New(factory, a.wallet, connection.Config{
		PeerTimeout: cfg.Connection.PeerTimeout,
		MaxAttempts: cfg.Connection.MaxAttempts,
		Backoff:     backoff.New(cfg.Connection.BackoffMin, cfg.Connection.BackoffMax),
	}, logger)

	a.rooms = rooms.New(a.conn, rooms.Config{
		Topic:    network.RoomsTopic,
		Lookback: cfg.Rooms.Lookback,
		PageSize: cfg.Rooms.PageSize,
	}, logger, rooms.WithNotifier(a.hub))

	channelOpts = append(channelOpts, channel.WithNotifier(a.hub))
	a.channels = channel.NewRegistry(a.conn, channel.Config{
		Capacity: cfg.Messages.Capacity,
		Lookback: cfg.Messages.Lookback,
		PageSize: cfg.Messages.PageSize,
	}, logger, channelOpts...)

	a.rooms.OnRemoved(func(roomID string) {
		if a.channels.Close(roomID) {
			a.log.Info().Str("room_id", roomID).Msg("closed channel of deleted room")
		}
	})

	var tokens *identity.TokenConfig
	if cfg.Auth.Secret != "" {
		tokens = TokenConfig(cfg.Auth)
	}

	a.server = transporthttp.NewServer(transporthttp.Deps{
		Hub:      a.hub,
		Conn:     a.conn,
		Rooms:    a.rooms,
		Channels: a.channels,
		Wallet:   a.wallet,
		Tokens:   tokens,
	}, cfg.HTTP, logger)

	return a, nil
}

// TokenConfig converts auth settings into a token configuration.
func TokenConfig(cfg config.AuthConfig) *identity.TokenConfig {
	return &identity.TokenConfig{
		Secret:   []byte(cfg.Secret),
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		TTL:      cfg.TTL,
	}
}

// Run starts the hub, the wallet watcher and the HTTP server and blocks
// until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})

	unwatchState := a.conn.OnStateChange(func(st connection.Status) {
		a.hub.Publish(core.TopicConnection, transporthttp.ConnectionEvent(st))
	})
	defer unwatchState()

	changed := make(chan struct{}, 1)
	unwatchWallet := a.wallet.OnChange(func(string) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unwatchWallet()

	g.Go(func() error {
		a.watchWallet(gctx, changed)
		return nil
	})

	if addr := a.cfg.Wallet.Address; addr != "" {
		if err := a.wallet.Connect(addr); err != nil {
			a.log.Warn().Err(err).Msg("connect configured wallet")
		}
	}

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Str("driver", a.cfg.Network.Driver).Msg("starting wiresync gateway")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.cleanup()
	return err
}

// watchWallet follows wallet changes: a new address restarts the session
// and a disconnect tears it down.
func (a *App) watchWallet(ctx context.Context, changed <-chan struct{}) {
	current := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}

		addr := a.wallet.Address()
		if addr == current {
			continue
		}
		if current != "" {
			if err := a.conn.Teardown(ctx); err != nil {
				a.log.Warn().Err(err).Msg("teardown session")
			}
		}
		current = addr
		if addr == "" {
			a.log.Info().Msg("wallet disconnected, session closed")
			continue
		}
		if err := a.conn.Connect(ctx); err != nil {
			a.log.Warn().Err(err).Str("address", addr).Msg("connect session")
			continue
		}
		a.log.Info().Str("address", addr).Msg("wallet connected, session starting")
	}
}

// cleanup closes channels, the session and the store.
func (a *App) cleanup() {
	a.channels.CloseAll()
	a.rooms.Close()

	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	if err := a.conn.Teardown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("failed to tear session down")
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
