package app

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wiresync/internal/config"
	"github.com/vovakirdan/wiresync/internal/connection"
	"github.com/vovakirdan/wiresync/internal/network/gossip"
	"github.com/vovakirdan/wiresync/internal/network/jetstream"
	"github.com/vovakirdan/wiresync/internal/network/memory"
)

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.ShutdownTimeout = time.Second
	cfg.Network.Driver = config.DriverMemory
	cfg.Store.Path = filepath.Join(t.TempDir(), "wiresync.db")
	return cfg
}

func startApp(t *testing.T, cfg config.Config) (*App, func() error) {
	t.Helper()
	logger := zerolog.New(nil)
	a, err := New(cfg, &logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	stop := func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("app did not stop")
			return nil
		}
	}
	return a, stop
}

func TestNewFactory(t *testing.T) {
	logger := zerolog.New(nil)

	for _, driver := range []string{config.DriverJetStream, config.DriverGossip, config.DriverMemory} {
		cfg := config.Default()
		cfg.Network.Driver = driver
		factory, err := NewFactory(cfg, &logger)
		require.NoError(t, err, driver)

		tr, err := factory()
		require.NoError(t, err, driver)
		switch driver {
		case config.DriverJetStream:
			assert.IsType(t, &jetstream.Transport{}, tr)
		case config.DriverGossip:
			assert.IsType(t, &gossip.Transport{}, tr)
		case config.DriverMemory:
			assert.IsType(t, &memory.Transport{}, tr)
		}
	}

	bad := config.Default()
	bad.Network.Driver = "carrier-pigeon"
	_, err := NewFactory(bad, &logger)
	assert.Error(t, err)
}

func TestHistoryRetentionCoversLongestLookback(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, 7*24*time.Hour, HistoryRetention(cfg))

	cfg.Messages.Lookback = 30 * 24 * time.Hour
	assert.Equal(t, 30*24*time.Hour, HistoryRetention(cfg))

	cfg.Rooms.Lookback = time.Hour
	cfg.Messages.Lookback = 2 * time.Hour
	assert.Equal(t, 2*time.Hour, HistoryRetention(cfg))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	logger := zerolog.New(nil)
	cfg := memoryConfig(t)
	cfg.Messages.Capacity = 0

	_, err := New(cfg, &logger)
	assert.Error(t, err)
}

func TestConfiguredWalletConnects(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Wallet.Address = "0xfeed"
	a, stop := startApp(t, cfg)

	require.Eventually(t, func() bool {
		return a.conn.Status().State == connection.StateReady
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, a.rooms.Loaded())

	require.NoError(t, stop())
	assert.Equal(t, connection.StateDisconnected, a.conn.Status().State)
}

func TestWalletDrivesSession(t *testing.T) {
	a, stop := startApp(t, memoryConfig(t))
	defer func() { require.NoError(t, stop()) }()

	assert.Equal(t, connection.StateDisconnected, a.conn.Status().State)

	require.NoError(t, a.wallet.Connect("0xabc"))
	require.Eventually(t, func() bool {
		return a.conn.Status().State == connection.StateReady
	}, 2*time.Second, 10*time.Millisecond)

	room, err := a.rooms.Create(context.Background(), "lobby", a.wallet.Address())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := a.rooms.GetByID(room.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	ch, err := a.channels.Open(room.ID)
	require.NoError(t, err)
	_, err = ch.Send(context.Background(), a.wallet.Address(), "hello")
	require.NoError(t, err)
	require.Len(t, ch.History(), 1)

	a.wallet.Disconnect()
	require.Eventually(t, func() bool {
		return a.conn.Status().State == connection.StateDisconnected && len(a.rooms.List()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.wallet.Connect("0xdef"))
	require.Eventually(t, func() bool {
		_, ok := a.rooms.GetByID(room.ID)
		return ok && a.conn.Status().State == connection.StateReady
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDeletedRoomClosesChannel(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Wallet.Address = "0xabc"
	a, stop := startApp(t, cfg)
	defer func() { require.NoError(t, stop()) }()

	require.Eventually(t, func() bool {
		return a.conn.Status().State == connection.StateReady
	}, 2*time.Second, 10*time.Millisecond)

	room, err := a.rooms.Create(context.Background(), "short-lived", "0xabc")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := a.rooms.GetByID(room.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	_, err = a.channels.Open(room.ID)
	require.NoError(t, err)
	require.NoError(t, a.rooms.Delete(context.Background(), room.ID, "0xABC"))

	require.Eventually(t, func() bool {
		_, ok := a.channels.Get(room.ID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerHandlerServesHealth(t *testing.T) {
	a, stop := startApp(t, memoryConfig(t))
	defer func() { require.NoError(t, stop()) }()

	srv := httptest.NewServer(a.server.Handler)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}
