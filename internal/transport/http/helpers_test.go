package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wiresync/internal/channel"
	"github.com/vovakirdan/wiresync/internal/config"
	"github.com/vovakirdan/wiresync/internal/connection"
	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/identity"
	"github.com/vovakirdan/wiresync/internal/network/memory"
	"github.com/vovakirdan/wiresync/internal/proto"
	"github.com/vovakirdan/wiresync/internal/rooms"
)

const testAddress = "0xABC123"

type testEnv struct {
	hub      *core.Hub
	wallet   *identity.Wallet
	conn     *connection.Manager
	dir      *rooms.Directory
	channels *channel.Registry
	server   *httptest.Server
}

type envOption func(*Deps, *config.HTTPConfig)

func withTokens(tokens *identity.TokenConfig) envOption {
	return func(d *Deps, _ *config.HTTPConfig) { d.Tokens = tokens }
}

func withSendLimit(rate float64, burst int) envOption {
	return func(_ *Deps, c *config.HTTPConfig) {
		c.SendRate = rate
		c.SendBurst = burst
	}
}

// newTestEnv wires a gateway over an in-memory network.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	logger := zerolog.New(nil)

	hub := core.NewHub(&logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	bus := memory.NewBus()
	wallet := identity.NewWallet()
	conn := connection.New(bus.Factory(), wallet, connection.DefaultConfig(), &logger)
	t.Cleanup(func() { _ = conn.Teardown(context.Background()) })

	dir := rooms.New(conn, rooms.DefaultConfig(), &logger, rooms.WithNotifier(hub))
	t.Cleanup(dir.Close)
	channels := channel.NewRegistry(conn, channel.DefaultConfig(), &logger, channel.WithNotifier(hub))
	t.Cleanup(channels.CloseAll)

	deps := Deps{
		Hub:      hub,
		Conn:     conn,
		Rooms:    dir,
		Channels: channels,
		Wallet:   wallet,
	}
	cfg := config.Default().HTTP
	cfg.SendRate = 0
	for _, opt := range opts {
		opt(&deps, &cfg)
	}

	ts := httptest.NewServer(NewHandler(deps, cfg, &logger))
	t.Cleanup(ts.Close)

	return &testEnv{hub: hub, wallet: wallet, conn: conn, dir: dir, channels: channels, server: ts}
}

// connect connects the wallet and waits for a Ready session.
func (e *testEnv) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, e.wallet.Connect(testAddress))
	require.NoError(t, e.conn.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return e.conn.Status().State == connection.StateReady
	}, 2*time.Second, 5*time.Millisecond)
}

// do sends a JSON request and returns the status and raw body.
func (e *testEnv) do(t *testing.T, method, path string, body any, token string) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (e *testEnv) listRooms(t *testing.T) []proto.Room {
	t.Helper()
	status, body := e.do(t, http.MethodGet, "/api/rooms", nil, "")
	require.Equal(t, http.StatusOK, status)
	var out []proto.Room
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

// createRoom creates a room and waits until it has been merged.
func (e *testEnv) createRoom(t *testing.T, name string) proto.Room {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/rooms", map[string]string{"name": name}, "")
	require.Equal(t, http.StatusCreated, status, string(body))
	var room proto.Room
	require.NoError(t, json.Unmarshal(body, &room))
	require.Eventually(t, func() bool {
		_, ok := e.dir.GetByID(room.ID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return room
}

func decodeError(t *testing.T, body []byte) ErrorResponse {
	t.Helper()
	var out ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}
