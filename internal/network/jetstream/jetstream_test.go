package jetstream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wiresync/internal/network"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	require.NoError(t, err)

	go srv.Start()
	require.True(t, srv.ReadyForConnections(5*time.Second), "nats server not ready")
	t.Cleanup(srv.Shutdown)
	return srv
}

func newReadyTransport(t *testing.T, url string) *Transport {
	t.Helper()
	logger := zerolog.New(nil)
	tr := New(Config{
		URL:          url,
		MemoryStore:  true,
		PollInterval: 20 * time.Millisecond,
		FetchWait:    200 * time.Millisecond,
	}, &logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Start(ctx))
	t.Cleanup(func() { _ = tr.Stop(context.Background()) })
	require.NoError(t, tr.WaitForPeers(ctx))
	return tr
}

type collector struct {
	mu   sync.Mutex
	msgs []string
}

func (c *collector) handle(p []byte) {
	c.mu.Lock()
	c.msgs = append(c.msgs, string(p))
	c.mu.Unlock()
}

func (c *collector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func TestSubjectMapping(t *testing.T) {
	logger := zerolog.New(nil)
	tr := New(Config{SubjectPrefix: "p2p"}, &logger)

	assert.Equal(t, "p2p.wiresync.1.rooms.proto", tr.Subject(network.RoomsTopic))
	assert.Equal(t, "p2p.a_b.c_", tr.Subject("/a.b/c*"))
}

func TestUseBeforeStart(t *testing.T) {
	logger := zerolog.New(nil)
	tr := New(Config{}, &logger)

	assert.ErrorIs(t, tr.WaitForPeers(context.Background()), network.ErrNotStarted)
	assert.ErrorIs(t, tr.Publish(context.Background(), "/t", nil), network.ErrNotStarted)
	assert.ErrorIs(t, tr.Query(context.Background(), "/t", network.QueryOptions{}, func([]byte) {}), network.ErrNotStarted)
}

func TestWaitForPeersTimesOutWithoutServer(t *testing.T) {
	logger := zerolog.New(nil)
	tr := New(Config{URL: "nats://127.0.0.1:1", PollInterval: 10 * time.Millisecond}, &logger)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.WaitForPeers(ctx), context.DeadlineExceeded)
}

func TestPublishSubscribe(t *testing.T) {
	srv := runServer(t)
	a := newReadyTransport(t, srv.ClientURL())
	b := newReadyTransport(t, srv.ClientURL())

	var got collector
	_, err := b.Subscribe(context.Background(), network.RoomsTopic, got.handle)
	require.NoError(t, err)
	// Flush so the interest reaches the server before publishing.
	require.NoError(t, b.nc.Flush())

	require.NoError(t, a.Publish(context.Background(), network.RoomsTopic, []byte("hello")))

	require.Eventually(t, func() bool {
		return len(got.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"hello"}, got.all())
}

func TestQueryReplaysInOrder(t *testing.T) {
	srv := runServer(t)
	tr := newReadyTransport(t, srv.ClientURL())
	ctx := context.Background()

	topic := network.ChatTopic("room-1")
	for _, body := range []string{"a", "b", "c"} {
		require.NoError(t, tr.Publish(ctx, topic, []byte(body)))
	}
	require.NoError(t, tr.Publish(ctx, network.ChatTopic("room-2"), []byte("other")))

	var got collector
	err := tr.Query(ctx, topic, network.QueryOptions{
		Start:    time.Now().Add(-time.Hour),
		End:      time.Now().Add(time.Hour),
		PageSize: 2,
	}, got.handle)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got.all())
}

func TestQueryHonoursWindow(t *testing.T) {
	srv := runServer(t)
	tr := newReadyTransport(t, srv.ClientURL())
	ctx := context.Background()
	topic := network.ChatTopic("room-1")

	require.NoError(t, tr.Publish(ctx, topic, []byte("old")))
	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	require.NoError(t, tr.Publish(ctx, topic, []byte("new")))

	var got collector
	require.NoError(t, tr.Query(ctx, topic, network.QueryOptions{Start: start}, got.handle))
	assert.Equal(t, []string{"new"}, got.all())

	var none collector
	require.NoError(t, tr.Query(ctx, topic, network.QueryOptions{Start: time.Now().Add(time.Hour)}, none.handle))
	assert.Empty(t, none.all())
}

func TestQueryEmptyTopic(t *testing.T) {
	srv := runServer(t)
	tr := newReadyTransport(t, srv.ClientURL())

	var got collector
	require.NoError(t, tr.Query(context.Background(), network.ChatTopic("empty"), network.QueryOptions{}, got.handle))
	assert.Empty(t, got.all())
}

func TestUnsubscribeOnContextDone(t *testing.T) {
	srv := runServer(t)
	tr := newReadyTransport(t, srv.ClientURL())

	ctx, cancel := context.WithCancel(context.Background())
	var got collector
	sub, err := tr.Subscribe(ctx, network.RoomsTopic, got.handle)
	require.NoError(t, err)
	cancel()

	s := sub.(*subscription)
	require.Eventually(t, func() bool { return !s.sub.IsValid() }, time.Second, 10*time.Millisecond)
	assert.NoError(t, sub.Unsubscribe())
}
