package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	logger := zerolog.New(nil)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, resolved, err := Load(&logger, path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	def := Default()
	assert.Equal(t, def.HTTP, cfg.HTTP)
	assert.Equal(t, def.Connection, cfg.Connection)
	assert.Equal(t, def.Messages, cfg.Messages)
	assert.Equal(t, def.Network.Driver, cfg.Network.Driver)
	assert.Equal(t, def.Network.Gossip.ListenAddrs, cfg.Network.Gossip.ListenAddrs)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLoadPrecedence(t *testing.T) {
	logger := zerolog.New(nil)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
log_level: debug
network:
  driver: gossip
  gossip:
    min_peers: 3
messages:
  capacity: 50
  lookback: 2h
http:
  addr: 127.0.0.1:9000
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	t.Setenv("WIRESYNC_HTTP_ADDR", "127.0.0.1:9100")
	t.Setenv("WIRESYNC_NETWORK_GOSSIP_BOOTSTRAP_PEERS", "/ip4/10.0.0.1/tcp/4001/p2p/a,/ip4/10.0.0.2/tcp/4001/p2p/b")
	t.Setenv("WIRESYNC_CONNECTION_PEER_TIMEOUT", "45s")

	cfg, _, err := Load(&logger, path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DriverGossip, cfg.Network.Driver)
	assert.Equal(t, 3, cfg.Network.Gossip.MinPeers)
	assert.Equal(t, 50, cfg.Messages.Capacity)
	assert.Equal(t, 2*time.Hour, cfg.Messages.Lookback)
	assert.Equal(t, "127.0.0.1:9100", cfg.HTTP.Addr)
	assert.Equal(t, 45*time.Second, cfg.Connection.PeerTimeout)
	assert.Len(t, cfg.Network.Gossip.BootstrapPeers, 2)

	// Untouched keys keep their defaults.
	assert.Equal(t, Default().Rooms, cfg.Rooms)
	assert.Equal(t, Default().Network.JetStream, cfg.Network.JetStream)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	logger := zerolog.New(nil)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("network: [unclosed"), 0o600))

	_, _, err := Load(&logger, path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := Default()
	bad.Network.Driver = "carrier-pigeon"
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Connection.BackoffMin = time.Minute
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Messages.Capacity = 0
	assert.Error(t, bad.Validate())
}

func TestUpdateFrom(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{
		HTTP:    HTTPConfig{Addr: ":9999"},
		Network: NetworkConfig{Driver: DriverMemory},
		Wallet:  WalletConfig{Address: "0xABC"},
	})

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, DriverMemory, cfg.Network.Driver)
	assert.Equal(t, "0xABC", cfg.Wallet.Address)
	assert.Equal(t, Default().HTTP.ShutdownTimeout, cfg.HTTP.ShutdownTimeout)
}
