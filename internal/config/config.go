package config

import (
	"fmt"
	"time"
)

// Network drivers.
const (
	DriverJetStream = "jetstream"
	DriverGossip    = "gossip"
	DriverMemory    = "memory"
)

// Config holds wiresync configuration values.
type Config struct {
	LogLevel   string           `mapstructure:"log_level" yaml:"log_level"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
	Auth       AuthConfig       `mapstructure:"auth" yaml:"auth"`
	Network    NetworkConfig    `mapstructure:"network" yaml:"network"`
	Connection ConnectionConfig `mapstructure:"connection" yaml:"connection"`
	Rooms      RoomsConfig      `mapstructure:"rooms" yaml:"rooms"`
	Messages   MessagesConfig   `mapstructure:"messages" yaml:"messages"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Wallet     WalletConfig     `mapstructure:"wallet" yaml:"wallet"`
}

// HTTPConfig configures the local gateway.
type HTTPConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// SendRate is the number of chat messages per second a WebSocket
	// connection may send; SendBurst is the bucket size.
	SendRate  float64 `mapstructure:"send_rate" yaml:"send_rate"`
	SendBurst int     `mapstructure:"send_burst" yaml:"send_burst"`
}

// AuthConfig configures gateway session tokens. An empty secret disables
// authentication.
type AuthConfig struct {
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	Issuer   string        `mapstructure:"issuer" yaml:"issuer"`
	Audience string        `mapstructure:"audience" yaml:"audience"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// NetworkConfig selects and configures the publish/subscribe network.
type NetworkConfig struct {
	Driver    string          `mapstructure:"driver" yaml:"driver"`
	JetStream JetStreamConfig `mapstructure:"jetstream" yaml:"jetstream"`
	Gossip    GossipConfig    `mapstructure:"gossip" yaml:"gossip"`
}

// JetStreamConfig configures the NATS JetStream driver.
type JetStreamConfig struct {
	URL           string `mapstructure:"url" yaml:"url"`
	Stream        string `mapstructure:"stream" yaml:"stream"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	MemoryStore   bool   `mapstructure:"memory_store" yaml:"memory_store"`
}

// GossipConfig configures the libp2p gossipsub driver.
type GossipConfig struct {
	ListenAddrs    []string      `mapstructure:"listen_addrs" yaml:"listen_addrs"`
	BootstrapPeers []string      `mapstructure:"bootstrap_peers" yaml:"bootstrap_peers"`
	MinPeers       int           `mapstructure:"min_peers" yaml:"min_peers"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// ConnectionConfig configures the connection lifecycle.
type ConnectionConfig struct {
	PeerTimeout time.Duration `mapstructure:"peer_timeout" yaml:"peer_timeout"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffMin  time.Duration `mapstructure:"backoff_min" yaml:"backoff_min"`
	BackoffMax  time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
}

// RoomsConfig configures the room directory replay.
type RoomsConfig struct {
	Lookback time.Duration `mapstructure:"lookback" yaml:"lookback"`
	PageSize int           `mapstructure:"page_size" yaml:"page_size"`
}

// MessagesConfig configures room message windows.
type MessagesConfig struct {
	Capacity int           `mapstructure:"capacity" yaml:"capacity"`
	Lookback time.Duration `mapstructure:"lookback" yaml:"lookback"`
	PageSize int           `mapstructure:"page_size" yaml:"page_size"`
}

// StoreConfig configures local message persistence. An empty path
// disables it.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// WalletConfig configures the built-in wallet.
type WalletConfig struct {
	// Address is connected on startup when set.
	Address string `mapstructure:"address" yaml:"address"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:              "127.0.0.1:8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			SendRate:          5,
			SendBurst:         10,
		},
		Auth: AuthConfig{
			Issuer:   "wiresync",
			Audience: "wiresync-gateway",
			TTL:      24 * time.Hour,
		},
		Network: NetworkConfig{
			Driver: DriverJetStream,
			JetStream: JetStreamConfig{
				URL:           "nats://127.0.0.1:4222",
				Stream:        "WIRESYNC",
				SubjectPrefix: "wiresync",
			},
			Gossip: GossipConfig{
				ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
				MinPeers:    1,
				DialTimeout: 5 * time.Second,
			},
		},
		Connection: ConnectionConfig{
			PeerTimeout: 30 * time.Second,
			MaxAttempts: 5,
			BackoffMin:  2 * time.Second,
			BackoffMax:  10 * time.Second,
		},
		Rooms: RoomsConfig{
			Lookback: 7 * 24 * time.Hour,
			PageSize: 100,
		},
		Messages: MessagesConfig{
			Capacity: 100,
			Lookback: 24 * time.Hour,
			PageSize: 100,
		},
		Store: StoreConfig{
			Path: "wiresync.db",
		},
	}
}

// Validate reports configuration values the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Network.Driver {
	case DriverJetStream, DriverGossip, DriverMemory:
	default:
		return fmt.Errorf("unknown network driver %q", c.Network.Driver)
	}
	if c.Connection.BackoffMin > c.Connection.BackoffMax {
		return fmt.Errorf("backoff_min %s exceeds backoff_max %s", c.Connection.BackoffMin, c.Connection.BackoffMax)
	}
	if c.Messages.Capacity < 1 {
		return fmt.Errorf("messages.capacity must be positive, got %d", c.Messages.Capacity)
	}
	return nil
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the settings exposed as command-line flags are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
	if other.HTTP.ShutdownTimeout != 0 {
		c.HTTP.ShutdownTimeout = other.HTTP.ShutdownTimeout
	}
	if other.Network.Driver != "" {
		c.Network.Driver = other.Network.Driver
	}
	if other.Network.JetStream.URL != "" {
		c.Network.JetStream.URL = other.Network.JetStream.URL
	}
	if len(other.Network.Gossip.BootstrapPeers) > 0 {
		c.Network.Gossip.BootstrapPeers = other.Network.Gossip.BootstrapPeers
	}
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Wallet.Address != "" {
		c.Wallet.Address = other.Wallet.Address
	}
}
