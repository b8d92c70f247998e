package app

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/config"
	"github.com/vovakirdan/wiresync/internal/network"
	"github.com/vovakirdan/wiresync/internal/network/gossip"
	"github.com/vovakirdan/wiresync/internal/network/jetstream"
	"github.com/vovakirdan/wiresync/internal/network/memory"
)

// NewFactory returns the transport factory of the configured driver.
func NewFactory(all config.Config, logger *zerolog.Logger) (network.Factory, error) {
	cfg := all.Network
	switch cfg.Driver {
	case config.DriverJetStream:
		jcfg := jetstream.DefaultConfig()
		jcfg.URL = cfg.JetStream.URL
		jcfg.Stream = cfg.JetStream.Stream
		jcfg.SubjectPrefix = cfg.JetStream.SubjectPrefix
		jcfg.MaxAge = HistoryRetention(all)
		jcfg.MemoryStore = cfg.JetStream.MemoryStore
		return jetstream.Factory(jcfg, logger), nil
	case config.DriverGossip:
		gcfg := gossip.DefaultConfig()
		if len(cfg.Gossip.ListenAddrs) > 0 {
			gcfg.ListenAddrs = cfg.Gossip.ListenAddrs
		}
		gcfg.BootstrapPeers = cfg.Gossip.BootstrapPeers
		gcfg.MinPeers = cfg.Gossip.MinPeers
		if cfg.Gossip.DialTimeout > 0 {
			gcfg.DialTimeout = cfg.Gossip.DialTimeout
		}
		return gossip.Factory(gcfg, logger), nil
	case config.DriverMemory:
		return memory.NewBus().Factory(), nil
	default:
		return nil, fmt.Errorf("unknown network driver %q", cfg.Driver)
	}
}

// HistoryRetention is how long the network must keep events: the longest
// replay lookback of rooms and messages.
func HistoryRetention(cfg config.Config) time.Duration {
	return max(cfg.Rooms.Lookback, cfg.Messages.Lookback)
}
