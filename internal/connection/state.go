package connection

import (
	"errors"
	"time"

	"github.com/vovakirdan/wiresync/internal/backoff"
)

// ErrPeerTimeout marks an attempt whose transport found no peers in time.
var ErrPeerTimeout = errors.New("timed out waiting for peers")

// State is a connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingPeers
	StateRetrying
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingPeers:
		return "awaiting_peers"
	case StateRetrying:
		return "retrying"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// inFlight reports whether a bring-up is running or has finished.
func (s State) inFlight() bool {
	return s != StateDisconnected
}

// Status is a snapshot of the manager state. Attempt counts from 1 within
// one bring-up; Err holds the last failure.
type Status struct {
	State   State
	Attempt int
	Err     error
}

// Config controls the bring-up and retry behaviour.
type Config struct {
	PeerTimeout time.Duration
	MaxAttempts int
	Backoff     backoff.Policy
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		PeerTimeout: 30 * time.Second,
		MaxAttempts: 5,
		Backoff:     backoff.New(2*time.Second, 10*time.Second),
	}
}
