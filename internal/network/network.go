// Package network defines the publish/subscribe contract the sync engine
// consumes. Concrete transports live in subpackages.
package network

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotStarted is returned by transports used before Start or after Stop.
	ErrNotStarted = errors.New("transport not started")
	// ErrHistoryUnavailable is returned by Query on transports without a message store.
	ErrHistoryUnavailable = errors.New("history unavailable on this transport")
)

// Handler receives raw payloads delivered on a topic.
type Handler func(payload []byte)

// QueryOptions bounds a historical query.
type QueryOptions struct {
	Start    time.Time
	End      time.Time
	PageSize int
}

// Subscription is a live delivery registration.
type Subscription interface {
	Unsubscribe() error
}

// Transport is one session with a publish/subscribe network.
type Transport interface {
	// Start brings the session up. It does not wait for remote peers.
	Start(ctx context.Context) error
	// Stop releases the session. It is safe to call more than once.
	Stop(ctx context.Context) error
	// WaitForPeers blocks until the network can serve publish, subscribe and
	// query, or until ctx is done.
	WaitForPeers(ctx context.Context) error
	// Publish broadcasts payload on topic.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers h for payloads published on topic from now on.
	// Delivery stops when ctx is done or the subscription is cancelled.
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
	// Query replays payloads published on topic within the window, oldest
	// first, and returns once the replay is complete.
	Query(ctx context.Context, topic string, opts QueryOptions, h Handler) error
}

// Factory creates a fresh, unstarted transport for one connection attempt.
type Factory func() (Transport, error)
