// Package identity holds the wallet session the engine acts on behalf of
// and the tokens that authenticate gateway callers for it.
package identity

import (
	"errors"
	"strings"
	"sync"
)

// ErrEmptyAddress is returned when connecting a wallet without an address.
var ErrEmptyAddress = errors.New("wallet address cannot be empty")

// Session is the identity the connection manager checks before connecting.
type Session interface {
	Address() string
	IsConnected() bool
}

// Wallet is an in-process wallet collaborator. It only holds the connected
// address; signing is out of scope.
type Wallet struct {
	mu       sync.RWMutex
	address  string
	nextID   uint64
	watchers map[uint64]func(address string)
}

var _ Session = (*Wallet)(nil)

// NewWallet returns a disconnected wallet.
func NewWallet() *Wallet {
	return &Wallet{watchers: make(map[uint64]func(string))}
}

// Address returns the connected address, or "" when disconnected.
func (w *Wallet) Address() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.address
}

// IsConnected reports whether an address is connected.
func (w *Wallet) IsConnected() bool {
	return w.Address() != ""
}

// Connect sets the active address. Switching to a different address is
// reported as a change.
func (w *Wallet) Connect(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return ErrEmptyAddress
	}
	w.set(address)
	return nil
}

// Disconnect clears the active address.
func (w *Wallet) Disconnect() {
	w.set("")
}

// OnChange registers fn to observe address changes. fn receives "" on
// disconnect. The returned func unregisters it.
func (w *Wallet) OnChange(fn func(address string)) func() {
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.watchers[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.watchers, id)
		w.mu.Unlock()
	}
}

func (w *Wallet) set(address string) {
	w.mu.Lock()
	if strings.EqualFold(w.address, address) {
		w.mu.Unlock()
		return
	}
	w.address = address
	watchers := make([]func(string), 0, len(w.watchers))
	for _, fn := range w.watchers {
		watchers = append(watchers, fn)
	}
	w.mu.Unlock()

	for _, fn := range watchers {
		fn(address)
	}
}
