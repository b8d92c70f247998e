// Package connection owns the lifecycle of one network session: bring-up,
// peer readiness, bootstrap hooks, retry with backoff and teardown.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/network"
)

var errStale = errors.New("session superseded")

// Identity is the upstream session the connection depends on.
type Identity interface {
	IsConnected() bool
}

// Hook bootstraps a component on a transport that has peers. It runs
// before the manager reports Ready; an error fails the attempt. ctx ends
// when the session does.
type Hook func(ctx context.Context, t network.Transport) error

// Op is an operation deferred until the manager is Ready.
type Op func(ctx context.Context)

// Manager drives one transport session at a time.
type Manager struct {
	cfg      Config
	factory  network.Factory
	identity Identity
	log      zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	status    Status
	version   uint64
	gen       uint64
	cancel    context.CancelFunc
	transport network.Transport
	// live is the context of the installed transport; it ends with the
	// attempt that installed it.
	live       context.Context
	liveCancel context.CancelFunc
	pending    []Op

	nextID   uint64
	hooks    map[uint64]Hook
	resets   map[uint64]func()
	watchers map[uint64]func(Status)

	notifyMu     sync.Mutex
	lastNotified uint64
}

// New builds a manager. identity may be nil when no upstream session gates
// the connection.
func New(factory network.Factory, identity Identity, cfg Config, logger *zerolog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = def.PeerTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff.Min <= 0 {
		cfg.Backoff = def.Backoff
	}
	return &Manager{
		cfg:      cfg,
		factory:  factory,
		identity: identity,
		log:      logger.With().Str("component", "connection").Logger(),
		sleep:    sleepCtx,
		hooks:    make(map[uint64]Hook),
		resets:   make(map[uint64]func()),
		watchers: make(map[uint64]func(Status)),
	}
}

// Status returns the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Transport returns the live transport, or core.ErrNotReady.
func (m *Manager) Transport() (network.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.State != StateReady || m.transport == nil {
		return nil, core.ErrNotReady
	}
	return m.transport, nil
}

// Connect starts a bring-up in the background. It does nothing when a
// bring-up is already running, the session is Ready or Failed, or the
// identity is absent. The session outlives ctx; only Teardown ends it.
func (m *Manager) Connect(ctx context.Context) error {
	if m.identity != nil && !m.identity.IsConnected() {
		return core.ErrIdentityAbsent
	}

	m.mu.Lock()
	if m.status.State.inFlight() {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	st := Status{State: StateConnecting, Attempt: 1}
	ver := m.setStatusLocked(st)
	watchers := m.watchersLocked()
	m.mu.Unlock()

	m.notify(watchers, st, ver)
	go m.run(sessionCtx, gen)
	return nil
}

// Reconnect restarts the bring-up from Failed or Disconnected with a fresh
// attempt counter.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.status.State == StateFailed {
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.setStatusLocked(Status{State: StateDisconnected})
	}
	m.mu.Unlock()
	return m.Connect(ctx)
}

// Teardown cancels any bring-up, stops the transport, drops queued
// operations and runs the reset callbacks. It is safe from any state.
func (m *Manager) Teardown(ctx context.Context) error {
	m.mu.Lock()
	m.gen++
	cancel := m.cancel
	m.cancel = nil
	tr := m.transport
	liveCancel := m.liveCancel
	m.transport = nil
	m.live = nil
	m.liveCancel = nil
	dropped := len(m.pending)
	m.pending = nil
	changed := m.status.State != StateDisconnected
	ver := m.setStatusLocked(Status{State: StateDisconnected})
	resets := make([]func(), 0, len(m.resets))
	for _, fn := range m.resets {
		resets = append(resets, fn)
	}
	watchers := m.watchersLocked()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if liveCancel != nil {
		liveCancel()
	}

	var err error
	if tr != nil {
		if stopErr := tr.Stop(ctx); stopErr != nil {
			err = fmt.Errorf("stop transport: %w", stopErr)
		}
	}
	for _, fn := range resets {
		fn()
	}
	if changed {
		m.log.Info().Int("dropped_ops", dropped).Msg("session torn down")
		m.notify(watchers, Status{State: StateDisconnected}, ver)
	}
	return err
}

// Enqueue defers op until Ready. Ops queued while not Ready run once, in
// order, when Ready is reached; Teardown drops them. When already Ready op
// runs immediately in its own goroutine.
func (m *Manager) Enqueue(op Op) {
	m.mu.Lock()
	if m.status.State == StateReady && m.live != nil {
		ctx := m.live
		m.mu.Unlock()
		go op(ctx)
		return
	}
	m.pending = append(m.pending, op)
	m.mu.Unlock()
}

// OnReady registers a bootstrap hook. When a transport is already
// installed the hook also runs right away on it.
func (m *Manager) OnReady(h Hook) func() {
	m.mu.Lock()
	id := m.nextIDLocked()
	m.hooks[id] = h
	tr, ctx, gen := m.transport, m.live, m.gen
	m.mu.Unlock()

	if tr != nil && ctx != nil {
		go func() {
			if err := h(ctx, tr); err != nil && m.alive(gen) {
				m.log.Warn().Err(err).Msg("late bootstrap hook failed")
			}
		}()
	}
	return func() {
		m.mu.Lock()
		delete(m.hooks, id)
		m.mu.Unlock()
	}
}

// OnReset registers fn to run on Teardown.
func (m *Manager) OnReset(fn func()) func() {
	m.mu.Lock()
	id := m.nextIDLocked()
	m.resets[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.resets, id)
		m.mu.Unlock()
	}
}

// OnStateChange registers fn to observe transitions. fn must not block
// and must not change the manager state.
func (m *Manager) OnStateChange(fn func(Status)) func() {
	m.mu.Lock()
	id := m.nextIDLocked()
	m.watchers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

// Publish sends payload on the live transport. Failures are retried with
// backoff; once the attempts are exhausted the session moves to Failed.
// The retries are bound to the session Publish started on: Teardown cancels
// them and they never reach a later session.
func (m *Manager) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	tr, gen, live := m.transport, m.gen, m.live
	ready := m.status.State == StateReady
	m.mu.Unlock()
	if !ready || tr == nil || live == nil {
		return core.ErrNotReady
	}

	pubCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(live, cancel)
	defer stop()

	for attempt := 1; ; attempt++ {
		err := tr.Publish(pubCtx, topic, payload)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !m.serving(gen, tr) {
			return core.ErrNotReady
		}
		if attempt >= m.cfg.MaxAttempts {
			m.fail(gen, err)
			return fmt.Errorf("publish %s: %w", topic, err)
		}

		m.log.Warn().Err(err).Str("topic", topic).Int("attempt", attempt).Msg("publish failed, retrying")
		if err := m.sleep(pubCtx, m.cfg.Backoff.Delay(attempt)); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return core.ErrNotReady
		}
		if !m.serving(gen, tr) {
			return core.ErrNotReady
		}
	}
}

// serving reports whether tr is still the Ready transport of session gen.
func (m *Manager) serving(gen uint64, tr network.Transport) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen && m.transport == tr && m.status.State == StateReady
}

func (m *Manager) run(ctx context.Context, gen uint64) {
	for attempt := 1; ; attempt++ {
		// Connect already reported the first Connecting state.
		if attempt > 1 && !m.transition(gen, Status{State: StateConnecting, Attempt: attempt}) {
			return
		}

		err := m.attempt(ctx, gen, attempt)
		if err == nil {
			return
		}
		if errors.Is(err, errStale) || ctx.Err() != nil || !m.alive(gen) {
			return
		}
		m.log.Warn().Err(err).Int("attempt", attempt).Msg("connection attempt failed")

		if attempt >= m.cfg.MaxAttempts {
			if m.transition(gen, Status{State: StateFailed, Attempt: attempt, Err: err}) {
				m.log.Error().Err(err).Int("attempts", attempt).Msg("connection failed")
			}
			return
		}
		if !m.transition(gen, Status{State: StateRetrying, Attempt: attempt, Err: err}) {
			return
		}
		if err := m.sleep(ctx, m.cfg.Backoff.Delay(attempt)); err != nil {
			return
		}
	}
}

func (m *Manager) attempt(ctx context.Context, gen uint64, attempt int) error {
	tr, err := m.factory()
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	abandon := func() {
		cancel()
		if err := tr.Stop(context.WithoutCancel(ctx)); err != nil {
			m.log.Debug().Err(err).Msg("stop abandoned transport")
		}
	}

	if err := tr.Start(attemptCtx); err != nil {
		abandon()
		return fmt.Errorf("start transport: %w", err)
	}
	if !m.transition(gen, Status{State: StateAwaitingPeers, Attempt: attempt}) {
		abandon()
		return errStale
	}

	waitCtx, cancelWait := context.WithTimeout(attemptCtx, m.cfg.PeerTimeout)
	err = tr.WaitForPeers(waitCtx)
	timedOut := errors.Is(waitCtx.Err(), context.DeadlineExceeded)
	cancelWait()
	if err != nil {
		abandon()
		if timedOut && ctx.Err() == nil {
			return ErrPeerTimeout
		}
		return fmt.Errorf("wait for peers: %w", err)
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		abandon()
		return errStale
	}
	m.transport = tr
	m.live = attemptCtx
	m.liveCancel = cancel
	hooks := make([]Hook, 0, len(m.hooks))
	for _, h := range m.hooks {
		hooks = append(hooks, h)
	}
	m.mu.Unlock()

	for _, h := range hooks {
		if err := h(attemptCtx, tr); err != nil {
			m.uninstall(gen, tr)
			abandon()
			if !m.alive(gen) {
				return errStale
			}
			return fmt.Errorf("bootstrap: %w", err)
		}
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		abandon()
		return errStale
	}
	st := Status{State: StateReady, Attempt: attempt}
	ver := m.setStatusLocked(st)
	pending := m.pending
	m.pending = nil
	watchers := m.watchersLocked()
	m.mu.Unlock()

	m.log.Info().Int("attempt", attempt).Int("queued_ops", len(pending)).Msg("connection ready")
	m.notify(watchers, st, ver)
	for _, op := range pending {
		op(attemptCtx)
	}
	return nil
}

func (m *Manager) uninstall(gen uint64, tr network.Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen && m.transport == tr {
		m.transport = nil
		m.live = nil
		m.liveCancel = nil
	}
}

// fail moves a Ready session to Failed after publish retries ran out.
func (m *Manager) fail(gen uint64, cause error) {
	m.mu.Lock()
	if m.gen != gen || m.status.State != StateReady {
		m.mu.Unlock()
		return
	}
	tr := m.transport
	liveCancel := m.liveCancel
	m.transport = nil
	m.live = nil
	m.liveCancel = nil
	st := Status{State: StateFailed, Attempt: m.cfg.MaxAttempts, Err: cause}
	ver := m.setStatusLocked(st)
	watchers := m.watchersLocked()
	m.mu.Unlock()

	if liveCancel != nil {
		liveCancel()
	}
	if tr != nil {
		if err := tr.Stop(context.Background()); err != nil {
			m.log.Debug().Err(err).Msg("stop failed transport")
		}
	}
	m.log.Error().Err(cause).Msg("publish retries exhausted, connection failed")
	m.notify(watchers, st, ver)
}

// transition applies st if gen is still the live session.
func (m *Manager) transition(gen uint64, st Status) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	ver := m.setStatusLocked(st)
	watchers := m.watchersLocked()
	m.mu.Unlock()

	m.log.Debug().Str("state", st.State.String()).Int("attempt", st.Attempt).Msg("state changed")
	m.notify(watchers, st, ver)
	return true
}

func (m *Manager) alive(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

func (m *Manager) watchersLocked() []func(Status) {
	out := make([]func(Status), 0, len(m.watchers))
	for _, fn := range m.watchers {
		out = append(out, fn)
	}
	return out
}

func (m *Manager) nextIDLocked() uint64 {
	m.nextID++
	return m.nextID
}

func (m *Manager) setStatusLocked(st Status) uint64 {
	m.status = st
	m.version++
	return m.version
}

// notify delivers st unless a newer status has already been delivered.
func (m *Manager) notify(watchers []func(Status), st Status, ver uint64) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	if ver <= m.lastNotified {
		return
	}
	m.lastNotified = ver
	for _, fn := range watchers {
		fn(st)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
