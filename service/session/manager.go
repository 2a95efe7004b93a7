// Package session owns the wallet connection state: which wallet is active,
// its address and balance, and the background work that keeps them fresh.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brojonat/goldium/service/metrics"
	"github.com/brojonat/goldium/service/solana"
	"github.com/brojonat/goldium/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollInterval   = 15 * time.Second
	DefaultDetectInterval = 10 * time.Second
)

// Registry resolves wallet adapters.
type Registry interface {
	Get(kind wallet.Kind) (wallet.Adapter, error)
}

// BalanceFetcher fetches account balances.
type BalanceFetcher interface {
	FetchBalance(ctx context.Context, address string) (solana.Balance, error)
}

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	PollInterval   time.Duration
	DetectInterval time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Manager is the single owner of the connection State.
//
// All mutations happen under mu. Async work captures the epoch at start and
// is discarded if the epoch moved on before it completed. Listeners are
// invoked synchronously, in mutation order; they must not call Connect,
// Disconnect or Close from the callback. State, RefreshBalance,
// SignTransaction, Subscribe and unsubscribe never take mu and are safe to
// call from a listener.
type Manager struct {
	registry       Registry
	fetcher        BalanceFetcher
	pollInterval   time.Duration
	detectInterval time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics

	mu            sync.Mutex
	state         State
	lastMode      Mode
	epoch         uint64
	adapter       wallet.Adapter
	cancelConnect context.CancelFunc
	// sess is written under mu and is non-nil only while Connected. Readers
	// that must not take mu load it directly.
	sess          atomic.Pointer[session]
	closed        bool
	// tornDown is closed once an in-progress teardown has released its
	// adapter.
	tornDown chan struct{}

	snapshot atomic.Pointer[State]
	bg       sync.WaitGroup

	// notifyMu is taken before mu is released so deliveries cannot reorder.
	notifyMu     sync.Mutex
	lmu          sync.Mutex
	listeners    []listenerEntry
	nextListener uint64
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// session is the background work bound to one Connected period.
type session struct {
	id      string
	epoch   uint64
	adapter wallet.Adapter
	cancel  context.CancelFunc
	group   *errgroup.Group
	refresh chan struct{}
}

func (s *session) requestRefresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(registry Registry, fetcher BalanceFetcher, opts Options) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.DetectInterval <= 0 {
		opts.DetectInterval = DefaultDetectInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Manager{
		registry:       registry,
		fetcher:        fetcher,
		pollInterval:   opts.PollInterval,
		detectInterval: opts.DetectInterval,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
	}
	initial := State{Mode: Disconnected}
	m.snapshot.Store(&initial)
	return m
}

// State returns the latest snapshot. It never blocks on in-flight work.
func (m *Manager) State() State {
	return m.snapshot.Load().clone()
}

// Subscribe registers l for every subsequent mutation.
func (m *Manager) Subscribe(l Listener) (unsubscribe func()) {
	m.lmu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: l})
	m.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.lmu.Lock()
			defer m.lmu.Unlock()
			for i, e := range m.listeners {
				if e.id == id {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// unlockAndNotify publishes the current state and releases mu. It must be
// called with mu held.
func (m *Manager) unlockAndNotify() {
	snap := m.state.clone()
	if snap.Mode != m.lastMode {
		m.lastMode = snap.Mode
		if m.metrics != nil {
			kind := string(snap.WalletKind)
			if kind == "" {
				kind = "none"
			}
			m.metrics.RecordTransition(kind, snap.Mode.String())
			m.metrics.SetSessionActive(snap.Mode == Connected)
		}
		m.logger.Debug("session transition",
			"mode", snap.Mode.String(),
			"wallet_kind", string(snap.WalletKind),
		)
	}
	m.snapshot.Store(&snap)

	m.notifyMu.Lock()
	m.mu.Unlock()

	m.lmu.Lock()
	listeners := make([]Listener, len(m.listeners))
	for i, e := range m.listeners {
		listeners[i] = e.fn
	}
	m.lmu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	m.notifyMu.Unlock()
}

// Connect activates the wallet of the given kind.
//
// Any connect still in flight is superseded. A different wallet that is
// already connected is disconnected first; failures there are logged and do
// not block the new connection. Connecting the wallet that is already
// connected is a no-op.
func (m *Manager) Connect(ctx context.Context, kind wallet.Kind) error {
	adapter, err := m.registry.Get(kind)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state.Mode == Connected && m.state.WalletKind == kind {
		m.mu.Unlock()
		return nil
	}

	m.epoch++
	epoch := m.epoch
	if m.cancelConnect != nil {
		m.cancelConnect()
		m.cancelConnect = nil
	}

	var prev *session
	var prevAdapter wallet.Adapter
	if m.state.Mode == Connected {
		prev = m.sess.Load()
		prevAdapter = m.adapter
	}
	m.sess.Store(nil)
	m.adapter = adapter
	pendingTeardown := m.tornDown

	connectCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.cancelConnect = cancel
	m.state = State{Mode: Connecting, WalletKind: kind}
	m.unlockAndNotify()

	if prev != nil {
		prev.stop()
		if err := prevAdapter.Disconnect(ctx); err != nil {
			m.logger.WarnContext(ctx, "failed to disconnect previous wallet",
				"wallet_kind", string(prevAdapter.Kind()),
				"error", err,
			)
		}
	}

	if pendingTeardown != nil {
		select {
		case <-pendingTeardown:
		case <-connectCtx.Done():
		}
	}

	m.logger.InfoContext(ctx, "connecting wallet", "wallet_kind", string(kind))
	var address string
	if err = connectCtx.Err(); err == nil {
		address, err = adapter.Connect(connectCtx)
	}

	m.mu.Lock()
	if m.epoch != epoch {
		current := m.state
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RecordStaleResult("connect")
		}
		m.logger.InfoContext(ctx, "discarding superseded connect",
			"wallet_kind", string(kind),
			"current_mode", current.Mode.String(),
			"current_wallet_kind", string(current.WalletKind),
		)
		if err == nil && (current.Mode == Disconnected || current.WalletKind != kind) {
			if derr := adapter.Disconnect(context.WithoutCancel(ctx)); derr != nil {
				m.logger.WarnContext(ctx, "failed to disconnect superseded wallet",
					"wallet_kind", string(kind),
					"error", derr,
				)
			}
		}
		return ErrSuperseded
	}
	m.cancelConnect = nil

	if err != nil {
		m.adapter = nil
		m.state = State{Mode: Disconnected}
		m.unlockAndNotify()
		m.logger.WarnContext(ctx, "wallet connection failed",
			"wallet_kind", string(kind),
			"error", err,
		)
		return &ConnectionFailedError{Kind: kind, Err: err}
	}

	sess := m.startSessionLocked(epoch, adapter)
	m.state.Mode = Connected
	m.state.Address = address
	m.state.SessionID = sess.id
	m.unlockAndNotify()

	m.logger.InfoContext(ctx, "wallet connected",
		"wallet_kind", string(kind),
		"address", address,
		"session_id", sess.id,
	)
	return nil
}

// Disconnect deactivates the current wallet. It is a no-op when nothing is
// connected or a disconnect is already underway. A connect still in flight is
// abandoned and its eventual result discarded.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state.Mode {
	case Disconnected, Disconnecting:
		m.mu.Unlock()
		return nil
	case Connecting:
		kind := m.state.WalletKind
		m.epoch++
		if m.cancelConnect != nil {
			m.cancelConnect()
			m.cancelConnect = nil
		}
		m.adapter = nil
		m.state = State{Mode: Disconnected}
		m.unlockAndNotify()
		m.logger.InfoContext(ctx, "abandoned pending wallet connect", "wallet_kind", string(kind))
		return nil
	}

	m.teardownLocked(ctx, true)
	return nil
}

// teardownLocked moves a Connected session through Disconnecting to
// Disconnected. It must be called with mu held and releases it. When wait is
// false the session goroutines are cancelled but not awaited, which lets a
// session goroutine tear down its own session.
func (m *Manager) teardownLocked(ctx context.Context, wait bool) {
	m.epoch++
	epoch := m.epoch
	sess := m.sess.Load()
	adapter := m.adapter
	kind := m.state.WalletKind
	done := make(chan struct{})
	m.tornDown = done
	m.sess.Store(nil)
	m.state.Mode = Disconnecting
	m.state.Address = ""
	m.unlockAndNotify()

	if sess != nil {
		if wait {
			sess.stop()
		} else {
			sess.cancel()
		}
	}
	if adapter != nil {
		if err := adapter.Disconnect(ctx); err != nil {
			m.logger.WarnContext(ctx, "wallet disconnect failed",
				"wallet_kind", string(kind),
				"error", err,
			)
		}
	}
	close(done)

	m.mu.Lock()
	if m.tornDown == done {
		m.tornDown = nil
	}
	if m.epoch != epoch {
		// A new connect started while we were tearing down.
		m.mu.Unlock()
		return
	}
	m.adapter = nil
	m.state = State{Mode: Disconnected}
	m.unlockAndNotify()
	m.logger.InfoContext(ctx, "wallet disconnected", "wallet_kind", string(kind))
}

// RefreshBalance asks the poll loop for an immediate fetch. It does nothing
// when no wallet is connected.
func (m *Manager) RefreshBalance() {
	if sess := m.sess.Load(); sess != nil {
		sess.requestRefresh()
	}
}

// SignTransaction signs tx with the connected wallet.
func (m *Manager) SignTransaction(ctx context.Context, tx *solanago.Transaction) (*solanago.Transaction, error) {
	sess := m.sess.Load()
	if sess == nil {
		return nil, wallet.ErrNotConnected
	}
	return sess.adapter.SignTransaction(ctx, tx)
}

// Close disconnects, refuses further connects and waits for all background
// work to stop.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	if err := m.Disconnect(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		m.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startSessionLocked launches the poll loop and detector for a freshly
// connected wallet. It must be called with mu held.
func (m *Manager) startSessionLocked(epoch uint64, adapter wallet.Adapter) *session {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	s := &session{
		id:      uuid.NewString(),
		epoch:   epoch,
		adapter: adapter,
		cancel:  cancel,
		group:   group,
		refresh: make(chan struct{}, 1),
	}

	m.bg.Add(2)
	group.Go(func() error {
		defer m.bg.Done()
		m.pollLoop(gctx, s)
		return nil
	})
	group.Go(func() error {
		defer m.bg.Done()
		m.detectLoop(gctx, s)
		return nil
	})

	m.sess.Store(s)
	return s
}

func (s *session) stop() {
	s.cancel()
	_ = s.group.Wait()
}

// current reports whether s is still the live Connected session. It must be
// called with mu held.
func (m *Manager) current(s *session) bool {
	return m.epoch == s.epoch && m.state.Mode == Connected
}
