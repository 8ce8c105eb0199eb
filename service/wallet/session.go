package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// State is the session connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateErrored
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Snapshot is a read-only view of the session, rebuilt on every state change.
// Address is non-empty if and only if State == StateConnected.
type Snapshot struct {
	Address         string
	Account         *Account
	State           State
	IsConnecting    bool
	IsDisconnecting bool
	IsLoading       bool
	Err             error
}

// Manager owns the wallet session state. It is the single writer; consumers
// read snapshots or subscribe for change notifications instead of sharing
// mutable state.
type Manager struct {
	sdk    SDK
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	account     *Account
	lastErr     error
	subscribers map[int]func(Snapshot)
	nextSubID   int
}

// NewManager creates a session manager over the given wallet SDK.
func NewManager(sdk SDK, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sdk:         sdk,
		logger:      logger,
		state:       StateIdle,
		subscribers: map[int]func(Snapshot){},
	}
}

// Snapshot returns the current session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		Account:         m.account,
		State:           m.state,
		IsConnecting:    m.state == StateConnecting,
		IsDisconnecting: m.state == StateDisconnecting,
		IsLoading:       m.sdk.Loading(),
		Err:             m.lastErr,
	}
	if m.state == StateConnected && m.account != nil {
		snap.Address = m.account.Address.Hex()
	}
	return snap
}

// Subscribe registers a callback invoked with a fresh snapshot after every
// state change. Returns an unsubscribe function. Callbacks run outside the
// manager's lock and must not block for long.
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify(snap Snapshot) {
	m.mu.Lock()
	fns := make([]func(Snapshot), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Connect logs in via the SDK and populates the session from the SDK's
// account state. A Connect issued while a connect is already in flight, or
// while the SDK reports its own loading state, is a no-op; duplicate
// concurrent login attempts must never reach the provider.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnecting || m.sdk.Loading() {
		m.mu.Unlock()
		m.logger.DebugContext(ctx, "connect already in flight, ignoring")
		return nil
	}
	m.state = StateConnecting
	m.lastErr = nil
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)

	loginErr := m.sdk.Login(ctx)

	var account *Account
	var accountErr error
	if loginErr == nil {
		// The SDK owns account state; re-query rather than trusting the
		// login call to have returned it.
		account, accountErr = m.sdk.GetAccount(ctx)
	}

	m.mu.Lock()
	switch {
	case loginErr != nil:
		m.state = StateErrored
		m.lastErr = loginErr
		m.account = nil
	case accountErr != nil:
		m.state = StateErrored
		m.lastErr = fmt.Errorf("login succeeded but account query failed: %w", accountErr)
		m.account = nil
	case account == nil:
		m.state = StateErrored
		m.lastErr = fmt.Errorf("login succeeded but no account is available")
		m.account = nil
	default:
		m.state = StateConnected
		m.account = account
	}
	snap = m.snapshotLocked()
	err := m.lastErr
	m.mu.Unlock()
	m.notify(snap)

	if err != nil {
		m.logger.WarnContext(ctx, "wallet connect failed", "error", err)
		return err
	}

	m.logger.InfoContext(ctx, "wallet connected", "address", snap.Address)
	return nil
}

// Disconnect logs out via the SDK. Because SDK state propagation may race,
// the account is re-queried afterward to force the address clear once the
// SDK confirms logout. If the SDK has no logout capability or logout fails,
// the session degrades to locally clearing the address and records the
// error.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateDisconnecting {
		m.mu.Unlock()
		m.logger.DebugContext(ctx, "disconnect already in flight, ignoring")
		return nil
	}
	m.state = StateDisconnecting
	m.lastErr = nil
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)

	logoutErr := m.sdk.Logout(ctx)
	if logoutErr == nil {
		// Best-effort confirmation; the local clear below is unconditional.
		if account, err := m.sdk.GetAccount(ctx); err == nil && account != nil {
			m.logger.WarnContext(ctx, "SDK still reports an account after logout, clearing locally")
		}
	}

	m.mu.Lock()
	m.account = nil
	m.state = StateIdle
	if logoutErr != nil {
		m.lastErr = logoutErr
	}
	snap = m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)

	if logoutErr != nil {
		m.logger.WarnContext(ctx, "wallet logout failed, cleared session locally", "error", logoutErr)
		return logoutErr
	}

	m.logger.InfoContext(ctx, "wallet disconnected")
	return nil
}

// Active returns the connected account, or nil when there is no session.
func (m *Manager) Active() *Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return nil
	}
	return m.account
}
