package wallet

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// MockProvider is a scriptable Provider for tests.
type MockProvider struct {
	mu        sync.Mutex
	flags     map[string]bool
	account   solana.PublicKey
	connected bool

	connectErr    error
	disconnectErr error
	publicKeyErr  error
	// connectHook runs before Connect returns; tests use it to hold a
	// connect in flight.
	connectHook func(ctx context.Context) error

	connectCalls    int
	disconnectCalls int
}

// NewMockProvider creates a provider carrying marker and owning account.
func NewMockProvider(marker string, account solana.PublicKey) *MockProvider {
	return &MockProvider{
		flags:   map[string]bool{marker: true},
		account: account,
	}
}

// SetAccount switches the selected account, as a user would in the extension.
func (m *MockProvider) SetAccount(account solana.PublicKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = account
}

// SetFlag sets a marker property.
func (m *MockProvider) SetFlag(name string, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[name] = v
}

// SetConnectError makes Connect fail with err.
func (m *MockProvider) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// SetDisconnectError makes Disconnect fail with err.
func (m *MockProvider) SetDisconnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectErr = err
}

// SetPublicKeyError makes PublicKey fail with err.
func (m *MockProvider) SetPublicKeyError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publicKeyErr = err
}

// SetConnectHook installs fn to run inside Connect.
func (m *MockProvider) SetConnectHook(fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectHook = fn
}

// ConnectCalls returns how many times Connect was invoked.
func (m *MockProvider) ConnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

// DisconnectCalls returns how many times Disconnect was invoked.
func (m *MockProvider) DisconnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectCalls
}

// Connected reports whether the provider currently considers itself connected.
func (m *MockProvider) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockProvider) Flag(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags[name]
}

func (m *MockProvider) Connect(ctx context.Context) (solana.PublicKey, error) {
	m.mu.Lock()
	m.connectCalls++
	hook := m.connectHook
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return solana.PublicKey{}, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return solana.PublicKey{}, m.connectErr
	}
	m.connected = true
	return m.account, nil
}

func (m *MockProvider) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
	m.connected = false
	return m.disconnectErr
}

func (m *MockProvider) PublicKey(ctx context.Context) (solana.PublicKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publicKeyErr != nil {
		return solana.PublicKey{}, m.publicKeyErr
	}
	if !m.connected {
		return solana.PublicKey{}, nil
	}
	return m.account, nil
}

func (m *MockProvider) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	return tx, nil
}
