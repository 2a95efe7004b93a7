package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu               sync.RWMutex
	states           []StateEvent
	historyEvents    []HistoryEvent
	publishError     error
	publishStateHook func(StateEvent)
	closed           bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishState records the event and returns any configured error.
func (m *MockPublisher) PublishState(ctx context.Context, event StateEvent) error {
	m.mu.Lock()
	hook := m.publishStateHook
	if m.publishError != nil {
		err := m.publishError
		m.mu.Unlock()
		return err
	}
	m.states = append(m.states, event)
	m.mu.Unlock()

	if hook != nil {
		hook(event)
	}
	return nil
}

// PublishHistory records the event and returns any configured error.
func (m *MockPublisher) PublishHistory(ctx context.Context, event HistoryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.historyEvents = append(m.historyEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetStates returns a copy of all published state events.
func (m *MockPublisher) GetStates() []StateEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]StateEvent, len(m.states))
	copy(events, m.states)
	return events
}

// GetHistoryEvents returns a copy of all published history events.
func (m *MockPublisher) GetHistoryEvents() []HistoryEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]HistoryEvent, len(m.historyEvents))
	copy(events, m.historyEvents)
	return events
}

// GetHistoryEventsForWallet returns history events published for address.
func (m *MockPublisher) GetHistoryEventsForWallet(address string) []HistoryEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]HistoryEvent, 0)
	for _, event := range m.historyEvents {
		if event.Address == address {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to fail every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// SetPublishStateHook runs fn after each successful PublishState.
func (m *MockPublisher) SetPublishStateHook(fn func(StateEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishStateHook = fn
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = nil
	m.historyEvents = nil
	m.publishError = nil
	m.publishStateHook = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
