package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu                sync.RWMutex
	publishedEvents   []*SettlementEvent
	publishError      error
	publishBatchError error
	closed            bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*SettlementEvent, 0),
	}
}

// PublishSettlement records the event and returns any configured error.
func (m *MockPublisher) PublishSettlement(ctx context.Context, event *SettlementEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// PublishSettlementBatch records the events and returns any configured error.
func (m *MockPublisher) PublishSettlementBatch(ctx context.Context, events []*SettlementEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishBatchError != nil {
		return m.publishBatchError
	}

	m.publishedEvents = append(m.publishedEvents, events...)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns a copy of all published events.
func (m *MockPublisher) GetPublishedEvents() []*SettlementEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*SettlementEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventCount returns the number of published events.
func (m *MockPublisher) GetPublishedEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.publishedEvents)
}

// GetPublishedEventsForPlayer returns events published for a specific player.
func (m *MockPublisher) GetPublishedEventsForPlayer(player string) []*SettlementEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*SettlementEvent, 0)
	for _, event := range m.publishedEvents {
		if event.Player == player {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on PublishSettlement.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// SetPublishBatchError configures the mock to return an error on PublishSettlementBatch.
func (m *MockPublisher) SetPublishBatchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishBatchError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedEvents = make([]*SettlementEvent, 0)
	m.publishError = nil
	m.publishBatchError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
