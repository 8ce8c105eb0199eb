package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]time.Duration // map[scheduleID]interval
	createErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
	}
}

// CreatePlayerSchedule records that a schedule was created.
func (m *MockScheduler) CreatePlayerSchedule(ctx context.Context, address string, interval time.Duration) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedules[scheduleID(address)] = interval
	return nil
}

// UpsertPlayerSchedule creates or updates a schedule.
func (m *MockScheduler) UpsertPlayerSchedule(ctx context.Context, address string, interval time.Duration) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedules[scheduleID(address)] = interval
	return nil
}

// DeletePlayerSchedule records that a schedule was deleted.
func (m *MockScheduler) DeletePlayerSchedule(ctx context.Context, address string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := scheduleID(address)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}

	delete(m.schedules, id)
	return nil
}

// SetCreateError makes CreatePlayerSchedule return an error.
func (m *MockScheduler) SetCreateError(err error) {
	m.createErr = err
}

// SetDeleteError makes DeletePlayerSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.deleteErr = err
}

// ScheduleExists checks if a schedule exists for a player.
func (m *MockScheduler) ScheduleExists(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.schedules[scheduleID(address)]
	return exists
}

// GetScheduleInterval returns the interval for a player's schedule.
func (m *MockScheduler) GetScheduleInterval(address string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	interval, exists := m.schedules[scheduleID(address)]
	return interval, exists
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}

// Reset clears all schedules and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = make(map[string]time.Duration)
	m.createErr = nil
	m.deleteErr = nil
}
