package temporal

import (
	"context"
	"strings"
	"time"
)

// Scheduler manages Temporal schedules for player history refresh.
// Each registered player gets its own schedule that triggers the
// RefreshHistoryWorkflow; no registered player means no polling at all.
type Scheduler interface {
	// CreatePlayerSchedule creates a new schedule that refreshes a player's
	// settlement history on the given interval.
	CreatePlayerSchedule(ctx context.Context, address string, interval time.Duration) error

	// UpsertPlayerSchedule creates the schedule, or updates its interval if
	// it already exists.
	UpsertPlayerSchedule(ctx context.Context, address string, interval time.Duration) error

	// DeletePlayerSchedule deletes the schedule for a player, stopping all
	// scheduled refreshes for them.
	DeletePlayerSchedule(ctx context.Context, address string) error
}

// scheduleID returns the Temporal schedule ID for a player address.
// Addresses are hex and case-varying, so the ID is normalized to lowercase.
func scheduleID(address string) string {
	return "refresh-history-" + strings.ToLower(address)
}
