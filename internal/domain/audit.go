package domain

import (
	"context"
	"time"
)

// SyncStatus tracks the lifecycle of one sync attempt. Transitions are
// one-directional: running is the only non-terminal state.
type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncAudit is the append-only record of one sync attempt. Opened in
// running state before any network call so a crash mid-run shows up as a
// stuck running row instead of a silent gap.
type SyncAudit struct {
	ID           string
	TenantID     string
	UserID       string
	Provider     Provider
	Status       SyncStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	SyncedCount  int
	SkippedCount int
	ErrorDetail  *string
}

// AuditStore captures persistence operations for sync audit entries.
type AuditStore interface {
	// Open inserts a new entry in running state and returns it.
	Open(ctx context.Context, tenantID, userID string, provider Provider, startedAt time.Time) (*SyncAudit, error)
	// Close applies the single terminal update for the entry. Closing an
	// already-terminal entry is an error.
	Close(ctx context.Context, auditID string, status SyncStatus, syncedCount, skippedCount int, errorDetail *string, completedAt time.Time) error
	// ListForUser returns recent entries for a user, most recent first.
	ListForUser(ctx context.Context, tenantID, userID string, limit int) ([]SyncAudit, error)
	// CloseStale fails running entries older than the cutoff; returns how
	// many rows were closed. Used by the reaper.
	CloseStale(ctx context.Context, cutoff time.Time, detail string) (int, error)
}
