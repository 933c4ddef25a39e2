// Package events defines shared cross-service event payloads.
package events

import "time"

// ActivityImported is emitted when a provider activity passes the dedup
// gate and lands in the canonical store.
type ActivityImported struct {
	ActivityID   string    `json:"activity_id"`
	TenantID     string    `json:"tenant_id"`
	UserID       string    `json:"user_id"`
	Provider     string    `json:"provider"`
	ExternalID   string    `json:"external_id"`
	ActivityType string    `json:"activity_type"`
	StartedAt    time.Time `json:"started_at"`
	DurationSec  int       `json:"duration_sec"`
	DistanceKM   float64   `json:"distance_km"`
}

// SyncCompleted is emitted when a sync run reaches a terminal state, for
// dashboards and downstream recomputation triggers.
type SyncCompleted struct {
	AuditID      string    `json:"audit_id"`
	TenantID     string    `json:"tenant_id"`
	UserID       string    `json:"user_id"`
	Provider     string    `json:"provider"`
	Status       string    `json:"status"`
	SyncedCount  int       `json:"synced_count"`
	SkippedCount int       `json:"skipped_count"`
	OccurredAt   time.Time `json:"occurred_at"`
}
