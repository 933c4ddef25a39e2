package domain

import (
	"context"
	"encoding/json"
	"time"
)

// ActivityType is the canonical workout taxonomy. Provider-native type
// strings are mapped onto it during normalization; anything unmapped
// becomes ActivityOther.
type ActivityType string

const (
	ActivityRunning       ActivityType = "running"
	ActivityCycling       ActivityType = "cycling"
	ActivitySwimming      ActivityType = "swimming"
	ActivityWalking       ActivityType = "walking"
	ActivityHiking        ActivityType = "hiking"
	ActivityStrength      ActivityType = "strength"
	ActivityYoga          ActivityType = "yoga"
	ActivityCrossTraining ActivityType = "cross_training"
	ActivityOther         ActivityType = "other"
)

// Activity is the normalized workout record persisted after a sync run.
// (TenantID, UserID, Provider, ExternalID) is the sole dedup key; rows are
// never mutated by the sync engine once written.
type Activity struct {
	ID            string
	TenantID      string
	UserID        string
	Provider      Provider
	ExternalID    string
	Type          ActivityType
	StartedAt     time.Time
	EndedAt       time.Time
	DurationSec   int
	DistanceKM    float64
	Calories      *int
	AvgHeartRate  *int
	MaxHeartRate  *int
	ElevationGain *float64
	Notes         string
	// RawPayload keeps the provider record verbatim for forensic replay.
	RawPayload json.RawMessage
	CreatedAt  time.Time
}

// ActivityStore captures persistence operations for canonical activities.
type ActivityStore interface {
	// Exists is the dedup gate: reports whether the external id was already
	// imported for the pair. Runs before Insert so skipped counts stay exact.
	Exists(ctx context.Context, tenantID, userID string, provider Provider, externalID string) (bool, error)
	// Insert persists one activity; the unique key on the dedup triple is the
	// final guard against concurrent duplicates.
	Insert(ctx context.Context, activity Activity) error
}
