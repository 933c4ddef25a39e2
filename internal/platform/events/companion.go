package events

import (
	"encoding/json"
	"time"
)

// CompanionActivityRecorded is published by the mobile gateway when the
// native companion app uploads a workout captured from an on-device health
// store (Apple Health, Samsung Health). These platforms have no server-side
// pull API, so this event is their only path into the canonical store.
type CompanionActivityRecorded struct {
	TenantID     string          `json:"tenant_id"`
	UserID       string          `json:"user_id"`
	Provider     string          `json:"provider"`
	ExternalID   string          `json:"external_id"`
	ActivityType string          `json:"activity_type"`
	StartedAt    time.Time       `json:"started_at"`
	DurationSec  int             `json:"duration_sec"`
	DistanceM    float64         `json:"distance_m"`
	Calories     *int            `json:"calories,omitempty"`
	AvgHeartRate *int            `json:"avg_heart_rate,omitempty"`
	MaxHeartRate *int            `json:"max_heart_rate,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}
