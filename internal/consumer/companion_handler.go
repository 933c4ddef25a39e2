package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/normalize"
	"example.com/integrations/internal/platform/events"
)

// CompanionHandler imports workouts uploaded by the native companion app.
// Samsung Health and Apple Health have no server-side pull API, so their
// activities arrive as companion.activity_recorded events from the mobile
// gateway and pass through the same normalization and dedup gate as pulled
// records.
type CompanionHandler struct {
	activities domain.ActivityStore
	logger     *log.Logger
}

// NewCompanionHandler constructs a CompanionHandler.
func NewCompanionHandler(activities domain.ActivityStore, logger *log.Logger) *CompanionHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[companion] ", log.LstdFlags)
	}
	return &CompanionHandler{activities: activities, logger: logger}
}

// Handle decodes one companion event and persists the activity if its
// dedup key is unseen. Duplicate uploads are normal (the app retries) and
// are dropped silently.
func (h *CompanionHandler) Handle(ctx context.Context, msg Message) error {
	var event events.CompanionActivityRecorded
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode companion event: %w", err)
	}

	p, err := domain.ParseProvider(event.Provider)
	if err != nil {
		return err
	}
	if event.ExternalID == "" {
		return errors.New("companion event missing external_id")
	}

	exists, err := h.activities.Exists(ctx, event.TenantID, event.UserID, p, event.ExternalID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	payload := event.Payload
	if len(payload) == 0 {
		payload = msg.Payload
	}

	startedAt := event.StartedAt.UTC()
	activity := domain.Activity{
		ID:           uuid.NewString(),
		TenantID:     event.TenantID,
		UserID:       event.UserID,
		Provider:     p,
		ExternalID:   event.ExternalID,
		Type:         normalize.MapType(p, event.ActivityType),
		StartedAt:    startedAt,
		EndedAt:      startedAt.Add(time.Duration(event.DurationSec) * time.Second),
		DurationSec:  event.DurationSec,
		DistanceKM:   normalize.Kilometers(event.DistanceM),
		Calories:     event.Calories,
		AvgHeartRate: event.AvgHeartRate,
		MaxHeartRate: event.MaxHeartRate,
		Notes:        event.Notes,
		RawPayload:   payload,
		CreatedAt:    time.Now().UTC(),
	}

	if err := h.activities.Insert(ctx, activity); err != nil {
		if errors.Is(err, domain.ErrDuplicateActivity) {
			// Lost the race against a concurrent upload; already stored.
			return nil
		}
		return err
	}

	h.logger.Printf("imported companion activity (tenant=%s user=%s provider=%s external_id=%s)",
		event.TenantID, event.UserID, p, event.ExternalID)
	return nil
}
