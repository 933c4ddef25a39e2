package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/platform/events"
)

// Exists is the dedup gate: it reports whether the external id was already
// imported for the pair. The orchestrator calls this before Insert so the
// audit entry's skipped count stays exact.
func (r *Repository) Exists(ctx context.Context, tenantID, userID string, p domain.Provider, externalID string) (bool, error) {
	const query = `SELECT EXISTS (
        SELECT 1 FROM activities
        WHERE tenant_id=$1 AND user_id=$2 AND provider=$3 AND external_id=$4)`

	var exists bool
	err := r.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, tenantID, userID, string(p), externalID).Scan(&exists)
	})
	return exists, err
}

// Insert persists one canonical activity and records the imported event in
// the outbox inside the same transaction. The unique index on the dedup
// triple is the final guard: a concurrent duplicate surfaces as
// domain.ErrDuplicateActivity rather than a second row.
func (r *Repository) Insert(ctx context.Context, activity domain.Activity) error {
	const stmt = `INSERT INTO activities
            (activity_id, tenant_id, user_id, provider, external_id, activity_type, started_at, ended_at, duration_sec, distance_km, calories, avg_heart_rate, max_heart_rate, elevation_gain_m, notes, raw_payload, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`

	err := r.withTenantTx(ctx, activity.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, stmt,
			activity.ID,
			activity.TenantID,
			activity.UserID,
			string(activity.Provider),
			activity.ExternalID,
			string(activity.Type),
			activity.StartedAt,
			activity.EndedAt,
			activity.DurationSec,
			activity.DistanceKM,
			activity.Calories,
			activity.AvgHeartRate,
			activity.MaxHeartRate,
			activity.ElevationGain,
			nullIfEmpty(activity.Notes),
			activity.RawPayload,
			activity.CreatedAt,
		)
		if err != nil {
			return err
		}

		partitionKey := fmt.Sprintf("%s:%s", activity.TenantID, activity.UserID)
		return insertOutbox(ctx, tx, activity.TenantID, "activity", activity.ID,
			"integration.activity_imported", partitionKey, events.ActivityImported{
				ActivityID:   activity.ID,
				TenantID:     activity.TenantID,
				UserID:       activity.UserID,
				Provider:     string(activity.Provider),
				ExternalID:   activity.ExternalID,
				ActivityType: string(activity.Type),
				StartedAt:    activity.StartedAt,
				DurationSec:  activity.DurationSec,
				DistanceKM:   activity.DistanceKM,
			})
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s/%s", domain.ErrDuplicateActivity, activity.Provider, activity.ExternalID)
		}
		return err
	}
	return nil
}
