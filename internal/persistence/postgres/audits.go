package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/platform/events"
)

const auditColumns = `audit_id, tenant_id, user_id, provider, status, started_at, completed_at, synced_count, skipped_count, error_detail`

// Open inserts a new audit entry in running state.
func (r *Repository) Open(ctx context.Context, tenantID, userID string, p domain.Provider, startedAt time.Time) (*domain.SyncAudit, error) {
	audit := &domain.SyncAudit{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		UserID:    userID,
		Provider:  p,
		Status:    domain.SyncStatusRunning,
		StartedAt: startedAt.UTC(),
	}

	const stmt = `INSERT INTO sync_audit
            (audit_id, tenant_id, user_id, provider, status, started_at, synced_count, skipped_count)
        VALUES ($1,$2,$3,$4,$5,$6,0,0)`

	err := r.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, stmt, audit.ID, tenantID, userID, string(p), string(audit.Status), audit.StartedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return audit, nil
}

// Close applies the single terminal update and records the sync_completed
// event in the outbox within the same transaction. The status guard in the
// WHERE clause makes terminal entries immutable: a second close hits zero
// rows and reports domain.ErrAuditClosed.
func (r *Repository) Close(ctx context.Context, auditID string, status domain.SyncStatus, syncedCount, skippedCount int, errorDetail *string, completedAt time.Time) error {
	const stmt = `UPDATE sync_audit
        SET status=$2, synced_count=$3, skipped_count=$4, error_detail=$5, completed_at=$6
        WHERE audit_id=$1 AND status='running'
        RETURNING tenant_id, user_id, provider`

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var tenantID, userID, providerName string
	err = tx.QueryRow(ctx, stmt, auditID, string(status), syncedCount, skippedCount, errorDetail, completedAt.UTC()).
		Scan(&tenantID, &userID, &providerName)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("%w: %s", domain.ErrAuditClosed, auditID)
		}
		return err
	}

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if err := insertOutbox(ctx, tx, tenantID, "sync_audit", auditID,
		"integration.sync_completed", auditID, events.SyncCompleted{
			AuditID:      auditID,
			TenantID:     tenantID,
			UserID:       userID,
			Provider:     providerName,
			Status:       string(status),
			SyncedCount:  syncedCount,
			SkippedCount: skippedCount,
			OccurredAt:   completedAt.UTC(),
		}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListForUser returns recent audit entries, most recent first.
func (r *Repository) ListForUser(ctx context.Context, tenantID, userID string, limit int) ([]domain.SyncAudit, error) {
	if limit <= 0 {
		limit = 20
	}

	const query = `SELECT ` + auditColumns + `
        FROM sync_audit
        WHERE tenant_id=$1 AND user_id=$2
        ORDER BY started_at DESC
        LIMIT $3`

	var out []domain.SyncAudit
	err := r.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID, userID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				audit        domain.SyncAudit
				providerName string
				status       string
			)
			if err := rows.Scan(
				&audit.ID,
				&audit.TenantID,
				&audit.UserID,
				&providerName,
				&status,
				&audit.StartedAt,
				&audit.CompletedAt,
				&audit.SyncedCount,
				&audit.SkippedCount,
				&audit.ErrorDetail,
			); err != nil {
				return err
			}
			audit.Provider = domain.Provider(providerName)
			audit.Status = domain.SyncStatus(status)
			out = append(out, audit)
		}
		return rows.Err()
	})
	return out, err
}

// CloseStale fails running entries whose run started before the cutoff.
// No outbox event: reaped entries reflect a crash, not a completed run.
func (r *Repository) CloseStale(ctx context.Context, cutoff time.Time, detail string) (int, error) {
	const stmt = `UPDATE sync_audit
        SET status='failed', error_detail=$2, completed_at=NOW()
        WHERE status='running' AND started_at < $1`

	tag, err := r.pool.Exec(ctx, stmt, cutoff.UTC(), detail)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
