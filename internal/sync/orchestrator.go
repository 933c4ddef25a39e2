// Package sync drives activity synchronization runs end to end: token
// upkeep, provider fetch, normalization, dedup, persistence, and the audit
// trail for every attempt.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/normalize"
	"example.com/integrations/internal/observability"
	"example.com/integrations/internal/provider"

	"github.com/google/uuid"
)

const defaultPageSize = 50

// Options tunes a single sync invocation.
type Options struct {
	// Force refreshes the access token even if it has not expired yet.
	Force bool
}

// Summary is the caller-visible outcome of a completed run.
type Summary struct {
	SyncedCount  int
	SkippedCount int
	AuditID      string
	// Note carries the companion-app explanation for providers that cannot
	// be pulled server-side.
	Note string
}

// Orchestrator coordinates one sync run per (user, provider) invocation.
type Orchestrator struct {
	connections domain.ConnectionStore
	activities  domain.ActivityStore
	audits      domain.AuditStore
	registry    *provider.Registry
	locks       Locker
	logger      *log.Logger
	now         func() time.Time
	pageSize    int
}

// OrchestratorOption configures optional behaviour.
type OrchestratorOption func(*Orchestrator)

// WithLogger overrides the logger used for per-run reporting.
func WithLogger(logger *log.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// WithPageSize bounds the per-run fetch size.
func WithPageSize(size int) OrchestratorOption {
	return func(o *Orchestrator) {
		if size > 0 {
			o.pageSize = size
		}
	}
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(connections domain.ConnectionStore, activities domain.ActivityStore, audits domain.AuditStore, registry *provider.Registry, locks Locker, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		connections: connections,
		activities:  activities,
		audits:      audits,
		registry:    registry,
		locks:       locks,
		logger:      log.New(log.Writer(), "[sync] ", log.LstdFlags),
		now:         func() time.Time { return time.Now().UTC() },
		pageSize:    defaultPageSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SyncProvider runs one sync for the pair. At most one run per
// (tenant, user, provider) is in flight at a time; a concurrent second
// trigger fails fast with domain.ErrSyncInFlight.
func (o *Orchestrator) SyncProvider(ctx context.Context, tenantID, userID string, p domain.Provider, opts Options) (*Summary, error) {
	adapter, err := o.registry.Adapter(p)
	if err != nil {
		return nil, err
	}

	release, acquired, err := o.locks.Acquire(ctx, lockKey(tenantID, userID, p))
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !acquired {
		return nil, domain.ErrSyncInFlight
	}
	defer release()

	// The connection must be read under the lock: a run that just finished
	// may have rotated the tokens, and refreshing with the rotated-away
	// refresh token would deactivate a healthy connection.
	conn, err := o.connections.FindActive(ctx, tenantID, userID, p)
	if err != nil {
		return nil, fmt.Errorf("lookup connection: %w", err)
	}
	if conn == nil {
		// Nothing to audit: there is no connection to attempt a sync on.
		return nil, domain.ErrNoActiveConnection
	}

	audit, err := o.audits.Open(ctx, tenantID, userID, p, o.now())
	if err != nil {
		return nil, fmt.Errorf("open audit entry: %w", err)
	}
	observability.RecordSyncStarted(p)

	summary, runErr := o.run(ctx, adapter, conn, audit, opts)
	if runErr != nil {
		o.closeFailed(ctx, audit, runErr)
		observability.RecordSyncFinished(p, "failed")
		return nil, runErr
	}

	completedAt := o.now()
	if err := o.audits.Close(ctx, audit.ID, domain.SyncStatusCompleted, summary.SyncedCount, summary.SkippedCount, nil, completedAt); err != nil {
		return nil, fmt.Errorf("close audit entry: %w", err)
	}
	if err := o.connections.TouchLastSynced(ctx, conn.ID, completedAt); err != nil {
		o.logger.Printf("touch last_synced failed (connection=%s): %v", conn.ID, err)
	}
	observability.RecordSyncFinished(p, "completed")
	observability.RecordActivitiesImported(p, summary.SyncedCount, summary.SkippedCount)

	summary.AuditID = audit.ID
	return summary, nil
}

// run executes the token/fetch/normalize/persist stages. Per-activity
// failures are counted, never fatal; stage failures abort the run.
func (o *Orchestrator) run(ctx context.Context, adapter provider.Adapter, conn *domain.Connection, audit *domain.SyncAudit, opts Options) (*Summary, error) {
	if conn.TokenExpired(o.now()) || opts.Force {
		grant, err := adapter.RefreshToken(ctx, conn)
		if err != nil {
			// The refresh token is stale or revoked; the connection is
			// unusable until the user re-authorizes.
			if deactivateErr := o.connections.Deactivate(ctx, conn.TenantID, conn.UserID, conn.Provider); deactivateErr != nil {
				o.logger.Printf("deactivate after refresh failure (connection=%s): %v", conn.ID, deactivateErr)
			}
			return nil, err
		}
		refreshToken := grant.RefreshToken
		if refreshToken == "" {
			refreshToken = conn.RefreshToken
		}
		if err := o.connections.UpdateTokens(ctx, conn.ID, grant.AccessToken, refreshToken, grant.ExpiresAt); err != nil {
			return nil, fmt.Errorf("persist refreshed tokens: %w", err)
		}
		conn.AccessToken = grant.AccessToken
		conn.RefreshToken = refreshToken
		conn.TokenExpiresAt = grant.ExpiresAt
	}

	since := time.Time{}
	if conn.LastSyncedAt != nil {
		since = *conn.LastSyncedAt
	}

	page, err := adapter.FetchActivities(ctx, conn.AccessToken, since, o.pageSize)
	if err != nil {
		return nil, err
	}
	if page.Note != "" {
		o.logger.Printf("%s: %s (tenant=%s user=%s)", conn.Provider, page.Note, conn.TenantID, conn.UserID)
	}

	summary := &Summary{Note: page.Note}
	for _, raw := range page.Activities {
		activity := normalize.Activity(conn.Provider, raw, conn.TenantID, conn.UserID)
		activity.ID = uuid.NewString()
		activity.CreatedAt = o.now()

		exists, err := o.activities.Exists(ctx, conn.TenantID, conn.UserID, conn.Provider, activity.ExternalID)
		if err != nil {
			o.logger.Printf("dedup check failed (provider=%s external_id=%s): %v", conn.Provider, activity.ExternalID, err)
			summary.SkippedCount++
			continue
		}
		if exists {
			summary.SkippedCount++
			continue
		}

		if err := o.activities.Insert(ctx, activity); err != nil {
			if errors.Is(err, domain.ErrDuplicateActivity) {
				summary.SkippedCount++
				continue
			}
			// Continue-on-error: one bad record must not lose the rest of
			// the batch.
			o.logger.Printf("persist failed (provider=%s external_id=%s): %v", conn.Provider, activity.ExternalID, err)
			summary.SkippedCount++
			continue
		}
		summary.SyncedCount++
	}
	return summary, nil
}

func (o *Orchestrator) closeFailed(ctx context.Context, audit *domain.SyncAudit, runErr error) {
	detail := runErr.Error()
	if err := o.audits.Close(ctx, audit.ID, domain.SyncStatusFailed, 0, 0, &detail, o.now()); err != nil {
		o.logger.Printf("close failed audit entry %s: %v", audit.ID, err)
	}
}

func lockKey(tenantID, userID string, p domain.Provider) string {
	return fmt.Sprintf("sync:%s:%s:%s", tenantID, userID, p)
}
