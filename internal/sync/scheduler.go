package sync

import (
	"context"
	"errors"
	"log"
	"time"

	"example.com/integrations/internal/domain"
)

// Scheduler fans a fleet-wide sync out over every active connection on an
// interval. Each (user, provider) pair is an independent unit of work;
// concurrency is bounded by a worker pool.
type Scheduler struct {
	orchestrator *Orchestrator
	connections  domain.ConnectionStore
	interval     time.Duration
	workers      int
	logger       *log.Logger

	shutdownComplete chan struct{}
}

// NewScheduler constructs a Scheduler.
func NewScheduler(orchestrator *Orchestrator, connections domain.ConnectionStore, interval time.Duration, workers int, logger *log.Logger) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[scheduler] ", log.LstdFlags)
	}
	return &Scheduler{
		orchestrator:     orchestrator,
		connections:      connections,
		interval:         interval,
		workers:          workers,
		logger:           logger,
		shutdownComplete: make(chan struct{}),
	}
}

// Start runs sweep iterations until the context is cancelled. It should be
// called in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.shutdownComplete)
	}()

	for {
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Printf("sweep error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (s *Scheduler) Wait() {
	<-s.shutdownComplete
}

// RunOnce syncs every active connection once and returns the first listing
// error. Per-pair sync failures are logged, not propagated: one broken
// provider must not stall the sweep.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	conns, err := s.connections.ListActive(ctx)
	if err != nil {
		return err
	}

	work := make(chan domain.Connection)
	done := make(chan struct{})

	for i := 0; i < s.workers; i++ {
		go func() {
			for conn := range work {
				s.syncOne(ctx, conn)
			}
			done <- struct{}{}
		}()
	}

	for _, conn := range conns {
		select {
		case <-ctx.Done():
			close(work)
			for i := 0; i < s.workers; i++ {
				<-done
			}
			return ctx.Err()
		case work <- conn:
		}
	}
	close(work)
	for i := 0; i < s.workers; i++ {
		<-done
	}
	return nil
}

func (s *Scheduler) syncOne(ctx context.Context, conn domain.Connection) {
	summary, err := s.orchestrator.SyncProvider(ctx, conn.TenantID, conn.UserID, conn.Provider, Options{})
	switch {
	case errors.Is(err, domain.ErrSyncInFlight):
		// A manual trigger beat us to it; the scheduled pass is redundant.
	case errors.Is(err, domain.ErrNoActiveConnection):
		// Disconnected between listing and syncing.
	case err != nil:
		s.logger.Printf("sync failed (tenant=%s user=%s provider=%s): %v", conn.TenantID, conn.UserID, conn.Provider, err)
	default:
		s.logger.Printf("sync completed (tenant=%s user=%s provider=%s synced=%d skipped=%d)",
			conn.TenantID, conn.UserID, conn.Provider, summary.SyncedCount, summary.SkippedCount)
	}
}
