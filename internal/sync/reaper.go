package sync

import (
	"context"
	"errors"
	"log"
	"time"

	"example.com/integrations/internal/observability"
)

const reaperDetail = "sync run abandoned: no terminal update before cutoff"

// Reaper fails audit entries stuck in running state past a cutoff. A crash
// between audit open and close leaves such a row behind; without the reaper
// it would sit in running forever and block nothing but confuse everyone.
type Reaper struct {
	audits   auditCloser
	maxAge   time.Duration
	interval time.Duration
	logger   *log.Logger

	shutdownComplete chan struct{}
}

type auditCloser interface {
	CloseStale(ctx context.Context, cutoff time.Time, detail string) (int, error)
}

// NewReaper constructs a Reaper.
func NewReaper(audits auditCloser, maxAge, interval time.Duration, logger *log.Logger) *Reaper {
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[reaper] ", log.LstdFlags)
	}
	return &Reaper{
		audits:           audits,
		maxAge:           maxAge,
		interval:         interval,
		logger:           logger,
		shutdownComplete: make(chan struct{}),
	}
}

// Start runs reap iterations until the context is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer func() {
		ticker.Stop()
		close(r.shutdownComplete)
	}()

	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Printf("reap error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (r *Reaper) Wait() {
	<-r.shutdownComplete
}

// RunOnce closes stale running entries and returns how many were reaped.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.maxAge)
	closed, err := r.audits.CloseStale(ctx, cutoff, reaperDetail)
	if err != nil {
		return 0, err
	}
	if closed > 0 {
		r.logger.Printf("closed %d stale running entries older than %s", closed, r.maxAge)
		observability.RecordStaleAuditsReaped(closed)
	}
	return closed, nil
}
