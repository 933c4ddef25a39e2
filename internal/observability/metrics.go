package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/integrations/internal/domain"
)

var (
	syncRunsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "integration_service",
		Subsystem: "sync",
		Name:      "runs_started_total",
		Help:      "Number of sync runs opened, per provider.",
	}, []string{"provider"})

	syncRunsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "integration_service",
		Subsystem: "sync",
		Name:      "runs_finished_total",
		Help:      "Number of sync runs closed, per provider and outcome.",
	}, []string{"provider", "status"})

	activitiesImported = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "integration_service",
		Subsystem: "sync",
		Name:      "activities_imported_total",
		Help:      "Number of canonical activities persisted, per provider.",
	}, []string{"provider"})

	activitiesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "integration_service",
		Subsystem: "sync",
		Name:      "activities_skipped_total",
		Help:      "Number of fetched activities skipped as duplicates or per-record failures, per provider.",
	}, []string{"provider"})

	staleAuditsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "integration_service",
		Subsystem: "audit",
		Name:      "stale_entries_reaped_total",
		Help:      "Number of running audit entries force-closed by the reaper.",
	})
)

func init() {
	prometheus.MustRegister(syncRunsStarted, syncRunsFinished, activitiesImported, activitiesSkipped, staleAuditsReaped)
}

// RecordSyncStarted counts an opened sync run.
func RecordSyncStarted(p domain.Provider) {
	syncRunsStarted.WithLabelValues(string(p)).Inc()
}

// RecordSyncFinished counts a closed sync run by outcome.
func RecordSyncFinished(p domain.Provider, status string) {
	syncRunsFinished.WithLabelValues(string(p), status).Inc()
}

// RecordActivitiesImported counts persisted and skipped activities for one run.
func RecordActivitiesImported(p domain.Provider, synced, skipped int) {
	if synced > 0 {
		activitiesImported.WithLabelValues(string(p)).Add(float64(synced))
	}
	if skipped > 0 {
		activitiesSkipped.WithLabelValues(string(p)).Add(float64(skipped))
	}
}

// RecordStaleAuditsReaped counts reaper force-closes.
func RecordStaleAuditsReaped(count int) {
	staleAuditsReaped.Add(float64(count))
}
