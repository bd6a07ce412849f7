// Package metrics defines the Prometheus collectors for the sync pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync holds the collectors recorded by the sync scheduler.
type Sync struct {
	// Ticks counts scheduler wake-ups by outcome ("ok" or "error").
	Ticks *prometheus.CounterVec
	// Runs counts per-binding reconciliations by recorded status.
	Runs *prometheus.CounterVec
	// Users counts individual user outcomes by action.
	Users *prometheus.CounterVec
	// Duration observes the wall-clock time of one reconciliation.
	Duration prometheus.Histogram
}

// NewSync registers the sync collectors with reg and returns them.
func NewSync(reg prometheus.Registerer) *Sync {
	factory := promauto.With(reg)
	return &Sync{
		Ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_sync_ticks_total",
			Help: "Scheduler ticks by outcome.",
		}, []string{"status"}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_sync_runs_total",
			Help: "Per-provider reconciliation runs by status.",
		}, []string{"status"}),
		Users: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_sync_users_total",
			Help: "User outcomes applied by the reconciliation engine.",
		}, []string{"action"}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "roster_sync_duration_seconds",
			Help:    "Wall-clock duration of one provider reconciliation.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}
