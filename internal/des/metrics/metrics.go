// Package metrics declares the Prometheus collectors shared by the
// Governor and the Audit Log Writer, grounded on the teacher pack's
// pkg/prefetch/metrics.go convention: a struct of collectors built with
// promauto against an explicit registry (never the global
// DefaultRegisterer, so tests and multiple DES instances in one process
// never collide on "duplicate metrics collector registration").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector DES registers.
type Metrics struct {
	TurnsUsed          *prometheus.GaugeVec
	PhaseDuration       *prometheus.HistogramVec
	ThresholdWarnings   *prometheus.CounterVec
	BudgetExceededTotal *prometheus.CounterVec
	ExtensionsGranted   prometheus.Counter
	ExtensionsDenied    prometheus.Counter

	AuditEventsTotal    *prometheus.CounterVec
	AuditWriteFailures  prometheus.Counter
}

// New registers DES's collectors against reg and returns the holder.
// Both production (cmd/des, whose `des metrics-server` serves that
// registry) and tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	fac := promauto.With(reg)
	return &Metrics{
		TurnsUsed: fac.NewGaugeVec(prometheus.GaugeOpts{
			Name: "des_governor_turns_used",
			Help: "Turns consumed by the current phase.",
		}, []string{"phase"}),

		PhaseDuration: fac.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "des_phase_duration_minutes",
			Help:    "Wall-clock duration of a completed phase, in minutes.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"phase", "status"}),

		ThresholdWarnings: fac.NewCounterVec(prometheus.CounterOpts{
			Name: "des_governor_threshold_warnings_total",
			Help: "Turn/timeout threshold warnings emitted, by threshold.",
		}, []string{"phase", "threshold"}),

		BudgetExceededTotal: fac.NewCounterVec(prometheus.CounterOpts{
			Name: "des_governor_budget_exceeded_total",
			Help: "Phases that exceeded their turn or time budget.",
		}, []string{"phase", "kind"}),

		ExtensionsGranted: fac.NewCounter(prometheus.CounterOpts{
			Name: "des_governor_extensions_granted_total",
			Help: "Extension requests granted.",
		}),

		ExtensionsDenied: fac.NewCounter(prometheus.CounterOpts{
			Name: "des_governor_extensions_denied_total",
			Help: "Extension requests denied.",
		}),

		AuditEventsTotal: fac.NewCounterVec(prometheus.CounterOpts{
			Name: "des_audit_events_total",
			Help: "Audit events logged, by event type.",
		}, []string{"event"}),

		AuditWriteFailures: fac.NewCounter(prometheus.CounterOpts{
			Name: "des_audit_write_failures_total",
			Help: "Audit log writes that failed to persist.",
		}),
	}
}
