package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "portal"

// Reconciliation outcomes reported by the profile reconciler.
const (
	OutcomeFound          = "found"
	OutcomeSynthesized    = "synthesized"
	OutcomeConflictReread = "conflict_reread"
	OutcomeFailed         = "failed"
)

// Job results reported by background workers.
const (
	JobSuccess = "success"
	JobFailure = "failure"
)

// PortalMetrics records reconciliation, navigation and worker activity.
// A nil *PortalMetrics is valid and records nothing.
type PortalMetrics struct {
	reconcileDuration *prometheus.HistogramVec
	fetchAttempts     prometheus.Counter
	outcomes          *prometheus.CounterVec
	staleDiscards     prometheus.Counter
	redirects         *prometheus.CounterVec
	jobRuns           *prometheus.CounterVec
	workspaces        prometheus.Gauge
}

// NewPortalMetrics registers the portal metrics on the provided registerer.
func NewPortalMetrics(reg prometheus.Registerer) *PortalMetrics {
	if reg == nil {
		return &PortalMetrics{}
	}
	m := &PortalMetrics{
		reconcileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "profile_reconcile_duration_seconds",
			Help:      "Duration of profile reconciliation in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		fetchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_fetch_attempts_total",
			Help:      "Profile store reads issued during reconciliation.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_reconcile_total",
			Help:      "Profile reconciliations by outcome.",
		}, []string{"outcome"}),
		staleDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_stale_results_total",
			Help:      "Reconciliation results discarded because the session moved on.",
		}),
		redirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigation_redirects_total",
			Help:      "Navigation decisions that replaced the requested view.",
		}, []string{"from", "to"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Background job executions by result.",
		}, []string{"job", "result"}),
		workspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workspaces_active",
			Help:      "Client workspaces currently held in memory.",
		}),
	}
	reg.MustRegister(m.reconcileDuration, m.fetchAttempts, m.outcomes, m.staleDiscards, m.redirects, m.jobRuns, m.workspaces)
	return m
}

// ObserveReconcile records a finished reconciliation.
func (m *PortalMetrics) ObserveReconcile(outcome string, duration time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	outcome = normalizeLabel(outcome)
	m.outcomes.WithLabelValues(outcome).Inc()
	m.reconcileDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncFetchAttempt counts one profile read.
func (m *PortalMetrics) IncFetchAttempt() {
	if m == nil || m.fetchAttempts == nil {
		return
	}
	m.fetchAttempts.Inc()
}

// IncStaleDiscard counts a reconciliation result that was dropped.
func (m *PortalMetrics) IncStaleDiscard() {
	if m == nil || m.staleDiscards == nil {
		return
	}
	m.staleDiscards.Inc()
}

// IncRedirect counts a navigation request that resolved to a different view.
func (m *PortalMetrics) IncRedirect(from, to string) {
	if m == nil || m.redirects == nil {
		return
	}
	m.redirects.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// IncJob counts one run of a background job.
func (m *PortalMetrics) IncJob(job, result string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(normalizeLabel(job), normalizeLabel(result)).Inc()
}

// SetWorkspaces reports the number of live workspaces.
func (m *PortalMetrics) SetWorkspaces(n int) {
	if m == nil || m.workspaces == nil {
		return
	}
	m.workspaces.Set(float64(n))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
