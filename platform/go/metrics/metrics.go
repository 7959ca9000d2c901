// Package metrics holds the Prometheus collectors shared by the inactivity engine and the job runner.
// A nil *Collectors is valid and records nothing, which keeps tests and the CLI free of registries.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "campus"

// Collectors groups every metric the engine exports.
type Collectors struct {
	studentsChecked     *prometheus.CounterVec
	markedInactive      *prometheus.CounterVec
	skippedNoHistory    *prometheus.CounterVec
	itemErrors          *prometheus.CounterVec
	notices             *prometheus.CounterVec
	reactivations       *prometheus.CounterVec
	jobRuns             *prometheus.CounterVec
	jobAttempts         *prometheus.HistogramVec
	consecutiveFailures *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		studentsChecked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inactivity", Name: "students_checked_total",
			Help: "Students evaluated by the inactivity sweep.",
		}, []string{"branch"}),
		markedInactive: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inactivity", Name: "marked_inactive_total",
			Help: "Students transitioned to inactive by policy.",
		}, []string{"branch"}),
		skippedNoHistory: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inactivity", Name: "skipped_no_history_total",
			Help: "Students skipped because they never attended.",
		}, []string{"branch"}),
		itemErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inactivity", Name: "item_errors_total",
			Help: "Per-student or per-branch failures isolated during a run.",
		}, []string{"run", "stage"}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inactivity", Name: "notices_total",
			Help: "At-risk notices by outcome.",
		}, []string{"outcome"}),
		reactivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inactivity", Name: "reactivations_total",
			Help: "Auto-reactivation hook invocations by outcome.",
		}, []string{"outcome"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "job", Name: "runs_total",
			Help: "Scheduled job invocations by outcome.",
		}, []string{"job", "outcome"}),
		jobAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "job", Name: "attempts",
			Help:    "Attempts needed per job invocation.",
			Buckets: []float64{1, 2, 3, 5, 8},
		}, []string{"job"}),
		consecutiveFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "job", Name: "consecutive_failures",
			Help: "Current failure streak per job.",
		}, []string{"job"}),
	}

	if reg != nil {
		reg.MustRegister(
			c.studentsChecked, c.markedInactive, c.skippedNoHistory, c.itemErrors,
			c.notices, c.reactivations, c.jobRuns, c.jobAttempts, c.consecutiveFailures,
		)
	}
	return c
}

// SweepBranch records the per-branch totals of one sweep.
func (c *Collectors) SweepBranch(branch string, checked, marked, skipped int) {
	if c == nil {
		return
	}
	c.studentsChecked.WithLabelValues(branch).Add(float64(checked))
	c.markedInactive.WithLabelValues(branch).Add(float64(marked))
	c.skippedNoHistory.WithLabelValues(branch).Add(float64(skipped))
}

// ItemError counts one isolated failure. run is "sweep" or "notify".
func (c *Collectors) ItemError(run, stage string) {
	if c == nil {
		return
	}
	c.itemErrors.WithLabelValues(run, stage).Inc()
}

// Notice counts one notice attempt.
func (c *Collectors) Notice(sent bool) {
	if c == nil {
		return
	}
	outcome := "failed"
	if sent {
		outcome = "sent"
	}
	c.notices.WithLabelValues(outcome).Inc()
}

// Reactivation counts one hook invocation ("reactivated", "noop", "conflict", "error").
func (c *Collectors) Reactivation(outcome string) {
	if c == nil {
		return
	}
	c.reactivations.WithLabelValues(outcome).Inc()
}

// JobFinished implements jobs.Observer.
func (c *Collectors) JobFinished(job string, success bool, attempts int, consecutiveFailures int) {
	if c == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.jobRuns.WithLabelValues(job, outcome).Inc()
	c.jobAttempts.WithLabelValues(job).Observe(float64(attempts))
	c.consecutiveFailures.WithLabelValues(job).Set(float64(consecutiveFailures))
}
