package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// Metrics exposes loop activity to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	decisions     *prometheus.CounterVec
	executions    *prometheus.CounterVec
	conflicts     prometheus.Counter
	fetchFailures *prometheus.CounterVec
	passDuration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_adjustment_decisions_total",
			Help: "Adjustment engine decisions by pass and action.",
		}, []string{"pass", "action"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_executions_total",
			Help: "Programme executions by outcome.",
		}, []string{"outcome"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "irrigation_store_conflicts_total",
			Help: "Optimistic version conflicts detected on save.",
		}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_forecast_fetch_failures_total",
			Help: "Forecast fetch failures by station.",
		}, []string{"station"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "irrigation_pass_duration_seconds",
			Help:    "Duration of execution and adjustment passes.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pass"}),
	}
	reg.MustRegister(m.decisions, m.executions, m.conflicts, m.fetchFailures, m.passDuration)
	return m
}

func (m *Metrics) decision(pass, action string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(pass, action).Inc()
}

func (m *Metrics) execution(outcome string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) fetchFailure(station string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(station).Inc()
}

func (m *Metrics) observePass(pass string, started time.Time) {
	if m == nil {
		return
	}
	m.passDuration.WithLabelValues(pass).Observe(time.Since(started).Seconds())
}

// Stats are lightweight run counters for the health endpoint.
type Stats struct {
	ExecutionRuns  atomic.Int64
	AdjustmentRuns atomic.Int64
	Executed       atomic.Int64
	Failed         atomic.Int64
	Adjusted       atomic.Int64
	Postponed      atomic.Int64
	// unix milliseconds, 0 until the first run
	LastExecution  atomic.Int64
	LastAdjustment atomic.Int64
}

// Snapshot returns the counters as a plain map.
func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"executionRuns":  s.ExecutionRuns.Load(),
		"adjustmentRuns": s.AdjustmentRuns.Load(),
		"executed":       s.Executed.Load(),
		"failed":         s.Failed.Load(),
		"adjusted":       s.Adjusted.Load(),
		"postponed":      s.Postponed.Load(),
		"lastExecution":  unixMillis(s.LastExecution.Load()),
		"lastAdjustment": unixMillis(s.LastAdjustment.Load()),
	}
}

func unixMillis(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
