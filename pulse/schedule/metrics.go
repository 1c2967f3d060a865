package schedule

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Skip reasons for dropped ticks.
const (
	SkipRunning  = "running"
	SkipDisabled = "disabled"
)

// Metrics holds Prometheus metrics for the scheduler. A nil *Metrics is
// valid and records nothing.
//
// Metrics:
//   - grove_job_executions_total{job,status} - executions by outcome
//   - grove_job_execution_duration_seconds{job} - handler run time
//   - grove_job_ticks_skipped_total{job,reason} - ticks dropped by the guard
//   - grove_jobs_disabled - jobs currently disabled by their failure limit
//   - grove_jobs_armed - jobs with a live timer
type Metrics struct {
	ExecutionsTotal *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
	TicksSkipped    *prometheus.CounterVec
	JobsDisabled    prometheus.Gauge
	JobsArmed       prometheus.Gauge
}

// NewMetrics creates the scheduler metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grove_job_executions_total",
				Help: "Total number of job executions by outcome",
			},
			[]string{"job", "status"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grove_job_execution_duration_seconds",
				Help:    "Duration of job executions in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 4, 10), // 5ms to ~22min
			},
			[]string{"job"},
		),
		TicksSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grove_job_ticks_skipped_total",
				Help: "Total number of ticks dropped because the job was running or disabled",
			},
			[]string{"job", "reason"},
		),
		JobsDisabled: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "grove_jobs_disabled",
				Help: "Number of jobs disabled after reaching their failure limit",
			},
		),
		JobsArmed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "grove_jobs_armed",
				Help: "Number of jobs with an armed timer",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.ExecutionsTotal, m.Duration, m.TicksSkipped, m.JobsDisabled, m.JobsArmed)
	}
	return m
}

func (m *Metrics) recordExecution(job, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(job, status).Inc()
	m.Duration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) recordSkip(job, reason string) {
	if m == nil {
		return
	}
	m.TicksSkipped.WithLabelValues(job, reason).Inc()
}

func (m *Metrics) setArmed(n int) {
	if m == nil {
		return
	}
	m.JobsArmed.Set(float64(n))
}

func (m *Metrics) setDisabled(n int) {
	if m == nil {
		return
	}
	m.JobsDisabled.Set(float64(n))
}
