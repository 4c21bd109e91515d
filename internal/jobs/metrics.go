// Package jobmetrics holds the Prometheus collectors shared by background
// jobs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics groups the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	expiring    *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors on registerer. A nil registerer means
// the process-wide default registry, registered at most once.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer != nil {
		return register(registerer)
	}
	defaultOnce.Do(func() {
		defaultMetrics = register(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockroom_job_runs_total",
			Help: "Job executions by job and outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockroom_job_duration_seconds",
			Help:    "Job execution time.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockroom_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}, []string{"job"}),
		expiring: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockroom_warranties_expiring",
			Help: "Sold stocks whose warranty ends inside the scan window.",
		}, []string{"window"}),
	}
	registerer.MustRegister(m.runs, m.duration, m.lastSuccess, m.expiring)
	return m
}

// Run times one job execution.
type Run struct {
	metrics *Metrics
	job     string
	started time.Time
}

// Start begins timing a run of job.
func (m *Metrics) Start(job string) *Run {
	return &Run{metrics: m, job: job, started: time.Now()}
}

// Finish records the outcome of the run and passes err through.
func (r *Run) Finish(err error) error {
	m := r.metrics
	if m == nil {
		return err
	}
	m.duration.WithLabelValues(r.job).Observe(time.Since(r.started).Seconds())
	if err != nil {
		m.runs.WithLabelValues(r.job, outcomeFailure).Inc()
		return err
	}
	m.runs.WithLabelValues(r.job, outcomeSuccess).Inc()
	m.lastSuccess.WithLabelValues(r.job).SetToCurrentTime()
	return nil
}

// SetExpiringWarranties publishes the result size of a warranty scan.
func (m *Metrics) SetExpiringWarranties(window time.Duration, count int) {
	if m == nil {
		return
	}
	m.expiring.WithLabelValues(window.String()).Set(float64(count))
}
