package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	mismatches prometheus.Counter
	repaired   prometheus.Counter
	published  prometheus.Counter
	pending    prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddMismatches counts balances found to differ from the ledger.
func (m *Metrics) AddMismatches(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mismatches.Add(float64(n))
}

// AddRepaired counts balances rewritten from the ledger.
func (m *Metrics) AddRepaired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.repaired.Add(float64(n))
}

// AddPublished counts outbox events handed to the queue.
func (m *Metrics) AddPublished(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.published.Add(float64(n))
}

// SetPending records the outbox backlog.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	mismatches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_balance_mismatches_total",
		Help: "Materialized balances found to differ from the movement ledger.",
	})
	repaired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_balance_repairs_total",
		Help: "Materialized balances rewritten from the movement ledger.",
	})
	published := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_outbox_published_total",
		Help: "Movement-posted events relayed from the outbox to the queue.",
	})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_outbox_pending",
		Help: "Movement-posted events waiting in the outbox.",
	})
	registerer.MustRegister(runs, failures, duration, mismatches, repaired, published, pending)
	return &Metrics{
		runs:       runs,
		failures:   failures,
		duration:   duration,
		mismatches: mismatches,
		repaired:   repaired,
		published:  published,
		pending:    pending,
	}
}
