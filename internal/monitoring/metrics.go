// Package monitoring exposes ingestion metrics and sends alerts when runs
// fail, accumulate errors, or stop happening.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/insiderintel/holdings-sync/internal/institutional"
)

const namespace = "holdings_sync"

// Metrics holds the Prometheus collectors fed from run summaries.
type Metrics struct {
	registry *prometheus.Registry

	runs                *prometheus.CounterVec
	filings             *prometheus.CounterVec
	institutionsCreated prometheus.Counter
	holdingsCreated     prometheus.Counter
	errors              prometheus.Counter
	duration            prometheus.Histogram
	lastSuccess         prometheus.Gauge
}

// NewMetrics registers the collectors on a fresh registry, along with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Ingestion runs by final status.",
		}, []string{"status"}),
		filings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filings_total",
			Help:      "Filings by outcome: found, processed, created, skipped.",
		}, []string{"outcome"}),
		institutionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "institutions_created_total",
			Help:      "Institutions inserted.",
		}),
		holdingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holdings_created_total",
			Help:      "Holding rows inserted.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Per-filing errors recorded.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of ingestion runs.",
			Buckets:   []float64{1, 5, 10, 20, 30, 45, 55, 60, 120, 300},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that completed without a fatal error.",
		}),
	}

	m.registry.MustRegister(
		m.runs, m.filings, m.institutionsCreated, m.holdingsCreated,
		m.errors, m.duration, m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry to serve.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records a finished run. sum may be partial when runErr is set.
func (m *Metrics) Observe(sum *institutional.Summary, runErr error) {
	status := "complete"
	if runErr != nil {
		status = "failed"
	}
	m.runs.WithLabelValues(status).Inc()

	if sum == nil {
		return
	}
	m.filings.WithLabelValues("found").Add(float64(sum.FilingsFound))
	m.filings.WithLabelValues("processed").Add(float64(sum.FilingsProcessed))
	m.filings.WithLabelValues("created").Add(float64(sum.FilingsCreated))
	m.filings.WithLabelValues("skipped").Add(float64(sum.Skipped))
	m.institutionsCreated.Add(float64(sum.InstitutionsCreated))
	m.holdingsCreated.Add(float64(sum.HoldingsCreated))
	m.errors.Add(float64(sum.ErrorCount()))
	m.duration.Observe((time.Duration(sum.DurationMS) * time.Millisecond).Seconds())

	if runErr == nil {
		ts := sum.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		m.lastSuccess.Set(float64(ts.Unix()))
	}
}
