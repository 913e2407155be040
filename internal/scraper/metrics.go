package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the acquisition engine. All
// methods are nil-safe so components can run unmetered in tests.
type Metrics struct {
	Registry          *prometheus.Registry
	ListingsTotal     *prometheus.CounterVec
	PagesFetchedTotal *prometheus.CounterVec
	RowsSkippedTotal  *prometheus.CounterVec
	RunsTotal         *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	WriteFailures     prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	listings := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listingworker_listings_total",
			Help: "Total listings extracted, by source.",
		},
		[]string{"source"},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listingworker_pages_fetched_total",
			Help: "Total page fetch attempts, by source.",
		},
		[]string{"source"},
	)
	skipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listingworker_rows_skipped_total",
			Help: "Total listing rows skipped due to row-level errors, by source.",
		},
		[]string{"source"},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listingworker_runs_total",
			Help: "Total acquisition runs, by source and outcome.",
		},
		[]string{"source", "outcome"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "listingworker_run_duration_seconds",
			Help:    "Duration of acquisition runs, by source.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"source"},
	)
	writeFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "listingworker_sink_write_failures_total",
			Help: "Total sink append failures.",
		},
	)

	registry.MustRegister(listings, pages, skipped, runs, runDuration, writeFailures)

	return &Metrics{
		Registry:          registry,
		ListingsTotal:     listings,
		PagesFetchedTotal: pages,
		RowsSkippedTotal:  skipped,
		RunsTotal:         runs,
		RunDuration:       runDuration,
		WriteFailures:     writeFailures,
	}
}

// AddListings increments the listings counter for a source.
func (m *Metrics) AddListings(source string, n int) {
	if m == nil {
		return
	}
	m.ListingsTotal.WithLabelValues(source).Add(float64(n))
}

// IncPageFetch increments the page fetch counter for a source.
func (m *Metrics) IncPageFetch(source string) {
	if m == nil {
		return
	}
	m.PagesFetchedTotal.WithLabelValues(source).Inc()
}

// IncRowSkipped increments the skipped rows counter for a source.
func (m *Metrics) IncRowSkipped(source string) {
	if m == nil {
		return
	}
	m.RowsSkippedTotal.WithLabelValues(source).Inc()
}

// IncRun increments the runs counter for a source and outcome.
func (m *Metrics) IncRun(source, outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveRunDuration records the duration of one run for a source.
func (m *Metrics) ObserveRunDuration(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(source).Observe(d.Seconds())
}

// IncWriteFailure increments the sink write failure counter.
func (m *Metrics) IncWriteFailure() {
	if m == nil {
		return
	}
	m.WriteFailures.Inc()
}
