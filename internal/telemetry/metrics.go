// Package telemetry provides Prometheus metrics for estimator runs and writes
// them in the node_exporter textfile format.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rewired-gh/clickjudge/internal/estimator"
)

// Metric names
const (
	MetricRunsTotal        = "clickjudge_runs_total"
	MetricRunDuration      = "clickjudge_run_duration_seconds"
	MetricEvents           = "clickjudge_events"
	MetricPairs            = "clickjudge_pairs"
	MetricJudgments        = "clickjudge_judgments"
	MetricDroppedContexts  = "clickjudge_dropped_contexts"
	MetricRejectedPairs    = "clickjudge_rejected_pairs"
	MetricPrior            = "clickjudge_prior"
	MetricLastRunTimestamp = "clickjudge_last_run_timestamp_seconds"
)

// Run status labels
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics contains Prometheus metrics for estimator runs, labeled by dataset.
// All operations are thread-safe.
type Metrics struct {
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	events          *prometheus.GaugeVec
	pairs           *prometheus.GaugeVec
	judgments       *prometheus.GaugeVec
	droppedContexts *prometheus.GaugeVec
	rejectedPairs   *prometheus.GaugeVec
	prior           *prometheus.GaugeVec
	lastRun         *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance. The metrics are not registered;
// call Register to register them with a registry.
func NewMetrics() *Metrics {
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	}
	return &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRunsTotal,
				Help: "Total number of estimator runs by dataset and status",
			},
			[]string{"dataset", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricRunDuration,
				Help:    "Histogram of estimator run duration in seconds by dataset",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"dataset"},
		),
		events:          gauge(MetricEvents, "Number of valid events aggregated in the last run", "dataset"),
		pairs:           gauge(MetricPairs, "Number of distinct query-document pairs in the last run", "dataset"),
		judgments:       gauge(MetricJudgments, "Number of judgments produced in the last run", "dataset"),
		droppedContexts: gauge(MetricDroppedContexts, "Number of degenerate contexts excluded from the prior in the last run", "dataset"),
		rejectedPairs:   gauge(MetricRejectedPairs, "Number of pairs rejected for invalid shape parameters in the last run", "dataset"),
		prior:           gauge(MetricPrior, "Prior parameters of the last run", "dataset", "param"),
		lastRun:         gauge(MetricLastRunTimestamp, "Unix time of the last run", "dataset", "status"),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.runsTotal,
		m.runDuration,
		m.events,
		m.pairs,
		m.judgments,
		m.droppedContexts,
		m.rejectedPairs,
		m.prior,
		m.lastRun,
	}
}

// ObserveRun records a successful run of dataset.
func (m *Metrics) ObserveRun(dataset string, res *estimator.Result, elapsed time.Duration) {
	m.runsTotal.WithLabelValues(dataset, StatusSuccess).Inc()
	m.runDuration.WithLabelValues(dataset).Observe(elapsed.Seconds())
	m.events.WithLabelValues(dataset).Set(float64(res.Events))
	m.pairs.WithLabelValues(dataset).Set(float64(res.Pairs))
	m.judgments.WithLabelValues(dataset).Set(float64(len(res.Judgments)))
	m.droppedContexts.WithLabelValues(dataset).Set(float64(res.DroppedContexts))
	m.rejectedPairs.WithLabelValues(dataset).Set(float64(len(res.Rejected)))
	m.prior.WithLabelValues(dataset, "mu").Set(res.Prior.Mu)
	m.prior.WithLabelValues(dataset, "sigma2").Set(res.Prior.Sigma2)
	m.lastRun.WithLabelValues(dataset, StatusSuccess).SetToCurrentTime()
}

// ObserveFailure records a failed run of dataset.
func (m *Metrics) ObserveFailure(dataset string, elapsed time.Duration) {
	m.runsTotal.WithLabelValues(dataset, StatusFailure).Inc()
	m.runDuration.WithLabelValues(dataset).Observe(elapsed.Seconds())
	m.lastRun.WithLabelValues(dataset, StatusFailure).SetToCurrentTime()
}

// WriteTextfile writes everything gathered from g to path in the text
// exposition format, creating the parent directory when needed.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
