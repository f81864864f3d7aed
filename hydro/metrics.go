package hydro

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "riser_hydro"

const (
	OutcomeWritten = "written"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// batchMetrics are per-runner collectors for one batch invocation. They are
// written to a node-exporter textfile rather than served.
type batchMetrics struct {
	reg       *prometheus.Registry
	entries   *prometheus.CounterVec
	artifacts *prometheus.CounterVec
	rows      *prometheus.CounterVec
	reports   prometheus.Counter
	duration  prometheus.Gauge
	lastRun   prometheus.Gauge
}

func newBatchMetrics() *batchMetrics {
	m := &batchMetrics{
		reg: prometheus.NewRegistry(),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "entries_total",
			Help:      "Manifest entries handled, partitioned by outcome.",
		}, []string{"outcome"}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "artifacts_total",
			Help:      "Windowed tables handled, partitioned by layout and outcome.",
		}, []string{"layout", "outcome"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rows_total",
			Help:      "Raw rows by fate: kept, incomplete, or outside the window.",
		}, []string{"layout", "fate"}),
		reports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reports_total",
			Help:      "Result tables written.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last command.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last command finished.",
		}),
	}
	m.reg.MustRegister(m.entries, m.artifacts, m.rows, m.reports, m.duration, m.lastRun)
	return m
}

func (m *batchMetrics) observeRows(layout string, kept, incomplete, outside int) {
	m.rows.WithLabelValues(layout, "kept").Add(float64(kept))
	m.rows.WithLabelValues(layout, "incomplete").Add(float64(incomplete))
	m.rows.WithLabelValues(layout, "outside").Add(float64(outside))
}

func (m *batchMetrics) finish(start time.Time) {
	now := time.Now()
	m.duration.Set(now.Sub(start).Seconds())
	m.lastRun.Set(float64(now.Unix()))
}

// writeTextfile is a no-op when path is empty.
func (m *batchMetrics) writeTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.reg)
}
