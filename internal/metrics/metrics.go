// Package metrics counts scans and tasks with Prometheus collectors and
// writes them to a node-exporter textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"modidx/internal/modidx"
)

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	registry       *prometheus.Registry
	scans          *prometheus.CounterVec
	scanFiles      *prometheus.CounterVec
	scanDuration   prometheus.Histogram
	tasksSubmitted prometheus.Counter
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modidx_scans_total",
			Help: "Scans run, by result.",
		}, []string{"result"}),
		scanFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modidx_scan_files_total",
			Help: "Files classified by scans, by kind.",
		}, []string{"kind"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "modidx_scan_duration_seconds",
			Help:    "Wall time of successful scans.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modidx_tasks_submitted_total",
			Help: "Units of work submitted to the task service.",
		}),
	}
	m.registry.MustRegister(m.scans, m.scanFiles, m.scanDuration, m.tasksSubmitted)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveScan records the outcome of one scan. summary may be nil when
// err is set.
func (m *Metrics) ObserveScan(summary *modidx.ScanSummary, err error) {
	if err != nil || summary == nil {
		m.scans.WithLabelValues("failed").Inc()
		return
	}
	m.scans.WithLabelValues("ok").Inc()
	m.scanFiles.WithLabelValues("added").Add(float64(summary.Added))
	m.scanFiles.WithLabelValues("changed").Add(float64(summary.Changed))
	m.scanFiles.WithLabelValues("removed").Add(float64(summary.Removed))
	m.scanFiles.WithLabelValues("skipped").Add(float64(summary.Skipped))
	m.scanDuration.Observe(summary.Duration.Seconds())
}

// TaskSubmitted counts one submission.
func (m *Metrics) TaskSubmitted() {
	m.tasksSubmitted.Inc()
}

// WriteTextfile writes the current values to path in the text exposition
// format. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
