// Package metrics tracks import activity with Prometheus collectors.
// rollcall is a batch tool, so the registry is exported to a node_exporter
// textfile instead of served over HTTP.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for import runs.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	RecordsEmitted  *prometheus.CounterVec
	Duplicates      *prometheus.CounterVec
	DateWarnings    *prometheus.CounterVec
	SkippedLines    *prometheus.CounterVec
	StudentsWritten prometheus.Counter
	RunDuration     *prometheus.HistogramVec
	LastRunSuccess  prometheus.Gauge
}

// New creates a Metrics instance on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_runs_total",
			Help: "Total number of extraction runs by mode and outcome",
		}, []string{"mode", "outcome"}),
		RecordsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_records_emitted_total",
			Help: "Total number of deduplicated records produced",
		}, []string{"mode"}),
		Duplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_duplicates_total",
			Help: "Total number of records dropped as duplicates",
		}, []string{"mode"}),
		DateWarnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_date_warnings_total",
			Help: "Total number of birth dates that failed normalization",
		}, []string{"mode"}),
		SkippedLines: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_skipped_total",
			Help: "Total number of retained lines or rows that produced no record",
		}, []string{"mode"}),
		StudentsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_students_written_total",
			Help: "Total number of student rows written to the store",
		}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollcall_run_duration_seconds",
			Help:    "Duration of extraction runs including persistence",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"mode"}),
		LastRunSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "rollcall_last_run_success",
			Help: "1 if the most recent run succeeded, 0 otherwise",
		}),
	}
}

// RunStats is the subset of run statistics the collectors track.
type RunStats struct {
	RecordsEmitted int
	Duplicates     int
	DateWarnings   int
	Skipped        int
}

// ObserveRun records a finished run. Call with time.Now() at the start of the run.
func (m *Metrics) ObserveRun(mode string, s RunStats, start time.Time) {
	m.RunsTotal.WithLabelValues(mode, "ok").Inc()
	m.RecordsEmitted.WithLabelValues(mode).Add(float64(s.RecordsEmitted))
	m.Duplicates.WithLabelValues(mode).Add(float64(s.Duplicates))
	m.DateWarnings.WithLabelValues(mode).Add(float64(s.DateWarnings))
	m.SkippedLines.WithLabelValues(mode).Add(float64(s.Skipped))
	m.RunDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	m.LastRunSuccess.Set(1)
}

// ObserveFailure records a run that ended in an error.
func (m *Metrics) ObserveFailure(mode string) {
	m.RunsTotal.WithLabelValues(mode, "error").Inc()
	m.LastRunSuccess.Set(0)
}

// ObserveWritten records rows persisted by an import.
func (m *Metrics) ObserveWritten(n int) {
	m.StudentsWritten.Add(float64(n))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all collectors in the text exposition format to path,
// atomically, for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
