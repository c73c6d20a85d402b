// Package metrics records pipeline run metrics for Prometheus.
//
// The broker is a one-shot process, so metrics live in a private registry
// that is written to a node-exporter textfile after each run rather than
// served over HTTP.
//
// Metrics:
//   - broker_stage_runs_total{stage,outcome} - stage executions by outcome
//   - broker_stage_duration_seconds{stage} - wall time of the stage's tool
//   - broker_pipeline_last_run_timestamp_seconds{outcome} - end of the last run
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeAborted = "aborted"
)

// Recorder holds the broker's collectors.
type Recorder struct {
	registry *prometheus.Registry

	StageRuns     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	LastRun       *prometheus.GaugeVec
}

// NewRecorder creates a Recorder backed by its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		StageRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "broker",
				Subsystem: "stage",
				Name:      "runs_total",
				Help:      "Total number of stage executions by outcome",
			},
			[]string{"stage", "outcome"},
		),

		// Compilation can take tens of minutes.
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "broker",
				Subsystem: "stage",
				Name:      "duration_seconds",
				Help:      "Duration of stage tool execution in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10), // 100ms to ~7h
			},
			[]string{"stage"},
		),

		LastRun: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "broker",
				Subsystem: "pipeline",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time at which the last pipeline run finished, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStage records one stage execution.
func (r *Recorder) ObserveStage(stage, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.StageRuns.WithLabelValues(stage, outcome).Inc()
	r.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveRun records the end of a pipeline run.
func (r *Recorder) ObserveRun(outcome string, at time.Time) {
	if r == nil {
		return
	}
	r.LastRun.WithLabelValues(outcome).Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in the text exposition format to path.
// The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
