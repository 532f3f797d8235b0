// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package metrics exports deployment run metrics in Prometheus text format.

botdeploy is a short-lived process, so metrics are not served over HTTP.
Instead Flush writes them to a file for the node-exporter textfile
collector. All series are gauges describing the most recent run.

# Series

	botdeploy_run_last_timestamp_seconds{deployment}
	botdeploy_run_last_duration_seconds{deployment}
	botdeploy_run_last_outcome{deployment,outcome}     1 for the outcome of the last run, 0 otherwise
	botdeploy_step_last_duration_seconds{deployment,step,status}
	botdeploy_health_polls{deployment}
*/
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "botdeploy"
)

// Outcomes reported by ObserveRun.
var Outcomes = []string{"success", "warning", "failed", "cancelled"}

// Recorder receives run measurements.
type Recorder interface {
	ObserveStep(deployment, step, status string, d time.Duration)
	ObserveHealthPolls(deployment string, polls int)
	ObserveRun(deployment, outcome string, finished time.Time, d time.Duration)
	// Flush persists what was observed. A no-op for NoOpRecorder.
	Flush() error
}

// =============================================================================
// No-op
// =============================================================================

// NoOpRecorder discards everything.
type NoOpRecorder struct{}

// NewNoOpRecorder returns a NoOpRecorder.
func NewNoOpRecorder() *NoOpRecorder { return &NoOpRecorder{} }

func (NoOpRecorder) ObserveStep(string, string, string, time.Duration)   {}
func (NoOpRecorder) ObserveHealthPolls(string, int)                      {}
func (NoOpRecorder) ObserveRun(string, string, time.Time, time.Duration) {}
func (NoOpRecorder) Flush() error                                        { return nil }

// =============================================================================
// Prometheus
// =============================================================================

// TextfileRecorder records into a private registry and writes it to a
// textfile on Flush.
type TextfileRecorder struct {
	path     string
	registry *prometheus.Registry

	lastTimestamp *prometheus.GaugeVec
	lastDuration  *prometheus.GaugeVec
	lastOutcome   *prometheus.GaugeVec
	stepDuration  *prometheus.GaugeVec
	healthPolls   *prometheus.GaugeVec
}

// NewTextfileRecorder creates a recorder that writes to path.
func NewTextfileRecorder(path string) (*TextfileRecorder, error) {
	r := &TextfileRecorder{
		path:     path,
		registry: prometheus.NewRegistry(),
		lastTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "last_timestamp_seconds",
			Help:      "Unix time the last deployment run finished.",
		}, []string{"deployment"}),
		lastDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "last_duration_seconds",
			Help:      "Wall-clock duration of the last deployment run.",
		}, []string{"deployment"}),
		lastOutcome: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "last_outcome",
			Help:      "1 for the outcome of the last deployment run, 0 for the others.",
		}, []string{"deployment", "outcome"}),
		stepDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "step",
			Name:      "last_duration_seconds",
			Help:      "Duration of each workflow step in the last run.",
		}, []string{"deployment", "step", "status"}),
		healthPolls: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_polls",
			Help:      "Health polls performed in the last run.",
		}, []string{"deployment"}),
	}

	for _, c := range []prometheus.Collector{r.lastTimestamp, r.lastDuration, r.lastOutcome, r.stepDuration, r.healthPolls} {
		if err := r.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return r, nil
}

// ObserveStep implements Recorder.
func (r *TextfileRecorder) ObserveStep(deployment, step, status string, d time.Duration) {
	r.stepDuration.WithLabelValues(deployment, step, status).Set(d.Seconds())
}

// ObserveHealthPolls implements Recorder.
func (r *TextfileRecorder) ObserveHealthPolls(deployment string, polls int) {
	r.healthPolls.WithLabelValues(deployment).Set(float64(polls))
}

// ObserveRun implements Recorder.
func (r *TextfileRecorder) ObserveRun(deployment, outcome string, finished time.Time, d time.Duration) {
	r.lastTimestamp.WithLabelValues(deployment).Set(float64(finished.Unix()))
	r.lastDuration.WithLabelValues(deployment).Set(d.Seconds())
	for _, o := range Outcomes {
		v := 0.0
		if o == outcome {
			v = 1
		}
		r.lastOutcome.WithLabelValues(deployment, o).Set(v)
	}
}

// Flush implements Recorder. The file is replaced atomically.
func (r *TextfileRecorder) Flush() error {
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Registry exposes the underlying registry (tests).
func (r *TextfileRecorder) Registry() *prometheus.Registry {
	return r.registry
}

var (
	_ Recorder = NoOpRecorder{}
	_ Recorder = (*TextfileRecorder)(nil)
)
