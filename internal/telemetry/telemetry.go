/*
Copyright 2020 GramLabs, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package telemetry emits the engine's structured lifecycle events
// (study.start, trial.complete, pruner.decision, ...) through zap, and
// optionally mirrors a subset of them as Prometheus counters/histograms.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Event names, fixed per spec.md §4.8. Never derive one dynamically from
// user input -- they are a closed set, logged as a structured field.
const (
	EventStudyStart     = "study.start"
	EventStudyStop      = "study.stop"
	EventTrialStart     = "trial.start"
	EventTrialComplete  = "trial.complete"
	EventTrialPrune     = "trial.prune"
	EventTrialFail      = "trial.fail"
	EventSamplerSuggest = "sampler.suggest"
	EventPrunerDecision = "pruner.decision"
	EventStoreError     = "store.error"
)

// Recorder emits engine events. It wraps a zap.Logger for structured
// logging and, when metrics is non-nil, mirrors trial-lifecycle events
// into a fixed set of Prometheus collectors.
type Recorder struct {
	log     *zap.Logger
	metrics *Metrics
}

// New builds a Recorder from an existing zap logger (the caller owns its
// lifecycle -- Sync on shutdown). A nil logger falls back to zap.NewNop().
func New(log *zap.Logger, metrics *Metrics) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{log: log, metrics: metrics}
}

// Fields is the structured payload attached to every event: study id,
// trial id where applicable, timing, and a small fixed set of
// measurements, per spec.md §4.8.
type Fields struct {
	StudyID  string
	TrialID  string
	Duration time.Duration
	Score    *float64
	Bracket  *int
	Message  string
}

func (f Fields) zapFields() []zap.Field {
	fields := make([]zap.Field, 0, 6)
	if f.StudyID != "" {
		fields = append(fields, zap.String("study_id", f.StudyID))
	}
	if f.TrialID != "" {
		fields = append(fields, zap.String("trial_id", f.TrialID))
	}
	if f.Duration > 0 {
		fields = append(fields, zap.Duration("duration", f.Duration))
	}
	if f.Score != nil {
		fields = append(fields, zap.Float64("score", *f.Score))
	}
	if f.Bracket != nil {
		fields = append(fields, zap.Int("bracket", *f.Bracket))
	}
	if f.Message != "" {
		fields = append(fields, zap.String("message", f.Message))
	}
	return fields
}

// Emit logs a structured event at info level, except store.error and
// trial.fail which log at warn/error respectively.
func (r *Recorder) Emit(event string, f Fields) {
	fields := append([]zap.Field{zap.String("event", event)}, f.zapFields()...)
	switch event {
	case EventStoreError:
		r.log.Warn(event, fields...)
	case EventTrialFail:
		r.log.Error(event, fields...)
	default:
		r.log.Info(event, fields...)
	}
	if r.metrics != nil {
		r.metrics.observe(event, f)
	}
}

// Metrics holds the Prometheus collectors mirroring trial-lifecycle
// events. Registering the same Metrics with two Recorders would double-
// register collectors, so callers construct one Metrics per process.
type Metrics struct {
	trialsTotal   *prometheus.CounterVec
	trialDuration *prometheus.HistogramVec
	prunerDecided *prometheus.CounterVec
	storeErrors   prometheus.Counter
}

// NewMetrics registers the engine's Prometheus collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		trialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "optimize_engine",
			Name:      "trials_total",
			Help:      "Total trials by terminal status.",
		}, []string{"status"}),
		trialDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "optimize_engine",
			Name:      "trial_duration_seconds",
			Help:      "Trial wall-clock duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		prunerDecided: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "optimize_engine",
			Name:      "pruner_decisions_total",
			Help:      "Pruner decisions by outcome.",
		}, []string{"decision"}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "optimize_engine",
			Name:      "store_errors_total",
			Help:      "Store operation failures observed by the executor.",
		}),
	}
	reg.MustRegister(m.trialsTotal, m.trialDuration, m.prunerDecided, m.storeErrors)
	return m
}

func (m *Metrics) observe(event string, f Fields) {
	switch event {
	case EventTrialComplete:
		m.trialsTotal.WithLabelValues("completed").Inc()
		m.trialDuration.WithLabelValues("completed").Observe(f.Duration.Seconds())
	case EventTrialPrune:
		m.trialsTotal.WithLabelValues("pruned").Inc()
		m.trialDuration.WithLabelValues("pruned").Observe(f.Duration.Seconds())
		m.prunerDecided.WithLabelValues("prune").Inc()
	case EventTrialFail:
		m.trialsTotal.WithLabelValues("failed").Inc()
		m.trialDuration.WithLabelValues("failed").Observe(f.Duration.Seconds())
	case EventStoreError:
		m.storeErrors.Inc()
	}
}
