// Package monitoring exposes pipeline metrics and sends alerts for failed
// runs, rising failure rates and data drift.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tradehub/tradehub-cli/internal/model"
)

const namespace = "tradehub"

// Metrics records pipeline outcomes on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	runs           *prometheus.CounterVec
	staleRejected  *prometheus.CounterVec
	invalid        *prometheus.CounterVec
	driftWarnings  *prometheus.CounterVec
	suggestions    *prometheus.GaugeVec
	stageDuration  *prometheus.HistogramVec
	pollIterations *prometheus.CounterVec
	repairs        *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Strategy runs by final status.",
		}, []string{"strategy", "status"}),
		staleRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_rejected_total",
			Help:      "Records rejected by the freshness gate.",
		}, []string{"strategy"}),
		invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_records_total",
			Help:      "Records excluded because a field failed to parse.",
		}, []string{"strategy"}),
		driftWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_warnings_total",
			Help:      "Validator findings beyond tolerance.",
		}, []string{"strategy"}),
		suggestions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "suggestions",
			Help:      "Suggestions in the last published file.",
		}, []string{"strategy"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		pollIterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_iterations_total",
			Help:      "Watch loop iterations by mode and outcome.",
		}, []string{"mode", "outcome"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repair_files_total",
			Help:      "Suggestion files seen by the repairer by outcome.",
		}, []string{"outcome"}),
	}
	m.reg.MustRegister(
		m.runs, m.staleRejected, m.invalid, m.driftWarnings,
		m.suggestions, m.stageDuration, m.pollIterations, m.repairs,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveRun records a finished strategy run.
func (m *Metrics) ObserveRun(r *model.RunResult) {
	if r == nil {
		return
	}
	strategy := string(r.Strategy)
	status := model.RunStatusComplete
	if r.Fatal() {
		status = model.RunStatusFailed
	}
	m.runs.WithLabelValues(strategy, string(status)).Inc()

	for _, s := range r.Stages {
		if s.Status == model.StageStatusSkipped {
			continue
		}
		m.stageDuration.WithLabelValues(string(s.Stage)).Observe((time.Duration(s.Duration) * time.Millisecond).Seconds())
		switch s.Stage {
		case model.StageNormalize:
			m.staleRejected.WithLabelValues(strategy).Add(float64(s.Counts["stale_rejected"]))
			m.invalid.WithLabelValues(strategy).Add(float64(s.Counts["invalid"]))
		case model.StageValidate:
			m.driftWarnings.WithLabelValues(strategy).Add(float64(s.Counts["drift_warnings"]))
		case model.StageRank:
			if s.Status != model.StageStatusFatal {
				m.suggestions.WithLabelValues(strategy).Set(float64(r.Suggestions))
			}
		}
	}
}

// ObserveIteration records one watch loop iteration.
func (m *Metrics) ObserveIteration(mode string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.pollIterations.WithLabelValues(mode, outcome).Inc()
}

// ObserveRepair records one repair sweep.
func (m *Metrics) ObserveRepair(repaired, dropped, failed int) {
	m.repairs.WithLabelValues("repaired").Add(float64(repaired))
	m.repairs.WithLabelValues("dropped_entries").Add(float64(dropped))
	m.repairs.WithLabelValues("failed").Add(float64(failed))
}

// ObserveDrift records validator findings outside a run.
func (m *Metrics) ObserveDrift(strategy model.Strategy, warnings int) {
	m.driftWarnings.WithLabelValues(string(strategy)).Add(float64(warnings))
}
