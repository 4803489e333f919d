// Package metrics exposes Prometheus collectors for pipeline activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/metalagman/plancheck/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "plancheck"

// Sub-agent outcome labels.
const (
	TaskOK       = "ok"
	TaskDegraded = "degraded"
)

// Metrics records pipeline events. It satisfies pipeline.Observer and is safe
// for concurrent use.
type Metrics struct {
	registry           *prometheus.Registry
	runs               *prometheus.CounterVec
	runDuration        prometheus.Histogram
	phaseDuration      *prometheus.HistogramVec
	subAgents          *prometheus.CounterVec
	subAgentDuration   *prometheus.HistogramVec
	enrichmentFallback prometheus.Counter
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Analyses finished, by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of whole analyses.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
		}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of each pipeline phase.",
			Buckets:   []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"phase"}),
		subAgents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subagent_total",
			Help:      "Sub-agent tasks finished, by agent and outcome.",
		}, []string{"agent_id", "outcome"}),
		subAgentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "subagent_duration_seconds",
			Help:      "Duration of sub-agent tasks.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{"agent_id"}),
		enrichmentFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_fallback_total",
			Help:      "Runs that used the unenriched catalog.",
		}),
	}
	reg.MustRegister(
		m.runs, m.runDuration, m.phaseDuration, m.subAgents, m.subAgentDuration, m.enrichmentFallback,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// PhaseFinished observes the duration of a phase.
func (m *Metrics) PhaseFinished(phase model.Phase, d time.Duration) {
	m.phaseDuration.WithLabelValues(string(phase)).Observe(d.Seconds())
}

// TaskFinished counts a sub-agent task.
func (m *Metrics) TaskFinished(agentID model.AgentID, degraded bool, d time.Duration) {
	outcome := TaskOK
	if degraded {
		outcome = TaskDegraded
	}
	m.subAgents.WithLabelValues(string(agentID), outcome).Inc()
	m.subAgentDuration.WithLabelValues(string(agentID)).Observe(d.Seconds())
}

// EnrichmentFallback counts a run that fell back to the base catalog.
func (m *Metrics) EnrichmentFallback() {
	m.enrichmentFallback.Inc()
}

// RunFinished counts a finished run.
func (m *Metrics) RunFinished(outcome string, d time.Duration) {
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}
