// Package metrics exports conversation and pipeline metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns a private registry. All methods are safe on a nil receiver,
// which turns recording into a no-op.
type Exporter struct {
	registry *prometheus.Registry

	stageTransitions *prometheus.CounterVec
	runOutcomes      *prometheus.CounterVec
	backendCalls     *prometheus.CounterVec
	backendLatency   *prometheus.HistogramVec
	trialDecisions   *prometheus.CounterVec
	storeMutations   *prometheus.CounterVec
}

func New() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "artichat",
			Name:      "pipeline_stage_transitions_total",
			Help:      "Pipeline stage transitions by stage.",
		}, []string{"stage"}),
		runOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "artichat",
			Name:      "pipeline_runs_total",
			Help:      "Finished pipeline runs by outcome.",
		}, []string{"outcome"}),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "artichat",
			Name:      "backend_calls_total",
			Help:      "Backend calls by kind and result class.",
		}, []string{"backend", "kind", "result"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "artichat",
			Name:      "backend_call_duration_seconds",
			Help:      "Backend call latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"kind"}),
		trialDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "artichat",
			Name:      "usage_authorizations_total",
			Help:      "Usage gate decisions by source.",
		}, []string{"source"}),
		storeMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "artichat",
			Name:      "conversation_mutations_total",
			Help:      "Committed conversation mutations by operation.",
		}, []string{"op"}),
	}

	e.registry.MustRegister(
		e.stageTransitions,
		e.runOutcomes,
		e.backendCalls,
		e.backendLatency,
		e.trialDecisions,
		e.storeMutations,
	)
	return e
}

// Handler serves the registry.
func (e *Exporter) Handler() http.Handler {
	if e == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (e *Exporter) Registry() *prometheus.Registry {
	if e == nil {
		return nil
	}
	return e.registry
}

func (e *Exporter) StageChanged(stage string) {
	if e == nil {
		return
	}
	e.stageTransitions.WithLabelValues(stage).Inc()
}

func (e *Exporter) RunFinished(outcome string) {
	if e == nil {
		return
	}
	e.runOutcomes.WithLabelValues(outcome).Inc()
}

func (e *Exporter) BackendCall(backend, kind, result string, elapsed time.Duration) {
	if e == nil {
		return
	}
	e.backendCalls.WithLabelValues(backend, kind, result).Inc()
	e.backendLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (e *Exporter) TrialDecision(source string) {
	if e == nil {
		return
	}
	e.trialDecisions.WithLabelValues(source).Inc()
}

func (e *Exporter) StoreMutation(op string) {
	if e == nil {
		return
	}
	e.storeMutations.WithLabelValues(op).Inc()
}
