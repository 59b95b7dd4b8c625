// Package metrics provides Prometheus metrics export for the intent routing
// and plan execution engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter registers and exposes engine metrics in Prometheus format.
type Exporter struct {
	registry *prometheus.Registry

	dispatchTotal   *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec

	planTotal    *prometheus.CounterVec
	planDuration *prometheus.HistogramVec
	stepFailures *prometheus.CounterVec

	sessionsOpened prometheus.Counter
	sessionsClosed *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use; nil creates a dedicated one.
	Registry *prometheus.Registry
	// LatencyBuckets for latency histograms, in seconds.
	LatencyBuckets []float64
}

// DefaultConfig returns the default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}
}

// NewExporter creates an exporter and registers all engine metrics.
func NewExporter(cfg Config) *Exporter {
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	buckets := cfg.LatencyBuckets
	if len(buckets) == 0 {
		buckets = DefaultConfig().LatencyBuckets
	}

	e := &Exporter{
		registry: registry,
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actionflow_dispatch_total",
			Help: "Dispatch decisions by confidence band and source.",
		}, []string{"band", "source"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "actionflow_dispatch_latency_seconds",
			Help:    "Dispatch latency by band.",
			Buckets: buckets,
		}, []string{"band"}),
		planTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actionflow_plan_total",
			Help: "Finished plan runs by terminal status.",
		}, []string{"status"}),
		planDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "actionflow_plan_duration_seconds",
			Help:    "Plan execution duration by terminal status.",
			Buckets: buckets,
		}, []string{"status"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actionflow_step_failures_total",
			Help: "Step failures by step type.",
		}, []string{"step_type"}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "actionflow_collect_sessions_opened_total",
			Help: "Parameter collection sessions opened.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actionflow_collect_sessions_closed_total",
			Help: "Parameter collection sessions closed by outcome.",
		}, []string{"outcome"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actionflow_cache_hits_total",
			Help: "Cache hits by cache name.",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actionflow_cache_misses_total",
			Help: "Cache misses by cache name.",
		}, []string{"cache"}),
	}

	registry.MustRegister(
		e.dispatchTotal,
		e.dispatchLatency,
		e.planTotal,
		e.planDuration,
		e.stepFailures,
		e.sessionsOpened,
		e.sessionsClosed,
		e.cacheHits,
		e.cacheMisses,
	)
	return e
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ObserveDispatch records one dispatch decision.
func (e *Exporter) ObserveDispatch(band, source string, elapsed time.Duration) {
	e.dispatchTotal.WithLabelValues(band, source).Inc()
	e.dispatchLatency.WithLabelValues(band).Observe(elapsed.Seconds())
}

// ObservePlan records a finished plan run.
func (e *Exporter) ObservePlan(status string, elapsed time.Duration) {
	e.planTotal.WithLabelValues(status).Inc()
	e.planDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// ObserveStepFailure records one failed step.
func (e *Exporter) ObserveStepFailure(stepType string) {
	e.stepFailures.WithLabelValues(stepType).Inc()
}

// ObserveSessionOpened records an opened collection session.
func (e *Exporter) ObserveSessionOpened() {
	e.sessionsOpened.Inc()
}

// ObserveSessionClosed records a closed collection session.
func (e *Exporter) ObserveSessionClosed(outcome string) {
	e.sessionsClosed.WithLabelValues(outcome).Inc()
}

// ObserveCache records a cache lookup.
func (e *Exporter) ObserveCache(name string, hit bool) {
	if hit {
		e.cacheHits.WithLabelValues(name).Inc()
	} else {
		e.cacheMisses.WithLabelValues(name).Inc()
	}
}
