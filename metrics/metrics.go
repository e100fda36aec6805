// Package metrics exposes Prometheus collectors for the generate pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "xiim"

// Metrics holds the service's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	seedCollisions prometheus.Counter
	seedExhausted  prometheus.Counter
	registryErrors *prometheus.CounterVec
	registerRaces  prometheus.Counter
	zoneFallbacks  *prometheus.CounterVec
	sourceOrigins  *prometheus.CounterVec
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Generate requests by outcome.",
		}, []string{"status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of pipeline steps.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"step"}),
		seedCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seed_collisions_total",
			Help:      "Variant seed draws that hit an existing fingerprint.",
		}),
		seedExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seed_retries_exhausted_total",
			Help:      "Seed resolutions that kept a colliding seed after the retry bound.",
		}),
		registryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_errors_total",
			Help:      "Registry store failures by operation.",
		}, []string{"op"}),
		registerRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_register_conflicts_total",
			Help:      "Registrations that lost a race to an identical fingerprint.",
		}),
		zoneFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zone_fallbacks_total",
			Help:      "Requests masked with the default zone layout, by reason.",
		}, []string{"reason"}),
		sourceOrigins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_origin_total",
			Help:      "Source images by origin.",
		}, []string{"origin"}),
	}
	reg.MustRegister(
		m.runs, m.stepDuration, m.seedCollisions, m.seedExhausted,
		m.registryErrors, m.registerRaces, m.zoneFallbacks, m.sourceOrigins,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Run(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

func (m *Metrics) Step(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) SeedCollision() {
	if m == nil {
		return
	}
	m.seedCollisions.Inc()
}

func (m *Metrics) SeedExhausted() {
	if m == nil {
		return
	}
	m.seedExhausted.Inc()
}

// RegistryError implements registry.Observer.
func (m *Metrics) RegistryError(op string) {
	if m == nil {
		return
	}
	m.registryErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) RegisterConflict() {
	if m == nil {
		return
	}
	m.registerRaces.Inc()
}

func (m *Metrics) ZoneFallback(reason string) {
	if m == nil {
		return
	}
	m.zoneFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) SourceOrigin(origin string) {
	if m == nil {
		return
	}
	m.sourceOrigins.WithLabelValues(origin).Inc()
}
