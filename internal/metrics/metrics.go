// Package metrics exposes Eryx runtime observability data to a
// Prometheus scraper.
//
// Unlike the teacher, which kept a lightweight in-process JSON store
// alongside the Prometheus registry for a dashboard endpoint, Eryx has
// no dashboard: every metric here only ever needs to answer "scrape
// me", so the package is a single Prometheus registry behind a
// package-level singleton, following the same Init-then-Record-via-
// package-function shape the teacher uses.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// defaultDurationBuckets covers sub-millisecond callback dispatch up to
// a multi-second execution timeout.
var defaultDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30}

// Metrics holds every Prometheus collector Eryx registers.
type Metrics struct {
	registry *prometheus.Registry

	executionsTotal        *prometheus.CounterVec
	executionDuration      *prometheus.HistogramVec
	fuelConsumed           prometheus.Histogram
	callbackInvocations    *prometheus.CounterVec
	callbackDuration       *prometheus.HistogramVec
	cacheHitsTotal         *prometheus.CounterVec
	cacheMissesTotal       *prometheus.CounterVec
	poolTemplateInstances  *prometheus.GaugeVec
	networkConnectionTotal *prometheus.CounterVec
	activeExecutions       prometheus.Gauge
	uptime                 prometheus.GaugeFunc
}

var (
	once    sync.Once
	current *Metrics
	started = time.Now()
)

// Init builds and registers the Eryx collector set under namespace. It
// is safe to call more than once; only the first call takes effect.
func Init(namespace string) *Metrics {
	once.Do(func() {
		current = newMetrics(namespace)
	})
	return current
}

// Global returns the metrics set Init registered, or nil if Init was
// never called — every Record*/Set* function below is a no-op against
// a nil registry, so callers that never opted into metrics pay nothing.
func Global() *Metrics {
	return current
}

func newMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of execute() calls by result.",
			},
			[]string{"result"}, // success, python_error, timeout, fuel_exhausted, memory_limit, callback_limit, cancelled
		),

		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of execute() calls in seconds.",
				Buckets:   defaultDurationBuckets,
			},
			[]string{"result"},
		),

		fuelConsumed: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fuel_consumed",
				Help:      "Wasmtime fuel units consumed per execute() call.",
				Buckets:   prometheus.ExponentialBuckets(1000, 4, 12),
			},
		),

		callbackInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "callback_invocations_total",
				Help:      "Total host callback invocations by name and result.",
			},
			[]string{"name", "result"},
		),

		callbackDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "callback_duration_seconds",
				Help:      "Duration of host callback invocations in seconds.",
				Buckets:   defaultDurationBuckets,
			},
			[]string{"name"},
		),

		cacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Component Cache hits by tier.",
			},
			[]string{"tier"}, // memory, file, redis
		),

		cacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Component Cache misses by tier.",
			},
			[]string{"tier"},
		),

		poolTemplateInstances: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_template_instances",
				Help:      "Instances currently spawned from a Template.",
			},
			[]string{"template"},
		),

		networkConnectionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "network_connections_total",
				Help:      "Outbound guest connection attempts by result.",
			},
			[]string{"result"}, // allowed, denied, failed
		),

		activeExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_executions",
				Help:      "Number of execute() calls currently in flight.",
			},
		),
	}

	m.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the metrics registry was initialized.",
		},
		func() float64 { return time.Since(started).Seconds() },
	)

	registry.MustRegister(
		m.executionsTotal,
		m.executionDuration,
		m.fuelConsumed,
		m.callbackInvocations,
		m.callbackDuration,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.poolTemplateInstances,
		m.networkConnectionTotal,
		m.activeExecutions,
		m.uptime,
	)
	return m
}

// RecordExecution records one completed execute() call.
func (m *Metrics) RecordExecution(result string, duration time.Duration, fuel uint64) {
	if m == nil {
		return
	}
	m.executionsTotal.WithLabelValues(result).Inc()
	m.executionDuration.WithLabelValues(result).Observe(duration.Seconds())
	if fuel > 0 {
		m.fuelConsumed.Observe(float64(fuel))
	}
}

// RecordCallback records one host callback invocation.
func (m *Metrics) RecordCallback(name, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.callbackInvocations.WithLabelValues(name, result).Inc()
	m.callbackDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordCacheHit records a Component Cache hit in tier.
func (m *Metrics) RecordCacheHit(tier string) {
	if m == nil {
		return
	}
	m.cacheHitsTotal.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a Component Cache miss in tier.
func (m *Metrics) RecordCacheMiss(tier string) {
	if m == nil {
		return
	}
	m.cacheMissesTotal.WithLabelValues(tier).Inc()
}

// SetPoolTemplateInstances sets the spawned-instance gauge for template.
func (m *Metrics) SetPoolTemplateInstances(template string, count int) {
	if m == nil {
		return
	}
	m.poolTemplateInstances.WithLabelValues(template).Set(float64(count))
}

// RecordNetworkConnection records one guest connection attempt outcome.
func (m *Metrics) RecordNetworkConnection(result string) {
	if m == nil {
		return
	}
	m.networkConnectionTotal.WithLabelValues(result).Inc()
}

// IncActiveExecutions increments the in-flight execute() gauge.
func (m *Metrics) IncActiveExecutions() {
	if m == nil {
		return
	}
	m.activeExecutions.Inc()
}

// DecActiveExecutions decrements the in-flight execute() gauge.
func (m *Metrics) DecActiveExecutions() {
	if m == nil {
		return
	}
	m.activeExecutions.Dec()
}

// Handler returns an HTTP handler for Prometheus scraping. It always
// returns a handler, even before Init, to keep a metrics endpoint's
// wiring order independent of Builder construction.
func Handler() http.Handler {
	if current == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(current.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry, for embedding a
// custom collector alongside Eryx's own.
func Registry() *prometheus.Registry {
	if current == nil {
		return nil
	}
	return current.registry
}
