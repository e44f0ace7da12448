// Package metrics provides the Prometheus collectors of the execution service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codeviz"

// DurationBuckets spans short scripts up to the maximum execution timeout, in seconds
var DurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// MemoryBuckets spans typical peak memory usage, in megabytes
var MemoryBuckets = []float64{8, 16, 32, 64, 128, 256, 512, 1024, 2048}

// Metrics holds the collectors recorded by the executor and the renderer
type Metrics struct {
	registry *prometheus.Registry

	// ExecutionsTotal counts finished executions by language, status and failure kind.
	ExecutionsTotal *prometheus.CounterVec
	// ExecutionDuration records wall-clock time of sandboxed runs in seconds.
	ExecutionDuration *prometheus.HistogramVec
	// PeakMemory records the peak memory of sandboxed runs in megabytes.
	PeakMemory *prometheus.HistogramVec
	// ActiveSandboxes tracks sandboxes that are provisioned and not yet released.
	ActiveSandboxes prometheus.Gauge
	// ProvisionFailuresTotal counts sandboxes that could not be created.
	ProvisionFailuresTotal *prometheus.CounterVec
	// ReleaseFailuresTotal counts sandboxes whose teardown reported an error.
	ReleaseFailuresTotal prometheus.Counter
	// VisualizationFailuresTotal counts requested views that were omitted.
	VisualizationFailuresTotal *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of code executions",
			},
			[]string{"language", "status", "kind"},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Wall-clock duration of sandboxed runs",
				Buckets:   DurationBuckets,
			},
			[]string{"language"},
		),
		PeakMemory: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_peak_memory_mb",
				Help:      "Peak memory usage per sandboxed run in MB",
				Buckets:   MemoryBuckets,
			},
			[]string{"language"},
		),
		ActiveSandboxes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sandboxes",
				Help:      "Number of sandboxes currently provisioned",
			},
		),
		ProvisionFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provision_failures_total",
				Help:      "Total number of sandboxes that could not be provisioned",
			},
			[]string{"language"},
		),
		ReleaseFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "release_failures_total",
				Help:      "Total number of sandbox teardowns that failed",
			},
		),
		VisualizationFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "visualization_failures_total",
				Help:      "Total number of requested visualizations that were omitted",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.PeakMemory,
		m.ActiveSandboxes,
		m.ProvisionFailuresTotal,
		m.ReleaseFailuresTotal,
		m.VisualizationFailuresTotal,
	)
	return m
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ExecutionFinished records one finished execution. Runs that never started
// carry zero duration and memory and only count towards ExecutionsTotal.
func (m *Metrics) ExecutionFinished(language, status, kind string, seconds, memoryMB float64, ran bool) {
	m.ExecutionsTotal.WithLabelValues(language, status, kind).Inc()
	if !ran {
		return
	}
	m.ExecutionDuration.WithLabelValues(language).Observe(seconds)
	m.PeakMemory.WithLabelValues(language).Observe(memoryMB)
}

func (m *Metrics) SandboxProvisioned() { m.ActiveSandboxes.Inc() }

func (m *Metrics) SandboxReleased(err error) {
	m.ActiveSandboxes.Dec()
	if err != nil {
		m.ReleaseFailuresTotal.Inc()
	}
}

func (m *Metrics) ProvisionFailed(language string) {
	m.ProvisionFailuresTotal.WithLabelValues(language).Inc()
}

// VisualizationFailed implements visualize.FailureRecorder
func (m *Metrics) VisualizationFailed(kind string) {
	m.VisualizationFailuresTotal.WithLabelValues(kind).Inc()
}
