// SPDX-License-Identifier: EPL-2.0

// Package metrics holds the Prometheus collectors of the sample preparation
// service. Every recording method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sampleprep"

// Result label values.
const (
	ResultOK           = "ok"
	ResultError        = "error"
	ResultFallback     = "fallback"
	ResultInvalidInput = "invalid_input"
	ResultCancelled    = "cancelled"
	ResultHit          = "hit"
	ResultMiss         = "miss"
)

type Metrics struct {
	registry *prometheus.Registry

	renders        *prometheus.CounterVec
	renderDuration prometheus.Histogram

	pluginCalls        *prometheus.CounterVec
	pluginCallDuration *prometheus.HistogramVec
	sandboxWait        prometheus.Histogram
	sandboxContexts    prometheus.Gauge

	cacheRequests  *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec

	sourceFetches *prometheus.CounterVec

	transfers *prometheus.CounterVec

	tabEvents *prometheus.CounterVec

	collectors []prometheus.Collector
}

// New creates the collectors and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()

	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.renders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Total number of sample renders by result",
		},
		[]string{"result"},
	)

	m.renderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time taken to render one sample to WAV",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
	)

	m.pluginCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_calls_total",
			Help:      "Total number of sandboxed plugin calls",
		},
		[]string{"plugin", "operation", "result"},
	)

	m.pluginCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plugin_call_duration_seconds",
			Help:      "Round trip time of sandboxed plugin calls",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"plugin", "operation"},
	)

	m.sandboxWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sandbox_mutex_wait_seconds",
			Help:      "Time spent queued on the global sandbox mutex",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)

	m.sandboxContexts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sandbox_contexts",
			Help:      "Number of live plugin execution contexts",
		},
	)

	m.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Derived-data cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)

	m.cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted from bounded in-memory caches",
		},
		[]string{"cache"},
	)

	m.sourceFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Source byte lookups by origin and result",
		},
		[]string{"origin", "result"},
	)

	m.transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Transfer buffer builds by kind and result",
		},
		[]string{"kind", "result"},
	)

	m.tabEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tabsync_events_total",
			Help:      "Cross-tab events by data type, action and direction",
		},
		[]string{"data_type", "action", "direction"},
	)

	m.collectors = []prometheus.Collector{
		m.renders, m.renderDuration,
		m.pluginCalls, m.pluginCallDuration, m.sandboxWait, m.sandboxContexts,
		m.cacheRequests, m.cacheEvictions,
		m.sourceFetches, m.transfers, m.tabEvents,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRender(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.renders.WithLabelValues(result).Inc()
	m.renderDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordPluginCall(plugin, operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.pluginCalls.WithLabelValues(plugin, operation, result).Inc()
	m.pluginCallDuration.WithLabelValues(plugin, operation).Observe(d.Seconds())
}

func (m *Metrics) RecordSandboxWait(d time.Duration) {
	if m == nil {
		return
	}
	m.sandboxWait.Observe(d.Seconds())
}

func (m *Metrics) AddSandboxContexts(delta float64) {
	if m == nil {
		return
	}
	m.sandboxContexts.Add(delta)
}

func (m *Metrics) RecordCacheRequest(tier, result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) RecordEviction(cache string) {
	if m == nil {
		return
	}
	m.cacheEvictions.WithLabelValues(cache).Inc()
}

func (m *Metrics) RecordSourceFetch(origin, result string) {
	if m == nil {
		return
	}
	m.sourceFetches.WithLabelValues(origin, result).Inc()
}

func (m *Metrics) RecordTransfer(kind, result string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RecordTabEvent(dataType, action, direction string) {
	if m == nil {
		return
	}
	m.tabEvents.WithLabelValues(dataType, action, direction).Inc()
}
