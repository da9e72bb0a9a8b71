// Package metrics exposes the service's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcpchat"

// Dispatch outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Tool call outcomes.
const (
	ToolOK         = "ok"
	ToolNotFound   = "not_found"
	ToolInvalid    = "invalid"
	ToolError      = "error"
	ToolResultFail = "result_error"
)

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry         *prometheus.Registry
	dispatches       *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	inFlight         prometheus.Gauge
	toolCalls        *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	sessions         prometheus.Gauge
	registrySize     prometheus.Gauge
	httpRequests     *prometheus.CounterVec
}

// New creates the collectors and registers them together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Dispatches by terminal outcome.",
		}, []string{"outcome"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time from user message append to terminal state.",
			Buckets:   prometheus.DefBuckets,
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatches_in_flight",
			Help:      "Sessions currently dispatching.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Registry executions by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Registry execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions held in memory.",
		}),
		registrySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tools_registered",
			Help:      "Tools in the registry.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status code.",
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.dispatches,
		m.dispatchDuration,
		m.inFlight,
		m.toolCalls,
		m.toolDuration,
		m.sessions,
		m.registrySize,
		m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// DispatchStarted bumps the in-flight gauge.
func (m *Metrics) DispatchStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// DispatchFinished records a terminal dispatch and drops the in-flight gauge.
func (m *Metrics) DispatchFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.dispatches.WithLabelValues(outcome).Inc()
	m.dispatchDuration.Observe(d.Seconds())
}

// DispatchRejected counts a dispatch refused before any state change.
func (m *Metrics) DispatchRejected() {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(OutcomeRejected).Inc()
}

// ToolCall records one registry execution.
func (m *Metrics) ToolCall(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// SetSessions sets the active session gauge.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// SetRegistrySize sets the registered tool gauge.
func (m *Metrics) SetRegistrySize(n int) {
	if m == nil {
		return
	}
	m.registrySize.Set(float64(n))
}

// HTTPRequest counts one served API request.
func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
