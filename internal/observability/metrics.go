// Package observability wires metrics, tracing and logging for the
// runtime.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects runtime counters and histograms:
//   - transport requests per endpoint (implements transport.Observer)
//   - circuit breaker opens
//   - scheduler dispatch outcomes
//   - engine iterations, tokens and tool executions
type Metrics struct {
	// RequestDuration measures outbound request latency in seconds.
	// Labels: endpoint, method, status_code
	RequestDuration *prometheus.HistogramVec

	// RequestCounter counts outbound requests.
	// Labels: endpoint, method, status_code
	RequestCounter *prometheus.CounterVec

	// BreakerOpens counts breaker threshold trips per endpoint.
	BreakerOpens *prometheus.CounterVec

	// DispatchCounter counts scheduler dispatches.
	// Labels: action, status (ok|error|deadline|skipped)
	DispatchCounter *prometheus.CounterVec

	// IterationCounter counts engine tool-loop iterations per model.
	IterationCounter *prometheus.CounterVec

	// TokenCounter tracks token consumption.
	// Labels: model, type (prompt|completion)
	TokenCounter *prometheus.CounterVec

	// ToolCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolCounter *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	ToolDuration *prometheus.HistogramVec

	// LiveAgents is a gauge of agents currently in the pool.
	LiveAgents prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default registry.
// Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers against an explicit registerer. Tests use a
// fresh prometheus.NewRegistry to stay isolated.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aria_request_duration_seconds",
				Help:    "Duration of outbound transport requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"endpoint", "method", "status_code"},
		),
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aria_requests_total",
				Help: "Total outbound transport requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status_code"},
		),
		BreakerOpens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aria_breaker_opens_total",
				Help: "Circuit breaker threshold trips per endpoint",
			},
			[]string{"endpoint"},
		),
		DispatchCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aria_scheduler_dispatches_total",
				Help: "Scheduled job dispatches by action and outcome",
			},
			[]string{"action", "status"},
		),
		IterationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aria_engine_iterations_total",
				Help: "Chat engine tool-loop iterations per model",
			},
			[]string{"model"},
		),
		TokenCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aria_llm_tokens_total",
				Help: "Tokens consumed by model and type",
			},
			[]string{"model", "type"},
		),
		ToolCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aria_tool_executions_total",
				Help: "Tool executions by name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aria_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		LiveAgents: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "aria_live_agents",
				Help: "Agents currently registered in the pool",
			},
		),
	}
}

// ObserveRequest satisfies the transport observer hook.
func (m *Metrics) ObserveRequest(endpoint, method string, statusCode int, duration time.Duration) {
	code := statusLabel(statusCode)
	m.RequestCounter.WithLabelValues(endpoint, method, code).Inc()
	m.RequestDuration.WithLabelValues(endpoint, method, code).Observe(duration.Seconds())
}

// BreakerOpened records a breaker trip.
func (m *Metrics) BreakerOpened(endpoint string) {
	m.BreakerOpens.WithLabelValues(endpoint).Inc()
}

// RecordDispatch records a scheduler dispatch outcome.
func (m *Metrics) RecordDispatch(action, status string) {
	m.DispatchCounter.WithLabelValues(action, status).Inc()
}

// RecordIteration records one engine iteration and its token usage.
func (m *Metrics) RecordIteration(model string, promptTokens, completionTokens int) {
	m.IterationCounter.WithLabelValues(model).Inc()
	if promptTokens > 0 {
		m.TokenCounter.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.TokenCounter.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolCounter.WithLabelValues(toolName, status).Inc()
	m.ToolDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 200:
		return "2xx"
	case code == 0:
		return "transport_error"
	default:
		return "other"
	}
}
