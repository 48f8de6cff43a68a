// Package metrics exports orchestration metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns the Prometheus registry and the orchestration metric
// families: per-turn routing, tool execution, retries, and model usage.
type Exporter struct {
	registry *prometheus.Registry

	turnLatency *prometheus.HistogramVec
	turns       *prometheus.CounterVec
	activeTurns prometheus.Gauge

	intentDecisions *prometheus.CounterVec

	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec
	retries     prometheus.Counter
	exhaustions prometheus.Counter
	followUps   prometheus.Counter
	interrupts  prometheus.Counter

	llmTokens  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use; nil creates a fresh one.
	Registry *prometheus.Registry

	// LatencyBuckets for the histograms, in seconds.
	LatencyBuckets []float64
}

// DefaultConfig returns the default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewExporter creates and registers the metric families.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.turnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vocalis",
			Subsystem: "core",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end turn latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"turn_type"},
	)

	e.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vocalis",
			Subsystem: "core",
			Name:      "turns_total",
			Help:      "Total number of turns handled",
		},
		[]string{"turn_type", "status"},
	)

	e.activeTurns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vocalis",
			Subsystem: "core",
			Name:      "turns_active",
			Help:      "Number of turns currently in flight",
		},
	)

	e.intentDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vocalis",
			Subsystem: "core",
			Name:      "intent_decisions_total",
			Help:      "Intent classification decisions",
		},
		[]string{"method", "needs_tool"},
	)

	e.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vocalis",
			Subsystem: "core",
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls executed",
		},
		[]string{"tool_name", "status"},
	)

	e.toolLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vocalis",
			Subsystem: "core",
			Name:      "tool_latency_seconds",
			Help:      "Tool call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"tool_name"},
	)

	e.retries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vocalis",
		Subsystem: "core",
		Name:      "tool_retries_total",
		Help:      "Total tool execution retry attempts",
	})

	e.exhaustions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vocalis",
		Subsystem: "core",
		Name:      "tool_exhaustions_total",
		Help:      "Tool phases that ran out of retry budget",
	})

	e.followUps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vocalis",
		Subsystem: "core",
		Name:      "tool_follow_ups_total",
		Help:      "Context-fetch follow-up actions executed",
	})

	e.interrupts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vocalis",
		Subsystem: "core",
		Name:      "interrupts_total",
		Help:      "User interruptions of in-flight responses",
	})

	e.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vocalis",
			Subsystem: "core",
			Name:      "llm_tokens_total",
			Help:      "Total model tokens consumed",
		},
		[]string{"role", "token_type"},
	)

	e.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vocalis",
			Subsystem: "core",
			Name:      "llm_latency_seconds",
			Help:      "Model request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"role", "provider"},
	)

	registry.MustRegister(
		e.turnLatency,
		e.turns,
		e.activeTurns,
		e.intentDecisions,
		e.toolCalls,
		e.toolLatency,
		e.retries,
		e.exhaustions,
		e.followUps,
		e.interrupts,
		e.llmTokens,
		e.llmLatency,
	)

	return e
}

// RecordTurn records one completed turn.
func (e *Exporter) RecordTurn(turnType string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.turns.WithLabelValues(turnType, status).Inc()
	e.turnLatency.WithLabelValues(turnType).Observe(latency.Seconds())
}

// RecordIntentDecision records one classification outcome.
func (e *Exporter) RecordIntentDecision(method string, needsTool bool) {
	label := "false"
	if needsTool {
		label = "true"
	}
	e.intentDecisions.WithLabelValues(method, label).Inc()
}

// RecordToolCall records one executed tool call.
func (e *Exporter) RecordToolCall(toolName string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.toolCalls.WithLabelValues(toolName, status).Inc()
	e.toolLatency.WithLabelValues(toolName).Observe(latency.Seconds())
}

// RecordRetries adds spent retry attempts.
func (e *Exporter) RecordRetries(n int) {
	e.retries.Add(float64(n))
}

// RecordExhaustion counts a tool phase that gave up.
func (e *Exporter) RecordExhaustion() {
	e.exhaustions.Inc()
}

// RecordFollowUp counts an executed context-fetch follow-up.
func (e *Exporter) RecordFollowUp() {
	e.followUps.Inc()
}

// RecordInterrupt counts a user interruption.
func (e *Exporter) RecordInterrupt() {
	e.interrupts.Inc()
}

// RecordLLMTokens records model token usage for one of the model roles
// (tool, conversation, intent).
func (e *Exporter) RecordLLMTokens(role string, promptTokens, completionTokens int) {
	e.llmTokens.WithLabelValues(role, "prompt").Add(float64(promptTokens))
	e.llmTokens.WithLabelValues(role, "completion").Add(float64(completionTokens))
}

// RecordLLMLatency records model request latency.
func (e *Exporter) RecordLLMLatency(role, provider string, latency time.Duration) {
	e.llmLatency.WithLabelValues(role, provider).Observe(latency.Seconds())
}

// TurnStarted increments the in-flight gauge and returns the matching
// decrement.
func (e *Exporter) TurnStarted() func() {
	e.activeTurns.Inc()
	return e.activeTurns.Dec
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
