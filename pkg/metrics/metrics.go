// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// WebhookInboundTotal counts inbound webhook calls by ack outcome.
	WebhookInboundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_inbound_total",
			Help: "Inbound webhook calls by outcome",
		},
		[]string{"channel", "outcome"},
	)

	// TurnsTotal counts background turns by terminal state.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turns_total",
			Help: "Processed turns by terminal state",
		},
		[]string{"channel", "state"},
	)

	// TurnDuration tracks time from ack to persistence.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turn_duration_seconds",
			Help:    "Background turn processing duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"channel"},
	)

	// TurnsInFlight tracks background turns currently running.
	TurnsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "turns_in_flight",
			Help: "Background turns currently running",
		},
	)

	// ActionCallsTotal counts outbound webhook action calls.
	ActionCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "action_calls_total",
			Help: "Outbound webhook action calls by result",
		},
		[]string{"result"},
	)

	// LLMCallDuration tracks model completion latency.
	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_duration_seconds",
			Help:    "LLM completion call duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"model", "purpose", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// PendingPollsTotal counts poll requests for pending responses.
	PendingPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pending_polls_total",
			Help: "Pending response polls by result",
		},
		[]string{"result"},
	)

	// PersistenceFailuresTotal counts failed writes per target.
	PersistenceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_failures_total",
			Help: "Failed persistence writes",
		},
		[]string{"target"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, route, status string, duration float64) {
	RequestDuration.WithLabelValues(method, route, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, route, status).Inc()
}

// RecordLLMCall records metrics for one model completion.
func RecordLLMCall(model, purpose, status string, duration float64, tokensIn, tokensOut int) {
	LLMCallDuration.WithLabelValues(model, purpose, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordTurn records the terminal state and duration of a turn.
func RecordTurn(channel, state string, duration float64) {
	TurnsTotal.WithLabelValues(channel, state).Inc()
	TurnDuration.WithLabelValues(channel).Observe(duration)
}
