// Package metrics holds the Prometheus collectors for the revision pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ekaya-inc/ekaya-srs/pkg/models"
)

// Turn outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Append attempt results.
const (
	AppendCommitted = "committed"
	AppendCollision = "collision"
	AppendStale     = "stale"
	AppendError     = "error"
)

// Model circuit breaker states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

var circuitStates = []string{CircuitClosed, CircuitOpen, CircuitHalfOpen}

// MCP tool call statuses.
const (
	ToolOK          = "ok"
	ToolErrorResult = "error_result"
	ToolFailed      = "failed"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "srs_turns_total",
		Help: "Conversational turns processed, by outcome",
	}, []string{"outcome"})

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "srs_turn_duration_seconds",
		Help:    "Time to apply or reject one turn, excluding the model call",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	conflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "srs_conflicts_total",
		Help: "Conflict reasons reported by the detector, by kind",
	}, []string{"kind"})

	appendAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "srs_version_append_attempts_total",
		Help: "Version append attempts, by result",
	}, []string{"result"})

	circuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "srs_model_circuit_state",
		Help: "1 for the current state of the model provider circuit breaker, 0 otherwise",
	}, []string{"state"})

	circuitOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "srs_model_circuit_opened_total",
		Help: "Times the model provider circuit breaker opened",
	})

	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "srs_mcp_tool_calls_total",
		Help: "MCP tool calls, by tool and status",
	}, []string{"tool", "status"})

	toolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "srs_mcp_tool_call_duration_seconds",
		Help:    "MCP tool call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})
)

// ObserveTurn records the outcome and duration of one turn.
func ObserveTurn(outcome string, elapsed time.Duration) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.Observe(elapsed.Seconds())
}

// RecordConflicts counts each reason of a conflicting report. Reasons naming a
// section are "section" conflicts; the rest are "fact" conflicts.
func RecordConflicts(report models.ConflictReport) {
	for _, reason := range report.Reasons {
		kind := "fact"
		if reason.Section != "" {
			kind = "section"
		}
		conflictsTotal.WithLabelValues(kind).Inc()
	}
}

// RecordAppendAttempt counts one try at inserting a version.
func RecordAppendAttempt(result string) {
	appendAttemptsTotal.WithLabelValues(result).Inc()
}

// SetCircuitState marks state as the current model circuit state.
func SetCircuitState(state string) {
	for _, s := range circuitStates {
		v := 0.0
		if s == state {
			v = 1
		}
		circuitState.WithLabelValues(s).Set(v)
	}
}

// RecordCircuitOpened counts one transition into the open state.
func RecordCircuitOpened() {
	circuitOpenedTotal.Inc()
}

// ObserveToolCall records one MCP tool invocation.
func ObserveToolCall(tool, status string, elapsed time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}
