package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting Prometheus metrics
// about a CodeFRAME run: tool dispatch, verification gates, fix attempts,
// conversation compaction, and event publication.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.ToolExecutionCounter.WithLabelValues("read_file", "success").Inc()
type Metrics struct {
	// ToolExecutionCounter counts tool invocations by tool name and outcome.
	// Labels: tool_name, status (success|error|timeout|panic)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolRetryCounter counts tool retry attempts by tool name.
	ToolRetryCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM completion latency in seconds.
	// Labels: purpose (planning|execution|generation|correction)
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption by purpose and kind.
	// Labels: purpose, kind (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// GateCheckCounter counts verification gate checks by name and outcome.
	// Labels: gate_name, status (passed|failed|error)
	GateCheckCounter *prometheus.CounterVec

	// GateCheckDuration measures verification gate check latency in seconds.
	// Labels: gate_name
	GateCheckDuration *prometheus.HistogramVec

	// FixAttemptCounter counts quick-fix attempts by kind and outcome.
	// Labels: fix_kind, status (applied|failed)
	FixAttemptCounter *prometheus.CounterVec

	// BlockersCreated counts human blockers created by category.
	// Labels: category
	BlockersCreated *prometheus.CounterVec

	// CompactionRuns counts conversation compaction passes by tier reached.
	// Labels: tier (tool_result|redundant_step|synthetic_summary)
	CompactionRuns *prometheus.CounterVec

	// EventQueueDepth is a gauge of the current subscriber queue depth per task.
	EventQueueDepth *prometheus.GaugeVec

	// EventsDropped counts events dropped due to subscriber back-pressure.
	EventsDropped *prometheus.CounterVec

	// LoopIterations counts ReAct loop runs by terminal outcome.
	// Labels: outcome (completed|blocked|failed)
	LoopIterations *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call once per process.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates and registers all Prometheus metrics with
// the given registerer. Tests should pass a fresh prometheus.NewRegistry()
// to avoid colliding with other tests' default-registry registrations.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeframe_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codeframe_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"tool_name"},
		),
		ToolRetryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeframe_tool_retries_total",
				Help: "Total number of tool retry attempts by tool name",
			},
			[]string{"tool_name"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codeframe_llm_request_duration_seconds",
				Help:    "Duration of LLM completion calls in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"purpose"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeframe_llm_tokens_total",
				Help: "Total number of tokens used by purpose and kind",
			},
			[]string{"purpose", "kind"},
		),
		GateCheckCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeframe_gate_checks_total",
				Help: "Total number of verification gate checks by gate name and status",
			},
			[]string{"gate_name", "status"},
		),
		GateCheckDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codeframe_gate_check_duration_seconds",
				Help:    "Duration of verification gate checks in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"gate_name"},
		),
		FixAttemptCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeframe_fix_attempts_total",
				Help: "Total number of quick-fix attempts by kind and status",
			},
			[]string{"fix_kind", "status"},
		),
		BlockersCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeframe_blockers_created_total",
				Help: "Total number of human blockers created by category",
			},
			[]string{"category"},
		),
		CompactionRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeframe_compaction_runs_total",
				Help: "Total number of conversation compaction passes by highest tier reached",
			},
			[]string{"tier"},
		),
		EventQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "codeframe_event_queue_depth",
				Help: "Current subscriber event queue depth per task",
			},
			[]string{"task_id"},
		),
		EventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeframe_events_dropped_total",
				Help: "Total number of execution events dropped due to subscriber back-pressure",
			},
			[]string{"task_id"},
		),
		LoopIterations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeframe_loop_outcomes_total",
				Help: "Total number of ReAct loop runs by terminal outcome",
			},
			[]string{"outcome"},
		),
	}
}
