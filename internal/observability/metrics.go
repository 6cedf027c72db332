package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics centralizes Prometheus collectors for the job queue, agent
// control loop, tool registry, capability router, context manager, and
// scheduler (§4's components). Register once at startup and share the
// instance across components.
type Metrics struct {
	// JobsSubmitted counts jobs created, by conversation exclusivity outcome.
	// Labels: outcome (accepted|conversation_busy)
	JobsSubmitted *prometheus.CounterVec

	// JobsCompleted counts jobs reaching a terminal state.
	// Labels: status (completed|failed|cancelled)
	JobsCompleted *prometheus.CounterVec

	// JobDuration measures wall-clock time from running to terminal.
	JobDuration *prometheus.HistogramVec

	// JobsInFlight tracks jobs currently running or waiting on input/oauth.
	// Labels: status
	JobsInFlight *prometheus.GaugeVec

	// StepsPerJob records how many agent-loop steps a job took.
	StepsPerJob prometheus.Histogram

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model, tier
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD.
	LLMCostUSD *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|timeout)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// CapabilityRouteDecisions counts router keep/add/drop decisions.
	// Labels: action (keep|add|drop)
	CapabilityRouteDecisions *prometheus.CounterVec

	// ContextCompressions counts context-window compressions.
	// Labels: aggressive (true|false)
	ContextCompressions prometheus.Counter

	// LoopNudges counts loop-detector corrective nudges.
	// Labels: reason (repeat|oscillation|stall)
	LoopNudges *prometheus.CounterVec

	// DelegateRuns counts sub-agent delegations.
	// Labels: status (success|error|quota_exceeded)
	DelegateRuns *prometheus.CounterVec

	// ScheduleFires counts schedule trigger attempts.
	// Labels: status (success|error|skipped_busy)
	ScheduleFires *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	HTTPRequestCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error kind.
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus collectors against the
// default registry. Call once at application startup.
func NewMetrics() *Metrics {
	return &Metrics{
		JobsSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_jobs_submitted_total",
				Help: "Total number of job submissions by outcome",
			},
			[]string{"outcome"},
		),
		JobsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_jobs_completed_total",
				Help: "Total number of jobs reaching a terminal status",
			},
			[]string{"status"},
		),
		JobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_job_duration_seconds",
				Help:    "Job wall-clock duration from running to terminal",
				Buckets: []float64{1, 5, 15, 30, 60, 180, 600, 1800},
			},
			[]string{"status"},
		),
		JobsInFlight: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentcore_jobs_in_flight",
				Help: "Current number of non-terminal jobs by status",
			},
			[]string{"status"},
		),
		StepsPerJob: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcore_job_steps",
				Help:    "Number of agent-loop steps taken per job",
				Buckets: []float64{1, 2, 5, 10, 20, 40, 70, 100},
			},
		),
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model", "tier"},
		),
		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_cost_usd_total",
				Help: "Estimated LLM API cost in USD",
			},
			[]string{"provider", "model"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"tool_name"},
		),
		CapabilityRouteDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_capability_route_decisions_total",
				Help: "Capability router keep/add/drop decisions",
			},
			[]string{"action"},
		),
		ContextCompressions: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentcore_context_compressions_total",
				Help: "Total number of context-window compressions performed",
			},
		),
		LoopNudges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_loop_nudges_total",
				Help: "Total number of loop-detector corrective nudges, by reason",
			},
			[]string{"reason"},
		),
		DelegateRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_delegate_runs_total",
				Help: "Total number of sub-agent delegations by outcome",
			},
			[]string{"status"},
		),
		ScheduleFires: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_schedule_fires_total",
				Help: "Total number of schedule trigger attempts by outcome",
			},
			[]string{"status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_errors_total",
				Help: "Total number of errors by component and error kind",
			},
			[]string{"component", "error_kind"},
		),
	}
}

// RecordLLMRequest records metrics for one LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, tier, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model, tier).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and kind.
func (m *Metrics) RecordError(component, errorKind string) {
	m.ErrorCounter.WithLabelValues(component, errorKind).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordJobTerminal records a job reaching a terminal status.
func (m *Metrics) RecordJobTerminal(status string, durationSeconds float64, steps int) {
	m.JobsCompleted.WithLabelValues(status).Inc()
	m.JobDuration.WithLabelValues(status).Observe(durationSeconds)
	m.StepsPerJob.Observe(float64(steps))
}
