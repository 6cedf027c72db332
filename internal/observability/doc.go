// Package observability provides monitoring and debugging capabilities for
// the agent execution core through metrics, structured logging, and
// distributed tracing.
//
// # Overview
//
// The observability package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Architecture
//
// The package is designed to be:
//   - Low-overhead: minimal performance impact during the agent step loop
//   - Type-safe: strongly-typed APIs reduce configuration errors
//   - Production-ready: built-in redaction and reliability features
//   - Standards-based: uses Prometheus, OpenTelemetry, and slog
//
// # Metrics
//
// Metrics are implemented using the Prometheus client library and track:
//   - Job submission, completion, and duration by status
//   - Agent-loop step counts per job
//   - LLM request latency, token usage, and estimated cost
//   - Tool execution outcomes and duration
//   - Capability-router routing decisions and context compressions
//   - Loop-detector nudges, delegate runs, schedule fires
//   - HTTP API request/response metrics
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet", "main", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic job/conversation/component ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	ctx = observability.AddJobID(ctx, job.ID)
//	ctx = observability.AddConversationID(ctx, job.ConversationID)
//	logger.Info(ctx, "step dispatched", "step", step)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track a job's execution across
// its capability routing, context compression, LLM calls, and tool/delegate
// dispatch:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "agentcore",
//	    Endpoint:    "localhost:4317",
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceJobStep(ctx, job.ID, step)
//	defer span.End()
//
// # Security Considerations
//
// The logging component automatically redacts API keys, passwords, secrets,
// JWT and bearer tokens, and sensitive map fields such as password, secret,
// api_key, token, and private_key.
package observability
