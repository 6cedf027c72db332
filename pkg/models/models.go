// Package models holds the data types shared across the agent execution
// core: conversations, messages, jobs, activities, schedules, capability
// sets, and the LLM completion request/response shapes.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleUser           Role = "user"
	RoleAssistant      Role = "assistant"
	RoleTool           Role = "tool"
	RoleSystemInternal Role = "system-internal"
)

// JobStatus is a Job's position in the §4.7 state machine.
type JobStatus string

const (
	JobPending         JobStatus = "pending"
	JobRunning         JobStatus = "running"
	JobWaitingForInput JobStatus = "waiting_for_input"
	JobOAuthPending    JobStatus = "oauth_pending"
	JobCompleted       JobStatus = "completed"
	JobFailed          JobStatus = "failed"
	JobCancelled       JobStatus = "cancelled"
)

// Terminal reports whether a job status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// ActivityType tags the kind of event an Activity record describes.
type ActivityType string

const (
	ActivityRouting      ActivityType = "routing"
	ActivityStep         ActivityType = "step"
	ActivityLLMCall      ActivityType = "llm_call"
	ActivityToolCall     ActivityType = "tool_call"
	ActivityDelegateStart ActivityType = "delegate_start"
	ActivityDelegateEnd  ActivityType = "delegate_end"
	ActivityExploreStep  ActivityType = "explore_step"
	ActivityError        ActivityType = "error"
	ActivityComplete     ActivityType = "complete"
	ActivityStart        ActivityType = "start"
	ActivityCancelled    ActivityType = "cancelled"
)

// ToolCall is one tool invocation requested by the model inside a single
// assistant response. Ordering among ToolCalls in a CompletionResponse is
// significant and preserved end to end.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ErrorKind is the orthogonal-to-HTTP error taxonomy from §7.
type ErrorKind string

const (
	ErrInvalidArgs     ErrorKind = "InvalidArgs"
	ErrTimeout         ErrorKind = "Timeout"
	ErrExternal        ErrorKind = "External"
	ErrRateLimited     ErrorKind = "RateLimited"
	ErrContextOverflow ErrorKind = "ContextOverflow"
	ErrCancelled       ErrorKind = "Cancelled"
	ErrQuotaExceeded   ErrorKind = "QuotaExceeded"
	ErrFatal           ErrorKind = "Fatal"
)

// ToolResult is what a tool handler returns. Exactly one of Value/Error is set.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Value      json.RawMessage `json:"value,omitempty"`
	Error      *ToolError      `json:"error,omitempty"`
}

// IsError reports whether the result carries an error.
func (r ToolResult) IsError() bool { return r.Error != nil }

// ToolError is the {kind, message, detail?} shape from §6.2.
type ToolError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

func (e *ToolError) Error() string { return string(e.Kind) + ": " + e.Message }

// Message is one ordered entry inside a conversation.
type Message struct {
	ID             int64          `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	ToolCalls      []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID     string         `json:"tool_call_id,omitempty"`
	Thinking       string         `json:"thinking,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Internal       bool           `json:"internal,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Conversation is a single dialogue thread.
type Conversation struct {
	ID                   string     `json:"id"`
	CreatedAt            time.Time  `json:"created_at"`
	ForkedFrom           string     `json:"forked_from,omitempty"`
	BranchNumber          int       `json:"branch_number,omitempty"`
	IsArchived           bool       `json:"is_archived"`
	SchedulerID          string     `json:"scheduler_id,omitempty"`
	IsSchedulerRun       bool       `json:"is_scheduler_run,omitempty"`
	ReadAt               *time.Time `json:"read_at,omitempty"`
	Summary              string     `json:"summary,omitempty"`
	SummaryUpToMessageID int64      `json:"summary_up_to_message_id,omitempty"`
}

// Job is one execution of the agent loop for one user turn.
type Job struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	UserMessage    string     `json:"user_message"`
	Status         JobStatus  `json:"status"`
	WorkerID       string     `json:"worker_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Result         string     `json:"result,omitempty"`
	ErrorKind      ErrorKind  `json:"error_kind,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	PendingToolID  string     `json:"pending_tool_call_id,omitempty"`
	PendingKind    string     `json:"pending_kind,omitempty"` // "question" | "oauth"
	PendingPayload map[string]any `json:"pending_payload,omitempty"`
}

// Activity is one append-only record tied to a job.
type Activity struct {
	ID       int64        `json:"id"`
	JobID    string       `json:"job_id"`
	Type     ActivityType `json:"type"`
	Message  string       `json:"message"`
	Detail   string       `json:"detail,omitempty"`
	ToolName string       `json:"tool_name,omitempty"`
	IsError  bool         `json:"is_error,omitempty"`
	At       time.Time    `json:"at"`
}

// ScheduleKind distinguishes recurring CRON schedules from one-shot/interval ones.
type ScheduleKind string

const (
	ScheduleKindCron ScheduleKind = "cron"
)

// Schedule is a CRON-triggered recurring job source.
type Schedule struct {
	ID                string         `json:"id"`
	ConversationID    string         `json:"conversation_id"`
	Name              string         `json:"name"`
	Prompt            string         `json:"prompt"`
	CronExpr          string         `json:"cron_expr"`
	Timezone          string         `json:"timezone"`
	Enabled           bool           `json:"enabled"`
	NextFire          *time.Time     `json:"next_fire,omitempty"`
	RunCount          int64          `json:"run_count"`
	SourceConvID      string         `json:"source_conversation_id,omitempty"`
	CapturedContext   map[string]any `json:"captured_context,omitempty"`
}

// CapabilitySet is the per-conversation mapping from capability name to
// remaining TTL in steps.
type CapabilitySet map[string]int

// Decrement drops all entries to TTL-1, removing any that reach zero.
func (c CapabilitySet) Decrement() CapabilitySet {
	out := make(CapabilitySet, len(c))
	for name, ttl := range c {
		if ttl-1 > 0 {
			out[name] = ttl - 1
		}
	}
	return out
}

// UsageRecord is one append-only record of LLM token/cost accounting.
type UsageRecord struct {
	ID               int64     `json:"id"`
	JobID            string    `json:"job_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	Component        string    `json:"component"` // agent | router | delegate | summarizer | compressor
	At               time.Time `json:"at"`
}

// ModelTier selects which provider/model pair a completion request targets.
type ModelTier string

const (
	TierMain   ModelTier = "main"
	TierCheap  ModelTier = "cheap"
	TierRouter ModelTier = "router"
)
