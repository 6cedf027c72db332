package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Error is a structured error from a provider adapter. It carries enough
// context for retry/backoff decisions at the Agent Runtime, which owns
// retry policy — the client itself never retries (§4.2).
type Error struct {
	Kind      models.ErrorKind
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	RetryAfterSeconds int
	Cause     error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError classifies cause into the normalized taxonomy.
func NewError(provider, model string, cause error) *Error {
	e := &Error{Provider: provider, Model: model, Cause: cause, Kind: models.ErrExternal}
	if cause != nil {
		e.Message = cause.Error()
		e.Kind = ClassifyError(cause)
	}
	return e
}

// WithStatus attaches an HTTP status code and reclassifies accordingly.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	e.Kind = classifyStatusCode(status)
	return e
}

// WithCode attaches a provider-specific error code and reclassifies if recognised.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	if k := classifyErrorCode(code); k != "" {
		e.Kind = k
	}
	return e
}

// ClassifyError maps a raw error into the §7 taxonomy using message heuristics,
// mirroring the reference adapters' classification approach.
func ClassifyError(err error) models.ErrorKind {
	if err == nil {
		return models.ErrExternal
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "context canceled"), strings.Contains(s, "context.canceled"):
		return models.ErrCancelled
	case strings.Contains(s, "context deadline"), strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return models.ErrTimeout
	case strings.Contains(s, "rate limit"), strings.Contains(s, "429"), strings.Contains(s, "too many requests"):
		return models.ErrRateLimited
	case strings.Contains(s, "context_length_exceeded"), strings.Contains(s, "maximum context length"), strings.Contains(s, "prompt is too long"):
		return models.ErrContextOverflow
	case strings.Contains(s, "invalid_request"), strings.Contains(s, "400"):
		return models.ErrInvalidArgs
	default:
		return models.ErrExternal
	}
}

func classifyStatusCode(status int) models.ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return models.ErrRateLimited
	case status == http.StatusRequestTimeout:
		return models.ErrTimeout
	case status == http.StatusBadRequest:
		return models.ErrInvalidArgs
	case status >= 500:
		return models.ErrExternal
	default:
		return models.ErrExternal
	}
}

func classifyErrorCode(code string) models.ErrorKind {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return models.ErrRateLimited
	case "context_length_exceeded", "prompt_too_long":
		return models.ErrContextOverflow
	case "invalid_request_error":
		return models.ErrInvalidArgs
	default:
		return ""
	}
}

// IsRetryable reports whether the kind usually resolves with a retry.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case models.ErrRateLimited, models.ErrTimeout, models.ErrExternal:
			return true
		default:
			return false
		}
	}
	switch ClassifyError(err) {
	case models.ErrRateLimited, models.ErrTimeout, models.ErrExternal:
		return true
	default:
		return false
	}
}
