package llm

import (
	"errors"
	"net/http"
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func TestClassifyErrorMessageHeuristics(t *testing.T) {
	cases := []struct {
		msg  string
		want models.ErrorKind
	}{
		{"context canceled", models.ErrCancelled},
		{"context deadline exceeded", models.ErrTimeout},
		{"request timeout", models.ErrTimeout},
		{"429 Too Many Requests: rate limit hit", models.ErrRateLimited},
		{"this model's maximum context length is 8192 tokens", models.ErrContextOverflow},
		{"context_length_exceeded", models.ErrContextOverflow},
		{"invalid_request: missing field", models.ErrInvalidArgs},
		{"400 bad request", models.ErrInvalidArgs},
		{"something unexpected happened", models.ErrExternal},
	}
	for _, c := range cases {
		got := ClassifyError(errors.New(c.msg))
		if got != c.want {
			t.Errorf("ClassifyError(%q) = %s, want %s", c.msg, got, c.want)
		}
	}
}

func TestClassifyErrorNilReturnsExternal(t *testing.T) {
	if got := ClassifyError(nil); got != models.ErrExternal {
		t.Fatalf("expected ErrExternal for nil, got %s", got)
	}
}

func TestClassifyStatusCode(t *testing.T) {
	cases := []struct {
		status int
		want   models.ErrorKind
	}{
		{http.StatusTooManyRequests, models.ErrRateLimited},
		{http.StatusRequestTimeout, models.ErrTimeout},
		{http.StatusBadRequest, models.ErrInvalidArgs},
		{http.StatusInternalServerError, models.ErrExternal},
		{http.StatusOK, models.ErrExternal},
	}
	for _, c := range cases {
		if got := classifyStatusCode(c.status); got != c.want {
			t.Errorf("classifyStatusCode(%d) = %s, want %s", c.status, got, c.want)
		}
	}
}

func TestClassifyErrorCode(t *testing.T) {
	cases := []struct {
		code string
		want models.ErrorKind
	}{
		{"rate_limit_error", models.ErrRateLimited},
		{"RATE_LIMIT_EXCEEDED", models.ErrRateLimited},
		{"context_length_exceeded", models.ErrContextOverflow},
		{"invalid_request_error", models.ErrInvalidArgs},
		{"unknown_thing", ""},
	}
	for _, c := range cases {
		if got := classifyErrorCode(c.code); got != c.want {
			t.Errorf("classifyErrorCode(%q) = %q, want %q", c.code, got, c.want)
		}
	}
}

func TestNewErrorClassifiesCause(t *testing.T) {
	e := NewError("anthropic", "claude", errors.New("rate limit exceeded"))
	if e.Kind != models.ErrRateLimited {
		t.Fatalf("expected ErrRateLimited, got %s", e.Kind)
	}
	if e.Provider != "anthropic" || e.Model != "claude" {
		t.Fatalf("provider/model not set: %+v", e)
	}
	if e.Unwrap() == nil {
		t.Fatal("expected Unwrap to return the cause")
	}
}

func TestErrorWithStatusReclassifies(t *testing.T) {
	e := NewError("openai", "gpt", errors.New("boom")).WithStatus(http.StatusTooManyRequests)
	if e.Kind != models.ErrRateLimited {
		t.Fatalf("expected status 429 to reclassify to ErrRateLimited, got %s", e.Kind)
	}
}

func TestErrorWithCodeReclassifiesWhenRecognised(t *testing.T) {
	e := NewError("openai", "gpt", errors.New("boom"))
	e.Kind = models.ErrExternal
	e.WithCode("context_length_exceeded")
	if e.Kind != models.ErrContextOverflow {
		t.Fatalf("expected recognised code to reclassify, got %s", e.Kind)
	}
}

func TestErrorWithCodeLeavesKindUnchangedWhenUnrecognised(t *testing.T) {
	e := NewError("openai", "gpt", errors.New("rate limit"))
	before := e.Kind
	e.WithCode("some_unrelated_code")
	if e.Kind != before {
		t.Fatalf("expected kind unchanged for unrecognised code, got %s", e.Kind)
	}
}

func TestErrorStringIncludesKindAndMessage(t *testing.T) {
	e := &Error{Kind: models.ErrTimeout, Provider: "anthropic", Model: "claude", Status: 408, Message: "request timed out"}
	s := e.Error()
	if !contains(s, "timeout") && !contains(s, string(models.ErrTimeout)) {
		t.Fatalf("expected error string to include the kind, got %q", s)
	}
	if !contains(s, "request timed out") {
		t.Fatalf("expected error string to include the message, got %q", s)
	}
}

func TestIsRetryableForStructuredError(t *testing.T) {
	cases := []struct {
		kind models.ErrorKind
		want bool
	}{
		{models.ErrRateLimited, true},
		{models.ErrTimeout, true},
		{models.ErrExternal, true},
		{models.ErrInvalidArgs, false},
		{models.ErrFatal, false},
		{models.ErrCancelled, false},
	}
	for _, c := range cases {
		err := &Error{Kind: c.kind}
		if got := IsRetryable(err); got != c.want {
			t.Errorf("IsRetryable(kind=%s) = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestIsRetryableForPlainError(t *testing.T) {
	if !IsRetryable(errors.New("rate limit exceeded")) {
		t.Fatal("expected a plain rate-limit error to be retryable via message classification")
	}
	if IsRetryable(errors.New("invalid_request: bad field")) {
		t.Fatal("expected an invalid-args-classified plain error to not be retryable")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
