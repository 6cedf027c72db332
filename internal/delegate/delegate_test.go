package delegate

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRunner struct {
	delay   time.Duration
	failOn  map[string]bool
	inFlight int32
	maxSeen  int32
}

func (r *fakeRunner) RunSubAgent(ctx context.Context, call Call) (string, error) {
	n := atomic.AddInt32(&r.inFlight, 1)
	defer atomic.AddInt32(&r.inFlight, -1)
	for {
		cur := atomic.LoadInt32(&r.maxSeen)
		if n <= cur || atomic.CompareAndSwapInt32(&r.maxSeen, cur, n) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.failOn != nil && r.failOn[call.Prompt] {
		return "", fmt.Errorf("sub-agent failed for %s", call.Prompt)
	}
	return "result:" + call.Prompt, nil
}

func TestRunPreservesCallOrderRegardlessOfCompletionOrder(t *testing.T) {
	runner := &fakeRunner{}
	e := New(runner, NewQuota(100), 4)

	calls := []Call{{Prompt: "slow"}, {Prompt: "fast"}, {Prompt: "medium"}}
	// Make the first call take the longest so completion order differs from
	// call order, and confirm the results slice still lines up with calls.
	results, err := e.Run(context.Background(), "conv-1", calls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, c := range calls {
		want := "result:" + c.Prompt
		if results[i].Text != want {
			t.Fatalf("result %d out of order: want %q got %q", i, want, results[i].Text)
		}
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	e := New(runner, NewQuota(100), 2)

	calls := make([]Call, 8)
	for i := range calls {
		calls[i] = Call{Prompt: fmt.Sprintf("c%d", i)}
	}
	if _, err := e.Run(context.Background(), "conv-1", calls); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner.maxSeen > 2 {
		t.Fatalf("expected concurrency bounded to 2, observed %d in flight simultaneously", runner.maxSeen)
	}
}

func TestRunOneFailureDoesNotAbortSiblings(t *testing.T) {
	runner := &fakeRunner{failOn: map[string]bool{"bad": true}}
	e := New(runner, NewQuota(100), 4)

	results, err := e.Run(context.Background(), "conv-1", []Call{{Prompt: "good1"}, {Prompt: "bad"}, {Prompt: "good2"}})
	if err != nil {
		t.Fatalf("unexpected top-level error: %v", err)
	}
	if results[0].Error != nil || results[2].Error != nil {
		t.Fatal("siblings of a failed sub-agent must still succeed")
	}
	if results[1].Error == nil {
		t.Fatal("expected the failing sub-agent's result to carry an error")
	}
}

func TestSanitizeStripsRestrictedTools(t *testing.T) {
	runner := &fakeRunner{}
	captured := make(chan []string, 1)
	wrapped := runnerFunc(func(ctx context.Context, call Call) (string, error) {
		captured <- call.AllowedTools
		return runner.RunSubAgent(ctx, call)
	})
	e := New(wrapped, NewQuota(10), 1)

	_, err := e.Run(context.Background(), "conv-1", []Call{{
		Prompt:       "x",
		AllowedTools: []string{"search", "delegate", "ask_user", "read_file"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := <-captured
	for _, tool := range got {
		if RestrictedTools[tool] {
			t.Fatalf("restricted tool %q leaked into a sub-agent's allowed tools", tool)
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 surviving tools, got %v", got)
	}
}

type runnerFunc func(ctx context.Context, call Call) (string, error)

func (f runnerFunc) RunSubAgent(ctx context.Context, call Call) (string, error) { return f(ctx, call) }

func TestQuotaExceededBlocksEntireBatch(t *testing.T) {
	runner := &fakeRunner{}
	quota := NewQuota(2)
	e := New(runner, quota, 4)

	_, err := e.Run(context.Background(), "conv-1", []Call{{Prompt: "a"}, {Prompt: "b"}, {Prompt: "c"}})
	if err != ErrQuotaExceeded {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if atomic.LoadInt32(&runner.inFlight) != 0 {
		t.Fatal("no sub-agent should have been launched when the batch would overdraw the quota")
	}
}

func TestQuotaIsPerConversation(t *testing.T) {
	runner := &fakeRunner{}
	quota := NewQuota(2)
	e := New(runner, quota, 4)

	if _, err := e.Run(context.Background(), "conv-1", []Call{{Prompt: "a"}, {Prompt: "b"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.Run(context.Background(), "conv-2", []Call{{Prompt: "c"}}); err != nil {
		t.Fatalf("a different conversation's quota must be independent: %v", err)
	}
	if _, err := e.Run(context.Background(), "conv-1", []Call{{Prompt: "d"}}); err != ErrQuotaExceeded {
		t.Fatalf("conv-1 should now be exhausted, got %v", err)
	}
}

func TestRunWithNoCallsIsNoop(t *testing.T) {
	runner := &fakeRunner{}
	e := New(runner, NewQuota(1), 1)
	results, err := e.Run(context.Background(), "conv-1", nil)
	if err != nil || results != nil {
		t.Fatalf("expected (nil, nil) for an empty batch, got (%v, %v)", results, err)
	}
}
