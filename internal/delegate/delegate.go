// Package delegate implements the Delegate/Explore Executor (C8):
// bounded-parallel sub-agent fan-out. Each sub-agent gets a restricted tool
// subset (never delegate, ask_user, or schedule — §4.8's no-recursion and
// no-blocking-from-a-child invariants) and a per-conversation quota. Results
// are returned in the same order the calls were issued, regardless of which
// finishes first.
//
// Grounded on the reference multiagent.Swarm's parallel-agent-with-shared-
// context shape (internal/multiagent/swarm.go), narrowed from swarm-wide
// role coordination to simple bounded fan-out, and on golang.org/x/sync's
// errgroup for the concurrency limiting (adopted from kadirpekel-hector's
// workflowagent/parallel.go pattern in the wider example pack).
package delegate

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// RestrictedTools is the fixed set of tool names a sub-agent may never be
// given, regardless of what its parent's capability set allows (§4.8).
var RestrictedTools = map[string]bool{
	"delegate": true,
	"explore":  true,
	"ask_user": true,
	"schedule": true,
}

// Call describes one sub-agent invocation to fan out.
type Call struct {
	Prompt        string
	AllowedTools  []string // must already exclude RestrictedTools; Runner re-enforces it
	MaxSteps      int
}

// Result is one sub-agent's outcome.
type Result struct {
	Text  string
	Error *models.ToolError
}

// Runner executes a single sub-agent call to completion. Implemented by the
// Agent Runtime in a restricted mode (no further delegation, no context
// persisted to the parent conversation).
type Runner interface {
	RunSubAgent(ctx context.Context, call Call) (string, error)
}

// QuotaExceeded is returned when a conversation has already spent its
// delegation budget for the job's lifetime.
var ErrQuotaExceeded = fmt.Errorf("delegate: per-conversation quota exceeded")

// DefaultQuota is the default max number of delegate/explore calls a single
// conversation may issue across its lifetime (§6.6).
const DefaultQuota = 25

const defaultConcurrency = 4

// Quota tracks delegation counts per conversation so a runaway loop of
// delegate calls cannot unboundedly fan out sub-agents.
type Quota struct {
	mu     sync.Mutex
	max    int
	spent  map[string]int
}

// NewQuota builds a Quota with the given per-conversation ceiling (0 uses
// DefaultQuota).
func NewQuota(max int) *Quota {
	if max <= 0 {
		max = DefaultQuota
	}
	return &Quota{max: max, spent: make(map[string]int)}
}

// Reserve consumes n units of a conversation's quota, returning
// ErrQuotaExceeded without reserving anything if that would overdraw it.
func (q *Quota) Reserve(conversationID string, n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.spent[conversationID]+n > q.max {
		return ErrQuotaExceeded
	}
	q.spent[conversationID] += n
	return nil
}

// Executor runs bounded-parallel sub-agent fan-out for one job.
type Executor struct {
	runner      Runner
	quota       *Quota
	concurrency int
}

// New builds an Executor. concurrency <= 0 uses a sane default.
func New(runner Runner, quota *Quota, concurrency int) *Executor {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Executor{runner: runner, quota: quota, concurrency: concurrency}
}

// sanitize strips any restricted tool name from an allowed-tools list,
// defense in depth against a capability set that somehow included one.
func sanitize(tools []string) []string {
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		if !RestrictedTools[t] {
			out = append(out, t)
		}
	}
	return out
}

// Run executes calls with bounded parallelism and returns results in the
// same order calls were given (property: call-order preserved regardless
// of completion order). It first reserves len(calls) units of the
// conversation's delegation quota; if that would overdraw, no sub-agent is
// launched and ErrQuotaExceeded is returned.
func (e *Executor) Run(ctx context.Context, conversationID string, calls []Call) ([]Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	if e.quota != nil {
		if err := e.quota.Reserve(conversationID, len(calls)); err != nil {
			return nil, err
		}
	}

	results := make([]Result, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, call := range calls {
		i, call := i, call
		call.AllowedTools = sanitize(call.AllowedTools)
		g.Go(func() error {
			text, err := e.runner.RunSubAgent(gctx, call)
			if err != nil {
				results[i] = Result{Error: &models.ToolError{Kind: models.ErrExternal, Message: err.Error()}}
				return nil // one sub-agent's failure never aborts its siblings
			}
			results[i] = Result{Text: text}
			return nil
		})
	}
	_ = g.Wait() // errors are captured per-result above, never propagated as a group failure
	return results, nil
}
