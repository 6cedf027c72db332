// Package questiongate implements the Question Gate (C9): the rendezvous
// primitive that bridges a worker goroutine blocked on ask_user or an OAuth
// flow to whatever external actor (typically an HTTP responder) eventually
// supplies the answer. Both waiting_for_input and oauth_pending jobs share
// this one primitive, distinguished only by Kind (§9, resolved open
// question) — the synchronization shape is identical either way.
//
// Grounded on the reference gateway package's request/response correlation
// idiom (internal/gateway), adapted from per-request channel maps to one
// buffered channel per job id.
package questiongate

import (
	"context"
	"fmt"
	"sync"
)

// Kind distinguishes what a pending wait is blocked on.
type Kind string

const (
	KindAskUser Kind = "ask_user"
	KindOAuth   Kind = "oauth"
)

// Answer is what an external responder supplies to unblock a waiting job.
type Answer struct {
	Text    string
	Payload map[string]any
}

// ErrAlreadyAnswered is returned by Resolve when no one is waiting on the
// job id (either it was never opened, or it has already been answered).
var ErrAlreadyAnswered = fmt.Errorf("questiongate: no pending wait for this job")

type waiter struct {
	kind Kind
	ch   chan Answer
}

// Gate is the in-process registry of pending waits, keyed by job id. It is
// safe for concurrent use by many worker goroutines and many HTTP handlers.
type Gate struct {
	mu      sync.Mutex
	waiters map[string]*waiter
}

// New builds an empty Gate.
func New() *Gate {
	return &Gate{waiters: make(map[string]*waiter)}
}

// Open registers jobID as waiting on an answer of the given kind and
// returns a channel that receives exactly one Answer once Resolve is
// called. Open must be called before the job transitions the store into
// waiting_for_input/oauth_pending, so no Resolve can race ahead of it.
func (g *Gate) Open(jobID string, kind Kind) <-chan Answer {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan Answer, 1)
	g.waiters[jobID] = &waiter{kind: kind, ch: ch}
	return ch
}

// Reopen re-arms a wait after a process restart, for jobs the Job Queue
// finds still in waiting_for_input/oauth_pending at startup (§4.9, §4.10
// crash recovery). Callers pass the kind recovered from the job's
// PendingKind field.
func (g *Gate) Reopen(jobID string, kind Kind) <-chan Answer {
	return g.Open(jobID, kind)
}

// Pending reports the Kind of an open wait for jobID, if any.
func (g *Gate) Pending(jobID string) (Kind, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.waiters[jobID]
	if !ok {
		return "", false
	}
	return w.kind, true
}

// Resolve delivers ans to the goroutine waiting on jobID and closes out the
// wait. It returns ErrAlreadyAnswered if nothing is currently waiting,
// which an HTTP handler should surface as 409 Conflict (§6.1).
func (g *Gate) Resolve(jobID string, ans Answer) error {
	g.mu.Lock()
	w, ok := g.waiters[jobID]
	if ok {
		delete(g.waiters, jobID)
	}
	g.mu.Unlock()
	if !ok {
		return ErrAlreadyAnswered
	}
	w.ch <- ans
	return nil
}

// Abandon removes a wait without delivering an answer, used when a job is
// cancelled while waiting (§4.7 waiting_for_input/oauth_pending -> cancelled).
func (g *Gate) Abandon(jobID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.waiters, jobID)
}

// Wait blocks until an answer is delivered for jobID, ctx is cancelled, or
// the job is abandoned (in which case the channel is never written to and
// the context's cancellation is what actually unblocks the caller — callers
// should derive ctx from the job's own cancellation signal).
func Wait(ctx context.Context, ch <-chan Answer) (Answer, error) {
	select {
	case ans, ok := <-ch:
		if !ok {
			return Answer{}, ErrAlreadyAnswered
		}
		return ans, nil
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	}
}
