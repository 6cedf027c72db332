// Package agentrt implements the Agent Runtime (C7): the control loop that
// ties together the Capability Router, Context Manager, LLM Client, Tool
// Registry, Loop/Progress Detector, Question Gate, and Delegate Executor
// into one step loop per job, enforcing the §4.7 job state machine, the
// per-conversation mutex, and the step/wall-clock budgets.
//
// Grounded on the reference agent package's turn loop shape
// (internal/agent) and the multiagent orchestrator's per-conversation
// locking idiom (internal/multiagent/orchestrator.go), generalized from a
// single fixed tool surface to the capability-routed, context-compressed,
// loop-detected loop this system specifies.
package agentrt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/agentcore/internal/activity"
	"github.com/haasonsaas/agentcore/internal/capability"
	"github.com/haasonsaas/agentcore/internal/ctxmgr"
	"github.com/haasonsaas/agentcore/internal/delegate"
	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/internal/loopdetect"
	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/internal/questiongate"
	"github.com/haasonsaas/agentcore/internal/store"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Config holds the runtime's step/wall-clock budgets (§6.6 defaults).
type Config struct {
	MaxSteps            int
	MaxWall             time.Duration
	SystemPrompt        string
	DelegateConcurrency int
	LoopDetect          loopdetect.Config
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxSteps:            100,
		MaxWall:             30 * time.Minute,
		SystemPrompt:        "You are an autonomous assistant. Use the available tools to complete the user's request.",
		DelegateConcurrency: 4,
		LoopDetect:          loopdetect.DefaultConfig(),
	}
}

// convLock is a refcounted per-conversation mutex, grounded on the
// reference multiagent orchestrator's session-lock-with-refcount idiom.
type convLock struct {
	mu  sync.Mutex
	ref int
}

// errJobCancelled signals up through dispatchToolCalls/loop that the job's
// context was explicitly cancelled (jobqueue.Queue.Cancel), as opposed to
// having simply run out of wall-clock budget. loop finalizes the job as
// JobCancelled rather than JobFailed when it sees this sentinel.
var errJobCancelled = errors.New("agentrt: job cancelled")

// Runtime implements jobqueue.Runner and delegate.Runner.
type Runtime struct {
	cfg Config

	st         store.Store
	llmRouter  *llm.Router
	toolReg    *tools.Registry
	capRouter  *capability.Router
	ctxMgr     *ctxmgr.Manager
	gate       *questiongate.Gate
	delegateEx *delegate.Executor
	metrics    *observability.Metrics
	logger     *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*convLock
}

// New builds a Runtime wiring every C1-C6/C8-C9 dependency together. The
// Delegate Executor is supplied already bound to this Runtime (via
// delegate.New(rt, quota, concurrency)) since delegate.Runner is satisfied
// by *Runtime's RunSubAgent method — callers construct Runtime first with a
// nil delegateEx and call SetDelegate once the Executor exists.
func New(cfg Config, st store.Store, llmRouter *llm.Router, toolReg *tools.Registry, capRouter *capability.Router, ctxMgr *ctxmgr.Manager, gate *questiongate.Gate, metrics *observability.Metrics, logger *slog.Logger) *Runtime {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 100
	}
	if cfg.MaxWall <= 0 {
		cfg.MaxWall = 30 * time.Minute
	}
	if cfg.LoopDetect == (loopdetect.Config{}) {
		cfg.LoopDetect = loopdetect.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		cfg:       cfg,
		st:        st,
		llmRouter: llmRouter,
		toolReg:   toolReg,
		capRouter: capRouter,
		ctxMgr:    ctxMgr,
		gate:      gate,
		metrics:   metrics,
		logger:    logger.With("component", "agentrt"),
		locks:     make(map[string]*convLock),
	}
}

// SetDelegate wires the Delegate Executor in after construction, breaking
// the New(rt) <-> delegate.New(rt) construction cycle.
func (rt *Runtime) SetDelegate(d *delegate.Executor) { rt.delegateEx = d }

func (rt *Runtime) lockConversation(id string) func() {
	rt.locksMu.Lock()
	l, ok := rt.locks[id]
	if !ok {
		l = &convLock{}
		rt.locks[id] = l
	}
	l.ref++
	rt.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		rt.locksMu.Lock()
		l.ref--
		if l.ref == 0 {
			delete(rt.locks, id)
		}
		rt.locksMu.Unlock()
	}
}

// Run executes job to completion, implementing jobqueue.Runner. It holds
// the conversation's mutex for the job's entire lifetime (one non-terminal
// job per conversation at a time is already enforced by the store, but the
// in-process mutex also serializes sub-agent and delegate access to the
// same conversation's data).
func (rt *Runtime) Run(ctx context.Context, job models.Job) error {
	unlock := rt.lockConversation(job.ConversationID)
	defer unlock()

	rec := activity.NewRecorder(rt.st, job.ID)
	_ = rec.Emit(ctx, models.ActivityStart, "job started")

	if job.UserMessage != "" {
		if _, err := rt.st.AppendMessage(ctx, models.Message{
			ConversationID: job.ConversationID,
			Role:           models.RoleUser,
			Content:        job.UserMessage,
		}); err != nil {
			return fmt.Errorf("agentrt: append user message: %w", err)
		}
	}

	deadline := time.Now().Add(rt.cfg.MaxWall)
	wallCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	return rt.loop(wallCtx, job, rec)
}

// Resume continues a job parked in waiting_for_input/oauth_pending after an
// answer has been durably recorded, without requiring the original Run
// goroutine to still be alive — the crash-recovery path for C9 (§4.9/§4.10).
func (rt *Runtime) Resume(ctx context.Context, jobID string, ans questiongate.Answer) error {
	unlockFn := func() {}
	job, err := rt.st.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("agentrt: resume: get job: %w", err)
	}
	unlockFn = rt.lockConversation(job.ConversationID)
	defer unlockFn()

	if job.PendingToolID == "" {
		return fmt.Errorf("agentrt: resume: job %s has no pending tool call", jobID)
	}
	if _, err := rt.st.AppendMessage(ctx, models.Message{
		ConversationID: job.ConversationID,
		Role:           models.RoleTool,
		Content:        ans.Text,
		ToolCallID:     job.PendingToolID,
	}); err != nil {
		return fmt.Errorf("agentrt: resume: append tool result: %w", err)
	}

	if err := rt.st.UpdateJobStatus(ctx, jobID, models.JobRunning, store.JobUpdate{}); err != nil {
		return fmt.Errorf("agentrt: resume: transition to running: %w", err)
	}
	job.Status = models.JobRunning

	deadline := time.Now().Add(rt.cfg.MaxWall)
	wallCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	rec := activity.NewRecorder(rt.st, jobID)
	return rt.loop(wallCtx, job, rec)
}

// loop runs the §4.7 step cycle: capability routing, context build, LLM
// call, tool dispatch, loop detection, until a terminal condition.
func (rt *Runtime) loop(ctx context.Context, job models.Job, rec *activity.Recorder) error {
	detector := loopdetect.New(rt.cfg.LoopDetect)
	turnsSinceRouted := 0
	aggressiveRetried := false

	for step := 0; step < rt.cfg.MaxSteps; step++ {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return rt.terminate(ctx, job, models.JobCancelled, "", "", "job cancelled", rec)
			}
			return rt.terminate(ctx, job, models.JobFailed, "", models.ErrTimeout, "wall-clock budget exceeded", rec)
		default:
		}

		_ = rec.Emit(ctx, models.ActivityStep, fmt.Sprintf("step %d", step))

		capSet, err := rt.st.GetCapabilitySet(ctx, job.ConversationID)
		if err != nil {
			return rt.terminate(ctx, job, models.JobFailed, "", models.ErrFatal, err.Error(), rec)
		}
		messages, err := rt.st.ReadMessages(ctx, job.ConversationID, 0, 0)
		if err != nil {
			return rt.terminate(ctx, job, models.JobFailed, "", models.ErrFatal, err.Error(), rec)
		}
		conv, err := rt.st.GetConversation(ctx, job.ConversationID)
		if err != nil {
			return rt.terminate(ctx, job, models.JobFailed, "", models.ErrFatal, err.Error(), rec)
		}

		latestUserText := ""
		var recentVisible []string
		for i := len(messages) - 1; i >= 0 && len(recentVisible) < 5; i-- {
			if messages[i].Role == models.RoleUser {
				recentVisible = append(recentVisible, messages[i].Content)
				if latestUserText == "" {
					latestUserText = messages[i].Content
				}
			}
		}

		if rt.capRouter != nil {
			newSet, routed, rerr := rt.capRouter.Route(ctx, capability.StepInput{
				Current:           capSet,
				TurnsSinceRouted:  turnsSinceRouted,
				LatestUserText:    latestUserText,
				RecentUserVisible: recentVisible,
			})
			if rerr == nil {
				capSet = newSet
				_ = rt.st.SetCapabilitySet(ctx, job.ConversationID, capSet)
				if routed {
					turnsSinceRouted = 0
					if rt.metrics != nil {
						rt.metrics.CapabilityRouteDecisions.WithLabelValues("keep").Inc()
					}
					_ = rec.Emit(ctx, models.ActivityRouting, "capability route evaluated")
				} else {
					turnsSinceRouted++
				}
			}
		}

		systemPrompt := rt.buildSystemPrompt(capSet)
		toolSchemas := rt.buildToolSchemas(capSet)
		toolSchemaText := schemasToText(toolSchemas)

		snap, cerr := rt.ctxMgr.Build(ctx, conv.Summary, conv.SummaryUpToMessageID, messages, systemPrompt, toolSchemaText, aggressiveRetried)
		if cerr != nil {
			if aggressiveRetried {
				return rt.terminate(ctx, job, models.JobFailed, "", models.ErrContextOverflow, cerr.Error(), rec)
			}
			aggressiveRetried = true
			step--
			continue
		}
		if snap.Compressed {
			_ = rt.st.UpdateConversationSummary(ctx, job.ConversationID, snap.Summary, snap.SummaryUpToMessageID)
			if rt.metrics != nil {
				rt.metrics.ContextCompressions.Inc()
			}
		}

		client, model, ok := rt.llmRouter.For(models.TierMain)
		if !ok {
			return rt.terminate(ctx, job, models.JobFailed, "", models.ErrFatal, "no client configured for main tier", rec)
		}

		req := llm.Request{
			Tier:     models.TierMain,
			Model:    model,
			System:   systemPrompt,
			Messages: snapshotToChatMessages(snap),
			Tools:    toolSchemas,
		}
		start := time.Now()
		resp, err := client.Complete(ctx, req)
		_ = rec.Emit(ctx, models.ActivityLLMCall, fmt.Sprintf("llm call (%s/%s)", client.Name(), model))
		if err != nil {
			llmErr := llm.NewError(client.Name(), model, err)
			if rt.metrics != nil {
				rt.metrics.RecordLLMRequest(client.Name(), model, string(models.TierMain), "error", time.Since(start).Seconds(), 0, 0)
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return rt.terminate(ctx, job, models.JobCancelled, "", "", "job cancelled", rec)
			}
			if llmErr.Kind == models.ErrContextOverflow && !aggressiveRetried {
				aggressiveRetried = true
				step--
				continue
			}
			return rt.terminate(ctx, job, models.JobFailed, "", llmErr.Kind, llmErr.Message, rec)
		}
		if rt.metrics != nil {
			rt.metrics.RecordLLMRequest(client.Name(), model, string(models.TierMain), "success", time.Since(start).Seconds(), resp.PromptTokens, resp.CompletionTokens)
		}
		_ = rt.st.AppendUsage(ctx, models.UsageRecord{
			JobID: job.ID, Provider: client.Name(), Model: model,
			PromptTokens: resp.PromptTokens, CompletionTokens: resp.CompletionTokens, Component: "agent",
		})

		assistantMsg := models.Message{
			ConversationID: job.ConversationID,
			Role:           models.RoleAssistant,
			Content:        resp.Text,
			Thinking:       resp.Thinking,
			ToolCalls:      resp.ToolCalls,
		}
		if _, err := rt.st.AppendMessage(ctx, assistantMsg); err != nil {
			return rt.terminate(ctx, job, models.JobFailed, "", models.ErrFatal, err.Error(), rec)
		}

		if len(resp.ToolCalls) == 0 {
			return rt.terminate(ctx, job, models.JobCompleted, resp.Text, "", "", rec)
		}

		paused, err := rt.dispatchToolCalls(ctx, job, resp.ToolCalls, rec)
		if err != nil {
			if errors.Is(err, errJobCancelled) {
				return rt.terminate(ctx, job, models.JobCancelled, "", "", "job cancelled", rec)
			}
			return rt.terminate(ctx, job, models.JobFailed, "", models.ErrFatal, err.Error(), rec)
		}
		if paused {
			return nil // job is now waiting_for_input/oauth_pending; loop exits without terminating
		}

		nudge := detector.Observe(resp.Text, false, resp.ToolCalls)
		if nudge != "" {
			if rt.metrics != nil {
				rt.metrics.LoopNudges.WithLabelValues("detected").Inc()
			}
			_, _ = rt.st.AppendMessage(ctx, models.Message{
				ConversationID: job.ConversationID,
				Role:           models.RoleSystemInternal,
				Content:        nudge,
				Internal:       true,
			})
		}
		aggressiveRetried = false
	}

	return rt.terminate(ctx, job, models.JobFailed, "", models.ErrFatal, "step budget exceeded", rec)
}

// dispatchToolCalls executes every tool call from one assistant turn in
// order, handling delegate/explore/ask_user/schedule specially and routing
// everything else through the Tool Registry. It returns paused=true if the
// job is now blocked on an external answer (ask_user/oauth), in which case
// the caller must not continue the step loop.
func (rt *Runtime) dispatchToolCalls(ctx context.Context, job models.Job, calls []models.ToolCall, rec *activity.Recorder) (bool, error) {
	for _, tc := range calls {
		switch tc.Name {
		case "ask_user":
			resumed, err := rt.handleAskUser(ctx, job, tc, rec)
			if err != nil {
				return false, err
			}
			if !resumed {
				return true, nil
			}
			// The answer arrived while this same goroutine was still alive;
			// the job is back in "running" and the turn continues in place.
		case "delegate", "explore":
			rt.handleDelegate(ctx, job, tc, rec)
		default:
			rt.handleGenericTool(ctx, job, tc, rec)
		}
	}
	return false, nil
}

// handleAskUser parks the job on an external answer. The conversation lock
// is already held by the caller's Run for the whole step loop, so a
// same-process answer is folded in inline here rather than through Resume,
// which would try to re-acquire that same non-reentrant lock and deadlock.
// Resume remains the entry point for an answer that arrives after this
// goroutine is gone (a different process, or this one restarted).
func (rt *Runtime) handleAskUser(ctx context.Context, job models.Job, tc models.ToolCall, rec *activity.Recorder) (bool, error) {
	var args struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
	}
	_ = json.Unmarshal(tc.Input, &args)

	payload := map[string]any{"question": args.Question, "options": args.Options}
	kindStr := "question"
	if err := rt.st.UpdateJobStatus(ctx, job.ID, models.JobWaitingForInput, store.JobUpdate{
		PendingToolID:  &tc.ID,
		PendingKind:    &kindStr,
		PendingPayload: payload,
	}); err != nil {
		return false, err
	}
	_ = rec.Emit(ctx, models.ActivityToolCall, "waiting for user input", activity.WithTool("ask_user"), activity.WithDetail(args.Question))

	ch := rt.gate.Open(job.ID, questiongate.KindAskUser)
	ans, err := questiongate.Wait(ctx, ch)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// An explicit cancel (jobqueue.Queue.Cancel), not a wall-clock
			// timeout: the job must finalize as cancelled now, since nobody
			// will ever resume a job nobody intends to continue.
			return false, errJobCancelled
		}
		// Wall-clock deadline or other: leave the job parked; a later
		// Resume (possibly in another process) will pick it up from the
		// store exactly where it left off.
		return false, nil
	}

	if _, err := rt.st.AppendMessage(ctx, models.Message{
		ConversationID: job.ConversationID,
		Role:           models.RoleTool,
		Content:        ans.Text,
		ToolCallID:     tc.ID,
	}); err != nil {
		return false, err
	}
	if err := rt.st.UpdateJobStatus(ctx, job.ID, models.JobRunning, store.JobUpdate{}); err != nil {
		return false, err
	}
	return true, nil
}

func (rt *Runtime) handleDelegate(ctx context.Context, job models.Job, tc models.ToolCall, rec *activity.Recorder) {
	var args struct {
		Tasks        []string `json:"tasks"`
		AllowedTools []string `json:"allowed_tools"`
		MaxSteps     int      `json:"max_steps"`
	}
	_ = json.Unmarshal(tc.Input, &args)
	if len(args.Tasks) == 0 {
		args.Tasks = []string{""}
		_ = json.Unmarshal(tc.Input, &args.Tasks)
	}

	_ = rec.Emit(ctx, models.ActivityDelegateStart, fmt.Sprintf("delegating %d task(s)", len(args.Tasks)), activity.WithTool(tc.Name))

	calls := make([]delegate.Call, 0, len(args.Tasks))
	for _, t := range args.Tasks {
		calls = append(calls, delegate.Call{Prompt: t, AllowedTools: args.AllowedTools, MaxSteps: args.MaxSteps})
	}

	var value json.RawMessage
	var toolErr *models.ToolError
	if rt.delegateEx == nil {
		toolErr = &models.ToolError{Kind: models.ErrFatal, Message: "delegate executor not configured"}
	} else {
		results, err := rt.delegateEx.Run(ctx, job.ConversationID, calls)
		if err != nil {
			toolErr = &models.ToolError{Kind: models.ErrQuotaExceeded, Message: err.Error()}
			if rt.metrics != nil {
				rt.metrics.DelegateRuns.WithLabelValues("quota_exceeded").Inc()
			}
		} else {
			value, _ = json.Marshal(results)
			if rt.metrics != nil {
				rt.metrics.DelegateRuns.WithLabelValues("success").Inc()
			}
		}
	}
	_ = rec.Emit(ctx, models.ActivityDelegateEnd, "delegation complete", activity.WithTool(tc.Name))
	rt.appendToolResultMessage(ctx, job.ConversationID, tc.ID, value, toolErr)
}

func (rt *Runtime) handleGenericTool(ctx context.Context, job models.Job, tc models.ToolCall, rec *activity.Recorder) {
	start := time.Now()
	tcCtx := tools.Context{
		JobID:          job.ID,
		ConversationID: job.ConversationID,
		AppendActivity: func(a models.Activity) { a.JobID = job.ID; _, _ = rt.st.AppendActivity(ctx, a) },
		AskUser: func(ctx context.Context, question string, options []string) (string, error) {
			ch := rt.gate.Open(job.ID+":"+tc.ID, questiongate.KindAskUser)
			ans, err := questiongate.Wait(ctx, ch)
			if err != nil {
				return "", err
			}
			return ans.Text, nil
		},
		Delegate: func(ctx context.Context, task string, allowedTools []string, maxSteps int) (string, error) {
			if rt.delegateEx == nil {
				return "", fmt.Errorf("agentrt: delegate executor not configured")
			}
			results, err := rt.delegateEx.Run(ctx, job.ConversationID, []delegate.Call{{Prompt: task, AllowedTools: allowedTools, MaxSteps: maxSteps}})
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "", nil
			}
			if results[0].Error != nil {
				return "", results[0].Error
			}
			return results[0].Text, nil
		},
	}
	result := rt.toolReg.Execute(ctx, tc.Name, tc.Input, tcCtx)
	status := "success"
	if result.IsError() {
		status = "error"
	}
	if rt.metrics != nil {
		rt.metrics.RecordToolExecution(tc.Name, status, time.Since(start).Seconds())
	}
	_ = rec.Emit(ctx, models.ActivityToolCall, fmt.Sprintf("tool %s", tc.Name), activity.WithTool(tc.Name))
	rt.appendToolResultMessage(ctx, job.ConversationID, tc.ID, result.Value, result.Error)
}

func (rt *Runtime) appendToolResultMessage(ctx context.Context, conversationID, toolCallID string, value json.RawMessage, toolErr *models.ToolError) {
	content := string(value)
	if toolErr != nil {
		b, _ := json.Marshal(toolErr)
		content = string(b)
	}
	_, _ = rt.st.AppendMessage(ctx, models.Message{
		ConversationID: conversationID,
		Role:           models.RoleTool,
		Content:        content,
		ToolCallID:     toolCallID,
	})
}

// terminate moves job to a terminal status and records a matching terminal
// activity. It always finalizes against a fresh context rather than ctx,
// since ctx itself may be the very thing that is Done (wall-clock deadline
// or an explicit cancel) — the terminal status and activity must still land.
//
// If the transition is no longer legal because something else (typically
// the HTTP API's cancel handler, racing this same job) already moved the
// job to a terminal status first, that other actor already recorded its
// own terminal activity, so this call is a silent no-op rather than an
// error: the job still ends up terminal either way.
func (rt *Runtime) terminate(ctx context.Context, job models.Job, status models.JobStatus, result string, kind models.ErrorKind, message string, rec *activity.Recorder) error {
	finalizeCtx := context.Background()

	update := store.JobUpdate{}
	if result != "" {
		update.Result = &result
	}
	if kind != "" {
		update.ErrorKind = &kind
	}
	if message != "" {
		update.ErrorMessage = &message
	}
	if err := rt.st.UpdateJobStatus(finalizeCtx, job.ID, status, update); err != nil {
		if errors.Is(err, store.ErrIllegalTransition) {
			return nil
		}
		return err
	}
	evtType := models.ActivityComplete
	switch status {
	case models.JobCompleted:
		evtType = models.ActivityComplete
	case models.JobCancelled:
		evtType = models.ActivityCancelled
	default:
		evtType = models.ActivityError
	}
	_ = rec.Emit(finalizeCtx, evtType, string(status))
	return nil
}

// RunSubAgent implements delegate.Runner: a restricted, non-persisting
// sub-agent loop that never delegates further, never asks the user, and
// never schedules (§4.8).
func (rt *Runtime) RunSubAgent(ctx context.Context, call delegate.Call) (string, error) {
	maxSteps := call.MaxSteps
	if maxSteps <= 0 || maxSteps > 25 {
		maxSteps = 25
	}
	allowed := make(map[string]bool, len(call.AllowedTools))
	for _, t := range call.AllowedTools {
		allowed[t] = true
	}

	history := []llm.ChatMessage{{Role: models.RoleUser, Content: call.Prompt}}
	client, model, ok := rt.llmRouter.For(models.TierMain)
	if !ok {
		return "", fmt.Errorf("agentrt: no client configured for main tier")
	}

	var toolSchemas []llm.ToolSchema
	for _, name := range rt.toolReg.Names() {
		if len(allowed) > 0 && !allowed[name] {
			continue
		}
		if delegate.RestrictedTools[name] {
			continue
		}
		t, _ := rt.toolReg.Get(name)
		toolSchemas = append(toolSchemas, llm.ToolSchema{Name: t.Name, Description: t.Description, Parameters: t.Schema})
	}

	for step := 0; step < maxSteps; step++ {
		resp, err := client.Complete(ctx, llm.Request{
			Tier: models.TierMain, Model: model,
			System:   "You are a restricted sub-agent executing one delegated task. You cannot ask the user questions or delegate further.",
			Messages: history,
			Tools:    toolSchemas,
		})
		if err != nil {
			return "", err
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Text, nil
		}
		history = append(history, llm.ChatMessage{Role: models.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})
		for _, tc := range resp.ToolCalls {
			result := rt.toolReg.Execute(ctx, tc.Name, tc.Input, tools.Context{})
			content := string(result.Value)
			if result.IsError() {
				b, _ := json.Marshal(result.Error)
				content = string(b)
			}
			history = append(history, llm.ChatMessage{Role: models.RoleTool, Content: content, ToolCallID: tc.ID})
		}
	}
	return "", fmt.Errorf("agentrt: sub-agent exceeded %d steps without finishing", maxSteps)
}

// buildSystemPrompt appends each active capability's instruction block to
// the base system prompt, per §4.4's step (a).
func (rt *Runtime) buildSystemPrompt(capSet models.CapabilitySet) string {
	prompt := rt.cfg.SystemPrompt
	if rt.capRouter == nil || len(capSet) == 0 {
		return prompt
	}
	cat := rt.capRouter.Catalogue()
	names := make([]string, 0, len(capSet))
	for name := range capSet {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(prompt)
	for _, name := range names {
		c, ok := cat.Get(name)
		if !ok || c.Instructions == "" {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(c.Instructions)
	}
	return b.String()
}

// buildToolSchemas widens the base tool surface with any extra tools an
// active capability declares, per §4.4's step (b).
func (rt *Runtime) buildToolSchemas(capSet models.CapabilitySet) []llm.ToolSchema {
	names := rt.toolReg.Names()
	extra := make(map[string]bool)
	if rt.capRouter != nil {
		cat := rt.capRouter.Catalogue()
		for name := range capSet {
			c, ok := cat.Get(name)
			if !ok {
				continue
			}
			for _, t := range c.ExtraTools {
				if _, ok := rt.toolReg.Get(t); ok {
					extra[t] = true
				}
			}
		}
	}
	out := make([]llm.ToolSchema, 0, len(names)+len(extra))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		t, _ := rt.toolReg.Get(n)
		out = append(out, llm.ToolSchema{Name: t.Name, Description: t.Description, Parameters: t.Schema})
		seen[n] = true
	}
	for n := range extra {
		if seen[n] {
			continue
		}
		t, _ := rt.toolReg.Get(n)
		out = append(out, llm.ToolSchema{Name: t.Name, Description: t.Description, Parameters: t.Schema})
	}
	return out
}

// schemasToText concatenates tool schema text so the Context Manager's token
// estimator accounts for the schemas included in every request (§4.7 step 6
// sends "the union of base tool schemas plus capability-declared schemas").
func schemasToText(schemas []llm.ToolSchema) string {
	var b strings.Builder
	for _, s := range schemas {
		b.WriteString(s.Name)
		b.WriteString(s.Description)
		b.Write(s.Parameters)
	}
	return b.String()
}

func snapshotToChatMessages(snap *ctxmgr.Snapshot) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(snap.Messages)+1)
	if snap.Summary != "" {
		out = append(out, llm.ChatMessage{Role: models.RoleSystemInternal, Content: "Conversation summary so far: " + snap.Summary})
	}
	for _, m := range snap.Messages {
		out = append(out, llm.ChatMessage{Role: m.Role, Content: m.Content, ToolCalls: m.ToolCalls, ToolCallID: m.ToolCallID})
	}
	return out
}
