// Package tools implements the Tool Registry (C3): a thread-safe mapping
// from tool name to a JSON-Schema-validated handler, invoked with an
// immutable per-call context.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Context is the immutable per-call context handed to a Handler, matching
// the §6.2 contract.
type Context struct {
	JobID          string
	ConversationID string
	WorkspaceRoot  string

	AppendActivity func(models.Activity)
	AskUser        func(ctx context.Context, question string, options []string) (string, error)
	Delegate       func(ctx context.Context, task string, allowedTools []string, maxSteps int) (string, error)
}

// Handler executes one tool call. It returns a structured value on success;
// a non-nil *models.ToolError propagates as a classified tool result rather
// than aborting the call, except for models.ErrFatal which aborts the job.
type Handler func(ctx context.Context, tc Context, args json.RawMessage) (json.RawMessage, *models.ToolError)

// Tool is one registered capability: name, schema, handler.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Handler     Handler
	Timeout     time.Duration
}

type compiledTool struct {
	Tool
	schema *jsonschema.Schema
}

// Registry is the thread-safe name→Tool map.
type Registry struct {
	mu            sync.RWMutex
	tools         map[string]*compiledTool
	defaultTimeout time.Duration
}

// NewRegistry creates an empty registry. defaultTimeout applies to any Tool
// registered without its own Timeout (§4.3: default 120s).
func NewRegistry(defaultTimeout time.Duration) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = 120 * time.Second
	}
	return &Registry{tools: make(map[string]*compiledTool), defaultTimeout: defaultTimeout}
}

// Register compiles the tool's schema and adds it to the registry. Re-
// registering a name replaces the previous entry.
func (r *Registry) Register(t Tool) error {
	compiler := jsonschema.NewCompiler()
	schemaURL := "mem://" + t.Name + ".json"
	if len(t.Schema) == 0 {
		t.Schema = json.RawMessage(`{}`)
	}
	var doc any
	if err := json.Unmarshal(t.Schema, &doc); err != nil {
		return fmt.Errorf("tools: invalid schema for %q: %w", t.Name, err)
	}
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return fmt.Errorf("tools: compiling schema for %q: %w", t.Name, err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("tools: compiling schema for %q: %w", t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = &compiledTool{Tool: t, schema: schema}
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return t.Tool, true
}

// Names returns the currently registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	return out
}

// Execute validates args against the compiled schema, enforces the per-tool
// timeout, and invokes the handler — implementing §4.3 steps 1-4.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage, tc Context) models.ToolResult {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return errResult(models.ErrInvalidArgs, fmt.Sprintf("unknown tool %q", name))
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return errResult(models.ErrInvalidArgs, "arguments are not valid JSON: "+err.Error())
	}
	if err := t.schema.Validate(doc); err != nil {
		return errResult(models.ErrInvalidArgs, "arguments do not satisfy schema: "+err.Error())
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value json.RawMessage
		err   *models.ToolError
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: &models.ToolError{Kind: models.ErrFatal, Message: fmt.Sprintf("tool %q panicked: %v", name, rec)}}
			}
		}()
		v, e := t.Handler(callCtx, tc, args)
		done <- outcome{value: v, err: e}
	}()

	select {
	case <-callCtx.Done():
		return models.ToolResult{Error: &models.ToolError{Kind: models.ErrTimeout, Message: fmt.Sprintf("tool %q timed out after %s", name, timeout)}}
	case o := <-done:
		if o.err != nil {
			return models.ToolResult{Error: o.err}
		}
		return models.ToolResult{Value: o.value}
	}
}

func errResult(kind models.ErrorKind, msg string) models.ToolResult {
	return models.ToolResult{Error: &models.ToolError{Kind: kind, Message: msg}}
}
