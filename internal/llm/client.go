// Package llm provides a provider-agnostic chat-completion client. Concrete
// adapters (Anthropic, OpenAI, Gemini, Bedrock) live in their own files and
// all satisfy Client, translating heterogeneous provider shapes into the
// normalized Request/Response/ToolCall shapes and error taxonomy here.
package llm

import (
	"context"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// ChatMessage is one entry of message history sent to the provider.
type ChatMessage struct {
	Role       models.Role
	Content    string
	ToolCalls  []models.ToolCall
	ToolCallID string
}

// ToolSchema describes one tool the model may call.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  []byte // raw JSON Schema
}

// Request is a single normalized completion request.
type Request struct {
	Tier      models.ModelTier
	Model     string
	System    string
	Messages  []ChatMessage
	Tools     []ToolSchema
	StopWords []string
	MaxTokens int
}

// Response is a single normalized completion response.
type Response struct {
	Text             string
	Thinking         string
	ToolCalls        []models.ToolCall
	PromptTokens     int
	CompletionTokens int
	FinishReason     string
	Provider         string
	Model            string
}

// Client is the provider-agnostic completion interface. Implementations MUST
// NOT retry internally — retry policy belongs to the caller (§4.2).
type Client interface {
	// Complete performs one completion call. It returns a *Error (see
	// errors.go) classified into the normalized taxonomy on failure.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name identifies the provider for usage records and logs.
	Name() string
}

// Router selects a Client for a given model tier, and the concrete model
// name configured for that tier.
type Router struct {
	clients map[models.ModelTier]Client
	models  map[models.ModelTier]string
}

// NewRouter builds a tier router from a tier→client map and tier→model map.
func NewRouter(clients map[models.ModelTier]Client, modelNames map[models.ModelTier]string) *Router {
	return &Router{clients: clients, models: modelNames}
}

// For returns the client and configured model name for a tier.
func (r *Router) For(tier models.ModelTier) (Client, string, bool) {
	c, ok := r.clients[tier]
	if !ok {
		return nil, "", false
	}
	return c, r.models[tier], true
}
