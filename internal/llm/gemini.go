package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
}

// GeminiClient adapts google.golang.org/genai to the llm.Client interface.
// It is the cheapest of the four tiers in most deployments and is the usual
// pick for the router/cheap model tiers (§4.2, §6.6).
type GeminiClient struct {
	client       *genai.Client
	defaultModel string
}

// NewGeminiClient builds a Client backed by the Gemini Developer API.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return &GeminiClient{client: client, defaultModel: cfg.DefaultModel}, nil
}

func (c *GeminiClient) Name() string { return "gemini" }

func (c *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	var contents []*genai.Content
	for _, m := range req.Messages {
		role := genai.RoleUser
		if m.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		var parts []*genai.Part
		if m.Content != "" {
			parts = append(parts, genai.NewPartFromText(m.Content))
		}
		for _, tc := range m.ToolCalls {
			var args map[string]any
			if len(tc.Input) > 0 {
				_ = json.Unmarshal(tc.Input, &args)
			}
			parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
		}
		if m.Role == models.RoleTool {
			parts = append(parts, genai.NewPartFromFunctionResponse(m.ToolCallID, map[string]any{"result": m.Content}))
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		var decls []*genai.FunctionDeclaration
		for _, t := range req.Tools {
			var schema *genai.Schema
			if len(t.Parameters) > 0 {
				schema = &genai.Schema{}
				_ = json.Unmarshal(t.Parameters, schema)
			}
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	out, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, NewError(c.Name(), model, err)
	}
	if len(out.Candidates) == 0 {
		return nil, NewError(c.Name(), model, fmt.Errorf("gemini: no candidates"))
	}

	resp := &Response{Provider: c.Name(), Model: model}
	cand := out.Candidates[0]
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				resp.Text += part.Text
			}
			if part.FunctionCall != nil {
				input, _ := json.Marshal(part.FunctionCall.Args)
				resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
					ID:    part.FunctionCall.Name,
					Name:  part.FunctionCall.Name,
					Input: input,
				})
			}
		}
	}
	if out.UsageMetadata != nil {
		resp.PromptTokens = int(out.UsageMetadata.PromptTokenCount)
		resp.CompletionTokens = int(out.UsageMetadata.CandidatesTokenCount)
	}
	resp.FinishReason = string(cand.FinishReason)
	return resp, nil
}
