package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// AnthropicClient adapts the Anthropic SDK to the llm.Client interface.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicClient builds a Client backed by the Anthropic Messages API.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		var content []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			content = append(content, anthropic.NewTextBlock(m.Content))
		}
		if m.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		}
		for _, tc := range m.ToolCalls {
			var input map[string]any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, NewError(c.Name(), model, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}
		if m.Role == models.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(content...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(content...))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema any
			if len(t.Parameters) > 0 {
				_ = json.Unmarshal(t.Parameters, &schema)
			}
			tools = append(tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        t.Name,
					Description: anthropic.String(t.Description),
				},
			})
		}
		params.Tools = tools
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, NewError(c.Name(), model, err)
	}

	resp := &Response{
		Provider:         c.Name(),
		Model:            model,
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		FinishReason:     string(msg.StopReason),
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += variant.Text
		case anthropic.ThinkingBlock:
			resp.Thinking += variant.Thinking
		case anthropic.ToolUseBlock:
			input, _ := json.Marshal(variant.Input)
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: input,
			})
		}
	}
	return resp, nil
}
