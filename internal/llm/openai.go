package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// OpenAIClient adapts github.com/sashabaranov/go-openai to the llm.Client interface.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIClient builds a Client backed by the OpenAI chat-completions API.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openai.GPT4oMini
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client:       openai.NewClientWithConfig(conf),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{Content: m.Content}
		switch m.Role {
		case models.RoleAssistant:
			msg.Role = openai.ChatMessageRoleAssistant
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
		case models.RoleTool:
			msg.Role = openai.ChatMessageRoleTool
			msg.ToolCallID = m.ToolCallID
		default:
			msg.Role = openai.ChatMessageRoleUser
		}
		messages = append(messages, msg)
	}

	var tools []openai.Tool
	for _, t := range req.Tools {
		var params any
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &params)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Tools:    tools,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	out, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, NewError(c.Name(), model, err)
	}
	if len(out.Choices) == 0 {
		return nil, NewError(c.Name(), model, fmt.Errorf("openai: empty choices"))
	}
	choice := out.Choices[0]

	resp := &Response{
		Provider:         c.Name(),
		Model:            model,
		Text:             choice.Message.Content,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		FinishReason:     string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return resp, nil
}
