package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// BedrockConfig configures a BedrockClient.
type BedrockConfig struct {
	Region       string
	DefaultModel string
}

// BedrockClient adapts AWS Bedrock's Converse API to the llm.Client interface.
type BedrockClient struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// NewBedrockClient builds a Client backed by AWS Bedrock, using the standard
// AWS SDK credential chain (environment, shared config, IAM role).
func NewBedrockClient(ctx context.Context, cfg BedrockConfig) (*BedrockClient, error) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: %w", err)
	}
	return &BedrockClient{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (c *BedrockClient) Name() string { return "bedrock" }

func (c *BedrockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	var messages []types.Message
	for _, m := range req.Messages {
		role := types.ConversationRoleUser
		var blocks []types.ContentBlock
		if m.Content != "" {
			blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Content})
		}
		switch m.Role {
		case models.RoleAssistant:
			role = types.ConversationRoleAssistant
			for _, tc := range m.ToolCalls {
				var input map[string]any
				if len(tc.Input) > 0 {
					_ = json.Unmarshal(tc.Input, &input)
				}
				blocks = append(blocks, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     document(input),
					},
				})
			}
		case models.RoleTool:
			blocks = append(blocks, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(m.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
				},
			})
		}
		if len(blocks) == 0 {
			continue
		}
		messages = append(messages, types.Message{Role: role, Content: blocks})
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(req.MaxTokens))}
	}
	if len(req.Tools) > 0 {
		var toolSpecs []types.Tool
		for _, t := range req.Tools {
			var schema map[string]any
			if len(t.Parameters) > 0 {
				_ = json.Unmarshal(t.Parameters, &schema)
			}
			toolSpecs = append(toolSpecs, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(t.Name),
					Description: aws.String(t.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{Value: document(schema)},
				},
			})
		}
		input.ToolConfig = &types.ToolConfiguration{Tools: toolSpecs}
	}

	out, err := c.client.Converse(ctx, input)
	if err != nil {
		return nil, NewError(c.Name(), model, err)
	}

	resp := &Response{Provider: c.Name(), Model: model}
	if out.Usage != nil {
		resp.PromptTokens = int(aws.ToInt32(out.Usage.InputTokens))
		resp.CompletionTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	resp.FinishReason = string(out.StopReason)
	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *types.ContentBlockMemberText:
				resp.Text += v.Value
			case *types.ContentBlockMemberToolUse:
				input, _ := json.Marshal(v.Value.Input)
				resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
					ID:    aws.ToString(v.Value.ToolUseId),
					Name:  aws.ToString(v.Value.Name),
					Input: input,
				})
			}
		}
	}
	return resp, nil
}

// document is a small helper adapting a plain map into the SDK's
// smithydocument.Marshaler-backed JSON document type used by tool
// input/schema fields.
func document(v map[string]any) types.Document {
	return smithyDocumentOf(v)
}
