package providers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/grip-agent/grip/internal/retry"
	"github.com/grip-agent/grip/pkg/models"
)

// AnthropicProvider speaks the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	logger *slog.Logger
}

// NewAnthropicProvider builds a provider against the Anthropic API. baseURL
// is optional and used for proxies.
func NewAnthropicProvider(apiKey, baseURL string, logger *slog.Logger) *AnthropicProvider {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		logger: logger.With("component", "providers", "provider", "anthropic"),
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Chat implements Provider.
func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (*models.LLMResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	system, messages := toAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	for _, tool := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if len(tool.Parameters) > 0 {
			if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
				p.logger.Warn("skipping tool with invalid schema", "tool", tool.Name, "error", err)
				continue
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool != nil && tool.Description != "" {
			toolParam.OfTool.Description = anthropic.String(tool.Description)
		}
		params.Tools = append(params.Tools, toolParam)
	}

	return retry.DoWithValue(ctx, retry.DefaultConfig(), func() (*models.LLMResponse, error) {
		message, err := p.client.Messages.New(ctx, params)
		if err != nil {
			classified := p.classify(err)
			p.logger.Warn("message request failed",
				"model", req.Model, "kind", classified.Kind, "status", classified.Status)
			if !classified.Retryable() {
				return nil, retry.Permanent(classified)
			}
			return nil, classified
		}
		return fromAnthropicMessage(message), nil
	})
}

func (p *AnthropicProvider) classify(err error) *ProviderError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return Classify("anthropic", apiErr.StatusCode, err)
	}
	return Classify("anthropic", 0, err)
}

// toAnthropicMessages splits the conversation into the system prompt and the
// alternating user/assistant turns the Messages API expects. Tool results
// become user-role tool_result blocks.
func toAnthropicMessages(msgs []models.Message) (string, []anthropic.MessageParam) {
	var system string
	var out []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case models.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.ArgumentsMap(), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case models.RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		}
	}
	return system, out
}

func fromAnthropicMessage(message *anthropic.Message) *models.LLMResponse {
	result := &models.LLMResponse{
		Usage: models.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
		},
	}
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			args := json.RawMessage(block.Input)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			result.ToolCalls = append(result.ToolCalls, models.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		case "thinking":
			result.Reasoning += block.Thinking
		}
	}
	return result
}
