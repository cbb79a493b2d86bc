package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/grip-agent/grip/internal/retry"
	"github.com/grip-agent/grip/pkg/models"
)

// OpenAIProvider speaks the OpenAI chat completions API. With a custom base
// URL it also serves OpenRouter and Ollama, which expose the same wire format.
type OpenAIProvider struct {
	name   string
	client *openai.Client
	logger *slog.Logger
}

// OpenAIOptions configures an OpenAIProvider.
type OpenAIOptions struct {
	// Name reported by the provider; defaults to "openai".
	Name    string
	APIKey  string
	BaseURL string
	Logger  *slog.Logger
}

// NewOpenAIProvider builds a provider for OpenAI or any compatible endpoint.
func NewOpenAIProvider(opts OpenAIOptions) *OpenAIProvider {
	name := opts.Name
	if name == "" {
		name = "openai"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAIProvider{
		name:   name,
		client: openai.NewClientWithConfig(cfg),
		logger: logger.With("component", "providers", "provider", name),
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return p.name }

// Chat implements Provider. Transient failures are retried up to three times
// with exponential backoff.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*models.LLMResponse, error) {
	apiReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	return retry.DoWithValue(ctx, retry.DefaultConfig(), func() (*models.LLMResponse, error) {
		resp, err := p.client.CreateChatCompletion(ctx, apiReq)
		if err != nil {
			classified := p.classify(err)
			p.logger.Warn("chat completion failed",
				"model", req.Model, "kind", classified.Kind, "status", classified.Status)
			if !classified.Retryable() {
				return nil, retry.Permanent(classified)
			}
			return nil, classified
		}
		if len(resp.Choices) == 0 {
			return nil, retry.Permanent(&ProviderError{
				Provider: p.name,
				Kind:     ErrKindUnknown,
				Message:  "response contained no choices",
				Err:      fmt.Errorf("empty choices"),
			})
		}
		return fromOpenAIResponse(&resp), nil
	})
}

func (p *OpenAIProvider) classify(err error) *ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return Classify(p.name, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return Classify(p.name, reqErr.HTTPStatusCode, err)
	}
	return Classify(p.name, 0, err)
}

func toOpenAIMessages(msgs []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func fromOpenAIResponse(resp *openai.ChatCompletionResponse) *models.LLMResponse {
	choice := resp.Choices[0].Message
	result := &models.LLMResponse{
		Content: choice.Content,
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		result.ToolCalls = append(result.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return result
}
