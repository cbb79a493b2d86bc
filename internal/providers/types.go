// Package providers defines the LLM provider abstraction and its adapters.
//
// A provider turns a ChatRequest into a single LLMResponse. The agent loop
// owns the conversation; providers are stateless and safe for concurrent use.
package providers

import (
	"context"
	"encoding/json"

	"github.com/grip-agent/grip/pkg/models"
)

// ToolSpec describes one tool offered to the model, in provider-neutral form.
// Parameters is a JSON Schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ChatRequest is one turn sent to an LLM service.
type ChatRequest struct {
	Model       string
	Messages    []models.Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float32
}

// Provider is a stateless adapter to one LLM service.
type Provider interface {
	// Name identifies the provider ("openai", "anthropic", "openrouter",
	// "ollama").
	Name() string

	// Chat sends the request and returns a single completed response.
	// Transient failures are retried internally; the returned error is
	// classified (see Classify).
	Chat(ctx context.Context, req *ChatRequest) (*models.LLMResponse, error)
}
