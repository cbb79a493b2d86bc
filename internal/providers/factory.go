package providers

import (
	"fmt"
	"log/slog"

	"github.com/grip-agent/grip/internal/config"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	ollamaBaseURL     = "http://localhost:11434/v1"
)

// New builds the named provider from config. OpenRouter and Ollama reuse the
// OpenAI adapter with their respective base URLs.
func New(name string, cfg *config.Config, logger *slog.Logger) (Provider, error) {
	switch name {
	case "", "openai":
		pc := cfg.Providers.OpenAI
		if !pc.APIKey.IsSet() {
			return nil, fmt.Errorf("openai api key not configured")
		}
		return NewOpenAIProvider(OpenAIOptions{
			Name:    "openai",
			APIKey:  pc.APIKey.Value(),
			BaseURL: pc.BaseURL,
			Logger:  logger,
		}), nil
	case "anthropic":
		pc := cfg.Providers.Anthropic
		if !pc.APIKey.IsSet() {
			return nil, fmt.Errorf("anthropic api key not configured")
		}
		return NewAnthropicProvider(pc.APIKey.Value(), pc.BaseURL, logger), nil
	case "openrouter":
		pc := cfg.Providers.OpenRouter
		if !pc.APIKey.IsSet() {
			return nil, fmt.Errorf("openrouter api key not configured")
		}
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = openRouterBaseURL
		}
		return NewOpenAIProvider(OpenAIOptions{
			Name:    "openrouter",
			APIKey:  pc.APIKey.Value(),
			BaseURL: baseURL,
			Logger:  logger,
		}), nil
	case "ollama":
		pc := cfg.Providers.Ollama
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = ollamaBaseURL
		}
		return NewOpenAIProvider(OpenAIOptions{
			Name:    "ollama",
			APIKey:  "ollama",
			BaseURL: baseURL,
			Logger:  logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// DefaultModel returns the configured model for the named provider, falling
// back to the agent default.
func DefaultModel(name string, cfg *config.Config) string {
	var pc config.ProviderConfig
	switch name {
	case "", "openai":
		pc = cfg.Providers.OpenAI
	case "anthropic":
		pc = cfg.Providers.Anthropic
	case "openrouter":
		pc = cfg.Providers.OpenRouter
	case "ollama":
		pc = cfg.Providers.Ollama
	}
	if pc.Model != "" {
		return pc.Model
	}
	return cfg.Agents.Defaults.Model
}
