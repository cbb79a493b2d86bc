// Package config loads the grip configuration file, applies environment
// overrides, and discovers MCP servers from the .mcp.json sidecar.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level configuration. A single JSON (or JSON5) file is the
// source of truth; GRIP_<SECTION>__<KEY> environment variables override
// individual fields after the file is parsed.
type Config struct {
	Workspace string          `json:"workspace,omitempty"`
	Agents    AgentsConfig    `json:"agents"`
	Providers ProvidersConfig `json:"providers"`
	Channels  ChannelsConfig  `json:"channels"`
	Tools     ToolsConfig     `json:"tools"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Cron      CronConfig      `json:"cron"`
	Gateway   GatewayConfig   `json:"gateway"`

	// path the config was loaded from, used for atomic save.
	path string
}

// AgentsConfig holds engine defaults, model tier routing, and named profiles.
type AgentsConfig struct {
	Defaults AgentDefaults           `json:"defaults"`
	Routing  RoutingConfig           `json:"routing"`
	Profiles map[string]AgentProfile `json:"profiles,omitempty"`
}

// AgentDefaults configures the primary engine.
type AgentDefaults struct {
	Provider           string  `json:"provider,omitempty"`
	Model              string  `json:"model,omitempty"`
	Engine             string  `json:"engine,omitempty"` // "loop" (default) or "sdk"
	MaxIterations      int     `json:"max_iterations,omitempty"`
	MaxTokens          int     `json:"max_tokens,omitempty"`
	Temperature        float32 `json:"temperature,omitempty"`
	MemoryWindow       int     `json:"memory_window,omitempty"`
	SelfCorrection     bool    `json:"self_correction"`
	SemanticCache      bool    `json:"semantic_cache"`
	CacheTTLHours      int     `json:"cache_ttl_hours,omitempty"`
	ConsolidationModel string  `json:"consolidation_model,omitempty"`
	DailyTokenLimit    int64   `json:"daily_token_limit,omitempty"`
	Learning           bool    `json:"learning"`
}

// RoutingConfig maps prompt complexity tiers to model ids. An empty tier
// falls back to the default model.
type RoutingConfig struct {
	Enabled bool   `json:"enabled"`
	Low     string `json:"low,omitempty"`
	Medium  string `json:"medium,omitempty"`
	High    string `json:"high,omitempty"`
}

// AgentProfile is a named override set used by workflow steps.
type AgentProfile struct {
	Provider      string `json:"provider,omitempty"`
	Model         string `json:"model,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	SystemPrompt  string `json:"system_prompt,omitempty"`
}

// ProvidersConfig holds per-provider credentials and endpoints.
type ProvidersConfig struct {
	OpenAI     ProviderConfig `json:"openai"`
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenRouter ProviderConfig `json:"openrouter"`
	Ollama     ProviderConfig `json:"ollama"`
}

// ProviderConfig configures one LLM service.
type ProviderConfig struct {
	APIKey  Secret `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

// ChannelsConfig enables chat channel integrations.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     Secret   `json:"token,omitempty"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     Secret   `json:"token,omitempty"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken Secret `json:"bot_token,omitempty"`
	AppToken Secret `json:"app_token,omitempty"`
}

// ToolsConfig configures the tool layer.
type ToolsConfig struct {
	RestrictToWorkspace bool              `json:"restrict_to_workspace"`
	TrustMode           string            `json:"trust_mode,omitempty"` // "prompt" or "deny"
	ShellTimeoutSeconds int               `json:"shell_timeout_seconds,omitempty"`
	WebSearch           WebSearchConfig   `json:"web_search"`
	MCPServers          []MCPServerConfig `json:"mcp_servers,omitempty"`
}

// WebSearchConfig holds search provider keys.
type WebSearchConfig struct {
	Provider string `json:"provider,omitempty"` // "brave" or "duckduckgo"
	APIKey   Secret `json:"api_key,omitempty"`
}

// MCPServerConfig describes one MCP server connection. Exactly one of
// Command (stdio) or URL (http/sse) is set; Type selects between the HTTP
// transports when URL is set and defaults to SSE.
type MCPServerConfig struct {
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Type    string            `json:"type,omitempty"` // "http", "sse", or "" (sse when URL set)
	Headers map[string]string `json:"headers,omitempty"`
	OAuth   *MCPOAuthConfig   `json:"oauth,omitempty"`
}

// MCPOAuthConfig configures OAuth for an HTTP/SSE MCP server.
type MCPOAuthConfig struct {
	AuthURL      string   `json:"auth_url,omitempty"`
	TokenURL     string   `json:"token_url,omitempty"`
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret Secret   `json:"client_secret,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	RedirectPort int      `json:"redirect_port,omitempty"`
}

// HeartbeatConfig enables the periodic wake-up prompt.
type HeartbeatConfig struct {
	Enabled         bool   `json:"enabled"`
	IntervalMinutes int    `json:"interval_minutes,omitempty"`
	Prompt          string `json:"prompt,omitempty"`
}

// CronConfig holds scheduled jobs.
type CronConfig struct {
	Enabled bool       `json:"enabled"`
	Jobs    []CronJob  `json:"jobs,omitempty"`
}

// CronJob maps a cron schedule to an agent prompt.
type CronJob struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Prompt   string `json:"prompt"`
	Model    string `json:"model,omitempty"`
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Enabled bool             `json:"enabled"`
	Host    string           `json:"host,omitempty"`
	Port    int              `json:"port,omitempty"`
	API     GatewayAPIConfig `json:"api"`
}

// GatewayAPIConfig holds gateway auth and limits.
type GatewayAPIConfig struct {
	AuthToken      Secret   `json:"auth_token,omitempty"`
	CORSOrigins    []string `json:"cors_origins,omitempty"`
	RateLimitPerMinute int  `json:"rate_limit_per_minute,omitempty"`
}

// Default returns a configuration with the documented defaults applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Workspace: filepath.Join(home, ".grip", "workspace"),
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Provider:       "openai",
				Engine:         "loop",
				MaxIterations:  20,
				MaxTokens:      4096,
				Temperature:    0.7,
				MemoryWindow:   50,
				SelfCorrection: true,
				SemanticCache:  true,
				CacheTTLHours:  24,
			},
		},
		Tools: ToolsConfig{
			RestrictToWorkspace: true,
			TrustMode:           "prompt",
			ShellTimeoutSeconds: 60,
		},
		Heartbeat: HeartbeatConfig{IntervalMinutes: 30},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8787,
		},
	}
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// StateDir returns the directory for runtime state (trust store, tokens)
// inside the workspace.
func (c *Config) StateDir() string { return filepath.Join(c.Workspace, "state") }

// MemoryDir returns the directory holding MEMORY.md, HISTORY.md and
// knowledge.json.
func (c *Config) MemoryDir() string { return filepath.Join(c.Workspace, "memory") }

// SessionsDir returns the session storage directory.
func (c *Config) SessionsDir() string { return filepath.Join(c.Workspace, "sessions") }

// WorkflowsDir returns the workflow definition directory.
func (c *Config) WorkflowsDir() string { return filepath.Join(c.Workspace, "workflows") }

// CacheDir returns the semantic cache directory.
func (c *Config) CacheDir() string { return filepath.Join(c.Workspace, "cache") }

// ShellTimeout returns the shell timeout as a duration.
func (c *Config) ShellTimeout() time.Duration {
	if c.Tools.ShellTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Tools.ShellTimeoutSeconds) * time.Second
}

// FindMCPServer returns the named MCP server entry, or an error naming the
// known servers.
func (c *Config) FindMCPServer(name string) (*MCPServerConfig, error) {
	for i := range c.Tools.MCPServers {
		if c.Tools.MCPServers[i].Name == name {
			return &c.Tools.MCPServers[i], nil
		}
	}
	return nil, fmt.Errorf("mcp server %q not configured", name)
}
