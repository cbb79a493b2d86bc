package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// EnvPrefix is the prefix for environment overrides. Variables take the form
// GRIP_<SECTION>__<KEY>, e.g. GRIP_PROVIDERS__OPENAI__API_KEY. The double
// underscore is the section delimiter; single underscores belong to the key.
const EnvPrefix = "GRIP_"

// Load reads the config file at path, applies defaults, environment
// overrides, and .mcp.json discovery.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := json5.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.path = absPath

	applyEnvOverrides(cfg, os.Environ())

	if servers, err := DiscoverMCPServers(filepath.Join(filepath.Dir(absPath), ".mcp.json")); err == nil {
		cfg.Tools.MCPServers = mergeMCPServers(cfg.Tools.MCPServers, servers)
	}

	return cfg, nil
}

// LoadOrDefault loads the config when the file exists and falls back to
// defaults otherwise.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		cfg = Default()
		cfg.path = path
		applyEnvOverrides(cfg, os.Environ())
	}
	return cfg
}

// Save writes the config back to its file atomically. Secrets are persisted
// as raw strings; masking applies only to logs and formatted output.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config has no backing file")
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return writeFileAtomic(c.path, data, 0o644)
}

// applyEnvOverrides walks GRIP_* variables and sets the matching config
// fields. Unknown paths are ignored.
func applyEnvOverrides(cfg *Config, environ []string) {
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key := kv[len(EnvPrefix):eq]
		value := kv[eq+1:]
		parts := strings.Split(strings.ToLower(key), "__")
		if len(parts) < 2 {
			continue
		}
		setOverride(cfg, parts, value)
	}
}

func setOverride(cfg *Config, path []string, value string) {
	switch path[0] {
	case "agents":
		if len(path) == 2 {
			switch path[1] {
			case "model":
				cfg.Agents.Defaults.Model = value
			case "provider":
				cfg.Agents.Defaults.Provider = value
			case "engine":
				cfg.Agents.Defaults.Engine = value
			}
		}
	case "providers":
		if len(path) != 3 {
			return
		}
		var pc *ProviderConfig
		switch path[1] {
		case "openai":
			pc = &cfg.Providers.OpenAI
		case "anthropic":
			pc = &cfg.Providers.Anthropic
		case "openrouter":
			pc = &cfg.Providers.OpenRouter
		case "ollama":
			pc = &cfg.Providers.Ollama
		default:
			return
		}
		switch path[2] {
		case "api_key":
			pc.APIKey = Secret(value)
		case "base_url":
			pc.BaseURL = value
		case "model":
			pc.Model = value
		}
	case "channels":
		if len(path) != 3 {
			return
		}
		switch path[1] {
		case "telegram":
			if path[2] == "token" {
				cfg.Channels.Telegram.Token = Secret(value)
			}
		case "discord":
			if path[2] == "token" {
				cfg.Channels.Discord.Token = Secret(value)
			}
		case "slack":
			switch path[2] {
			case "bot_token":
				cfg.Channels.Slack.BotToken = Secret(value)
			case "app_token":
				cfg.Channels.Slack.AppToken = Secret(value)
			}
		}
	case "gateway":
		if len(path) == 3 && path[1] == "api" && path[2] == "auth_token" {
			cfg.Gateway.API.AuthToken = Secret(value)
		}
	case "tools":
		if len(path) == 3 && path[1] == "web_search" && path[2] == "api_key" {
			cfg.Tools.WebSearch.APIKey = Secret(value)
		}
	}
}

func mergeMCPServers(configured, discovered []MCPServerConfig) []MCPServerConfig {
	known := make(map[string]bool, len(configured))
	for _, s := range configured {
		known[s.Name] = true
	}
	out := configured
	for _, s := range discovered {
		if !known[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

// writeFileAtomic writes via a temp file in the same directory followed by a
// rename, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// WriteFileAtomic is the shared atomic-write helper used by the file-backed
// stores (sessions, memory, caches, token stores).
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	return writeFileAtomic(path, data, mode)
}
