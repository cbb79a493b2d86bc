package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAppliesDefaultsAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{
		// JSON5 comments are allowed
		"agents": {"defaults": {"model": "gpt-test", "max_iterations": 3}},
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agents.Defaults.Model != "gpt-test" {
		t.Errorf("model = %q", cfg.Agents.Defaults.Model)
	}
	if cfg.Agents.Defaults.MaxIterations != 3 {
		t.Errorf("max_iterations = %d", cfg.Agents.Defaults.MaxIterations)
	}
	// Untouched fields keep documented defaults.
	if cfg.Agents.Defaults.MaxTokens != 4096 {
		t.Errorf("max_tokens = %d", cfg.Agents.Defaults.MaxTokens)
	}
	if cfg.Gateway.Port != 8787 {
		t.Errorf("gateway port = %d", cfg.Gateway.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{}`)

	t.Setenv("GRIP_PROVIDERS__OPENAI__API_KEY", "sk-env")
	t.Setenv("GRIP_AGENTS__MODEL", "env-model")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.OpenAI.APIKey.Value() != "sk-env" {
		t.Errorf("api key = %q", cfg.Providers.OpenAI.APIKey.Value())
	}
	if cfg.Agents.Defaults.Model != "env-model" {
		t.Errorf("model = %q", cfg.Agents.Defaults.Model)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := LoadOrDefault(path)
	cfg.Agents.Defaults.Model = "saved-model"
	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Agents.Defaults.Model != "saved-model" {
		t.Errorf("model = %q", reloaded.Agents.Defaults.Model)
	}
}

func TestSecretMasksInFormatting(t *testing.T) {
	s := Secret("super-secret")
	if got := fmt.Sprintf("%s", s); got != "***" {
		t.Errorf("%%s = %q", got)
	}
	if got := fmt.Sprintf("%v", s); got != "***" {
		t.Errorf("%%v = %q", got)
	}
	if got := fmt.Sprintf("%#v", s); strings.Contains(got, "super-secret") {
		t.Errorf("%%#v leaked: %q", got)
	}
	if s.Value() != "super-secret" {
		t.Errorf("Value = %q", s.Value())
	}
	if Secret("").String() != "" {
		t.Error("empty secret should render empty")
	}
}

func TestDiscoverMCPServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mcp.json")
	writeFile(t, path, `{
		"mcpServers": {
			"linear": {"url": "https://mcp.linear.app/sse"},
			"fs": {"command": "mcp-fs", "args": ["--root", "/tmp"]},
			"broken": {}
		}
	}`)

	servers, err := DiscoverMCPServers(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 2 {
		t.Fatalf("servers = %+v", servers)
	}
	// Sorted by name, malformed entry skipped.
	if servers[0].Name != "fs" || servers[1].Name != "linear" {
		t.Errorf("order = %s, %s", servers[0].Name, servers[1].Name)
	}
	if !servers[0].Enabled || servers[0].Command != "mcp-fs" {
		t.Errorf("fs entry = %+v", servers[0])
	}
}

func TestDiscoverMCPServersMissingFile(t *testing.T) {
	servers, err := DiscoverMCPServers(filepath.Join(t.TempDir(), ".mcp.json"))
	if err != nil || servers != nil {
		t.Errorf("got %v, %v", servers, err)
	}
}

func TestFindMCPServer(t *testing.T) {
	cfg := Default()
	cfg.Tools.MCPServers = []MCPServerConfig{{Name: "calc"}}
	server, err := cfg.FindMCPServer("calc")
	if err != nil || server.Name != "calc" {
		t.Fatalf("got %+v, %v", server, err)
	}
	// Returned pointer aliases the config slice so mutation persists.
	server.Enabled = true
	if !cfg.Tools.MCPServers[0].Enabled {
		t.Error("mutation did not stick")
	}
	if _, err := cfg.FindMCPServer("ghost"); err == nil {
		t.Error("unknown server accepted")
	}
}
