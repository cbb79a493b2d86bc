package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// mcpDiscoveryFile mirrors the sidecar .mcp.json schema:
//
//	{"mcpServers": {"<name>": {command|url, args?, env?, headers?, type?}}}
type mcpDiscoveryFile struct {
	MCPServers map[string]mcpDiscoveryEntry `json:"mcpServers"`
}

type mcpDiscoveryEntry struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Type    string            `json:"type,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// DiscoverMCPServers parses a .mcp.json sidecar file. Malformed entries are
// skipped with a warning; a missing file is not an error and yields nil.
func DiscoverMCPServers(path string) ([]MCPServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var file mcpDiscoveryFile
	if err := json5.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	names := make([]string, 0, len(file.MCPServers))
	for name := range file.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	var servers []MCPServerConfig
	for _, name := range names {
		entry := file.MCPServers[name]
		if entry.Command == "" && entry.URL == "" {
			slog.Warn("skipping malformed mcp server entry", "name", name, "file", path)
			continue
		}
		servers = append(servers, MCPServerConfig{
			Name:    name,
			Enabled: true,
			Command: entry.Command,
			Args:    entry.Args,
			Env:     entry.Env,
			URL:     entry.URL,
			Type:    entry.Type,
			Headers: entry.Headers,
		})
	}
	return servers, nil
}
