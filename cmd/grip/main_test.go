package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grip-agent/grip/internal/config"
)

func TestRootCmdHasExpectedSubcommands(t *testing.T) {
	root := buildRootCmd()
	want := []string{"agent", "chat", "serve", "workflow", "mcp", "session", "onboard"}
	for _, name := range want {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestTrustStoreUsesTrustedDirsFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfg := config.Default()
	cfg.Workspace = filepath.Join(home, "workspace")

	a, err := newApp(cfg, nil, false, false)
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()

	if err := a.trust.Trust(filepath.Join(home, "project")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(cfg.StateDir(), "trusted_dirs.json")); err != nil {
		t.Errorf("expected trust store at state/trusted_dirs.json: %v", err)
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := resolveConfigPath("/tmp/custom.json"); got != "/tmp/custom.json" {
		t.Errorf("flag path = %q", got)
	}

	t.Setenv("GRIP_CONFIG", "/tmp/env.json")
	if got := resolveConfigPath(""); got != "/tmp/env.json" {
		t.Errorf("env path = %q", got)
	}

	t.Setenv("GRIP_CONFIG", "")
	got := resolveConfigPath("")
	if filepath.Base(got) != "config.json" {
		t.Errorf("default path = %q", got)
	}
}
