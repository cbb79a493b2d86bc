// Package main is the grip CLI: an autonomous agent you can run one-shot,
// chat with, or serve behind the HTTP gateway and chat channels.
//
// Basic usage:
//
//	grip agent -m "summarize today's standup notes"
//	grip chat
//	grip serve
//
// Configuration lives at ~/.grip/config.json (override with --config or
// GRIP_CONFIG). Provider keys can come from the environment, e.g.
// GRIP_PROVIDERS__OPENAI__API_KEY.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "grip",
		Short:        "grip - autonomous AI agent",
		Long:         "grip runs an autonomous agent with tools, memory, workflows, and chat channel integrations.",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to config file (default ~/.grip/config.json; or set GRIP_CONFIG)")

	rootCmd.AddCommand(
		buildAgentCmd(&configPath),
		buildChatCmd(&configPath),
		buildServeCmd(&configPath),
		buildWorkflowCmd(&configPath),
		buildMCPCmd(&configPath),
		buildSessionCmd(&configPath),
		buildOnboardCmd(&configPath),
	)
	return rootCmd
}

// resolveConfigPath applies the flag, then GRIP_CONFIG, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("GRIP_CONFIG"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".grip", "config.json")
}
