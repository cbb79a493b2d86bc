package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/grip-agent/grip/internal/channels"
	"github.com/grip-agent/grip/internal/config"
	"github.com/grip-agent/grip/internal/cron"
	"github.com/grip-agent/grip/internal/gateway"
	"github.com/grip-agent/grip/internal/heartbeat"
	"github.com/grip-agent/grip/internal/providers"
	"github.com/grip-agent/grip/internal/workflow"
	"github.com/grip-agent/grip/internal/workspace"
	"github.com/grip-agent/grip/pkg/models"
)

func loadApp(configPath *string, interactive, needEngine bool) (*app, error) {
	cfg := config.LoadOrDefault(resolveConfigPath(*configPath))
	return newApp(cfg, slog.Default(), interactive, needEngine)
}

// ----------------------------------------------------------------------------
// agent
// ----------------------------------------------------------------------------

func buildAgentCmd(configPath *string) *cobra.Command {
	var (
		message    string
		sessionKey string
		model      string
	)
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run a single agent turn and print the response",
		Example: `  grip agent -m "list the TODOs in this repo"
  grip agent -m "continue" --session cli:review`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return fmt.Errorf("a message is required (-m)")
			}
			a, err := loadApp(configPath, true, true)
			if err != nil {
				return err
			}
			defer a.close()
			a.connectMCP(cmd.Context())

			result, err := a.engine.Run(cmd.Context(), message, sessionKey, model)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Response)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Message to send to the agent")
	cmd.Flags().StringVar(&sessionKey, "session", "cli:default", "Session key")
	cmd.Flags().StringVar(&model, "model", "", "Model override (skips routing)")
	return cmd
}

// ----------------------------------------------------------------------------
// chat
// ----------------------------------------------------------------------------

func buildChatCmd(configPath *string) *cobra.Command {
	var sessionKey string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session",
		Long:  "Start an interactive chat. Commands: /reset clears the session, /compact consolidates it, /quit exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath, true, true)
			if err != nil {
				return err
			}
			defer a.close()
			a.connectMCP(cmd.Context())
			return runChat(cmd.Context(), a, sessionKey, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&sessionKey, "session", "cli:default", "Session key")
	return cmd
}

func runChat(ctx context.Context, a *app, sessionKey string, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "grip chat. /reset, /compact, /quit.")
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := a.engine.ResetSession(ctx, sessionKey); err != nil {
				fmt.Fprintln(out, "reset failed:", err)
				continue
			}
			fmt.Fprintln(out, "session cleared")
			continue
		case "/compact":
			if err := a.engine.ConsolidateSession(ctx, sessionKey); err != nil {
				fmt.Fprintln(out, "compact failed:", err)
				continue
			}
			fmt.Fprintln(out, "session consolidated")
			continue
		}
		result, err := a.engine.Run(ctx, line, sessionKey, "")
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}
		fmt.Fprintln(out, result.Response)
	}
}

// ----------------------------------------------------------------------------
// serve
// ----------------------------------------------------------------------------

func buildServeCmd(configPath *string) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway, chat channels, cron jobs, and heartbeat",
		Long: `Start all configured long-running services:

  - HTTP gateway (chat API, MCP management, metrics)
  - enabled chat channels (Telegram, Discord, Slack)
  - cron jobs and the heartbeat

Shuts down gracefully on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})))
			}
			a, err := loadApp(configPath, false, true)
			if err != nil {
				return err
			}
			defer a.close()
			return runServe(cmd.Context(), a)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(parent context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.connectMCP(ctx)

	group, ctx := errgroup.WithContext(ctx)
	cfg := a.cfg
	responder := &channels.Responder{Engine: a.engine, Logger: a.logger}

	if cfg.Gateway.Enabled {
		server := gateway.New(gateway.Options{
			Config:  cfg,
			Engine:  a.engine,
			MCP:     a.mcp,
			Tokens:  a.tokens,
			Clients: a.clients,
			Logger:  a.logger,
		})
		group.Go(func() error { return server.ListenAndServe(ctx) })
	}
	if cfg.Channels.Telegram.Enabled {
		ch := channels.NewTelegram(cfg.Channels.Telegram, responder, a.logger)
		group.Go(func() error { return ch.Start(ctx) })
	}
	if cfg.Channels.Discord.Enabled {
		ch := channels.NewDiscord(cfg.Channels.Discord, responder, a.logger)
		group.Go(func() error { return ch.Start(ctx) })
	}
	if cfg.Channels.Slack.Enabled {
		ch := channels.NewSlack(cfg.Channels.Slack, responder, a.logger)
		group.Go(func() error { return ch.Start(ctx) })
	}
	if cfg.Cron.Enabled {
		scheduler, err := cron.NewScheduler(cfg.Cron, a.engine, a.logger)
		if err != nil {
			return err
		}
		group.Go(func() error { return scheduler.Start(ctx) })
	}
	if cfg.Heartbeat.Enabled {
		beater := heartbeat.New(cfg.Heartbeat, a.engine, a.logger)
		group.Go(func() error { return beater.Start(ctx) })
	}

	a.logger.Info("grip serving",
		"gateway", cfg.Gateway.Enabled,
		"telegram", cfg.Channels.Telegram.Enabled,
		"discord", cfg.Channels.Discord.Enabled,
		"slack", cfg.Channels.Slack.Enabled,
		"cron", cfg.Cron.Enabled,
		"heartbeat", cfg.Heartbeat.Enabled)
	return group.Wait()
}

// ----------------------------------------------------------------------------
// workflow
// ----------------------------------------------------------------------------

func buildWorkflowCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Run and inspect workflows",
	}
	cmd.AddCommand(buildWorkflowRunCmd(configPath), buildWorkflowListCmd(configPath))
	return cmd
}

func buildWorkflowRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run <name>",
		Short: "Execute a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath, true, true)
			if err != nil {
				return err
			}
			defer a.close()
			a.connectMCP(cmd.Context())

			def, err := workflow.Load(a.cfg.WorkflowsDir(), args[0])
			if err != nil {
				return err
			}
			runner := workflow.NewRunner(a.engine, a.cfg.Agents.Profiles, a.logger)
			result, err := runner.Run(cmd.Context(), def)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, step := range result.Steps {
				line := fmt.Sprintf("%-20s %-10s %.1fs", step.Name, step.Status, step.Duration)
				if step.Error != "" {
					line += "  " + step.Error
				}
				fmt.Fprintln(out, line)
			}
			fmt.Fprintf(out, "workflow %s: %s\n", def.Name, result.Status)
			if result.Status == workflow.RunFailed {
				return fmt.Errorf("workflow failed")
			}
			return nil
		},
	}
}

func buildWorkflowListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved workflow definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadOrDefault(resolveConfigPath(*configPath))
			names, err := workflow.List(cfg.WorkflowsDir())
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no workflows defined")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

// ----------------------------------------------------------------------------
// mcp
// ----------------------------------------------------------------------------

func buildMCPCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP server connections",
	}
	cmd.AddCommand(buildMCPListCmd(configPath), buildMCPLoginCmd(configPath))
	return cmd
}

func buildMCPListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured MCP servers and their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath, false, false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			a.connectMCP(ctx)

			states := a.mcp.States()
			if len(states) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no MCP servers configured")
				return nil
			}
			out := cmd.OutOrStdout()
			for _, state := range states {
				line := fmt.Sprintf("%-20s %-14s tools: %d", state.Name, state.Status, state.Tools)
				if state.LastError != "" {
					line += "  " + state.LastError
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func buildMCPLoginCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login <server>",
		Short: "Run the OAuth login flow for an MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath, true, false)
			if err != nil {
				return err
			}
			defer a.close()

			serverCfg, err := a.cfg.FindMCPServer(args[0])
			if err != nil {
				return err
			}
			if err := a.mcp.Login(cmd.Context(), *serverCfg, a.clients); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s\n", serverCfg.Name)
			return nil
		},
	}
}

// ----------------------------------------------------------------------------
// session
// ----------------------------------------------------------------------------

func buildSessionCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage agent sessions",
	}
	var sessionKey string
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Delete a session's history",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath, false, false)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.sessions.Delete(sessionKey); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s deleted\n", sessionKey)
			return nil
		},
	}
	compact := &cobra.Command{
		Use:   "compact",
		Short: "Consolidate a session into long-term memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath, false, true)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.engine.ConsolidateSession(cmd.Context(), sessionKey); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s consolidated\n", sessionKey)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&sessionKey, "session", "cli:default", "Session key")
	cmd.AddCommand(reset, compact)
	return cmd
}

// ----------------------------------------------------------------------------
// onboard
// ----------------------------------------------------------------------------

func buildOnboardCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Set up the workspace and verify provider connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(*configPath)
			cfg := config.LoadOrDefault(path)
			out := cmd.OutOrStdout()

			if err := workspace.Scaffold(cfg.Workspace); err != nil {
				return err
			}
			fmt.Fprintf(out, "Workspace ready at %s\n", cfg.Workspace)

			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := cfg.Save(); err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote default config to %s\n", path)
			}

			// Connectivity test with retry so a bad key does not force a
			// full restart of the wizard.
			reader := bufio.NewReader(cmd.InOrStdin())
			for {
				err := testConnectivity(cmd.Context(), cfg)
				if err == nil {
					fmt.Fprintln(out, "Provider connectivity OK. You're all set.")
					return nil
				}
				fmt.Fprintf(out, "Connectivity test failed: %v\n", err)
				fmt.Fprint(out, "Retry? [y/N] ")
				line, readErr := reader.ReadString('\n')
				if readErr != nil || !strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y") {
					fmt.Fprintln(out, "Fix the provider settings in", path, "and re-run grip onboard.")
					return nil
				}
				cfg = config.LoadOrDefault(path)
			}
		},
	}
}

// testConnectivity sends one tiny prompt through the configured provider.
func testConnectivity(ctx context.Context, cfg *config.Config) error {
	provider, err := providers.New(cfg.Agents.Defaults.Provider, cfg, slog.Default())
	if err != nil {
		return err
	}
	model := cfg.Agents.Defaults.Model
	if model == "" {
		model = providers.DefaultModel(cfg.Agents.Defaults.Provider, cfg)
	}
	if model == "" {
		return fmt.Errorf("no model configured; set agents.defaults.model")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err = provider.Chat(ctx, &providers.ChatRequest{
		Model:     model,
		Messages:  []models.Message{{Role: models.RoleUser, Content: "ping"}},
		MaxTokens: 8,
	})
	return err
}
