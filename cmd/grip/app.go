package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/grip-agent/grip/internal/agent"
	"github.com/grip-agent/grip/internal/agent/sdk"
	"github.com/grip-agent/grip/internal/auth"
	"github.com/grip-agent/grip/internal/cache"
	"github.com/grip-agent/grip/internal/config"
	"github.com/grip-agent/grip/internal/learning"
	"github.com/grip-agent/grip/internal/mcp"
	"github.com/grip-agent/grip/internal/memory"
	"github.com/grip-agent/grip/internal/memory/knowledge"
	"github.com/grip-agent/grip/internal/providers"
	"github.com/grip-agent/grip/internal/sessions"
	"github.com/grip-agent/grip/internal/subagent"
	"github.com/grip-agent/grip/internal/tools"
	"github.com/grip-agent/grip/internal/trust"
	"github.com/grip-agent/grip/internal/usage"
	"github.com/grip-agent/grip/internal/workspace"
)

// app holds the assembled runtime: engine, stores, and tool layer. Every
// command that talks to the agent goes through one of these.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	engine    agent.Engine
	registry  *tools.Registry
	sessions  *sessions.Store
	memory    *memory.Manager
	knowledge *knowledge.Base
	workspace *workspace.Workspace
	trust     *trust.Manager
	mcp       *mcp.Manager
	tokens    *auth.TokenStore
	clients   *auth.ClientStore
	subagents *subagent.Manager
}

// gripDir is the home-level state directory holding token stores.
func gripDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".grip")
}

// newApp assembles the full runtime from config. interactive enables the
// stdin trust prompt; services pass false so trust denials fail closed.
// needEngine skips provider construction for commands that never run the
// agent, so they work without a configured API key.
func newApp(cfg *config.Config, logger *slog.Logger, interactive, needEngine bool) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{cfg: cfg, logger: logger}

	ws, err := workspace.Load(cfg.Workspace, logger)
	if err != nil {
		return nil, err
	}
	a.workspace = ws

	a.sessions, err = sessions.NewStore(cfg.SessionsDir(), logger)
	if err != nil {
		return nil, err
	}
	a.memory, err = memory.NewManager(memory.Options{Dir: cfg.MemoryDir(), Logger: logger})
	if err != nil {
		return nil, err
	}
	a.knowledge, err = knowledge.NewBase(filepath.Join(cfg.MemoryDir(), "knowledge.json"), logger)
	if err != nil {
		return nil, err
	}

	a.trust, err = trust.NewManager(filepath.Join(cfg.StateDir(), "trusted_dirs.json"), logger)
	if err != nil {
		return nil, err
	}
	if interactive && cfg.Tools.TrustMode != "deny" {
		a.trust.SetPrompt(stdinTrustPrompt)
	}

	a.tokens, err = auth.NewTokenStore(filepath.Join(gripDir(), "mcp_tokens.json"))
	if err != nil {
		return nil, err
	}
	a.clients, err = auth.NewClientStore(filepath.Join(gripDir(), "mcp_clients.json"))
	if err != nil {
		return nil, err
	}

	a.registry = tools.NewRegistry(logger)
	a.registry.Register(tools.ReadFileTool{})
	a.registry.Register(tools.WriteFileTool{})
	a.registry.Register(tools.ListDirTool{})
	a.registry.Register(tools.ShellTool{})
	a.registry.Register(tools.WebFetchTool{})
	a.registry.Register(tools.WebSearchTool{})
	a.registry.Register(&tools.RememberTool{Memory: a.memory, Knowledge: a.knowledge})
	a.registry.Register(&tools.RecallTool{Memory: a.memory, Knowledge: a.knowledge})

	a.subagents = subagent.NewManager(logger)
	a.registry.Register(&subagent.SpawnTool{Manager: a.subagents, Run: a.runSubagent})
	a.registry.Register(&subagent.ListTool{Manager: a.subagents})
	a.registry.Register(&subagent.CheckTool{Manager: a.subagents})

	a.mcp = mcp.NewManager(a.registry, a.tokens, logger)

	if needEngine {
		engine, err := a.buildEngine()
		if err != nil {
			return nil, err
		}
		a.engine = engine
	}
	return a, nil
}

// buildEngine constructs the configured engine and wraps it in the usage
// and learning decorators.
func (a *app) buildEngine() (agent.Engine, error) {
	cfg := a.cfg
	defaults := cfg.Agents.Defaults
	if defaults.Model == "" {
		defaults.Model = providers.DefaultModel(defaults.Provider, cfg)
	}
	if defaults.Model == "" {
		return nil, fmt.Errorf("no model configured; set agents.defaults.model")
	}

	toolCtx := tools.ToolContext{
		WorkspacePath:       cfg.Workspace,
		RestrictToWorkspace: cfg.Tools.RestrictToWorkspace,
		ShellTimeout:        cfg.ShellTimeout(),
		Trust:               a.trust,
		WebSearchAPIKey:     cfg.Tools.WebSearch.APIKey.Value(),
		WebSearchEngine:     cfg.Tools.WebSearch.Provider,
	}

	var engine agent.Engine
	switch defaults.Engine {
	case "sdk":
		if !cfg.Providers.Anthropic.APIKey.IsSet() {
			return nil, fmt.Errorf("sdk engine requires an anthropic api key")
		}
		engine = sdk.New(sdk.Options{
			APIKey:   cfg.Providers.Anthropic.APIKey.Value(),
			BaseURL:  cfg.Providers.Anthropic.BaseURL,
			Defaults: defaults,
			Registry: a.registry,
			Sessions: a.sessions,
			Builder: &agent.ContextBuilder{
				Workspace: a.workspace,
				Memory:    a.memory,
				Knowledge: a.knowledge,
			},
			Trust:       a.trust,
			ToolContext: toolCtx,
			Logger:      a.logger,
		})
	case "", "loop":
		provider, err := providers.New(defaults.Provider, cfg, a.logger)
		if err != nil {
			return nil, err
		}
		var semCache *cache.SemanticCache
		if defaults.SemanticCache {
			ttl := time.Duration(defaults.CacheTTLHours) * time.Hour
			semCache, err = cache.NewSemanticCache(
				filepath.Join(cfg.CacheDir(), "semantic.json"), ttl, 0, a.logger)
			if err != nil {
				return nil, err
			}
		}
		engine = agent.NewLoop(agent.LoopOptions{
			Defaults:    defaults,
			Routing:     cfg.Agents.Routing,
			Provider:    provider,
			Registry:    a.registry,
			Sessions:    a.sessions,
			Memory:      a.memory,
			Knowledge:   a.knowledge,
			Cache:       semCache,
			Workspace:   a.workspace,
			ToolContext: toolCtx,
			Logger:      a.logger,
		})
	default:
		return nil, fmt.Errorf("unknown engine %q", defaults.Engine)
	}

	if defaults.DailyTokenLimit > 0 {
		tracker, err := usage.NewTracker(
			filepath.Join(cfg.StateDir(), "usage.json"), defaults.DailyTokenLimit, a.logger)
		if err != nil {
			return nil, err
		}
		engine = agent.NewTrackedEngine(engine, tracker, a.logger)
	}
	if defaults.Learning {
		engine = agent.NewLearningEngine(engine, learning.NewExtractor(a.logger), a.knowledge, a.logger)
	}
	return engine, nil
}

// runSubagent backs the spawn_subagent tool: each task gets a fresh session
// on the same engine.
func (a *app) runSubagent(ctx context.Context, task string) (string, error) {
	result, err := a.engine.Run(ctx, task, "subagent:"+uuid.NewString(), "")
	if err != nil {
		return "", err
	}
	return result.Response, nil
}

// connectMCP connects enabled MCP servers, registering their tools.
func (a *app) connectMCP(ctx context.Context) {
	a.mcp.ConnectAll(ctx, a.cfg.Tools.MCPServers)
}

// close releases background work.
func (a *app) close() {
	a.subagents.CancelAll()
	a.mcp.Close()
}

// stdinTrustPrompt asks the user to trust a directory for this and future
// runs.
func stdinTrustPrompt(dir string) bool {
	fmt.Fprintf(os.Stderr, "Allow access to %s? [y/N] ", dir)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
