package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/grip-agent/grip/internal/cache"
	"github.com/grip-agent/grip/internal/config"
	"github.com/grip-agent/grip/internal/memory"
	"github.com/grip-agent/grip/internal/memory/knowledge"
	"github.com/grip-agent/grip/internal/providers"
	"github.com/grip-agent/grip/internal/sessions"
	"github.com/grip-agent/grip/internal/tools"
	"github.com/grip-agent/grip/internal/workspace"
	"github.com/grip-agent/grip/pkg/models"
)

// immediateWindowCap bounds how many trailing session messages ride along
// in the provider prompt regardless of the configured memory window.
const immediateWindowCap = 10

// LoopOptions wires the primary engine's collaborators.
type LoopOptions struct {
	Defaults  config.AgentDefaults
	Routing   config.RoutingConfig
	Provider  providers.Provider
	Registry  *tools.Registry
	Sessions  *sessions.Store
	Memory    *memory.Manager
	Knowledge *knowledge.Base
	Cache     *cache.SemanticCache
	Workspace *workspace.Workspace
	// ToolContext is the per-run template; the loop fills SessionKey.
	ToolContext tools.ToolContext
	Logger      *slog.Logger
}

// Loop is the primary engine: it iterates provider calls and tool dispatch
// until the model produces a final text answer.
type Loop struct {
	defaults config.AgentDefaults
	routing  config.RoutingConfig
	provider providers.Provider
	registry *tools.Registry
	sessions *sessions.Store
	memory   *memory.Manager
	cache    *cache.SemanticCache
	builder  *ContextBuilder
	toolCtx  tools.ToolContext
	logger   *slog.Logger
}

// NewLoop builds the primary engine.
func NewLoop(opts LoopOptions) *Loop {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		defaults: opts.Defaults,
		routing:  opts.Routing,
		provider: opts.Provider,
		registry: opts.Registry,
		sessions: opts.Sessions,
		memory:   opts.Memory,
		cache:    opts.Cache,
		builder: &ContextBuilder{
			Workspace: opts.Workspace,
			Memory:    opts.Memory,
			Knowledge: opts.Knowledge,
		},
		toolCtx: opts.ToolContext,
		logger:  logger.With("component", "agent"),
	}
}

var _ Engine = (*Loop)(nil)

// memoryWindow is the configured retention window used for consolidation.
func (l *Loop) memoryWindow() int {
	if l.defaults.MemoryWindow > 0 {
		return l.defaults.MemoryWindow
	}
	return 50
}

// immediateWindow is the prompt tail size.
func (l *Loop) immediateWindow() int {
	w := l.memoryWindow()
	if w > immediateWindowCap {
		return immediateWindowCap
	}
	return w
}

// Run executes one user message to completion.
func (l *Loop) Run(ctx context.Context, userMessage, sessionKey, model string) (*models.AgentResult, error) {
	l.sessions.Lock(sessionKey)
	defer l.sessions.Unlock(sessionKey)

	session, err := l.sessions.GetOrCreate(sessionKey)
	if err != nil {
		return nil, err
	}

	if model == "" {
		if l.routing.Enabled {
			complexity := Classify(userMessage, session)
			model = SelectModel(l.defaults.Model, l.routing, complexity)
			l.logger.Debug("routed message", "complexity", complexity, "model", model)
		} else {
			model = l.defaults.Model
		}
	}

	if l.cacheEnabled() {
		if cached, ok := l.cache.Get(userMessage, model); ok {
			l.logger.Debug("semantic cache hit", "session", sessionKey)
			session.Append(
				models.Message{Role: models.RoleUser, Content: userMessage},
				models.Message{Role: models.RoleAssistant, Content: cached},
			)
			l.maybeConsolidate(ctx, session, model)
			if err := l.sessions.Save(session); err != nil {
				return nil, err
			}
			return &models.AgentResult{Response: cached}, nil
		}
	}

	window := l.immediateWindow()
	tail := session.Messages
	if len(tail) > window {
		tail = tail[len(tail)-window:]
	}

	messages := make([]models.Message, 0, len(tail)+2)
	messages = append(messages, models.Message{
		Role:    models.RoleSystem,
		Content: l.builder.SystemPrompt(userMessage, session.Summary),
	})
	messages = append(messages, tail...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: userMessage})

	toolSpecs := l.registry.Definitions()
	result := &models.AgentResult{}
	usedTools := false

	for i := 0; l.defaults.MaxIterations == 0 || i < l.defaults.MaxIterations; i++ {
		resp, err := l.chat(ctx, model, messages, toolSpecs)
		if err != nil {
			return nil, err
		}
		result.Iterations++
		result.PromptTokens += resp.Usage.PromptTokens
		result.CompletionTokens += resp.Usage.CompletionTokens

		if !resp.HasToolCalls() {
			result.Response = resp.Content
			return result, l.finish(ctx, session, userMessage, model, result, usedTools)
		}

		usedTools = true
		messages = append(messages, models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		outputs := l.dispatch(ctx, sessionKey, resp.ToolCalls, result)
		var failed []string
		for j, out := range outputs {
			call := resp.ToolCalls[j]
			messages = append(messages, models.Message{
				Role:       models.RoleTool,
				Content:    out,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
			if strings.HasPrefix(out, "Error") {
				failed = append(failed, call.Name)
			}
		}
		if len(failed) > 0 && l.defaults.SelfCorrection {
			messages = append(messages, models.Message{
				Role: models.RoleSystem,
				Content: fmt.Sprintf(
					"The following tools failed: %s. Review the error messages above, reconsider your approach, and try a different way if needed.",
					strings.Join(failed, ", ")),
			})
		}
	}

	// Iteration budget exhausted: force a text-only answer.
	messages = append(messages, models.Message{
		Role: models.RoleUser,
		Content: "You have reached the maximum number of tool iterations. " +
			"Answer now with what you have, summarizing any remaining steps.",
	})
	resp, err := l.chat(ctx, model, messages, nil)
	if err != nil {
		return nil, err
	}
	result.Iterations++
	result.PromptTokens += resp.Usage.PromptTokens
	result.CompletionTokens += resp.Usage.CompletionTokens
	result.Response = resp.Content
	return result, l.finish(ctx, session, userMessage, model, result, usedTools)
}

func (l *Loop) cacheEnabled() bool {
	return l.cache != nil && l.defaults.SemanticCache
}

func (l *Loop) chat(ctx context.Context, model string, messages []models.Message, toolSpecs []providers.ToolSpec) (*models.LLMResponse, error) {
	return l.provider.Chat(ctx, &providers.ChatRequest{
		Model:       model,
		Messages:    messages,
		Tools:       toolSpecs,
		MaxTokens:   l.defaults.MaxTokens,
		Temperature: l.defaults.Temperature,
	})
}

// dispatch runs all tool calls concurrently and returns their serialized
// results in the order of the original call list.
func (l *Loop) dispatch(ctx context.Context, sessionKey string, calls []models.ToolCall, result *models.AgentResult) []string {
	outputs := make([]string, len(calls))
	details := make([]models.ToolDetail, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			tc := l.toolCtx
			tc.SessionKey = sessionKey
			start := time.Now()
			out := l.registry.Execute(ctx, call.Name, call.Arguments, &tc)
			outputs[i] = out
			details[i] = models.ToolDetail{
				Name:          call.Name,
				Success:       !strings.HasPrefix(out, "Error"),
				DurationMS:    time.Since(start).Milliseconds(),
				OutputPreview: models.Preview(out),
			}
		}(i, call)
	}
	wg.Wait()

	for i := range calls {
		result.ToolCallsMade = append(result.ToolCallsMade, calls[i].Name)
		result.ToolDetails = append(result.ToolDetails, details[i])
		l.logger.Debug("tool executed",
			"tool", calls[i].Name,
			"success", details[i].Success,
			"duration_ms", details[i].DurationMS)
	}
	return outputs
}

// finish persists the exchange, runs the consolidation check, and caches
// tool-free answers.
func (l *Loop) finish(ctx context.Context, session *models.Session, userMessage, model string, result *models.AgentResult, usedTools bool) error {
	session.Append(
		models.Message{Role: models.RoleUser, Content: userMessage},
		models.Message{Role: models.RoleAssistant, Content: result.Response},
	)
	l.maybeConsolidate(ctx, session, model)
	if err := l.sessions.Save(session); err != nil {
		return err
	}
	if !usedTools && l.cacheEnabled() && result.Response != "" {
		if err := l.cache.Put(userMessage, model, result.Response); err != nil {
			l.logger.Warn("semantic cache write failed", "error", err)
		}
	}
	return nil
}

// maybeConsolidate folds old messages into long-term memory once the session
// grows past twice the memory window. Failures are logged and swallowed.
func (l *Loop) maybeConsolidate(ctx context.Context, session *models.Session, model string) {
	window := l.memoryWindow()
	if len(session.Messages) <= window*2 {
		return
	}
	l.consolidate(ctx, session, model, window)
}

func (l *Loop) consolidate(ctx context.Context, session *models.Session, model string, window int) {
	if l.memory == nil || len(session.Messages) == 0 {
		return
	}
	old := session.Messages
	keep := []models.Message(nil)
	if len(old) > window {
		keep = old[len(old)-window:]
		old = old[:len(old)-window]
	}
	if l.defaults.ConsolidationModel != "" {
		model = l.defaults.ConsolidationModel
	}
	facts, err := l.memory.Consolidate(ctx, old, l.provider, model)
	if err != nil {
		l.logger.Warn("consolidation failed", "session", session.Key, "error", err)
		return
	}
	l.logger.Debug("consolidated session", "session", session.Key, "pruned", len(old))
	if facts != "" {
		session.Summary = facts
	}
	if keep != nil {
		session.Messages = keep
	}
}

// ConsolidateSession runs consolidation unconditionally, keeping the recent
// window intact.
func (l *Loop) ConsolidateSession(ctx context.Context, sessionKey string) error {
	l.sessions.Lock(sessionKey)
	defer l.sessions.Unlock(sessionKey)

	session, err := l.sessions.GetOrCreate(sessionKey)
	if err != nil {
		return err
	}
	if len(session.Messages) == 0 {
		return nil
	}
	l.consolidate(ctx, session, l.defaults.Model, l.memoryWindow())
	return l.sessions.Save(session)
}

// ResetSession deletes the persisted session, summary included.
func (l *Loop) ResetSession(ctx context.Context, sessionKey string) error {
	l.sessions.Lock(sessionKey)
	defer l.sessions.Unlock(sessionKey)
	return l.sessions.Delete(sessionKey)
}
