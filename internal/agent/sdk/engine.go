// Package sdk implements the alternate engine that hands the iteration loop
// to the Anthropic SDK instead of driving a provider abstraction. Guard
// hooks run before every tool dispatch; the transcript is folded back into
// the shared AgentResult shape.
package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/grip-agent/grip/internal/agent"
	"github.com/grip-agent/grip/internal/config"
	"github.com/grip-agent/grip/internal/sessions"
	"github.com/grip-agent/grip/internal/tools"
	"github.com/grip-agent/grip/internal/trust"
	"github.com/grip-agent/grip/pkg/models"
)

// Notifier delivers out-of-band messages and files to the active channel
// while a run is still in progress.
type Notifier interface {
	SendMessage(ctx context.Context, text string) error
	SendFile(ctx context.Context, path string) error
}

// Options wires the SDK engine.
type Options struct {
	APIKey   string
	BaseURL  string
	Defaults config.AgentDefaults
	Registry *tools.Registry
	Sessions *sessions.Store
	Builder  *agent.ContextBuilder
	Trust    *trust.Manager
	// ToolContext is the per-run template; SessionKey is filled per run.
	ToolContext tools.ToolContext
	Notifier    Notifier
	Logger      *slog.Logger
}

// Engine is the SDK-delegated engine. It satisfies agent.Engine.
type Engine struct {
	client   anthropic.Client
	defaults config.AgentDefaults
	registry *tools.Registry
	sessions *sessions.Store
	builder  *agent.ContextBuilder
	trust    *trust.Manager
	toolCtx  tools.ToolContext
	logger   *slog.Logger
}

// New builds the SDK engine and registers its custom tools.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	e := &Engine{
		client:   anthropic.NewClient(clientOpts...),
		defaults: opts.Defaults,
		registry: opts.Registry,
		sessions: opts.Sessions,
		builder:  opts.Builder,
		trust:    opts.Trust,
		toolCtx:  opts.ToolContext,
		logger:   logger.With("component", "sdk-engine"),
	}
	if opts.Notifier != nil {
		e.registry.Register(&sendMessageTool{notifier: opts.Notifier})
		e.registry.Register(&sendFileTool{notifier: opts.Notifier})
	}
	return e
}

var _ agent.Engine = (*Engine)(nil)

// Run executes one message through the SDK-owned loop.
func (e *Engine) Run(ctx context.Context, userMessage, sessionKey, model string) (*models.AgentResult, error) {
	e.sessions.Lock(sessionKey)
	defer e.sessions.Unlock(sessionKey)

	session, err := e.sessions.GetOrCreate(sessionKey)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = e.defaults.Model
	}

	system := e.builder.SystemPrompt(userMessage, session.Summary)
	messages := e.transcriptTail(session)
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)))

	maxTokens := e.defaults.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	toolParams := e.toolParams()

	result := &models.AgentResult{}
	maxIterations := e.defaults.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 20
	}

	for i := 0; i < maxIterations; i++ {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: int64(maxTokens),
			System:    []anthropic.TextBlockParam{{Text: system}},
			Messages:  messages,
			Tools:     toolParams,
		}
		message, err := e.client.Messages.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("sdk engine: %w", err)
		}
		result.Iterations++
		result.PromptTokens += int(message.Usage.InputTokens)
		result.CompletionTokens += int(message.Usage.OutputTokens)

		var text string
		var toolUses []anthropic.ContentBlockUnion
		for _, block := range message.Content {
			switch block.Type {
			case "text":
				text += block.Text
			case "tool_use":
				toolUses = append(toolUses, block)
			}
		}

		if len(toolUses) == 0 {
			result.Response = text
			session.Append(
				models.Message{Role: models.RoleUser, Content: userMessage},
				models.Message{Role: models.RoleAssistant, Content: text},
			)
			return result, e.sessions.Save(session)
		}

		var assistantBlocks []anthropic.ContentBlockParamUnion
		if text != "" {
			assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(text))
		}
		var resultBlocks []anthropic.ContentBlockParamUnion
		for _, use := range toolUses {
			args := json.RawMessage(use.Input)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			assistantBlocks = append(assistantBlocks, anthropic.NewToolUseBlock(use.ID, args, use.Name))

			output, blocked := e.dispatch(ctx, sessionKey, use.Name, args)
			isError := strings.HasPrefix(output, "Error")
			resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(use.ID, output, isError))

			result.ToolCallsMade = append(result.ToolCallsMade, use.Name)
			result.ToolDetails = append(result.ToolDetails, models.ToolDetail{
				Name:          use.Name,
				Success:       !isError,
				OutputPreview: models.Preview(output),
			})
			if blocked {
				e.logger.Warn("tool call blocked by guard hook", "tool", use.Name)
			}
		}
		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		messages = append(messages, anthropic.NewUserMessage(resultBlocks...))
	}

	result.Response = "Reached the maximum number of tool iterations."
	session.Append(
		models.Message{Role: models.RoleUser, Content: userMessage},
		models.Message{Role: models.RoleAssistant, Content: result.Response},
	)
	return result, e.sessions.Save(session)
}

// dispatch runs the guard hooks and then the registry tool. blocked reports
// whether a hook rejected the call.
func (e *Engine) dispatch(ctx context.Context, sessionKey, name string, args json.RawMessage) (string, bool) {
	if msg, ok := e.guard(name, args); !ok {
		return msg, true
	}
	tc := e.toolCtx
	tc.SessionKey = sessionKey
	return e.registry.Execute(ctx, name, args, &tc), false
}

// guard is the pre-tool hook: it blocks dangerous shell commands and file
// access outside trusted directories before the tool ever runs.
func (e *Engine) guard(name string, args json.RawMessage) (string, bool) {
	var params map[string]any
	if err := json.Unmarshal(args, &params); err != nil {
		params = map[string]any{}
	}
	switch name {
	case "shell", "bash":
		command, _ := params["command"].(string)
		if pattern, dangerous := tools.CheckDangerous(command); dangerous {
			return fmt.Sprintf("Error: matches dangerous pattern %s, refusing to execute", pattern), false
		}
	case "read_file", "write_file", "edit_file", "list_dir":
		path, _ := params["path"].(string)
		if path == "" {
			return "", true
		}
		if !filepath.IsAbs(path) {
			return "", true
		}
		if e.toolCtx.RestrictToWorkspace {
			return "", true // the tool's own workspace check applies
		}
		if e.trust != nil && !e.trust.IsTrusted(path, e.toolCtx.WorkspacePath) {
			if !e.trust.CheckAndPrompt(path, e.toolCtx.WorkspacePath) {
				return fmt.Sprintf("Error: Access denied — %s is not a trusted directory", path), false
			}
		}
	}
	return "", true
}

// transcriptTail converts the recent session tail into SDK message params.
func (e *Engine) transcriptTail(session *models.Session) []anthropic.MessageParam {
	window := e.defaults.MemoryWindow
	if window <= 0 || window > 10 {
		window = 10
	}
	tail := session.Messages
	if len(tail) > window {
		tail = tail[len(tail)-window:]
	}
	var out []anthropic.MessageParam
	for _, m := range tail {
		switch m.Role {
		case models.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case models.RoleAssistant:
			if m.Content != "" {
				out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			}
		}
	}
	return out
}

func (e *Engine) toolParams() []anthropic.ToolUnionParam {
	var out []anthropic.ToolUnionParam
	for _, spec := range e.registry.Definitions() {
		var schema anthropic.ToolInputSchemaParam
		if len(spec.Parameters) > 0 {
			if err := json.Unmarshal(spec.Parameters, &schema); err != nil {
				e.logger.Warn("skipping tool with invalid schema", "tool", spec.Name, "error", err)
				continue
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if toolParam.OfTool != nil && spec.Description != "" {
			toolParam.OfTool.Description = anthropic.String(spec.Description)
		}
		out = append(out, toolParam)
	}
	return out
}

// ConsolidateSession is a no-op: the SDK owns its own context window.
func (e *Engine) ConsolidateSession(ctx context.Context, sessionKey string) error { return nil }

// ResetSession deletes the persisted session.
func (e *Engine) ResetSession(ctx context.Context, sessionKey string) error {
	e.sessions.Lock(sessionKey)
	defer e.sessions.Unlock(sessionKey)
	return e.sessions.Delete(sessionKey)
}
