package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grip-agent/grip/internal/cache"
	"github.com/grip-agent/grip/internal/config"
	"github.com/grip-agent/grip/internal/memory"
	"github.com/grip-agent/grip/internal/memory/knowledge"
	"github.com/grip-agent/grip/internal/providers"
	"github.com/grip-agent/grip/internal/sessions"
	"github.com/grip-agent/grip/internal/tools"
	"github.com/grip-agent/grip/pkg/models"
)

// scriptedProvider replays canned responses and records every request.
type scriptedProvider struct {
	responses []*models.LLMResponse
	err       error
	requests  []providers.ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req *providers.ChatRequest) (*models.LLMResponse, error) {
	recorded := *req
	recorded.Messages = append([]models.Message(nil), req.Messages...)
	recorded.Tools = append([]providers.ToolSpec(nil), req.Tools...)
	p.requests = append(p.requests, recorded)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &models.LLMResponse{Content: "out of script"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func text(content string, prompt, completion int) *models.LLMResponse {
	return &models.LLMResponse{
		Content: content,
		Usage:   models.Usage{PromptTokens: prompt, CompletionTokens: completion},
	}
}

func toolUse(calls ...models.ToolCall) *models.LLMResponse {
	return &models.LLMResponse{
		ToolCalls: calls,
		Usage:     models.Usage{PromptTokens: 1, CompletionTokens: 1},
	}
}

// echoTool returns "echo:<text arg>", or an error when told to fail.
type echoTool struct{}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Description() string     { return "echo the input" }
func (echoTool) Category() string        { return "test" }
func (echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (echoTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.ToolContext) (any, error) {
	var in struct {
		Text string `json:"text"`
		Fail bool   `json:"fail"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	if in.Fail {
		return nil, errors.New("boom")
	}
	return "echo:" + in.Text, nil
}

type loopFixture struct {
	loop      *Loop
	provider  *scriptedProvider
	sessions  *sessions.Store
	cache     *cache.SemanticCache
	memory    *memory.Manager
	knowledge *knowledge.Base
}

func newFixture(t *testing.T, defaults config.AgentDefaults, responses ...*models.LLMResponse) *loopFixture {
	t.Helper()
	dir := t.TempDir()

	store, err := sessions.NewStore(filepath.Join(dir, "sessions"), nil)
	if err != nil {
		t.Fatal(err)
	}
	mem, err := memory.NewManager(memory.Options{Dir: filepath.Join(dir, "memory")})
	if err != nil {
		t.Fatal(err)
	}
	kb, err := knowledge.NewBase(filepath.Join(dir, "memory", "knowledge.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	sc, err := cache.NewSemanticCache(filepath.Join(dir, "cache", "semantic.json"), time.Hour, 100, nil)
	if err != nil {
		t.Fatal(err)
	}

	registry := tools.NewRegistry(nil)
	registry.Register(echoTool{})

	provider := &scriptedProvider{responses: responses}
	loop := NewLoop(LoopOptions{
		Defaults:  defaults,
		Provider:  provider,
		Registry:  registry,
		Sessions:  store,
		Memory:    mem,
		Knowledge: kb,
		Cache:     sc,
	})
	return &loopFixture{loop: loop, provider: provider, sessions: store, cache: sc, memory: mem, knowledge: kb}
}

func defaults() config.AgentDefaults {
	return config.AgentDefaults{
		Model:          "test-model",
		MaxIterations:  5,
		MaxTokens:      512,
		MemoryWindow:   20,
		SelfCorrection: true,
		SemanticCache:  true,
	}
}

func TestRunSimpleAnswer(t *testing.T) {
	f := newFixture(t, defaults(), text("hello there", 10, 5))

	result, err := f.loop.Run(context.Background(), "hi", "main", "")
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "hello there" || result.Iterations != 1 {
		t.Errorf("result = %+v", result)
	}
	if result.PromptTokens != 10 || result.CompletionTokens != 5 {
		t.Errorf("usage = %d/%d", result.PromptTokens, result.CompletionTokens)
	}

	session, _ := f.sessions.GetOrCreate("main")
	if len(session.Messages) != 2 {
		t.Fatalf("session messages = %d, want 2", len(session.Messages))
	}
	if session.Messages[0].Role != models.RoleUser || session.Messages[1].Content != "hello there" {
		t.Errorf("session = %+v", session.Messages)
	}
}

func TestRunToolIteration(t *testing.T) {
	f := newFixture(t, defaults(),
		toolUse(models.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"text":"a"}`)}),
		text("final answer", 2, 2),
	)

	result, err := f.loop.Run(context.Background(), "use the tool", "main", "")
	if err != nil {
		t.Fatal(err)
	}
	if result.Iterations != 2 || result.Response != "final answer" {
		t.Errorf("result = %+v", result)
	}
	if len(result.ToolCallsMade) != 1 || result.ToolCallsMade[0] != "echo" {
		t.Errorf("tool calls = %v", result.ToolCallsMade)
	}
	detail := result.ToolDetails[0]
	if !detail.Success || detail.OutputPreview != "echo:a" {
		t.Errorf("detail = %+v", detail)
	}

	// Second provider call sees the assistant tool_calls message and the
	// bound tool result.
	second := f.provider.requests[1].Messages
	assistant := second[len(second)-2]
	toolMsg := second[len(second)-1]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "c1" {
		t.Errorf("assistant msg = %+v", assistant)
	}
	if toolMsg.Role != models.RoleTool || toolMsg.ToolCallID != "c1" || toolMsg.Content != "echo:a" {
		t.Errorf("tool msg = %+v", toolMsg)
	}
}

func TestParallelDispatchPreservesOrder(t *testing.T) {
	f := newFixture(t, defaults(),
		toolUse(
			models.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"text":"first"}`)},
			models.ToolCall{ID: "c2", Name: "echo", Arguments: json.RawMessage(`{"text":"second"}`)},
		),
		text("done", 1, 1),
	)

	if _, err := f.loop.Run(context.Background(), "two calls", "main", ""); err != nil {
		t.Fatal(err)
	}
	msgs := f.provider.requests[1].Messages
	first := msgs[len(msgs)-2]
	second := msgs[len(msgs)-1]
	if first.ToolCallID != "c1" || first.Content != "echo:first" {
		t.Errorf("first result = %+v", first)
	}
	if second.ToolCallID != "c2" || second.Content != "echo:second" {
		t.Errorf("second result = %+v", second)
	}
}

func TestSelfCorrectionMessage(t *testing.T) {
	f := newFixture(t, defaults(),
		toolUse(models.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"fail":true}`)}),
		text("recovered", 1, 1),
	)

	result, err := f.loop.Run(context.Background(), "please fail", "main", "")
	if err != nil {
		t.Fatal(err)
	}
	if result.ToolDetails[0].Success {
		t.Error("failed tool marked successful")
	}

	msgs := f.provider.requests[1].Messages
	last := msgs[len(msgs)-1]
	if last.Role != models.RoleSystem || !strings.Contains(last.Content, "echo") {
		t.Errorf("expected self-correction system message, got %+v", last)
	}
}

func TestSelfCorrectionDisabled(t *testing.T) {
	cfg := defaults()
	cfg.SelfCorrection = false
	f := newFixture(t, cfg,
		toolUse(models.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"fail":true}`)}),
		text("ok", 1, 1),
	)
	if _, err := f.loop.Run(context.Background(), "fail quietly", "main", ""); err != nil {
		t.Fatal(err)
	}
	msgs := f.provider.requests[1].Messages
	if msgs[len(msgs)-1].Role == models.RoleSystem {
		t.Error("self-correction message appended while disabled")
	}
}

func TestSemanticCacheRoundTrip(t *testing.T) {
	f := newFixture(t, defaults(), text("cached answer", 3, 3))

	if _, err := f.loop.Run(context.Background(), "what is go", "main", ""); err != nil {
		t.Fatal(err)
	}
	if f.cache.Len() != 1 {
		t.Fatalf("cache len = %d, want 1", f.cache.Len())
	}

	result, err := f.loop.Run(context.Background(), "what is go", "other", "")
	if err != nil {
		t.Fatal(err)
	}
	if result.Iterations != 0 || result.Response != "cached answer" {
		t.Errorf("cache hit result = %+v", result)
	}
	if result.PromptTokens != 0 || result.CompletionTokens != 0 {
		t.Error("cache hit should report zero usage")
	}
	if len(f.provider.requests) != 1 {
		t.Errorf("provider called %d times, want 1", len(f.provider.requests))
	}

	// The hit is still recorded to the session.
	session, _ := f.sessions.GetOrCreate("other")
	if len(session.Messages) != 2 {
		t.Errorf("session messages = %d, want 2", len(session.Messages))
	}
}

func TestCacheHitStillConsolidates(t *testing.T) {
	cfg := defaults()
	cfg.MemoryWindow = 2
	f := newFixture(t, cfg,
		text("cached answer", 3, 3),
		text("- [learned_fact] consolidation ran on a cached reply", 1, 1),
	)

	if _, err := f.loop.Run(context.Background(), "what is go", "main", ""); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		f.sessions.Append("other", models.Message{Role: models.RoleUser, Content: fmt.Sprintf("old %d", i)})
	}

	result, err := f.loop.Run(context.Background(), "what is go", "other", "")
	if err != nil {
		t.Fatal(err)
	}
	if result.Iterations != 0 || result.Response != "cached answer" {
		t.Fatalf("cache hit result = %+v", result)
	}

	session, _ := f.sessions.GetOrCreate("other")
	if len(session.Messages) != 2 {
		t.Errorf("pruned session = %d messages, want 2", len(session.Messages))
	}
	if !strings.Contains(session.Summary, "consolidation ran on a cached reply") {
		t.Errorf("summary = %q", session.Summary)
	}
}

func TestToolRunsAreNotCached(t *testing.T) {
	f := newFixture(t, defaults(),
		toolUse(models.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"text":"x"}`)}),
		text("with tools", 1, 1),
	)
	if _, err := f.loop.Run(context.Background(), "needs a tool", "main", ""); err != nil {
		t.Fatal(err)
	}
	if f.cache.Len() != 0 {
		t.Errorf("cache len = %d, want 0", f.cache.Len())
	}
}

func TestExhaustionForcesTextAnswer(t *testing.T) {
	cfg := defaults()
	cfg.MaxIterations = 2
	f := newFixture(t, cfg,
		toolUse(models.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"text":"1"}`)}),
		toolUse(models.ToolCall{ID: "c2", Name: "echo", Arguments: json.RawMessage(`{"text":"2"}`)}),
		text("best effort", 1, 1),
	)

	result, err := f.loop.Run(context.Background(), "never stop", "main", "")
	if err != nil {
		t.Fatal(err)
	}
	if result.Iterations != 3 || result.Response != "best effort" {
		t.Errorf("result = %+v", result)
	}

	final := f.provider.requests[len(f.provider.requests)-1]
	if len(final.Tools) != 0 {
		t.Error("final forced call should carry no tools")
	}
	lastMsg := final.Messages[len(final.Messages)-1]
	if lastMsg.Role != models.RoleUser || !strings.Contains(lastMsg.Content, "maximum number of tool iterations") {
		t.Errorf("final message = %+v", lastMsg)
	}
}

func TestProviderErrorPropagates(t *testing.T) {
	f := newFixture(t, defaults())
	f.provider.err = errors.New("provider down")
	if _, err := f.loop.Run(context.Background(), "hi", "main", ""); err == nil {
		t.Fatal("expected error")
	}
	session, _ := f.sessions.GetOrCreate("main")
	if len(session.Messages) != 0 {
		t.Error("failed run should not persist messages")
	}
}

func TestImmediateWindowCapped(t *testing.T) {
	f := newFixture(t, defaults(), text("ok", 1, 1))
	for i := 0; i < 30; i++ {
		f.sessions.Append("main", models.Message{Role: models.RoleUser, Content: fmt.Sprintf("msg %d", i)})
	}

	if _, err := f.loop.Run(context.Background(), "latest", "main", ""); err != nil {
		t.Fatal(err)
	}
	// system + 10-message tail + new user message.
	msgs := f.provider.requests[0].Messages
	if len(msgs) != 12 {
		t.Fatalf("prompt messages = %d, want 12", len(msgs))
	}
	if msgs[1].Content != "msg 20" {
		t.Errorf("tail starts at %q", msgs[1].Content)
	}
}

func TestConsolidationTrigger(t *testing.T) {
	cfg := defaults()
	cfg.MemoryWindow = 2
	f := newFixture(t, cfg,
		text("answer", 1, 1),
		text("- [learned_fact] the user works on grip", 1, 1),
	)
	for i := 0; i < 5; i++ {
		f.sessions.Append("main", models.Message{Role: models.RoleUser, Content: fmt.Sprintf("old %d", i)})
	}

	if _, err := f.loop.Run(context.Background(), "trigger", "main", ""); err != nil {
		t.Fatal(err)
	}

	session, _ := f.sessions.GetOrCreate("main")
	if len(session.Messages) != 2 {
		t.Errorf("pruned session = %d messages, want 2", len(session.Messages))
	}
	if !strings.Contains(session.Summary, "the user works on grip") {
		t.Errorf("summary = %q", session.Summary)
	}
	if !strings.Contains(f.memory.ReadMemory(), "the user works on grip") {
		t.Error("facts not appended to memory file")
	}
}

func TestConsolidationFailureIsSwallowed(t *testing.T) {
	cfg := defaults()
	cfg.MemoryWindow = 1
	f := newFixture(t, cfg, text("answer", 1, 1))
	// Script is empty after the answer; the consolidation call gets the
	// fallback response, which contains no bullets. A provider error would
	// also be fine; either way the run must succeed.
	for i := 0; i < 4; i++ {
		f.sessions.Append("main", models.Message{Role: models.RoleUser, Content: "filler"})
	}

	result, err := f.loop.Run(context.Background(), "go", "main", "")
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "answer" {
		t.Errorf("response = %q", result.Response)
	}
}

func TestExplicitModelSkipsRouting(t *testing.T) {
	cfg := defaults()
	f := newFixture(t, cfg, text("ok", 1, 1))
	f.loop.routing = config.RoutingConfig{Enabled: true, Low: "tiny", High: "huge"}

	if _, err := f.loop.Run(context.Background(), "hi", "main", "forced-model"); err != nil {
		t.Fatal(err)
	}
	if got := f.provider.requests[0].Model; got != "forced-model" {
		t.Errorf("model = %q", got)
	}
}

func TestRoutingSelectsTierModel(t *testing.T) {
	cfg := defaults()
	f := newFixture(t, cfg, text("ok", 1, 1))
	f.loop.routing = config.RoutingConfig{Enabled: true, Low: "tiny"}

	if _, err := f.loop.Run(context.Background(), "hi", "main", ""); err != nil {
		t.Fatal(err)
	}
	if got := f.provider.requests[0].Model; got != "tiny" {
		t.Errorf("model = %q", got)
	}
}

func TestResetSessionDeletesEverything(t *testing.T) {
	f := newFixture(t, defaults(), text("ok", 1, 1))
	if _, err := f.loop.Run(context.Background(), "hi", "main", ""); err != nil {
		t.Fatal(err)
	}
	session, _ := f.sessions.GetOrCreate("main")
	session.Summary = "we discussed deployment"
	if err := f.sessions.Save(session); err != nil {
		t.Fatal(err)
	}

	if err := f.loop.ResetSession(context.Background(), "main"); err != nil {
		t.Fatal(err)
	}
	got, _ := f.sessions.GetOrCreate("main")
	if len(got.Messages) != 0 {
		t.Error("reset should clear messages")
	}
	if got.Summary != "" {
		t.Errorf("reset should drop the summary, got %q", got.Summary)
	}
}

func TestManualConsolidation(t *testing.T) {
	f := newFixture(t, defaults(), text("- [learned_fact] manual compact works", 1, 1))
	f.sessions.Append("main",
		models.Message{Role: models.RoleUser, Content: "remember the deploy steps"},
		models.Message{Role: models.RoleAssistant, Content: "noted"},
	)

	if err := f.loop.ConsolidateSession(context.Background(), "main"); err != nil {
		t.Fatal(err)
	}
	session, _ := f.sessions.GetOrCreate("main")
	if !strings.Contains(session.Summary, "manual compact works") {
		t.Errorf("summary = %q", session.Summary)
	}
}
