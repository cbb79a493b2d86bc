// Package models defines the shared data records exchanged between the agent
// engine, providers, session storage, and the external surfaces (CLI, gateway,
// channels, cron).
package models

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation transcript.
//
// An assistant message that carries ToolCalls has no final text; a tool
// message carries exactly one tool's result bound to ToolCallID. The engine
// guarantees that every tool call id emitted by the assistant appears exactly
// once as a matching tool message before the next provider call.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a tool invocation requested by the assistant.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ArgumentsMap decodes the call arguments into a map. Providers sometimes
// deliver arguments as a JSON-encoded string rather than an object; both
// forms are accepted.
func (tc ToolCall) ArgumentsMap() map[string]any {
	args := map[string]any{}
	if len(tc.Arguments) == 0 {
		return args
	}
	if err := json.Unmarshal(tc.Arguments, &args); err == nil {
		return args
	}
	// Double-encoded string form.
	var s string
	if err := json.Unmarshal(tc.Arguments, &s); err == nil {
		_ = json.Unmarshal([]byte(s), &args)
	}
	return args
}

// Usage is the token accounting for one provider call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// LLMResponse is a single completed provider response.
//
// In normal flow exactly one of Content or ToolCalls is populated; both
// empty means the model finished with an empty answer.
type LLMResponse struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
	Reasoning string     `json:"reasoning,omitempty"`
}

// HasToolCalls reports whether the model requested tool execution.
func (r *LLMResponse) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// ToolDetail records one tool execution for observability.
type ToolDetail struct {
	Name          string `json:"name"`
	Success       bool   `json:"success"`
	DurationMS    int64  `json:"duration_ms"`
	OutputPreview string `json:"output_preview"`
}

// OutputPreviewLen caps the tool output preview stored in run results.
const OutputPreviewLen = 120

// Preview truncates s to the preview length, never splitting a rune.
func Preview(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= OutputPreviewLen {
		return s
	}
	cut := OutputPreviewLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// AgentResult is the outcome of a full engine run.
type AgentResult struct {
	Response         string       `json:"response"`
	Iterations       int          `json:"iterations"`
	PromptTokens     int          `json:"prompt_tokens"`
	CompletionTokens int          `json:"completion_tokens"`
	ToolCallsMade    []string     `json:"tool_calls_made,omitempty"`
	ToolDetails      []ToolDetail `json:"tool_details,omitempty"`
}
