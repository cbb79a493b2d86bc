// Package tools defines the tool contract, the name-indexed registry that
// dispatches LLM tool calls, and the built-in tool implementations.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/grip-agent/grip/internal/trust"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Category groups tools for manifest generation ("filesystem", "system",
	// "web", "memory", "agent", "mcp").
	Category() string
	// Schema returns the JSON Schema of the tool's arguments object.
	Schema() json.RawMessage
	// Execute runs the tool. String results pass through the registry
	// untouched; any other value is serialized to indented JSON.
	Execute(ctx context.Context, args json.RawMessage, tc *ToolContext) (any, error)
}

// ToolContext is the per-run context handed to every tool execution.
type ToolContext struct {
	WorkspacePath       string
	RestrictToWorkspace bool
	ShellTimeout        time.Duration
	SessionKey          string

	// Optional handles.
	DryRun          bool
	Trust           *trust.Manager
	WebSearchAPIKey string
	WebSearchEngine string
	Extra           map[string]any
}

// SchemaFor reflects a JSON Schema from an argument struct. The result is an
// inline object schema suitable for OpenAI function definitions.
func SchemaFor(v any) json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
