package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/grip-agent/grip/internal/memory"
	"github.com/grip-agent/grip/internal/memory/knowledge"
)

type rememberArgs struct {
	Content  string   `json:"content" jsonschema:"description=The fact to remember"`
	Category string   `json:"category,omitempty" jsonschema:"description=One of user_preference project_decision error_pattern system_behavior learned_fact"`
	Tags     []string `json:"tags,omitempty" jsonschema:"description=Optional tags for later retrieval"`
}

// RememberTool writes a durable fact to long-term memory. Facts with a known
// knowledge category are additionally indexed in the knowledge base.
type RememberTool struct {
	Memory    *memory.Manager
	Knowledge *knowledge.Base
}

func (t *RememberTool) Name() string { return "remember" }
func (t *RememberTool) Description() string {
	return "Save a durable fact to long-term memory so it survives across sessions"
}
func (t *RememberTool) Category() string        { return "memory" }
func (t *RememberTool) Schema() json.RawMessage { return SchemaFor(&rememberArgs{}) }

func (t *RememberTool) Execute(ctx context.Context, args json.RawMessage, tc *ToolContext) (any, error) {
	var in rememberArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("content is required")
	}
	category := in.Category
	if category == "" {
		category = knowledge.CategoryFact
	}
	line := fmt.Sprintf("- [%s] %s", category, strings.TrimSpace(in.Content))
	if err := t.Memory.AppendMemory(line); err != nil {
		return nil, err
	}
	if t.Knowledge != nil && knowledge.ValidCategory(category) {
		if _, err := t.Knowledge.Add(category, in.Content, "remember tool", in.Tags); err != nil {
			return nil, err
		}
	}
	return fmt.Sprintf("Remembered: %s", strings.TrimSpace(in.Content)), nil
}

type recallArgs struct {
	Query string `json:"query" jsonschema:"description=What to look up in memory"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum results per source (default 5)"`
}

// RecallTool searches memory, history, and the knowledge base.
type RecallTool struct {
	Memory    *memory.Manager
	Knowledge *knowledge.Base
}

func (t *RecallTool) Name() string { return "recall" }
func (t *RecallTool) Description() string {
	return "Search long-term memory, conversation history, and the knowledge base"
}
func (t *RecallTool) Category() string        { return "memory" }
func (t *RecallTool) Schema() json.RawMessage { return SchemaFor(&recallArgs{}) }

func (t *RecallTool) Execute(ctx context.Context, args json.RawMessage, tc *ToolContext) (any, error) {
	var in recallArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 5
	}

	var b strings.Builder
	if hits := t.Memory.SearchMemory(in.Query, limit); len(hits) > 0 {
		b.WriteString("Memory:\n")
		for _, hit := range hits {
			fmt.Fprintf(&b, "%s\n", hit.Text)
		}
	}
	if hits := t.Memory.SearchHistory(in.Query, limit); len(hits) > 0 {
		b.WriteString("History:\n")
		for _, hit := range hits {
			fmt.Fprintf(&b, "%s\n", hit.Text)
		}
	}
	if t.Knowledge != nil {
		if entries := t.Knowledge.Search(in.Query, ""); len(entries) > 0 {
			b.WriteString("Knowledge:\n")
			for i, entry := range entries {
				if i >= limit {
					break
				}
				fmt.Fprintf(&b, "- [%s] %s\n", entry.Category, entry.Content)
			}
		}
	}
	if b.Len() == 0 {
		return "No matching memories found.", nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
