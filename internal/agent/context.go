package agent

import (
	"fmt"
	"strings"

	"github.com/grip-agent/grip/internal/memory"
	"github.com/grip-agent/grip/internal/memory/knowledge"
	"github.com/grip-agent/grip/internal/workspace"
)

// contextHits caps the retrieved snippets per source in the system prompt.
const contextHits = 5

// ContextBuilder assembles the system prompt from the workspace identity,
// the session summary, and retrieval over memory, history, and knowledge.
type ContextBuilder struct {
	Workspace *workspace.Workspace
	Memory    *memory.Manager
	Knowledge *knowledge.Base
}

// SystemPrompt builds the single system message for a run. The retrieval
// sections are scoped to the current user message.
func (b *ContextBuilder) SystemPrompt(userMessage, summary string) string {
	var sections []string

	if b.Workspace != nil && b.Workspace.Identity != "" {
		sections = append(sections, b.Workspace.Identity)
	}
	if b.Workspace != nil {
		if skills := b.Workspace.SkillSummaries(); skills != "" {
			sections = append(sections, "## Skills\n"+skills)
		}
	}
	if summary != "" {
		sections = append(sections, "## Conversation summary\n"+summary)
	}
	if relevant := b.relevantContext(userMessage); relevant != "" {
		sections = append(sections, relevant)
	}
	if len(sections) == 0 {
		return "You are a helpful assistant."
	}
	return strings.Join(sections, "\n\n")
}

func (b *ContextBuilder) relevantContext(userMessage string) string {
	var parts []string

	if b.Memory != nil {
		if hits := b.Memory.SearchMemory(userMessage, contextHits); len(hits) > 0 {
			parts = append(parts, formatHits("From memory:", hits))
		}
		if hits := b.Memory.SearchHistory(userMessage, contextHits); len(hits) > 0 {
			parts = append(parts, formatHits("From past conversations:", hits))
		}
	}
	if b.Knowledge != nil {
		if entries := b.Knowledge.Search(userMessage, ""); len(entries) > 0 {
			var sb strings.Builder
			sb.WriteString("From the knowledge base:")
			for i, entry := range entries {
				if i >= contextHits {
					break
				}
				fmt.Fprintf(&sb, "\n- [%s] %s", entry.Category, entry.Content)
			}
			parts = append(parts, sb.String())
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "## Relevant context\n" + strings.Join(parts, "\n\n")
}

func formatHits(heading string, hits []memory.SearchHit) string {
	var sb strings.Builder
	sb.WriteString(heading)
	for _, hit := range hits {
		sb.WriteString("\n")
		sb.WriteString(hit.Text)
	}
	return sb.String()
}
