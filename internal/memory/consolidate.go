package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/grip-agent/grip/internal/providers"
	"github.com/grip-agent/grip/pkg/models"
)

const consolidationInstruction = `You are a memory consolidation assistant. Read the conversation transcript below and extract only durable facts worth remembering long term: user preferences, decisions made, important context about the user or their projects, and lessons learned. Ignore small talk and transient details.

Respond with a bullet list, one fact per line, each starting with "- ". If a fact fits a category, tag it like "- [preference] ...". If there is nothing worth remembering, respond with exactly "NONE".`

// Consolidate summarizes old session messages into durable facts. The facts
// are appended to MEMORY.md under a dated heading, a one-line topic summary
// goes to HISTORY.md, and the fact block is returned for use as the session
// summary.
func (m *Manager) Consolidate(ctx context.Context, oldMessages []models.Message, provider providers.Provider, model string) (string, error) {
	if len(oldMessages) == 0 {
		return "", nil
	}

	var transcript strings.Builder
	for _, msg := range oldMessages {
		if msg.Content == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, msg.Content)
	}

	resp, err := provider.Chat(ctx, &providers.ChatRequest{
		Model: model,
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: consolidationInstruction},
			{Role: models.RoleUser, Content: transcript.String()},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", fmt.Errorf("consolidation call: %w", err)
	}

	facts := parseFactBullets(resp.Content)
	if facts == "" {
		m.logger.Debug("consolidation produced no durable facts")
		return "", nil
	}

	heading := fmt.Sprintf("\n## Consolidated %s\n", m.now().Format("2006-01-02"))
	if err := m.AppendMemory(heading + facts); err != nil {
		return "", err
	}
	if summary := summarizeTopics(oldMessages); summary != "" {
		if err := m.AppendHistory("Consolidated session covering: " + summary); err != nil {
			return "", err
		}
	}
	m.logger.Debug("consolidated session messages", "messages", len(oldMessages), "model", model)
	return facts, nil
}

// parseFactBullets keeps only bullet lines from the model output.
func parseFactBullets(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.EqualFold(trimmed, "NONE") {
		return ""
	}
	var bullets []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
			bullets = append(bullets, "- "+strings.TrimSpace(line[2:]))
		}
	}
	return strings.Join(bullets, "\n")
}

// summarizeTopics lists up to 5 truncated user-message topics.
func summarizeTopics(msgs []models.Message) string {
	var topics []string
	for _, msg := range msgs {
		if msg.Role != models.RoleUser || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		topic := strings.TrimSpace(msg.Content)
		if idx := strings.IndexByte(topic, '\n'); idx > 0 {
			topic = topic[:idx]
		}
		if len(topic) > 60 {
			topic = topic[:60] + "..."
		}
		topics = append(topics, topic)
		if len(topics) == 5 {
			break
		}
	}
	return strings.Join(topics, "; ")
}
