// Package learning mines durable patterns from completed interactions and
// files them into the knowledge base.
package learning

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/grip-agent/grip/internal/memory/knowledge"
)

// Pattern is one mined observation ready for the knowledge base.
type Pattern struct {
	Category string
	Content  string
	Tags     []string
}

// Interaction is the post-run record fed to the extractor.
type Interaction struct {
	UserMessage   string
	Response      string
	ToolCallsMade []string
}

var (
	preferenceRe = regexp.MustCompile(`(?i)\b(i prefer|i like|i want|i always|i never|please always|please never|call me|my name is)\b`)
	decisionRe   = regexp.MustCompile(`(?i)\b(we decided|we chose|let's go with|we will use|going with|decided to use)\b`)
	errorRe      = regexp.MustCompile(`(?i)^error[:\s]|\berror executing\b|\bfailed\b`)
)

// Extractor applies fixed rules to interactions. No model calls are made.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor builds an extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger.With("component", "learning")}
}

// Extract mines patterns from one interaction. Rules:
//
//   - user sentences matching preference phrasing become user_preference
//   - user sentences matching decision phrasing become project_decision
//   - an error-looking response paired with tool calls becomes error_pattern
//   - three or more tool calls in one run become system_behavior
func (e *Extractor) Extract(in Interaction) []Pattern {
	var patterns []Pattern

	for _, sentence := range splitSentences(in.UserMessage) {
		switch {
		case preferenceRe.MatchString(sentence):
			patterns = append(patterns, Pattern{
				Category: knowledge.CategoryPreference,
				Content:  sentence,
				Tags:     []string{"auto"},
			})
		case decisionRe.MatchString(sentence):
			patterns = append(patterns, Pattern{
				Category: knowledge.CategoryDecision,
				Content:  sentence,
				Tags:     []string{"auto"},
			})
		}
	}

	if len(in.ToolCallsMade) > 0 && errorRe.MatchString(strings.TrimSpace(in.Response)) {
		patterns = append(patterns, Pattern{
			Category: knowledge.CategoryErrorPattern,
			Content:  fmt.Sprintf("tools %s produced: %s", strings.Join(dedupe(in.ToolCallsMade), ","), firstLine(in.Response)),
			Tags:     []string{"auto", "error"},
		})
	}

	if tools := dedupe(in.ToolCallsMade); len(tools) >= 3 {
		patterns = append(patterns, Pattern{
			Category: knowledge.CategoryBehavior,
			Content:  fmt.Sprintf("request %q required tools: %s", firstLine(in.UserMessage), strings.Join(tools, ", ")),
			Tags:     []string{"auto", "tools"},
		})
	}

	return patterns
}

// Persist writes patterns into the knowledge base. Failures are logged and
// swallowed so learning never affects the caller.
func (e *Extractor) Persist(base *knowledge.Base, patterns []Pattern) {
	for _, p := range patterns {
		if _, err := base.Add(p.Category, p.Content, "learning", p.Tags); err != nil {
			e.logger.Warn("failed to persist learned pattern", "category", p.Category, "error", err)
		}
	}
}

func splitSentences(text string) []string {
	var out []string
	for _, raw := range regexp.MustCompile(`[.!?\n]+`).Split(text, -1) {
		s := strings.TrimSpace(raw)
		if len(s) > 8 {
			out = append(out, s)
		}
	}
	return out
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx > 0 {
		text = text[:idx]
	}
	if len(text) > 120 {
		text = text[:120] + "..."
	}
	return text
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
