package agent

import (
	"regexp"
	"strings"

	"github.com/grip-agent/grip/internal/config"
	"github.com/grip-agent/grip/pkg/models"
)

// Complexity is the routed tier for a user message.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

var highComplexityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brefactor\b`),
	regexp.MustCompile(`(?i)\barchitect(ure|ural)?\b`),
	regexp.MustCompile(`(?i)\bdebug\b.*\bcomplex\b`),
	regexp.MustCompile(`(?i)\bmulti[- ]file\b`),
	regexp.MustCompile(`(?i)\bdistributed\b`),
	regexp.MustCompile(`(?i)\bconcurren(t|cy)\b`),
	regexp.MustCompile(`(?i)\brace condition\b`),
	regexp.MustCompile(`(?i)\bdesign\b.*\bsystem\b`),
	regexp.MustCompile(`(?i)\bmigrat(e|ion)\b.*\b(database|schema)\b`),
}

var simpleQueryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(hi|hello|hey|thanks|thank you)\b`),
	regexp.MustCompile(`(?i)\bwhat is\b`),
	regexp.MustCompile(`(?i)\bwhat'?s the\b`),
	regexp.MustCompile(`(?i)\bhow to\b`),
	regexp.MustCompile(`(?i)\bwrite a regex\b`),
	regexp.MustCompile(`(?i)^(list|show)\b`),
	regexp.MustCompile(`(?i)\bconvert\b.+\bto\b`),
	regexp.MustCompile(`(?i)^summari[sz]e\b`),
	regexp.MustCompile(`(?i)^explain\b`),
}

// Classify applies the rule-based complexity heuristics. No model call is
// made; the session contributes only its length and prior tool usage.
func Classify(message string, session *models.Session) Complexity {
	for _, pattern := range highComplexityPatterns {
		if pattern.MatchString(message) {
			return ComplexityHigh
		}
	}
	if len(message) < 200 {
		for _, pattern := range simpleQueryPatterns {
			if pattern.MatchString(message) {
				return ComplexityLow
			}
		}
	}
	if session != nil {
		toolCalls := 0
		for _, msg := range session.Messages {
			toolCalls += len(msg.ToolCalls)
		}
		if toolCalls > 10 || len(session.Messages) > 30 {
			return ComplexityHigh
		}
	}
	switch {
	case len(message) > 2000:
		return ComplexityHigh
	case strings.Contains(message, "```") || strings.Count(message, "\n") > 10:
		return ComplexityMedium
	case len(message) < 100:
		return ComplexityLow
	default:
		return ComplexityMedium
	}
}

// SelectModel maps a complexity tier to a configured model id, falling back
// to the default when the tier is unset.
func SelectModel(defaultModel string, routing config.RoutingConfig, complexity Complexity) string {
	tier := ""
	switch complexity {
	case ComplexityLow:
		tier = routing.Low
	case ComplexityMedium:
		tier = routing.Medium
	case ComplexityHigh:
		tier = routing.High
	}
	if tier != "" {
		return tier
	}
	return defaultModel
}
