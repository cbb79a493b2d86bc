// Package agent implements the LLM-and-tool iteration engine, the prompt
// complexity router, and the engine decorators for token tracking and
// pattern learning.
package agent

import (
	"context"

	"github.com/grip-agent/grip/pkg/models"
)

// Engine runs one user message to completion against a session.
//
// Decorators wrap an Engine and remain Engines themselves, so the outer
// surfaces never care how the stack is composed.
type Engine interface {
	// Run executes the message. model overrides routing when non-empty.
	Run(ctx context.Context, userMessage, sessionKey, model string) (*models.AgentResult, error)
	// ConsolidateSession extracts durable facts from the session into
	// long-term memory and prunes the transcript.
	ConsolidateSession(ctx context.Context, sessionKey string) error
	// ResetSession deletes the session, transcript and summary alike.
	ResetSession(ctx context.Context, sessionKey string) error
}
