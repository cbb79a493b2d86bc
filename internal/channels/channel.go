// Package channels connects chat platforms (Telegram, Discord, Slack) to
// the agent engine. Each channel maps a conversation to a session key and
// enforces its allow-list before any engine run.
package channels

import (
	"context"
	"log/slog"

	"github.com/grip-agent/grip/internal/agent"
)

// Channel is one connected chat platform.
type Channel interface {
	Name() string
	// Start connects and blocks handling messages until ctx is cancelled.
	Start(ctx context.Context) error
}

// Responder runs incoming messages through the engine and shapes the reply.
type Responder struct {
	Engine agent.Engine
	Logger *slog.Logger
}

// Respond executes one message. Engine failures come back as a short
// user-facing line; the channel never sees an error.
func (r *Responder) Respond(ctx context.Context, sessionKey, text string) string {
	result, err := r.Engine.Run(ctx, text, sessionKey, "")
	if err != nil {
		r.Logger.Error("channel run failed", "session", sessionKey, "error", err)
		return "Something went wrong handling that message. Try again in a moment."
	}
	if result.Response == "" {
		return "(no response)"
	}
	return result.Response
}

// allowed reports whether id passes the allow-list. An empty list allows
// nobody; channels with open access configure ["*"].
func allowed(allowList []string, ids ...string) bool {
	for _, entry := range allowList {
		if entry == "*" {
			return true
		}
		for _, id := range ids {
			if id != "" && entry == id {
				return true
			}
		}
	}
	return false
}
