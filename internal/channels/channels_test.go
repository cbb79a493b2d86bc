package channels

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/grip-agent/grip/pkg/models"
)

type fakeEngine struct {
	response string
	err      error
	session  string
}

func (e *fakeEngine) Run(ctx context.Context, userMessage, sessionKey, model string) (*models.AgentResult, error) {
	e.session = sessionKey
	if e.err != nil {
		return nil, e.err
	}
	return &models.AgentResult{Response: e.response}, nil
}

func (e *fakeEngine) ConsolidateSession(ctx context.Context, sessionKey string) error { return nil }
func (e *fakeEngine) ResetSession(ctx context.Context, sessionKey string) error      { return nil }

func TestAllowed(t *testing.T) {
	tests := []struct {
		name string
		list []string
		ids  []string
		want bool
	}{
		{"empty list denies", nil, []string{"123"}, false},
		{"wildcard allows anyone", []string{"*"}, []string{"anyone"}, true},
		{"listed id", []string{"123", "456"}, []string{"456"}, true},
		{"listed username", []string{"alice"}, []string{"999", "alice"}, true},
		{"unlisted", []string{"123"}, []string{"789"}, false},
		{"empty id never matches", []string{""}, []string{""}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := allowed(tt.list, tt.ids...); got != tt.want {
				t.Errorf("allowed(%v, %v) = %v, want %v", tt.list, tt.ids, got, tt.want)
			}
		})
	}
}

func TestResponderReturnsEngineResponse(t *testing.T) {
	engine := &fakeEngine{response: "hello there"}
	responder := &Responder{Engine: engine, Logger: slog.Default()}

	got := responder.Respond(context.Background(), "telegram:42", "hi")
	if got != "hello there" {
		t.Errorf("Respond = %q", got)
	}
	if engine.session != "telegram:42" {
		t.Errorf("session = %q", engine.session)
	}
}

func TestResponderMasksEngineFailure(t *testing.T) {
	engine := &fakeEngine{err: errors.New("provider down")}
	responder := &Responder{Engine: engine, Logger: slog.Default()}

	got := responder.Respond(context.Background(), "discord:1", "hi")
	if got != "Something went wrong handling that message. Try again in a moment." {
		t.Errorf("Respond = %q", got)
	}
}

func TestResponderEmptyResponse(t *testing.T) {
	responder := &Responder{Engine: &fakeEngine{}, Logger: slog.Default()}
	if got := responder.Respond(context.Background(), "slack:D1", "hi"); got != "(no response)" {
		t.Errorf("Respond = %q", got)
	}
}
