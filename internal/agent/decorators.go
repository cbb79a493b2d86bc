package agent

import (
	"context"
	"log/slog"

	"github.com/grip-agent/grip/internal/learning"
	"github.com/grip-agent/grip/internal/memory/knowledge"
	"github.com/grip-agent/grip/internal/usage"
	"github.com/grip-agent/grip/pkg/models"
)

// TrackedEngine enforces the daily token budget around an inner engine.
// When the budget is exhausted the inner engine is never invoked.
type TrackedEngine struct {
	inner   Engine
	tracker *usage.Tracker
	logger  *slog.Logger
}

// NewTrackedEngine wraps inner with token accounting.
func NewTrackedEngine(inner Engine, tracker *usage.Tracker, logger *slog.Logger) *TrackedEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrackedEngine{inner: inner, tracker: tracker, logger: logger.With("component", "usage")}
}

var _ Engine = (*TrackedEngine)(nil)

func (e *TrackedEngine) Run(ctx context.Context, userMessage, sessionKey, model string) (*models.AgentResult, error) {
	estimate := usage.EstimateTokens(userMessage, model)
	if err := e.tracker.Allow(estimate); err != nil {
		return nil, err
	}
	result, err := e.inner.Run(ctx, userMessage, sessionKey, model)
	if err != nil {
		return nil, err
	}
	spent := int64(result.PromptTokens + result.CompletionTokens)
	if recordErr := e.tracker.Record(spent); recordErr != nil {
		e.logger.Warn("recording token usage failed", "error", recordErr)
	}
	return result, nil
}

func (e *TrackedEngine) ConsolidateSession(ctx context.Context, sessionKey string) error {
	return e.inner.ConsolidateSession(ctx, sessionKey)
}

func (e *TrackedEngine) ResetSession(ctx context.Context, sessionKey string) error {
	return e.inner.ResetSession(ctx, sessionKey)
}

// LearningEngine extracts knowledge patterns from successful runs. Failures
// in extraction or persistence never affect the caller's result.
type LearningEngine struct {
	inner     Engine
	extractor *learning.Extractor
	base      *knowledge.Base
	logger    *slog.Logger
}

// NewLearningEngine wraps inner with pattern extraction.
func NewLearningEngine(inner Engine, extractor *learning.Extractor, base *knowledge.Base, logger *slog.Logger) *LearningEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &LearningEngine{inner: inner, extractor: extractor, base: base, logger: logger.With("component", "learning")}
}

var _ Engine = (*LearningEngine)(nil)

func (e *LearningEngine) Run(ctx context.Context, userMessage, sessionKey, model string) (*models.AgentResult, error) {
	result, err := e.inner.Run(ctx, userMessage, sessionKey, model)
	if err != nil {
		return nil, err
	}
	patterns := e.extractor.Extract(learning.Interaction{
		UserMessage:   userMessage,
		Response:      result.Response,
		ToolCallsMade: result.ToolCallsMade,
	})
	if len(patterns) > 0 {
		e.extractor.Persist(e.base, patterns)
		e.logger.Debug("persisted learned patterns", "count", len(patterns))
	}
	return result, nil
}

func (e *LearningEngine) ConsolidateSession(ctx context.Context, sessionKey string) error {
	return e.inner.ConsolidateSession(ctx, sessionKey)
}

func (e *LearningEngine) ResetSession(ctx context.Context, sessionKey string) error {
	return e.inner.ResetSession(ctx, sessionKey)
}
