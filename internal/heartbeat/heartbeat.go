// Package heartbeat periodically wakes the agent with a standing prompt so
// it can check on long-running work without a user message.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/grip-agent/grip/internal/agent"
	"github.com/grip-agent/grip/internal/config"
	"github.com/grip-agent/grip/pkg/models"
)

const (
	defaultInterval = 30 * time.Minute
	defaultPrompt   = "Heartbeat check-in. Review your pending work and memory for anything that needs attention. If nothing needs doing, reply with a single short status line."

	sessionKey = "heartbeat:main"
)

// Beater runs the heartbeat prompt on a fixed interval.
type Beater struct {
	cfg    config.HeartbeatConfig
	engine agent.Engine
	logger *slog.Logger
}

// New builds a Beater. It is inert when the config disables it.
func New(cfg config.HeartbeatConfig, engine agent.Engine, logger *slog.Logger) *Beater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Beater{
		cfg:    cfg,
		engine: engine,
		logger: logger.With("component", "heartbeat"),
	}
}

func (b *Beater) interval() time.Duration {
	if b.cfg.IntervalMinutes > 0 {
		return time.Duration(b.cfg.IntervalMinutes) * time.Minute
	}
	return defaultInterval
}

func (b *Beater) prompt() string {
	if b.cfg.Prompt != "" {
		return b.cfg.Prompt
	}
	return defaultPrompt
}

// Start ticks until ctx is cancelled. The first beat fires after one full
// interval, not at startup.
func (b *Beater) Start(ctx context.Context) error {
	if !b.cfg.Enabled {
		<-ctx.Done()
		return nil
	}
	interval := b.interval()
	b.logger.Info("heartbeat started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.Beat(ctx)
		}
	}
}

// Beat runs one heartbeat prompt. Failures are logged, never fatal.
func (b *Beater) Beat(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	result, err := b.engine.Run(runCtx, b.prompt(), sessionKey, "")
	if err != nil {
		b.logger.Error("heartbeat run failed", "error", err)
		return
	}
	b.logger.Info("heartbeat finished", "iterations", result.Iterations, "response", models.Preview(result.Response))
}
