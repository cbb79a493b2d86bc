// Package cron runs configured scheduled prompts through the agent engine.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/grip-agent/grip/internal/agent"
	"github.com/grip-agent/grip/internal/config"
)

// cronParser supports both standard (5-field) and extended (6-field with seconds) cron expressions.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ValidateSchedule reports whether expr is a parseable cron expression.
func ValidateSchedule(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("schedule is required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// Scheduler drives configured cron jobs against the engine. Each job runs
// in its own session keyed by job name, so recurring jobs accumulate
// context across runs.
type Scheduler struct {
	cfg    config.CronConfig
	engine agent.Engine
	logger *slog.Logger
	cron   *cron.Cron
}

// NewScheduler builds a scheduler from config. Jobs with invalid schedules
// are rejected up front.
func NewScheduler(cfg config.CronConfig, engine agent.Engine, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cfg:    cfg,
		engine: engine,
		logger: logger.With("component", "cron"),
		cron:   cron.New(cron.WithParser(cronParser)),
	}
	for _, job := range cfg.Jobs {
		if job.Name == "" {
			return nil, fmt.Errorf("cron job without a name")
		}
		if job.Prompt == "" {
			return nil, fmt.Errorf("cron job %s has no prompt", job.Name)
		}
		if err := ValidateSchedule(job.Schedule); err != nil {
			return nil, fmt.Errorf("cron job %s: %w", job.Name, err)
		}
		job := job
		if _, err := s.cron.AddFunc(job.Schedule, func() { s.runJob(job) }); err != nil {
			return nil, fmt.Errorf("cron job %s: %w", job.Name, err)
		}
	}
	return s, nil
}

// Start begins scheduling and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.cfg.Jobs) == 0 {
		s.logger.Info("no cron jobs configured")
		<-ctx.Done()
		return nil
	}
	s.cron.Start()
	s.logger.Info("cron scheduler started", "jobs", len(s.cfg.Jobs))
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	return nil
}

func (s *Scheduler) runJob(job config.CronJob) {
	start := time.Now()
	s.logger.Info("cron job starting", "job", job.Name)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := s.engine.Run(ctx, job.Prompt, "cron:"+job.Name, job.Model)
	if err != nil {
		s.logger.Error("cron job failed", "job", job.Name, "error", err)
		return
	}
	s.logger.Info("cron job finished",
		"job", job.Name,
		"duration", time.Since(start).Round(time.Millisecond),
		"iterations", result.Iterations)
}
