package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/grip-agent/grip/internal/agent"
	"github.com/grip-agent/grip/internal/config"
)

// StepStatus is the lifecycle state of one step.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusRunning   StepStatus = "running"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
)

// StepResult records one step's outcome.
type StepResult struct {
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	Iterations  int        `json:"iterations"`
	StartedAt   time.Time  `json:"started_at,omitempty"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
	Duration    float64    `json:"duration_seconds"`
}

// RunStatus is the workflow-level outcome.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunPartial   RunStatus = "partial"
)

// RunResult is the outcome of one workflow execution.
type RunResult struct {
	Name      string       `json:"name"`
	Status    RunStatus    `json:"status"`
	Steps     []StepResult `json:"steps"`
	StartedAt time.Time    `json:"started_at"`
	Duration  float64      `json:"duration_seconds"`
}

// placeholderRe matches {{step_name.output}} references in step prompts.
var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z0-9_-]+)\.output\}\}`)

// Runner executes workflow definitions layer by layer against an engine.
type Runner struct {
	engine   agent.Engine
	profiles map[string]config.AgentProfile
	logger   *slog.Logger
}

// NewRunner builds a workflow runner. profiles supplies per-step model
// overrides and may be nil.
func NewRunner(engine agent.Engine, profiles map[string]config.AgentProfile, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{engine: engine, profiles: profiles, logger: logger.With("component", "workflow")}
}

// Run validates and executes a workflow. Steps in the same layer run
// concurrently; a failed step skips every transitive dependent.
func (r *Runner) Run(ctx context.Context, def *Definition) (*RunResult, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	layers, err := def.Layers()
	if err != nil {
		return nil, err
	}

	started := time.Now()
	results := make(map[string]*StepResult, len(def.Steps))
	for _, step := range def.Steps {
		results[step.Name] = &StepResult{Name: step.Name, Status: StatusPending}
	}

	var mu sync.Mutex
	for _, layer := range layers {
		group, groupCtx := errgroup.WithContext(ctx)
		for _, name := range layer {
			step, _ := def.Step(name)
			result := results[name]

			mu.Lock()
			blocked := r.dependencyBlocked(step, results)
			mu.Unlock()
			if blocked {
				mu.Lock()
				result.Status = StatusSkipped
				result.Error = "Skipped due to dependency failure"
				mu.Unlock()
				continue
			}

			group.Go(func() error {
				mu.Lock()
				prompt := interpolate(step.Prompt, results)
				result.Status = StatusRunning
				result.StartedAt = time.Now()
				mu.Unlock()

				output, iterations, runErr := r.runStep(groupCtx, step, prompt)

				mu.Lock()
				result.CompletedAt = time.Now()
				result.Duration = result.CompletedAt.Sub(result.StartedAt).Seconds()
				result.Iterations = iterations
				if runErr != nil {
					result.Status = StatusFailed
					result.Error = runErr.Error()
					r.logger.Warn("workflow step failed", "workflow", def.Name, "step", step.Name, "error", runErr)
				} else {
					result.Status = StatusCompleted
					result.Output = output
				}
				mu.Unlock()
				// Step failures are recorded, not propagated; the rest of the
				// layer keeps running.
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			break
		}
	}

	run := &RunResult{
		Name:      def.Name,
		StartedAt: started,
		Duration:  time.Since(started).Seconds(),
	}
	for _, step := range def.Steps {
		run.Steps = append(run.Steps, *results[step.Name])
	}
	run.Status = overallStatus(run.Steps)
	r.logger.Info("workflow finished", "workflow", def.Name, "status", run.Status, "duration", run.Duration)
	return run, nil
}

// dependencyBlocked reports whether any dependency did not complete.
func (r *Runner) dependencyBlocked(step *Step, results map[string]*StepResult) bool {
	for _, dep := range step.DependsOn {
		if result, ok := results[dep]; !ok || result.Status != StatusCompleted {
			return true
		}
	}
	return false
}

func (r *Runner) runStep(ctx context.Context, step *Step, prompt string) (string, int, error) {
	model := ""
	if profile, ok := r.profiles[step.Profile]; ok {
		model = profile.Model
	}

	runCtx := ctx
	if step.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	result, err := r.engine.Run(runCtx, prompt, "workflow:"+step.Name, model)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return "", 0, fmt.Errorf("Timed out after %ds", step.TimeoutSeconds)
		}
		return "", 0, err
	}
	return result.Response, result.Iterations, nil
}

// interpolate resolves {{step.output}} placeholders from completed steps.
// References to steps that have not completed are left untouched.
func interpolate(prompt string, results map[string]*StepResult) string {
	return placeholderRe.ReplaceAllStringFunc(prompt, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if result, ok := results[name]; ok && result.Status == StatusCompleted {
			return result.Output
		}
		return match
	})
}

func overallStatus(steps []StepResult) RunStatus {
	completed := 0
	failed := 0
	for _, step := range steps {
		switch step.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}
	switch {
	case completed == len(steps):
		return RunCompleted
	case failed > 0:
		return RunFailed
	default:
		return RunPartial
	}
}
