// Package subagent tracks background agent tasks spawned by the main agent.
package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status of a subagent task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Info is the observable state of one subagent.
type Info struct {
	ID          string    `json:"id"`
	Task        string    `json:"task"`
	Status      Status    `json:"status"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// RunFunc is the work a subagent performs; the returned string becomes the
// subagent's result.
type RunFunc func(ctx context.Context) (string, error)

type task struct {
	info   Info
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager spawns and tracks subagents. Safe for concurrent use.
type Manager struct {
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

// NewManager builds an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger: logger.With("component", "subagent"),
		tasks:  make(map[string]*task),
	}
}

func newID() string {
	return "sub_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Spawn starts run in the background and returns its info immediately with
// status running.
func (m *Manager) Spawn(parent context.Context, description string, run RunFunc) Info {
	ctx, cancel := context.WithCancel(parent)
	t := &task{
		info: Info{
			ID:        newID(),
			Task:      description,
			Status:    StatusRunning,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	m.tasks[t.info.ID] = t
	m.mu.Unlock()
	m.logger.Info("spawned subagent", "id", t.info.ID, "task", description)

	go func() {
		defer close(t.done)
		defer cancel()
		result, err := func() (result string, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return run(ctx)
		}()

		m.mu.Lock()
		defer m.mu.Unlock()
		t.info.CompletedAt = time.Now().UTC()
		switch {
		case ctx.Err() == context.Canceled && err != nil:
			t.info.Status = StatusCancelled
			t.info.Error = "cancelled"
		case err != nil:
			t.info.Status = StatusFailed
			t.info.Error = err.Error()
		default:
			t.info.Status = StatusCompleted
			t.info.Result = result
		}
		m.logger.Info("subagent finished", "id", t.info.ID, "status", t.info.Status)
	}()

	return t.info
}

// Get returns the current info for id.
func (m *Manager) Get(id string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Info{}, false
	}
	return t.info, true
}

// List returns all subagents ordered by start time.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]Info, 0, len(m.tasks))
	for _, t := range m.tasks {
		infos = append(infos, t.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.Before(infos[j].StartedAt) })
	return infos
}

// Cancel cancels a running subagent. Finished subagents are left untouched.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("subagent %q not found", id)
	}
	running := t.info.Status == StatusRunning
	m.mu.Unlock()
	if running {
		t.cancel()
	}
	return nil
}

// CancelAll cancels every running subagent.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	var cancels []context.CancelFunc
	for _, t := range m.tasks {
		if t.info.Status == StatusRunning {
			cancels = append(cancels, t.cancel)
		}
	}
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Wait blocks until the subagent finishes or the context expires, returning
// the final info.
func (m *Manager) Wait(ctx context.Context, id string) (Info, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return Info{}, fmt.Errorf("subagent %q not found", id)
	}
	select {
	case <-t.done:
		return m.mustGet(id), nil
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
}

func (m *Manager) mustGet(id string) Info {
	info, _ := m.Get(id)
	return info
}
