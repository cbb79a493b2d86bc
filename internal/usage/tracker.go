// Package usage tracks per-day token consumption with a hard daily cap.
package usage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/grip-agent/grip/internal/config"
)

// LimitError reports a rejected run. It is raised before the provider call
// and never retried.
type LimitError struct {
	Used  int64
	Limit int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("daily token limit exceeded: used %d of %d", e.Used, e.Limit)
}

// Tracker accounts tokens per UTC day and persists the ledger to disk.
// Limit <= 0 disables enforcement. Safe for concurrent use.
type Tracker struct {
	path   string
	limit  int64
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	days map[string]int64
}

// NewTracker loads the ledger at path. Days older than a week are pruned.
func NewTracker(path string, limit int64, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		path:   path,
		limit:  limit,
		logger: logger.With("component", "usage"),
		now:    func() time.Time { return time.Now().UTC() },
		days:   make(map[string]int64),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("read usage ledger: %w", err)
	}
	if err := json.Unmarshal(data, &t.days); err != nil {
		t.logger.Warn("usage ledger corrupt, starting empty", "path", path)
		t.days = make(map[string]int64)
	}
	t.pruneLocked()
	return t, nil
}

func (t *Tracker) dayKey() string { return t.now().Format("2006-01-02") }

func (t *Tracker) pruneLocked() {
	cutoff := t.now().AddDate(0, 0, -7).Format("2006-01-02")
	for day := range t.days {
		if day < cutoff {
			delete(t.days, day)
		}
	}
}

// UsedToday returns tokens consumed on the current UTC day.
func (t *Tracker) UsedToday() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.days[t.dayKey()]
}

// Allow reports whether spending estimate more tokens stays within the daily
// limit, returning a *LimitError when it would not.
func (t *Tracker) Allow(estimate int64) error {
	if t.limit <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	used := t.days[t.dayKey()]
	if used+estimate > t.limit {
		return &LimitError{Used: used, Limit: t.limit}
	}
	return nil
}

// Record adds tokens to the current day and persists the ledger.
func (t *Tracker) Record(tokens int64) error {
	if tokens <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.days[t.dayKey()] += tokens
	t.pruneLocked()
	data, err := json.MarshalIndent(t.days, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(t.path, data, 0o644)
}

// EstimateTokens counts tokens for text under the model's encoding, falling
// back to a bytes/4 heuristic when the encoding is unavailable (offline).
func EstimateTokens(text, model string) int64 {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		return int64(len(text) / 4)
	}
	return int64(len(enc.Encode(text, nil, nil)))
}
