package usage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestTracker(t *testing.T, limit int64) *Tracker {
	t.Helper()
	tr, err := NewTracker(filepath.Join(t.TempDir(), "usage.json"), limit, nil)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestAllowUnderLimit(t *testing.T) {
	tr := newTestTracker(t, 1000)
	if err := tr.Allow(500); err != nil {
		t.Errorf("unexpected rejection: %v", err)
	}
}

func TestAllowOverLimit(t *testing.T) {
	tr := newTestTracker(t, 1000)
	if err := tr.Record(900); err != nil {
		t.Fatal(err)
	}
	err := tr.Allow(200)
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitError, got %v", err)
	}
	if limitErr.Used != 900 || limitErr.Limit != 1000 {
		t.Errorf("used=%d limit=%d", limitErr.Used, limitErr.Limit)
	}
}

func TestZeroLimitDisablesEnforcement(t *testing.T) {
	tr := newTestTracker(t, 0)
	tr.Record(1 << 40)
	if err := tr.Allow(1 << 40); err != nil {
		t.Errorf("zero limit must not enforce: %v", err)
	}
}

func TestLedgerPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	tr, err := NewTracker(path, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	tr.Record(123)

	reloaded, err := NewTracker(path, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := reloaded.UsedToday(); got != 123 {
		t.Errorf("UsedToday = %d, want 123", got)
	}
}

func TestDaysRollOverAndPrune(t *testing.T) {
	tr := newTestTracker(t, 100)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }
	tr.Record(90)

	tr.now = func() time.Time { return base.AddDate(0, 0, 1) }
	if err := tr.Allow(90); err != nil {
		t.Errorf("new day should reset the budget: %v", err)
	}

	tr.now = func() time.Time { return base.AddDate(0, 0, 30) }
	tr.Record(1)
	tr.mu.Lock()
	_, oldKept := tr.days["2026-08-01"]
	tr.mu.Unlock()
	if oldKept {
		t.Error("stale days should be pruned")
	}
}
