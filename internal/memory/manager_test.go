package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grip-agent/grip/internal/providers"
	"github.com/grip-agent/grip/pkg/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestTokenize(t *testing.T) {
	got := tokenize("The User prefers dark-mode, and go_lang too! ab")
	want := []string{"user", "prefers", "dark", "mode", "go_lang", "too"}
	if len(got) != len(want) {
		t.Fatalf("tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAppendMemoryNewlineDiscipline(t *testing.T) {
	m := newTestManager(t)
	if err := m.AppendMemory("- [preference] dark mode"); err != nil {
		t.Fatal(err)
	}
	if err := m.AppendMemory("- [fact] lives in Lisbon"); err != nil {
		t.Fatal(err)
	}
	content := m.ReadMemory()
	if strings.Contains(content, "\n\n-") {
		t.Errorf("unexpected blank line between entries:\n%s", content)
	}
	if !strings.HasSuffix(content, "Lisbon\n") || strings.HasSuffix(content, "\n\n") {
		t.Errorf("expected single trailing newline:\n%q", content)
	}
}

func TestSearchMemoryTFIDF(t *testing.T) {
	m := newTestManager(t)
	m.AppendMemory("- [preference] User prefers dark mode")
	m.AppendMemory("- [fact] User works on compiler internals")
	m.AppendMemory("- [fact] Lunch order history shows pizza")

	hits := m.SearchMemory("what mode does the user prefer", 5)
	if len(hits) == 0 {
		t.Fatal("expected hits")
	}
	if !strings.Contains(hits[0].Text, "dark mode") {
		t.Errorf("top hit = %q", hits[0].Text)
	}
}

func TestSearchSingleTokenFallsBackToSubstring(t *testing.T) {
	m := newTestManager(t)
	m.AppendMemory("- [fact] Project uses PostgreSQL")
	hits := m.SearchMemory("postgresql", 5)
	if len(hits) != 1 || hits[0].Score != 1 {
		t.Errorf("expected substring hit, got %+v", hits)
	}
}

func TestHistoryDecayRanksNewerFirst(t *testing.T) {
	m := newTestManager(t)
	m.decayRate = 0.1
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	m.now = func() time.Time { return base.AddDate(0, 0, -10) }
	if err := m.AppendHistory("discussed workflow engine design details"); err != nil {
		t.Fatal(err)
	}
	m.now = func() time.Time { return base }
	if err := m.AppendHistory("discussed workflow engine design details"); err != nil {
		t.Fatal(err)
	}

	hits := m.SearchHistory("workflow engine design", 5)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	newer, _ := parseHistoryTimestamp(hits[0].Text)
	older, _ := parseHistoryTimestamp(hits[1].Text)
	if !newer.After(older) {
		t.Errorf("newer entry should rank first: %v vs %v", newer, older)
	}
}

func TestHistoryRotation(t *testing.T) {
	m := newTestManager(t)
	m.rotateBytes = 200
	for i := 0; i < 10; i++ {
		if err := m.AppendHistory("a reasonably sized summary line for rotation"); err != nil {
			t.Fatal(err)
		}
	}
	archives, _ := filepath.Glob(filepath.Join(m.dir, "HISTORY.archive.*.md"))
	if len(archives) == 0 {
		t.Fatal("expected at least one archive")
	}
	data, _ := os.ReadFile(m.historyPath())
	if len(data) == 0 {
		t.Fatal("history should keep a tail")
	}

	// Archived lines stay searchable.
	hits := m.SearchHistory("reasonably sized summary line rotation", 20)
	if len(hits) < 5 {
		t.Errorf("expected archived lines in search, got %d hits", len(hits))
	}
}

func TestCompactDropsNearDuplicates(t *testing.T) {
	m := newTestManager(t)
	m.AppendMemory("- [preference] User prefers dark mode in the editor")
	m.AppendMemory("- [preference] User prefers dark mode in the editor always")
	m.AppendMemory("- [fact] Deploys happen on Fridays")

	dropped, err := m.Compact(0.7)
	if err != nil {
		t.Fatal(err)
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", dropped)
	}
	content := m.ReadMemory()
	if !strings.Contains(content, "dark mode in the editor\n") {
		t.Error("first occurrence should be preserved")
	}
	if !strings.Contains(content, "Fridays") {
		t.Error("distinct entry should survive")
	}
}

func TestMemoryStats(t *testing.T) {
	m := newTestManager(t)
	m.AppendMemory("- [preference] dark mode")
	m.AppendMemory("- [preference] vim keybindings")
	m.AppendMemory("- [fact] timezone is UTC")
	m.AppendMemory("## Heading, not an entry")

	stats := m.MemoryStats()
	if stats.TotalEntries != 3 {
		t.Errorf("TotalEntries = %d, want 3", stats.TotalEntries)
	}
	if stats.CategoryCounts["preference"] != 2 || stats.CategoryCounts["fact"] != 1 {
		t.Errorf("CategoryCounts = %v", stats.CategoryCounts)
	}
	if stats.SizeBytes == 0 {
		t.Error("SizeBytes should be non-zero")
	}
}

type scriptedProvider struct {
	response string
	lastReq  *providers.ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, req *providers.ChatRequest) (*models.LLMResponse, error) {
	p.lastReq = req
	return &models.LLMResponse{Content: p.response}, nil
}

func TestConsolidate(t *testing.T) {
	m := newTestManager(t)
	provider := &scriptedProvider{response: "- [preference] User prefers dark mode\n- User deploys on Fridays\nnot a bullet"}

	msgs := []models.Message{
		{Role: models.RoleUser, Content: "please remember I like dark mode"},
		{Role: models.RoleAssistant, Content: "noted"},
		{Role: models.RoleUser, Content: "deploys happen on fridays"},
	}
	facts, err := m.Consolidate(context.Background(), msgs, provider, "gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(facts, "dark mode") || strings.Contains(facts, "not a bullet") {
		t.Errorf("facts = %q", facts)
	}
	if provider.lastReq.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", provider.lastReq.Model)
	}

	content := m.ReadMemory()
	if !strings.Contains(content, "## Consolidated") || !strings.Contains(content, "dark mode") {
		t.Errorf("MEMORY.md missing consolidated facts:\n%s", content)
	}
	history, _ := os.ReadFile(m.historyPath())
	if !strings.Contains(string(history), "dark mode") {
		t.Errorf("HISTORY.md missing topic summary:\n%s", history)
	}
}

func TestConsolidateNone(t *testing.T) {
	m := newTestManager(t)
	provider := &scriptedProvider{response: "NONE"}
	facts, err := m.Consolidate(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "hi"},
	}, provider, "m")
	if err != nil {
		t.Fatal(err)
	}
	if facts != "" {
		t.Errorf("expected empty facts, got %q", facts)
	}
	if m.ReadMemory() != "" {
		t.Error("MEMORY.md should stay empty")
	}
}
