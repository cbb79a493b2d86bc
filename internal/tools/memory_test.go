package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grip-agent/grip/internal/memory"
	"github.com/grip-agent/grip/internal/memory/knowledge"
)

func memoryFixture(t *testing.T) (*memory.Manager, *knowledge.Base) {
	t.Helper()
	dir := t.TempDir()
	mgr, err := memory.NewManager(memory.Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	base, err := knowledge.NewBase(filepath.Join(dir, "knowledge.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return mgr, base
}

func TestRememberWritesMemoryAndKnowledge(t *testing.T) {
	mgr, base := memoryFixture(t)
	tool := &RememberTool{Memory: mgr, Knowledge: base}

	out, err := tool.Execute(context.Background(),
		json.RawMessage(`{"content":"deploys happen on fridays","category":"project_decision"}`), &ToolContext{})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Remembered: deploys happen on fridays" {
		t.Errorf("output = %q", out)
	}
	if hits := mgr.SearchMemory("deploys fridays", 5); len(hits) == 0 {
		t.Error("fact not in memory")
	}
	if entries := base.Search("deploys", knowledge.CategoryDecision); len(entries) == 0 {
		t.Error("fact not in knowledge base")
	}
}

func TestRememberUnknownCategorySkipsKnowledge(t *testing.T) {
	mgr, base := memoryFixture(t)
	tool := &RememberTool{Memory: mgr, Knowledge: base}

	if _, err := tool.Execute(context.Background(),
		json.RawMessage(`{"content":"misc note","category":"scribble"}`), &ToolContext{}); err != nil {
		t.Fatal(err)
	}
	if entries := base.Search("misc", ""); len(entries) != 0 {
		t.Errorf("unexpected knowledge entries: %+v", entries)
	}
	if hits := mgr.SearchMemory("misc note", 5); len(hits) == 0 {
		t.Error("fact not in memory")
	}
}

func TestRememberRequiresContent(t *testing.T) {
	mgr, base := memoryFixture(t)
	tool := &RememberTool{Memory: mgr, Knowledge: base}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"content":"  "}`), &ToolContext{}); err == nil {
		t.Error("empty content accepted")
	}
}

func TestRecallAggregatesSources(t *testing.T) {
	mgr, base := memoryFixture(t)
	if err := mgr.AppendMemory("- prefers tabs over spaces"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.AppendHistory("discussed tabs in the linter meeting"); err != nil {
		t.Fatal(err)
	}
	if _, err := base.Add(knowledge.CategoryPreference, "tabs for indentation", "test", nil); err != nil {
		t.Fatal(err)
	}

	tool := &RecallTool{Memory: mgr, Knowledge: base}
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"tabs"}`), &ToolContext{})
	if err != nil {
		t.Fatal(err)
	}
	text, ok := out.(string)
	if !ok {
		t.Fatalf("output type %T", out)
	}
	for _, section := range []string{"Memory:", "History:", "Knowledge:"} {
		if !strings.Contains(text, section) {
			t.Errorf("missing %q in:\n%s", section, text)
		}
	}
}

func TestRecallNoMatches(t *testing.T) {
	mgr, base := memoryFixture(t)
	tool := &RecallTool{Memory: mgr, Knowledge: base}
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"zzz-nothing"}`), &ToolContext{})
	if err != nil {
		t.Fatal(err)
	}
	if out != "No matching memories found." {
		t.Errorf("output = %q", out)
	}
}
