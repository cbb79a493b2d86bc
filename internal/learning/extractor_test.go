package learning

import (
	"path/filepath"
	"testing"

	"github.com/grip-agent/grip/internal/memory/knowledge"
)

func TestExtractPreference(t *testing.T) {
	e := NewExtractor(nil)
	patterns := e.Extract(Interaction{
		UserMessage: "I prefer tabs over spaces. Also what time is it?",
		Response:    "Noted.",
	})
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d: %+v", len(patterns), patterns)
	}
	if patterns[0].Category != knowledge.CategoryPreference {
		t.Errorf("category = %s", patterns[0].Category)
	}
}

func TestExtractDecision(t *testing.T) {
	e := NewExtractor(nil)
	patterns := e.Extract(Interaction{
		UserMessage: "We decided to use postgres for the new service",
	})
	if len(patterns) != 1 || patterns[0].Category != knowledge.CategoryDecision {
		t.Errorf("patterns = %+v", patterns)
	}
}

func TestExtractErrorPattern(t *testing.T) {
	e := NewExtractor(nil)
	patterns := e.Extract(Interaction{
		UserMessage:   "run the build",
		Response:      "Error: compilation failed in main.go",
		ToolCallsMade: []string{"shell"},
	})
	if len(patterns) != 1 || patterns[0].Category != knowledge.CategoryErrorPattern {
		t.Fatalf("patterns = %+v", patterns)
	}
}

func TestExtractToolBehavior(t *testing.T) {
	e := NewExtractor(nil)
	patterns := e.Extract(Interaction{
		UserMessage:   "summarize the repo layout",
		Response:      "Here is the layout.",
		ToolCallsMade: []string{"list_dir", "read_file", "read_file", "shell"},
	})
	if len(patterns) != 1 || patterns[0].Category != knowledge.CategoryBehavior {
		t.Fatalf("patterns = %+v", patterns)
	}
}

func TestExtractNothing(t *testing.T) {
	e := NewExtractor(nil)
	patterns := e.Extract(Interaction{UserMessage: "hello there", Response: "hi"})
	if len(patterns) != 0 {
		t.Errorf("expected no patterns, got %+v", patterns)
	}
}

func TestPersist(t *testing.T) {
	base, err := knowledge.NewBase(filepath.Join(t.TempDir(), "knowledge.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	e := NewExtractor(nil)
	e.Persist(base, []Pattern{
		{Category: knowledge.CategoryPreference, Content: "prefers tabs"},
	})
	if got := base.Search("tabs", ""); len(got) != 1 {
		t.Errorf("expected persisted pattern, got %+v", got)
	}
}
