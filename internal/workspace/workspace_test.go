package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadIdentityOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "SOUL.md"), "Be curious.")
	writeFile(t, filepath.Join(dir, "AGENT.md"), "You are grip.")
	writeFile(t, filepath.Join(dir, "TONE.md"), "Keep it short.")

	ws, err := Load(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := "You are grip.\n\nBe curious.\n\nKeep it short."
	if ws.Identity != want {
		t.Errorf("identity = %q, want %q", ws.Identity, want)
	}
}

func TestLoadEmptyWorkspace(t *testing.T) {
	ws, err := Load(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if ws.Identity != "" || len(ws.Skills) != 0 {
		t.Errorf("expected empty workspace, got %+v", ws)
	}
}

func TestLoadSkillsFrontMatter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "skills", "review", "SKILL.md"), `---
name: code-review
description: Review a diff for problems
triggers:
  - review this
---

Look for bugs first, style second.
`)
	writeFile(t, filepath.Join(dir, "skills", "bare", "SKILL.md"), "Just a body, no front matter.\n")

	ws, err := Load(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ws.Skills) != 2 {
		t.Fatalf("skills = %d, want 2", len(ws.Skills))
	}
	// Sorted by name: "bare" before "code-review".
	if ws.Skills[0].Name != "bare" || ws.Skills[0].Body != "Just a body, no front matter." {
		t.Errorf("bare skill = %+v", ws.Skills[0])
	}
	review := ws.Skills[1]
	if review.Name != "code-review" || review.Description != "Review a diff for problems" {
		t.Errorf("review skill = %+v", review)
	}
	if review.Body != "Look for bugs first, style second." {
		t.Errorf("review body = %q", review.Body)
	}
}

func TestFindSkill(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "skills", "review", "SKILL.md"), `---
name: code-review
triggers: ["review this"]
---
body
`)
	ws, err := Load(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ws.FindSkill("Please REVIEW THIS change"); !ok {
		t.Error("trigger should match case-insensitively")
	}
	if _, ok := ws.FindSkill("unrelated"); ok {
		t.Error("unexpected match")
	}
}

func TestSkillSummaries(t *testing.T) {
	ws := &Workspace{Skills: []Skill{
		{Name: "a", Description: "first"},
		{Name: "b", Description: "second"},
	}}
	got := ws.SkillSummaries()
	if !strings.Contains(got, "- a: first") || !strings.Contains(got, "- b: second") {
		t.Errorf("summaries = %q", got)
	}
}

func TestScaffoldDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "AGENT.md"), "custom identity")
	if err := Scaffold(dir); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "AGENT.md"))
	if string(data) != "custom identity" {
		t.Error("scaffold overwrote existing AGENT.md")
	}
}
