// Package workspace loads the agent's identity files and skill definitions
// from the workspace directory.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// identityFiles are concatenated, in order, into the identity prompt.
var identityFiles = []string{"AGENT.md", "SOUL.md", "TONE.md"}

// Skill is one loaded skill definition from skills/<name>/SKILL.md.
type Skill struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Triggers    []string `yaml:"triggers"`
	Body        string   `yaml:"-"`
}

// Workspace is a loaded snapshot of the workspace directory.
type Workspace struct {
	Dir      string
	Identity string
	Skills   []Skill
}

// Load reads identity files and skills. Missing files are fine; an empty
// workspace yields an empty identity.
func Load(dir string, logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ws := &Workspace{Dir: dir}

	var parts []string
	for _, name := range identityFiles {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			parts = append(parts, text)
		}
	}
	ws.Identity = strings.Join(parts, "\n\n")

	skillDirs, err := os.ReadDir(filepath.Join(dir, "skills"))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read skills dir: %w", err)
	}
	for _, entry := range skillDirs {
		if !entry.IsDir() {
			continue
		}
		skill, err := loadSkill(filepath.Join(dir, "skills", entry.Name(), "SKILL.md"))
		if err != nil {
			logger.Warn("skipping malformed skill", "skill", entry.Name(), "error", err)
			continue
		}
		if skill.Name == "" {
			skill.Name = entry.Name()
		}
		ws.Skills = append(ws.Skills, *skill)
	}
	sort.Slice(ws.Skills, func(i, j int) bool { return ws.Skills[i].Name < ws.Skills[j].Name })
	return ws, nil
}

// loadSkill parses a SKILL.md with optional YAML front matter delimited by
// "---" lines.
func loadSkill(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := string(data)
	skill := &Skill{}

	if strings.HasPrefix(content, "---\n") {
		rest := content[4:]
		end := strings.Index(rest, "\n---")
		if end >= 0 {
			front := rest[:end]
			if err := yaml.Unmarshal([]byte(front), skill); err != nil {
				return nil, fmt.Errorf("parse front matter: %w", err)
			}
			body := rest[end+4:]
			skill.Body = strings.TrimSpace(strings.TrimPrefix(body, "\n"))
			return skill, nil
		}
	}
	skill.Body = strings.TrimSpace(content)
	return skill, nil
}

// SkillSummaries renders a compact list for the system prompt.
func (w *Workspace) SkillSummaries() string {
	if len(w.Skills) == 0 {
		return ""
	}
	var b strings.Builder
	for _, skill := range w.Skills {
		fmt.Fprintf(&b, "- %s: %s\n", skill.Name, skill.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FindSkill returns a skill whose name or trigger matches the message.
func (w *Workspace) FindSkill(message string) (*Skill, bool) {
	lower := strings.ToLower(message)
	for i := range w.Skills {
		for _, trigger := range w.Skills[i].Triggers {
			if trigger != "" && strings.Contains(lower, strings.ToLower(trigger)) {
				return &w.Skills[i], true
			}
		}
	}
	return nil, false
}

// Scaffold writes a starter workspace with a default AGENT.md when dir is
// empty. Existing files are never overwritten.
func Scaffold(dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, "skills"), 0o755); err != nil {
		return err
	}
	agentPath := filepath.Join(dir, "AGENT.md")
	if _, err := os.Stat(agentPath); err == nil {
		return nil
	}
	starter := `# Agent

You are a helpful autonomous assistant. You have tools for working with
files, running commands, searching the web, and remembering facts. Use them
when they help; answer directly when they do not.
`
	return os.WriteFile(agentPath, []byte(starter), 0o644)
}
