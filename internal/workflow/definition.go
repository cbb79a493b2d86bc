// Package workflow runs multi-step agent pipelines defined as JSON DAGs.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/grip-agent/grip/internal/config"
)

// Step is one node in the workflow DAG.
type Step struct {
	Name           string   `json:"name"`
	Prompt         string   `json:"prompt"`
	Profile        string   `json:"profile,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// Definition is a named workflow stored at workflows/<name>.json.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       []Step `json:"steps"`
}

// ValidationError rejects a definition before execution starts.
type ValidationError struct {
	Workflow string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow %s: %s", e.Workflow, e.Reason)
}

// Validate checks step name uniqueness, dependency references, and
// acyclicity.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &ValidationError{Workflow: d.Name, Reason: "missing name"}
	}
	if len(d.Steps) == 0 {
		return &ValidationError{Workflow: d.Name, Reason: "no steps"}
	}
	seen := make(map[string]bool, len(d.Steps))
	for _, step := range d.Steps {
		if step.Name == "" {
			return &ValidationError{Workflow: d.Name, Reason: "step with empty name"}
		}
		if seen[step.Name] {
			return &ValidationError{Workflow: d.Name, Reason: fmt.Sprintf("duplicate step name %q", step.Name)}
		}
		seen[step.Name] = true
	}
	for _, step := range d.Steps {
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return &ValidationError{Workflow: d.Name, Reason: fmt.Sprintf("step %q depends on unknown step %q", step.Name, dep)}
			}
			if dep == step.Name {
				return &ValidationError{Workflow: d.Name, Reason: fmt.Sprintf("step %q depends on itself", step.Name)}
			}
		}
	}
	if _, err := d.Layers(); err != nil {
		return err
	}
	return nil
}

// Layers computes topological execution layers with Kahn's algorithm. Each
// layer is sorted by step name for deterministic scheduling.
func (d *Definition) Layers() ([][]string, error) {
	inDegree := make(map[string]int, len(d.Steps))
	dependents := make(map[string][]string)
	for _, step := range d.Steps {
		inDegree[step.Name] = len(step.DependsOn)
		for _, dep := range step.DependsOn {
			dependents[dep] = append(dependents[dep], step.Name)
		}
	}

	var layers [][]string
	visited := 0
	current := make([]string, 0, len(d.Steps))
	for name, degree := range inDegree {
		if degree == 0 {
			current = append(current, name)
		}
	}
	for len(current) > 0 {
		sort.Strings(current)
		layers = append(layers, current)
		visited += len(current)
		var next []string
		for _, name := range current {
			for _, dependent := range dependents[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}
	if visited < len(d.Steps) {
		return nil, &ValidationError{Workflow: d.Name, Reason: "dependency cycle detected"}
	}
	return layers, nil
}

// Step returns the named step.
func (d *Definition) Step(name string) (*Step, bool) {
	for i := range d.Steps {
		if d.Steps[i].Name == name {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

func pathFor(dir, name string) string {
	return filepath.Join(dir, name+".json")
}

// Load reads and validates workflows/<name>.json.
func Load(dir, name string) (*Definition, error) {
	data, err := os.ReadFile(pathFor(dir, name))
	if err != nil {
		return nil, err
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", name, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Save validates and writes the definition atomically.
func Save(dir string, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(pathFor(dir, def.Name), data, 0o644)
}

// List returns the workflow names found in dir, sorted.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}
