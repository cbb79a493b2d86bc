package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/grip-agent/grip/internal/providers"
	"github.com/grip-agent/grip/internal/trust"
)

// Registry is a concurrency-safe name→tool table.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger.With("component", "tools"),
		tools:  make(map[string]Tool),
	}
}

// Register inserts a tool by name. Overwriting an existing name is allowed
// and logged.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		r.logger.Warn("overwriting registered tool", "tool", tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	r.mu.Unlock()
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByCategory groups registered tools for manifest generation.
func (r *Registry) ByCategory() map[string][]Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	grouped := make(map[string][]Tool)
	for _, tool := range r.tools {
		grouped[tool.Category()] = append(grouped[tool.Category()], tool)
	}
	for _, group := range grouped {
		sort.Slice(group, func(i, j int) bool { return group[i].Name() < group[j].Name() })
	}
	return grouped
}

// Definitions exports all tools in OpenAI function-calling shape, sorted by
// name.
func (r *Registry) Definitions() []providers.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]providers.ToolSpec, 0, len(r.tools))
	for _, tool := range r.tools {
		specs = append(specs, providers.ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Execute dispatches a tool call. Failures never propagate as errors; they
// come back as strings the model can read and react to.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage, tc *ToolContext) string {
	tool, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("Error: Unknown tool '%s'. Available: %s", name, strings.Join(r.Names(), ", "))
	}
	result, err := tool.Execute(ctx, args, tc)
	if err != nil {
		var denied *trust.DeniedError
		if errors.As(err, &denied) {
			return fmt.Sprintf("Error: Access denied — %s", denied.Error())
		}
		return fmt.Sprintf("Error executing %s: %T: %s", name, err, err.Error())
	}
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("Error executing %s: %T: %s", name, err, err.Error())
		}
		return string(data)
	}
}
