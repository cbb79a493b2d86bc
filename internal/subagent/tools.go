package subagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/grip-agent/grip/internal/tools"
)

// SpawnFunc builds the background work for a task description. The engine
// installs a closure that runs a fresh agent loop.
type SpawnFunc func(ctx context.Context, task string) (string, error)

type spawnArgs struct {
	Task string `json:"task" jsonschema:"description=Description of the task for the background agent"`
}

// SpawnTool lets the model start a background agent.
type SpawnTool struct {
	Manager *Manager
	Run     SpawnFunc
}

func (t *SpawnTool) Name() string     { return "spawn_subagent" }
func (t *SpawnTool) Category() string { return "agent" }
func (t *SpawnTool) Description() string {
	return "Spawn a background agent to work on a task; returns its id immediately."
}
func (t *SpawnTool) Schema() json.RawMessage { return tools.SchemaFor(&spawnArgs{}) }

func (t *SpawnTool) Execute(ctx context.Context, raw json.RawMessage, _ *tools.ToolContext) (any, error) {
	var args spawnArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Task == "" {
		return nil, fmt.Errorf("task is required")
	}
	// The subagent outlives the current tool call; it is bound to the
	// manager's lifetime, not this request.
	info := t.Manager.Spawn(context.WithoutCancel(ctx), args.Task, func(ctx context.Context) (string, error) {
		return t.Run(ctx, args.Task)
	})
	return info, nil
}

// ListTool reports all subagents.
type ListTool struct {
	Manager *Manager
}

func (t *ListTool) Name() string        { return "list_subagents" }
func (t *ListTool) Category() string    { return "agent" }
func (t *ListTool) Description() string { return "List all spawned subagents and their statuses." }
func (t *ListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *ListTool) Execute(context.Context, json.RawMessage, *tools.ToolContext) (any, error) {
	infos := t.Manager.List()
	if len(infos) == 0 {
		return "no subagents spawned", nil
	}
	return infos, nil
}

type checkArgs struct {
	ID string `json:"id" jsonschema:"description=Subagent id returned by spawn_subagent"`
}

// CheckTool reports one subagent's status and result.
type CheckTool struct {
	Manager *Manager
}

func (t *CheckTool) Name() string        { return "check_subagent" }
func (t *CheckTool) Category() string    { return "agent" }
func (t *CheckTool) Description() string { return "Check the status and result of a subagent." }
func (t *CheckTool) Schema() json.RawMessage {
	return tools.SchemaFor(&checkArgs{})
}

func (t *CheckTool) Execute(_ context.Context, raw json.RawMessage, _ *tools.ToolContext) (any, error) {
	var args checkArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	info, ok := t.Manager.Get(args.ID)
	if !ok {
		return nil, fmt.Errorf("subagent %q not found", args.ID)
	}
	return info, nil
}
