package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"time"
)

// maxShellOutput caps combined stdout/stderr returned to the model.
const maxShellOutput = 64 * 1024

// dangerousPatterns block destructive commands before execution. The guard is
// a safety net, not a sandbox.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+(/|~|\$HOME)\S*`),
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*[rf][a-zA-Z]*\s+/\s*$`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bdd\s+.*of=/dev/`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`\bchmod\s+(-R\s+)?777\s+/\s*$`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;?\s*:`),
	regexp.MustCompile(`\bshutdown\b|\breboot\b|\bhalt\b`),
}

// CheckDangerous returns the pattern a command matches, if any.
func CheckDangerous(command string) (string, bool) {
	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(command) {
			return pattern.String(), true
		}
	}
	return "", false
}

type shellArgs struct {
	Command string `json:"command" jsonschema:"description=Shell command to execute"`
}

// ShellTool runs a command under sh -c inside the workspace.
type ShellTool struct{}

func (ShellTool) Name() string     { return "shell" }
func (ShellTool) Category() string { return "system" }
func (ShellTool) Description() string {
	return "Execute a shell command in the workspace and return its output."
}
func (ShellTool) Schema() json.RawMessage {
	return SchemaFor(&shellArgs{})
}

func (ShellTool) Execute(ctx context.Context, raw json.RawMessage, tc *ToolContext) (any, error) {
	var args shellArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if pattern, bad := CheckDangerous(args.Command); bad {
		return fmt.Sprintf("Error: matches dangerous pattern %s, refusing to execute", pattern), nil
	}
	if tc.DryRun {
		return "dry run: would execute: " + args.Command, nil
	}

	timeout := tc.ShellTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", args.Command)
	cmd.Dir = tc.WorkspacePath
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()

	output := buf.String()
	if len(output) > maxShellOutput {
		output = output[:maxShellOutput] + "\n... (truncated)"
	}
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Error: command timed out after %s\n%s", timeout, output), nil
	}
	if err != nil {
		return fmt.Sprintf("exit error: %v\n%s", err, output), nil
	}
	if output == "" {
		return "(no output)", nil
	}
	return output, nil
}
