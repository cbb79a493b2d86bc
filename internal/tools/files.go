package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/grip-agent/grip/internal/config"
	"github.com/grip-agent/grip/internal/trust"
)

// maxReadBytes caps read_file output.
const maxReadBytes = 256 * 1024

// resolvePath makes the path absolute relative to the workspace and enforces
// the workspace restriction or directory trust.
func resolvePath(path string, tc *ToolContext) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(tc.WorkspacePath, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	workspace, err := filepath.Abs(tc.WorkspacePath)
	if err != nil {
		return "", err
	}
	if abs == workspace || strings.HasPrefix(abs, workspace+string(filepath.Separator)) {
		return abs, nil
	}
	if tc.RestrictToWorkspace {
		return "", fmt.Errorf("path %s is outside the workspace", abs)
	}
	if tc.Trust != nil && !tc.Trust.CheckAndPrompt(abs, workspace) {
		return "", &trust.DeniedError{Path: abs}
	}
	return abs, nil
}

type readFileArgs struct {
	Path string `json:"path" jsonschema:"description=File path, absolute or relative to the workspace"`
}

// ReadFileTool reads a file's contents.
type ReadFileTool struct{}

func (ReadFileTool) Name() string        { return "read_file" }
func (ReadFileTool) Category() string    { return "filesystem" }
func (ReadFileTool) Description() string { return "Read the contents of a text file." }
func (ReadFileTool) Schema() json.RawMessage {
	return SchemaFor(&readFileArgs{})
}

func (ReadFileTool) Execute(_ context.Context, raw json.RawMessage, tc *ToolContext) (any, error) {
	var args readFileArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	path, err := resolvePath(args.Path, tc)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n... (truncated)", nil
	}
	return string(data), nil
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"description=File path, absolute or relative to the workspace"`
	Content string `json:"content" jsonschema:"description=Full file content to write"`
}

// WriteFileTool writes a file atomically, creating parent directories.
type WriteFileTool struct{}

func (WriteFileTool) Name() string        { return "write_file" }
func (WriteFileTool) Category() string    { return "filesystem" }
func (WriteFileTool) Description() string { return "Write content to a file, replacing it if it exists." }
func (WriteFileTool) Schema() json.RawMessage {
	return SchemaFor(&writeFileArgs{})
}

func (WriteFileTool) Execute(_ context.Context, raw json.RawMessage, tc *ToolContext) (any, error) {
	var args writeFileArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	path, err := resolvePath(args.Path, tc)
	if err != nil {
		return nil, err
	}
	if tc.DryRun {
		return fmt.Sprintf("dry run: would write %d bytes to %s", len(args.Content), path), nil
	}
	if err := config.WriteFileAtomic(path, []byte(args.Content), 0o644); err != nil {
		return nil, err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(args.Content), path), nil
}

type listDirArgs struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory path, defaults to the workspace root"`
}

type dirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// ListDirTool lists a directory.
type ListDirTool struct{}

func (ListDirTool) Name() string        { return "list_dir" }
func (ListDirTool) Category() string    { return "filesystem" }
func (ListDirTool) Description() string { return "List the entries of a directory." }
func (ListDirTool) Schema() json.RawMessage {
	return SchemaFor(&listDirArgs{})
}

func (ListDirTool) Execute(_ context.Context, raw json.RawMessage, tc *ToolContext) (any, error) {
	var args listDirArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		args.Path = "."
	}
	path, err := resolvePath(args.Path, tc)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]dirEntry, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		var size int64
		if err == nil {
			size = info.Size()
		}
		out = append(out, dirEntry{Name: entry.Name(), IsDir: entry.IsDir(), Size: size})
	}
	return out, nil
}
