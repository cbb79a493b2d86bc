package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/grip-agent/grip/internal/tools"
)

type sendMessageArgs struct {
	Text string `json:"text" jsonschema:"description=Message text to deliver immediately"`
}

// sendMessageTool pushes an intermediate message to the active channel
// before the run finishes.
type sendMessageTool struct {
	notifier Notifier
}

func (t *sendMessageTool) Name() string { return "send_message" }
func (t *sendMessageTool) Description() string {
	return "Send a progress message to the user before the final answer"
}
func (t *sendMessageTool) Category() string        { return "agent" }
func (t *sendMessageTool) Schema() json.RawMessage { return tools.SchemaFor(&sendMessageArgs{}) }

func (t *sendMessageTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.ToolContext) (any, error) {
	var in sendMessageArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("text is required")
	}
	if err := t.notifier.SendMessage(ctx, in.Text); err != nil {
		return nil, err
	}
	return "Message sent.", nil
}

type sendFileArgs struct {
	Path string `json:"path" jsonschema:"description=Path of the file to deliver"`
}

// sendFileTool delivers a file to the active channel.
type sendFileTool struct {
	notifier Notifier
}

func (t *sendFileTool) Name() string        { return "send_file" }
func (t *sendFileTool) Description() string { return "Send a file from the workspace to the user" }
func (t *sendFileTool) Category() string    { return "agent" }
func (t *sendFileTool) Schema() json.RawMessage {
	return tools.SchemaFor(&sendFileArgs{})
}

func (t *sendFileTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.ToolContext) (any, error) {
	var in sendFileArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	if _, err := os.Stat(in.Path); err != nil {
		return nil, fmt.Errorf("file not available: %w", err)
	}
	if err := t.notifier.SendFile(ctx, in.Path); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Sent %s.", in.Path), nil
}
