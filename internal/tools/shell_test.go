package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCheckDangerous(t *testing.T) {
	dangerous := []string{
		"rm -rf /",
		"rm -rf /home/user",
		"rm -fr ~/",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		"shutdown -h now",
		":(){ :|:& };:",
	}
	for _, cmd := range dangerous {
		if _, bad := CheckDangerous(cmd); !bad {
			t.Errorf("%q should be flagged", cmd)
		}
	}
	safe := []string{
		"ls -la",
		"rm build/output.txt",
		"echo hello",
		"grep -r TODO .",
	}
	for _, cmd := range safe {
		if pattern, bad := CheckDangerous(cmd); bad {
			t.Errorf("%q wrongly flagged by %s", cmd, pattern)
		}
	}
}

func TestShellExecutes(t *testing.T) {
	tc := &ToolContext{WorkspacePath: t.TempDir(), ShellTimeout: 10 * time.Second}
	out, err := ShellTool{}.Execute(context.Background(), mustJSON(t, shellArgs{Command: "echo hi"}), tc)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.(string)) != "hi" {
		t.Errorf("out = %q", out)
	}
}

func TestShellBlocksDangerous(t *testing.T) {
	tc := &ToolContext{WorkspacePath: t.TempDir()}
	out, err := ShellTool{}.Execute(context.Background(), mustJSON(t, shellArgs{Command: "rm -rf /"}), tc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.(string), "Error: matches dangerous pattern") {
		t.Errorf("out = %q", out)
	}
}

func TestShellTimeout(t *testing.T) {
	tc := &ToolContext{WorkspacePath: t.TempDir(), ShellTimeout: 100 * time.Millisecond}
	out, err := ShellTool{}.Execute(context.Background(), mustJSON(t, shellArgs{Command: "sleep 5"}), tc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.(string), "timed out") {
		t.Errorf("out = %q", out)
	}
}

func TestShellExitError(t *testing.T) {
	tc := &ToolContext{WorkspacePath: t.TempDir(), ShellTimeout: 10 * time.Second}
	out, err := ShellTool{}.Execute(context.Background(), mustJSON(t, shellArgs{Command: "exit 3"}), tc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.(string), "exit error") {
		t.Errorf("out = %q", out)
	}
}

func TestStripHTML(t *testing.T) {
	html := `<html><head><style>body{}</style><script>x()</script></head><body><h1>Title</h1><p>Text &amp; more</p></body></html>`
	got := strings.TrimSpace(StripHTML(html))
	if strings.Contains(got, "<") || strings.Contains(got, "x()") {
		t.Errorf("markup survived: %q", got)
	}
	if !strings.Contains(got, "Title") || !strings.Contains(got, "Text & more") {
		t.Errorf("content lost: %q", got)
	}
}
