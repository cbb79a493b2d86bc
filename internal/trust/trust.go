// Package trust enforces directory-level access policy for filesystem tools.
package trust

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/grip-agent/grip/internal/config"
)

// PromptFunc asks the user whether to trust dir. Returning true grants
// persistent trust.
type PromptFunc func(dir string) bool

// DeniedError marks a path rejected by the trust policy.
type DeniedError struct {
	Path string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s is not a trusted directory", e.Path)
}

// Manager holds the trusted directory set, persisted as JSON. Prompts are
// serialized so concurrent tool calls never stack interactive questions.
type Manager struct {
	path   string
	logger *slog.Logger
	prompt PromptFunc

	mu      sync.Mutex
	trusted map[string]bool
	denied  map[string]bool
}

// NewManager loads the trusted set from path (state/trusted_dirs.json).
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		path:    path,
		logger:  logger.With("component", "trust"),
		trusted: make(map[string]bool),
		denied:  make(map[string]bool),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("read trust store: %w", err)
	}
	var dirs []string
	if err := json.Unmarshal(data, &dirs); err != nil {
		return nil, fmt.Errorf("parse trust store: %w", err)
	}
	for _, dir := range dirs {
		m.trusted[filepath.Clean(dir)] = true
	}
	return m, nil
}

// SetPrompt installs the interactive callback. Without one, untrusted paths
// are denied silently (headless mode).
func (m *Manager) SetPrompt(prompt PromptFunc) {
	m.mu.Lock()
	m.prompt = prompt
	m.mu.Unlock()
}

func isWithin(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// IsTrusted reports whether path is inside the workspace or a stored trusted
// directory.
func (m *Manager) IsTrusted(path, workspace string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if workspace != "" && isWithin(abs, workspace) {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for dir := range m.trusted {
		if isWithin(abs, dir) {
			return true
		}
	}
	return false
}

// CheckAndPrompt grants access for trusted paths, otherwise asks the
// installed prompt for the path's trust target. Grants persist to disk;
// denials are remembered for the rest of the process.
func (m *Manager) CheckAndPrompt(path, workspace string) bool {
	if m.IsTrusted(path, workspace) {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	target := TrustTarget(abs)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trusted[target] {
		return true
	}
	if m.denied[target] {
		return false
	}
	if m.prompt == nil {
		m.logger.Debug("denying untrusted path, no prompt installed", "path", abs)
		return false
	}
	if m.prompt(target) {
		m.trusted[target] = true
		if err := m.saveLocked(); err != nil {
			m.logger.Warn("failed to persist trust store", "error", err)
		}
		return true
	}
	m.denied[target] = true
	return false
}

// Trust adds dir to the persistent trusted set.
func (m *Manager) Trust(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trusted[abs] = true
	delete(m.denied, abs)
	return m.saveLocked()
}

// Revoke removes dir from the trusted set.
func (m *Manager) Revoke(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trusted, abs)
	return m.saveLocked()
}

// TrustedDirectories returns the stored set, sorted.
func (m *Manager) TrustedDirectories() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	dirs := make([]string, 0, len(m.trusted))
	for dir := range m.trusted {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

func (m *Manager) saveLocked() error {
	dirs := make([]string, 0, len(m.trusted))
	for dir := range m.trusted {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	data, err := json.MarshalIndent(dirs, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(m.path, data, 0o644)
}

// TrustTarget maps a path to the directory the user is asked to trust: the
// first child of home for paths under home, otherwise the first directory
// after the filesystem root.
func TrustTarget(path string) string {
	path = filepath.Clean(path)
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		home = filepath.Clean(home)
		if isWithin(path, home) && path != home {
			rel, err := filepath.Rel(home, path)
			if err == nil {
				first := strings.Split(rel, string(filepath.Separator))[0]
				return filepath.Join(home, first)
			}
		}
	}
	parts := strings.Split(path, string(filepath.Separator))
	for _, part := range parts {
		if part != "" {
			return string(filepath.Separator) + part
		}
	}
	return path
}
