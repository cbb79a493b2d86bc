// Package memory maintains the agent's long-term memory: a structured facts
// file (MEMORY.md), an append-only timestamped history log (HISTORY.md) with
// rotation, TF-IDF retrieval over both, and LLM consolidation of old session
// messages into durable facts.
package memory

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grip-agent/grip/internal/config"
)

const (
	memoryFile  = "MEMORY.md"
	historyFile = "HISTORY.md"

	// defaultRotateBytes triggers HISTORY rotation.
	defaultRotateBytes = 256 * 1024
	// defaultDecayRate is the per-day exponential decay for history search.
	defaultDecayRate = 0.05
	// defaultJaccardThreshold marks two memory entries as near-duplicates.
	defaultJaccardThreshold = 0.7
)

// Options configures a Manager.
type Options struct {
	Dir string
	// DecayRate for history search; 0 disables decay, negative selects the
	// default.
	DecayRate float64
	// RotateBytes is the HISTORY.md size threshold; 0 selects the default.
	RotateBytes int64
	Logger      *slog.Logger
}

// Manager owns MEMORY.md, HISTORY.md, and the HISTORY archive chain. Methods
// are safe for concurrent use within one process.
type Manager struct {
	dir         string
	decayRate   float64
	rotateBytes int64
	logger      *slog.Logger
	now         func() time.Time

	mu sync.Mutex
}

// NewManager creates the memory directory if needed.
func NewManager(opts Options) (*Manager, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	decay := opts.DecayRate
	if decay < 0 {
		decay = defaultDecayRate
	}
	rotate := opts.RotateBytes
	if rotate <= 0 {
		rotate = defaultRotateBytes
	}
	return &Manager{
		dir:         opts.Dir,
		decayRate:   decay,
		rotateBytes: rotate,
		logger:      logger.With("component", "memory"),
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (m *Manager) memoryPath() string  { return filepath.Join(m.dir, memoryFile) }
func (m *Manager) historyPath() string { return filepath.Join(m.dir, historyFile) }

func readLines(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// ReadMemory returns the raw contents of MEMORY.md.
func (m *Manager) ReadMemory() string {
	data, _ := os.ReadFile(m.memoryPath())
	return string(data)
}

// AppendMemory appends text to MEMORY.md, keeping exactly one trailing
// newline.
func (m *Manager) AppendMemory(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, _ := os.ReadFile(m.memoryPath())
	content := string(existing)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += strings.TrimRight(text, "\n") + "\n"
	return config.WriteFileAtomic(m.memoryPath(), []byte(content), 0o644)
}

// AppendHistory appends a timestamped line to HISTORY.md and rotates the file
// if it crossed the size threshold.
func (m *Manager) AppendHistory(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp := m.now().Format(historyTimestampLayout)
	entry := fmt.Sprintf("[%s UTC] %s\n", stamp, strings.TrimSpace(line))

	existing, _ := os.ReadFile(m.historyPath())
	content := string(existing)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += entry
	if err := config.WriteFileAtomic(m.historyPath(), []byte(content), 0o644); err != nil {
		return err
	}
	if int64(len(content)) > m.rotateBytes {
		return m.rotateLocked(content)
	}
	return nil
}

// rotateLocked moves everything except the newest half of the lines into a
// timestamped archive file.
func (m *Manager) rotateLocked(content string) error {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) < 2 {
		return nil
	}
	keep := len(lines) / 2
	if keep == 0 {
		keep = 1
	}
	archived := lines[:len(lines)-keep]
	kept := lines[len(lines)-keep:]

	archiveName := fmt.Sprintf("HISTORY.archive.%s.md", m.now().Format("20060102T150405"))
	archivePath := filepath.Join(m.dir, archiveName)
	if err := config.WriteFileAtomic(archivePath, []byte(strings.Join(archived, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("write history archive: %w", err)
	}
	if err := config.WriteFileAtomic(m.historyPath(), []byte(strings.Join(kept, "\n")+"\n"), 0o644); err != nil {
		return err
	}
	m.logger.Info("rotated history", "archive", archiveName, "archived_lines", len(archived), "kept_lines", len(kept))
	return nil
}

// SearchMemory runs TF-IDF search over MEMORY.md lines.
func (m *Manager) SearchMemory(query string, topK int) []SearchHit {
	return searchDocs(readLines(m.memoryPath()), query, topK, 0, m.now())
}

// SearchHistory runs TF-IDF search with time decay over HISTORY.md and its
// archives.
func (m *Manager) SearchHistory(query string, topK int) []SearchHit {
	docs := readLines(m.historyPath())
	archives, _ := filepath.Glob(filepath.Join(m.dir, "HISTORY.archive.*.md"))
	sort.Strings(archives)
	for _, archive := range archives {
		docs = append(docs, readLines(archive)...)
	}
	return searchDocs(docs, query, topK, m.decayRate, m.now())
}

// Compact drops near-duplicate MEMORY.md entries. Entries are compared
// pairwise by Jaccard similarity over token sets; the first occurrence wins.
// threshold <= 0 selects the default of 0.7. Returns the number of dropped
// entries.
func (m *Manager) Compact(threshold float64) (int, error) {
	if threshold <= 0 {
		threshold = defaultJaccardThreshold
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	lines := readLines(m.memoryPath())
	if len(lines) == 0 {
		return 0, nil
	}
	sets := make([]map[string]bool, len(lines))
	for i, line := range lines {
		sets[i] = tokenSet(line)
	}
	var kept []string
	var keptSets []map[string]bool
	dropped := 0
	for i, line := range lines {
		duplicate := false
		for _, prev := range keptSets {
			if jaccard(sets[i], prev) >= threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			dropped++
			continue
		}
		kept = append(kept, line)
		keptSets = append(keptSets, sets[i])
	}
	if dropped == 0 {
		return 0, nil
	}
	if err := config.WriteFileAtomic(m.memoryPath(), []byte(strings.Join(kept, "\n")+"\n"), 0o644); err != nil {
		return 0, err
	}
	m.logger.Info("compacted memory", "dropped", dropped, "kept", len(kept))
	return dropped, nil
}

// Stats summarizes MEMORY.md.
type Stats struct {
	TotalEntries   int            `json:"total_entries"`
	CategoryCounts map[string]int `json:"category_counts"`
	SizeBytes      int64          `json:"size_bytes"`
}

var categoryTag = regexp.MustCompile(`^\s*-\s*\[([a-zA-Z_ -]+)\]`)

// MemoryStats counts entries and category tags in MEMORY.md.
func (m *Manager) MemoryStats() Stats {
	stats := Stats{CategoryCounts: make(map[string]int)}
	lines := readLines(m.memoryPath())
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "-") {
			continue
		}
		stats.TotalEntries++
		if match := categoryTag.FindStringSubmatch(line); match != nil {
			stats.CategoryCounts[strings.ToLower(match[1])]++
		}
	}
	if info, err := os.Stat(m.memoryPath()); err == nil {
		stats.SizeBytes = info.Size()
	}
	return stats
}
