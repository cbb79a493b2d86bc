// Package knowledge stores typed, deduplicated knowledge entries in a JSON
// file, indexed by category.
package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grip-agent/grip/internal/config"
)

// Categories, in export priority order.
const (
	CategoryPreference   = "user_preference"
	CategoryDecision     = "project_decision"
	CategoryErrorPattern = "error_pattern"
	CategoryBehavior     = "system_behavior"
	CategoryFact         = "learned_fact"
)

// exportOrder fixes the category priority for export_for_context.
var exportOrder = []string{
	CategoryPreference,
	CategoryDecision,
	CategoryErrorPattern,
	CategoryBehavior,
	CategoryFact,
}

// Entry is one knowledge item.
type Entry struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Content     string    `json:"content"`
	Source      string    `json:"source,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	AccessedAt  time.Time `json:"accessed_at"`
	AccessCount int       `json:"access_count"`
}

// Base is the file-backed knowledge store.
type Base struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*Entry
}

// NewBase loads (or initializes) the knowledge file at path.
func NewBase(path string, logger *slog.Logger) (*Base, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Base{
		path:    path,
		logger:  logger.With("component", "knowledge"),
		entries: make(map[string]*Entry),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}
	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse knowledge file: %w", err)
	}
	for _, entry := range entries {
		b.entries[entry.ID] = entry
	}
	return b, nil
}

// ValidCategory reports whether category is one of the known categories.
func ValidCategory(category string) bool {
	for _, c := range exportOrder {
		if c == category {
			return true
		}
	}
	return false
}

// EntryID derives the deterministic id: the first 16 hex characters of
// SHA-256 over "category:lowercased-trimmed-content".
func EntryID(category, content string) string {
	normalized := category + ":" + strings.ToLower(strings.TrimSpace(content))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

func (b *Base) saveLocked() error {
	entries := make([]*Entry, 0, len(b.entries))
	for _, entry := range b.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(b.path, data, 0o644)
}

// Add inserts a new entry or, if an entry with the same derived id exists,
// bumps its access stats and returns it.
func (b *Base) Add(category, content, source string, tags []string) (*Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := EntryID(category, content)
	now := time.Now().UTC()
	if existing, ok := b.entries[id]; ok {
		existing.AccessedAt = now
		existing.AccessCount++
		if err := b.saveLocked(); err != nil {
			return nil, err
		}
		return existing, nil
	}

	entry := &Entry{
		ID:         id,
		Category:   category,
		Content:    strings.TrimSpace(content),
		Source:     source,
		Tags:       tags,
		CreatedAt:  now,
		AccessedAt: now,
	}
	b.entries[id] = entry
	if err := b.saveLocked(); err != nil {
		return nil, err
	}
	b.logger.Debug("added knowledge entry", "id", id, "category", category)
	return entry, nil
}

// Search filters by category (when non-empty) and by case-insensitive
// substring over content, tags, and source (when query non-empty), ranked by
// access count then creation time, both descending.
func (b *Base) Search(query, category string) []*Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	var results []*Entry
	for _, entry := range b.entries {
		if category != "" && entry.Category != category {
			continue
		}
		if needle != "" {
			haystack := strings.ToLower(entry.Content + " " + strings.Join(entry.Tags, " ") + " " + entry.Source)
			if !strings.Contains(haystack, needle) {
				continue
			}
		}
		results = append(results, entry)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].AccessCount != results[j].AccessCount {
			return results[i].AccessCount > results[j].AccessCount
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results
}

// Get returns an entry by id, bumping its access stats.
func (b *Base) Get(id string) (*Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[id]
	if !ok {
		return nil, false
	}
	entry.AccessedAt = time.Now().UTC()
	entry.AccessCount++
	_ = b.saveLocked()
	return entry, true
}

// Delete removes an entry by id.
func (b *Base) Delete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[id]; !ok {
		return fmt.Errorf("knowledge entry %q not found", id)
	}
	delete(b.entries, id)
	return b.saveLocked()
}

// Len returns the number of stored entries.
func (b *Base) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func categoryHeading(category string) string {
	switch category {
	case CategoryPreference:
		return "Preferences"
	case CategoryDecision:
		return "Decisions"
	case CategoryErrorPattern:
		return "Error Patterns"
	case CategoryBehavior:
		return "Behaviors"
	case CategoryFact:
		return "Facts"
	}
	return category
}

// ExportForContext renders entries grouped by category in priority order
// (preferences, decisions, error patterns, behaviors, facts), stopping when
// the character budget is exhausted.
func (b *Base) ExportForContext(maxChars int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	byCategory := make(map[string][]*Entry)
	for _, entry := range b.entries {
		byCategory[entry.Category] = append(byCategory[entry.Category], entry)
	}
	for _, entries := range byCategory {
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].AccessCount != entries[j].AccessCount {
				return entries[i].AccessCount > entries[j].AccessCount
			}
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		})
	}

	var out strings.Builder
	for _, category := range exportOrder {
		entries := byCategory[category]
		if len(entries) == 0 {
			continue
		}
		header := "## " + categoryHeading(category) + "\n"
		if maxChars > 0 && out.Len()+len(header) > maxChars {
			break
		}
		out.WriteString(header)
		for _, entry := range entries {
			line := "- " + entry.Content + "\n"
			if maxChars > 0 && out.Len()+len(line) > maxChars {
				return out.String()
			}
			out.WriteString(line)
		}
	}
	return out.String()
}
