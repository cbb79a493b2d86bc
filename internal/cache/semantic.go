// Package cache implements a disk-backed semantic response cache keyed by
// normalized user message and model.
package cache

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

// DefaultMaxEntries bounds the cache before eviction kicks in.
const DefaultMaxEntries = 500

// entry is one cached response.
type entry struct {
	Response   string    `json:"response"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// SemanticCache maps normalized prompts to previously generated responses.
// Entries expire after the TTL and the oldest-by-access entries are evicted
// past MaxEntries. All methods are safe for concurrent use.
type SemanticCache struct {
	path       string
	ttl        time.Duration
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewSemanticCache loads the cache file at path, dropping entries older than
// ttl. maxEntries <= 0 selects the default.
func NewSemanticCache(path string, ttl time.Duration, maxEntries int, logger *slog.Logger) (*SemanticCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &SemanticCache{
		path:       path,
		ttl:        ttl,
		maxEntries: maxEntries,
		logger:     logger.With("component", "cache"),
		now:        func() time.Time { return time.Now().UTC() },
		entries:    make(map[string]*entry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	var stored map[string]*entry
	if err := json.Unmarshal(data, &stored); err != nil {
		// Corrupt cache files are discarded; the cache is best effort.
		c.logger.Warn("cache file corrupt, starting empty", "path", path)
		return c, nil
	}
	now := c.now()
	for key, e := range stored {
		if ttl > 0 && now.Sub(e.CreatedAt) >= ttl {
			continue
		}
		c.entries[key] = e
	}
	return c, nil
}

// Key derives the cache key: SHA-256 over the lowercased, trimmed message
// joined to the model with "||".
func Key(message, model string) string {
	normalized := strings.ToLower(strings.TrimSpace(message)) + "||" + model
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached response for the message/model pair, refreshing its
// access time. Expired entries are removed and reported as misses.
func (c *SemanticCache) Get(message, model string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(message, model)
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	now := c.now()
	if c.ttl > 0 && now.Sub(e.CreatedAt) >= c.ttl {
		delete(c.entries, key)
		return "", false
	}
	e.AccessedAt = now
	c.logger.Debug("semantic cache hit", "model", model)
	return e.Response, true
}

// Put stores a response, evicting the oldest-by-access entries when the cache
// exceeds its size bound, then persists to disk atomically.
func (c *SemanticCache) Put(message, model, response string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[Key(message, model)] = &entry{
		Response:   response,
		Model:      model,
		CreatedAt:  now,
		AccessedAt: now,
	}
	if len(c.entries) > c.maxEntries {
		c.evictLocked(len(c.entries) - c.maxEntries)
	}
	return c.saveLocked()
}

// Len returns the number of live entries.
func (c *SemanticCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops all entries and truncates the file.
func (c *SemanticCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	return c.saveLocked()
}

func (c *SemanticCache) evictLocked(n int) {
	type keyed struct {
		key string
		at  time.Time
	}
	all := make([]keyed, 0, len(c.entries))
	for key, e := range c.entries {
		all = append(all, keyed{key, e.AccessedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for i := 0; i < n && i < len(all); i++ {
		delete(c.entries, all[i].key)
	}
}

func (c *SemanticCache) saveLocked() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(c.path, data, 0o644)
}
