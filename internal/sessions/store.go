// Package sessions persists conversations as one JSON file per session key.
package sessions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grip-agent/grip/internal/config"
	"github.com/grip-agent/grip/pkg/models"
)

// maxCachedSessions bounds the in-memory cache; the least recently
// accessed session is evicted when a new key pushes past the cap. Disk
// remains authoritative, so an evicted session is just a reload.
const maxCachedSessions = 128

type cacheEntry struct {
	session  *models.Session
	accessed int64
}

// Store is a file-backed session store with a bounded in-memory cache. All
// methods are safe for concurrent use; callers that need read-modify-write
// atomicity across calls serialize per key with Lock/Unlock.
type Store struct {
	dir    string
	logger *slog.Logger

	mu        sync.Mutex
	cache     map[string]*cacheEntry
	maxCached int
	ticks     int64

	lockMu sync.Mutex
	locks  map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:       dir,
		logger:    logger.With("component", "sessions"),
		cache:     make(map[string]*cacheEntry),
		maxCached: maxCachedSessions,
		locks:     make(map[string]*sessionLock),
	}, nil
}

// Lock acquires the per-key mutex. Lock entries are reference counted so the
// table does not grow with dead keys.
func (s *Store) Lock(key string) {
	s.lockMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sessionLock{}
		s.locks[key] = l
	}
	l.refs++
	s.lockMu.Unlock()
	l.mu.Lock()
}

// Unlock releases the per-key mutex acquired with Lock.
func (s *Store) Unlock(key string) {
	s.lockMu.Lock()
	l, ok := s.locks[key]
	if ok {
		l.refs--
		if l.refs <= 0 {
			delete(s.locks, key)
		}
	}
	s.lockMu.Unlock()
	if ok {
		l.mu.Unlock()
	}
}

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.dir, models.SanitizeKey(key)+".json")
}

// GetOrCreate returns the session for key, loading it from disk on first
// access and creating an empty one when no file exists. The returned session
// is a copy; mutations take effect only through Save.
func (s *Store) GetOrCreate(key string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.cache[key]; ok {
		s.ticks++
		entry.accessed = s.ticks
		return entry.session.Clone(), nil
	}

	session, err := s.load(key)
	if err != nil {
		return nil, err
	}
	if session == nil {
		now := time.Now().UTC()
		session = &models.Session{Key: key, CreatedAt: now, UpdatedAt: now}
	}
	s.cacheLocked(key, session)
	return session.Clone(), nil
}

// cacheLocked inserts key and evicts the least recently accessed entry when
// the cache is over its cap. Caller holds mu.
func (s *Store) cacheLocked(key string, session *models.Session) {
	s.ticks++
	s.cache[key] = &cacheEntry{session: session, accessed: s.ticks}
	for len(s.cache) > s.maxCached {
		oldestKey := ""
		var oldest int64
		for k, entry := range s.cache {
			if oldestKey == "" || entry.accessed < oldest {
				oldestKey, oldest = k, entry.accessed
			}
		}
		delete(s.cache, oldestKey)
	}
}

func (s *Store) load(key string) (*models.Session, error) {
	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session %s: %w", key, err)
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		// A corrupt file is sidelined rather than blocking the session.
		backup := s.pathFor(key) + ".corrupt"
		s.logger.Warn("session file corrupt, starting fresh", "key", key, "backup", backup)
		_ = os.Rename(s.pathFor(key), backup)
		return nil, nil
	}
	session.Key = key
	return &session, nil
}

// Save writes the session to disk atomically and refreshes the cache.
func (s *Store) Save(session *models.Session) error {
	session.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	if err := config.WriteFileAtomic(s.pathFor(session.Key), data, 0o644); err != nil {
		return fmt.Errorf("save session %s: %w", session.Key, err)
	}
	s.mu.Lock()
	s.cacheLocked(session.Key, session.Clone())
	s.mu.Unlock()
	return nil
}

// Append adds messages to a session and persists it in one step.
func (s *Store) Append(key string, msgs ...models.Message) (*models.Session, error) {
	session, err := s.GetOrCreate(key)
	if err != nil {
		return nil, err
	}
	session.Append(msgs...)
	if err := s.Save(session); err != nil {
		return nil, err
	}
	return session, nil
}

// Delete removes the session from cache and disk.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	if err := os.Remove(s.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns all session keys found on disk, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}
