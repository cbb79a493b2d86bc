package auth

import (
	"sync"
	"time"

	"github.com/grip-agent/grip/internal/config"
)

const (
	// stateTTL bounds how long a pending gateway login stays valid.
	stateTTL = 10 * time.Minute
	// stateCap bounds concurrently pending logins.
	stateCap = 100
)

// PendingLogin is the gateway-side record of an in-flight OAuth flow,
// indexed by the opaque state parameter.
type PendingLogin struct {
	ServerName  string
	Verifier    string
	RedirectURI string
	OAuth       config.MCPOAuthConfig
	CreatedAt   time.Time
}

// StateMap holds pending gateway logins with TTL expiry and a hard cap.
type StateMap struct {
	mu      sync.Mutex
	pending map[string]*PendingLogin
	now     func() time.Time
}

// NewStateMap builds an empty state map.
func NewStateMap() *StateMap {
	return &StateMap{
		pending: make(map[string]*PendingLogin),
		now:     time.Now,
	}
}

// Put registers a pending login under state. When the map is full, the
// oldest entry is evicted.
func (m *StateMap) Put(state string, login *PendingLogin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()
	if len(m.pending) >= stateCap {
		var oldestKey string
		var oldestAt time.Time
		for key, p := range m.pending {
			if oldestKey == "" || p.CreatedAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = p.CreatedAt
			}
		}
		delete(m.pending, oldestKey)
	}
	login.CreatedAt = m.now()
	m.pending[state] = login
}

// Take removes and returns the pending login for state, if present and
// unexpired.
func (m *StateMap) Take(state string) (*PendingLogin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()
	login, ok := m.pending[state]
	if ok {
		delete(m.pending, state)
	}
	return login, ok
}

// Len returns the number of live entries.
func (m *StateMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()
	return len(m.pending)
}

func (m *StateMap) expireLocked() {
	cutoff := m.now().Add(-stateTTL)
	for key, login := range m.pending {
		if login.CreatedAt.Before(cutoff) {
			delete(m.pending, key)
		}
	}
}
