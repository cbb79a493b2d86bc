// Package auth implements the OAuth authorization-code flow with PKCE and
// the token stores used for MCP server authentication.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/grip-agent/grip/internal/config"
)

// expirySkew treats tokens as expired shortly before their real deadline so
// in-flight requests do not race the expiry.
const expirySkew = 30 * time.Second

// StoredToken is a persisted OAuth token set. ExpiresAt is a unix timestamp;
// zero means the token never expires.
type StoredToken struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	ExpiresAt    int64    `json:"expires_at,omitempty"`
	TokenType    string   `json:"token_type,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// Expired reports whether the token is past (or within 30s of) its deadline.
func (t *StoredToken) Expired() bool {
	if t.ExpiresAt == 0 {
		return false
	}
	return time.Now().Unix() >= t.ExpiresAt-int64(expirySkew.Seconds())
}

// TokenStore maps a name (an MCP server or provider) to its StoredToken,
// persisted as a 0600 JSON file.
type TokenStore struct {
	path string

	mu     sync.Mutex
	tokens map[string]*StoredToken
}

// NewTokenStore loads the store at path, tolerating a missing file.
func NewTokenStore(path string) (*TokenStore, error) {
	s := &TokenStore{path: path, tokens: make(map[string]*StoredToken)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read token store: %w", err)
	}
	if err := json.Unmarshal(data, &s.tokens); err != nil {
		return nil, fmt.Errorf("parse token store: %w", err)
	}
	return s, nil
}

// Get returns the token for name.
func (s *TokenStore) Get(name string) (*StoredToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[name]
	return token, ok
}

// Put stores a token and persists the file at mode 0600.
func (s *TokenStore) Put(name string, token *StoredToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[name] = token
	return s.saveLocked()
}

// Delete removes a token and persists.
func (s *TokenStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, name)
	return s.saveLocked()
}

func (s *TokenStore) saveLocked() error {
	data, err := json.MarshalIndent(s.tokens, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(s.path, data, 0o600)
}
