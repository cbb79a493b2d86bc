package models

import (
	"strings"
	"time"
)

// Session is a durable conversation stream identified by a "<channel>:<id>"
// key, e.g. "telegram:12345" or "cli:default". Messages append monotonically;
// consolidation prunes the oldest messages in place and records them in
// Summary.
type Session struct {
	Key       string    `json:"key"`
	Messages  []Message `json:"messages"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Append adds messages and bumps the update timestamp.
func (s *Session) Append(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
	s.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep-enough copy: the message slice is duplicated so the
// caller can append without aliasing the original.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Messages = make([]Message, len(s.Messages))
	copy(clone.Messages, s.Messages)
	return &clone
}

// Tail returns the last n messages (all of them when n <= 0 or n exceeds the
// message count).
func (s *Session) Tail(n int) []Message {
	if n <= 0 || n >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// SanitizeKey maps a session key to a filesystem-safe name: every byte
// outside [A-Za-z0-9_.-] becomes an underscore.
func SanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
