// Package devotp keeps plaintext codes by notification key so they can be read back through
// GET /dev/codes/:key. Only wired when OTP_RETURN_TO_CLIENT is enabled outside production.
package devotp

import (
	"context"
	"sync"
	"time"
)

// Store holds plain codes by key for dev-only retrieval.
type Store interface {
	// Put stores code for key until expiresAt, replacing any previous code.
	Put(ctx context.Context, key, code string, expiresAt time.Time)
	// Get returns the code for key if present and not expired.
	Get(ctx context.Context, key string) (code string, ok bool)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev code store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores code for key until expiresAt. Expired entries are swept on every Put.
func (s *MemoryStore) Put(ctx context.Context, key, code string, expiresAt time.Time) {
	now := s.nowF()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.m {
		if !e.expiresAt.After(now) {
			delete(s.m, k)
		}
	}
	s.m[key] = entry{code: code, expiresAt: expiresAt}
}

// Get returns the code for key if present and not expired.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, key)
		s.mu.Unlock()
		return "", false
	}
	return e.code, true
}

// Len returns the number of stored entries, expired ones included until swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
