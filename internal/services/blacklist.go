package services

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errEmptyJTI = errors.New("empty token id")

// MemoryBlacklist keeps revoked token ids in process. Entries are pruned
// lazily once they pass their expiry.
type MemoryBlacklist struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (mb *MemoryBlacklist) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return errEmptyJTI
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()

	now := mb.now()
	for id, exp := range mb.revoked {
		if now.After(exp) {
			delete(mb.revoked, id)
		}
	}
	mb.revoked[jti] = expiresAt
	return nil
}

func (mb *MemoryBlacklist) IsRevoked(_ context.Context, jti string) (bool, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	exp, ok := mb.revoked[jti]
	return ok && !mb.now().After(exp), nil
}

func (mb *MemoryBlacklist) Len() int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.revoked)
}
