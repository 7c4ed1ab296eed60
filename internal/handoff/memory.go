package handoff

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps transfers in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	t       Transfer
	expires time.Time
}

// NewMemoryStore returns a store with the given TTL (DefaultTTL if zero).
// now may be nil.
func NewMemoryStore(ttl time.Duration, now func() time.Time) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{ttl: ttl, now: now, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Put(ctx context.Context, key string, t Transfer) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{t: Sanitize(t), expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Take(ctx context.Context, key string) (Transfer, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Transfer{}, false, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Transfer{}, false, nil
	}
	delete(s.entries, key)
	if !s.now().Before(e.expires) {
		return Transfer{}, false, nil
	}
	return e.t, true, nil
}
