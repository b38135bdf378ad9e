package replycache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Store is a process-wide, advisory cache from normalized utterance text to a
// previously produced reply. It must be safe for concurrent use across
// sessions. Lookups never fail loudly: any backend error is reported as a
// miss by the callers of this package.
type Store interface {
	Get(ctx context.Context, utterance string) (string, bool)
	Put(ctx context.Context, utterance, reply string)
}

// Normalize produces the cache key for an utterance: lowercased with runs of
// whitespace collapsed to single spaces.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

type memoryEntry struct {
	reply     string
	createdAt time.Time
}

// MemoryStore is the default in-process backend. Entries expire after ttl on
// access; a zero ttl keeps them forever.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, utterance string) (string, bool) {
	key := Normalize(utterance)
	if key == "" {
		return "", false
	}

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if s.ttl > 0 && s.now().Sub(entry.createdAt) > s.ttl {
		s.mu.Lock()
		// Re-check under the write lock: a concurrent Put may have refreshed it.
		if cur, ok := s.entries[key]; ok && s.now().Sub(cur.createdAt) > s.ttl {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return "", false
	}
	return entry.reply, true
}

func (s *MemoryStore) Put(_ context.Context, utterance, reply string) {
	key := Normalize(utterance)
	if key == "" || strings.TrimSpace(reply) == "" {
		return
	}
	s.mu.Lock()
	s.entries[key] = memoryEntry{reply: reply, createdAt: s.now()}
	s.mu.Unlock()
}

// Len reports the number of live entries, for tests and diagnostics.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
