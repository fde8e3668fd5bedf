package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps timestamps in process memory. Suitable for a single
// instance and for tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]int64)}
}

func (s *MemoryStore) Consume(ctx context.Context, key string, now time.Time, rules []Rule) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now.Unix()
	pruneAll(s.entries, ts, maxWindow(rules))

	stamps, allowed := evaluate(s.entries[key], ts, rules)
	if allowed {
		s.entries[key] = stamps
	}
	return allowed, nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// pruneAll drops stale timestamps for every key and forgets empty keys.
func pruneAll(entries map[string][]int64, now, horizon int64) {
	for k, stamps := range entries {
		kept := prune(stamps, now, horizon)
		if len(kept) == 0 {
			delete(entries, k)
			continue
		}
		entries[k] = kept
	}
}
