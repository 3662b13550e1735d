package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process counter store.
//
// Deployment constraint: counters are local to the process, so limits are
// enforced per instance, not globally. Use RedisStore when running more
// than one instance.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memCounter
	stop     chan struct{}
}

type memCounter struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory counter store with background cleanup.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		counters: make(map[string]*memCounter),
		stop:     make(chan struct{}),
	}
	go s.cleanup()
	return s
}

func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, c := range s.counters {
				if c.expiresAt.Before(now) {
					delete(s.counters, key)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine.
func (s *MemoryStore) Stop() {
	close(s.stop)
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	c, ok := s.counters[key]
	if !ok || c.expiresAt.Before(now) {
		c = &memCounter{expiresAt: now.Add(ttl)}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || c.expiresAt.Before(time.Now()) {
		return 0, nil
	}
	return c.count, nil
}

// Compile-time assertion that MemoryStore implements CounterStore.
var _ CounterStore = (*MemoryStore)(nil)
