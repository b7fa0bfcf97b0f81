package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/wanderlustcms/api/internal/clock"
)

const shardCount = 32

// MemoryStore is an in-process CounterStore. Keys are spread across
// mutex-guarded shards so concurrent increments on unrelated keys never
// contend on a single lock.
type MemoryStore struct {
	shards  [shardCount]*memoryShard
	clk     clock.Clock
	janitor *janitor
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore creates a MemoryStore and starts its cleanup goroutine.
// Call Close when done to stop it.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	s := &MemoryStore{clk: clk}
	for i := range s.shards {
		s.shards[i] = &memoryShard{entries: make(map[string]*memoryEntry)}
	}

	s.janitor = &janitor{
		interval: time.Minute,
		stop:     make(chan struct{}),
	}
	go s.janitor.run(s)

	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, time.Time, error) {
	now := s.clk.Now()
	sh := s.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.entries[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &memoryEntry{count: 0, expiresAt: now.Add(ttl)}
		sh.entries[key] = entry
	}
	entry.count++

	return entry.count, entry.expiresAt, nil
}

func (s *MemoryStore) Peek(_ context.Context, key string) (int64, time.Time, bool, error) {
	now := s.clk.Now()
	sh := s.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.entries[key]
	if !ok || now.After(entry.expiresAt) {
		return 0, time.Time{}, false, nil
	}

	return entry.count, entry.expiresAt, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	sh := s.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	delete(sh.entries, key)
	return nil
}

// Close stops the cleanup goroutine
func (s *MemoryStore) Close() error {
	if s.janitor != nil {
		close(s.janitor.stop)
	}
	return nil
}

// janitor runs periodic cleanup of expired counters
type janitor struct {
	interval time.Duration
	stop     chan struct{}
}

func (j *janitor) run(s *MemoryStore) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-j.stop:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	now := s.clk.Now()
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, entry := range sh.entries {
			if now.After(entry.expiresAt) {
				delete(sh.entries, key)
			}
		}
		sh.mu.Unlock()
	}
}
