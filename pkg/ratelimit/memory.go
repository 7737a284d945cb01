package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
)

// memoryShards keeps lock contention low under concurrent admission checks.
const memoryShards = 32

// MemoryStore is an in-process CounterStore. Counters are sharded by key
// hash; each shard holds a map of key to per-slot counts, pruned as slots
// rotate out of the window.
type MemoryStore struct {
	shards [memoryShards]memoryShard
}

type memoryShard struct {
	mu   sync.Mutex
	keys map[string]map[int64]int64
}

// NewMemoryStore creates an empty in-process counter store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].keys = make(map[string]map[int64]int64)
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%memoryShards]
}

// IncrementAndSum implements CounterStore. It never errors.
func (s *MemoryStore) IncrementAndSum(_ context.Context, key string, slot int64, numSlots int) (int64, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	slots, ok := sh.keys[key]
	if !ok {
		slots = make(map[int64]int64)
		sh.keys[key] = slots
	}
	slots[slot]++

	oldest := slot - int64(numSlots) + 1
	var total int64
	for sl, n := range slots {
		if sl < oldest {
			delete(slots, sl)
			continue
		}
		total += n
	}
	return total, nil
}

// Len reports the number of tracked keys, for tests and health reporting.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.Lock()
		n += len(s.shards[i].keys)
		s.shards[i].mu.Unlock()
	}
	return n
}
