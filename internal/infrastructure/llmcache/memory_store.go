package llmcache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultMemoryStoreSize bounds the in-process cache when no size is given.
const DefaultMemoryStoreSize = 1024

type memoryEntry struct {
	value     []byte
	tags      []string
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore implements Store in process on an LRU cache, for single node
// deployments and tests. Expiry is enforced lazily on read; evicted and
// removed entries are pruned from the tag index through the LRU eviction
// callback.
type MemoryStore struct {
	mu sync.Mutex
	// All lru operations happen under mu; the eviction callback relies on
	// that and touches the tag index without additional locking.
	lru  *lru.Cache
	tags map[string]map[string]struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore builds a bounded in-memory store. A non-positive size falls
// back to DefaultMemoryStoreSize.
func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemoryStoreSize
	}

	s := &MemoryStore{
		tags: make(map[string]map[string]struct{}),
	}

	cache, err := lru.NewWithEvict(size, func(key, value any) {
		entry, ok := value.(*memoryEntry)
		if !ok {
			return
		}
		keyStr, ok := key.(string)
		if !ok {
			return
		}
		s.dropFromTags(keyStr, entry.tags)
	})
	if err != nil {
		return nil, err
	}
	s.lru = cache

	return s, nil
}

// dropFromTags removes the key from each tag set. Caller holds mu.
func (s *MemoryStore) dropFromTags(key string, tags []string) {
	for _, tag := range tags {
		if members, ok := s.tags[tag]; ok {
			delete(members, key)
			if len(members) == 0 {
				delete(s.tags, tag)
			}
		}
	}
}

// Has reports whether the key resolves to a live entry.
func (s *MemoryStore) Has(ctx context.Context, key string) bool {
	_, err := s.Get(ctx, key)
	return err == nil
}

// Get returns the payload or ErrCacheMiss. Expired entries are removed on
// sight.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.lru.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	entry, ok := raw.(*memoryEntry)
	if !ok {
		return nil, ErrCacheMiss
	}
	if entry.expired(time.Now()) {
		s.lru.Remove(key)
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

// Set stores the payload and registers the key under its tags.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, tags []string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &memoryEntry{value: value, tags: tags}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	// Replacing a key does not fire the eviction callback, so stale tag
	// memberships of the previous entry are pruned here first.
	if raw, ok := s.lru.Peek(key); ok {
		if old, ok := raw.(*memoryEntry); ok {
			s.dropFromTags(key, old.tags)
		}
	}

	s.lru.Add(key, entry)
	for _, tag := range tags {
		members, ok := s.tags[tag]
		if !ok {
			members = make(map[string]struct{})
			s.tags[tag] = members
		}
		members[key] = struct{}{}
	}
	return nil
}

// Remove drops a single entry.
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lru.Remove(key)
	return nil
}

// FlushByTag drops every entry registered under the tag.
func (s *MemoryStore) FlushByTag(_ context.Context, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.tags[tag]
	if !ok {
		return nil
	}

	keys := make([]string, 0, len(members))
	for key := range members {
		keys = append(keys, key)
	}
	for _, key := range keys {
		s.lru.Remove(key)
	}
	delete(s.tags, tag)
	return nil
}

// Flush drops all entries.
func (s *MemoryStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lru.Purge()
	s.tags = make(map[string]map[string]struct{})
	return nil
}

// Len returns the number of live or lazily expired entries still held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}
