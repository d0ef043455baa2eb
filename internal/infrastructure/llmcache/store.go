// Package llmcache provides the content-addressed response cache for LLM
// invocations, with differentiated TTLs and tag based invalidation.
package llmcache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Store.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("llmcache: miss")

// Store is the cache backend port. Entries are opaque byte payloads indexed
// by key and grouped by tags for bulk invalidation.
//
// Implementations do not coordinate concurrent writers; the dispatch layer
// tolerates duplicate upstream calls on concurrent misses.
type Store interface {
	// Has reports whether the key currently resolves to a live entry.
	Has(ctx context.Context, key string) bool
	// Get returns the payload for key, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores the payload under key for ttl and registers it under every
	// tag. A zero ttl stores without expiry.
	Set(ctx context.Context, key string, value []byte, tags []string, ttl time.Duration) error
	// Remove drops a single entry. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// FlushByTag drops every entry registered under the tag.
	FlushByTag(ctx context.Context, tag string) error
	// Flush drops all entries owned by this store.
	Flush(ctx context.Context) error
}
