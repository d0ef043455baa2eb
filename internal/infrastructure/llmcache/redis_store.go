package llmcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultKeyPrefix namespaces every key this module writes into Redis.
const DefaultKeyPrefix = "llmrelay"

// RedisStore implements Store on a shared Redis deployment. Tags are kept as
// sets of member entry keys; members of removed entries stay in their tag
// sets until the tag is flushed, which is harmless because unlinking an
// absent key is a no-op.
type RedisStore struct {
	client redis.UniversalClient
	rs     *redsync.Redsync
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to the given Redis endpoint(s) and verifies the
// connection. redisURL accepts a single URL, a comma separated list of URLs
// or bare host:port addresses for cluster setups.
func NewRedisStore(redisURL, prefix string) (*RedisStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("Redis URL must be provided")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	opts, err := buildUniversalOptions(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if len(opts.Addrs) > 1 && opts.DB != 0 {
		log.Warn().Msg("Ignoring non-zero DB when using Redis Cluster configuration")
		opts.DB = 0
	}

	client := redis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("prefix", prefix).Msg("Connected to Redis response cache")
	return &RedisStore{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: prefix,
	}, nil
}

func buildUniversalOptions(raw string) (*redis.UniversalOptions, error) {
	parts := strings.Split(raw, ",")
	opts := &redis.UniversalOptions{}

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "://") {
			parsed, err := redis.ParseURL(part)
			if err != nil {
				return nil, err
			}

			opts.Addrs = append(opts.Addrs, parsed.Addr)

			if opts.Username == "" {
				opts.Username = parsed.Username
			}
			if opts.Password == "" {
				opts.Password = parsed.Password
			}
			if opts.DB == 0 {
				opts.DB = parsed.DB
			}
			if opts.TLSConfig == nil {
				opts.TLSConfig = parsed.TLSConfig
			}
			if opts.DialTimeout == 0 {
				opts.DialTimeout = parsed.DialTimeout
			}
			if opts.ReadTimeout == 0 {
				opts.ReadTimeout = parsed.ReadTimeout
			}
			if opts.WriteTimeout == 0 {
				opts.WriteTimeout = parsed.WriteTimeout
			}
			if opts.PoolSize == 0 {
				opts.PoolSize = parsed.PoolSize
			}
		} else {
			opts.Addrs = append(opts.Addrs, part)
		}
	}

	if len(opts.Addrs) == 0 {
		return nil, fmt.Errorf("no Redis addresses provided")
	}

	return opts, nil
}

func (r *RedisStore) entryKey(key string) string {
	return r.prefix + ":cache:" + key
}

func (r *RedisStore) tagKey(tag string) string {
	return r.prefix + ":tag:" + tag
}

// Has reports whether the entry exists.
func (r *RedisStore) Has(ctx context.Context, key string) bool {
	count, err := r.client.Exists(ctx, r.entryKey(key)).Result()
	if err != nil {
		return false
	}
	return count > 0
}

// Get returns the payload or ErrCacheMiss.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.entryKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get value from cache: %w", err)
	}
	return val, nil
}

// Set stores the payload and registers the entry under its tags in one
// pipeline round trip.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, tags []string, ttl time.Duration) error {
	entry := r.entryKey(key)

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, entry, value, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, r.tagKey(tag), entry)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Remove drops a single entry.
func (r *RedisStore) Remove(ctx context.Context, key string) error {
	return r.client.Unlink(ctx, r.entryKey(key)).Err()
}

// FlushByTag unlinks every member of the tag set, then the set itself.
func (r *RedisStore) FlushByTag(ctx context.Context, tag string) error {
	tagSet := r.tagKey(tag)

	members, err := r.client.SMembers(ctx, tagSet).Result()
	if err != nil {
		return fmt.Errorf("failed to read tag members: %w", err)
	}

	pipe := r.client.TxPipeline()
	if len(members) > 0 {
		pipe.Unlink(ctx, members...)
	}
	pipe.Del(ctx, tagSet)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to flush tag %q: %w", tag, err)
	}
	return nil
}

// Flush drops every entry and tag set under this store's prefix.
func (r *RedisStore) Flush(ctx context.Context) error {
	if err := r.deletePattern(ctx, r.prefix+":cache:*"); err != nil {
		return err
	}
	return r.deletePattern(ctx, r.prefix+":tag:*")
}

func (r *RedisStore) deletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}
		if len(keys) > 0 {
			pipe := r.client.Pipeline()
			for _, k := range keys {
				pipe.Unlink(ctx, k)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("failed to unlink keys: %w", err)
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return nil
}

// WithLock runs fn under a distributed mutex, so work like catalog sync runs
// on a single replica at a time.
func (r *RedisStore) WithLock(lockName string, ttl time.Duration, fn func() error) error {
	mutex := r.rs.NewMutex(r.prefix+":lock:"+lockName, redsync.WithExpiry(ttl))

	if err := mutex.Lock(); err != nil {
		return err
	}

	defer func() {
		if _, err := mutex.Unlock(); err != nil {
			log.Error().Err(err).Str("lock", lockName).Msg("Failed to unlock mutex")
		}
	}()

	return fn()
}

// HealthCheck pings the backend.
func (r *RedisStore) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client connections.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
