// Package cache provides the shared response cache backed by Redis.
//
// The cache is a best-effort layer: a failure of the backing store is never
// surfaced to callers. Reads degrade to a miss and writes are silently
// dropped, so a degraded cache only costs latency, never correctness.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Store is a TTL key-value cache shared across in-flight requests.
type Store struct {
	client *redis.Client
	logger *logrus.Logger

	hits   int64
	misses int64
}

// Stats reports cache effectiveness for the admin surface.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int64 `json:"size"`
}

// New creates a Store on top of an existing Redis client.
func New(client *redis.Client, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{client: client, logger: logger}
}

// Key derives a deterministic cache key from the semantically relevant parts
// of an input. Parts are joined before hashing so that ("ab","c") and
// ("a","bc") produce different keys.
func Key(namespace string, parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return namespace + ":" + hex.EncodeToString(h[:])
}

// Get loads a cached value into dest. Returns false on a miss or on any
// backing-store failure.
func (s *Store) Get(ctx context.Context, key string, dest interface{}) bool {
	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.WithError(err).WithField("key", key).Debug("cache get failed, treating as miss")
		}
		atomic.AddInt64(&s.misses, 1)
		return false
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("cache entry undecodable, treating as miss")
		atomic.AddInt64(&s.misses, 1)
		return false
	}
	atomic.AddInt64(&s.hits, 1)
	return true
}

// Put stores a value with the given TTL. Best effort: failures are logged
// and dropped.
func (s *Store) Put(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("cache value not serializable")
		return
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.logger.WithError(err).WithField("key", key).Debug("cache put failed, dropping write")
	}
}

// Stats returns hit/miss counters and the current key count. Size is zero
// when the backing store is unreachable.
func (s *Store) Stats(ctx context.Context) Stats {
	size, err := s.client.DBSize(ctx).Result()
	if err != nil {
		size = 0
	}
	return Stats{
		Hits:   atomic.LoadInt64(&s.hits),
		Misses: atomic.LoadInt64(&s.misses),
		Size:   size,
	}
}

// Ping reports whether the backing store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
