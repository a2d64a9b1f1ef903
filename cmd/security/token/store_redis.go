package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "warden:token:used:"

// RedisStore is a Store backed by Redis SET NX with a TTL that ends when the
// token would expire anyway. Keys hold a digest of the token id, never the id.
type RedisStore struct {
	rdb       redis.Cmdable
	prefix    string
	digestKey []byte
	now       func() time.Time
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisPrefix sets the key prefix (default "warden:token:used:").
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithDigestKey switches key digests from SHA-256 to HMAC-SHA256 under key.
func WithDigestKey(key []byte) RedisStoreOption {
	return func(s *RedisStore) { s.digestKey = append([]byte(nil), key...) }
}

// NewRedisStore returns a RedisStore over rdb. The client stays owned by the caller.
func NewRedisStore(rdb redis.Cmdable, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: defaultRedisPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Consume implements Store.
func (s *RedisStore) Consume(ctx context.Context, c Claims) error {
	if c.ID == "" {
		return ErrInvalidToken
	}

	ttl := c.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrInvalidToken
	}
	// Redis expiry granularity is milliseconds; keep at least one second.
	ttl = max(ttl, time.Second)

	ok, err := s.rdb.SetNX(ctx, s.key(c.ID), c.Audience, ttl).Result()
	if err != nil {
		return fmt.Errorf("token: redis consume: %w", err)
	}
	if !ok {
		return ErrTokenUsed
	}
	return nil
}

func (s *RedisStore) key(id string) string {
	if len(s.digestKey) > 0 {
		return s.prefix + HashHMACSHA256Hex(id, s.digestKey)
	}
	return s.prefix + HashSHA256Hex(id)
}
