package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces fingerprint keys.
const DefaultRedisPrefix = "xiim:fp:"

// RedisStore keeps fingerprints as plain keys; SETNX provides the
// uniqueness constraint. Keys never expire.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore wraps an existing client. An empty prefix uses
// DefaultRedisPrefix.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Key returns the redis key used for fingerprint.
func (s *RedisStore) Key(fingerprint string) string {
	return s.prefix + fingerprint
}

func (s *RedisStore) LookupFingerprint(ctx context.Context, fingerprint string) (string, bool, error) {
	id, err := s.client.Get(ctx, s.Key(fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get fingerprint: %w", err)
	}
	return id, true, nil
}

func (s *RedisStore) InsertFingerprint(ctx context.Context, fingerprint, requestID string) error {
	ok, err := s.client.SetNX(ctx, s.Key(fingerprint), requestID, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set fingerprint: %w", err)
	}
	if !ok {
		return ErrFingerprintExists
	}
	return nil
}
