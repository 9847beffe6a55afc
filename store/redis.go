package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces mirrored records in Redis.
const DefaultKeyPrefix = "windowfence:"

// RedisStore mirrors window records into Redis as JSON, expiring each at its window's reset.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// Ensure RedisStore implements Mirror interface
var _ Mirror = (*RedisStore)(nil)

// RedisConfig for creating a Redis store
type RedisConfig struct {
	Addr      string // Redis address (e.g., "localhost:6379")
	Password  string // Redis password (empty for no auth)
	DB        int    // Redis database number
	KeyPrefix string // Defaults to DefaultKeyPrefix
}

// NewRedisStore creates a new Redis-backed mirror
func NewRedisStore(config RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return NewRedisStoreWithClient(client, config.KeyPrefix)
}

// NewRedisStoreWithClient wraps an existing client. An empty prefix uses DefaultKeyPrefix.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(identity string) string {
	return s.prefix + identity
}

// Save writes rec with the given TTL. A non-positive ttl deletes the key instead.
func (s *RedisStore) Save(ctx context.Context, rec Record, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx, rec.Identity)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(rec.Identity), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", rec.Identity, err)
	}
	return nil
}

// Get reads the record for identity.
func (s *RedisStore) Get(ctx context.Context, identity string) (Record, bool, error) {
	val, err := s.client.Get(ctx, s.key(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("redis get %s: %w", identity, err)
	}

	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return Record{}, false, fmt.Errorf("unmarshal record %s: %w", identity, err)
	}
	return rec, true, nil
}

// Delete removes the record for identity.
func (s *RedisStore) Delete(ctx context.Context, identity string) error {
	if err := s.client.Del(ctx, s.key(identity)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", identity, err)
	}
	return nil
}

// Clear removes all keys under the prefix.
func (s *RedisStore) Clear(ctx context.Context) (int, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return int(del.Val()), nil
}

// Ping checks if Redis connection is alive
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
