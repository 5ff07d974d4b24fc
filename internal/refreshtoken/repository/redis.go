package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tenant-auth-service/internal/refreshtoken/domain"
)

// RedisStore persists refresh token records as JSON under "<prefix><id>" with
// the key TTL set to the record's expiry. Redis evicts expired records on its own.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore returns a Redis-backed store. Prefix may be empty.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "refresh:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Create stores a record with a new UUID v4 id. The write uses SET NX so an id collision
// is a failure rather than an overwrite.
func (s *RedisStore) Create(ctx context.Context, principalID int64) (*domain.Record, error) {
	now := s.now().UTC()
	rec := &domain.Record{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		ExpiresAt:   now.Add(s.ttl),
		CreatedAt:   now,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrPersistence, err)
	}
	ok, err := s.client.SetNX(ctx, s.key(rec.ID), b, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: create: %v", ErrPersistence, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: create: id %s already exists", ErrPersistence, rec.ID)
	}
	return rec, nil
}

// DeleteByID removes the record. Deleting an absent key is a no-op.
func (s *RedisStore) DeleteByID(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrPersistence, err)
	}
	return nil
}

// ConsumeByID deletes the record and reports whether the key existed.
func (s *RedisStore) ConsumeByID(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: consume: %v", ErrPersistence, err)
	}
	return n > 0, nil
}

// FindByID returns the record for id, or nil if not found or already evicted.
func (s *RedisStore) FindByID(ctx context.Context, id string) (*domain.Record, error) {
	b, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: find: %v", ErrPersistence, err)
	}
	var rec domain.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrPersistence, err)
	}
	return &rec, nil
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
