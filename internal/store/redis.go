package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// indexKey holds the set of commitment cache keys for list scans, so List
// never needs a KEYS sweep.
const indexKey = "positions:index"

// RedisStore implements Store on Redis. Each position is a JSON value under
// its commitment cache key, tracked in a set for listing.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) List(ctx context.Context) ([]Position, error) {
	keys, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	out := make([]Position, 0, len(keys))
	for _, key := range keys {
		p, err := s.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			// Index entry outlived its value; heal the index.
			s.rdb.SRem(ctx, indexKey, key)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Position, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", key, err)
	}
	var p Position
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode position %s: %w", key, err)
	}
	return &p, nil
}

func (s *RedisStore) Put(ctx context.Context, p *Position) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	key := p.Key()
	if err := s.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("put position %s: %w", key, err)
	}
	return s.rdb.SAdd(ctx, indexKey, key).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete position %s: %w", key, err)
	}
	return s.rdb.SRem(ctx, indexKey, key).Err()
}

var _ Store = (*RedisStore)(nil)
