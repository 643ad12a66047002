package statestore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Redis persiste snapshots como JSON em chaves "<prefix><key>" sem TTL.
type Redis struct {
	R      *redis.Client
	Prefix string
}

func NewRedis(r *redis.Client, prefix string) *Redis { return &Redis{R: r, Prefix: prefix} }

func (s *Redis) Load(ctx context.Context, key string, dst any) (bool, error) {
	b, err := s.R.Get(ctx, s.Prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, dst)
}

func (s *Redis) Save(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.R.Set(ctx, s.Prefix+key, b, 0).Err()
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	return s.R.Del(ctx, s.Prefix+key).Err()
}
