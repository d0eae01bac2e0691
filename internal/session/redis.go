package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dlatjsrb112-dev/final3/internal/models"
)

const keyPrefix = "newsbot:session:"

// Redis stores sessions as JSON values that expire after ttl of inactivity.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, id string) (models.SessionContext, error) {
	data, err := r.rdb.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.SessionContext{}, ErrNotFound
	}
	if err != nil {
		return models.SessionContext{}, fmt.Errorf("get session: %w", err)
	}

	var sc models.SessionContext
	if err := json.Unmarshal(data, &sc); err != nil {
		return models.SessionContext{}, fmt.Errorf("decode session: %w", err)
	}
	return sc, nil
}

func (r *Redis) Save(ctx context.Context, id string, sc models.SessionContext) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.rdb.Set(ctx, keyPrefix+id, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
