package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dlatjsrb112-dev/final3/internal/cache"
	"github.com/dlatjsrb112-dev/final3/internal/config"
	"github.com/dlatjsrb112-dev/final3/internal/models"
)

// ErrNotFound is returned by Get for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// Store keeps one SessionContext per session id.
type Store interface {
	Get(ctx context.Context, id string) (models.SessionContext, error)
	Save(ctx context.Context, id string, sc models.SessionContext) error
	Delete(ctx context.Context, id string) error
}

// New opens the backend selected in cfg.
func New(ctx context.Context, cfg config.Session, log *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemory(cfg.Capacity, cfg.TTL), nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		if log != nil {
			log.Info("session store ready", slog.String("backend", "redis"), slog.String("addr", opts.Addr))
		}
		return NewRedis(rdb, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported session backend %q", cfg.Backend)
	}
}

// Memory keeps sessions in process. Sessions are lost on restart.
type Memory struct {
	c *cache.Cache[models.SessionContext]
}

// NewMemory creates an in-process store holding at most capacity sessions for ttl each.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	return &Memory{c: cache.New[models.SessionContext](capacity, ttl)}
}

func (m *Memory) Get(_ context.Context, id string) (models.SessionContext, error) {
	sc, ok := m.c.Get(id)
	if !ok {
		return models.SessionContext{}, ErrNotFound
	}
	return clone(sc), nil
}

func (m *Memory) Save(_ context.Context, id string, sc models.SessionContext) error {
	m.c.Set(id, clone(sc))
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.c.Delete(id)
	return nil
}

// clone copies the slices so callers never share backing arrays with the store.
func clone(sc models.SessionContext) models.SessionContext {
	out := sc
	if sc.Articles != nil {
		out.Articles = append([]models.Article(nil), sc.Articles...)
	}
	if sc.History != nil {
		out.History = append([]models.ChatTurn(nil), sc.History...)
	}
	return out
}
