package app

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Pinger is satisfied by every surcharge store backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Readiness probes the surcharge store and Redis for /health/ready.
type Readiness struct {
	Store Pinger
	Redis *redis.Client
}

func (c Readiness) PingStore(ctx context.Context, timeout time.Duration) error {
	if c.Store == nil {
		return errors.New("store not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Store.Ping(ctx)
}

func (c Readiness) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Redis.Ping(ctx).Err()
}
