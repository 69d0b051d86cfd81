package session

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/voxdial/voxdial/internal/config"
)

// Store type names accepted by the factory.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreToken  = "token"
)

// NewTracker builds the tracker named by cfg.Store.
func NewTracker(cfg config.SessionConfig, seed Seed) (Tracker, error) {
	switch cfg.Store {
	case StoreMemory, "":
		return NewMemoryTracker(seed), nil
	case StoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return NewRedisTracker(seed, redis.NewClient(opts), cfg.RedisTTL), nil
	case StoreToken:
		return NewTokenTracker(seed), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStoreType, cfg.Store)
	}
}
