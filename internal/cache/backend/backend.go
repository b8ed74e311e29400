// Package backend selects the Cache Store implementation from configuration.
package backend

import (
	"errors"
	"fmt"

	"tourops/internal/cache"
	"tourops/internal/cache/memory"
	cacheredis "tourops/internal/cache/redis"
	"tourops/internal/platform/config"
	platformredis "tourops/internal/platform/redis"
)

// ErrRedisUnavailable is returned when the redis backend is selected without a client.
var ErrRedisUnavailable = errors.New("redis cache backend selected but no redis client configured")

// New returns the configured Cache Store. The memory store is returned as its
// concrete type when selected so callers can schedule sweeps against it.
func New(cfg config.CacheConfig, client *platformredis.Client) (cache.Store, *memory.Store, error) {
	switch cfg.Backend {
	case config.CacheBackendMemory, "":
		mem := memory.New()
		return mem, mem, nil
	case config.CacheBackendRedis:
		if client == nil {
			return nil, nil, ErrRedisUnavailable
		}
		return cacheredis.New(client.Client), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
