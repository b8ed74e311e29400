// Package cache defines the Cache Store: a TTL-capable key-value, list and
// sorted-set primitive set. The store is a lossy accelerator and never a
// system of record; callers treat every error as a miss.
//
// Two implementations satisfy the interface with identical semantics:
// cache/redis (networked) and cache/memory (in-process). cache/backend picks
// one from configuration at construction time.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss is returned when a key does not exist or has expired.
	ErrMiss = errors.New("cache miss")
	// ErrWrongType is returned when a key holds a value of another kind.
	ErrWrongType = errors.New("cache key holds the wrong kind of value")
	// ErrUnavailable is returned without contacting the backend while its
	// circuit is open.
	ErrUnavailable = errors.New("cache unavailable")
)

// NoExpiry is the TTL reported for a key that exists without an expiry.
const NoExpiry time.Duration = -1

// Member is one element of a sorted set.
type Member struct {
	Name  string
	Score float64
}

// Store is the primitive set every backend implements. Ranges follow Redis
// index semantics: inclusive stop, negative indices count from the end.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only when absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)

	LPush(ctx context.Context, key string, values ...string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error

	ZAdd(ctx context.Context, key string, members ...Member) error
	ZRange(ctx context.Context, key string, start, stop int64) ([]Member, error)
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]Member, error)
	ZIncrBy(ctx context.Context, key, member string, increment float64) (float64, error)

	Incr(ctx context.Context, key string) (int64, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
	FlushAll(ctx context.Context) error
	Close() error
}
