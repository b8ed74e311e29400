// Package breaker guards a Cache Store with a circuit breaker. After a run of
// backend failures every call fails fast with cache.ErrUnavailable until the
// cooldown elapses and enough probe calls succeed.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tourops/internal/cache"
	"tourops/pkg/platform/circuit"
)

// Store wraps another cache.Store.
type Store struct {
	next    cache.Store
	circuit *circuit.Breaker
	logger  *slog.Logger
}

var _ cache.Store = (*Store)(nil)

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithBreaker replaces the default breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Store) {
		if b != nil {
			s.circuit = b
		}
	}
}

func New(next cache.Store, opts ...Option) *Store {
	s := &Store{next: next}
	for _, opt := range opts {
		opt(s)
	}
	if s.circuit == nil {
		s.circuit = circuit.New("cache")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "cache_breaker", "circuit", s.circuit.Name())
	return s
}

// State reports the current circuit state.
func (s *Store) State() circuit.State {
	return s.circuit.State()
}

// failed reports whether err counts against the backend. Misses and type
// errors are answers; caller cancellation says nothing about backend health.
func failed(err error) bool {
	return err != nil &&
		!errors.Is(err, cache.ErrMiss) &&
		!errors.Is(err, cache.ErrWrongType) &&
		!errors.Is(err, context.Canceled)
}

func call[T any](ctx context.Context, s *Store, op string, fn func() (T, error)) (T, error) {
	if !s.circuit.Allow() {
		var zero T
		return zero, cache.ErrUnavailable
	}
	v, err := fn()
	switch {
	case failed(err):
		if _, change := s.circuit.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "cache circuit opened", "op", op, "error", err)
		}
	case errors.Is(err, context.Canceled):
	default:
		if _, change := s.circuit.RecordSuccess(); change.Closed {
			s.logger.InfoContext(ctx, "cache circuit closed", "op", op)
		}
	}
	return v, err
}

func exec(ctx context.Context, s *Store, op string, fn func() error) error {
	_, err := call(ctx, s, op, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	return call(ctx, s, "get", func() (string, error) { return s.next.Get(ctx, key) })
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return exec(ctx, s, "set", func() error { return s.next.Set(ctx, key, value) })
}

func (s *Store) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return exec(ctx, s, "setex", func() error { return s.next.SetEx(ctx, key, value, ttl) })
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return call(ctx, s, "setnx", func() (bool, error) { return s.next.SetNX(ctx, key, value, ttl) })
}

func (s *Store) Delete(ctx context.Context, keys ...string) (int64, error) {
	return call(ctx, s, "delete", func() (int64, error) { return s.next.Delete(ctx, keys...) })
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return call(ctx, s, "exists", func() (bool, error) { return s.next.Exists(ctx, key) })
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return call(ctx, s, "expire", func() (bool, error) { return s.next.Expire(ctx, key, ttl) })
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	return call(ctx, s, "ttl", func() (time.Duration, error) { return s.next.TTL(ctx, key) })
}

func (s *Store) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	return call(ctx, s, "lpush", func() (int64, error) { return s.next.LPush(ctx, key, values...) })
}

func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return call(ctx, s, "lrange", func() ([]string, error) { return s.next.LRange(ctx, key, start, stop) })
}

func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	return exec(ctx, s, "ltrim", func() error { return s.next.LTrim(ctx, key, start, stop) })
}

func (s *Store) ZAdd(ctx context.Context, key string, members ...cache.Member) error {
	return exec(ctx, s, "zadd", func() error { return s.next.ZAdd(ctx, key, members...) })
}

func (s *Store) ZRange(ctx context.Context, key string, start, stop int64) ([]cache.Member, error) {
	return call(ctx, s, "zrange", func() ([]cache.Member, error) { return s.next.ZRange(ctx, key, start, stop) })
}

func (s *Store) ZRevRange(ctx context.Context, key string, start, stop int64) ([]cache.Member, error) {
	return call(ctx, s, "zrevrange", func() ([]cache.Member, error) { return s.next.ZRevRange(ctx, key, start, stop) })
}

func (s *Store) ZIncrBy(ctx context.Context, key, member string, increment float64) (float64, error) {
	return call(ctx, s, "zincrby", func() (float64, error) { return s.next.ZIncrBy(ctx, key, member, increment) })
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return call(ctx, s, "incr", func() (int64, error) { return s.next.Incr(ctx, key) })
}

func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	return call(ctx, s, "scan", func() ([]string, error) { return s.next.Scan(ctx, pattern) })
}

func (s *Store) FlushAll(ctx context.Context) error {
	return exec(ctx, s, "flushall", func() error { return s.next.FlushAll(ctx) })
}

// Close always reaches the wrapped store.
func (s *Store) Close() error {
	return s.next.Close()
}
