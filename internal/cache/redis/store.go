package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tourops/internal/cache"
)

const scanBatch = 200

// Store is the networked Cache Store. Each primitive maps to one Redis command.
// The client lifecycle is owned by the caller unless WithOwnedClient is set.
type Store struct {
	client redis.UniversalClient
	owned  bool
}

// Option configures a Store.
type Option func(*Store)

// WithOwnedClient makes Close also close the underlying client.
func WithOwnedClient() Option {
	return func(s *Store) {
		s.owned = true
	}
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	return v, translate(err)
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return translate(s.client.Set(ctx, key, value, 0).Err())
}

func (s *Store) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return translate(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	return ok, translate(err)
}

func (s *Store) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	return n, translate(err)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, translate(err)
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	return ok, translate(err)
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, translate(err)
	}
	// go-redis passes Redis' -2 (missing) and -1 (no expiry) through unscaled.
	switch d {
	case -2:
		return 0, cache.ErrMiss
	case -1:
		return cache.NoExpiry, nil
	}
	return d, nil
}

func (s *Store) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	n, err := s.client.LPush(ctx, key, args...).Result()
	return n, translate(err)
}

func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	v, err := s.client.LRange(ctx, key, start, stop).Result()
	return v, translate(err)
}

func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	return translate(s.client.LTrim(ctx, key, start, stop).Err())
}

func (s *Store) ZAdd(ctx context.Context, key string, members ...cache.Member) error {
	if len(members) == 0 {
		return nil
	}
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Name}
	}
	return translate(s.client.ZAdd(ctx, key, zs...).Err())
}

func (s *Store) ZRange(ctx context.Context, key string, start, stop int64) ([]cache.Member, error) {
	zs, err := s.client.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, translate(err)
	}
	return toMembers(zs), nil
}

func (s *Store) ZRevRange(ctx context.Context, key string, start, stop int64) ([]cache.Member, error) {
	zs, err := s.client.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, translate(err)
	}
	return toMembers(zs), nil
}

func (s *Store) ZIncrBy(ctx context.Context, key, member string, increment float64) (float64, error) {
	v, err := s.client.ZIncrBy(ctx, key, increment, member).Result()
	return v, translate(err)
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	return n, translate(err)
}

// Scan walks the keyspace with SCAN cursors; it never blocks the server like KEYS.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	keys := []string{}
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, translate(err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (s *Store) FlushAll(ctx context.Context) error {
	return translate(s.client.FlushDB(ctx).Err())
}

func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

func toMembers(zs []redis.Z) []cache.Member {
	out := make([]cache.Member, 0, len(zs))
	for _, z := range zs {
		name, _ := z.Member.(string)
		out = append(out, cache.Member{Name: name, Score: z.Score})
	}
	return out
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return cache.ErrMiss
	case strings.HasPrefix(err.Error(), "WRONGTYPE"):
		return cache.ErrWrongType
	default:
		return err
	}
}

var _ cache.Store = (*Store)(nil)
