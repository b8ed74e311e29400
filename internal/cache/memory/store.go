package memory

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"tourops/internal/cache"
)

type kind int

const (
	kindString kind = iota
	kindList
	kindZSet
)

type entry struct {
	kind      kind
	str       string
	list      []string
	zset      map[string]float64
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is the in-process Cache Store. Expired keys are evicted lazily on
// access and eagerly by Sweep.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source; used by tests to step past TTLs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	s := &Store{entries: make(map[string]*entry), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lookup returns the live entry for key. Must be called with s.mu held.
func (s *Store) lookup(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return "", cache.ErrMiss
	}
	if e.kind != kindString {
		return "", cache.ErrWrongType
	}
	return e.str, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.SetEx(ctx, key, value, 0)
}

func (s *Store) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry{kind: kindString, str: value, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *Store) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookup(key) != nil {
		return false, nil
	}
	s.entries[key] = &entry{kind: kindString, str: value, expiresAt: s.deadline(ttl)}
	return true, nil
}

func (s *Store) Delete(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, key := range keys {
		if s.lookup(key) != nil {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(key) != nil, nil
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return false, nil
	}
	if ttl <= 0 {
		delete(s.entries, key)
		return true, nil
	}
	e.expiresAt = s.now().Add(ttl)
	return true, nil
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return 0, cache.ErrMiss
	}
	if e.expiresAt.IsZero() {
		return cache.NoExpiry, nil
	}
	return e.expiresAt.Sub(s.now()), nil
}

func (s *Store) LPush(_ context.Context, key string, values ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		e = &entry{kind: kindList}
		s.entries[key] = e
	}
	if e.kind != kindList {
		return 0, cache.ErrWrongType
	}
	// LPUSH inserts each value at the head in argument order.
	head := make([]string, 0, len(values)+len(e.list))
	for i := len(values) - 1; i >= 0; i-- {
		head = append(head, values[i])
	}
	e.list = append(head, e.list...)
	return int64(len(e.list)), nil
}

func (s *Store) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return []string{}, nil
	}
	if e.kind != kindList {
		return nil, cache.ErrWrongType
	}
	from, to, ok := normalizeRange(start, stop, int64(len(e.list)))
	if !ok {
		return []string{}, nil
	}
	out := make([]string, to-from+1)
	copy(out, e.list[from:to+1])
	return out, nil
}

func (s *Store) LTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return nil
	}
	if e.kind != kindList {
		return cache.ErrWrongType
	}
	from, to, ok := normalizeRange(start, stop, int64(len(e.list)))
	if !ok {
		delete(s.entries, key)
		return nil
	}
	e.list = append([]string(nil), e.list[from:to+1]...)
	return nil
}

func (s *Store) ZAdd(_ context.Context, key string, members ...cache.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.zset(key)
	if err != nil {
		return err
	}
	for _, m := range members {
		e.zset[m.Name] = m.Score
	}
	return nil
}

func (s *Store) ZIncrBy(_ context.Context, key, member string, increment float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.zset(key)
	if err != nil {
		return 0, err
	}
	e.zset[member] += increment
	return e.zset[member], nil
}

func (s *Store) ZRange(_ context.Context, key string, start, stop int64) ([]cache.Member, error) {
	return s.zrange(key, start, stop, false)
}

func (s *Store) ZRevRange(_ context.Context, key string, start, stop int64) ([]cache.Member, error) {
	return s.zrange(key, start, stop, true)
}

func (s *Store) zrange(key string, start, stop int64, reverse bool) ([]cache.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return []cache.Member{}, nil
	}
	if e.kind != kindZSet {
		return nil, cache.ErrWrongType
	}
	members := make([]cache.Member, 0, len(e.zset))
	for name, score := range e.zset {
		members = append(members, cache.Member{Name: name, Score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if reverse {
			a, b = b, a
		}
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		return a.Name < b.Name
	})
	from, to, ok := normalizeRange(start, stop, int64(len(members)))
	if !ok {
		return []cache.Member{}, nil
	}
	return members[from : to+1], nil
}

// zset returns the sorted-set entry for key, creating it. Must hold s.mu.
func (s *Store) zset(key string) (*entry, error) {
	e := s.lookup(key)
	if e == nil {
		e = &entry{kind: kindZSet, zset: make(map[string]float64)}
		s.entries[key] = e
	}
	if e.kind != kindZSet {
		return nil, cache.ErrWrongType
	}
	return e, nil
}

func (s *Store) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		e = &entry{kind: kindString, str: "0"}
		s.entries[key] = e
	}
	if e.kind != kindString {
		return 0, cache.ErrWrongType
	}
	n, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return 0, cache.ErrWrongType
	}
	n++
	e.str = strconv.FormatInt(n, 10)
	return n, nil
}

// Scan matches keys with glob patterns (*, ?, [...]).
func (s *Store) Scan(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := []string{}
	for key := range s.entries {
		if s.lookup(key) == nil {
			continue
		}
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) FlushAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
	return nil
}

func (s *Store) Close() error {
	return nil
}

// Sweep evicts every expired key and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored keys, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// normalizeRange converts Redis-style inclusive indices into slice bounds.
func normalizeRange(start, stop, n int64) (int64, int64, bool) {
	if n == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}

var _ cache.Store = (*Store)(nil)
