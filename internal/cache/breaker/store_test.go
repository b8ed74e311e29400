package breaker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tourops/internal/cache"
	"tourops/internal/cache/memory"
	"tourops/pkg/platform/circuit"
)

var errConnRefused = errors.New("dial tcp 10.0.0.7:6379: connect: connection refused")

// flakyStore fails every call it intercepts while down is set and counts the
// calls that reached it.
type flakyStore struct {
	*memory.Store
	down  atomic.Bool
	calls atomic.Int64
}

func (f *flakyStore) Get(ctx context.Context, key string) (string, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return "", errConnRefused
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	f.calls.Add(1)
	if f.down.Load() {
		return errConnRefused
	}
	return f.Store.SetEx(ctx, key, value, ttl)
}

type StoreSuite struct {
	suite.Suite
	ctx     context.Context
	backend *flakyStore
	store   *Store
	now     time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	s.backend = &flakyStore{Store: memory.New()}
	s.store = New(s.backend, WithBreaker(circuit.New("redis-cache",
		circuit.WithFailureThreshold(3),
		circuit.WithSuccessThreshold(2),
		circuit.WithCooldown(10*time.Second),
		circuit.WithClock(func() time.Time { return s.now }),
	)))
}

func (s *StoreSuite) TestPassesThroughWhileClosed() {
	s.Require().NoError(s.store.SetEx(s.ctx, "audit:os:1:stats", "{}", time.Minute))
	v, err := s.store.Get(s.ctx, "audit:os:1:stats")
	s.Require().NoError(err)
	s.Equal("{}", v)

	n, err := s.store.Incr(s.ctx, "audit:os:1:total")
	s.Require().NoError(err)
	s.EqualValues(1, n)
}

func (s *StoreSuite) TestMissesDoNotOpenTheCircuit() {
	for i := 0; i < 10; i++ {
		_, err := s.store.Get(s.ctx, "absent")
		s.ErrorIs(err, cache.ErrMiss)
	}
	s.Equal(circuit.StateClosed, s.store.State())
}

func (s *StoreSuite) TestCanceledCallsDoNotOpenTheCircuit() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	canceled := &canceledStore{Store: memory.New()}
	store := New(canceled, WithBreaker(circuit.New("redis-cache", circuit.WithFailureThreshold(1))))

	_, err := store.Get(ctx, "k")
	s.ErrorIs(err, context.Canceled)
	s.Equal(circuit.StateClosed, store.State())
}

func (s *StoreSuite) TestOpensAfterConsecutiveFailuresAndShortCircuits() {
	s.backend.down.Store(true)
	for i := 0; i < 3; i++ {
		_, err := s.store.Get(s.ctx, "k")
		s.ErrorIs(err, errConnRefused)
	}
	s.Equal(circuit.StateOpen, s.store.State())

	before := s.backend.calls.Load()
	_, err := s.store.Get(s.ctx, "k")
	s.ErrorIs(err, cache.ErrUnavailable)
	err = s.store.SetEx(s.ctx, "k", "v", time.Minute)
	s.ErrorIs(err, cache.ErrUnavailable)
	s.Equal(before, s.backend.calls.Load(), "open circuit must not reach the backend")
}

func (s *StoreSuite) TestClosesAfterSuccessfulProbes() {
	s.backend.down.Store(true)
	for i := 0; i < 3; i++ {
		_, _ = s.store.Get(s.ctx, "k")
	}
	s.Require().Equal(circuit.StateOpen, s.store.State())

	s.now = s.now.Add(10 * time.Second)
	_, err := s.store.Get(s.ctx, "k")
	s.ErrorIs(err, errConnRefused, "probe after cooldown reaches the backend")

	_, err = s.store.Get(s.ctx, "k")
	s.ErrorIs(err, cache.ErrUnavailable, "failed probe restarts the cooldown")

	s.backend.down.Store(false)
	s.now = s.now.Add(10 * time.Second)
	s.Require().NoError(s.store.SetEx(s.ctx, "k", "v", time.Minute))
	s.Equal(circuit.StateOpen, s.store.State())

	v, err := s.store.Get(s.ctx, "k")
	s.Require().NoError(err)
	s.Equal("v", v)
	s.Equal(circuit.StateClosed, s.store.State())
}

func (s *StoreSuite) TestCloseReachesBackendWhileOpen() {
	s.backend.down.Store(true)
	for i := 0; i < 3; i++ {
		_, _ = s.store.Get(s.ctx, "k")
	}
	s.NoError(s.store.Close())
}

type canceledStore struct {
	*memory.Store
}

func (c *canceledStore) Get(ctx context.Context, _ string) (string, error) {
	return "", ctx.Err()
}
