package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tourops/internal/audit/metrics"
	"tourops/internal/audit/models"
	id "tourops/pkg/domain"
)

const syncTaskTimeout = 2 * time.Second

func recentKey(orderID id.OrderID) string   { return fmt.Sprintf("audit:os:%s:recent", orderID) }
func actorsKey(orderID id.OrderID) string   { return fmt.Sprintf("audit:os:%s:actors", orderID) }
func entitiesKey(orderID id.OrderID) string { return fmt.Sprintf("audit:os:%s:entities", orderID) }
func statsKey(orderID id.OrderID) string    { return fmt.Sprintf("audit:os:%s:stats", orderID) }
func totalKey(orderID id.OrderID) string    { return fmt.Sprintf("audit:os:%s:total", orderID) }

func orderKeys(orderID id.OrderID) []string {
	return []string{recentKey(orderID), totalKey(orderID), actorsKey(orderID), entitiesKey(orderID), statsKey(orderID)}
}

func dedupKey(orderID id.OrderID, entityKind, entityID string) string {
	return fmt.Sprintf("audit:lock:%s:%s:%s", orderID, entityKind, entityID)
}

type syncTask func(ctx context.Context)

// cacheSync runs cache updates off the request path on a bounded queue. A
// zero buffer runs every task inline. A full queue drops the task.
type cacheSync struct {
	mu      sync.RWMutex
	queue   chan syncTask
	closed  bool
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func newCacheSync(buffer int, logger *slog.Logger, m *metrics.Metrics) *cacheSync {
	c := &cacheSync{logger: logger, metrics: m}
	if buffer > 0 {
		c.queue = make(chan syncTask, buffer)
		c.wg.Add(1)
		go c.run()
	}
	return c
}

func (c *cacheSync) run() {
	defer c.wg.Done()
	for task := range c.queue {
		c.exec(context.Background(), task)
	}
}

// Enqueue schedules task. The request context only contributes its values;
// its cancellation never aborts a cache update.
func (c *cacheSync) Enqueue(ctx context.Context, task syncTask) {
	if c.queue == nil {
		c.exec(context.WithoutCancel(ctx), task)
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.queue <- task:
	default:
		c.metrics.IncrementSyncDropped()
		c.logger.WarnContext(ctx, "audit cache sync queue full, update dropped",
			"capacity", cap(c.queue),
		)
	}
}

func (c *cacheSync) exec(ctx context.Context, task syncTask) {
	ctx, cancel := context.WithTimeout(ctx, syncTaskTimeout)
	defer cancel()
	task(ctx)
}

// Close stops accepting tasks and waits for the queue to drain.
func (c *cacheSync) Close() {
	if c.queue == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()
	c.wg.Wait()
}

// applyRecord folds a freshly written record into the order's cache keys.
// The recent list and the sorted sets are only extended when they already
// exist; a missing key is seeded from durable storage on the next read.
func (s *Service) applyRecord(ctx context.Context, r *models.Record) {
	if exists, err := s.cache.Exists(ctx, recentKey(r.OrderID)); err != nil {
		s.degraded(ctx, "recent_exists", err)
	} else if exists {
		s.pushRecent(ctx, r)
	}

	s.bump(ctx, actorsKey(r.OrderID), r.Actor.ID.String())
	s.bump(ctx, entitiesKey(r.OrderID), r.EntityKind)

	if _, err := s.cache.Delete(ctx, statsKey(r.OrderID)); err != nil {
		s.degraded(ctx, "stats_invalidate", err)
	}
}

func (s *Service) pushRecent(ctx context.Context, r *models.Record) {
	key := recentKey(r.OrderID)
	raw, err := json.Marshal(r)
	if err != nil {
		s.degraded(ctx, "recent_encode", err)
		return
	}
	if _, err := s.cache.LPush(ctx, key, string(raw)); err != nil {
		s.degraded(ctx, "recent_push", err)
		return
	}
	if err := s.cache.LTrim(ctx, key, 0, int64(s.cfg.RecentCap-1)); err != nil {
		s.degraded(ctx, "recent_trim", err)
	}
	if _, err := s.cache.Expire(ctx, key, s.cfg.RecentTTL); err != nil {
		s.degraded(ctx, "recent_expire", err)
	}

	// The total counter travels with the list. A counter that was not there
	// to increment means the pair is out of step; drop both and reseed.
	n, err := s.cache.Incr(ctx, totalKey(r.OrderID))
	if err != nil || n == 1 {
		if err != nil {
			s.degraded(ctx, "recent_total", err)
		}
		s.dropRecent(ctx, r.OrderID)
		return
	}
	if _, err := s.cache.Expire(ctx, totalKey(r.OrderID), s.cfg.RecentTTL); err != nil {
		s.degraded(ctx, "recent_expire", err)
	}
}

func (s *Service) dropRecent(ctx context.Context, orderID id.OrderID) {
	if _, err := s.cache.Delete(ctx, recentKey(orderID), totalKey(orderID)); err != nil {
		s.degraded(ctx, "recent_drop", err)
	}
}

func (s *Service) bump(ctx context.Context, key, member string) {
	exists, err := s.cache.Exists(ctx, key)
	if err != nil {
		s.degraded(ctx, "ranking_exists", err)
		return
	}
	if !exists {
		return
	}
	if _, err := s.cache.ZIncrBy(ctx, key, member, 1); err != nil {
		s.degraded(ctx, "ranking_incr", err)
	}
}
