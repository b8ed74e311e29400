package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tourops/internal/audit/models"
	"tourops/internal/cache"
	id "tourops/pkg/domain"
	dErrors "tourops/pkg/domain-errors"
	"tourops/pkg/requestcontext"
)

// Search answers cacheable queries (order id only, first page, bounded
// limit) from the recent-activity list when it is populated. Every other
// query goes to durable storage.
func (s *Service) Search(ctx context.Context, f models.Filters) (*models.Page, error) {
	f.Normalize()
	ctx, span := s.tracer.Start(ctx, "audit.Search", trace.WithAttributes(
		attribute.String("order.id", f.OrderID.String()),
	))
	defer span.End()

	if err := f.Validate(); err != nil {
		return nil, err
	}

	cacheable := f.Cacheable(s.cfg.CacheableLimit)
	if cacheable {
		if recent, total, ok := s.cachedRecent(ctx, f.OrderID); ok {
			s.metrics.ObserveCacheRead("query", true)
			span.SetAttributes(attribute.Bool("audit.from_cache", true))
			return pageOf(recent, total, f), nil
		}
		s.metrics.ObserveCacheRead("query", false)
	}

	records, total, err := s.store.Search(ctx, f)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to search audit records")
	}
	if cacheable {
		s.seedRecent(ctx, f.OrderID, records, total)
	}
	return &models.Page{Records: records, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

func pageOf(recent []*models.Record, total int, f models.Filters) *models.Page {
	records := recent
	if len(records) > f.Limit {
		records = records[:f.Limit]
	}
	return &models.Page{Records: records, Total: total, Page: 1, Limit: f.Limit, FromCache: true}
}

// cachedRecent reads the recent list and the order's total record count.
// Absent, unreadable or undecodable keys are misses. A record listed twice
// means a seed overlapped a write; the pair is dropped and reseeded.
func (s *Service) cachedRecent(ctx context.Context, orderID id.OrderID) ([]*models.Record, int, bool) {
	key := recentKey(orderID)
	exists, err := s.cache.Exists(ctx, key)
	if err != nil {
		s.degraded(ctx, "recent_exists", err)
		return nil, 0, false
	}
	if !exists {
		return nil, 0, false
	}
	rawTotal, err := s.cache.Get(ctx, totalKey(orderID))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.degraded(ctx, "recent_total", err)
		}
		return nil, 0, false
	}
	total, err := strconv.Atoi(rawTotal)
	if err != nil {
		s.degraded(ctx, "recent_total", err)
		return nil, 0, false
	}
	raw, err := s.cache.LRange(ctx, key, 0, -1)
	if err != nil {
		s.degraded(ctx, "recent_read", err)
		return nil, 0, false
	}
	out := make([]*models.Record, 0, len(raw))
	seen := make(map[id.AuditRecordID]struct{}, len(raw))
	for _, item := range raw {
		var r models.Record
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			s.degraded(ctx, "recent_decode", err)
			return nil, 0, false
		}
		if _, dup := seen[r.ID]; dup {
			s.sync.Enqueue(ctx, func(ctx context.Context) { s.dropRecent(ctx, orderID) })
			return nil, 0, false
		}
		seen[r.ID] = struct{}{}
		out = append(out, &r)
	}
	return out, total, true
}

// seedRecent populates the recent list after a cacheable miss. The first
// page only covers the whole capped list when it already holds every record
// or reaches the cap; otherwise the newest RecentCap records are fetched.
func (s *Service) seedRecent(ctx context.Context, orderID id.OrderID, firstPage []*models.Record, total int) {
	if total == 0 {
		return
	}
	records := firstPage
	if len(records) < total && len(records) < s.cfg.RecentCap {
		more, moreTotal, err := s.store.Search(ctx, models.Filters{OrderID: orderID, Page: 1, Limit: s.cfg.RecentCap})
		if err != nil {
			s.logger.WarnContext(ctx, "audit recent seed skipped", "order_id", orderID, "error", err)
			return
		}
		records, total = more, moreTotal
	}
	if len(records) > s.cfg.RecentCap {
		records = records[:s.cfg.RecentCap]
	}
	values := make([]string, 0, len(records))
	// LPush inserts in argument order, so the oldest goes first.
	for i := len(records) - 1; i >= 0; i-- {
		raw, err := json.Marshal(records[i])
		if err != nil {
			s.degraded(ctx, "recent_encode", err)
			return
		}
		values = append(values, string(raw))
	}
	key := recentKey(orderID)
	s.sync.Enqueue(ctx, func(ctx context.Context) {
		if _, err := s.cache.Delete(ctx, key, totalKey(orderID)); err != nil {
			s.degraded(ctx, "recent_seed", err)
			return
		}
		if _, err := s.cache.LPush(ctx, key, values...); err != nil {
			s.degraded(ctx, "recent_seed", err)
			return
		}
		if _, err := s.cache.Expire(ctx, key, s.cfg.RecentTTL); err != nil {
			s.degraded(ctx, "recent_seed", err)
			s.dropRecent(ctx, orderID)
			return
		}
		if err := s.cache.SetEx(ctx, totalKey(orderID), strconv.Itoa(total), s.cfg.RecentTTL); err != nil {
			s.degraded(ctx, "recent_seed", err)
			s.dropRecent(ctx, orderID)
			return
		}
		// A record appended after the durable read but applied before the
		// list existed is missing from it.
		if s.durableChanged(ctx, orderID, total) {
			s.dropRecent(ctx, orderID)
		}
	})
}

// durableChanged reports whether the order's durable record count moved away
// from seen. A failed count is treated as moved.
func (s *Service) durableChanged(ctx context.Context, orderID id.OrderID, seen int) bool {
	_, total, err := s.store.Search(ctx, models.Filters{OrderID: orderID, Page: 1, Limit: 1})
	if err != nil {
		s.logger.WarnContext(ctx, "audit durable recount failed", "order_id", orderID, "error", err)
		return true
	}
	return total != seen
}

// Export returns every matching record, newest first, from durable storage.
func (s *Service) Export(ctx context.Context, f models.Filters) ([]*models.Record, error) {
	f.Normalize()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	records, err := s.store.SearchAll(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to export audit records")
	}
	return records, nil
}

// Stats returns the order's aggregated counters, cache-aside with StatsTTL.
// Concurrent misses for one order share a single aggregation.
func (s *Service) Stats(ctx context.Context, orderID id.OrderID) (*models.Stats, error) {
	ctx, span := s.tracer.Start(ctx, "audit.Stats", trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
	))
	defer span.End()

	if orderID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "order id is required")
	}
	key := statsKey(orderID)
	raw, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var stats models.Stats
		uerr := json.Unmarshal([]byte(raw), &stats)
		if uerr == nil {
			s.metrics.ObserveCacheRead("stats", true)
			span.SetAttributes(attribute.Bool("audit.from_cache", true))
			return &stats, nil
		}
		s.degraded(ctx, "stats_decode", uerr)
	case !errors.Is(err, cache.ErrMiss):
		s.degraded(ctx, "stats_read", err)
	}
	s.metrics.ObserveCacheRead("stats", false)

	v, err, _ := s.group.Do(orderID.String(), func() (any, error) {
		return s.computeStats(ctx, orderID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregate")
		return nil, err
	}
	stats := v.(*models.Stats)
	encoded, err := json.Marshal(stats)
	if err != nil {
		s.degraded(ctx, "stats_encode", err)
		return stats, nil
	}
	s.sync.Enqueue(ctx, func(ctx context.Context) {
		if err := s.cache.SetEx(ctx, key, string(encoded), s.cfg.StatsTTL); err != nil {
			s.degraded(ctx, "stats_write", err)
			return
		}
		// A write that invalidated the key during aggregation must not be
		// shadowed by the older answer.
		if s.durableChanged(ctx, orderID, int(stats.TotalActions)) {
			if _, err := s.cache.Delete(ctx, key); err != nil {
				s.degraded(ctx, "stats_invalidate", err)
			}
		}
	})
	return stats, nil
}

func (s *Service) computeStats(ctx context.Context, orderID id.OrderID) (*models.Stats, error) {
	now := requestcontext.Now(ctx).UTC()
	agg, err := s.store.Aggregate(ctx, orderID, now.Add(-24*time.Hour))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to aggregate audit records")
	}
	return &models.Stats{
		OrderID:        orderID,
		TotalActions:   agg.Total,
		Last24h:        agg.Since,
		TopActors:      top(agg.Actors, s.cfg.TopN),
		TopEntityKinds: top(agg.EntityKinds, s.cfg.TopN),
		ComputedAt:     now,
	}, nil
}

// ActivityRanking returns the top n actors and entity kinds for an order,
// from the cached sorted sets when both exist and from durable storage
// otherwise. A durable answer seeds the sorted sets.
func (s *Service) ActivityRanking(ctx context.Context, orderID id.OrderID, n int) (*models.Ranking, error) {
	if orderID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "order id is required")
	}
	if n <= 0 {
		n = s.cfg.TopN
	}
	if ranking, ok := s.cachedRanking(ctx, orderID, n); ok {
		s.metrics.ObserveCacheRead("ranking", true)
		return ranking, nil
	}
	s.metrics.ObserveCacheRead("ranking", false)

	agg, err := s.store.Aggregate(ctx, orderID, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to aggregate audit records")
	}
	if agg.Total > 0 {
		s.seedRanking(ctx, actorsKey(orderID), agg.Actors)
		s.seedRanking(ctx, entitiesKey(orderID), agg.EntityKinds)
	}
	return &models.Ranking{Actors: top(agg.Actors, n), EntityKinds: top(agg.EntityKinds, n)}, nil
}

func (s *Service) cachedRanking(ctx context.Context, orderID id.OrderID, n int) (*models.Ranking, bool) {
	actors, ok := s.readRanking(ctx, actorsKey(orderID), n)
	if !ok {
		return nil, false
	}
	kinds, ok := s.readRanking(ctx, entitiesKey(orderID), n)
	if !ok {
		return nil, false
	}
	return &models.Ranking{Actors: actors, EntityKinds: kinds, FromCache: true}, true
}

func (s *Service) readRanking(ctx context.Context, key string, n int) ([]models.RankEntry, bool) {
	exists, err := s.cache.Exists(ctx, key)
	if err != nil {
		s.degraded(ctx, "ranking_exists", err)
		return nil, false
	}
	if !exists {
		return nil, false
	}
	members, err := s.cache.ZRevRange(ctx, key, 0, int64(n-1))
	if err != nil {
		s.degraded(ctx, "ranking_read", err)
		return nil, false
	}
	out := make([]models.RankEntry, 0, len(members))
	for _, m := range members {
		out = append(out, models.RankEntry{Key: m.Name, Count: int64(m.Score)})
	}
	return out, true
}

func (s *Service) seedRanking(ctx context.Context, key string, entries []models.RankEntry) {
	members := make([]cache.Member, 0, len(entries))
	for _, e := range entries {
		members = append(members, cache.Member{Name: e.Key, Score: float64(e.Count)})
	}
	s.sync.Enqueue(ctx, func(ctx context.Context) {
		if _, err := s.cache.Delete(ctx, key); err != nil {
			s.degraded(ctx, "ranking_seed", err)
			return
		}
		if err := s.cache.ZAdd(ctx, key, members...); err != nil {
			s.degraded(ctx, "ranking_seed", err)
			return
		}
		if _, err := s.cache.Expire(ctx, key, s.cfg.RecentTTL); err != nil {
			s.degraded(ctx, "ranking_seed", err)
		}
	})
}

// ClearCache drops every cache key of the order so the next reads come from
// durable storage. Cache failures are logged, not returned: reads against an
// unreachable cache already fall through to storage.
func (s *Service) ClearCache(ctx context.Context, orderID id.OrderID) error {
	if orderID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "order id is required")
	}
	if _, err := s.cache.Delete(ctx, orderKeys(orderID)...); err != nil {
		s.degraded(ctx, "clear", err)
	}
	return nil
}

func top(entries []models.RankEntry, n int) []models.RankEntry {
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]models.RankEntry, len(entries))
	copy(out, entries)
	return out
}
