package store

import (
	"context"
	"sync"
	"time"

	"tourops/internal/audit/models"
	id "tourops/pkg/domain"
)

// InMemoryStore keeps records in append order.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []*models.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, r *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.records = append(s.records, &cp)
	return nil
}

// FindLatest returns the newest record for (order, entity kind, entity id).
func (s *InMemoryStore) FindLatest(_ context.Context, orderID id.OrderID, entityKind, entityID string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Record
	for _, r := range s.records {
		if r.OrderID != orderID || r.EntityKind != entityKind || r.EntityID != entityID {
			continue
		}
		if latest == nil || !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

// Search returns one page, newest first, and the total match count.
func (s *InMemoryStore) Search(_ context.Context, f models.Filters) ([]*models.Record, int, error) {
	matched := s.filter(f)
	total := len(matched)
	start := f.Offset()
	if start >= total {
		return []*models.Record{}, total, nil
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// SearchAll ignores pagination.
func (s *InMemoryStore) SearchAll(_ context.Context, f models.Filters) ([]*models.Record, error) {
	return s.filter(f), nil
}

func (s *InMemoryStore) Aggregate(_ context.Context, orderID id.OrderID, since time.Time) (*models.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg := &models.Aggregate{}
	actors := map[string]int64{}
	kinds := map[string]int64{}
	for _, r := range s.records {
		if r.OrderID != orderID {
			continue
		}
		agg.Total++
		if !r.CreatedAt.Before(since) {
			agg.Since++
		}
		actors[r.Actor.ID.String()]++
		kinds[r.EntityKind]++
	}
	agg.Actors = rank(actors)
	agg.EntityKinds = rank(kinds)
	return agg, nil
}

// filter walks newest to oldest so ties on CreatedAt keep append order.
func (s *InMemoryStore) filter(f models.Filters) []*models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Record{}
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if !matches(r, f) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sortNewestFirst(out)
	return out
}

func matches(r *models.Record, f models.Filters) bool {
	if r.OrderID != f.OrderID {
		return false
	}
	if f.ActorID != nil && r.Actor.ID != *f.ActorID {
		return false
	}
	if f.Action != "" && r.Action != f.Action {
		return false
	}
	if f.EntityKind != "" && r.EntityKind != f.EntityKind {
		return false
	}
	if f.From != nil && r.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && r.CreatedAt.After(*f.To) {
		return false
	}
	return true
}
