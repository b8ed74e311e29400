package models

import (
	"time"

	id "tourops/pkg/domain"
	dErrors "tourops/pkg/domain-errors"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Filters narrows an audit query. OrderID is mandatory.
type Filters struct {
	OrderID    id.OrderID
	ActorID    *id.UserID
	Action     Action
	EntityKind string
	From       *time.Time
	To         *time.Time
	Page       int
	Limit      int
}

// Normalize applies pagination defaults.
func (f *Filters) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
}

func (f Filters) Validate() error {
	if f.OrderID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "order id is required")
	}
	if f.Action != "" && !f.Action.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown audit action %q", f.Action)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return dErrors.New(dErrors.CodeValidation, "date range end precedes its start")
	}
	return nil
}

// HasNarrowing reports whether any filter beyond the order id is set.
func (f Filters) HasNarrowing() bool {
	return f.ActorID != nil || f.Action != "" || f.EntityKind != "" || f.From != nil || f.To != nil
}

// Cacheable reports whether the recent-activity cache may answer the query.
func (f Filters) Cacheable(maxLimit int) bool {
	return !f.HasNarrowing() && f.Page == 1 && f.Limit <= maxLimit
}

// Offset is the zero-based index of the first record of the page.
func (f Filters) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Page is one page of audit records, newest first. Served from the cache,
// Total counts the cached recent records only.
type Page struct {
	Records   []*Record `json:"records"`
	Total     int       `json:"total"`
	Page      int       `json:"page"`
	Limit     int       `json:"limit"`
	FromCache bool      `json:"from_cache"`
}

// RankEntry is one member of an activity ranking.
type RankEntry struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Stats are the aggregated counters for one order.
type Stats struct {
	OrderID        id.OrderID  `json:"order_id"`
	TotalActions   int64       `json:"total_actions"`
	Last24h        int64       `json:"last_24h"`
	TopActors      []RankEntry `json:"top_actors"`
	TopEntityKinds []RankEntry `json:"top_entity_kinds"`
	ComputedAt     time.Time   `json:"computed_at"`
}

// Ranking is the per-order activity ranking.
type Ranking struct {
	Actors      []RankEntry `json:"actors"`
	EntityKinds []RankEntry `json:"entity_kinds"`
	FromCache   bool        `json:"from_cache"`
}

// Aggregate is the durable-storage tally for one order. Rankings are complete
// and sorted by count descending, then key.
type Aggregate struct {
	Total       int64
	Since       int64
	Actors      []RankEntry
	EntityKinds []RankEntry
}
