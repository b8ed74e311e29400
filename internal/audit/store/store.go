// Package store persists audit records. Records are append-only: no
// implementation exposes update or delete.
package store

import (
	"sort"

	"tourops/internal/audit/models"
	"tourops/pkg/platform/sentinel"
)

var ErrNotFound = sentinel.ErrNotFound

// rank turns a tally into entries sorted by count descending, then key.
func rank(counts map[string]int64) []models.RankEntry {
	out := make([]models.RankEntry, 0, len(counts))
	for key, n := range counts {
		out = append(out, models.RankEntry{Key: key, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// sortNewestFirst orders by CreatedAt descending, keeping the input order for ties.
func sortNewestFirst(records []*models.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
