// Package store persists policies and policy snapshots.
package store

import "tourops/pkg/platform/sentinel"

// Re-exported so callers do not import sentinel for the common cases.
var (
	ErrNotFound = sentinel.ErrNotFound
	ErrConflict = sentinel.ErrConflict
)
