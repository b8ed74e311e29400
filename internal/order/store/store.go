// Package store provides order aggregate persistence.
package store

import (
	"context"
	"time"

	"tourops/internal/order/models"
	id "tourops/pkg/domain"
)

// Reader loads the order aggregate with every nested collection.
type Reader interface {
	LoadAggregate(ctx context.Context, orderID id.OrderID) (*models.Order, error)
}

// StatusWriter changes an order's status if it still holds the expected value.
// A stale expectation yields sentinel.ErrInvalidState.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, orderID id.OrderID, from, to models.Status, now time.Time) error
}

var (
	_ Reader       = (*InMemoryStore)(nil)
	_ StatusWriter = (*InMemoryStore)(nil)
	_ Reader       = (*PostgresStore)(nil)
	_ StatusWriter = (*PostgresStore)(nil)
)
