package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tourops/internal/order/models"
	id "tourops/pkg/domain"
	"tourops/pkg/platform/sentinel"
)

// InMemoryStore keeps orders in process. Aggregates are deep-copied on the way
// in and out so callers never share nested slices with the store.
type InMemoryStore struct {
	mu     sync.RWMutex
	orders map[id.OrderID]*models.Order
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{orders: make(map[id.OrderID]*models.Order)}
}

// Save inserts or replaces an order.
func (s *InMemoryStore) Save(_ context.Context, order *models.Order) error {
	cp, err := clone(order)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = cp
	return nil
}

func (s *InMemoryStore) LoadAggregate(_ context.Context, orderID id.OrderID) (*models.Order, error) {
	s.mu.RLock()
	o, ok := s.orders[orderID]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(o)
}

// UpdateStatus moves the order to `to` only if it is still in `from`.
func (s *InMemoryStore) UpdateStatus(_ context.Context, orderID id.OrderID, from, to models.Status, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if o.Status != from {
		return fmt.Errorf("order is %s, expected %s: %w", o.Status, from, sentinel.ErrInvalidState)
	}
	o.Status = to
	return nil
}

func clone(o *models.Order) (*models.Order, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("copy order: %w", err)
	}
	var out models.Order
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("copy order: %w", err)
	}
	return &out, nil
}
