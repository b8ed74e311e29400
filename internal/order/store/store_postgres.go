package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tourops/internal/order/models"
	id "tourops/pkg/domain"
	"tourops/pkg/platform/sentinel"
	"tourops/pkg/platform/tx"
)

// PostgresStore reads order aggregates from operational_orders. Nested
// collections live in the details JSONB column.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Save upserts an order. The surrounding CRUD system owns orders; this path
// exists for seeding and tests.
func (s *PostgresStore) Save(ctx context.Context, o *models.Order) error {
	details, err := json.Marshal(o.Details)
	if err != nil {
		return fmt.Errorf("marshal order details: %w", err)
	}
	_, err = tx.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO operational_orders (
			id, organization_id, code, title, description, status, start_date, end_date,
			sale_value, estimated_cost, actual_cost, received_amount, details, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13, now())
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			code = EXCLUDED.code,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			sale_value = EXCLUDED.sale_value,
			estimated_cost = EXCLUDED.estimated_cost,
			actual_cost = EXCLUDED.actual_cost,
			received_amount = EXCLUDED.received_amount,
			details = EXCLUDED.details,
			updated_at = now()
	`,
		uuid.UUID(o.ID), uuid.UUID(o.OrganizationID), o.Code, o.Title, o.Description, string(o.Status),
		nullTime(o.StartDate), nullTime(o.EndDate),
		o.SaleValue, o.EstimatedCost, o.ActualCost, o.ReceivedAmount, details,
	)
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadAggregate(ctx context.Context, orderID id.OrderID) (*models.Order, error) {
	var (
		o                  models.Order
		rawID, rawOrg      uuid.UUID
		status             string
		startDate, endDate sql.NullTime
		details            []byte
	)
	err := tx.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, organization_id, code, title, description, status, start_date, end_date,
		       sale_value, estimated_cost, actual_cost, received_amount, details
		FROM operational_orders
		WHERE id = $1
	`, uuid.UUID(orderID)).Scan(
		&rawID, &rawOrg, &o.Code, &o.Title, &o.Description, &status, &startDate, &endDate,
		&o.SaleValue, &o.EstimatedCost, &o.ActualCost, &o.ReceivedAmount, &details,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load order aggregate: %w", err)
	}
	o.ID = id.OrderID(rawID)
	o.OrganizationID = id.OrganizationID(rawOrg)
	o.Status = models.Status(status)
	if startDate.Valid {
		t := startDate.Time
		o.StartDate = &t
	}
	if endDate.Valid {
		t := endDate.Time
		o.EndDate = &t
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &o.Details); err != nil {
			return nil, fmt.Errorf("unmarshal order details: %w", err)
		}
	}
	return &o, nil
}

// UpdateStatus is a compare-and-set on the status column.
func (s *PostgresStore) UpdateStatus(ctx context.Context, orderID id.OrderID, from, to models.Status, now time.Time) error {
	res, err := tx.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE operational_orders SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, uuid.UUID(orderID), string(from), string(to), now)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := tx.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM operational_orders WHERE id = $1)`, uuid.UUID(orderID),
	).Scan(&exists); err != nil {
		return fmt.Errorf("check order existence: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return fmt.Errorf("order is no longer %s: %w", from, sentinel.ErrInvalidState)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
