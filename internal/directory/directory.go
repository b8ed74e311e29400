// Package directory resolves actor identities for audit attribution.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	id "tourops/pkg/domain"
	"tourops/pkg/platform/sentinel"
	"tourops/pkg/platform/tx"
)

// Actor is a user as captured on an audit record.
type Actor struct {
	ID             id.UserID         `json:"id"`
	Name           string            `json:"name"`
	Role           string            `json:"role"`
	OrganizationID id.OrganizationID `json:"organization_id"`
}

// Directory resolves actor id to name, role and organization.
type Directory interface {
	FindByID(ctx context.Context, userID id.UserID) (Actor, error)
}

// InMemoryDirectory is a fixed actor table.
type InMemoryDirectory struct {
	mu     sync.RWMutex
	actors map[id.UserID]Actor
}

func NewInMemory(actors ...Actor) *InMemoryDirectory {
	d := &InMemoryDirectory{actors: make(map[id.UserID]Actor, len(actors))}
	for _, a := range actors {
		d.actors[a.ID] = a
	}
	return d
}

// Put adds or replaces an actor.
func (d *InMemoryDirectory) Put(a Actor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actors[a.ID] = a
}

func (d *InMemoryDirectory) FindByID(_ context.Context, userID id.UserID) (Actor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.actors[userID]
	if !ok {
		return Actor{}, sentinel.ErrNotFound
	}
	return a, nil
}

// PostgresDirectory reads the users table. Soft-deleted users do not resolve.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) FindByID(ctx context.Context, userID id.UserID) (Actor, error) {
	var (
		a     Actor
		orgID uuid.UUID
	)
	err := tx.ExecutorFrom(ctx, d.db).QueryRowContext(ctx, `
		SELECT name, role, organization_id
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`, uuid.UUID(userID)).Scan(&a.Name, &a.Role, &orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Actor{}, sentinel.ErrNotFound
		}
		return Actor{}, fmt.Errorf("find user by id: %w", err)
	}
	a.ID = userID
	a.OrganizationID = id.OrganizationID(orgID)
	return a, nil
}

// Save upserts a user row; used by seeding and tests.
func (d *PostgresDirectory) Save(ctx context.Context, a Actor) error {
	_, err := tx.ExecutorFrom(ctx, d.db).ExecContext(ctx, `
		INSERT INTO users (id, organization_id, name, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			name = EXCLUDED.name,
			role = EXCLUDED.role
	`, uuid.UUID(a.ID), uuid.UUID(a.OrganizationID), a.Name, a.Role)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

var (
	_ Directory = (*InMemoryDirectory)(nil)
	_ Directory = (*PostgresDirectory)(nil)
)
