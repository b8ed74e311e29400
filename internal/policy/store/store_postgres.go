package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tourops/internal/platform/postgres"
	"tourops/internal/policy/models"
	id "tourops/pkg/domain"
	"tourops/pkg/platform/tx"
)

const (
	versionConstraint = "os_policies_org_version_key"
	activeConstraint  = "os_policies_one_active_per_org"
)

// PostgresStore persists policies in os_policies and snapshots in
// os_policy_snapshots. Version uniqueness and the single active policy per
// organization are enforced by constraints.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const policyColumns = `id, organization_id, name, description, version, active,
	financial, deadlines, checklist_overrides, created_at, updated_at`

// CreateNextVersion computes max(version)+1 inside the INSERT. Two concurrent
// creates may compute the same version; the loser gets ErrConflict.
func (s *PostgresStore) CreateNextVersion(ctx context.Context, p *models.Policy) error {
	financial, deadlines, overrides, err := marshalThresholds(p.Thresholds)
	if err != nil {
		return err
	}
	var version int
	err = tx.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO os_policies (`+policyColumns+`)
		SELECT $1::uuid, $2::uuid, $3::text, $4::text, COALESCE(MAX(version), 0) + 1, FALSE,
		       $5::jsonb, $6::jsonb, $7::jsonb, $8::timestamptz, $8::timestamptz
		FROM os_policies
		WHERE organization_id = $2::uuid
		RETURNING version
	`, uuid.UUID(p.ID), uuid.UUID(p.OrganizationID), p.Name, p.Description,
		financial, deadlines, overrides, p.CreatedAt,
	).Scan(&version)
	if err != nil {
		if postgres.IsUniqueViolation(err, versionConstraint) {
			return fmt.Errorf("policy version taken: %w", ErrConflict)
		}
		return fmt.Errorf("create policy: %w", err)
	}
	p.Version = version
	p.Active = false
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, policyID id.PolicyID) (*models.Policy, error) {
	row := tx.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM os_policies WHERE id = $1`, uuid.UUID(policyID))
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find policy by id: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) FindActive(ctx context.Context, orgID id.OrganizationID) (*models.Policy, error) {
	row := tx.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+policyColumns+` FROM os_policies
		WHERE organization_id = $1 AND active
		ORDER BY version DESC
		LIMIT 1
	`, uuid.UUID(orgID))
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find active policy: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListByOrganization(ctx context.Context, orgID id.OrganizationID) ([]*models.Policy, error) {
	rows, err := tx.ExecutorFrom(ctx, s.db).QueryContext(ctx, `
		SELECT `+policyColumns+` FROM os_policies
		WHERE organization_id = $1
		ORDER BY version DESC
	`, uuid.UUID(orgID))
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	out := []*models.Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, p *models.Policy) error {
	financial, deadlines, overrides, err := marshalThresholds(p.Thresholds)
	if err != nil {
		return err
	}
	res, err := tx.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE os_policies
		SET name = $2, description = $3, financial = $4, deadlines = $5,
		    checklist_overrides = $6, updated_at = $7
		WHERE id = $1
	`, uuid.UUID(p.ID), p.Name, p.Description, financial, deadlines, overrides, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	return requireOneRow(res, "update policy")
}

// LockOrganization row-locks every policy of the organization until the
// surrounding transaction ends. Must run inside tx.Runner.
func (s *PostgresStore) LockOrganization(ctx context.Context, orgID id.OrganizationID) error {
	rows, err := tx.ExecutorFrom(ctx, s.db).QueryContext(ctx,
		`SELECT id FROM os_policies WHERE organization_id = $1 ORDER BY id FOR UPDATE`, uuid.UUID(orgID))
	if err != nil {
		return fmt.Errorf("lock organization policies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

func (s *PostgresStore) DeactivateAll(ctx context.Context, orgID id.OrganizationID, now time.Time) error {
	_, err := tx.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE os_policies SET active = FALSE, updated_at = $2
		WHERE organization_id = $1 AND active
	`, uuid.UUID(orgID), now)
	if err != nil {
		return fmt.Errorf("deactivate policies: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkActive(ctx context.Context, policyID id.PolicyID, now time.Time) error {
	res, err := tx.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE os_policies SET active = TRUE, updated_at = $2 WHERE id = $1
	`, uuid.UUID(policyID), now)
	if err != nil {
		if postgres.IsUniqueViolation(err, activeConstraint) {
			return fmt.Errorf("another policy is active: %w", ErrConflict)
		}
		return fmt.Errorf("activate policy: %w", err)
	}
	return requireOneRow(res, "activate policy")
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	financial, deadlines, overrides, err := marshalThresholds(snap.Thresholds)
	if err != nil {
		return err
	}
	var policyID *uuid.UUID
	if !snap.PolicyID.IsNil() {
		pid := uuid.UUID(snap.PolicyID)
		policyID = &pid
	}
	_, err = tx.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO os_policy_snapshots (
			id, order_id, organization_id, policy_id, version,
			financial, deadlines, checklist_overrides, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.UUID(snap.ID), uuid.UUID(snap.OrderID), uuid.UUID(snap.OrganizationID), policyID,
		snap.Version, financial, deadlines, overrides, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("save policy snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, orderID id.OrderID) ([]*models.Snapshot, error) {
	rows, err := tx.ExecutorFrom(ctx, s.db).QueryContext(ctx, `
		SELECT id, order_id, organization_id, policy_id, version,
		       financial, deadlines, checklist_overrides, created_at
		FROM os_policy_snapshots
		WHERE order_id = $1
		ORDER BY created_at DESC
	`, uuid.UUID(orderID))
	if err != nil {
		return nil, fmt.Errorf("list policy snapshots: %w", err)
	}
	defer rows.Close()

	out := []*models.Snapshot{}
	for rows.Next() {
		var (
			snap                            models.Snapshot
			rawID, rawOrder, rawOrg         uuid.UUID
			rawPolicy                       uuid.NullUUID
			financial, deadlines, overrides []byte
		)
		if err := rows.Scan(&rawID, &rawOrder, &rawOrg, &rawPolicy, &snap.Version,
			&financial, &deadlines, &overrides, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan policy snapshot: %w", err)
		}
		snap.ID = id.SnapshotID(rawID)
		snap.OrderID = id.OrderID(rawOrder)
		snap.OrganizationID = id.OrganizationID(rawOrg)
		if rawPolicy.Valid {
			snap.PolicyID = id.PolicyID(rawPolicy.UUID)
		}
		if snap.Thresholds, err = unmarshalThresholds(financial, deadlines, overrides); err != nil {
			return nil, err
		}
		out = append(out, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list policy snapshots: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*models.Policy, error) {
	var (
		p                               models.Policy
		rawID, rawOrg                   uuid.UUID
		financial, deadlines, overrides []byte
	)
	if err := row.Scan(&rawID, &rawOrg, &p.Name, &p.Description, &p.Version, &p.Active,
		&financial, &deadlines, &overrides, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ID = id.PolicyID(rawID)
	p.OrganizationID = id.OrganizationID(rawOrg)
	thresholds, err := unmarshalThresholds(financial, deadlines, overrides)
	if err != nil {
		return nil, err
	}
	p.Thresholds = thresholds
	return &p, nil
}

func marshalThresholds(t models.Thresholds) (financial, deadlines, overrides []byte, err error) {
	if financial, err = json.Marshal(t.Financial); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal financial thresholds: %w", err)
	}
	if deadlines, err = json.Marshal(t.Deadlines); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal deadline thresholds: %w", err)
	}
	o := t.ChecklistOverrides
	if o == nil {
		o = map[string]any{}
	}
	if overrides, err = json.Marshal(o); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal checklist overrides: %w", err)
	}
	return financial, deadlines, overrides, nil
}

func unmarshalThresholds(financial, deadlines, overrides []byte) (models.Thresholds, error) {
	var t models.Thresholds
	if err := json.Unmarshal(financial, &t.Financial); err != nil {
		return t, fmt.Errorf("unmarshal financial thresholds: %w", err)
	}
	if err := json.Unmarshal(deadlines, &t.Deadlines); err != nil {
		return t, fmt.Errorf("unmarshal deadline thresholds: %w", err)
	}
	t.ChecklistOverrides = map[string]any{}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &t.ChecklistOverrides); err != nil {
			return t, fmt.Errorf("unmarshal checklist overrides: %w", err)
		}
	}
	return t, nil
}

func requireOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
