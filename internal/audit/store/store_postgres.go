package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tourops/internal/audit/models"
	id "tourops/pkg/domain"
	"tourops/pkg/platform/tx"
)

// PostgresStore persists records in os_audit_records. A trigger rejects
// UPDATE and DELETE on the table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, organization_id, order_id, actor_id, actor_name, actor_role,
	action, entity_kind, entity_id, before_data, after_data, changed_fields,
	description, metadata, created_at`

func (s *PostgresStore) Append(ctx context.Context, r *models.Record) error {
	before, err := marshalDoc(r.Before)
	if err != nil {
		return err
	}
	after, err := marshalDoc(r.After)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(nonNil(r.Metadata))
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	changed := r.ChangedFields
	if changed == nil {
		changed = []string{}
	}
	_, err = tx.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO os_audit_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		uuid.UUID(r.ID), uuid.UUID(r.OrganizationID), uuid.UUID(r.OrderID),
		uuid.UUID(r.Actor.ID), r.Actor.Name, r.Actor.Role,
		string(r.Action), r.EntityKind, r.EntityID,
		before, after, pq.Array(changed),
		r.Description, metadata, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindLatest(ctx context.Context, orderID id.OrderID, entityKind, entityID string) (*models.Record, error) {
	row := tx.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM os_audit_records
		WHERE order_id = $1 AND entity_kind = $2 AND entity_id = $3
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, uuid.UUID(orderID), entityKind, entityID)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find latest audit record: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Search(ctx context.Context, f models.Filters) ([]*models.Record, int, error) {
	where, args := whereClause(f)

	var total int
	err := tx.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM os_audit_records WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count audit records: %w", err)
	}

	args = append(args, f.Limit, f.Offset())
	query := fmt.Sprintf(`SELECT %s FROM os_audit_records WHERE %s
		ORDER BY created_at DESC, seq DESC LIMIT $%d OFFSET $%d`,
		recordColumns, where, len(args)-1, len(args))
	records, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (s *PostgresStore) SearchAll(ctx context.Context, f models.Filters) ([]*models.Record, error) {
	where, args := whereClause(f)
	return s.query(ctx, `SELECT `+recordColumns+` FROM os_audit_records WHERE `+where+`
		ORDER BY created_at DESC, seq DESC`, args...)
}

func (s *PostgresStore) Aggregate(ctx context.Context, orderID id.OrderID, since time.Time) (*models.Aggregate, error) {
	exec := tx.ExecutorFrom(ctx, s.db)
	agg := &models.Aggregate{}
	err := exec.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE created_at >= $2)
		FROM os_audit_records WHERE order_id = $1
	`, uuid.UUID(orderID), since).Scan(&agg.Total, &agg.Since)
	if err != nil {
		return nil, fmt.Errorf("count audit records: %w", err)
	}
	if agg.Actors, err = s.tally(ctx, "actor_id::text", orderID); err != nil {
		return nil, err
	}
	if agg.EntityKinds, err = s.tally(ctx, "entity_kind", orderID); err != nil {
		return nil, err
	}
	return agg, nil
}

// tally groups one order's records by a fixed column expression.
func (s *PostgresStore) tally(ctx context.Context, column string, orderID id.OrderID) ([]models.RankEntry, error) {
	rows, err := tx.ExecutorFrom(ctx, s.db).QueryContext(ctx, `
		SELECT `+column+` AS key, COUNT(*) AS n
		FROM os_audit_records WHERE order_id = $1
		GROUP BY key ORDER BY n DESC, key ASC
	`, uuid.UUID(orderID))
	if err != nil {
		return nil, fmt.Errorf("tally audit records by %s: %w", column, err)
	}
	defer rows.Close()
	out := []models.RankEntry{}
	for rows.Next() {
		var e models.RankEntry
		if err := rows.Scan(&e.Key, &e.Count); err != nil {
			return nil, fmt.Errorf("scan audit tally: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*models.Record, error) {
	rows, err := tx.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()
	out := []*models.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}

func whereClause(f models.Filters) (string, []any) {
	conds := []string{"order_id = $1"}
	args := []any{uuid.UUID(f.OrderID)}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ActorID != nil {
		add("actor_id = $%d", uuid.UUID(*f.ActorID))
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.EntityKind != "" {
		add("entity_kind = $%d", f.EntityKind)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	return strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		r                        models.Record
		recordID, orgID, orderID uuid.UUID
		actorID                  uuid.UUID
		action                   string
		before, after            []byte
		metadata                 []byte
		changed                  pq.StringArray
	)
	err := row.Scan(&recordID, &orgID, &orderID, &actorID, &r.Actor.Name, &r.Actor.Role,
		&action, &r.EntityKind, &r.EntityID, &before, &after, &changed,
		&r.Description, &metadata, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.ID = id.AuditRecordID(recordID)
	r.OrganizationID = id.OrganizationID(orgID)
	r.OrderID = id.OrderID(orderID)
	r.Actor.ID = id.UserID(actorID)
	r.Action = models.Action(action)
	r.ChangedFields = []string(changed)
	r.CreatedAt = r.CreatedAt.UTC()
	if r.Before, err = unmarshalDoc(before); err != nil {
		return nil, err
	}
	if r.After, err = unmarshalDoc(after); err != nil {
		return nil, err
	}
	if r.Metadata, err = unmarshalDoc(metadata); err != nil {
		return nil, err
	}
	return &r, nil
}

// marshalDoc stores a nil document as SQL NULL.
func marshalDoc(doc map[string]any) (any, error) {
	if doc == nil {
		return nil, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}
	return raw, nil
}

func unmarshalDoc(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal audit payload: %w", err)
	}
	return doc, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
