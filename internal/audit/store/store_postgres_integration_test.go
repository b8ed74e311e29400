//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tourops/internal/audit/models"
	"tourops/internal/audit/store"
	id "tourops/pkg/domain"
	"tourops/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.Postgres
	store    *store.PostgresStore
	orderID  id.OrderID
	actor    models.Actor
	base     time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.StartPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(context.Background(), "os_audit_records"))
	s.orderID = id.OrderID(uuid.New())
	s.actor = models.Actor{ID: id.UserID(uuid.New()), Name: "Ana", Role: "operator"}
	s.base = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) record(kind, entityID string, offset time.Duration) *models.Record {
	return &models.Record{
		ID:             id.AuditRecordID(uuid.New()),
		OrganizationID: id.OrganizationID(uuid.New()),
		OrderID:        s.orderID,
		Actor:          s.actor,
		Action:         models.ActionUpdated,
		EntityKind:     kind,
		EntityID:       entityID,
		ChangedFields:  []string{},
		Description:    "Atualizou " + kind,
		CreatedAt:      s.base.Add(offset),
	}
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	r := s.record("payment", "p1", 0)
	r.Before = map[string]any{"amount": 100.0}
	r.After = map[string]any{"amount": 120.0, "card_number": "[REDACTED]"}
	r.ChangedFields = []string{"amount", "card_number"}
	r.Metadata = map[string]any{"justification": "client accepted reduced margin"}
	s.Require().NoError(s.store.Append(ctx, r))

	got, err := s.store.FindLatest(ctx, s.orderID, "payment", "p1")
	s.Require().NoError(err)
	s.Equal(r.ID, got.ID)
	s.Equal(s.actor, got.Actor)
	s.Equal(r.Before, got.Before)
	s.Equal(r.After, got.After)
	s.Equal(r.ChangedFields, got.ChangedFields)
	s.Equal("client accepted reduced margin", got.Metadata["justification"])
	s.True(r.CreatedAt.Equal(got.CreatedAt))
}

func (s *PostgresStoreSuite) TestNullPayloadsStayNil() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, s.record("participant", "x1", 0)))

	got, err := s.store.FindLatest(ctx, s.orderID, "participant", "x1")
	s.Require().NoError(err)
	s.Nil(got.Before)
	s.Nil(got.After)
}

func (s *PostgresStoreSuite) TestRecordsAreAppendOnly() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, s.record("payment", "p1", 0)))

	_, err := s.postgres.DB.ExecContext(ctx, `UPDATE os_audit_records SET description = 'x'`)
	s.Error(err)
	_, err = s.postgres.DB.ExecContext(ctx, `DELETE FROM os_audit_records`)
	s.Error(err)
}

func (s *PostgresStoreSuite) TestSearchAndAggregate() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, s.record("payment", "p1", -48*time.Hour)))
	s.Require().NoError(s.store.Append(ctx, s.record("payment", "p1", -time.Hour)))
	latest := s.record("participant", "x1", 0)
	s.Require().NoError(s.store.Append(ctx, latest))

	page, total, err := s.store.Search(ctx, models.Filters{OrderID: s.orderID, Page: 1, Limit: 2})
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Require().Len(page, 2)
	s.Equal(latest.ID, page[0].ID)

	byKind, total, err := s.store.Search(ctx, models.Filters{OrderID: s.orderID, EntityKind: "payment", Page: 1, Limit: 50})
	s.Require().NoError(err)
	s.Equal(2, total)
	s.Len(byKind, 2)

	all, err := s.store.SearchAll(ctx, models.Filters{OrderID: s.orderID, Page: 1, Limit: 1})
	s.Require().NoError(err)
	s.Len(all, 3)

	agg, err := s.store.Aggregate(ctx, s.orderID, s.base.Add(-24*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(3), agg.Total)
	s.Equal(int64(2), agg.Since)
	s.Equal([]models.RankEntry{{Key: s.actor.ID.String(), Count: 3}}, agg.Actors)
	s.Equal([]models.RankEntry{{Key: "payment", Count: 2}, {Key: "participant", Count: 1}}, agg.EntityKinds)
}
