//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tourops/internal/platform/logger"
	"tourops/internal/policy/models"
	"tourops/internal/policy/service"
	"tourops/internal/policy/store"
	id "tourops/pkg/domain"
	"tourops/pkg/platform/tx"
	"tourops/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.Postgres
	store    *store.PostgresStore
	service  *service.Service
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.StartPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.service = service.New(s.store, s.store, tx.NewPostgresRunner(s.postgres.DB),
		service.WithLogger(logger.Discard()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(context.Background(), "os_policies", "os_policy_snapshots"))
}

func (s *PostgresStoreSuite) newPolicy(org id.OrganizationID) *models.Policy {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Policy{
		ID:             id.PolicyID(uuid.New()),
		OrganizationID: org,
		Name:           "policy",
		Thresholds: models.Thresholds{
			Financial:          models.DefaultFinancial(),
			Deadlines:          models.DefaultDeadlines(),
			ChecklistOverrides: map[string]any{"k": "v"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *PostgresStoreSuite) TestCreateRoundTrip() {
	ctx := context.Background()
	org := id.OrganizationID(uuid.New())
	p := s.newPolicy(org)
	s.Require().NoError(s.store.CreateNextVersion(ctx, p))
	s.Equal(1, p.Version)

	loaded, err := s.store.FindByID(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(p.Thresholds, loaded.Thresholds)
	s.False(loaded.Active)

	_, err = s.store.FindActive(ctx, org)
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *PostgresStoreSuite) TestConcurrentCreatesGetDistinctVersions() {
	ctx := context.Background()
	org := id.OrganizationID(uuid.New())
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.service.CreatePolicy(ctx, models.CreateInput{OrganizationID: org, Name: "parallel"})
		}()
	}
	wg.Wait()

	list, err := s.store.ListByOrganization(ctx, org)
	s.Require().NoError(err)
	seen := map[int]bool{}
	for _, p := range list {
		s.False(seen[p.Version], "duplicate version %d", p.Version)
		seen[p.Version] = true
	}
	s.NotEmpty(seen)
}

func (s *PostgresStoreSuite) TestConcurrentActivationsKeepSingleActive() {
	ctx := context.Background()
	org := id.OrganizationID(uuid.New())
	var ids []id.PolicyID
	for i := 0; i < 8; i++ {
		p, err := s.service.CreatePolicy(ctx, models.CreateInput{OrganizationID: org, Name: "candidate"})
		s.Require().NoError(err)
		ids = append(ids, p.ID)
	}

	var wg sync.WaitGroup
	for round := 0; round < 3; round++ {
		for _, pid := range ids {
			wg.Add(1)
			go func(pid id.PolicyID) {
				defer wg.Done()
				_, _ = s.service.ActivatePolicy(ctx, org, pid)
			}(pid)
		}
	}
	wg.Wait()

	list, err := s.store.ListByOrganization(ctx, org)
	s.Require().NoError(err)
	active := 0
	for _, p := range list {
		if p.Active {
			active++
		}
	}
	s.Equal(1, active)
}

func (s *PostgresStoreSuite) TestPartialIndexRejectsSecondActive() {
	ctx := context.Background()
	org := id.OrganizationID(uuid.New())
	a, b := s.newPolicy(org), s.newPolicy(org)
	s.Require().NoError(s.store.CreateNextVersion(ctx, a))
	s.Require().NoError(s.store.CreateNextVersion(ctx, b))

	s.Require().NoError(s.store.MarkActive(ctx, a.ID, time.Now()))
	err := s.store.MarkActive(ctx, b.ID, time.Now())
	s.ErrorIs(err, store.ErrConflict)
}

func (s *PostgresStoreSuite) TestSnapshotsNewestFirst() {
	ctx := context.Background()
	org := id.OrganizationID(uuid.New())
	orderID := id.OrderID(uuid.New())

	first, err := s.service.SnapshotActiveForOS(ctx, org, orderID)
	s.Require().NoError(err)
	time.Sleep(5 * time.Millisecond)
	second, err := s.service.SnapshotActiveForOS(ctx, org, orderID)
	s.Require().NoError(err)

	list, err := s.store.ListSnapshots(ctx, orderID)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(second.ID, list[0].ID)
	s.Equal(first.ID, list[1].ID)
	s.True(list[1].PolicyID.IsNil())
}
