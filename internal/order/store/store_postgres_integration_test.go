//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tourops/internal/order/models"
	"tourops/internal/order/store"
	id "tourops/pkg/domain"
	"tourops/pkg/platform/sentinel"
	"tourops/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.Postgres
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.StartPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(context.Background(), "operational_orders"))
}

func (s *PostgresStoreSuite) TestRoundTripsNestedCollections() {
	ctx := context.Background()
	start := time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)
	o := &models.Order{
		ID:             id.OrderID(uuid.New()),
		OrganizationID: id.OrganizationID(uuid.New()),
		Title:          "Atacama",
		Status:         models.StatusReservationsPending,
		StartDate:      &start,
		SaleValue:      1000,
		EstimatedCost:  800,
		Details: models.Details{
			Suppliers: []models.Supplier{{Name: "Andes Guias", Category: models.SupplierCategoryGuiding}},
			Lodgings:  []models.Lodging{{Name: "Hotel Alto", Confirmed: true}},
		},
	}
	s.Require().NoError(s.store.Save(ctx, o))

	loaded, err := s.store.LoadAggregate(ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(o.Status, loaded.Status)
	s.True(loaded.HasGuidingSupplier())
	s.Require().NotNil(loaded.StartDate)
	s.True(start.Equal(*loaded.StartDate))
	s.Equal(o.Lodgings, loaded.Lodgings)
}

func (s *PostgresStoreSuite) TestConcurrentStatusChangeHasOneWinner() {
	ctx := context.Background()
	o := &models.Order{
		ID:             id.OrderID(uuid.New()),
		OrganizationID: id.OrganizationID(uuid.New()),
		Status:         models.StatusPlanning,
	}
	s.Require().NoError(s.store.Save(ctx, o))

	const goroutines = 20
	var wg sync.WaitGroup
	var wins, stale atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.UpdateStatus(ctx, o.ID, models.StatusPlanning, models.StatusQuoting, time.Now())
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrInvalidState):
				stale.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(goroutines-1), stale.Load())
}
