package transition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	auditmodels "tourops/internal/audit/models"
	auditservice "tourops/internal/audit/service"
	auditstore "tourops/internal/audit/store"
	"tourops/internal/cache/memory"
	"tourops/internal/directory"
	ordermodels "tourops/internal/order/models"
	orderstore "tourops/internal/order/store"
	"tourops/internal/platform/logger"
	policymodels "tourops/internal/policy/models"
	policyservice "tourops/internal/policy/service"
	policystore "tourops/internal/policy/store"
	id "tourops/pkg/domain"
	dErrors "tourops/pkg/domain-errors"
	"tourops/pkg/platform/sentinel"
	"tourops/pkg/platform/tx"
	"tourops/pkg/requestcontext"
)

type ChangerSuite struct {
	suite.Suite
	ctx       context.Context
	orders    *orderstore.InMemoryStore
	snapshots *policystore.InMemoryStore
	policies  *policyservice.Service
	records   *auditstore.InMemoryStore
	audit     *auditservice.Service
	validator *Validator
	changer   *Changer
	actor     directory.Actor
}

func TestChangerSuite(t *testing.T) {
	suite.Run(t, new(ChangerSuite))
}

func (s *ChangerSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), testNow)
	s.actor = directory.Actor{ID: id.UserID(uuid.New()), Name: "Ana", Role: "operator", OrganizationID: orgID}
	s.orders = orderstore.NewInMemoryStore()
	s.snapshots = policystore.NewInMemoryStore()
	s.policies = policyservice.New(s.snapshots, s.snapshots, tx.NewMemoryRunner(),
		policyservice.WithLogger(logger.Discard()))
	s.records = auditstore.NewInMemoryStore()
	cfg := auditservice.DefaultConfig()
	cfg.CacheBuffer = 0
	s.audit = auditservice.New(s.records, directory.NewInMemory(s.actor),
		memory.New(memory.WithClock(func() time.Time { return testNow })),
		auditservice.WithConfig(cfg), auditservice.WithLogger(logger.Discard()))
	s.validator = NewValidator(s.orders, s.policies, WithLogger(logger.Discard()))
	s.changer = NewChanger(s.validator, s.orders, s.policies, s.audit, WithChangerLogger(logger.Discard()))

	margin := 15.0
	p, err := s.policies.CreatePolicy(s.ctx, policymodels.CreateInput{
		OrganizationID: orgID,
		Name:           "Alta temporada",
		Financial:      policymodels.FinancialInput{MinMarginPct: &margin},
	})
	s.Require().NoError(err)
	_, err = s.policies.ActivatePolicy(s.ctx, orgID, p.ID)
	s.Require().NoError(err)
}

func (s *ChangerSuite) TearDownTest() {
	s.audit.Close()
}

func (s *ChangerSuite) quotingOrder(cost float64) *ordermodels.Order {
	o := &ordermodels.Order{
		ID:             id.OrderID(uuid.New()),
		OrganizationID: orgID,
		Status:         ordermodels.StatusQuoting,
		SaleValue:      1000,
		EstimatedCost:  cost,
	}
	s.Require().NoError(s.orders.Save(s.ctx, o))
	return o
}

func (s *ChangerSuite) status(orderID id.OrderID) ordermodels.Status {
	o, err := s.orders.LoadAggregate(s.ctx, orderID)
	s.Require().NoError(err)
	return o.Status
}

func (s *ChangerSuite) auditTrail(orderID id.OrderID) []*auditmodels.Record {
	records, err := s.records.SearchAll(s.ctx, auditmodels.Filters{OrderID: orderID})
	s.Require().NoError(err)
	return records
}

func (s *ChangerSuite) TestForcedChangeRecordsJustification() {
	o := s.quotingOrder(900)
	ctx := requestcontext.WithRequestID(s.ctx, "req-123")
	ctx = requestcontext.WithOrigin(ctx, requestcontext.RequestOrigin{ClientIP: "10.0.0.7", Path: "/orders/x/status"})

	res, err := s.changer.ChangeStatus(ctx, ChangeRequest{
		OrderID:       o.ID,
		To:            ordermodels.StatusReservationsPending,
		ActorID:       s.actor.ID,
		Justification: "client accepted reduced margin",
	})
	s.Require().NoError(err)

	s.True(res.Applied)
	s.True(res.Forced)
	s.Equal([]string{KeyMargin}, res.Validation.BlockerKeys())
	s.Equal(ordermodels.StatusReservationsPending, s.status(o.ID))

	s.Require().NotNil(res.Snapshot)
	s.Equal(15.0, res.Snapshot.Financial.MinMarginPct)
	snaps, err := s.policies.SnapshotsForOS(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Len(snaps, 1)

	trail := s.auditTrail(o.ID)
	s.Require().Len(trail, 1)
	rec := trail[0]
	s.Equal(res.AuditRecord.ID, rec.ID)
	s.Equal(auditmodels.ActionStatusChanged, rec.Action)
	s.Equal(auditmodels.EntityStatusTransition, rec.EntityKind)
	s.Equal("quoting->reservations_pending@"+res.Snapshot.ID.String(), rec.EntityID)
	s.Equal([]string{"status"}, rec.ChangedFields)
	s.Equal("client accepted reduced margin", rec.Metadata["justification"])
	s.Equal(true, rec.Metadata["forced"])
	s.Equal([]any{KeyMargin}, rec.Metadata["blockers"])
	s.Equal(float64(1), rec.Metadata["policy_version"])
	s.Equal(res.Snapshot.ID.String(), rec.Metadata["policy_snapshot_id"])
	s.Equal("req-123", rec.Metadata["request_id"])
	s.Equal(map[string]any{"client_ip": "10.0.0.7", "path": "/orders/x/status"}, rec.Metadata["request_origin"])
	s.Equal("Alterou o status de Cotação para Reservas Pendentes (forçado com justificativa)", rec.Description)
}

func (s *ChangerSuite) TestRepeatedForcedChangeIsAuditedEachTime() {
	o := s.quotingOrder(900)
	forward := func(reason string) *ChangeResult {
		res, err := s.changer.ChangeStatus(s.ctx, ChangeRequest{
			OrderID:       o.ID,
			To:            ordermodels.StatusReservationsPending,
			ActorID:       s.actor.ID,
			Justification: reason,
		})
		s.Require().NoError(err)
		s.Require().True(res.Applied)
		s.Require().True(res.Forced)
		return res
	}

	first := forward("client accepted reduced margin")
	back, err := s.changer.ChangeStatus(s.ctx, ChangeRequest{OrderID: o.ID, To: ordermodels.StatusQuoting, ActorID: s.actor.ID})
	s.Require().NoError(err)
	s.Require().True(back.Applied)
	second := forward("supplier discount approved by finance")

	s.NotEqual(first.AuditRecord.ID, second.AuditRecord.ID)
	s.NotEqual(first.Snapshot.ID, second.Snapshot.ID)
	s.Equal("supplier discount approved by finance", second.AuditRecord.Metadata["justification"])
	s.Equal(second.Snapshot.ID.String(), second.AuditRecord.Metadata["policy_snapshot_id"])

	var forced []string
	for _, rec := range s.auditTrail(o.ID) {
		s.Equal(auditmodels.ActionStatusChanged, rec.Action)
		if rec.Metadata["forced"] == true {
			forced = append(forced, rec.Metadata["justification"].(string))
		}
	}
	s.Len(s.auditTrail(o.ID), 3)
	s.ElementsMatch([]string{"client accepted reduced margin", "supplier discount approved by finance"}, forced)
}

func (s *ChangerSuite) TestBlockedWithoutJustificationIsNotApplied() {
	o := s.quotingOrder(900)

	res, err := s.changer.ChangeStatus(s.ctx, ChangeRequest{
		OrderID:       o.ID,
		To:            ordermodels.StatusReservationsPending,
		ActorID:       s.actor.ID,
		Justification: "   ",
	})
	s.Require().NoError(err)

	s.False(res.Applied)
	s.False(res.Validation.CanProceed)
	s.Equal(ordermodels.StatusQuoting, s.status(o.ID))
	s.Empty(s.auditTrail(o.ID))
}

func (s *ChangerSuite) TestCleanChange() {
	o := s.quotingOrder(800)

	res, err := s.changer.ChangeStatus(s.ctx, ChangeRequest{
		OrderID: o.ID,
		To:      ordermodels.StatusReservationsPending,
		ActorID: s.actor.ID,
	})
	s.Require().NoError(err)

	s.True(res.Applied)
	s.False(res.Forced)
	s.Equal(ordermodels.StatusReservationsPending, s.status(o.ID))
	trail := s.auditTrail(o.ID)
	s.Require().Len(trail, 1)
	s.NotContains(trail[0].Metadata, "justification")
	s.Equal(false, trail[0].Metadata["forced"])
	s.Equal("Alterou o status de Cotação para Reservas Pendentes", trail[0].Description)
}

func (s *ChangerSuite) TestRejectsInvalidRequests() {
	o := s.quotingOrder(800)
	tests := []struct {
		name string
		req  ChangeRequest
		code dErrors.Code
	}{
		{"same status", ChangeRequest{OrderID: o.ID, To: ordermodels.StatusQuoting, ActorID: s.actor.ID}, dErrors.CodeValidation},
		{"unknown status", ChangeRequest{OrderID: o.ID, To: "archived", ActorID: s.actor.ID}, dErrors.CodeValidation},
		{"missing actor", ChangeRequest{OrderID: o.ID, To: ordermodels.StatusCancelled}, dErrors.CodeValidation},
		{"unknown order", ChangeRequest{OrderID: id.OrderID(uuid.New()), To: ordermodels.StatusCancelled, ActorID: s.actor.ID}, dErrors.CodeNotFound},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.changer.ChangeStatus(s.ctx, tt.req)
			s.True(dErrors.HasCode(err, tt.code), err)
		})
	}
	s.Equal(ordermodels.StatusQuoting, s.status(o.ID))
}

func (s *ChangerSuite) TestConcurrentChangeConflicts() {
	o := s.quotingOrder(800)
	changer := NewChanger(s.validator, staleWriter{}, s.policies, s.audit, WithChangerLogger(logger.Discard()))

	_, err := changer.ChangeStatus(s.ctx, ChangeRequest{OrderID: o.ID, To: ordermodels.StatusCancelled, ActorID: s.actor.ID})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Empty(s.auditTrail(o.ID))
}

func (s *ChangerSuite) TestAuditFailureRevertsStatus() {
	o := s.quotingOrder(800)
	changer := NewChanger(s.validator, s.orders, s.policies, failingAudit{}, WithChangerLogger(logger.Discard()))

	_, err := changer.ChangeStatus(s.ctx, ChangeRequest{OrderID: o.ID, To: ordermodels.StatusCancelled, ActorID: s.actor.ID})
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Equal(ordermodels.StatusQuoting, s.status(o.ID))
}

func (s *ChangerSuite) TestSnapshotFailureRevertsStatus() {
	o := s.quotingOrder(800)
	changer := NewChanger(s.validator, s.orders, failingSnapshots{}, s.audit, WithChangerLogger(logger.Discard()))

	_, err := changer.ChangeStatus(s.ctx, ChangeRequest{OrderID: o.ID, To: ordermodels.StatusCancelled, ActorID: s.actor.ID})
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Equal(ordermodels.StatusQuoting, s.status(o.ID))
	s.Empty(s.auditTrail(o.ID))
}

func (s *ChangerSuite) TestUnknownActorRevertsStatus() {
	o := s.quotingOrder(800)

	_, err := s.changer.ChangeStatus(s.ctx, ChangeRequest{OrderID: o.ID, To: ordermodels.StatusCancelled, ActorID: id.UserID(uuid.New())})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Equal(ordermodels.StatusQuoting, s.status(o.ID))
}

type staleWriter struct{}

func (staleWriter) UpdateStatus(context.Context, id.OrderID, ordermodels.Status, ordermodels.Status, time.Time) error {
	return sentinel.ErrInvalidState
}

type failingAudit struct{}

func (failingAudit) Log(context.Context, auditmodels.LogParams) (*auditmodels.Record, error) {
	return nil, dErrors.Wrap(errors.New("disk full"), dErrors.CodeInternal, "failed to persist audit record")
}

type failingSnapshots struct{}

func (failingSnapshots) SnapshotPolicy(context.Context, id.OrderID, *policymodels.Policy) (*policymodels.Snapshot, error) {
	return nil, dErrors.Wrap(errors.New("disk full"), dErrors.CodeInternal, "failed to save policy snapshot")
}
