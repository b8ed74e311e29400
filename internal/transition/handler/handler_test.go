package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditservice "tourops/internal/audit/service"
	auditstore "tourops/internal/audit/store"
	"tourops/internal/cache/memory"
	"tourops/internal/directory"
	ordermodels "tourops/internal/order/models"
	orderstore "tourops/internal/order/store"
	"tourops/internal/platform/logger"
	policyservice "tourops/internal/policy/service"
	policystore "tourops/internal/policy/store"
	"tourops/internal/transition"
	id "tourops/pkg/domain"
	"tourops/pkg/platform/tx"
	"tourops/pkg/testutil"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	router http.Handler
	orders *orderstore.InMemoryStore
	actor  id.UserID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orgID := id.OrganizationID(uuid.New())
	actor := directory.Actor{ID: id.UserID(uuid.New()), Name: "Ana", Role: "operator", OrganizationID: orgID}

	orders := orderstore.NewInMemoryStore()
	policies := policystore.NewInMemoryStore()
	policySvc := policyservice.New(policies, policies, tx.NewMemoryRunner(), policyservice.WithLogger(logger.Discard()))
	cfg := auditservice.DefaultConfig()
	cfg.CacheBuffer = 0
	auditSvc := auditservice.New(auditstore.NewInMemoryStore(), directory.NewInMemory(actor),
		memory.New(memory.WithClock(func() time.Time { return now })),
		auditservice.WithConfig(cfg), auditservice.WithLogger(logger.Discard()))
	t.Cleanup(auditSvc.Close)

	validator := transition.NewValidator(orders, policySvc, transition.WithLogger(logger.Discard()))
	changer := transition.NewChanger(validator, orders, policySvc, auditSvc, transition.WithChangerLogger(logger.Discard()))

	r := chi.NewRouter()
	New(transition.Engine{Validator: validator, Changer: changer}, logger.Discard()).Register(r)
	return &fixture{router: r, orders: orders, actor: actor.ID}
}

func (f *fixture) quotingOrder(t *testing.T, cost float64) id.OrderID {
	t.Helper()
	o := &ordermodels.Order{
		ID:            id.OrderID(uuid.New()),
		Status:        ordermodels.StatusQuoting,
		SaleValue:     1000,
		EstimatedCost: cost,
	}
	require.NoError(t, f.orders.Save(context.Background(), o))
	return o.ID
}

func (f *fixture) do(t *testing.T, method, path string, body any, actor id.UserID) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.WithTime(testutil.NewJSONRequest(t, method, path, body), now)
	return testutil.DoRequest(f.router, testutil.WithActor(req, actor))
}

func TestValidateEndpoint(t *testing.T) {
	f := newFixture(t)
	orderID := f.quotingOrder(t, 900)
	base := "/orders/" + orderID.String() + "/transitions/validate"

	rec := f.do(t, http.MethodGet, base+"?from=quoting&to=reservations_pending", nil, id.UserID{})
	require.Equal(t, http.StatusOK, rec.Code)
	var result transition.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.False(t, result.CanProceed)
	assert.Equal(t, []string{transition.KeyMargin}, result.BlockerKeys())

	rec = f.do(t, http.MethodGet, base+"?from=quoting&to=archived", nil, id.UserID{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/orders/"+uuid.NewString()+"/transitions/validate?from=quoting&to=cancelled", nil, id.UserID{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTransitionsEndpoint(t *testing.T) {
	f := newFixture(t)
	orderID := f.quotingOrder(t, 800)

	rec := f.do(t, http.MethodGet, "/orders/"+orderID.String()+"/transitions", nil, id.UserID{})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Transitions map[ordermodels.Status]transition.Result `json:"transitions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.Transitions, len(ordermodels.AllStatuses())-1)
	assert.True(t, body.Transitions[ordermodels.StatusReservationsPending].CanProceed)
}

func TestChangeStatusEndpoint(t *testing.T) {
	t.Run("blocked without justification", func(t *testing.T) {
		f := newFixture(t)
		orderID := f.quotingOrder(t, 900)

		rec := f.do(t, http.MethodPost, "/orders/"+orderID.String()+"/status",
			map[string]any{"to": "reservations_pending"}, f.actor)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		res := testutil.DecodeJSON[transition.ChangeResult](t, rec)
		assert.False(t, res.Applied)
		assert.Equal(t, []string{transition.KeyMargin}, res.Validation.BlockerKeys())
	})

	t.Run("forced with justification", func(t *testing.T) {
		f := newFixture(t)
		orderID := f.quotingOrder(t, 900)

		rec := f.do(t, http.MethodPost, "/orders/"+orderID.String()+"/status", map[string]any{
			"to":            "reservations_pending",
			"justification": "client accepted reduced margin",
		}, f.actor)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res transition.ChangeResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
		assert.True(t, res.Applied)
		assert.True(t, res.Forced)
		require.NotNil(t, res.AuditRecord)
		assert.Equal(t, "client accepted reduced margin", res.AuditRecord.Metadata["justification"])
	})

	t.Run("requires an actor", func(t *testing.T) {
		f := newFixture(t)
		orderID := f.quotingOrder(t, 800)
		rec := f.do(t, http.MethodPost, "/orders/"+orderID.String()+"/status",
			map[string]any{"to": "cancelled"}, id.UserID{})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		f := newFixture(t)
		orderID := f.quotingOrder(t, 800)
		rec := f.do(t, http.MethodPost, "/orders/"+orderID.String()+"/status",
			map[string]any{"to": "archived"}, f.actor)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
