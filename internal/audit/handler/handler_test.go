package handler

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourops/internal/audit/models"
	"tourops/internal/audit/service"
	"tourops/internal/audit/store"
	"tourops/internal/cache/memory"
	"tourops/internal/directory"
	"tourops/internal/platform/logger"
	id "tourops/pkg/domain"
	"tourops/pkg/testutil"
)

type fixture struct {
	router http.Handler
	actor  directory.Actor
	base   string
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	actor := directory.Actor{
		ID:             id.UserID(uuid.New()),
		Name:           "Ana",
		Role:           "operator",
		OrganizationID: id.OrganizationID(uuid.New()),
	}
	cfg := service.DefaultConfig()
	cfg.CacheBuffer = 0
	svc := service.New(
		store.NewInMemoryStore(),
		directory.NewInMemory(actor),
		memory.New(memory.WithClock(func() time.Time { return now })),
		service.WithConfig(cfg),
		service.WithLogger(logger.Discard()),
	)
	t.Cleanup(svc.Close)

	r := chi.NewRouter()
	New(svc, logger.Discard()).Register(r)
	return &fixture{
		router: r,
		actor:  actor,
		base:   "/orders/" + uuid.NewString() + "/audit",
		now:    now,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any, actor id.UserID) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.WithTime(testutil.NewJSONRequest(t, method, path, body), f.now)
	return testutil.DoRequest(f.router, testutil.WithActor(req, actor))
}

func (f *fixture) logPayment(t *testing.T, entityID string) models.Record {
	t.Helper()
	rec := f.do(t, http.MethodPost, f.base, map[string]any{
		"action":      "updated",
		"entity_kind": "payment",
		"entity_id":   entityID,
		"before":      map[string]any{"amount": 100, "card_number": "4111"},
		"after":       map[string]any{"amount": 150, "card_number": "4242"},
	}, f.actor.ID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out models.Record
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestLogEndpoint(t *testing.T) {
	t.Run("requires an authenticated actor", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, f.base, map[string]any{
			"action": "created", "entity_kind": "payment", "entity_id": "p-1",
		}, id.UserID{})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects unknown actions", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, f.base, map[string]any{
			"action": "archived", "entity_kind": "payment", "entity_id": "p-1",
		}, f.actor.ID)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("records the diff and redacts sensitive fields", func(t *testing.T) {
		f := newFixture(t)
		out := f.logPayment(t, "p-1")

		assert.Equal(t, f.actor.ID, out.Actor.ID)
		assert.Equal(t, "Ana", out.Actor.Name)
		assert.Equal(t, []string{"amount", "card_number"}, out.ChangedFields)
		assert.Equal(t, "[REDACTED]", out.After["card_number"])
		assert.Equal(t, "Atualizou payment (campos: amount, card_number)", out.Description)
	})

	t.Run("rejects malformed order ids", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/orders/not-a-uuid/audit", map[string]any{
			"action": "created", "entity_kind": "payment", "entity_id": "p-1",
		}, f.actor.ID)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t)
	f.logPayment(t, "p-1")
	f.logPayment(t, "p-2")

	rec := f.do(t, http.MethodGet, f.base, nil, id.UserID{})
	require.Equal(t, http.StatusOK, rec.Code)
	var first models.Page
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&first))
	assert.Equal(t, 2, first.Total)
	assert.False(t, first.FromCache)
	assert.Equal(t, "p-2", first.Records[0].EntityID)

	rec = f.do(t, http.MethodGet, f.base, nil, id.UserID{})
	var second models.Page
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&second))
	assert.True(t, second.FromCache)
	assert.Len(t, second.Records, 2)

	rec = f.do(t, http.MethodGet, f.base+"?entity_kind=payment&limit=1&page=2", nil, id.UserID{})
	require.Equal(t, http.StatusOK, rec.Code)
	var narrowed models.Page
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&narrowed))
	assert.False(t, narrowed.FromCache)
	require.Len(t, narrowed.Records, 1)
	assert.Equal(t, "p-1", narrowed.Records[0].EntityID)

	tests := []struct {
		name  string
		query string
	}{
		{"bad timestamp", "?from=yesterday"},
		{"negative page", "?page=-1"},
		{"unknown action", "?action=archived"},
		{"bad actor id", "?actor_id=ana"},
		{"inverted range", "?from=2026-05-04T10:00:00Z&to=2026-05-03T10:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, f.base+tt.query, nil, id.UserID{})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestExportEndpoint(t *testing.T) {
	f := newFixture(t)
	logged := f.logPayment(t, "p-1")

	t.Run("csv by default", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, f.base+"/export", nil, id.UserID{})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

		rows, err := csv.NewReader(rec.Body).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, csvHeader, rows[0])
		assert.Equal(t, logged.ID.String(), rows[1][0])
		assert.Equal(t, "amount;card_number", rows[1][8])
	})

	t.Run("json on request", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, f.base+"/export?format=json", nil, id.UserID{})
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Records []models.Record `json:"records"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Len(t, body.Records, 1)
	})

	t.Run("unknown format", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, f.base+"/export?format=xml", nil, id.UserID{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStatsAndRankingEndpoints(t *testing.T) {
	f := newFixture(t)
	f.logPayment(t, "p-1")
	f.logPayment(t, "p-2")

	rec := f.do(t, http.MethodGet, f.base+"/stats", nil, id.UserID{})
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, int64(2), stats.TotalActions)
	assert.Equal(t, int64(2), stats.Last24h)

	rec = f.do(t, http.MethodGet, f.base+"/ranking?n=1", nil, id.UserID{})
	require.Equal(t, http.StatusOK, rec.Code)
	var ranking models.Ranking
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ranking))
	require.Len(t, ranking.EntityKinds, 1)
	assert.Equal(t, models.RankEntry{Key: "payment", Count: 2}, ranking.EntityKinds[0])

	rec = f.do(t, http.MethodGet, f.base+"/ranking?n=0", nil, id.UserID{})
	testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, "bad_request")
}

func TestClearCacheEndpoint(t *testing.T) {
	f := newFixture(t)
	f.logPayment(t, "p-1")
	f.do(t, http.MethodGet, f.base, nil, id.UserID{})

	rec := f.do(t, http.MethodDelete, f.base+"/cache", nil, id.UserID{})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, f.base, nil, id.UserID{})
	var page models.Page
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.False(t, page.FromCache)
}
