package handler

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tourops/internal/audit/models"
	id "tourops/pkg/domain"
	dErrors "tourops/pkg/domain-errors"
	"tourops/pkg/platform/httputil"
	"tourops/pkg/requestcontext"
)

const defaultRankingSize = 5

// Service is the audit trail surface used over HTTP.
type Service interface {
	Log(ctx context.Context, params models.LogParams) (*models.Record, error)
	Search(ctx context.Context, f models.Filters) (*models.Page, error)
	Export(ctx context.Context, f models.Filters) ([]*models.Record, error)
	Stats(ctx context.Context, orderID id.OrderID) (*models.Stats, error)
	ActivityRanking(ctx context.Context, orderID id.OrderID, n int) (*models.Ranking, error)
	ClearCache(ctx context.Context, orderID id.OrderID) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts audit endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/orders/{orderID}/audit", func(r chi.Router) {
		r.Get("/", h.HandleSearch)
		r.Post("/", h.HandleLog)
		r.Get("/export", h.HandleExport)
		r.Get("/stats", h.HandleStats)
		r.Get("/ranking", h.HandleRanking)
		r.Delete("/cache", h.HandleClearCache)
	})
}

func (h *Handler) HandleLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderParam(w, r)
	if !ok {
		return
	}
	actorID := requestcontext.ActorID(ctx)
	if actorID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "an authenticated actor is required"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[LogRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	rec, err := h.service.Log(ctx, req.ToParams(orderID, actorID))
	if err != nil {
		h.fail(w, r, "audit log failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	f, ok := filters(w, r)
	if !ok {
		return
	}
	page, err := h.service.Search(r.Context(), f)
	if err != nil {
		h.fail(w, r, "audit search failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// HandleExport streams every matching record as CSV (default) or JSON.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	f, ok := filters(w, r)
	if !ok {
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "unsupported export format %q", format))
		return
	}
	records, err := h.service.Export(r.Context(), f)
	if err != nil {
		h.fail(w, r, "audit export failed", err)
		return
	}
	if format == "json" {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": records})
		return
	}

	filename := fmt.Sprintf("audit-%s.csv", f.OrderID)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if err := writeCSV(w, records); err != nil {
		h.logger.WarnContext(r.Context(), "audit export interrupted",
			"request_id", requestcontext.RequestID(r.Context()),
			"order_id", f.OrderID,
			"error", err,
		)
	}
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderParam(w, r)
	if !ok {
		return
	}
	stats, err := h.service.Stats(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, "audit stats failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleRanking(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderParam(w, r)
	if !ok {
		return
	}
	n := defaultRankingSize
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "n must be a positive integer"))
			return
		}
		n = parsed
	}
	ranking, err := h.service.ActivityRanking(r.Context(), orderID, n)
	if err != nil {
		h.fail(w, r, "audit ranking failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ranking)
}

func (h *Handler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderParam(w, r)
	if !ok {
		return
	}
	if err := h.service.ClearCache(r.Context(), orderID); err != nil {
		h.fail(w, r, "audit cache clear failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func orderParam(w http.ResponseWriter, r *http.Request) (id.OrderID, bool) {
	orderID, err := id.ParseOrderID(chi.URLParam(r, "orderID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.OrderID{}, false
	}
	return orderID, true
}

func filters(w http.ResponseWriter, r *http.Request) (models.Filters, bool) {
	orderID, ok := orderParam(w, r)
	if !ok {
		return models.Filters{}, false
	}
	f, err := parseFilters(r, orderID)
	if err != nil {
		httputil.WriteError(w, err)
		return models.Filters{}, false
	}
	return f, true
}

var csvHeader = []string{
	"id", "created_at", "actor_id", "actor_name", "actor_role",
	"action", "entity_kind", "entity_id", "changed_fields", "description",
}

func writeCSV(w http.ResponseWriter, records []*models.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.ID.String(),
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.Actor.ID.String(),
			rec.Actor.Name,
			rec.Actor.Role,
			string(rec.Action),
			rec.EntityKind,
			rec.EntityID,
			strings.Join(rec.ChangedFields, ";"),
			rec.Description,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
