package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	ordermodels "tourops/internal/order/models"
	"tourops/internal/transition"
	id "tourops/pkg/domain"
	dErrors "tourops/pkg/domain-errors"
	"tourops/pkg/platform/httputil"
	"tourops/pkg/requestcontext"
)

// Service is the validator and status changer surface used over HTTP.
type Service interface {
	Validate(ctx context.Context, orderID id.OrderID, from, to ordermodels.Status) (*transition.Result, error)
	GetAllTransitionsForOS(ctx context.Context, orderID id.OrderID) (map[ordermodels.Status]*transition.Result, error)
	ChangeStatus(ctx context.Context, req transition.ChangeRequest) (*transition.ChangeResult, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts transition endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/orders/{orderID}/transitions", h.HandleListTransitions)
	r.Get("/orders/{orderID}/transitions/validate", h.HandleValidate)
	r.Post("/orders/{orderID}/status", h.HandleChangeStatus)
}

func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, err := ordermodels.ParseStatus(q.Get("from"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "from must be a known status"))
		return
	}
	to, err := ordermodels.ParseStatus(q.Get("to"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "to must be a known status"))
		return
	}
	result, err := h.service.Validate(r.Context(), orderID, from, to)
	if err != nil {
		h.fail(w, r, "validate transition failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleListTransitions(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderParam(w, r)
	if !ok {
		return
	}
	results, err := h.service.GetAllTransitionsForOS(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, "list transitions failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"transitions": results})
}

// HandleChangeStatus answers 422 with the validation result when the change
// is blocked and no justification was given.
func (h *Handler) HandleChangeStatus(w http.ResponseWriter, r *http.Request) {
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
	req, ok := httputil.DecodeAndPrepare[ChangeStatusRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.ChangeStatus(ctx, transition.ChangeRequest{
		OrderID:       orderID,
		To:            req.To,
		ActorID:       actorID,
		Justification: req.Justification,
	})
	if err != nil {
		h.fail(w, r, "status change failed", err)
		return
	}
	if !res.Applied {
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// ChangeStatusRequest is the body of POST /orders/{orderID}/status.
type ChangeStatusRequest struct {
	To            ordermodels.Status `json:"to"`
	Justification string             `json:"justification"`
}

func (r *ChangeStatusRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.To = ordermodels.Status(strings.TrimSpace(string(r.To)))
	if !r.To.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown order status %q", r.To)
	}
	return nil
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
