package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tourops/internal/policy/models"
	id "tourops/pkg/domain"
	dErrors "tourops/pkg/domain-errors"
	"tourops/pkg/platform/httputil"
	"tourops/pkg/requestcontext"
)

// Service is the policy engine surface used over HTTP.
type Service interface {
	GetActivePolicy(ctx context.Context, orgID id.OrganizationID) *models.Policy
	CreatePolicy(ctx context.Context, in models.CreateInput) (*models.Policy, error)
	UpdatePolicy(ctx context.Context, orgID id.OrganizationID, policyID id.PolicyID, in models.UpdateInput) (*models.Policy, error)
	GetPolicy(ctx context.Context, orgID id.OrganizationID, policyID id.PolicyID) (*models.Policy, error)
	ListPolicies(ctx context.Context, orgID id.OrganizationID) ([]*models.Policy, error)
	ActivatePolicy(ctx context.Context, orgID id.OrganizationID, policyID id.PolicyID) (*models.Policy, error)
	SnapshotForOS(ctx context.Context, orderID id.OrderID, policyID id.PolicyID) (*models.Snapshot, error)
	SnapshotActiveForOS(ctx context.Context, orgID id.OrganizationID, orderID id.OrderID) (*models.Snapshot, error)
	SnapshotsForOS(ctx context.Context, orderID id.OrderID) ([]*models.Snapshot, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts policy endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/organizations/{orgID}/policies", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Get("/active", h.HandleGetActive)
		r.Get("/{policyID}", h.HandleGet)
		r.Patch("/{policyID}", h.HandleUpdate)
		r.Post("/{policyID}/activate", h.HandleActivate)
	})
	r.Get("/orders/{orderID}/policy-snapshots", h.HandleListSnapshots)
	r.Post("/orders/{orderID}/policy-snapshots", h.HandleSnapshot)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgParam(w, r)
	if !ok {
		return
	}
	policies, err := h.service.ListPolicies(r.Context(), orgID)
	if err != nil {
		h.fail(w, r, "list policies failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, ok := orgParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CreatePolicyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.CreatePolicy(ctx, req.ToInput(orgID))
	if err != nil {
		h.fail(w, r, "create policy failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) HandleGetActive(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgParam(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.service.GetActivePolicy(r.Context(), orgID))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	orgID, policyID, ok := orgAndPolicyParams(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetPolicy(r.Context(), orgID, policyID)
	if err != nil {
		h.fail(w, r, "get policy failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, policyID, ok := orgAndPolicyParams(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdatePolicyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.UpdatePolicy(ctx, orgID, policyID, req.ToInput())
	if err != nil {
		h.fail(w, r, "update policy failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	orgID, policyID, ok := orgAndPolicyParams(w, r)
	if !ok {
		return
	}
	p, err := h.service.ActivatePolicy(r.Context(), orgID, policyID)
	if err != nil {
		h.fail(w, r, "activate policy failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := id.ParseOrderID(chi.URLParam(r, "orderID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[SnapshotRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	var snap *models.Snapshot
	if !req.policyID.IsNil() {
		snap, err = h.service.SnapshotForOS(ctx, orderID, req.policyID)
	} else {
		snap, err = h.service.SnapshotActiveForOS(ctx, req.orgID, orderID)
	}
	if err != nil {
		h.fail(w, r, "policy snapshot failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, snap)
}

func (h *Handler) HandleListSnapshots(w http.ResponseWriter, r *http.Request) {
	orderID, err := id.ParseOrderID(chi.URLParam(r, "orderID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	snaps, err := h.service.SnapshotsForOS(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, "list policy snapshots failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
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

func orgParam(w http.ResponseWriter, r *http.Request) (id.OrganizationID, bool) {
	orgID, err := id.ParseOrganizationID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.OrganizationID{}, false
	}
	return orgID, true
}

func orgAndPolicyParams(w http.ResponseWriter, r *http.Request) (id.OrganizationID, id.PolicyID, bool) {
	orgID, ok := orgParam(w, r)
	if !ok {
		return id.OrganizationID{}, id.PolicyID{}, false
	}
	policyID, err := id.ParsePolicyID(chi.URLParam(r, "policyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.OrganizationID{}, id.PolicyID{}, false
	}
	return orgID, policyID, true
}
