package handler

import (
	"net/http"
	"strconv"
	"time"

	"tourops/internal/audit/models"
	id "tourops/pkg/domain"
	dErrors "tourops/pkg/domain-errors"
)

// LogRequest records a governed mutation performed by the authenticated actor.
type LogRequest struct {
	Action      models.Action  `json:"action"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id"`
	Before      map[string]any `json:"before,omitempty"`
	After       map[string]any `json:"after,omitempty"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (r *LogRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if !r.Action.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown audit action %q", r.Action)
	}
	if r.EntityKind == "" || r.EntityID == "" {
		return dErrors.New(dErrors.CodeValidation, "entity_kind and entity_id are required")
	}
	return nil
}

func (r *LogRequest) ToParams(orderID id.OrderID, actorID id.UserID) models.LogParams {
	return models.LogParams{
		OrderID:     orderID,
		ActorID:     actorID,
		Action:      r.Action,
		EntityKind:  r.EntityKind,
		EntityID:    r.EntityID,
		Before:      r.Before,
		After:       r.After,
		Description: r.Description,
		Metadata:    r.Metadata,
	}
}

// parseFilters reads the query string of a search or export request.
func parseFilters(r *http.Request, orderID id.OrderID) (models.Filters, error) {
	q := r.URL.Query()
	f := models.Filters{
		OrderID:    orderID,
		Action:     models.Action(q.Get("action")),
		EntityKind: q.Get("entity_kind"),
	}
	if raw := q.Get("actor_id"); raw != "" {
		actorID, err := id.ParseUserID(raw)
		if err != nil {
			return f, err
		}
		f.ActorID = &actorID
	}
	var err error
	if f.From, err = parseTime(q.Get("from"), "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q.Get("to"), "to"); err != nil {
		return f, err
	}
	if f.Page, err = parseInt(q.Get("page"), "page"); err != nil {
		return f, err
	}
	if f.Limit, err = parseInt(q.Get("limit"), "limit"); err != nil {
		return f, err
	}
	return f, nil
}

func parseTime(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}

func parseInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, dErrors.Newf(dErrors.CodeBadRequest, "%s must be a non-negative integer", name)
	}
	return n, nil
}
