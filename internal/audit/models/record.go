// Package models holds the audit trail domain types.
package models

import (
	"strings"
	"time"

	id "tourops/pkg/domain"
	dErrors "tourops/pkg/domain-errors"
)

// Action is the kind of governed mutation an audit record describes.
type Action string

const (
	ActionCreated       Action = "created"
	ActionUpdated       Action = "updated"
	ActionDeleted       Action = "deleted"
	ActionStatusChanged Action = "status_changed"
)

var actionLabels = map[Action]string{
	ActionCreated:       "criou",
	ActionUpdated:       "atualizou",
	ActionDeleted:       "removeu",
	ActionStatusChanged: "alterou o status de",
}

func (a Action) IsValid() bool {
	_, ok := actionLabels[a]
	return ok
}

// Verb is the Portuguese verb used in synthesized descriptions.
func (a Action) Verb() string {
	if v, ok := actionLabels[a]; ok {
		return v
	}
	return string(a)
}

// Entity kinds used by the governance core. Callers may record other kinds.
const (
	EntityOrder            = "order"
	EntityStatusTransition = "status_transition"
	EntityPolicy           = "policy"
)

// Actor is the acting user captured by value at write time.
type Actor struct {
	ID   id.UserID `json:"id"`
	Name string    `json:"name"`
	Role string    `json:"role"`
}

// Record is an immutable audit trail entry.
type Record struct {
	ID             id.AuditRecordID  `json:"id"`
	OrganizationID id.OrganizationID `json:"organization_id"`
	OrderID        id.OrderID        `json:"order_id"`
	Actor          Actor             `json:"actor"`
	Action         Action            `json:"action"`
	EntityKind     string            `json:"entity_kind"`
	EntityID       string            `json:"entity_id"`
	Before         map[string]any    `json:"before,omitempty"`
	After          map[string]any    `json:"after,omitempty"`
	ChangedFields  []string          `json:"changed_fields"`
	Description    string            `json:"description"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// LogParams is the input of the single audit write path.
type LogParams struct {
	OrderID     id.OrderID
	ActorID     id.UserID
	Action      Action
	EntityKind  string
	EntityID    string
	Before      map[string]any
	After       map[string]any
	Description string
	Metadata    map[string]any
}

// Normalize trims free-text fields.
func (p *LogParams) Normalize() {
	p.EntityKind = strings.TrimSpace(p.EntityKind)
	p.EntityID = strings.TrimSpace(p.EntityID)
	p.Description = strings.TrimSpace(p.Description)
}

func (p LogParams) Validate() error {
	if p.OrderID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "order id is required")
	}
	if p.ActorID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "actor id is required")
	}
	if !p.Action.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown audit action %q", p.Action)
	}
	if p.EntityKind == "" {
		return dErrors.New(dErrors.CodeValidation, "entity kind is required")
	}
	if p.EntityID == "" {
		return dErrors.New(dErrors.CodeValidation, "entity id is required")
	}
	return nil
}
