package transition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	auditmodels "tourops/internal/audit/models"
	ordermodels "tourops/internal/order/models"
	policymodels "tourops/internal/policy/models"
	"tourops/internal/transition/metrics"
	id "tourops/pkg/domain"
	dErrors "tourops/pkg/domain-errors"
	"tourops/pkg/platform/sentinel"
	"tourops/pkg/requestcontext"
)

// StatusWriter performs a compare-and-set status update.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, orderID id.OrderID, from, to ordermodels.Status, now time.Time) error
}

// Snapshotter freezes the policy a decision was evaluated against.
type Snapshotter interface {
	SnapshotPolicy(ctx context.Context, orderID id.OrderID, p *policymodels.Policy) (*policymodels.Snapshot, error)
}

// AuditLogger is the audit trail write path.
type AuditLogger interface {
	Log(ctx context.Context, params auditmodels.LogParams) (*auditmodels.Record, error)
}

// ChangeRequest asks to move an order to a new status. Justification is
// mandatory only when the transition has blockers.
type ChangeRequest struct {
	OrderID       id.OrderID
	To            ordermodels.Status
	ActorID       id.UserID
	Justification string
}

// ChangeResult reports what happened. A blocked change without justification
// is not an error: Applied is false and Validation carries the blockers.
type ChangeResult struct {
	Applied     bool                   `json:"applied"`
	Forced      bool                   `json:"forced"`
	Validation  *Result                `json:"validation"`
	Snapshot    *policymodels.Snapshot `json:"snapshot,omitempty"`
	AuditRecord *auditmodels.Record    `json:"audit_record,omitempty"`
}

// Changer executes status changes under the validator's verdict.
type Changer struct {
	validator *Validator
	writer    StatusWriter
	snapshots Snapshotter
	audit     AuditLogger
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type ChangerOption func(*Changer)

func WithChangerLogger(logger *slog.Logger) ChangerOption {
	return func(c *Changer) {
		c.logger = logger
	}
}

func WithChangerMetrics(m *metrics.Metrics) ChangerOption {
	return func(c *Changer) {
		c.metrics = m
	}
}

func NewChanger(validator *Validator, writer StatusWriter, snapshots Snapshotter, audit AuditLogger, opts ...ChangerOption) *Changer {
	c := &Changer{
		validator: validator,
		writer:    writer,
		snapshots: snapshots,
		audit:     audit,
		tracer:    otel.Tracer("tourops/transition"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "status_changer")
	return c
}

// ChangeStatus validates and applies a status change. The update, the policy
// snapshot and the audit record succeed together: if a later step fails the
// status is moved back.
func (c *Changer) ChangeStatus(ctx context.Context, req ChangeRequest) (*ChangeResult, error) {
	ctx, span := c.tracer.Start(ctx, "transition.ChangeStatus", trace.WithAttributes(
		attribute.String("order.id", req.OrderID.String()),
		attribute.String("transition.to", string(req.To)),
	))
	defer span.End()
	fail := func(err error, msg string) (*ChangeResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return nil, err
	}

	if !req.To.IsValid() {
		return fail(dErrors.Newf(dErrors.CodeValidation, "unknown order status %q", req.To), "invalid request")
	}
	if req.ActorID.IsNil() {
		return fail(dErrors.New(dErrors.CodeValidation, "actor is required"), "invalid request")
	}
	order, err := c.validator.loadOrder(ctx, req.OrderID)
	if err != nil {
		return fail(err, "load order")
	}
	from := order.Status
	if from == req.To {
		return fail(dErrors.Newf(dErrors.CodeValidation, "order is already %s", from), "invalid request")
	}

	result, policy := c.validator.evaluateLoaded(ctx, order, from, req.To)
	forced := !result.CanProceed
	span.SetAttributes(
		attribute.String("transition.from", string(from)),
		attribute.Bool("transition.forced", forced),
	)
	if forced && strings.TrimSpace(req.Justification) == "" {
		return &ChangeResult{Validation: result}, nil
	}

	now := requestcontext.Now(ctx)
	if err := c.writer.UpdateStatus(ctx, req.OrderID, from, req.To, now); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrInvalidState):
			return fail(dErrors.Wrap(err, dErrors.CodeConflict, "order status changed concurrently"), "update status")
		case errors.Is(err, sentinel.ErrNotFound):
			return fail(dErrors.New(dErrors.CodeNotFound, "order not found"), "update status")
		default:
			return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to update order status"), "update status")
		}
	}

	snap, err := c.snapshots.SnapshotPolicy(ctx, req.OrderID, policy)
	if err != nil {
		c.revert(ctx, req.OrderID, from, req.To, now, err)
		return fail(err, "snapshot policy")
	}

	rec, err := c.audit.Log(ctx, auditmodels.LogParams{
		OrderID:     req.OrderID,
		ActorID:     req.ActorID,
		Action:      auditmodels.ActionStatusChanged,
		EntityKind:  auditmodels.EntityStatusTransition,
		EntityID:    transitionEntityID(from, req.To, snap.ID),
		Before:      map[string]any{"status": string(from)},
		After:       map[string]any{"status": string(req.To)},
		Description: describeChange(from, req.To, forced),
		Metadata:    changeMetadata(ctx, req, result, snap, forced),
	})
	if err != nil {
		c.revert(ctx, req.OrderID, from, req.To, now, err)
		return fail(err, "audit")
	}

	c.metrics.IncrementStatusChange(forced)
	if forced {
		c.logger.InfoContext(ctx, "status change forced past blockers",
			"order_id", req.OrderID,
			"from_status", from,
			"to_status", req.To,
			"blockers", result.BlockerKeys(),
			"actor_id", req.ActorID,
		)
	}
	return &ChangeResult{
		Applied:     true,
		Forced:      forced,
		Validation:  result,
		Snapshot:    snap,
		AuditRecord: rec,
	}, nil
}

// revert moves the order back to from. The failure that caused it is what
// the caller sees; a failed revert is only logged.
func (c *Changer) revert(ctx context.Context, orderID id.OrderID, from, to ordermodels.Status, now time.Time, cause error) {
	c.metrics.IncrementRevert()
	err := c.writer.UpdateStatus(context.WithoutCancel(ctx), orderID, to, from, now)
	if err != nil {
		c.logger.ErrorContext(ctx, "status revert failed, order left unaudited",
			"order_id", orderID,
			"from_status", from,
			"to_status", to,
			"cause", cause,
			"error", err,
		)
		return
	}
	c.logger.WarnContext(ctx, "status change reverted",
		"order_id", orderID,
		"from_status", from,
		"to_status", to,
		"error", cause,
	)
}

// transitionEntityID names one occurrence of an edge. Each change takes its
// own snapshot, so a repeated edge never collapses into an earlier record.
func transitionEntityID(from, to ordermodels.Status, snapshotID id.SnapshotID) string {
	return fmt.Sprintf("%s->%s@%s", from, to, snapshotID)
}

func describeChange(from, to ordermodels.Status, forced bool) string {
	desc := fmt.Sprintf("Alterou o status de %s para %s", from.Label(), to.Label())
	if forced {
		desc += " (forçado com justificativa)"
	}
	return desc
}

func changeMetadata(ctx context.Context, req ChangeRequest, result *Result, snap *policymodels.Snapshot, forced bool) map[string]any {
	warnings := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		warnings = append(warnings, w.FieldKey)
	}
	md := map[string]any{
		"from_status":        string(result.FromStatus),
		"to_status":          string(result.ToStatus),
		"forced":             forced,
		"blockers":           result.BlockerKeys(),
		"warnings":           warnings,
		"policy_version":     result.PolicyVersion,
		"policy_snapshot_id": snap.ID.String(),
	}
	if req.Justification != "" {
		md["justification"] = req.Justification
	}
	if origin := requestcontext.Origin(ctx); !origin.IsZero() {
		md["request_origin"] = origin
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		md["request_id"] = requestID
	}
	return md
}

// Engine bundles evaluation and execution for transports.
type Engine struct {
	*Validator
	*Changer
}
