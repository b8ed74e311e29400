// Package transition decides whether an operational order may move between
// lifecycle states. Only edges with a registered checklist are guarded; every
// other edge is permitted.
package transition

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	ordermodels "tourops/internal/order/models"
	policymodels "tourops/internal/policy/models"
	"tourops/internal/transition/metrics"
	id "tourops/pkg/domain"
	dErrors "tourops/pkg/domain-errors"
	"tourops/pkg/platform/sentinel"
	"tourops/pkg/requestcontext"
)

const defaultBatchConcurrency = 4

// OrderReader loads the order aggregate.
type OrderReader interface {
	LoadAggregate(ctx context.Context, orderID id.OrderID) (*ordermodels.Order, error)
}

// PolicyResolver returns the policy in effect; it never fails.
type PolicyResolver interface {
	GetActivePolicy(ctx context.Context, orgID id.OrganizationID) *policymodels.Policy
}

// Validator evaluates transitions against the active policy.
type Validator struct {
	orders   OrderReader
	policies PolicyResolver
	registry *Registry
	config   Config
	limit    int
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Validator)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

// WithRegistry replaces the built-in rule registry.
func WithRegistry(r *Registry) Option {
	return func(v *Validator) {
		v.registry = r
	}
}

// WithConfig replaces the built-in guarded-edge configuration.
func WithConfig(c Config) Option {
	return func(v *Validator) {
		v.config = c
	}
}

// WithBatchConcurrency bounds parallel candidate evaluation.
func WithBatchConcurrency(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.limit = n
		}
	}
}

func NewValidator(orders OrderReader, policies PolicyResolver, opts ...Option) *Validator {
	v := &Validator{
		orders:   orders,
		policies: policies,
		registry: DefaultRegistry(),
		config:   DefaultConfig(),
		limit:    defaultBatchConcurrency,
		tracer:   otel.Tracer("tourops/transition"),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	v.logger = v.logger.With("component", "transition_validator")
	return v
}

// Evaluate is the pure core: identical inputs yield identical results.
func (v *Validator) Evaluate(order *ordermodels.Order, policy *policymodels.Policy, from, to ordermodels.Status, now time.Time) *Result {
	result := &Result{
		FromStatus:           from,
		ToStatus:             to,
		RequiredChecklist:    []ChecklistItem{},
		RecommendedChecklist: []ChecklistItem{},
		Blockers:             []Finding{},
		Checks:               []ChecklistItem{},
		Warnings:             []Finding{},
		PolicyVersion:        policy.Version,
	}
	checklist, guarded := v.config.Resolve(Edge{From: from, To: to}, policy.ChecklistOverrides)
	result.Guarded = guarded
	if !guarded {
		result.CanProceed = true
		return result
	}

	in := Input{Order: order, Thresholds: policy.Thresholds, Now: now}
	for _, key := range checklist.Required {
		item := v.item(key, true, in)
		result.RequiredChecklist = append(result.RequiredChecklist, item)
		if item.Completed {
			result.Checks = append(result.Checks, item)
		} else {
			result.Blockers = append(result.Blockers, finding(item))
		}
	}
	for _, key := range checklist.Recommended {
		item := v.item(key, false, in)
		result.RecommendedChecklist = append(result.RecommendedChecklist, item)
		if !item.Completed {
			result.Warnings = append(result.Warnings, finding(item))
		}
	}
	result.CanProceed = len(result.Blockers) == 0
	return result
}

func (v *Validator) item(key string, required bool, in Input) ChecklistItem {
	item := ChecklistItem{FieldKey: key, Label: key, Category: CategoryUnknown, Required: required}
	if rule, ok := v.registry.Lookup(key); ok {
		item.Label = rule.Label
		item.Category = rule.Category
	}
	item.Completed = v.registry.Evaluate(key, in)
	return item
}

func finding(item ChecklistItem) Finding {
	return Finding{
		FieldKey:    item.FieldKey,
		Category:    item.Category,
		Description: item.Label,
		Mandatory:   item.Required,
	}
}

// Validate loads the order and its organization's active policy and evaluates
// the from -> to transition.
func (v *Validator) Validate(ctx context.Context, orderID id.OrderID, from, to ordermodels.Status) (*Result, error) {
	ctx, span := v.tracer.Start(ctx, "transition.Validate", trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.String("transition.from", string(from)),
		attribute.String("transition.to", string(to)),
	))
	defer span.End()

	if !from.IsValid() || !to.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown status transition %s -> %s", from, to)
	}
	order, err := v.loadOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load order")
		return nil, err
	}
	result, _ := v.evaluateLoaded(ctx, order, from, to)
	span.SetAttributes(
		attribute.Bool("transition.guarded", result.Guarded),
		attribute.Bool("transition.can_proceed", result.CanProceed),
		attribute.Int("transition.blockers", len(result.Blockers)),
	)
	return result, nil
}

// evaluateLoaded resolves the policy for an already loaded order.
func (v *Validator) evaluateLoaded(ctx context.Context, order *ordermodels.Order, from, to ordermodels.Status) (*Result, *policymodels.Policy) {
	policy := v.policies.GetActivePolicy(ctx, order.OrganizationID)
	result := v.Evaluate(order, policy, from, to, requestcontext.Now(ctx))
	v.metrics.ObserveResult(result.Guarded, result.CanProceed)
	return result, policy
}

func (v *Validator) loadOrder(ctx context.Context, orderID id.OrderID) (*ordermodels.Order, error) {
	order, err := v.orders.LoadAggregate(ctx, orderID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "order not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load order")
	}
	return order, nil
}

// GetAllTransitionsForOS evaluates the order's current status against every
// other status. A candidate that fails to evaluate is logged and omitted.
func (v *Validator) GetAllTransitionsForOS(ctx context.Context, orderID id.OrderID) (map[ordermodels.Status]*Result, error) {
	ctx, span := v.tracer.Start(ctx, "transition.GetAllTransitionsForOS", trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
	))
	defer span.End()

	order, err := v.loadOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load order")
		return nil, err
	}

	var (
		mu  sync.Mutex
		out = make(map[ordermodels.Status]*Result)
		g   errgroup.Group
	)
	g.SetLimit(v.limit)
	for _, candidate := range ordermodels.AllStatuses() {
		if candidate == order.Status {
			continue
		}
		g.Go(func() error {
			result, err := v.Validate(ctx, orderID, order.Status, candidate)
			if err != nil {
				v.metrics.IncrementBatchDropped()
				v.logger.WarnContext(ctx, "transition candidate skipped",
					"order_id", orderID,
					"to_status", candidate,
					"error", err,
				)
				return nil
			}
			mu.Lock()
			out[candidate] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}
