// Package service manages versioned organization policies: creation, editing,
// single-active activation, fallback resolution, and per-order snapshots.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tourops/internal/policy/metrics"
	"tourops/internal/policy/models"
	id "tourops/pkg/domain"
	dErrors "tourops/pkg/domain-errors"
	"tourops/pkg/platform/sentinel"
	"tourops/pkg/platform/tx"
	"tourops/pkg/requestcontext"
)

const maxCreateAttempts = 5

// Store persists policies. CreateNextVersion must assign the version
// atomically and report a collision as sentinel.ErrConflict.
type Store interface {
	CreateNextVersion(ctx context.Context, p *models.Policy) error
	FindByID(ctx context.Context, policyID id.PolicyID) (*models.Policy, error)
	FindActive(ctx context.Context, orgID id.OrganizationID) (*models.Policy, error)
	ListByOrganization(ctx context.Context, orgID id.OrganizationID) ([]*models.Policy, error)
	Update(ctx context.Context, p *models.Policy) error
	LockOrganization(ctx context.Context, orgID id.OrganizationID) error
	DeactivateAll(ctx context.Context, orgID id.OrganizationID, now time.Time) error
	MarkActive(ctx context.Context, policyID id.PolicyID, now time.Time) error
}

// SnapshotStore persists immutable policy snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error
	ListSnapshots(ctx context.Context, orderID id.OrderID) ([]*models.Snapshot, error)
}

type Service struct {
	policies  Store
	snapshots SnapshotStore
	tx        tx.Runner
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service. runner scopes activation to one transaction.
func New(policies Store, snapshots SnapshotStore, runner tx.Runner, opts ...Option) *Service {
	s := &Service{policies: policies, snapshots: snapshots, tx: runner}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "policy_service")
	return s
}

// GetActivePolicy returns the organization's active policy, or the system
// default when none is active or the lookup fails. It never returns nil.
func (s *Service) GetActivePolicy(ctx context.Context, orgID id.OrganizationID) *models.Policy {
	p, err := s.policies.FindActive(ctx, orgID)
	if err == nil {
		return p
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.ErrorContext(ctx, "active policy lookup failed, serving default",
			"organization_id", orgID,
			"error", err,
		)
	}
	s.metrics.IncrementDefaultServed()
	return models.DefaultPolicy(orgID)
}

// CreatePolicy stores a new inactive policy with the next version for its
// organization. Omitted thresholds are filled from system defaults.
func (s *Service) CreatePolicy(ctx context.Context, in models.CreateInput) (*models.Policy, error) {
	in.Normalize()
	now := requestcontext.Now(ctx)
	overrides := in.ChecklistOverrides
	if overrides == nil {
		overrides = map[string]any{}
	}
	p := &models.Policy{
		OrganizationID: in.OrganizationID,
		Name:           in.Name,
		Description:    in.Description,
		Thresholds: models.Thresholds{
			Financial:          in.Financial.Apply(models.DefaultFinancial()),
			Deadlines:          in.Deadlines.Apply(models.DefaultDeadlines()),
			ChecklistOverrides: models.CloneOverrides(overrides),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		p.ID = id.PolicyID(uuid.New())
		err := s.policies.CreateNextVersion(ctx, p)
		if err == nil {
			break
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create policy")
		}
		s.metrics.IncrementVersionConflict()
		if attempt == maxCreateAttempts {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "policy version contention, retry later")
		}
		s.logger.WarnContext(ctx, "policy version collision, retrying",
			"organization_id", p.OrganizationID,
			"attempt", attempt,
		)
	}

	s.metrics.IncrementCreated()
	s.logger.InfoContext(ctx, "policy created",
		"organization_id", p.OrganizationID,
		"policy_id", p.ID,
		"version", p.Version,
	)
	return p, nil
}

// UpdatePolicy applies a patch to name, description, thresholds and overrides.
// Version and active never change here.
func (s *Service) UpdatePolicy(ctx context.Context, orgID id.OrganizationID, policyID id.PolicyID, in models.UpdateInput) (*models.Policy, error) {
	p, err := s.GetPolicy(ctx, orgID, policyID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	p.Financial = in.Financial.Apply(p.Financial)
	p.Deadlines = in.Deadlines.Apply(p.Deadlines)
	if in.ChecklistOverrides != nil {
		p.ChecklistOverrides = models.CloneOverrides(in.ChecklistOverrides)
	}
	p.UpdatedAt = requestcontext.Now(ctx)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := s.policies.Update(ctx, p); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "policy not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update policy")
	}
	return p, nil
}

// GetPolicy loads one policy scoped to its organization.
func (s *Service) GetPolicy(ctx context.Context, orgID id.OrganizationID, policyID id.PolicyID) (*models.Policy, error) {
	p, err := s.policies.FindByID(ctx, policyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "policy not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load policy")
	}
	if p.OrganizationID != orgID {
		return nil, dErrors.New(dErrors.CodeNotFound, "policy not found")
	}
	return p, nil
}

// ListPolicies returns every policy of the organization, newest version first.
func (s *Service) ListPolicies(ctx context.Context, orgID id.OrganizationID) ([]*models.Policy, error) {
	out, err := s.policies.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list policies")
	}
	return out, nil
}

// ActivatePolicy makes policyID the organization's only active policy. The
// deactivation and activation commit together or not at all.
func (s *Service) ActivatePolicy(ctx context.Context, orgID id.OrganizationID, policyID id.PolicyID) (*models.Policy, error) {
	start := time.Now()
	defer s.metrics.ObserveActivate(start)
	now := requestcontext.Now(ctx)

	var activated *models.Policy
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		target, err := s.GetPolicy(txCtx, orgID, policyID)
		if err != nil {
			return err
		}
		if err := s.policies.LockOrganization(txCtx, orgID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock organization policies")
		}
		if err := s.policies.DeactivateAll(txCtx, orgID, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate policies")
		}
		if err := s.policies.MarkActive(txCtx, policyID, now); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "concurrent activation, retry")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to activate policy")
		}
		target.Active = true
		target.UpdatedAt = now
		activated = target
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "policy activation rolled back",
			"organization_id", orgID,
			"policy_id", policyID,
			"error", err,
		)
		return nil, err
	}

	s.metrics.IncrementActivated()
	s.logger.InfoContext(ctx, "policy activated",
		"organization_id", orgID,
		"policy_id", policyID,
		"version", activated.Version,
	)
	return activated, nil
}

// SnapshotForOS freezes a specific policy's current thresholds onto an order.
func (s *Service) SnapshotForOS(ctx context.Context, orderID id.OrderID, policyID id.PolicyID) (*models.Snapshot, error) {
	p, err := s.policies.FindByID(ctx, policyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "policy not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load policy")
	}
	return s.SnapshotPolicy(ctx, orderID, p)
}

// SnapshotActiveForOS freezes whatever policy is in effect for the
// organization, including the system default.
func (s *Service) SnapshotActiveForOS(ctx context.Context, orgID id.OrganizationID, orderID id.OrderID) (*models.Snapshot, error) {
	return s.SnapshotPolicy(ctx, orderID, s.GetActivePolicy(ctx, orgID))
}

// SnapshotsForOS lists an order's snapshots, newest first.
func (s *Service) SnapshotsForOS(ctx context.Context, orderID id.OrderID) ([]*models.Snapshot, error) {
	out, err := s.snapshots.ListSnapshots(ctx, orderID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list policy snapshots")
	}
	return out, nil
}

// SnapshotPolicy freezes an already resolved policy onto an order, so the
// snapshot matches exactly what a decision was evaluated against.
func (s *Service) SnapshotPolicy(ctx context.Context, orderID id.OrderID, p *models.Policy) (*models.Snapshot, error) {
	if orderID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "order id is required")
	}
	snap := models.NewSnapshot(id.SnapshotID(uuid.New()), orderID, p, requestcontext.Now(ctx))
	if err := s.snapshots.SaveSnapshot(ctx, snap); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save policy snapshot")
	}
	s.metrics.IncrementSnapshot()
	return snap, nil
}
