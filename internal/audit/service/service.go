// Package service is the audit trail: a single durable write path for every
// governed mutation plus a cache-aside read accelerator. The cache is never
// the system of record; every cache failure is logged and recovered locally.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"tourops/internal/audit/metrics"
	"tourops/internal/audit/models"
	"tourops/internal/audit/payload"
	"tourops/internal/cache"
	"tourops/internal/directory"
	id "tourops/pkg/domain"
	dErrors "tourops/pkg/domain-errors"
	"tourops/pkg/platform/sentinel"
	"tourops/pkg/requestcontext"
)

// Store is the durable, append-only record store.
type Store interface {
	Append(ctx context.Context, r *models.Record) error
	FindLatest(ctx context.Context, orderID id.OrderID, entityKind, entityID string) (*models.Record, error)
	Search(ctx context.Context, f models.Filters) ([]*models.Record, int, error)
	SearchAll(ctx context.Context, f models.Filters) ([]*models.Record, error)
	Aggregate(ctx context.Context, orderID id.OrderID, since time.Time) (*models.Aggregate, error)
}

// ActorDirectory resolves the acting user at write time.
type ActorDirectory interface {
	FindByID(ctx context.Context, userID id.UserID) (directory.Actor, error)
}

// Publisher fans a durable record out to a stream. It must not block.
type Publisher interface {
	Publish(ctx context.Context, r *models.Record)
}

// Config holds the cache tunables.
type Config struct {
	DedupTTL       time.Duration
	RecentTTL      time.Duration
	RecentCap      int
	StatsTTL       time.Duration
	CacheBuffer    int
	CacheableLimit int
	TopN           int
}

func DefaultConfig() Config {
	return Config{
		DedupTTL:       5 * time.Second,
		RecentTTL:      time.Hour,
		RecentCap:      100,
		StatsTTL:       5 * time.Minute,
		CacheBuffer:    256,
		CacheableLimit: models.DefaultPageLimit,
		TopN:           5,
	}
}

type Service struct {
	store     Store
	directory ActorDirectory
	cache     cache.Store
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	sync      *cacheSync
	group     singleflight.Group
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

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

// WithPublisher enables the stream sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func New(store Store, dir ActorDirectory, c cache.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		directory: dir,
		cache:     c,
		cfg:       DefaultConfig(),
		tracer:    otel.Tracer("tourops/audit"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "audit")
	if s.cfg.RecentCap <= 0 {
		s.cfg.RecentCap = DefaultConfig().RecentCap
	}
	if s.cfg.TopN <= 0 {
		s.cfg.TopN = DefaultConfig().TopN
	}
	s.sync = newCacheSync(s.cfg.CacheBuffer, s.logger, s.metrics)
	return s
}

// Close drains pending cache updates.
func (s *Service) Close() {
	s.sync.Close()
}

// Log records one governed mutation. An actor that cannot be resolved aborts
// the write. A literal duplicate inside the dedup window returns the newest
// existing record for the same (order, entity kind, entity id).
func (s *Service) Log(ctx context.Context, params models.LogParams) (*models.Record, error) {
	start := time.Now()
	defer s.metrics.ObserveLog(start)

	params.Normalize()
	ctx, span := s.tracer.Start(ctx, "audit.Log", trace.WithAttributes(
		attribute.String("order.id", params.OrderID.String()),
		attribute.String("audit.action", string(params.Action)),
		attribute.String("audit.entity_kind", params.EntityKind),
	))
	defer span.End()
	fail := func(err error, msg string) (*models.Record, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return nil, err
	}

	if err := params.Validate(); err != nil {
		return fail(err, "invalid params")
	}
	actor, err := s.resolveActor(ctx, params.ActorID)
	if err != nil {
		return fail(err, "resolve actor")
	}

	before, err := payload.Normalize(params.Before)
	if err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeValidation, "before payload is not serializable"), "normalize")
	}
	after, err := payload.Normalize(params.After)
	if err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeValidation, "after payload is not serializable"), "normalize")
	}
	metadata, err := payload.Normalize(params.Metadata)
	if err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeValidation, "metadata is not serializable"), "normalize")
	}
	changed := payload.Diff(before, after)
	description := params.Description
	if description == "" {
		description = payload.Describe(params.Action, params.EntityKind, changed)
	}

	lockKey := dedupKey(params.OrderID, params.EntityKind, params.EntityID)
	held, err := s.cache.SetNX(ctx, lockKey, "1", s.cfg.DedupTTL)
	if err != nil {
		s.degraded(ctx, "dedup_lock", err)
	} else if !held {
		existing, err := s.duplicateOf(ctx, params)
		if err != nil {
			return fail(err, "duplicate")
		}
		span.SetAttributes(attribute.Bool("audit.duplicate", true))
		return existing, nil
	}

	record := &models.Record{
		ID:             id.AuditRecordID(uuid.New()),
		OrganizationID: actor.OrganizationID,
		OrderID:        params.OrderID,
		Actor:          models.Actor{ID: actor.ID, Name: actor.Name, Role: actor.Role},
		Action:         params.Action,
		EntityKind:     params.EntityKind,
		EntityID:       params.EntityID,
		Before:         payload.Sanitize(before),
		After:          payload.Sanitize(after),
		ChangedFields:  changed,
		Description:    description,
		Metadata:       payload.Sanitize(metadata),
		CreatedAt:      requestcontext.Now(ctx).UTC(),
	}
	if err := s.store.Append(ctx, record); err != nil {
		if held {
			if _, derr := s.cache.Delete(ctx, lockKey); derr != nil {
				s.degraded(ctx, "dedup_release", derr)
			}
		}
		s.logger.ErrorContext(ctx, "failed to persist audit record",
			"order_id", params.OrderID,
			"entity_kind", params.EntityKind,
			"error", err,
		)
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist audit record"), "append")
	}
	s.metrics.IncrementWritten()

	s.sync.Enqueue(ctx, func(ctx context.Context) {
		s.applyRecord(ctx, record)
	})
	if s.publisher != nil {
		s.publisher.Publish(ctx, record)
	}
	return record, nil
}

func (s *Service) resolveActor(ctx context.Context, userID id.UserID) (directory.Actor, error) {
	actor, err := s.directory.FindByID(ctx, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "audit actor could not be resolved",
			"actor_id", userID,
			"error", err,
		)
		if errors.Is(err, sentinel.ErrNotFound) {
			return directory.Actor{}, dErrors.New(dErrors.CodeNotFound, "actor not found")
		}
		return directory.Actor{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve actor")
	}
	return actor, nil
}

// duplicateOf returns the record written by the call holding the dedup lock.
func (s *Service) duplicateOf(ctx context.Context, params models.LogParams) (*models.Record, error) {
	existing, err := s.store.FindLatest(ctx, params.OrderID, params.EntityKind, params.EntityID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeConflict, "duplicate audit write in progress")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load existing audit record")
	}
	s.metrics.IncrementDuplicate()
	s.logger.InfoContext(ctx, "duplicate audit write collapsed",
		"order_id", params.OrderID,
		"entity_kind", params.EntityKind,
		"entity_id", params.EntityID,
		"record_id", existing.ID,
	)
	return existing, nil
}

// degraded records a recovered cache failure.
func (s *Service) degraded(ctx context.Context, op string, err error) {
	s.metrics.IncrementCacheDegraded(op)
	if errors.Is(err, cache.ErrUnavailable) {
		s.logger.DebugContext(ctx, "audit cache skipped", "op", op)
		return
	}
	s.logger.WarnContext(ctx, "audit cache degraded",
		"op", op,
		"error", err,
	)
}
