// Package core hosts the casecore service: the assignment ledger, the child
// lifecycle workflows, the audit trail and age progression tracking, all
// running on top of a transactional domain.PersistentStore.
package core

import (
	"context"
	"time"

	"casecore/internal/infra/persistence/memory"
	"casecore/pkg/domain"

	"go.uber.org/zap"
)

// Service exposes transactional operations over the casecore schema. Every
// operation runs in one unit of work; derived status, audit rows and
// progression events are written by the listeners registered on the store's
// event bus before the unit commits.
type Service struct {
	store   domain.PersistentStore
	logger  *zap.Logger
	metrics MetricsRecorder
	tracer  Tracer
	authz   Authorizer
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. A nil logger is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(s *Service) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithAuthorizer sets the permission oracle consulted before discharge and
// ledger mutations. The default allows everything.
func WithAuthorizer(authz Authorizer) Option {
	return func(s *Service) {
		if authz != nil {
			s.authz = authz
		}
	}
}

// WithClock overrides the service time source used for backfill sampling and
// export keys. NewInMemoryService also hands it to the store.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a service backed by the supplied store. The store's
// event bus should come from NewDefaultEventBus.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  zap.NewNop(),
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		authz:   AllowAll(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store wired
// with the default listeners.
func NewInMemoryService(opts ...Option) *Service {
	s := NewService(nil, opts...)
	s.store = memory.NewStore(NewDefaultEventBus(), memory.WithClock(s.now))
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// Logger returns the service logger.
func (s *Service) Logger() *zap.Logger {
	return s.logger
}

func actorField(actor domain.Actor) zap.Field {
	if actor.IsSystem() {
		return zap.String("actor", domain.SystemLabel)
	}
	return zap.String("actor", actor.ID)
}

// run wraps an operation with tracing, metrics and logging. Fields must not
// carry personal data; ids only.
func (s *Service) run(ctx context.Context, op string, actor domain.Actor, fn func(context.Context) (domain.Result, error), fields ...zap.Field) (domain.Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	res, err := fn(ctx)
	span.End(err)
	elapsed := time.Since(start)
	s.metrics.Observe(ctx, op, err == nil, elapsed)

	base := append([]zap.Field{zap.String("operation", op), actorField(actor), zap.Duration("duration", elapsed)}, fields...)
	if err != nil {
		s.logger.Warn("operation failed", append(base, zap.Error(err))...)
		return res, err
	}
	for _, w := range res.Warnings() {
		s.logger.Info("operation warning", append(base,
			zap.String("rule", w.Rule),
			zap.String("severity", string(w.Severity)),
			zap.String("entity", string(w.Entity)),
			zap.String("entity_id", w.EntityID))...)
	}
	s.logger.Debug("operation completed", base...)
	return res, nil
}

// write runs fn in a unit of work attributed to actor.
func (s *Service) write(ctx context.Context, op string, actor domain.Actor, fn func(domain.Transaction) error, fields ...zap.Field) (domain.Result, error) {
	return s.run(ctx, op, actor, func(ctx context.Context) (domain.Result, error) {
		return s.store.RunInTransaction(ctx, actor, fn)
	}, fields...)
}

// read runs fn against a snapshot, traced and measured like a write.
func (s *Service) read(ctx context.Context, op string, fn func(domain.TransactionView) error, fields ...zap.Field) error {
	_, err := s.run(ctx, op, domain.SystemActor(), func(ctx context.Context) (domain.Result, error) {
		return domain.Result{}, s.store.View(ctx, fn)
	}, fields...)
	return err
}
