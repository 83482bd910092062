package auditing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/auditkit/pkg/async"
)

const tracerName = "github.com/platinummonkey/auditkit/pkg/auditing"

// Manager opens audit scopes, collects their contributions and saves one
// audit log per outermost scope
type Manager struct {
	store   Store
	policy  *Policy
	differ  *Differ
	log     logrus.FieldLogger
	metrics MetricsRecorder
	tracer  trace.Tracer
	clock   func() time.Time
	pending *async.Tracker

	initial Options
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithOptions sets the engine options. Defaults to DefaultOptions().
func WithOptions(opts Options) ManagerOption {
	return func(m *Manager) { m.initial = opts }
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(metrics MetricsRecorder) ManagerOption {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithTracer sets the tracer used around store saves
func WithTracer(tracer trace.Tracer) ManagerOption {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// WithClock overrides time.Now, for tests
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewManager creates a manager saving to store with policy metadata from
// registry
func NewManager(store Store, registry *Registry, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("audit store is required")
	}

	m := &Manager{
		store:   store,
		log:     logrus.New(),
		metrics: noopMetrics{},
		tracer:  otel.Tracer(tracerName),
		clock:   time.Now,
		initial: DefaultOptions(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.policy = NewPolicy(registry, m.initial)
	m.differ = NewDiffer(m.policy, m.log)
	m.differ.clock = m.clock
	m.pending = async.NewTracker(m.log)
	return m, nil
}

// Policy returns the policy resolver
func (m *Manager) Policy() *Policy {
	return m.policy
}

// Options returns the current options. Callers must not modify them.
func (m *Manager) Options() *Options {
	return m.policy.Options()
}

// SetOptions replaces the options. Scopes already open keep their log and
// see the new options for later contributions.
func (m *Manager) SetOptions(opts Options) {
	m.policy.SetOptions(opts)
	m.log.Info("audit options updated")
}

// BeginScope opens a scope. When ctx already carries an open scope the new
// scope joins its chain and shares its log.
func (m *Manager) BeginScope(ctx context.Context) (context.Context, *Scope) {
	if ctx == nil {
		ctx = context.Background()
	}

	if parent := Current(ctx); parent != nil {
		s := parent.chain.push(parent)
		return WithScope(ctx, s), s
	}

	opts := m.policy.Options()
	info := &AuditLogInfo{
		ID:              uuid.NewString(),
		ApplicationName: opts.ApplicationName,
		ExecutionTime:   m.clock(),
	}
	c := &chain{
		manager:  m,
		builder:  newBuilder(info, m.policy.Options),
		ctx:      context.WithoutCancel(ctx),
		disabled: !opts.IsEnabled,
	}
	if !c.disabled {
		c.builder.Update(func(info *AuditLogInfo) {
			m.contribute(ctx, opts.Contributors, info, true)
		})
	}

	s := c.push(nil)
	return WithScope(ctx, s), s
}

// RecordEntityChanges diffs a completed unit of work into the current scope.
// It returns the number of entity changes recorded.
func (m *Manager) RecordEntityChanges(ctx context.Context, entities []TrackedEntity) (int, error) {
	if !m.policy.Options().IsEnabled || len(entities) == 0 {
		return 0, nil
	}

	scope := Current(ctx)
	if scope == nil {
		m.log.WithField("entities", len(entities)).Debug("no active audit scope, entity changes dropped")
		return 0, ErrNoActiveScope
	}

	changes, comments := m.differ.Diff(entities)
	scope.AddEntityChanges(changes...)
	scope.AddComment(comments...)
	m.metrics.ObserveEntityChanges(len(changes))
	return len(changes), nil
}

// Wait blocks until asynchronous saves in flight have finished
func (m *Manager) Wait() {
	m.pending.Wait()
}

// Shutdown waits for asynchronous saves, giving up when ctx is done
func (m *Manager) Shutdown(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		m.pending.Wait()
		return nil
	}
	if !m.pending.WaitTimeout(time.Until(deadline)) {
		return fmt.Errorf("timed out waiting for pending audit log saves: %w", ctx.Err())
	}
	return nil
}

// save runs the save protocol for a chain. It is called at most once per
// chain.
func (m *Manager) save(ctx context.Context, c *chain) error {
	opts := m.policy.Options()
	now := m.clock()

	c.builder.Update(func(info *AuditLogInfo) {
		info.EndTime = now
		info.ExecutionDuration = now.Sub(info.ExecutionTime)
		m.contribute(ctx, opts.Contributors, info, false)
	})
	info := c.builder.Snapshot()

	if info.IsEmpty() && opts.DisableEmptyAuditLogs {
		m.metrics.ObserveSkippedEmpty()
		m.log.WithField("audit_log_id", info.ID).Debug("skipping empty audit log")
		return nil
	}

	if opts.AsyncSave {
		m.pending.Go(ctx, opts.saveTimeout(), "audit log save", func(ctx context.Context) error {
			return m.persist(ctx, info)
		})
		return nil
	}

	if err := m.persist(ctx, info); err != nil && !opts.HideErrors {
		return err
	}
	return nil
}

// persist hands the log to the store. Store errors and panics are logged and
// returned as StoreSaveError.
func (m *Manager) persist(ctx context.Context, info *AuditLogInfo) (err error) {
	ctx, span := m.tracer.Start(ctx, "auditing.Save",
		trace.WithAttributes(
			attribute.String("audit.log_id", info.ID),
			attribute.Int("audit.actions", len(info.Actions)),
			attribute.Int("audit.entity_changes", len(info.EntityChanges)),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &StoreSaveError{AuditLogID: info.ID, Cause: panicError(r)}
		}

		status := SaveStatusSuccess
		if err != nil {
			status = SaveStatusFailure
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to save audit log")
			m.log.WithError(err).WithField("audit_log_id", info.ID).Error("failed to save audit log")
		} else {
			span.SetStatus(codes.Ok, "audit log saved")
		}
		m.metrics.ObserveSave(status, time.Since(start))
	}()

	if serr := m.store.Save(ctx, info); serr != nil {
		return &StoreSaveError{AuditLogID: info.ID, Cause: serr}
	}
	return nil
}

// contribute runs contributors; a panicking contributor is recorded as a
// comment and skipped
func (m *Manager) contribute(ctx context.Context, contributors []Contributor, info *AuditLogInfo, pre bool) {
	for _, c := range contributors {
		func() {
			defer func() {
				if r := recover(); r != nil {
					info.Comments = append(info.Comments, fmt.Sprintf("audit contributor failed: %v", r))
					m.log.WithField("panic", r).Warn("audit contributor panicked")
				}
			}()
			if pre {
				c.PreContribute(ctx, info)
			} else {
				c.PostContribute(ctx, info)
			}
		}()
	}
}
