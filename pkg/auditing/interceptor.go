package auditing

import (
	"context"
	"time"
)

// Argument is one named parameter of an intercepted call
type Argument struct {
	Name  string
	Value interface{}
}

// Invocation describes an intercepted service call
type Invocation struct {
	Service   string
	Method    string
	Arguments []Argument
}

// Intercept runs next as an audited call of inv. Audited calls are timed and
// recorded as an action of the current scope, opening an implicit scope when
// ctx has none. The error returned by next is passed back unchanged.
func (m *Manager) Intercept(ctx context.Context, inv Invocation, next func(ctx context.Context) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	opts := m.policy.Options()
	if !opts.IsEnabled {
		return next(ctx)
	}

	if !m.policy.IsServiceAudited(inv.Service, inv.Method) {
		err = next(ctx)
		if err != nil && opts.AlwaysLogOnException {
			if scope := Current(ctx); scope != nil {
				scope.AddException(&ActionExecutionError{ServiceName: inv.Service, MethodName: inv.Method, Cause: err})
			}
		}
		return err
	}

	ctx, scope := m.BeginScope(ctx)
	defer scope.Close()

	action := AuditLogAction{
		ServiceName:   inv.Service,
		MethodName:    inv.Method,
		Parameters:    m.serializeArguments(inv.Arguments, opts),
		ExecutionTime: m.clock(),
	}
	start := action.ExecutionTime

	defer func() {
		if r := recover(); r != nil {
			m.finishAction(scope, action, start, panicError(r))
			panic(r)
		}
	}()

	err = next(ctx)
	m.finishAction(scope, action, start, err)
	return err
}

// Call is Intercept for functions returning a value
func Call[T any](ctx context.Context, m *Manager, inv Invocation, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := m.Intercept(ctx, inv, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

func (m *Manager) finishAction(scope *Scope, action AuditLogAction, start time.Time, err error) {
	action.ExecutionDuration = m.clock().Sub(start)
	scope.AddAction(action)
	if err != nil {
		failure := &ActionExecutionError{ServiceName: action.ServiceName, MethodName: action.MethodName, Cause: err}
		scope.AddException(failure)
		scope.AddComment(failure.Error())
	}
}

func (m *Manager) serializeArguments(args []Argument, opts *Options) map[string]string {
	if len(args) == 0 {
		return nil
	}
	params := make(map[string]string, len(args))
	for _, a := range args {
		if _, ok := a.Value.(context.Context); ok {
			continue
		}
		if !isNil(a.Value) && opts.isIgnoredType(TypeNameOf(a.Value)) {
			continue
		}
		s, err := serializeOrMarker(a.Value)
		if err != nil {
			m.log.WithError(err).WithField("parameter", a.Name).Debug("action parameter is not serializable")
		}
		params[a.Name] = truncate(s, opts.maxValueLength())
	}
	return params
}
