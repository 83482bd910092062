package auditing

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/platinummonkey/auditkit/pkg/contextkeys"
)

// chain is the state shared by all scopes nested under one outermost scope
type chain struct {
	manager  *Manager
	builder  *Builder
	ctx      context.Context
	disabled bool

	mu   sync.Mutex
	open []*Scope

	saveOnce sync.Once
	saveErr  error
	done     atomic.Bool
}

// Scope is one level of the audit scope chain carried by a context. Inner
// scopes share the outermost scope's log; the log is saved once, when the
// last open scope of the chain is closed or on an explicit Save.
type Scope struct {
	chain  *chain
	parent *Scope
	depth  int
	closed atomic.Bool
}

// Current returns the innermost open scope carried by ctx, or nil
func Current(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(contextkeys.AuditScopeKey).(*Scope)
	if s == nil || s.chain.done.Load() {
		return nil
	}
	for s != nil && s.closed.Load() {
		s = s.parent
	}
	return s
}

// WithScope returns a context carrying s. It lets work started elsewhere join
// an existing chain.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, contextkeys.AuditScopeKey, s)
}

func (c *chain) push(parent *Scope) *Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &Scope{
		chain:  c,
		parent: parent,
		depth:  len(c.open) + 1,
	}
	c.open = append(c.open, s)
	return s
}

// pop removes s and reports how many scopes remain open
func (c *chain) pop(s *Scope) (remaining int, inOrder bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.open) - 1; i >= 0; i-- {
		if c.open[i] == s {
			inOrder = i == len(c.open)-1
			c.open = append(c.open[:i], c.open[i+1:]...)
			break
		}
	}
	return len(c.open), inOrder
}

func (c *chain) save(ctx context.Context) error {
	c.saveOnce.Do(func() {
		c.done.Store(true)
		if c.disabled {
			return
		}
		c.saveErr = c.manager.save(ctx, c)
	})
	return c.saveErr
}

// ID returns the ID of the shared audit log
func (s *Scope) ID() string {
	var id string
	s.chain.builder.Update(func(info *AuditLogInfo) { id = info.ID })
	return id
}

// Depth is 1 for the outermost scope
func (s *Scope) Depth() int {
	return s.depth
}

// IsOutermost reports whether the scope owns the log
func (s *Scope) IsOutermost() bool {
	return s.parent == nil
}

// Builder exposes the shared log builder
func (s *Scope) Builder() *Builder {
	return s.chain.builder
}

// AddAction appends an action to the shared log
func (s *Scope) AddAction(action AuditLogAction) {
	if s.chain.builder.AddAction(action) {
		s.chain.manager.metrics.ObserveActions(1)
	}
}

// AddEntityChanges appends entity changes to the shared log
func (s *Scope) AddEntityChanges(changes ...EntityChange) {
	s.chain.builder.AddEntityChanges(changes...)
}

// AddComment appends comments to the shared log
func (s *Scope) AddComment(comments ...string) {
	s.chain.builder.AddComment(comments...)
}

// AddException records a failure on the shared log
func (s *Scope) AddException(err error) {
	s.chain.builder.AddException(err)
}

// SetExtraProperty sets a key/value comment on the shared log
func (s *Scope) SetExtraProperty(key, value string) {
	s.chain.builder.SetExtraProperty(key, value)
}

// Snapshot returns a copy of the shared log as it is now
func (s *Scope) Snapshot() *AuditLogInfo {
	return s.chain.builder.Snapshot()
}

// Save saves the shared log now instead of when the chain closes. Only the
// outermost scope saves; on inner scopes Save does nothing. The store error is
// returned only when HideErrors is off.
func (s *Scope) Save(ctx context.Context) error {
	if !s.IsOutermost() {
		s.chain.manager.log.WithField("audit_log_id", s.ID()).Debug("save requested on inner audit scope, deferring to outermost")
		return nil
	}
	if ctx == nil {
		ctx = s.chain.ctx
	}
	return s.chain.save(context.WithoutCancel(ctx))
}

// Close ends the scope. Closing the last open scope of the chain saves the
// shared log. Close is idempotent and never returns store errors.
func (s *Scope) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	remaining, inOrder := s.chain.pop(s)
	if !inOrder {
		s.chain.manager.log.WithField("depth", s.depth).Debug("audit scope closed out of order")
	}
	if remaining == 0 {
		_ = s.chain.save(s.chain.ctx)
	}
	return nil
}
