package auditing

import (
	"sync"
)

// Builder accumulates the contributions of one scope chain into a single
// AuditLogInfo. All methods are safe for concurrent use.
type Builder struct {
	mu      sync.Mutex
	info    *AuditLogInfo
	options func() *Options
}

func newBuilder(info *AuditLogInfo, options func() *Options) *Builder {
	return &Builder{
		info:    info,
		options: options,
	}
}

// AddAction appends an action. It reports false when action logging is
// disabled.
func (b *Builder) AddAction(action AuditLogAction) bool {
	if b.options().DisableLogActionInfo {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.info.Actions = append(b.info.Actions, action)
	return true
}

// AddEntityChanges appends entity changes, keeping their order
func (b *Builder) AddEntityChanges(changes ...EntityChange) {
	if len(changes) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.info.EntityChanges = append(b.info.EntityChanges, changes...)
}

// AddComment appends free-form comments
func (b *Builder) AddComment(comments ...string) {
	if len(comments) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.info.Comments = append(b.info.Comments, comments...)
}

// AddException records a failure
func (b *Builder) AddException(err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.info.Exceptions = append(b.info.Exceptions, err.Error())
}

// SetExtraProperty sets one key/value comment
func (b *Builder) SetExtraProperty(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.info.ExtraProperties == nil {
		b.info.ExtraProperties = make(map[string]string)
	}
	b.info.ExtraProperties[key] = value
}

// Update runs fn with exclusive access to the log
func (b *Builder) Update(fn func(info *AuditLogInfo)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.info)
}

// Snapshot returns a deep copy of the log as it is now
func (b *Builder) Snapshot() *AuditLogInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.info.Clone()
}
