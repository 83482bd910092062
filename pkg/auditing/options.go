package auditing

import (
	"strings"
	"time"
)

const (
	// DefaultMaxValueLength bounds serialized property and parameter values
	DefaultMaxValueLength = 512

	// DefaultSaveTimeout bounds asynchronous saves
	DefaultSaveTimeout = 10 * time.Second
)

// TypeSelector is a named predicate over entity type names. A type matched by
// any selector is audited regardless of its markers.
type TypeSelector struct {
	Name      string
	Predicate func(typeName string) bool
}

// SelectNamespace matches every type whose full name starts with prefix
func SelectNamespace(name, prefix string) TypeSelector {
	return TypeSelector{
		Name: name,
		Predicate: func(typeName string) bool {
			return strings.HasPrefix(typeName, prefix)
		},
	}
}

// SelectTypes matches the listed type names exactly
func SelectTypes(name string, typeNames ...string) TypeSelector {
	set := make(map[string]struct{}, len(typeNames))
	for _, n := range typeNames {
		set[n] = struct{}{}
	}
	return TypeSelector{
		Name: name,
		Predicate: func(typeName string) bool {
			_, ok := set[typeName]
			return ok
		},
	}
}

// Options is the configuration surface of the engine
type Options struct {
	// IsEnabled switches the whole engine on or off
	IsEnabled bool

	// DefaultAuditingEnabled audits types and services registered with the
	// AuditingEnabled capability when they carry no explicit marker
	DefaultAuditingEnabled bool

	// DisableLogActionInfo turns AddAction into a no-op
	DisableLogActionInfo bool

	// DisableEmptyAuditLogs skips saving logs with no actions and no entity changes
	DisableEmptyAuditLogs bool

	// ExtraBaseAuditProperties re-includes reserved base properties by name
	ExtraBaseAuditProperties []string

	// ReadOnlyMethodPrefixes mark methods that are not state-changing
	ReadOnlyMethodPrefixes []string

	// EntitySelectors are OR'd with marker-based policy
	EntitySelectors []TypeSelector

	ApplicationName string

	// HideErrors swallows store errors on explicit Scope.Save calls too
	HideErrors bool

	// AlwaysLogOnException records failures of unaudited calls into an open scope
	AlwaysLogOnException bool

	IsEnabledForIntegrationServices bool

	// IsEnabledForGetRequests opens request scopes for GET and HEAD requests
	IsEnabledForGetRequests bool

	// IgnoredTypes lists parameter type names left out of action parameters
	IgnoredTypes []string

	Contributors []Contributor

	// AsyncSave hands the finished log to the store on a background goroutine
	AsyncSave   bool
	SaveTimeout time.Duration

	MaxValueLength int
}

// DefaultOptions returns the default engine configuration
func DefaultOptions() Options {
	return Options{
		IsEnabled:              true,
		DefaultAuditingEnabled: true,
		ReadOnlyMethodPrefixes: []string{"Get", "Find"},
		HideErrors:             true,
		AlwaysLogOnException:   true,
		SaveTimeout:            DefaultSaveTimeout,
		MaxValueLength:         DefaultMaxValueLength,
	}
}

// reservedBaseProperties are never audited unless whitelisted
var reservedBaseProperties = map[string]struct{}{
	"creationtime":         {},
	"creatorid":            {},
	"lastmodificationtime": {},
	"lastmodifierid":       {},
	"isdeleted":            {},
	"deletiontime":         {},
	"deleterid":            {},
	"extraproperties":      {},
}

// IsReservedBaseProperty reports whether name is one of the reserved base
// audit properties. Matching ignores case so CreatorID and CreatorId agree.
func IsReservedBaseProperty(name string) bool {
	_, ok := reservedBaseProperties[strings.ToLower(name)]
	return ok
}

func (o *Options) isWhitelistedBaseProperty(name string) bool {
	for _, p := range o.ExtraBaseAuditProperties {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

func (o *Options) isReadOnlyMethod(method string) bool {
	for _, prefix := range o.ReadOnlyMethodPrefixes {
		if prefix != "" && strings.HasPrefix(method, prefix) {
			return true
		}
	}
	return false
}

func (o *Options) isIgnoredType(typeName string) bool {
	for _, t := range o.IgnoredTypes {
		if t == typeName {
			return true
		}
	}
	return false
}

func (o *Options) maxValueLength() int {
	if o.MaxValueLength <= 0 {
		return DefaultMaxValueLength
	}
	return o.MaxValueLength
}

func (o *Options) saveTimeout() time.Duration {
	if o.SaveTimeout <= 0 {
		return DefaultSaveTimeout
	}
	return o.SaveTimeout
}

// clone copies the slices so later edits by the caller don't leak into a
// running manager
func (o Options) clone() *Options {
	c := o
	c.ExtraBaseAuditProperties = append([]string(nil), o.ExtraBaseAuditProperties...)
	c.ReadOnlyMethodPrefixes = append([]string(nil), o.ReadOnlyMethodPrefixes...)
	c.EntitySelectors = append([]TypeSelector(nil), o.EntitySelectors...)
	c.IgnoredTypes = append([]string(nil), o.IgnoredTypes...)
	c.Contributors = append([]Contributor(nil), o.Contributors...)
	return &c
}
