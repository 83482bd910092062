package auditing

import (
	"errors"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultPolicyCacheSize bounds the memoised entity decisions
const DefaultPolicyCacheSize = 1024

type policyState struct {
	opts      *Options
	decisions *lru.Cache[string, bool]
}

// Policy answers whether entity types, properties and service calls are
// audited. Decisions depend only on the registry and the options.
type Policy struct {
	registry  *Registry
	cacheSize int
	state     atomic.Pointer[policyState]
}

// NewPolicy creates a policy over the registry. A nil registry behaves like
// an empty one.
func NewPolicy(registry *Registry, opts Options) *Policy {
	if registry == nil {
		registry = NewRegistry()
	}
	p := &Policy{
		registry:  registry,
		cacheSize: DefaultPolicyCacheSize,
	}
	p.SetOptions(opts)
	return p
}

// Registry returns the metadata table
func (p *Policy) Registry() *Registry {
	return p.registry
}

// Options returns the current options. Callers must not modify them.
func (p *Policy) Options() *Options {
	return p.state.Load().opts
}

// SetOptions swaps the options and drops memoised decisions
func (p *Policy) SetOptions(opts Options) {
	cache, err := lru.New[string, bool](p.cacheSize)
	if err != nil {
		// only fails on a non-positive size
		panic(err)
	}
	p.state.Store(&policyState{opts: opts.clone(), decisions: cache})
}

// IsTypeAudited decides from markers alone. Explicit markers override the
// AuditingEnabled capability in both directions.
func (p *Policy) IsTypeAudited(typeName string) bool {
	return p.isTypeAudited(p.Options(), typeName)
}

func (p *Policy) isTypeAudited(opts *Options, typeName string) bool {
	switch p.registry.TypeMarker(typeName) {
	case Audited:
		return true
	case DisableAuditing:
		return false
	}
	return opts.DefaultAuditingEnabled && p.registry.HasAuditingEnabled(typeName)
}

// MatchesSelector evaluates the entity selectors. A failing selector counts as
// not matched and its error is returned alongside the result.
func (p *Policy) MatchesSelector(typeName string) (bool, error) {
	return matchSelectors(p.Options().EntitySelectors, typeName)
}

func matchSelectors(selectors []TypeSelector, typeName string) (bool, error) {
	var errs []error
	for _, s := range selectors {
		ok, err := evalSelector(s, typeName)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, errors.Join(errs...)
		}
	}
	return false, errors.Join(errs...)
}

func evalSelector(s TypeSelector, typeName string) (matched bool, err error) {
	if s.Predicate == nil {
		return false, nil
	}
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = &PolicyEvaluationError{TypeName: typeName, Selector: s.Name, Cause: panicError(r)}
		}
	}()
	return s.Predicate(typeName), nil
}

// ShouldAuditEntity combines markers and selectors for an entity type.
// Successful decisions are memoised until the options change.
func (p *Policy) ShouldAuditEntity(typeName string) (bool, error) {
	st := p.state.Load()
	if v, ok := st.decisions.Get(typeName); ok {
		return v, nil
	}

	if p.isTypeAudited(st.opts, typeName) {
		st.decisions.Add(typeName, true)
		return true, nil
	}

	matched, err := matchSelectors(st.opts.EntitySelectors, typeName)
	if err == nil {
		st.decisions.Add(typeName, matched)
	}
	return matched, err
}

// IsPropertyAudited decides one property given the owner's decision. An
// explicit Audited marker wins over everything, DisableAuditing loses.
func (p *Policy) IsPropertyAudited(typeName, property string, ownerAudited bool) bool {
	switch p.registry.PropertyMarker(typeName, property) {
	case Audited:
		return true
	case DisableAuditing:
		return false
	}
	if !ownerAudited {
		return false
	}
	if IsReservedBaseProperty(property) {
		return p.Options().isWhitelistedBaseProperty(property)
	}
	return true
}

// IsServiceAudited decides whether a call to serviceType.method is recorded as
// an action
func (p *Policy) IsServiceAudited(serviceType, method string) bool {
	opts := p.Options()

	if p.registry.IsIntegrationService(serviceType) && !opts.IsEnabledForIntegrationServices {
		return false
	}

	switch p.registry.MethodMarker(serviceType, method) {
	case Audited:
		return true
	case DisableAuditing:
		return false
	}

	switch p.registry.TypeMarker(serviceType) {
	case Audited:
		return true
	case DisableAuditing:
		return false
	}

	if !opts.DefaultAuditingEnabled || !p.registry.HasAuditingEnabled(serviceType) {
		return false
	}
	return !opts.isReadOnlyMethod(method)
}
