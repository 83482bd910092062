package auditing

import (
	"reflect"
	"strings"
	"sync"
)

// Marker is the explicit audit marker carried by a type, property or method
type Marker int

const (
	Unmarked Marker = iota
	Audited
	DisableAuditing
)

func (m Marker) String() string {
	switch m {
	case Audited:
		return "Audited"
	case DisableAuditing:
		return "DisableAuditing"
	default:
		return "Unmarked"
	}
}

// ParseMarker parses the value of an `audited` struct tag
func ParseMarker(s string) Marker {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "audited":
		return Audited
	case "false", "no", "-", "disable", "disabled":
		return DisableAuditing
	default:
		return Unmarked
	}
}

// AuditingEnabled is the capability of types audited by default
type AuditingEnabled interface {
	AuditingEnabled()
}

// ValueObject marks identity-less composites compared by value
type ValueObject interface {
	ValueObject()
}

// IntegrationService marks boundary services excluded from action auditing
type IntegrationService interface {
	IntegrationService()
}

// Marked lets a type declare its own type-level marker
type Marked interface {
	AuditMarker() Marker
}

// TagName is the struct tag read by Registry.Scan
const TagName = "audited"

var (
	auditingEnabledType    = reflect.TypeOf((*AuditingEnabled)(nil)).Elem()
	valueObjectType        = reflect.TypeOf((*ValueObject)(nil)).Elem()
	integrationServiceType = reflect.TypeOf((*IntegrationService)(nil)).Elem()
	markedType             = reflect.TypeOf((*Marked)(nil)).Elem()
)

type memberKey struct {
	typeName string
	member   string
}

// Registry is the metadata table consulted by Policy. It is populated at
// startup and only read afterwards.
type Registry struct {
	mu sync.RWMutex

	types              map[string]Marker
	properties         map[memberKey]Marker
	methods            map[memberKey]Marker
	auditedProperties  map[string]int
	auditingEnabled    map[string]struct{}
	integrationService map[string]struct{}
	valueObjects       map[string]struct{}
	ancestors          map[string][]string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		types:              make(map[string]Marker),
		properties:         make(map[memberKey]Marker),
		methods:            make(map[memberKey]Marker),
		auditedProperties:  make(map[string]int),
		auditingEnabled:    make(map[string]struct{}),
		integrationService: make(map[string]struct{}),
		valueObjects:       make(map[string]struct{}),
		ancestors:          make(map[string][]string),
	}
}

// MarkType sets the type-level marker
func (r *Registry) MarkType(typeName string, m Marker) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[typeName] = m
	return r
}

// MarkProperty sets the marker of one property of a type
func (r *Registry) MarkProperty(typeName, property string, m Marker) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memberKey{typeName, property}
	if r.properties[key] == Audited {
		r.auditedProperties[typeName]--
	}
	r.properties[key] = m
	if m == Audited {
		r.auditedProperties[typeName]++
	}
	return r
}

// MarkMethod sets the marker of one service method
func (r *Registry) MarkMethod(typeName, method string, m Marker) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[memberKey{typeName, method}] = m
	return r
}

// EnableAuditing registers types carrying the AuditingEnabled capability
func (r *Registry) EnableAuditing(typeNames ...string) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range typeNames {
		r.auditingEnabled[n] = struct{}{}
	}
	return r
}

// MarkIntegrationService registers boundary services
func (r *Registry) MarkIntegrationService(typeNames ...string) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range typeNames {
		r.integrationService[n] = struct{}{}
	}
	return r
}

// RegisterValueObject registers value-object types
func (r *Registry) RegisterValueObject(typeNames ...string) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range typeNames {
		r.valueObjects[n] = struct{}{}
	}
	return r
}

// Implements records that typeName derives from the given interfaces or base
// types. Capabilities and integration markers are inherited along these edges.
func (r *Registry) Implements(typeName string, ancestors ...string) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ancestors[typeName] = append(r.ancestors[typeName], ancestors...)
	return r
}

// Scan registers the metadata declared by Go values: marker interfaces on the
// type and `audited` struct tags on its fields. Struct fields whose types are
// value objects are scanned too.
func (r *Registry) Scan(values ...interface{}) *Registry {
	visited := make(map[reflect.Type]struct{})
	for _, v := range values {
		if v == nil {
			continue
		}
		t, ok := v.(reflect.Type)
		if !ok {
			t = reflect.TypeOf(v)
		}
		r.scanType(t, visited)
	}
	return r
}

func (r *Registry) scanType(t reflect.Type, visited map[reflect.Type]struct{}) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if _, seen := visited[t]; seen {
		return
	}
	visited[t] = struct{}{}

	name := TypeName(t)
	if implements(t, auditingEnabledType) {
		r.EnableAuditing(name)
	}
	if implements(t, valueObjectType) {
		r.RegisterValueObject(name)
	}
	if implements(t, integrationServiceType) {
		r.MarkIntegrationService(name)
	}
	if m, ok := markerOf(t); ok {
		r.MarkType(name, m)
	}

	if t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if tag, ok := f.Tag.Lookup(TagName); ok {
			r.MarkProperty(name, f.Name, ParseMarker(tag))
		}
		ft := f.Type
		for ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct && implements(ft, valueObjectType) {
			r.scanType(ft, visited)
		}
	}
}

// TypeMarker returns the explicit marker of a type
func (r *Registry) TypeMarker(typeName string) Marker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[typeName]
}

// PropertyMarker returns the explicit marker of a property
func (r *Registry) PropertyMarker(typeName, property string) Marker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.properties[memberKey{typeName, property}]
}

// MethodMarker returns the explicit marker of a service method
func (r *Registry) MethodMarker(typeName, method string) Marker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.methods[memberKey{typeName, method}]
}

// HasAuditedProperties reports whether any property of the type is
// explicitly marked Audited
func (r *Registry) HasAuditedProperties(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.auditedProperties[typeName] > 0
}

// HasAuditingEnabled reports whether the type or one of its ancestors carries
// the AuditingEnabled capability
func (r *Registry) HasAuditingEnabled(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inherits(typeName, r.auditingEnabled)
}

// IsIntegrationService reports whether the type or one of its ancestors is a
// boundary service
func (r *Registry) IsIntegrationService(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inherits(typeName, r.integrationService)
}

// IsValueObject reports whether the type is a registered value object
func (r *Registry) IsValueObject(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.valueObjects[typeName]
	return ok
}

// inherits walks the ancestor graph breadth-first. Callers hold r.mu.
func (r *Registry) inherits(typeName string, set map[string]struct{}) bool {
	seen := map[string]struct{}{typeName: {}}
	queue := []string{typeName}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if _, ok := set[n]; ok {
			return true
		}
		for _, a := range r.ancestors[n] {
			if _, ok := seen[a]; !ok {
				seen[a] = struct{}{}
				queue = append(queue, a)
			}
		}
	}
	return false
}

// TypeName returns the full name used as type identity: import path plus
// type name for named types, the Go spelling otherwise. Pointers are
// dereferenced.
func TypeName(t reflect.Type) string {
	if t == nil {
		return "nil"
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() == "" || t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// TypeNameOf returns TypeName of the dynamic type of v
func TypeNameOf(v interface{}) string {
	return TypeName(reflect.TypeOf(v))
}

func implements(t, iface reflect.Type) bool {
	return t.Implements(iface) || reflect.PointerTo(t).Implements(iface)
}

func markerOf(t reflect.Type) (Marker, bool) {
	var v reflect.Value
	switch {
	case t.Implements(markedType):
		v = reflect.Zero(t)
	case reflect.PointerTo(t).Implements(markedType):
		v = reflect.New(t)
	default:
		return Unmarked, false
	}
	m, ok := v.Interface().(Marked)
	if !ok {
		return Unmarked, false
	}
	return m.AuditMarker(), true
}
