package auditing

import (
	"fmt"
	"reflect"
	"time"
)

// TrackedEntity is one entry of a unit-of-work change-set, as reported by the
// persistence layer after flush
type TrackedEntity struct {
	ChangeType EntityChangeType
	EntityType string
	EntityID   interface{}
	Properties []TrackedProperty
	ChangeTime time.Time
}

// TrackedProperty carries the original and current value of one property.
// Replaced is only meaningful for value objects: it tells a new instance
// apart from an in-place mutation of the old one. Snapshots cannot show the
// difference, so the caller declares it.
type TrackedProperty struct {
	Name     string
	Type     string
	Original interface{}
	Current  interface{}
	Replaced bool
}

// TrackOption adjusts how Track reads a pair of snapshots
type TrackOption func(*trackOptions)

type trackOptions struct {
	replaced map[string]bool
}

// ReplacedFields marks value-object fields that were assigned a new instance.
// Unmarked fields with both values present are treated as updated in place.
func ReplacedFields(names ...string) TrackOption {
	return func(o *trackOptions) {
		if o.replaced == nil {
			o.replaced = make(map[string]bool, len(names))
		}
		for _, n := range names {
			o.replaced[n] = true
		}
	}
}

// Track builds a TrackedEntity from two snapshots of the same struct type.
// Either snapshot may be nil (creation or hard deletion). Embedded structs
// that are not value objects contribute their promoted fields. Callers must
// pass a deep copy as original when value objects are held by pointer.
func Track(changeType EntityChangeType, id interface{}, original, current interface{}, opts ...TrackOption) (TrackedEntity, error) {
	var o trackOptions
	for _, opt := range opts {
		opt(&o)
	}

	ov, ot, err := structValue(original)
	if err != nil {
		return TrackedEntity{}, err
	}
	cv, ct, err := structValue(current)
	if err != nil {
		return TrackedEntity{}, err
	}

	t := ct
	if t == nil {
		t = ot
	}
	if t == nil {
		return TrackedEntity{}, fmt.Errorf("at least one snapshot is required")
	}
	if ot != nil && ct != nil && ot != ct {
		return TrackedEntity{}, fmt.Errorf("snapshot types differ: %s and %s", TypeName(ot), TypeName(ct))
	}

	entity := TrackedEntity{
		ChangeType: changeType,
		EntityType: TypeName(t),
		EntityID:   id,
	}
	entity.Properties = trackFields(t, ov, cv)
	for i := range entity.Properties {
		p := &entity.Properties[i]
		p.Replaced = o.replaced[p.Name] && !isNil(p.Original) && !isNil(p.Current)
	}
	return entity, nil
}

func structValue(v interface{}) (reflect.Value, reflect.Type, error) {
	if isNil(v) {
		return reflect.Value{}, nil, nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, nil, fmt.Errorf("snapshot must be a struct, got %s", rv.Kind())
	}
	return rv, rv.Type(), nil
}

func trackFields(t reflect.Type, original, current reflect.Value) []TrackedProperty {
	var props []TrackedProperty
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)

		if f.Anonymous && f.IsExported() && f.Type.Kind() == reflect.Struct && !implements(f.Type, valueObjectType) {
			props = append(props, trackFields(f.Type, fieldValue(original, i), fieldValue(current, i))...)
			continue
		}
		if !f.IsExported() {
			continue
		}

		p := TrackedProperty{
			Name: f.Name,
			Type: TypeName(f.Type),
		}
		ov, cv := fieldValue(original, i), fieldValue(current, i)
		if ov.IsValid() {
			p.Original = ov.Interface()
		}
		if cv.IsValid() {
			p.Current = cv.Interface()
		}
		props = append(props, p)
	}
	return props
}

func fieldValue(v reflect.Value, i int) reflect.Value {
	if !v.IsValid() {
		return reflect.Value{}
	}
	return v.Field(i)
}
