package auditing

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// maxValueObjectDepth bounds recursion into value objects nested in value
// objects. Deeper values are compared as a whole.
const maxValueObjectDepth = 4

// Differ turns a unit-of-work change-set into entity changes
type Differ struct {
	policy *Policy
	log    logrus.FieldLogger
	clock  func() time.Time
}

// NewDiffer creates a differ over the policy
func NewDiffer(policy *Policy, log logrus.FieldLogger) *Differ {
	if log == nil {
		log = logrus.New()
	}
	return &Differ{
		policy: policy,
		log:    log,
		clock:  time.Now,
	}
}

// Diff computes the entity changes of a change-set in change-set order.
// Failures are confined to the entity that caused them and are returned as
// comments for the enclosing audit log.
func (d *Differ) Diff(entities []TrackedEntity) ([]EntityChange, []string) {
	opts := d.policy.Options()
	if !opts.IsEnabled {
		return nil, nil
	}

	var (
		changes  []EntityChange
		comments []string
	)
	for _, e := range entities {
		ec, notes, err := d.diffTracked(e, opts)
		comments = append(comments, notes...)
		if err != nil {
			d.log.WithError(err).
				WithField("entity_type", e.EntityType).
				Warn("failed to compute entity changes")
			comments = append(comments, fmt.Sprintf("failed to compute entity changes for %s (%v): %v", e.EntityType, e.EntityID, err))
			continue
		}
		changes = append(changes, ec...)
	}
	return changes, comments
}

func (d *Differ) diffTracked(e TrackedEntity, opts *Options) (changes []EntityChange, comments []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			changes = nil
			err = panicError(r)
		}
	}()

	audited, serr := d.policy.ShouldAuditEntity(e.EntityType)
	if serr != nil {
		comments = append(comments, serr.Error())
	}
	if !audited && !d.policy.Registry().HasAuditedProperties(e.EntityType) && !d.hasValueObjects(e.Properties) {
		return nil, comments, nil
	}

	if e.ChangeTime.IsZero() {
		e.ChangeTime = d.clock()
	}
	id, err := entityIDString(e.EntityID)
	if err != nil {
		return nil, comments, err
	}

	changes, err = d.diffEntity(e, id, audited, 0, opts)
	return changes, comments, err
}

// diffEntity emits the owner's change surrounded by the synthetic changes of
// its value objects: creations before, deletions after.
func (d *Differ) diffEntity(e TrackedEntity, id string, audited bool, depth int, opts *Options) ([]EntityChange, error) {
	owner := EntityChange{
		ChangeType:         e.ChangeType,
		EntityTypeFullName: e.EntityType,
		EntityID:           id,
		ChangeTime:         e.ChangeTime,
	}
	var before, after []EntityChange

	for _, p := range e.Properties {
		if voType, ok := d.valueObjectType(p, depth); ok {
			b, a, pc, err := d.diffValueObject(e, p, voType, audited, depth, opts)
			if err != nil {
				return nil, err
			}
			before = append(before, b...)
			after = append(after, a...)
			if pc != nil {
				owner.PropertyChanges = append(owner.PropertyChanges, *pc)
			}
			continue
		}

		if e.ChangeType == EntityChangeDeleted {
			continue
		}
		if !d.policy.IsPropertyAudited(e.EntityType, p.Name, audited) {
			continue
		}
		if pc, changed := d.propertyChange(p, p.Type, opts); changed {
			owner.PropertyChanges = append(owner.PropertyChanges, pc)
		}
	}

	// An update is only recorded when something audited changed
	emit := len(owner.PropertyChanges) > 0
	if audited && (e.ChangeType != EntityChangeUpdated || len(before)+len(after) > 0) {
		emit = true
	}

	out := make([]EntityChange, 0, len(before)+len(after)+1)
	out = append(out, before...)
	if emit {
		out = append(out, owner)
	}
	return append(out, after...), nil
}

// diffValueObject handles one value-object property. It returns the synthetic
// changes to place before and after the owner, and the owner's own change of
// the container property when that property is audited.
func (d *Differ) diffValueObject(owner TrackedEntity, p TrackedProperty, voType string, ownerAudited bool, depth int, opts *Options) (before, after []EntityChange, container *EntityPropertyChange, err error) {
	containerAudited := d.policy.IsPropertyAudited(owner.EntityType, p.Name, ownerAudited)
	voAudited, serr := d.isValueObjectAudited(voType, containerAudited)
	if serr != nil {
		d.log.WithError(serr).WithField("entity_type", voType).Warn("audit selector failed")
	}

	if owner.ChangeType == EntityChangeDeleted {
		v := p.Original
		if isNil(v) {
			v = p.Current
		}
		if isNil(v) || !voAudited {
			return nil, nil, nil, nil
		}
		deleted, err := d.pseudoEntity(EntityChangeDeleted, voType, v, nil, owner.ChangeTime, depth, opts)
		return nil, deleted, nil, err
	}

	origS, _ := serializeOrMarker(p.Original)
	curS, _ := serializeOrMarker(p.Current)
	if origS == curS {
		return nil, nil, nil, nil
	}

	if containerAudited {
		container = &EntityPropertyChange{
			PropertyName:         p.Name,
			PropertyTypeFullName: voType,
			OriginalValue:        truncate(origS, opts.maxValueLength()),
			NewValue:             truncate(curS, opts.maxValueLength()),
		}
	}
	if !voAudited {
		return nil, nil, container, nil
	}

	origNil, curNil := isNil(p.Original), isNil(p.Current)
	switch {
	case origNil:
		before, err = d.pseudoEntity(EntityChangeCreated, voType, nil, p.Current, owner.ChangeTime, depth, opts)
	case curNil:
		after, err = d.pseudoEntity(EntityChangeDeleted, voType, p.Original, nil, owner.ChangeTime, depth, opts)
	case p.Replaced:
		before, err = d.pseudoEntity(EntityChangeCreated, voType, nil, p.Current, owner.ChangeTime, depth, opts)
		if err == nil {
			after, err = d.pseudoEntity(EntityChangeDeleted, voType, p.Original, nil, owner.ChangeTime, depth, opts)
		}
	default:
		before, err = d.pseudoEntity(EntityChangeUpdated, voType, p.Original, p.Current, owner.ChangeTime, depth, opts)
	}
	if err != nil {
		return nil, nil, nil, err
	}
	return before, after, container, nil
}

// pseudoEntity diffs a value object as an entity of its own. Its identity is
// the content hash of the new value for creations and of the old value
// otherwise.
func (d *Differ) pseudoEntity(changeType EntityChangeType, voType string, original, current interface{}, changeTime time.Time, depth int, opts *Options) ([]EntityChange, error) {
	identity := original
	if changeType == EntityChangeCreated {
		identity = current
	}
	canonical, _ := serializeOrMarker(identity)

	props, err := valueObjectProperties(original, current)
	if err != nil {
		return nil, err
	}

	e := TrackedEntity{
		ChangeType: changeType,
		EntityType: voType,
		Properties: props,
		ChangeTime: changeTime,
	}
	return d.diffEntity(e, contentHash(canonical), true, depth+1, opts)
}

func (d *Differ) isValueObjectAudited(voType string, containerAudited bool) (bool, error) {
	switch d.policy.Registry().TypeMarker(voType) {
	case Audited:
		return true, nil
	case DisableAuditing:
		return false, nil
	}
	if containerAudited {
		return true, nil
	}
	return d.policy.ShouldAuditEntity(voType)
}

// propertyChange compares the canonical forms of one property
func (d *Differ) propertyChange(p TrackedProperty, typeName string, opts *Options) (EntityPropertyChange, bool) {
	orig, err := serializeOrMarker(p.Original)
	if err != nil {
		d.log.WithError(err).WithField("property", p.Name).Warn("property value is not serializable")
	}
	cur, err := serializeOrMarker(p.Current)
	if err != nil {
		d.log.WithError(err).WithField("property", p.Name).Warn("property value is not serializable")
	}
	if orig == cur {
		return EntityPropertyChange{}, false
	}

	if typeName == "" {
		typeName = TypeNameOf(p.Current)
		if isNil(p.Current) {
			typeName = TypeNameOf(p.Original)
		}
	}
	return EntityPropertyChange{
		PropertyName:         p.Name,
		PropertyTypeFullName: typeName,
		OriginalValue:        truncate(orig, opts.maxValueLength()),
		NewValue:             truncate(cur, opts.maxValueLength()),
	}, true
}

func (d *Differ) hasValueObjects(props []TrackedProperty) bool {
	for _, p := range props {
		if _, ok := d.valueObjectType(p, 0); ok {
			return true
		}
	}
	return false
}

// valueObjectType resolves the value-object type of a property from its
// declared type, falling back to the dynamic type of its values
func (d *Differ) valueObjectType(p TrackedProperty, depth int) (string, bool) {
	if depth >= maxValueObjectDepth {
		return "", false
	}
	reg := d.policy.Registry()
	if p.Type != "" && reg.IsValueObject(p.Type) {
		return p.Type, true
	}
	for _, v := range []interface{}{p.Current, p.Original} {
		if isNil(v) {
			continue
		}
		name := TypeNameOf(v)
		if reg.IsValueObject(name) {
			return name, true
		}
		if _, ok := v.(ValueObject); ok {
			return name, true
		}
	}
	return "", false
}

// valueObjectProperties lists the fields of a value object snapshot pair.
// Structs keep declaration order, maps are ordered by key.
func valueObjectProperties(original, current interface{}) ([]TrackedProperty, error) {
	sample := current
	if isNil(sample) {
		sample = original
	}
	if isNil(sample) {
		return nil, nil
	}

	rv := reflect.ValueOf(sample)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		ov, _, err := structValue(original)
		if err != nil {
			return nil, err
		}
		cv, _, err := structValue(current)
		if err != nil {
			return nil, err
		}
		return trackFields(rv.Type(), ov, cv), nil
	case reflect.Map:
		return mapProperties(original, current), nil
	default:
		return nil, fmt.Errorf("value object of kind %s has no fields", rv.Kind())
	}
}

func mapProperties(original, current interface{}) []TrackedProperty {
	ov, cv := mapValue(original), mapValue(current)
	keys := make(map[string]struct{})
	for k := range ov {
		keys[k] = struct{}{}
	}
	for k := range cv {
		keys[k] = struct{}{}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	props := make([]TrackedProperty, 0, len(names))
	for _, k := range names {
		props = append(props, TrackedProperty{Name: k, Original: ov[k], Current: cv[k]})
	}
	return props
}

func mapValue(v interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	if isNil(v) {
		return out
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Map {
		return out
	}
	iter := rv.MapRange()
	for iter.Next() {
		out[fmt.Sprint(iter.Key().Interface())] = iter.Value().Interface()
	}
	return out
}

// entityIDString renders a primary key. Strings and Stringers are used as is,
// composite keys use their canonical form.
func entityIDString(id interface{}) (string, error) {
	if isNil(id) {
		return "", nil
	}
	switch v := id.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	}
	switch reflect.ValueOf(id).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Bool:
		return fmt.Sprint(id), nil
	}
	return Serialize(id)
}
