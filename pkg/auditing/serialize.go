package auditing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// UnserializableValue replaces values that have no canonical form
const UnserializableValue = "<unserializable>"

const truncationPostfix = "..."

// Serialize renders v in its canonical text form: JSON with sorted map keys,
// quoted strings and natural scalars. Protobuf messages use their protojson
// mapping.
func Serialize(v interface{}) (string, error) {
	if isNil(v) {
		return "null", nil
	}

	if m, ok := v.(proto.Message); ok {
		data, err := protojson.Marshal(m)
		if err != nil {
			return "", &DiffSerializationError{TypeName: TypeNameOf(v), Cause: err}
		}
		// protojson output is deliberately unstable in whitespace
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return "", &DiffSerializationError{TypeName: TypeNameOf(v), Cause: err}
		}
		return buf.String(), nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", &DiffSerializationError{TypeName: TypeNameOf(v), Cause: err}
	}
	return string(data), nil
}

// serializeOrMarker never fails; unserializable values become the marker
func serializeOrMarker(v interface{}) (string, error) {
	s, err := Serialize(v)
	if err != nil {
		return UnserializableValue, err
	}
	return s, nil
}

// truncate bounds s to max bytes, postfix included. The cut never splits a
// multi-byte character.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= len(truncationPostfix) {
		return s[:runeBoundary(s, max)]
	}
	return s[:runeBoundary(s, max-len(truncationPostfix))] + truncationPostfix
}

// runeBoundary steps back from n to the start of the character it falls in
func runeBoundary(s string, n int) int {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

// contentHash is the pseudo-identity of a value object
func contentHash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
