// Package meta provides typed metadata values for indexed documents.
// Field values are a tagged union checked against a declared schema at
// construction time, so type mismatches surface before any retrieval work.
package meta

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FieldType identifies the declared type of a metadata field.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeNumber    FieldType = "number"
	TypeBool      FieldType = "bool"
	TypeStringSet FieldType = "string_set"
	TypeTime      FieldType = "timestamp"
)

// Kind identifies the runtime type carried by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindBool
	KindStringSet
	KindTime
)

// Value is a tagged union over the metadata value types.
// The zero Value is invalid; construct through the typed constructors.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	set  []string
	ts   time.Time
}

// String constructs a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number constructs a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool constructs a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// StringSet constructs a string-set value. The input is copied,
// deduplicated, and sorted so set values have a canonical form.
func StringSet(members ...string) Value {
	seen := make(map[string]struct{}, len(members))
	set := make([]string, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		set = append(set, m)
	}
	sort.Strings(set)
	return Value{kind: KindStringSet, set: set}
}

// Time constructs a timestamp value.
func Time(t time.Time) Value { return Value{kind: KindTime, ts: t.UTC()} }

// Kind returns the runtime kind of the value.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether the value carries a typed payload.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// Str returns the string payload. Valid only for KindString.
func (v Value) Str() string { return v.str }

// Num returns the numeric payload. Valid only for KindNumber.
func (v Value) Num() float64 { return v.num }

// B returns the boolean payload. Valid only for KindBool.
func (v Value) B() bool { return v.b }

// Set returns the string-set payload. Valid only for KindStringSet.
// Callers must not mutate the returned slice.
func (v Value) Set() []string { return v.set }

// TS returns the timestamp payload. Valid only for KindTime.
func (v Value) TS() time.Time { return v.ts }

// FieldTypeOf maps a value kind to its declared field type.
func (v Value) FieldTypeOf() FieldType {
	switch v.kind {
	case KindString:
		return TypeString
	case KindNumber:
		return TypeNumber
	case KindBool:
		return TypeBool
	case KindStringSet:
		return TypeStringSet
	case KindTime:
		return TypeTime
	default:
		return ""
	}
}

// String renders a canonical textual form, used for facet value keys
// and cache signatures. The form is stable across runs.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindStringSet:
		return strings.Join(v.set, ",")
	case KindTime:
		return v.ts.Format(time.RFC3339Nano)
	default:
		return "<invalid>"
	}
}

// Compare orders two values of the same kind.
// Returns -1, 0, or 1. Comparing mixed kinds returns an error.
func (v Value) Compare(other Value) (int, error) {
	if v.kind != other.kind {
		return 0, fmt.Errorf("cannot compare %v with %v", v.kind, other.kind)
	}
	switch v.kind {
	case KindString:
		return strings.Compare(v.str, other.str), nil
	case KindNumber:
		switch {
		case v.num < other.num:
			return -1, nil
		case v.num > other.num:
			return 1, nil
		default:
			return 0, nil
		}
	case KindBool:
		switch {
		case v.b == other.b:
			return 0, nil
		case !v.b:
			return -1, nil
		default:
			return 1, nil
		}
	case KindTime:
		switch {
		case v.ts.Before(other.ts):
			return -1, nil
		case v.ts.After(other.ts):
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, fmt.Errorf("kind %v is not ordered", v.kind)
	}
}

// Equal reports deep equality of two values of any kind.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindStringSet:
		if len(v.set) != len(other.set) {
			return false
		}
		for i := range v.set {
			if v.set[i] != other.set[i] {
				return false
			}
		}
		return true
	case KindTime:
		return v.ts.Equal(other.ts)
	case KindString:
		return v.str == other.str
	case KindNumber:
		return v.num == other.num
	case KindBool:
		return v.b == other.b
	default:
		return false
	}
}

// Contains reports whether the value contains the given string:
// substring match for strings, membership for string sets.
func (v Value) Contains(s string) bool {
	switch v.kind {
	case KindString:
		return strings.Contains(v.str, s)
	case KindStringSet:
		for _, m := range v.set {
			if m == s {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Metadata maps field names to typed values.
type Metadata map[string]Value

// Schema declares the expected type of each metadata field.
// Fields not declared in the schema are rejected at validation time.
type Schema map[string]FieldType

// Validate checks metadata against the schema. Unknown fields and
// type mismatches are both errors.
func (s Schema) Validate(md Metadata) error {
	for field, val := range md {
		declared, ok := s[field]
		if !ok {
			return fmt.Errorf("field %q is not declared in schema", field)
		}
		if got := val.FieldTypeOf(); got != declared {
			return fmt.Errorf("field %q: declared %s, got %s", field, declared, got)
		}
	}
	return nil
}

// TypeOf returns the declared type for a field, if declared.
func (s Schema) TypeOf(field string) (FieldType, bool) {
	t, ok := s[field]
	return t, ok
}
