package meta

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireValue is the type-tagged JSON form used by the document store.
type wireValue struct {
	Type FieldType       `json:"t"`
	Val  json.RawMessage `json:"v"`
}

// MarshalJSON encodes the value with an explicit type tag so numbers,
// timestamps, and strings round-trip without ambiguity.
func (v Value) MarshalJSON() ([]byte, error) {
	var raw []byte
	var err error
	switch v.kind {
	case KindString:
		raw, err = json.Marshal(v.str)
	case KindNumber:
		raw, err = json.Marshal(v.num)
	case KindBool:
		raw, err = json.Marshal(v.b)
	case KindStringSet:
		raw, err = json.Marshal(v.set)
	case KindTime:
		raw, err = json.Marshal(v.ts.Format(time.RFC3339Nano))
	default:
		return nil, fmt.Errorf("cannot marshal invalid value")
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.FieldTypeOf(), Val: raw})
}

// UnmarshalJSON decodes a type-tagged value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case TypeString:
		var s string
		if err := json.Unmarshal(w.Val, &s); err != nil {
			return err
		}
		*v = String(s)
	case TypeNumber:
		var n float64
		if err := json.Unmarshal(w.Val, &n); err != nil {
			return err
		}
		*v = Number(n)
	case TypeBool:
		var b bool
		if err := json.Unmarshal(w.Val, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case TypeStringSet:
		var set []string
		if err := json.Unmarshal(w.Val, &set); err != nil {
			return err
		}
		*v = StringSet(set...)
	case TypeTime:
		var s string
		if err := json.Unmarshal(w.Val, &s); err != nil {
			return err
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse timestamp value: %w", err)
		}
		*v = Time(ts)
	default:
		return fmt.Errorf("unknown value type %q", w.Type)
	}
	return nil
}
