package meta

import (
	"fmt"
	"time"
)

// FromUntyped converts plain decoded JSON values into typed metadata
// using the schema's declarations. This is the ingest path for
// documents authored by hand, where values carry no type tags:
// strings against timestamp fields must be RFC3339, arrays become
// string sets, and JSON numbers become number values.
func FromUntyped(schema Schema, fields map[string]interface{}) (Metadata, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	md := make(Metadata, len(fields))
	for field, raw := range fields {
		declared, known := schema[field]
		if !known {
			return nil, fmt.Errorf("unknown metadata field %q", field)
		}
		v, err := untypedValue(declared, raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		md[field] = v
	}
	return md, nil
}

func untypedValue(declared FieldType, raw interface{}) (Value, error) {
	switch declared {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("expected string, got %T", raw)
		}
		return String(s), nil
	case TypeNumber:
		n, ok := raw.(float64)
		if !ok {
			return Value{}, fmt.Errorf("expected number, got %T", raw)
		}
		return Number(n), nil
	case TypeBool:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("expected bool, got %T", raw)
		}
		return Bool(b), nil
	case TypeStringSet:
		members, ok := raw.([]interface{})
		if !ok {
			return Value{}, fmt.Errorf("expected array, got %T", raw)
		}
		set := make([]string, len(members))
		for i, m := range members {
			s, ok := m.(string)
			if !ok {
				return Value{}, fmt.Errorf("set member %d: expected string, got %T", i, m)
			}
			set[i] = s
		}
		return StringSet(set...), nil
	case TypeTime:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("expected RFC3339 string, got %T", raw)
		}
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return Value{}, err
		}
		return Time(ts), nil
	default:
		return Value{}, fmt.Errorf("unsupported field type %q", declared)
	}
}
