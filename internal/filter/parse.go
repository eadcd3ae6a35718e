package filter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rankfuse/rankfuse/internal/meta"
	"github.com/rankfuse/rankfuse/internal/rferrors"
)

// jsonNode is the wire form of an expression node. Exactly one of the
// combinator keys or the field key must be set.
type jsonNode struct {
	All []json.RawMessage `json:"all,omitempty"`
	Any []json.RawMessage `json:"any,omitempty"`
	Not json.RawMessage   `json:"not,omitempty"`

	Field  string            `json:"field,omitempty"`
	Op     Operator          `json:"op,omitempty"`
	Value  json.RawMessage   `json:"value,omitempty"`
	Values []json.RawMessage `json:"values,omitempty"`
}

// ParseJSON decodes a filter expression from its JSON wire form.
// Scalar operands are typed by the schema's declaration for the field,
// so "2025-01-01T00:00:00Z" against a timestamp field becomes a time
// value rather than a string. Unknown fields decode by their natural
// JSON type and are rejected later at Compile.
func ParseJSON(data []byte, schema meta.Schema) (Expr, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return parseNode(data, schema)
}

func parseNode(data []byte, schema meta.Schema) (Expr, error) {
	var node jsonNode
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, rferrors.ValidationError("malformed filter expression", err)
	}

	set := 0
	for _, present := range []bool{len(node.All) > 0, len(node.Any) > 0, len(node.Not) > 0, node.Field != ""} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, rferrors.ValidationError(
			"filter node must have exactly one of: all, any, not, field", nil)
	}

	switch {
	case len(node.All) > 0:
		children, err := parseChildren(node.All, schema)
		if err != nil {
			return nil, err
		}
		return AllOf(children...), nil
	case len(node.Any) > 0:
		children, err := parseChildren(node.Any, schema)
		if err != nil {
			return nil, err
		}
		return AnyOf(children...), nil
	case len(node.Not) > 0:
		child, err := parseNode(node.Not, schema)
		if err != nil {
			return nil, err
		}
		return Negate(child), nil
	}
	return parseComparison(node, schema)
}

func parseChildren(raw []json.RawMessage, schema meta.Schema) ([]Expr, error) {
	children := make([]Expr, len(raw))
	for i, r := range raw {
		child, err := parseNode(r, schema)
		if err != nil {
			return nil, err
		}
		children[i] = child
	}
	return children, nil
}

func parseComparison(node jsonNode, schema meta.Schema) (Expr, error) {
	if !IsValidOperator(node.Op) {
		return nil, rferrors.ValidationError(
			fmt.Sprintf("unknown filter operator %q", node.Op), nil)
	}

	switch node.Op {
	case OpExists:
		return Exists(node.Field), nil
	case OpNotExists:
		return NotExists(node.Field), nil
	case OpIn, OpNotIn:
		if len(node.Values) == 0 {
			return nil, rferrors.ValidationError(
				fmt.Sprintf("%s requires a values array", node.Op), nil)
		}
		values := make([]meta.Value, len(node.Values))
		for i, raw := range node.Values {
			v, err := parseScalar(raw, node.Field, schema)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return CmpSet(node.Field, node.Op, values...), nil
	}

	if len(node.Value) == 0 {
		return nil, rferrors.ValidationError(
			fmt.Sprintf("%s requires a value", node.Op), nil)
	}
	v, err := parseScalar(node.Value, node.Field, schema)
	if err != nil {
		return nil, err
	}
	return Cmp(node.Field, node.Op, v), nil
}

// parseScalar decodes a literal operand, preferring the schema's
// declared type for the field.
func parseScalar(raw json.RawMessage, field string, schema meta.Schema) (meta.Value, error) {
	declared, known := schema[field]

	var any interface{}
	if err := json.Unmarshal(raw, &any); err != nil {
		return meta.Value{}, rferrors.ValidationError("malformed filter value", err)
	}

	switch v := any.(type) {
	case string:
		if known && declared == meta.TypeTime {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return meta.Value{}, rferrors.ValidationError(
					fmt.Sprintf("field %q expects an RFC3339 timestamp", field), err)
			}
			return meta.Time(ts), nil
		}
		return meta.String(v), nil
	case float64:
		return meta.Number(v), nil
	case bool:
		return meta.Bool(v), nil
	default:
		return meta.Value{}, rferrors.ValidationError(
			fmt.Sprintf("unsupported filter value for field %q", field), nil)
	}
}
