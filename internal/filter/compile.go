package filter

import (
	"fmt"
	"regexp"

	"github.com/rankfuse/rankfuse/internal/meta"
	"github.com/rankfuse/rankfuse/internal/rferrors"
)

// Predicate is a compiled filter expression, reusable across many
// documents within one query without re-validating or re-compiling.
type Predicate struct {
	eval func(md meta.Metadata) bool
	sig  string
}

// Evaluate applies the compiled predicate to document metadata.
func (p *Predicate) Evaluate(md meta.Metadata) bool {
	if p == nil || p.eval == nil {
		return true
	}
	return p.eval(md)
}

// Signature returns the canonical form of the source expression.
func (p *Predicate) Signature() string {
	if p == nil {
		return ""
	}
	return p.sig
}

// MatchAll returns a predicate that accepts every document.
func MatchAll() *Predicate {
	return &Predicate{eval: func(meta.Metadata) bool { return true }, sig: ""}
}

// Compile validates an expression against the schema and produces a
// reusable predicate. Type mismatches between a comparison's value and
// the declared field type are rejected here, before any retrieval
// work, never silently evaluated to false.
func Compile(e Expr, schema meta.Schema) (*Predicate, error) {
	if e == nil {
		return MatchAll(), nil
	}
	eval, err := compileNode(e, schema)
	if err != nil {
		return nil, err
	}
	return &Predicate{eval: eval, sig: Signature(e)}, nil
}

func compileNode(e Expr, schema meta.Schema) (func(meta.Metadata) bool, error) {
	switch n := e.(type) {
	case *Comparison:
		return compileComparison(n, schema)
	case *And:
		children, err := compileChildren(n.Children, schema)
		if err != nil {
			return nil, err
		}
		return func(md meta.Metadata) bool {
			for _, ch := range children {
				if !ch(md) {
					return false
				}
			}
			return true
		}, nil
	case *Or:
		children, err := compileChildren(n.Children, schema)
		if err != nil {
			return nil, err
		}
		return func(md meta.Metadata) bool {
			for _, ch := range children {
				if ch(md) {
					return true
				}
			}
			return false
		}, nil
	case *Not:
		child, err := compileNode(n.Child, schema)
		if err != nil {
			return nil, err
		}
		return func(md meta.Metadata) bool { return !child(md) }, nil
	default:
		return nil, rferrors.New(rferrors.ErrCodeInvalidQuery,
			fmt.Sprintf("unknown filter node type %T", e), nil)
	}
}

func compileChildren(children []Expr, schema meta.Schema) ([]func(meta.Metadata) bool, error) {
	fns := make([]func(meta.Metadata) bool, 0, len(children))
	for _, ch := range children {
		fn, err := compileNode(ch, schema)
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	return fns, nil
}

// compileComparison validates operand types and returns the evaluator.
//
// Absence semantics: a document missing the compared field evaluates to
// false for every operator except NOT_EXISTS (true) and NE/NOT_IN
// (vacuously true, since "not equal to X" holds when the field is
// absent). This is deliberate and covered by tests; it is a common
// source of filter bugs when left implicit.
func compileComparison(c *Comparison, schema meta.Schema) (func(meta.Metadata) bool, error) {
	if !IsValidOperator(c.Op) {
		return nil, rferrors.New(rferrors.ErrCodeInvalidQuery,
			fmt.Sprintf("unknown operator %q on field %q", c.Op, c.Field), nil)
	}

	fieldType, declared := schema.TypeOf(c.Field)
	if !declared {
		return nil, rferrors.New(rferrors.ErrCodeUnknownField,
			fmt.Sprintf("field %q is not declared in schema", c.Field), nil)
	}

	field := c.Field

	switch c.Op {
	case OpExists:
		return func(md meta.Metadata) bool {
			_, ok := md[field]
			return ok
		}, nil

	case OpNotExists:
		return func(md meta.Metadata) bool {
			_, ok := md[field]
			return !ok
		}, nil

	case OpEq, OpNe:
		if err := requireValueType(c, fieldType); err != nil {
			return nil, err
		}
		want := c.Value
		negate := c.Op == OpNe
		return func(md meta.Metadata) bool {
			got, ok := md[field]
			if !ok {
				return negate // NE is vacuously true on a missing field
			}
			return got.Equal(want) != negate
		}, nil

	case OpGt, OpGte, OpLt, OpLte:
		if fieldType == meta.TypeBool || fieldType == meta.TypeStringSet {
			return nil, typeError(c, fieldType, "ordered comparison requires string, number, or timestamp")
		}
		if err := requireValueType(c, fieldType); err != nil {
			return nil, err
		}
		want := c.Value
		op := c.Op
		return func(md meta.Metadata) bool {
			got, ok := md[field]
			if !ok {
				return false
			}
			cmp, err := got.Compare(want)
			if err != nil {
				return false
			}
			switch op {
			case OpGt:
				return cmp > 0
			case OpGte:
				return cmp >= 0
			case OpLt:
				return cmp < 0
			default:
				return cmp <= 0
			}
		}, nil

	case OpContains, OpNotContains:
		if fieldType != meta.TypeString && fieldType != meta.TypeStringSet {
			return nil, typeError(c, fieldType, "CONTAINS requires a string or string-set field")
		}
		if c.Value.Kind() != meta.KindString {
			return nil, typeError(c, fieldType, "CONTAINS operand must be a string")
		}
		needle := c.Value.Str()
		negate := c.Op == OpNotContains
		return func(md meta.Metadata) bool {
			got, ok := md[field]
			if !ok {
				return false
			}
			return got.Contains(needle) != negate
		}, nil

	case OpIn, OpNotIn:
		if len(c.Values) == 0 {
			return nil, rferrors.New(rferrors.ErrCodeInvalidQuery,
				fmt.Sprintf("%s on field %q requires a non-empty value set", c.Op, field), nil)
		}
		for _, v := range c.Values {
			if fieldType == meta.TypeStringSet {
				// Membership against a set field takes string literals.
				if v.Kind() != meta.KindString {
					return nil, typeError(c, fieldType, "IN operand for a string-set field must be a string")
				}
			} else if v.FieldTypeOf() != fieldType {
				return nil, typeError(c, fieldType,
					fmt.Sprintf("IN operand type %s does not match field type %s", v.FieldTypeOf(), fieldType))
			}
		}
		values := c.Values
		negate := c.Op == OpNotIn
		isSetField := fieldType == meta.TypeStringSet
		return func(md meta.Metadata) bool {
			got, ok := md[field]
			if !ok {
				return negate // NOT_IN is vacuously true on a missing field
			}
			hit := false
			for _, v := range values {
				if isSetField {
					if got.Contains(v.Str()) {
						hit = true
						break
					}
				} else if got.Equal(v) {
					hit = true
					break
				}
			}
			return hit != negate
		}, nil

	case OpRegex:
		if fieldType != meta.TypeString {
			return nil, typeError(c, fieldType, "REGEX applies to string fields only")
		}
		if c.Value.Kind() != meta.KindString {
			return nil, typeError(c, fieldType, "REGEX operand must be a string pattern")
		}
		// Compiled once per query, applied per document.
		re, err := regexp.Compile(c.Value.Str())
		if err != nil {
			return nil, rferrors.New(rferrors.ErrCodeInvalidRegex,
				fmt.Sprintf("field %q: %v", field, err), err)
		}
		return func(md meta.Metadata) bool {
			got, ok := md[field]
			if !ok || got.Kind() != meta.KindString {
				return false
			}
			return re.MatchString(got.Str())
		}, nil

	default:
		return nil, rferrors.New(rferrors.ErrCodeInvalidQuery,
			fmt.Sprintf("operator %q not handled", c.Op), nil)
	}
}

func requireValueType(c *Comparison, fieldType meta.FieldType) error {
	if !c.Value.IsValid() {
		return rferrors.New(rferrors.ErrCodeInvalidQuery,
			fmt.Sprintf("%s on field %q requires a value", c.Op, c.Field), nil)
	}
	if c.Value.FieldTypeOf() != fieldType {
		return typeError(c, fieldType,
			fmt.Sprintf("value type %s does not match field type %s", c.Value.FieldTypeOf(), fieldType))
	}
	return nil
}

func typeError(c *Comparison, fieldType meta.FieldType, detail string) error {
	e := rferrors.New(rferrors.ErrCodeInvalidFilterType,
		fmt.Sprintf("%s: %s", c.String(), detail), rferrors.ErrInvalidFilterType)
	return e.WithDetail("field", c.Field).WithDetail("field_type", string(fieldType))
}
