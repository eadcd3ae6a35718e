// Package filter evaluates boolean expression trees over document
// metadata. Expressions are compiled once per query against a declared
// schema; compilation validates value types and compiles regexes so
// per-document evaluation is cheap.
package filter

import (
	"fmt"
	"strings"

	"github.com/rankfuse/rankfuse/internal/meta"
)

// Operator identifies a comparison operator.
type Operator string

const (
	OpEq          Operator = "EQ"
	OpNe          Operator = "NE"
	OpGt          Operator = "GT"
	OpGte         Operator = "GTE"
	OpLt          Operator = "LT"
	OpLte         Operator = "LTE"
	OpContains    Operator = "CONTAINS"
	OpNotContains Operator = "NOT_CONTAINS"
	OpIn          Operator = "IN"
	OpNotIn       Operator = "NOT_IN"
	OpRegex       Operator = "REGEX"
	OpExists      Operator = "EXISTS"
	OpNotExists   Operator = "NOT_EXISTS"
)

// Expr is a node in a filter expression tree.
// Exactly one of the constructors below produces each variant.
type Expr interface {
	// signature writes a canonical textual form used for cache keys.
	signature(sb *strings.Builder)
}

// Comparison compares a metadata field against a literal value.
type Comparison struct {
	Field string
	Op    Operator

	// Value is the literal operand. EXISTS/NOT_EXISTS ignore it;
	// IN/NOT_IN require Values instead.
	Value meta.Value

	// Values is the literal set operand for IN/NOT_IN.
	Values []meta.Value
}

// And is true when every child is true. Evaluation short-circuits on
// the first false child.
type And struct {
	Children []Expr
}

// Or is true when any child is true. Evaluation short-circuits on the
// first true child.
type Or struct {
	Children []Expr
}

// Not negates its child.
type Not struct {
	Child Expr
}

// Cmp constructs a comparison node.
func Cmp(field string, op Operator, value meta.Value) *Comparison {
	return &Comparison{Field: field, Op: op, Value: value}
}

// CmpSet constructs an IN/NOT_IN comparison node.
func CmpSet(field string, op Operator, values ...meta.Value) *Comparison {
	return &Comparison{Field: field, Op: op, Values: values}
}

// Exists constructs a field-presence test.
func Exists(field string) *Comparison {
	return &Comparison{Field: field, Op: OpExists}
}

// NotExists constructs a field-absence test.
func NotExists(field string) *Comparison {
	return &Comparison{Field: field, Op: OpNotExists}
}

// AllOf constructs an And node.
func AllOf(children ...Expr) *And { return &And{Children: children} }

// AnyOf constructs an Or node.
func AnyOf(children ...Expr) *Or { return &Or{Children: children} }

// Negate constructs a Not node.
func Negate(child Expr) *Not { return &Not{Child: child} }

func (c *Comparison) signature(sb *strings.Builder) {
	sb.WriteString("cmp(")
	sb.WriteString(c.Field)
	sb.WriteByte(':')
	sb.WriteString(string(c.Op))
	sb.WriteByte(':')
	if len(c.Values) > 0 {
		for i, v := range c.Values {
			if i > 0 {
				sb.WriteByte('|')
			}
			sb.WriteString(v.String())
		}
	} else if c.Value.IsValid() {
		sb.WriteString(c.Value.String())
	}
	sb.WriteByte(')')
}

func (a *And) signature(sb *strings.Builder) {
	sb.WriteString("and(")
	for i, ch := range a.Children {
		if i > 0 {
			sb.WriteByte(',')
		}
		ch.signature(sb)
	}
	sb.WriteByte(')')
}

func (o *Or) signature(sb *strings.Builder) {
	sb.WriteString("or(")
	for i, ch := range o.Children {
		if i > 0 {
			sb.WriteByte(',')
		}
		ch.signature(sb)
	}
	sb.WriteByte(')')
}

func (n *Not) signature(sb *strings.Builder) {
	sb.WriteString("not(")
	n.Child.signature(sb)
	sb.WriteByte(')')
}

// Signature returns a canonical textual form of an expression, stable
// across runs. Used as part of query-result cache keys.
// A nil expression has the empty signature.
func Signature(e Expr) string {
	if e == nil {
		return ""
	}
	var sb strings.Builder
	e.signature(&sb)
	return sb.String()
}

// validOperators is the closed set of recognized operators.
var validOperators = map[Operator]struct{}{
	OpEq: {}, OpNe: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
	OpContains: {}, OpNotContains: {}, OpIn: {}, OpNotIn: {},
	OpRegex: {}, OpExists: {}, OpNotExists: {},
}

// IsValidOperator reports whether op is one of the 13 recognized operators.
func IsValidOperator(op Operator) bool {
	_, ok := validOperators[op]
	return ok
}

// String renders a comparison for error messages.
func (c *Comparison) String() string {
	return fmt.Sprintf("%s %s", c.Field, c.Op)
}
