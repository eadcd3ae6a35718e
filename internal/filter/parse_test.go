package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankfuse/rankfuse/internal/meta"
)

var parseSchema = meta.Schema{
	"category": meta.TypeString,
	"rating":   meta.TypeNumber,
	"archived": meta.TypeBool,
	"tags":     meta.TypeStringSet,
	"updated":  meta.TypeTime,
}

func mustParse(t *testing.T, src string) Expr {
	t.Helper()
	e, err := ParseJSON([]byte(src), parseSchema)
	require.NoError(t, err)
	return e
}

func TestParseComparison(t *testing.T) {
	e := mustParse(t, `{"field":"category","op":"EQ","value":"books"}`)
	assert.Equal(t, Cmp("category", OpEq, meta.String("books")), e)

	e = mustParse(t, `{"field":"rating","op":"GTE","value":4}`)
	assert.Equal(t, Cmp("rating", OpGte, meta.Number(4)), e)

	e = mustParse(t, `{"field":"archived","op":"EQ","value":true}`)
	assert.Equal(t, Cmp("archived", OpEq, meta.Bool(true)), e)
}

func TestParseTimestampBySchema(t *testing.T) {
	e := mustParse(t, `{"field":"updated","op":"GT","value":"2025-06-01T00:00:00Z"}`)
	want := Cmp("updated", OpGt, meta.Time(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, want, e)

	_, err := ParseJSON([]byte(`{"field":"updated","op":"GT","value":"yesterday"}`), parseSchema)
	require.Error(t, err)
}

func TestParseCombinators(t *testing.T) {
	e := mustParse(t, `{
		"all": [
			{"field":"category","op":"EQ","value":"books"},
			{"any": [
				{"field":"rating","op":"GT","value":3},
				{"not": {"field":"archived","op":"EQ","value":true}}
			]}
		]
	}`)

	want := AllOf(
		Cmp("category", OpEq, meta.String("books")),
		AnyOf(
			Cmp("rating", OpGt, meta.Number(3)),
			Negate(Cmp("archived", OpEq, meta.Bool(true))),
		),
	)
	assert.Equal(t, want, e)
}

func TestParseInOperator(t *testing.T) {
	e := mustParse(t, `{"field":"category","op":"IN","values":["books","games"]}`)
	want := CmpSet("category", OpIn, meta.String("books"), meta.String("games"))
	assert.Equal(t, want, e)

	_, err := ParseJSON([]byte(`{"field":"category","op":"IN"}`), parseSchema)
	require.Error(t, err)
}

func TestParseExists(t *testing.T) {
	e := mustParse(t, `{"field":"tags","op":"EXISTS"}`)
	assert.Equal(t, Exists("tags"), e)
}

func TestParseRejectsMalformedNodes(t *testing.T) {
	cases := []string{
		`{`,
		`{"field":"category"}`,
		`{"field":"category","op":"LIKE","value":"x"}`,
		`{"field":"category","op":"EQ"}`,
		`{"all":[{"field":"rating","op":"GT","value":1}],"field":"category","op":"EQ","value":"x"}`,
		`{"field":"category","op":"EQ","value":{"nested":true}}`,
	}
	for _, src := range cases {
		_, err := ParseJSON([]byte(src), parseSchema)
		assert.Error(t, err, "input: %s", src)
	}
}

func TestParseEmptyInputIsNilFilter(t *testing.T) {
	e, err := ParseJSON(nil, parseSchema)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestParsedExpressionCompiles(t *testing.T) {
	e := mustParse(t, `{"field":"rating","op":"GTE","value":4}`)
	pred, err := Compile(e, parseSchema)
	require.NoError(t, err)

	assert.True(t, pred.Evaluate(meta.Metadata{"rating": meta.Number(5)}))
	assert.False(t, pred.Evaluate(meta.Metadata{"rating": meta.Number(2)}))
}
