package meta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromUntyped(t *testing.T) {
	schema := Schema{
		"category":  TypeString,
		"rating":    TypeNumber,
		"archived":  TypeBool,
		"tags":      TypeStringSet,
		"published": TypeTime,
	}

	md, err := FromUntyped(schema, map[string]interface{}{
		"category":  "books",
		"rating":    4.5,
		"archived":  false,
		"tags":      []interface{}{"b", "a", "b"},
		"published": "2025-03-01T12:00:00Z",
	})
	require.NoError(t, err)

	assert.Equal(t, String("books"), md["category"])
	assert.Equal(t, Number(4.5), md["rating"])
	assert.Equal(t, Bool(false), md["archived"])
	assert.Equal(t, StringSet("a", "b"), md["tags"], "sets deduplicate and sort")
	assert.Equal(t, Time(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)), md["published"])
}

func TestFromUntypedRejectsMismatches(t *testing.T) {
	schema := Schema{"rating": TypeNumber, "published": TypeTime}

	cases := map[string]map[string]interface{}{
		"unknown field":   {"color": "red"},
		"string as number": {"rating": "five"},
		"bad timestamp":   {"published": "last week"},
	}
	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromUntyped(schema, fields)
			assert.Error(t, err)
		})
	}
}

func TestFromUntypedEmpty(t *testing.T) {
	md, err := FromUntyped(Schema{}, nil)
	require.NoError(t, err)
	assert.Nil(t, md)
}
