package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-docstore/types"
)

func TestParse_Deterministic(t *testing.T) {
	spec, err := Parse(map[string][]string{
		"page":     {"2"},
		"limit":    {"5"},
		"sort":     {"price:desc,name:asc"},
		"category": {"pens"},
		"price":    {"gte:10"},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, spec.Skip)
	assert.Equal(t, 5, spec.Limit)

	require.Len(t, spec.Sort, 2)
	assert.Equal(t, types.SortField{Field: "price", Direction: types.SortDesc}, spec.Sort[0])
	assert.Equal(t, types.SortField{Field: "name", Direction: types.SortAsc}, spec.Sort[1])

	require.Len(t, spec.Filter, 2)
	assert.Equal(t, types.Eq("pens"), spec.Filter["category"])
	assert.Equal(t, types.Predicate{Op: types.OpGte, Value: 10.0}, spec.Filter["price"])
}

func TestParse_PaginationRules(t *testing.T) {
	tests := []struct {
		name      string
		params    map[string][]string
		wantSkip  int
		wantLimit int
	}{
		{
			name:      "limit only leaves skip at zero",
			params:    map[string][]string{"limit": {"10"}},
			wantSkip:  0,
			wantLimit: 10,
		},
		{
			name:      "page without limit is ignored",
			params:    map[string][]string{"page": {"3"}},
			wantSkip:  0,
			wantLimit: 0,
		},
		{
			name:      "limit clamps to 100",
			params:    map[string][]string{"page": {"2"}, "limit": {"500"}},
			wantSkip:  100,
			wantLimit: 100,
		},
		{
			name:      "limit clamps to 1",
			params:    map[string][]string{"limit": {"0"}},
			wantSkip:  0,
			wantLimit: 1,
		},
		{
			name:      "page below one acts as page one",
			params:    map[string][]string{"page": {"0"}, "limit": {"5"}},
			wantSkip:  0,
			wantLimit: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Parse(tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSkip, spec.Skip)
			assert.Equal(t, tt.wantLimit, spec.Limit)
		})
	}
}

func TestParse_MalformedNumbersRejected(t *testing.T) {
	tests := []struct {
		name   string
		params map[string][]string
	}{
		{"malformed limit", map[string][]string{"limit": {"abc"}}},
		{"malformed page", map[string][]string{"page": {"x"}, "limit": {"5"}}},
		{"malformed gte operand", map[string][]string{"price": {"gte:abc"}}},
		{"malformed lt operand", map[string][]string{"price": {"lt:ten"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.params)
			require.ErrorIs(t, err, types.ErrInvalidParameter)
		})
	}
}

func TestParse_SortDuplicateKeepsSlot(t *testing.T) {
	spec, err := Parse(map[string][]string{
		"sort": {"price:asc,name:desc,price:desc"},
	})
	require.NoError(t, err)

	require.Len(t, spec.Sort, 2)
	assert.Equal(t, types.SortField{Field: "price", Direction: types.SortDesc}, spec.Sort[0])
	assert.Equal(t, types.SortField{Field: "name", Direction: types.SortDesc}, spec.Sort[1])
}

func TestParse_Projection(t *testing.T) {
	spec, err := Parse(map[string][]string{
		"fields": {" name, price,,category "},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "price", "category"}, spec.Projection)
}

func TestParse_OperatorPredicates(t *testing.T) {
	spec, err := Parse(map[string][]string{
		"status": {"ne:cancelled"},
		"title":  {"regex:^pen"},
		"stock":  {"lte:20"},
	})
	require.NoError(t, err)

	assert.Equal(t, types.Ne("cancelled"), spec.Filter["status"])
	assert.Equal(t, types.Regex("^pen"), spec.Filter["title"])
	assert.Equal(t, types.Predicate{Op: types.OpLte, Value: 20.0}, spec.Filter["stock"])
}

func TestParse_SetMembership(t *testing.T) {
	spec, err := Parse(map[string][]string{
		"category": {"pens,paper, ink"},
	})
	require.NoError(t, err)

	assert.Equal(t, types.In("pens", "paper", "ink"), spec.Filter["category"])
}

func TestParse_ScalarCoercion(t *testing.T) {
	spec, err := Parse(map[string][]string{
		"price":  {"10.5"},
		"active": {"true"},
		"name":   {"notebook"},
	})
	require.NoError(t, err)

	assert.Equal(t, types.Eq(10.5), spec.Filter["price"])
	assert.Equal(t, types.Eq(true), spec.Filter["active"])
	assert.Equal(t, types.Eq("notebook"), spec.Filter["name"])
}

func TestParse_ReservedNamesNeverFilter(t *testing.T) {
	spec, err := Parse(map[string][]string{
		"page":   {"1"},
		"limit":  {"10"},
		"sort":   {"name"},
		"fields": {"name"},
	})
	require.NoError(t, err)

	assert.Empty(t, spec.Filter)
}
