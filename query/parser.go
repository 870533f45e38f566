// Package query turns untyped request parameters into a typed QuerySpec:
// pagination, multi-field sort, projection and a predicate tree per filter
// field. Parsing is a pure transformation with no I/O.
package query

import (
	"strconv"
	"strings"

	"github.com/saiset-co/sai-docstore/types"
)

const (
	ParamPage   = "page"
	ParamLimit  = "limit"
	ParamSort   = "sort"
	ParamFields = "fields"
)

const (
	MinLimit = 1
	MaxLimit = 100
)

var operatorPrefixes = []struct {
	prefix  string
	op      types.PredicateOp
	numeric bool
}{
	{"gte:", types.OpGte, true},
	{"lte:", types.OpLte, true},
	{"gt:", types.OpGt, true},
	{"lt:", types.OpLt, true},
	{"ne:", types.OpNe, false},
	{"regex:", types.OpRegex, false},
}

// Parse builds a QuerySpec from request parameters. Reserved parameters
// (page, limit, sort, fields) never reach the filter; every other parameter
// becomes a predicate. Malformed numeric values are rejected rather than
// coerced.
func Parse(params map[string][]string) (*types.QuerySpec, error) {
	spec := &types.QuerySpec{
		Filter: make(map[string]types.Predicate),
	}

	if err := parsePagination(params, spec); err != nil {
		return nil, err
	}

	if raw := first(params, ParamSort); raw != "" {
		spec.Sort = parseSort(raw)
	}

	if raw := first(params, ParamFields); raw != "" {
		spec.Projection = parseProjection(raw)
	}

	for name, values := range params {
		if isReserved(name) || len(values) == 0 {
			continue
		}

		predicate, err := parsePredicate(name, values[0])
		if err != nil {
			return nil, err
		}

		spec.Filter[name] = predicate
	}

	return spec, nil
}

func parsePagination(params map[string][]string, spec *types.QuerySpec) error {
	rawLimit := first(params, ParamLimit)
	rawPage := first(params, ParamPage)

	if rawLimit == "" {
		return nil
	}

	limit, err := strconv.Atoi(rawLimit)
	if err != nil {
		return types.Errorf(types.ErrInvalidParameter, "limit: %q", rawLimit)
	}

	spec.Limit = clampLimit(limit)

	if rawPage == "" {
		return nil
	}

	page, err := strconv.Atoi(rawPage)
	if err != nil {
		return types.Errorf(types.ErrInvalidParameter, "page: %q", rawPage)
	}

	if page < 1 {
		page = 1
	}

	spec.Skip = (page - 1) * spec.Limit
	return nil
}

// parseSort splits "field[:asc|desc],..." into ordered sort fields. A later
// duplicate overwrites the direction but keeps the first occurrence's slot.
func parseSort(raw string) []types.SortField {
	segments := strings.Split(raw, ",")
	fields := make([]types.SortField, 0, len(segments))
	index := make(map[string]int, len(segments))

	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		name := segment
		direction := types.SortAsc

		if colon := strings.IndexByte(segment, ':'); colon >= 0 {
			name = segment[:colon]
			if strings.EqualFold(segment[colon+1:], "desc") {
				direction = types.SortDesc
			}
		}

		if name == "" {
			continue
		}

		if pos, seen := index[name]; seen {
			fields[pos].Direction = direction
			continue
		}

		index[name] = len(fields)
		fields = append(fields, types.SortField{Field: name, Direction: direction})
	}

	return fields
}

func parseProjection(raw string) []string {
	tokens := strings.Split(raw, ",")
	projection := make([]string, 0, len(tokens))

	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token != "" {
			projection = append(projection, token)
		}
	}

	return projection
}

func parsePredicate(field, value string) (types.Predicate, error) {
	for _, candidate := range operatorPrefixes {
		if !strings.HasPrefix(value, candidate.prefix) {
			continue
		}

		operand := value[len(candidate.prefix):]

		if candidate.op == types.OpRegex {
			return types.Regex(operand), nil
		}

		if candidate.numeric {
			number, err := strconv.ParseFloat(operand, 64)
			if err != nil {
				return types.Predicate{}, types.Errorf(types.ErrInvalidParameter,
					"%s: %s expects a number, got %q", field, candidate.op, operand)
			}
			return types.Predicate{Op: candidate.op, Value: number}, nil
		}

		return types.Predicate{Op: candidate.op, Value: coerceScalar(operand)}, nil
	}

	if strings.Contains(value, ",") {
		tokens := strings.Split(value, ",")
		values := make([]interface{}, 0, len(tokens))
		for _, token := range tokens {
			token = strings.TrimSpace(token)
			if token != "" {
				values = append(values, coerceScalar(token))
			}
		}
		return types.In(values...), nil
	}

	return types.Eq(coerceScalar(value)), nil
}

// coerceScalar maps numeric- and boolean-looking strings to their typed
// values so equality predicates line up with documents decoded from JSON.
func coerceScalar(value string) interface{} {
	if number, err := strconv.ParseFloat(value, 64); err == nil {
		return number
	}

	switch value {
	case "true":
		return true
	case "false":
		return false
	}

	return value
}

func clampLimit(limit int) int {
	if limit < MinLimit {
		return MinLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func isReserved(name string) bool {
	switch name {
	case ParamPage, ParamLimit, ParamSort, ParamFields:
		return true
	}
	return false
}

func first(params map[string][]string, name string) string {
	if values, ok := params[name]; ok && len(values) > 0 {
		return values[0]
	}
	return ""
}
