package database

import (
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/saiset-co/sai-docstore/types"
)

// fieldValue resolves a possibly dotted path inside a document.
func fieldValue(doc map[string]interface{}, path string) (interface{}, bool) {
	if !strings.Contains(path, ".") {
		value, ok := doc[path]
		return value, ok
	}

	var current interface{} = doc
	for _, part := range strings.Split(path, ".") {
		asMap, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = asMap[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

// compareValues orders two scalars; numbers compare numerically, everything
// else falls back to string comparison. The second result is false when the
// values are not comparable.
func compareValues(a, b interface{}) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}

	return 0, false
}

func scalarEquals(a, b interface{}) bool {
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}

	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		return ab == bb
	}

	if a == nil || b == nil {
		return a == nil && b == nil
	}

	// Maps and slices are not comparable with ==; filters built from JSON
	// bodies carry them as equality operands.
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return reflect.DeepEqual(a, b)
	}

	return a == b
}

func evalPredicate(value interface{}, present bool, predicate types.Predicate) bool {
	switch predicate.Op {
	case types.OpEq:
		return present && scalarEquals(value, predicate.Value)
	case types.OpNe:
		return !present || !scalarEquals(value, predicate.Value)
	case types.OpGt:
		cmp, ok := comparedWith(value, present, predicate.Value)
		return ok && cmp > 0
	case types.OpGte:
		cmp, ok := comparedWith(value, present, predicate.Value)
		return ok && cmp >= 0
	case types.OpLt:
		cmp, ok := comparedWith(value, present, predicate.Value)
		return ok && cmp < 0
	case types.OpLte:
		cmp, ok := comparedWith(value, present, predicate.Value)
		return ok && cmp <= 0
	case types.OpIn:
		if !present {
			return false
		}
		for _, candidate := range predicate.Values {
			if scalarEquals(value, candidate) {
				return true
			}
		}
		return false
	case types.OpRegex:
		if !present {
			return false
		}
		str, ok := value.(string)
		if !ok {
			return false
		}
		matched, err := regexp.MatchString(insensitivePattern(predicate.Value), str)
		return err == nil && matched
	}

	return false
}

func comparedWith(value interface{}, present bool, against interface{}) (int, bool) {
	if !present {
		return 0, false
	}
	return compareValues(value, against)
}

func matchFilter(doc map[string]interface{}, filter map[string]types.Predicate) bool {
	for field, predicate := range filter {
		value, present := fieldValue(doc, field)
		if !evalPredicate(value, present, predicate) {
			return false
		}
	}
	return true
}

// insensitivePattern forces case-insensitive matching unless the pattern
// already carries inline flags.
func insensitivePattern(value interface{}) string {
	pattern, _ := value.(string)
	if strings.HasPrefix(pattern, "(?") {
		return pattern
	}
	return "(?i)" + pattern
}

// sortDocuments orders docs by the declared sort fields, earlier fields
// taking precedence. The sort is stable so equal runs keep their input order.
func sortDocuments(docs []map[string]interface{}, fields []types.SortField) {
	if len(fields) == 0 {
		return
	}

	sort.SliceStable(docs, func(i, j int) bool {
		for _, sf := range fields {
			av, _ := fieldValue(docs[i], sf.Field)
			bv, _ := fieldValue(docs[j], sf.Field)

			cmp, ok := compareValues(av, bv)
			if !ok || cmp == 0 {
				continue
			}

			if sf.Direction == types.SortDesc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// projectDocument keeps only the requested fields. The identity field always
// survives projection so callers can address the document afterwards.
func projectDocument(doc map[string]interface{}, projection []string) map[string]interface{} {
	if len(projection) == 0 {
		return doc
	}

	projected := make(map[string]interface{}, len(projection)+1)
	if id, ok := doc[types.FieldInternalID]; ok {
		projected[types.FieldInternalID] = id
	}

	for _, field := range projection {
		if value, ok := doc[field]; ok {
			projected[field] = value
		}
	}

	return projected
}

func paginate(docs []map[string]interface{}, skip, limit int) []map[string]interface{} {
	if skip > 0 {
		if skip >= len(docs) {
			return nil
		}
		docs = docs[skip:]
	}

	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}

	return docs
}

func deepCopyMap(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for key, value := range src {
		dst[key] = deepCopyValue(value)
	}
	return dst
}

func deepCopyValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		return deepCopyMap(typed)
	case []interface{}:
		copied := make([]interface{}, len(typed))
		for i, item := range typed {
			copied[i] = deepCopyValue(item)
		}
		return copied
	default:
		return value
	}
}
