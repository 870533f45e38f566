package database

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/saiset-co/sai-docstore/types"
)

// runPipeline interprets a caller-supplied aggregation pipeline over already
// fetched documents. Stages use the wire-level operator form the HTTP client
// sends ($match, $sort, $skip, $limit, $project, $count, $group); an unknown
// stage fails the whole pipeline. Multi-key $sort precedence is alphabetical
// by field name, not declaration order: JSON objects arrive as unordered
// maps, so the declared order is already lost at the decoder. Callers who
// need a different precedence chain $sort stages, most significant last.
func runPipeline(docs []map[string]interface{}, pipeline []interface{}) ([]map[string]interface{}, error) {
	current := docs

	for i, raw := range pipeline {
		stage, ok := raw.(map[string]interface{})
		if !ok || len(stage) != 1 {
			return nil, types.Errorf(types.ErrInvalidParameter, "pipeline stage %d must be a single-key object", i)
		}

		var err error
		for name, spec := range stage {
			switch name {
			case "$match":
				current, err = stageMatch(current, spec)
			case "$sort":
				current, err = stageSort(current, spec)
			case "$skip":
				current, err = stageSkip(current, spec)
			case "$limit":
				current, err = stageLimit(current, spec)
			case "$project":
				current, err = stageProject(current, spec)
			case "$count":
				current, err = stageCount(current, spec)
			case "$group":
				current, err = stageGroup(current, spec)
			default:
				err = types.Errorf(types.ErrPipelineStageUnknown, "%s", name)
			}
		}

		if err != nil {
			return nil, types.WrapError(err, fmt.Sprintf("pipeline stage %d", i))
		}
	}

	return current, nil
}

func stageMatch(docs []map[string]interface{}, spec interface{}) ([]map[string]interface{}, error) {
	filter, ok := spec.(map[string]interface{})
	if !ok {
		return nil, types.Errorf(types.ErrInvalidParameter, "$match expects an object")
	}

	matched := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		ok, err := rawMatch(doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, doc)
		}
	}

	return matched, nil
}

// rawMatch evaluates a wire-level filter: scalar values compare by equality,
// object values hold operator conditions.
func rawMatch(doc map[string]interface{}, filter map[string]interface{}) (bool, error) {
	for field, condition := range filter {
		value, present := fieldValue(doc, field)

		operators, isOperators := condition.(map[string]interface{})
		if !isOperators {
			if !present || !scalarEquals(value, condition) {
				return false, nil
			}
			continue
		}

		for op, operand := range operators {
			ok, err := rawOperator(value, present, op, operand)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}

	return true, nil
}

func rawOperator(value interface{}, present bool, op string, operand interface{}) (bool, error) {
	switch op {
	case "$eq":
		return present && scalarEquals(value, operand), nil
	case "$ne":
		return !present || !scalarEquals(value, operand), nil
	case "$gt", "$gte", "$lt", "$lte":
		cmp, ok := comparedWith(value, present, operand)
		if !ok {
			return false, nil
		}
		switch op {
		case "$gt":
			return cmp > 0, nil
		case "$gte":
			return cmp >= 0, nil
		case "$lt":
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case "$in", "$nin":
		candidates, ok := operand.([]interface{})
		if !ok {
			return false, types.Errorf(types.ErrInvalidParameter, "%s expects an array", op)
		}
		found := false
		for _, candidate := range candidates {
			if present && scalarEquals(value, candidate) {
				found = true
				break
			}
		}
		if op == "$in" {
			return found, nil
		}
		return !found, nil
	case "$exists":
		want, _ := operand.(bool)
		return present == want, nil
	case "$regex":
		pattern, ok := operand.(string)
		if !ok {
			return false, types.Errorf(types.ErrInvalidParameter, "$regex expects a string")
		}
		str, ok := value.(string)
		if !ok {
			return false, nil
		}
		matched, err := regexp.MatchString(insensitivePattern(pattern), str)
		if err != nil {
			return false, types.WrapError(err, "invalid $regex pattern")
		}
		return matched, nil
	default:
		return false, types.Errorf(types.ErrInvalidParameter, "unknown operator %s", op)
	}
}

// stageSort applies each sort key as a stable sort, from the least to the
// most significant, so the alphabetically first key dominates. JSON objects
// arrive unordered, which makes the key order the only deterministic choice.
func stageSort(docs []map[string]interface{}, spec interface{}) ([]map[string]interface{}, error) {
	keys, ok := spec.(map[string]interface{})
	if !ok {
		return nil, types.Errorf(types.ErrInvalidParameter, "$sort expects an object")
	}

	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	sort.Strings(names)

	for i := len(names) - 1; i >= 0; i-- {
		direction := types.SortAsc
		if num, ok := toFloat(keys[names[i]]); ok && num < 0 {
			direction = types.SortDesc
		}
		sortDocuments(docs, []types.SortField{{Field: names[i], Direction: direction}})
	}

	return docs, nil
}

func stageSkip(docs []map[string]interface{}, spec interface{}) ([]map[string]interface{}, error) {
	n, ok := toFloat(spec)
	if !ok || n < 0 {
		return nil, types.Errorf(types.ErrInvalidParameter, "$skip expects a non-negative number")
	}
	return paginate(docs, int(n), 0), nil
}

func stageLimit(docs []map[string]interface{}, spec interface{}) ([]map[string]interface{}, error) {
	n, ok := toFloat(spec)
	if !ok || n < 0 {
		return nil, types.Errorf(types.ErrInvalidParameter, "$limit expects a non-negative number")
	}
	return paginate(docs, 0, int(n)), nil
}

func stageProject(docs []map[string]interface{}, spec interface{}) ([]map[string]interface{}, error) {
	fields, ok := spec.(map[string]interface{})
	if !ok {
		return nil, types.Errorf(types.ErrInvalidParameter, "$project expects an object")
	}

	include := make([]string, 0, len(fields))
	exclude := make(map[string]bool, len(fields))

	for name, flag := range fields {
		if truthy(flag) {
			include = append(include, name)
		} else {
			exclude[name] = true
		}
	}

	projected := make([]map[string]interface{}, len(docs))
	for i, doc := range docs {
		if len(include) > 0 {
			projected[i] = projectDocument(doc, include)
			continue
		}

		copied := make(map[string]interface{}, len(doc))
		for key, value := range doc {
			if !exclude[key] {
				copied[key] = value
			}
		}
		projected[i] = copied
	}

	return projected, nil
}

func stageCount(docs []map[string]interface{}, spec interface{}) ([]map[string]interface{}, error) {
	name, ok := spec.(string)
	if !ok || name == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "$count expects a field name")
	}

	return []map[string]interface{}{{name: float64(len(docs))}}, nil
}

type groupAccumulator struct {
	key    map[string]interface{}
	sums   map[string]float64
	counts map[string]int
	mins   map[string]interface{}
	maxs   map[string]interface{}
	order  int
}

func stageGroup(docs []map[string]interface{}, spec interface{}) ([]map[string]interface{}, error) {
	fields, ok := spec.(map[string]interface{})
	if !ok {
		return nil, types.Errorf(types.ErrInvalidParameter, "$group expects an object")
	}

	idExpr, hasID := fields["_id"]
	if !hasID {
		return nil, types.Errorf(types.ErrInvalidParameter, "$group requires _id")
	}

	groups := make(map[string]*groupAccumulator)
	orderCounter := 0

	for _, doc := range docs {
		idValue := evalExpr(doc, idExpr)
		groupKey := fmt.Sprintf("%v", idValue)

		acc, exists := groups[groupKey]
		if !exists {
			acc = &groupAccumulator{
				key:    map[string]interface{}{"_id": idValue},
				sums:   make(map[string]float64),
				counts: make(map[string]int),
				mins:   make(map[string]interface{}),
				maxs:   make(map[string]interface{}),
				order:  orderCounter,
			}
			orderCounter++
			groups[groupKey] = acc
		}

		for name, rawAcc := range fields {
			if name == "_id" {
				continue
			}

			accSpec, ok := rawAcc.(map[string]interface{})
			if !ok || len(accSpec) != 1 {
				return nil, types.Errorf(types.ErrInvalidParameter, "accumulator %s must be a single-operator object", name)
			}

			for op, operand := range accSpec {
				if err := applyAccumulator(acc, doc, name, op, operand); err != nil {
					return nil, err
				}
			}
		}
	}

	results := make([]*groupAccumulator, 0, len(groups))
	for _, acc := range groups {
		results = append(results, acc)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].order < results[j].order })

	out := make([]map[string]interface{}, 0, len(results))
	for _, acc := range results {
		doc := make(map[string]interface{}, len(acc.key)+len(acc.sums))
		doc["_id"] = acc.key["_id"]

		for name, sum := range acc.sums {
			if avgCount, isAvg := acc.counts["avg:"+name]; isAvg {
				if avgCount > 0 {
					doc[name] = sum / float64(avgCount)
				} else {
					doc[name] = 0.0
				}
				continue
			}
			doc[name] = sum
		}
		for name, min := range acc.mins {
			doc[name] = min
		}
		for name, max := range acc.maxs {
			doc[name] = max
		}

		out = append(out, doc)
	}

	return out, nil
}

func applyAccumulator(acc *groupAccumulator, doc map[string]interface{}, name, op string, operand interface{}) error {
	switch op {
	case "$sum":
		value := evalExpr(doc, operand)
		if num, ok := toFloat(value); ok {
			acc.sums[name] += num
		}
	case "$avg":
		value := evalExpr(doc, operand)
		if num, ok := toFloat(value); ok {
			acc.sums[name] += num
			acc.counts["avg:"+name]++
		}
	case "$min":
		value := evalExpr(doc, operand)
		current, exists := acc.mins[name]
		if !exists {
			acc.mins[name] = value
		} else if cmp, ok := compareValues(value, current); ok && cmp < 0 {
			acc.mins[name] = value
		}
	case "$max":
		value := evalExpr(doc, operand)
		current, exists := acc.maxs[name]
		if !exists {
			acc.maxs[name] = value
		} else if cmp, ok := compareValues(value, current); ok && cmp > 0 {
			acc.maxs[name] = value
		}
	default:
		return types.Errorf(types.ErrInvalidParameter, "unknown accumulator %s", op)
	}

	return nil
}

// evalExpr resolves "$field" references against the document; any other
// value is a literal.
func evalExpr(doc map[string]interface{}, expr interface{}) interface{} {
	if ref, ok := expr.(string); ok && strings.HasPrefix(ref, "$") {
		value, _ := fieldValue(doc, ref[1:])
		return value
	}
	return expr
}

func truthy(value interface{}) bool {
	if num, ok := toFloat(value); ok {
		return num != 0
	}
	if b, ok := value.(bool); ok {
		return b
	}
	return false
}
