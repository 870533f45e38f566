package types

type PredicateOp int

const (
	OpEq PredicateOp = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpRegex
)

func (op PredicateOp) String() string {
	switch op {
	case OpEq:
		return "eq"
	case OpNe:
		return "ne"
	case OpGt:
		return "gt"
	case OpGte:
		return "gte"
	case OpLt:
		return "lt"
	case OpLte:
		return "lte"
	case OpIn:
		return "in"
	case OpRegex:
		return "regex"
	default:
		return "unknown"
	}
}

// Predicate is one parsed filter condition. Values holds the candidates for
// OpIn; Value holds the comparand for every other op.
type Predicate struct {
	Op     PredicateOp   `json:"op"`
	Value  interface{}   `json:"value,omitempty"`
	Values []interface{} `json:"values,omitempty"`
}

type SortDirection int

const (
	SortAsc  SortDirection = 1
	SortDesc SortDirection = -1
)

type SortField struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// QuerySpec is the structured form of a list request: filter, sort order
// (slice order is the tie-break order), pagination and projection.
// Limit of zero means unbounded.
type QuerySpec struct {
	Filter     map[string]Predicate `json:"filter,omitempty"`
	Sort       []SortField          `json:"sort,omitempty"`
	Skip       int                  `json:"skip"`
	Limit      int                  `json:"limit"`
	Projection []string             `json:"projection,omitempty"`
}

func Eq(value interface{}) Predicate  { return Predicate{Op: OpEq, Value: value} }
func Ne(value interface{}) Predicate  { return Predicate{Op: OpNe, Value: value} }
func Gt(value interface{}) Predicate  { return Predicate{Op: OpGt, Value: value} }
func Gte(value interface{}) Predicate { return Predicate{Op: OpGte, Value: value} }
func Lt(value interface{}) Predicate  { return Predicate{Op: OpLt, Value: value} }
func Lte(value interface{}) Predicate { return Predicate{Op: OpLte, Value: value} }
func In(values ...interface{}) Predicate {
	return Predicate{Op: OpIn, Values: values}
}
func Regex(pattern string) Predicate { return Predicate{Op: OpRegex, Value: pattern} }
