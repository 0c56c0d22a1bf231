// Package query holds the storage-neutral filter, update and sort model, the
// Augmenter that injects tenant, soft delete and bookkeeping clauses, and a
// reference evaluator shared by the storage backends.
package query

import (
	"github.com/goliatone/go-repository-core/record"
)

// Op is a comparison operator.
type Op string

const (
	OpEq      Op = "eq"
	OpNe      Op = "ne"
	OpIn      Op = "in"
	OpGt      Op = "gt"
	OpGte     Op = "gte"
	OpLt      Op = "lt"
	OpLte     Op = "lte"
	OpNull    Op = "null"
	OpNotNull Op = "notnull"
)

// Condition compares one field against a value. In expects a []any value;
// Null and NotNull ignore it.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions. The zero Filter matches everything.
type Filter struct {
	Conditions []Condition
}

// Where builds a Filter from conditions.
func Where(conds ...Condition) Filter {
	return Filter{Conditions: conds}
}

// And returns a new Filter with conds appended.
func (f Filter) And(conds ...Condition) Filter {
	out := make([]Condition, 0, len(f.Conditions)+len(conds))
	out = append(out, f.Conditions...)
	return Filter{Conditions: append(out, conds...)}
}

// Merge returns the conjunction of f and other.
func (f Filter) Merge(other Filter) Filter {
	return f.And(other.Conditions...)
}

func Eq(field string, v any) Condition  { return Condition{Field: field, Op: OpEq, Value: v} }
func Ne(field string, v any) Condition  { return Condition{Field: field, Op: OpNe, Value: v} }
func Gt(field string, v any) Condition  { return Condition{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v any) Condition { return Condition{Field: field, Op: OpGte, Value: v} }
func Lt(field string, v any) Condition  { return Condition{Field: field, Op: OpLt, Value: v} }
func Lte(field string, v any) Condition { return Condition{Field: field, Op: OpLte, Value: v} }
func IsNull(field string) Condition     { return Condition{Field: field, Op: OpNull} }
func NotNull(field string) Condition    { return Condition{Field: field, Op: OpNotNull} }

// In matches any of values.
func In[T any](field string, values ...T) Condition {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Condition{Field: field, Op: OpIn, Value: vs}
}

// ByID matches a single record id.
func ByID(id string) Filter {
	return Where(Eq(record.FieldID, id))
}

// Between is the inclusive range [from, to] on field.
func Between(field string, from, to any) []Condition {
	return []Condition{Gte(field, from), Lte(field, to)}
}

// SortField is one parsed sort key.
type SortField struct {
	Field string
	Desc  bool
}

// Page bounds a multi-record read. Limit 0 means unbounded.
type Page struct {
	Offset int
	Limit  int
	Sort   []string
}

// Validate rejects negative bounds.
func (p Page) Validate() error {
	if p.Offset < 0 {
		return Invalid("offset", "must not be negative")
	}
	if p.Limit < 0 {
		return Invalid("limit", "must not be negative")
	}
	return nil
}

// FindOptions are the resolved paging and ordering handed to a backend.
type FindOptions struct {
	Offset int
	Limit  int
	Sort   []SortField
}
