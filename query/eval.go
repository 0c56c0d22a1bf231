package query

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-repository-core/record"
)

// Compare orders two field values. It reports false when the values are not
// comparable. A missing value (nil) sorts before everything else.
func Compare(a, b any) (int, bool) {
	switch {
	case a == nil && b == nil:
		return 0, true
	case a == nil:
		return -1, true
	case b == nil:
		return 1, true
	}

	if ai, ok := record.AsInt64(a); ok {
		if bi, ok := record.AsInt64(b); ok {
			return cmpOrdered(ai, bi), true
		}
	}
	if af, ok := record.AsFloat64(a); ok {
		if bf, ok := record.AsFloat64(b); ok {
			return cmpOrdered(af, bf), true
		}
		return 0, false
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, true
			case !av:
				return -1, true
			default:
				return 1, true
			}
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), true
		}
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func equal(a, b any) bool {
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// Match reports whether r satisfies every condition of f.
func Match(r record.Record, f Filter) bool {
	for _, c := range f.Conditions {
		if !matchCondition(r, c) {
			return false
		}
	}
	return true
}

func matchCondition(r record.Record, c Condition) bool {
	v, ok := r.Get(c.Field)
	switch c.Op {
	case OpNull:
		return !ok
	case OpNotNull:
		return ok
	case OpEq:
		if c.Value == nil {
			return !ok
		}
		return ok && equal(v, c.Value)
	case OpNe:
		if c.Value == nil {
			return ok
		}
		return !ok || !equal(v, c.Value)
	case OpIn:
		if !ok {
			return false
		}
		values, _ := c.Value.([]any)
		for _, candidate := range values {
			if equal(v, candidate) {
				return true
			}
		}
		return false
	}

	if !ok {
		return false
	}
	cmp, comparable := Compare(v, c.Value)
	if !comparable {
		return false
	}
	switch c.Op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

// Apply mutates r with u. SetOnInsert clauses apply only when inserting.
func Apply(r *record.Record, u Update, inserting bool) error {
	for f, v := range u.Set {
		if err := r.Set(f, v); err != nil {
			return err
		}
	}
	for _, f := range u.Unset {
		r.Unset(f)
	}
	for f, delta := range u.Inc {
		current := int64(0)
		if v, ok := r.Get(f); ok {
			n, isInt := record.AsInt64(v)
			if !isInt {
				return fmt.Errorf("query: cannot increment non integer field %s", f)
			}
			current = n
		}
		if err := r.Set(f, current+delta); err != nil {
			return err
		}
	}
	if inserting {
		for f, v := range u.SetOnInsert {
			if err := r.Set(f, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Seed builds the record an upsert inserts: the filter's equality values
// become its initial fields.
func Seed(f Filter) (record.Record, error) {
	var r record.Record
	for _, c := range f.Conditions {
		if c.Op != OpEq || c.Value == nil {
			continue
		}
		if err := r.Set(c.Field, c.Value); err != nil {
			return record.Record{}, err
		}
	}
	return r, nil
}

// SortRecords orders recs in place by sort. The sort is stable, so records
// that tie on every key keep their incoming order.
func SortRecords(recs []record.Record, sortBy []SortField) {
	if len(sortBy) == 0 {
		return
	}
	sort.SliceStable(recs, func(i, j int) bool {
		for _, sf := range sortBy {
			a, _ := recs[i].Get(sf.Field)
			b, _ := recs[j].Get(sf.Field)
			c, ok := Compare(a, b)
			if !ok {
				c = strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
			}
			if c == 0 {
				continue
			}
			if sf.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Paginate applies offset and limit to an already ordered slice.
func Paginate(recs []record.Record, offset, limit int) []record.Record {
	if offset >= len(recs) {
		return nil
	}
	recs = recs[offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}
