package bunstore

import (
	"math"
	"regexp"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/record"
)

var columns = map[string]string{
	record.FieldID:             "id",
	record.FieldTenantID:       "tenant_id",
	record.FieldIsTestData:     "is_test_data",
	record.FieldCreatedAt:      "created_at",
	record.FieldLastModifiedAt: "last_modified_at",
	record.FieldDeletedAt:      "deleted_at",
	record.FieldVersion:        "version",
	record.FieldCreatedBy:      "created_by",
}

var attributeName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// translator renders filters and sort keys for one SQL dialect.
type translator struct {
	dialect dialect.Name
}

// fieldExpr returns the SQL expression addressing field. Attributes are read
// out of the JSON column; sample is the value the expression is compared to
// and picks the cast Postgres needs.
func (t translator) fieldExpr(field string, sample any) (string, []any, error) {
	if col, ok := columns[field]; ok {
		return "?", []any{bun.Ident(col)}, nil
	}
	if !attributeName.MatchString(field) {
		return "", nil, query.Invalid(field, "attribute name is not addressable")
	}

	switch t.dialect {
	case dialect.PG:
		switch sample.(type) {
		case nil:
			return "(?->?)", []any{bun.Ident("attributes"), field}, nil
		case bool:
			return "(?->>?)::boolean", []any{bun.Ident("attributes"), field}, nil
		case string:
			return "(?->>?)", []any{bun.Ident("attributes"), field}, nil
		case time.Time:
			return "(?->>?)::timestamptz", []any{bun.Ident("attributes"), field}, nil
		default:
			return "(?->>?)::numeric", []any{bun.Ident("attributes"), field}, nil
		}
	case dialect.MySQL:
		if _, ok := sample.(string); ok {
			return "JSON_UNQUOTE(JSON_EXTRACT(?, ?))", []any{bun.Ident("attributes"), "$." + field}, nil
		}
		return "JSON_EXTRACT(?, ?)", []any{bun.Ident("attributes"), "$." + field}, nil
	default:
		return "json_extract(?, ?)", []any{bun.Ident("attributes"), "$." + field}, nil
	}
}

func sampleOf(c query.Condition) any {
	if values, ok := c.Value.([]any); ok {
		if len(values) == 0 {
			return nil
		}
		return values[0]
	}
	return c.Value
}

func where(expr string, args ...any) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where(expr, args...)
	}
}

// criteria translates a filter into select criteria.
func (t translator) criteria(f query.Filter) ([]repository.SelectCriteria, error) {
	out := make([]repository.SelectCriteria, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		expr, args, err := t.fieldExpr(c.Field, sampleOf(c))
		if err != nil {
			return nil, err
		}
		switch c.Op {
		case query.OpNull:
			out = append(out, where(expr+" IS NULL", args...))
		case query.OpNotNull:
			out = append(out, where(expr+" IS NOT NULL", args...))
		case query.OpEq:
			if c.Value == nil {
				out = append(out, where(expr+" IS NULL", args...))
				continue
			}
			out = append(out, where(expr+" = ?", append(args, c.Value)...))
		case query.OpNe:
			if c.Value == nil {
				out = append(out, where(expr+" IS NOT NULL", args...))
				continue
			}
			out = append(out, where("("+expr+" IS NULL OR "+expr+" <> ?)", append(append(args, args...), c.Value)...))
		case query.OpIn:
			values, _ := c.Value.([]any)
			if len(values) == 0 {
				out = append(out, where("1 = 0"))
				continue
			}
			out = append(out, where(expr+" IN (?)", append(args, bun.In(values))...))
		case query.OpGt:
			out = append(out, where(expr+" > ?", append(args, c.Value)...))
		case query.OpGte:
			out = append(out, where(expr+" >= ?", append(args, c.Value)...))
		case query.OpLt:
			out = append(out, where(expr+" < ?", append(args, c.Value)...))
		case query.OpLte:
			out = append(out, where(expr+" <= ?", append(args, c.Value)...))
		default:
			return nil, query.Invalid(c.Field, "unsupported operator %q", c.Op)
		}
	}
	return out, nil
}

// ordering translates sort, offset and limit. id is appended as the final
// key so pages are deterministic.
func (t translator) ordering(opts query.FindOptions) ([]repository.SelectCriteria, error) {
	out := make([]repository.SelectCriteria, 0, len(opts.Sort)+3)
	for _, sf := range opts.Sort {
		expr, args, err := t.fieldExpr(sf.Field, nil)
		if err != nil {
			return nil, err
		}
		dir := " ASC"
		if sf.Desc {
			dir = " DESC"
		}
		out = append(out, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr(expr+dir, args...)
		})
	}
	out = append(out, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.OrderExpr("? ASC", bun.Ident("id"))
	})
	limit := opts.Limit
	if limit == 0 && opts.Offset > 0 {
		// MySQL and SQLite reject OFFSET without LIMIT.
		limit = math.MaxInt32
	}
	if limit > 0 {
		out = append(out, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Limit(limit)
		})
	}
	if opts.Offset > 0 {
		out = append(out, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Offset(opts.Offset)
		})
	}
	return out, nil
}

func apply(q *bun.SelectQuery, criteria ...[]repository.SelectCriteria) *bun.SelectQuery {
	for _, group := range criteria {
		for _, c := range group {
			q = c(q)
		}
	}
	return q
}
