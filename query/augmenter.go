package query

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-core/ambient"
	"github.com/goliatone/go-repository-core/pkg/clock"
	"github.com/goliatone/go-repository-core/record"
)

// DefaultSortableFields are always accepted by ParseSort.
var DefaultSortableFields = []string{
	record.FieldID,
	record.FieldCreatedAt,
	record.FieldLastModifiedAt,
	record.FieldDeletedAt,
}

// insertOnly fields are owned by the insert branch and never set by an update.
var insertOnly = []string{record.FieldCreatedAt, record.FieldCreatedBy}

// Augmenter adds the clauses every read and write of one collection depends
// on: tenant scoping, soft delete visibility and bookkeeping updates.
type Augmenter struct {
	tenantIndependent bool
	sortable          map[string]struct{}
	clock             clock.Clock
}

// NewAugmenter builds an Augmenter. sortable extends DefaultSortableFields.
func NewAugmenter(tenantIndependent bool, sortable []string, clk clock.Clock) *Augmenter {
	if clk == nil {
		clk = clock.System{}
	}
	allowed := make(map[string]struct{}, len(sortable)+len(DefaultSortableFields))
	for _, f := range DefaultSortableFields {
		allowed[f] = struct{}{}
	}
	for _, f := range sortable {
		allowed[f] = struct{}{}
	}
	return &Augmenter{tenantIndependent: tenantIndependent, sortable: allowed, clock: clk}
}

// Now returns the timestamp stamped on bookkeeping fields.
func (a *Augmenter) Now() time.Time {
	return a.clock.Now()
}

// TenantIndependent reports whether reads skip tenant scoping.
func (a *Augmenter) TenantIndependent() bool {
	return a.tenantIndependent
}

// Tenant returns the ambient tenant. A tenant scoped collection without an
// ambient tenant is a validation error.
func (a *Augmenter) Tenant(ctx context.Context) (string, error) {
	tenant := ambient.From(ctx).TenantID
	if !a.tenantIndependent && tenant == "" {
		return "", Invalid(record.FieldTenantID, "no tenant in context for a tenant scoped collection")
	}
	return tenant, nil
}

// ReadFilter ANDs f with the tenant clause (unless the collection is tenant
// independent) and the live-record clause (unless includeDeleted).
func (a *Augmenter) ReadFilter(ctx context.Context, f Filter, includeDeleted bool) (Filter, error) {
	var extra []Condition
	if !a.tenantIndependent {
		tenant, err := a.Tenant(ctx)
		if err != nil {
			return Filter{}, err
		}
		extra = append(extra, Eq(record.FieldTenantID, tenant))
	}
	if !includeDeleted {
		extra = append(extra, IsNull(record.FieldDeletedAt))
	}
	return f.And(extra...), nil
}

// WriteUpdate adds the version increment and lastModifiedAt to u. For an
// upsert it also adds the insert-only createdAt, createdBy and isTestData.
//
// Fields owned by a specific clause are removed from Set and Unset after the
// clauses are built, so the result never double-increments version or
// rewrites createdAt regardless of what the caller passed.
func (a *Augmenter) WriteUpdate(ctx context.Context, u Update, upsert bool) Update {
	out := u.Clone()
	if out.Set == nil {
		out.Set = map[string]any{}
	}
	if out.Inc == nil {
		out.Inc = map[string]int64{}
	}

	now := a.clock.Now()
	out.Inc[record.FieldVersion] = 1
	out.Set[record.FieldLastModifiedAt] = now

	if upsert {
		amb := ambient.From(ctx)
		if out.SetOnInsert == nil {
			out.SetOnInsert = map[string]any{}
		}
		out.SetOnInsert[record.FieldCreatedAt] = now
		out.SetOnInsert[record.FieldCreatedBy] = amb.Caller()
		if _, ok := out.Set[record.FieldIsTestData]; !ok {
			out.SetOnInsert[record.FieldIsTestData] = amb.IsTestData
		}
	}

	return Normalize(out)
}

// Normalize applies the precedence rule: a field named in Inc or SetOnInsert
// is dropped from Set and Unset. id and the insert-only fields can never be
// set by an update.
func Normalize(u Update) Update {
	owned := make(map[string]struct{}, len(u.Inc)+len(u.SetOnInsert)+len(insertOnly)+1)
	for f := range u.Inc {
		owned[f] = struct{}{}
	}
	for f := range u.SetOnInsert {
		owned[f] = struct{}{}
	}
	for _, f := range insertOnly {
		owned[f] = struct{}{}
	}
	owned[record.FieldID] = struct{}{}

	for f := range owned {
		delete(u.Set, f)
	}
	if len(u.Unset) > 0 {
		kept := u.Unset[:0:0]
		for _, f := range u.Unset {
			if _, ok := owned[f]; !ok {
				kept = append(kept, f)
			}
		}
		u.Unset = kept
	}
	return u
}

// ParseSort turns tokens like "-createdAt" into sort fields. A leading "-"
// means descending. Fields outside the allow-list are rejected.
func (a *Augmenter) ParseSort(tokens []string) ([]SortField, error) {
	out := make([]SortField, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		sf := SortField{Field: tok}
		if strings.HasPrefix(tok, "-") {
			sf = SortField{Field: strings.TrimSpace(tok[1:]), Desc: true}
		}
		if _, ok := a.sortable[sf.Field]; !ok || sf.Field == "" {
			return nil, Invalid("sort", "field %q is not sortable", sf.Field)
		}
		out = append(out, sf)
	}
	return out, nil
}

// FindOptions validates p and resolves its sort tokens.
func (a *Augmenter) FindOptions(p Page) (FindOptions, error) {
	if err := p.Validate(); err != nil {
		return FindOptions{}, err
	}
	sort, err := a.ParseSort(p.Sort)
	if err != nil {
		return FindOptions{}, err
	}
	return FindOptions{Offset: p.Offset, Limit: p.Limit, Sort: sort}, nil
}
