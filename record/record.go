// Package record defines the persisted shapes handled by the repository core:
// the bookkeeping Record, the Outbox Record and bulk results, plus the Mapper
// that translates domain values to and from Records.
package record

import (
	"fmt"
	"maps"
	"time"
)

// Bookkeeping field names. Any other field name addresses an attribute.
const (
	FieldID             = "id"
	FieldTenantID       = "tenantId"
	FieldIsTestData     = "isTestData"
	FieldCreatedAt      = "createdAt"
	FieldLastModifiedAt = "lastModifiedAt"
	FieldDeletedAt      = "deletedAt"
	FieldVersion        = "version"
	FieldCreatedBy      = "createdBy"
)

var bookkeeping = map[string]struct{}{
	FieldID:             {},
	FieldTenantID:       {},
	FieldIsTestData:     {},
	FieldCreatedAt:      {},
	FieldLastModifiedAt: {},
	FieldDeletedAt:      {},
	FieldVersion:        {},
	FieldCreatedBy:      {},
}

// IsBookkeeping reports whether field names one of the Record's own fields.
func IsBookkeeping(field string) bool {
	_, ok := bookkeeping[field]
	return ok
}

// Record is the persisted shape of every repository entity.
//
// Version starts at 1 and grows by exactly one per successful mutation.
// DeletedAt == nil is the only visibility predicate: soft deleted records
// stay in the store.
type Record struct {
	ID             string
	TenantID       string
	IsTestData     bool
	CreatedAt      time.Time
	LastModifiedAt time.Time
	DeletedAt      *time.Time
	Version        int64
	CreatedBy      string
	Attributes     map[string]any
}

// Deleted reports whether the record is soft deleted.
func (r Record) Deleted() bool {
	return r.DeletedAt != nil
}

// Clone returns a copy whose Attributes map and DeletedAt are not shared.
func (r Record) Clone() Record {
	out := r
	out.Attributes = maps.Clone(r.Attributes)
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		out.DeletedAt = &t
	}
	return out
}

// Get returns the value addressed by field. Missing attributes and a nil
// DeletedAt report false.
func (r Record) Get(field string) (any, bool) {
	switch field {
	case FieldID:
		return r.ID, true
	case FieldTenantID:
		return r.TenantID, true
	case FieldIsTestData:
		return r.IsTestData, true
	case FieldCreatedAt:
		return r.CreatedAt, true
	case FieldLastModifiedAt:
		return r.LastModifiedAt, true
	case FieldDeletedAt:
		if r.DeletedAt == nil {
			return nil, false
		}
		return *r.DeletedAt, true
	case FieldVersion:
		return r.Version, true
	case FieldCreatedBy:
		return r.CreatedBy, true
	}
	v, ok := r.Attributes[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Set assigns v to field, converting to the bookkeeping field's type.
func (r *Record) Set(field string, v any) error {
	switch field {
	case FieldID:
		s, err := asString(field, v)
		if err != nil {
			return err
		}
		r.ID = s
	case FieldTenantID:
		s, err := asString(field, v)
		if err != nil {
			return err
		}
		r.TenantID = s
	case FieldCreatedBy:
		s, err := asString(field, v)
		if err != nil {
			return err
		}
		r.CreatedBy = s
	case FieldIsTestData:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("record: field %s expects bool, got %T", field, v)
		}
		r.IsTestData = b
	case FieldCreatedAt, FieldLastModifiedAt:
		t, ok := asTime(v)
		if !ok || t == nil {
			return fmt.Errorf("record: field %s expects time, got %T", field, v)
		}
		if field == FieldCreatedAt {
			r.CreatedAt = *t
		} else {
			r.LastModifiedAt = *t
		}
	case FieldDeletedAt:
		t, ok := asTime(v)
		if !ok {
			return fmt.Errorf("record: field %s expects time, got %T", field, v)
		}
		r.DeletedAt = t
	case FieldVersion:
		n, ok := AsInt64(v)
		if !ok {
			return fmt.Errorf("record: field %s expects integer, got %T", field, v)
		}
		r.Version = n
	default:
		if r.Attributes == nil {
			r.Attributes = map[string]any{}
		}
		r.Attributes[field] = v
	}
	return nil
}

// Unset clears field. Only attributes and deletedAt can be cleared.
func (r *Record) Unset(field string) {
	if field == FieldDeletedAt {
		r.DeletedAt = nil
		return
	}
	if !IsBookkeeping(field) {
		delete(r.Attributes, field)
	}
}

func asString(field string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("record: field %s expects string, got %T", field, v)
	}
	return s, nil
}

func asTime(v any) (*time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case time.Time:
		return &t, true
	case *time.Time:
		if t == nil {
			return nil, true
		}
		c := *t
		return &c, true
	}
	return nil, false
}
