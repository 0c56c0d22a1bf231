package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Mapper translates between a domain value and its Record. Implementations
// must preserve every field and tolerate unknown ones.
type Mapper[D any] interface {
	ToRecord(d D) (Record, error)
	FromRecord(r Record) (D, error)
}

// Meta is an embeddable struct giving a domain type the bookkeeping fields
// under the JSON names JSONMapper expects.
type Meta struct {
	ID             string     `json:"id,omitempty"`
	TenantID       string     `json:"tenantId,omitempty"`
	IsTestData     bool       `json:"isTestData,omitempty"`
	CreatedAt      time.Time  `json:"createdAt,omitzero"`
	LastModifiedAt time.Time  `json:"lastModifiedAt,omitzero"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
	Version        int64      `json:"version,omitempty"`
	CreatedBy      string     `json:"createdBy,omitempty"`
}

// JSONMapper maps a domain value through its JSON object form. Bookkeeping
// keys become Record fields; every other key becomes an attribute. Empty
// values (null, "", empty arrays and objects) are dropped, so a sparse domain
// value acts as a partial update.
type JSONMapper[D any] struct{}

var _ Mapper[struct{}] = JSONMapper[struct{}]{}

// ToRecord implements Mapper.
func (JSONMapper[D]) ToRecord(d D) (Record, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return Record{}, fmt.Errorf("record: encode domain value: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Record{}, fmt.Errorf("record: domain value must encode as a JSON object: %w", err)
	}

	var r Record
	for k, v := range fields {
		if isEmpty(v) {
			continue
		}
		if !IsBookkeeping(k) {
			if r.Attributes == nil {
				r.Attributes = make(map[string]any, len(fields))
			}
			r.Attributes[k] = v
			continue
		}
		if err := setFromJSON(&r, k, v); err != nil {
			return Record{}, err
		}
	}
	return r, nil
}

// FromRecord implements Mapper.
func (JSONMapper[D]) FromRecord(r Record) (D, error) {
	var d D
	fields := make(map[string]any, len(r.Attributes)+8)
	for k, v := range r.Attributes {
		fields[k] = v
	}
	fields[FieldID] = r.ID
	if r.TenantID != "" {
		fields[FieldTenantID] = r.TenantID
	}
	if r.IsTestData {
		fields[FieldIsTestData] = true
	}
	if !r.CreatedAt.IsZero() {
		fields[FieldCreatedAt] = r.CreatedAt
	}
	if !r.LastModifiedAt.IsZero() {
		fields[FieldLastModifiedAt] = r.LastModifiedAt
	}
	if r.DeletedAt != nil {
		fields[FieldDeletedAt] = *r.DeletedAt
	}
	if r.Version != 0 {
		fields[FieldVersion] = r.Version
	}
	if r.CreatedBy != "" {
		fields[FieldCreatedBy] = r.CreatedBy
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return d, fmt.Errorf("record: encode record %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("record: decode record %s: %w", r.ID, err)
	}
	return d, nil
}

func setFromJSON(r *Record, field string, v any) error {
	switch field {
	case FieldCreatedAt, FieldLastModifiedAt, FieldDeletedAt:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("record: field %s must be an RFC 3339 string", field)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("record: field %s: %w", field, err)
		}
		if t.IsZero() {
			return nil
		}
		return r.Set(field, t.UTC())
	case FieldIsTestData:
		switch b := v.(type) {
		case bool:
			r.IsTestData = b
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return fmt.Errorf("record: field %s: %w", field, err)
			}
			r.IsTestData = parsed
		default:
			return fmt.Errorf("record: field %s expects bool, got %T", field, v)
		}
		return nil
	}
	return r.Set(field, v)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
