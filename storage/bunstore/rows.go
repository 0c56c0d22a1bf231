package bunstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-repository-core/record"
)

// recordRow is the relational shape of a record. Every collection is a table
// with these columns; caller-owned fields live in the JSON attributes column.
type recordRow struct {
	bun.BaseModel `bun:"table:records,alias:r"`

	ID             string         `bun:"id,pk"`
	TenantID       string         `bun:"tenant_id"`
	IsTestData     bool           `bun:"is_test_data"`
	CreatedAt      time.Time      `bun:"created_at"`
	LastModifiedAt time.Time      `bun:"last_modified_at"`
	DeletedAt      *time.Time     `bun:"deleted_at"`
	Version        int64          `bun:"version"`
	CreatedBy      string         `bun:"created_by"`
	Attributes     map[string]any `bun:"attributes"`
}

func toRow(r record.Record) *recordRow {
	row := &recordRow{
		ID:             r.ID,
		TenantID:       r.TenantID,
		IsTestData:     r.IsTestData,
		CreatedAt:      r.CreatedAt.UTC(),
		LastModifiedAt: r.LastModifiedAt.UTC(),
		Version:        r.Version,
		CreatedBy:      r.CreatedBy,
		Attributes:     r.Attributes,
	}
	if r.DeletedAt != nil {
		t := r.DeletedAt.UTC()
		row.DeletedAt = &t
	}
	return row
}

func (row *recordRow) toRecord() record.Record {
	r := record.Record{
		ID:             row.ID,
		TenantID:       row.TenantID,
		IsTestData:     row.IsTestData,
		CreatedAt:      row.CreatedAt.UTC(),
		LastModifiedAt: row.LastModifiedAt.UTC(),
		Version:        row.Version,
		CreatedBy:      row.CreatedBy,
		Attributes:     row.Attributes,
	}
	if row.DeletedAt != nil {
		t := row.DeletedAt.UTC()
		r.DeletedAt = &t
	}
	return r
}

type outboxRow struct {
	bun.BaseModel `bun:"table:outbox,alias:o"`

	ID                    string         `bun:"id,pk"`
	TenantID              string         `bun:"tenant_id"`
	AggregateID           string         `bun:"aggregate_id"`
	AggregateType         string         `bun:"aggregate_type"`
	EventType             string         `bun:"event_type"`
	Topic                 string         `bun:"topic"`
	Payload               []byte         `bun:"payload"`
	AdditionalFieldValues map[string]any `bun:"additional_field_values"`
	ExpireAt              time.Time      `bun:"expire_at"`
	EventOccurredAt       time.Time      `bun:"event_occurred_at"`
	CreatedAt             time.Time      `bun:"created_at"`
}

func toOutboxRow(r record.OutboxRecord) outboxRow {
	return outboxRow{
		ID:                    r.ID,
		TenantID:              r.TenantID,
		AggregateID:           r.AggregateID,
		AggregateType:         r.AggregateType,
		EventType:             string(r.EventType),
		Topic:                 r.Topic,
		Payload:               r.Payload,
		AdditionalFieldValues: r.AdditionalFieldValues,
		ExpireAt:              r.ExpireAt.UTC(),
		EventOccurredAt:       r.EventOccurredAt.UTC(),
		CreatedAt:             r.CreatedAt.UTC(),
	}
}

func (row outboxRow) toRecord() record.OutboxRecord {
	return record.OutboxRecord{
		ID:                    row.ID,
		TenantID:              row.TenantID,
		AggregateID:           row.AggregateID,
		AggregateType:         row.AggregateType,
		EventType:             record.EventType(row.EventType),
		Topic:                 row.Topic,
		Payload:               row.Payload,
		AdditionalFieldValues: row.AdditionalFieldValues,
		ExpireAt:              row.ExpireAt.UTC(),
		EventOccurredAt:       row.EventOccurredAt.UTC(),
		CreatedAt:             row.CreatedAt.UTC(),
	}
}
