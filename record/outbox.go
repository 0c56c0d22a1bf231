package record

import "time"

// EventType classifies the change an outbox record describes. The three
// constants are the types derived from a record; callers may pass any other
// non-empty name, such as "note.imported".
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// DeriveEventType classifies r from its timestamps: CREATE when createdAt and
// lastModifiedAt are equal, DELETE when deletedAt is set, UPDATE otherwise.
func DeriveEventType(r Record) EventType {
	if r.CreatedAt.Equal(r.LastModifiedAt) {
		return EventCreate
	}
	if r.DeletedAt != nil {
		return EventDelete
	}
	return EventUpdate
}

// OutboxRecord describes one committed change for an external relay. It is
// written only alongside the mutation it describes and never modified.
type OutboxRecord struct {
	ID                    string
	TenantID              string
	AggregateID           string
	AggregateType         string
	EventType             EventType
	Topic                 string
	Payload               []byte
	AdditionalFieldValues map[string]any
	ExpireAt              time.Time
	EventOccurredAt       time.Time
	CreatedAt             time.Time
}

// BulkResult reports how a bulk upsert partitioned its batch. The two sets
// are disjoint.
type BulkResult struct {
	InsertIDs []string
	UpsertIDs []string
}

// All returns every id touched by the batch, inserts first.
func (b BulkResult) All() []string {
	out := make([]string, 0, len(b.InsertIDs)+len(b.UpsertIDs))
	out = append(out, b.InsertIDs...)
	return append(out, b.UpsertIDs...)
}
