// Package storage defines the contract between the generic repository and a
// concrete store. A backend is implemented once per storage engine; the
// repository and outbox coordinator only ever see these interfaces.
package storage

import (
	"context"
	"errors"

	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/record"
)

var (
	// ErrUnavailable wraps failures reaching the underlying store.
	ErrUnavailable = errors.New("storage: backend unavailable")
	// ErrDuplicateKey is returned when an insert collides with an existing id.
	ErrDuplicateKey = errors.New("storage: duplicate key")
	// ErrWriteConflict is returned when a record changed between read and write.
	ErrWriteConflict = errors.New("storage: write conflict")
	// ErrSessionClosed is returned when a committed or aborted session is used.
	ErrSessionClosed = errors.New("storage: session closed")
)

// UpdateResult reports the outcome of a single find-and-update.
type UpdateResult struct {
	// Record is the matched or inserted record after the update.
	Record record.Record
	// Matched is true when an existing record was updated.
	Matched bool
	// Inserted is true when an upsert created the record.
	Inserted bool
}

// Found reports whether the update touched a record.
func (r UpdateResult) Found() bool {
	return r.Matched || r.Inserted
}

// WriteKind selects the shape of a bulk operation.
type WriteKind int

const (
	WriteInsert WriteKind = iota
	WriteUpdate
)

// WriteOp is one member of a bulk write.
type WriteOp struct {
	Kind WriteKind
	// Record is inserted by WriteInsert.
	Record record.Record
	// Filter and Update drive WriteUpdate; at most one record is updated.
	Filter query.Filter
	Update query.Update
}

// BulkWriteResult lists the ids affected by a bulk write.
type BulkWriteResult struct {
	InsertedIDs []string
	MatchedIDs  []string
}

// Executor runs record and outbox operations against one collection at a
// time. Both a Backend (auto commit) and a Session implement it.
type Executor interface {
	FindOne(ctx context.Context, collection string, f query.Filter) (record.Record, bool, error)
	Find(ctx context.Context, collection string, f query.Filter, opts query.FindOptions) ([]record.Record, error)
	Count(ctx context.Context, collection string, f query.Filter) (int64, error)
	Insert(ctx context.Context, collection string, recs ...record.Record) error
	// Update applies u to the first record matching f and returns it as it is
	// after the update.
	Update(ctx context.Context, collection string, f query.Filter, u query.Update, opts query.UpdateOptions) (UpdateResult, error)
	// BulkWrite applies ops in order as one batch.
	BulkWrite(ctx context.Context, collection string, ops []WriteOp) (BulkWriteResult, error)
	InsertOutbox(ctx context.Context, recs ...record.OutboxRecord) error
	FindOutbox(ctx context.Context, aggregateID string) ([]record.OutboxRecord, error)
}

// Session is a transaction scoped to one logical write. Abort is a no-op on
// a session that already finished.
type Session interface {
	Executor
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Backend is a storage engine.
type Backend interface {
	Executor
	// Begin opens a session. Sessions are never shared between calls.
	Begin(ctx context.Context) (Session, error)
	// Name identifies the backend in logs and metrics.
	Name() string
	// AtomicUpsert reports whether Update with Upsert is a single atomic
	// conditional write. When false, concurrent upserts on the same filter
	// can race.
	AtomicUpsert() bool
	Close() error
}
