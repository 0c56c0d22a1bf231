// Package bunstore implements storage.Backend on top of bun, for Postgres,
// MySQL and SQLite.
//
// Every collection is a table with the bookkeeping columns and a JSON
// attributes column. Updates are read-modify-write guarded by the record
// version, so a concurrent writer surfaces as storage.ErrWriteConflict
// instead of a lost update. An upsert is a read followed by an insert and is
// not atomic: two concurrent upserts on the same filter can race, and the
// loser fails with storage.ErrDuplicateKey. AtomicUpsert reports false.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/record"
	"github.com/goliatone/go-repository-core/storage"
)

// DefaultOutboxTable is the outbox table name used unless overridden.
const DefaultOutboxTable = "outbox"

var _ storage.Backend = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithOutboxTable overrides the outbox table name.
func WithOutboxTable(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.outboxTable = name
		}
	}
}

// Store is the bun backed storage.Backend.
type Store struct {
	db          *bun.DB
	outboxTable string
	tr          translator
}

// New wraps db.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{db: db, outboxTable: DefaultOutboxTable}
	for _, opt := range opts {
		opt(s)
	}
	s.tr = translator{dialect: db.Dialect().Name()}
	return s
}

// DB exposes the underlying handle.
func (s *Store) DB() *bun.DB { return s.db }

// Name implements storage.Backend.
func (s *Store) Name() string { return "sql:" + s.tr.dialect.String() }

// AtomicUpsert implements storage.Backend.
func (s *Store) AtomicUpsert() bool { return false }

// Close implements storage.Backend.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) exec(idb bun.IDB) executor {
	return executor{idb: idb, tr: s.tr, outboxTable: s.outboxTable}
}

// Begin implements storage.Backend.
func (s *Store) Begin(ctx context.Context) (storage.Session, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, translateErr(err)
	}
	return &session{tx: tx, executor: s.exec(tx)}, nil
}

// inTx runs fn in its own transaction for operations made of several
// statements.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, e executor) error) error {
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, s.exec(tx))
	})
	return translateErr(err)
}

// FindOne implements storage.Executor.
func (s *Store) FindOne(ctx context.Context, coll string, f query.Filter) (record.Record, bool, error) {
	return s.exec(s.db).FindOne(ctx, coll, f)
}

// Find implements storage.Executor.
func (s *Store) Find(ctx context.Context, coll string, f query.Filter, opts query.FindOptions) ([]record.Record, error) {
	return s.exec(s.db).Find(ctx, coll, f, opts)
}

// Count implements storage.Executor.
func (s *Store) Count(ctx context.Context, coll string, f query.Filter) (int64, error) {
	return s.exec(s.db).Count(ctx, coll, f)
}

// Insert implements storage.Executor.
func (s *Store) Insert(ctx context.Context, coll string, recs ...record.Record) error {
	return s.exec(s.db).Insert(ctx, coll, recs...)
}

// Update implements storage.Executor.
func (s *Store) Update(ctx context.Context, coll string, f query.Filter, u query.Update, opts query.UpdateOptions) (res storage.UpdateResult, err error) {
	err = s.inTx(ctx, func(ctx context.Context, e executor) error {
		res, err = e.Update(ctx, coll, f, u, opts)
		return err
	})
	return res, err
}

// BulkWrite implements storage.Executor.
func (s *Store) BulkWrite(ctx context.Context, coll string, ops []storage.WriteOp) (res storage.BulkWriteResult, err error) {
	err = s.inTx(ctx, func(ctx context.Context, e executor) error {
		res, err = e.BulkWrite(ctx, coll, ops)
		return err
	})
	return res, err
}

// InsertOutbox implements storage.Executor.
func (s *Store) InsertOutbox(ctx context.Context, recs ...record.OutboxRecord) error {
	return s.exec(s.db).InsertOutbox(ctx, recs...)
}

// FindOutbox implements storage.Executor.
func (s *Store) FindOutbox(ctx context.Context, aggregateID string) ([]record.OutboxRecord, error) {
	return s.exec(s.db).FindOutbox(ctx, aggregateID)
}

// executor runs statements on a bun.IDB, either the pool or a transaction.
type executor struct {
	idb         bun.IDB
	tr          translator
	outboxTable string
}

func (e executor) selectRows(rows *[]recordRow, coll string) *bun.SelectQuery {
	return e.idb.NewSelect().Model(rows).ModelTableExpr("? AS ?", bun.Ident(coll), bun.Ident("r"))
}

func (e executor) FindOne(ctx context.Context, coll string, f query.Filter) (record.Record, bool, error) {
	recs, err := e.find(ctx, coll, f, query.FindOptions{Limit: 1}, false)
	if err != nil || len(recs) == 0 {
		return record.Record{}, false, err
	}
	return recs[0], true, nil
}

func (e executor) Find(ctx context.Context, coll string, f query.Filter, opts query.FindOptions) ([]record.Record, error) {
	return e.find(ctx, coll, f, opts, false)
}

func (e executor) find(ctx context.Context, coll string, f query.Filter, opts query.FindOptions, lock bool) ([]record.Record, error) {
	where, err := e.tr.criteria(f)
	if err != nil {
		return nil, err
	}
	order, err := e.tr.ordering(opts)
	if err != nil {
		return nil, err
	}

	var rows []recordRow
	q := apply(e.selectRows(&rows, coll), where, order)
	if lock && e.tr.dialect != dialect.SQLite {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, translateErr(err)
	}

	out := make([]record.Record, len(rows))
	for i := range rows {
		out[i] = rows[i].toRecord()
	}
	return out, nil
}

func (e executor) Count(ctx context.Context, coll string, f query.Filter) (int64, error) {
	where, err := e.tr.criteria(f)
	if err != nil {
		return 0, err
	}
	var rows []recordRow
	n, err := apply(e.selectRows(&rows, coll), where).Count(ctx)
	if err != nil {
		return 0, translateErr(err)
	}
	return int64(n), nil
}

func (e executor) Insert(ctx context.Context, coll string, recs ...record.Record) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]*recordRow, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		rows[i] = toRow(r)
	}
	_, err := e.idb.NewInsert().Model(&rows).ModelTableExpr("?", bun.Ident(coll)).Exec(ctx)
	return translateErr(err)
}

// versionGuard only lets the write through when the row still carries the
// version that was read.
func versionGuard(id string, version int64) repository.UpdateCriteria {
	return func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Where("? = ?", bun.Ident("id"), id).Where("? = ?", bun.Ident("version"), version)
	}
}

func (e executor) write(ctx context.Context, coll string, next record.Record, readVersion int64) error {
	row := toRow(next)
	q := e.idb.NewUpdate().Model(row).ModelTableExpr("?", bun.Ident(coll)).
		Column("tenant_id", "is_test_data", "created_at", "last_modified_at", "deleted_at", "version", "created_by", "attributes")
	q = versionGuard(next.ID, readVersion)(q)

	res, err := q.Exec(ctx)
	if err != nil {
		return translateErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translateErr(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", storage.ErrWriteConflict, coll, next.ID)
	}
	return nil
}

func (e executor) Update(ctx context.Context, coll string, f query.Filter, u query.Update, opts query.UpdateOptions) (storage.UpdateResult, error) {
	current, err := e.find(ctx, coll, f, query.FindOptions{Limit: 1}, true)
	if err != nil {
		return storage.UpdateResult{}, err
	}

	if len(current) > 0 {
		next := current[0].Clone()
		if err := query.Apply(&next, u, false); err != nil {
			return storage.UpdateResult{}, err
		}
		if err := e.write(ctx, coll, next, current[0].Version); err != nil {
			return storage.UpdateResult{}, err
		}
		return storage.UpdateResult{Record: next, Matched: true}, nil
	}

	if !opts.Upsert {
		return storage.UpdateResult{}, nil
	}

	next, err := query.Seed(f)
	if err != nil {
		return storage.UpdateResult{}, err
	}
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	if err := query.Apply(&next, u, true); err != nil {
		return storage.UpdateResult{}, err
	}
	if err := e.Insert(ctx, coll, next); err != nil {
		return storage.UpdateResult{}, err
	}
	return storage.UpdateResult{Record: next, Inserted: true}, nil
}

func (e executor) BulkWrite(ctx context.Context, coll string, ops []storage.WriteOp) (storage.BulkWriteResult, error) {
	var (
		res     storage.BulkWriteResult
		inserts []record.Record
	)
	for _, op := range ops {
		if op.Kind != storage.WriteInsert {
			continue
		}
		r := op.Record
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		inserts = append(inserts, r)
		res.InsertedIDs = append(res.InsertedIDs, r.ID)
	}
	if err := e.Insert(ctx, coll, inserts...); err != nil {
		return storage.BulkWriteResult{}, err
	}

	for _, op := range ops {
		if op.Kind != storage.WriteUpdate {
			continue
		}
		ur, err := e.Update(ctx, coll, op.Filter, op.Update, query.UpdateOptions{})
		if err != nil {
			return storage.BulkWriteResult{}, err
		}
		if ur.Matched {
			res.MatchedIDs = append(res.MatchedIDs, ur.Record.ID)
		}
	}
	return res, nil
}

func (e executor) InsertOutbox(ctx context.Context, recs ...record.OutboxRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]outboxRow, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		rows[i] = toOutboxRow(r)
	}
	_, err := e.idb.NewInsert().Model(&rows).ModelTableExpr("?", bun.Ident(e.outboxTable)).Exec(ctx)
	return translateErr(err)
}

func (e executor) FindOutbox(ctx context.Context, aggregateID string) ([]record.OutboxRecord, error) {
	var rows []outboxRow
	err := e.idb.NewSelect().Model(&rows).
		ModelTableExpr("? AS ?", bun.Ident(e.outboxTable), bun.Ident("o")).
		Where("? = ?", bun.Ident("aggregate_id"), aggregateID).
		OrderExpr("? ASC", bun.Ident("created_at")).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, translateErr(err)
	}
	out := make([]record.OutboxRecord, len(rows))
	for i, row := range rows {
		out[i] = row.toRecord()
	}
	return out, nil
}

// session is a storage.Session backed by a bun transaction.
type session struct {
	executor
	tx   bun.Tx
	mu   sync.Mutex
	done bool
}

var _ storage.Session = (*session)(nil)

func (s *session) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return storage.ErrSessionClosed
	}
	return nil
}

func (s *session) FindOne(ctx context.Context, coll string, f query.Filter) (record.Record, bool, error) {
	if err := s.guard(); err != nil {
		return record.Record{}, false, err
	}
	return s.executor.FindOne(ctx, coll, f)
}

func (s *session) Find(ctx context.Context, coll string, f query.Filter, opts query.FindOptions) ([]record.Record, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.executor.Find(ctx, coll, f, opts)
}

func (s *session) Count(ctx context.Context, coll string, f query.Filter) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	return s.executor.Count(ctx, coll, f)
}

func (s *session) Insert(ctx context.Context, coll string, recs ...record.Record) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.executor.Insert(ctx, coll, recs...)
}

func (s *session) Update(ctx context.Context, coll string, f query.Filter, u query.Update, opts query.UpdateOptions) (storage.UpdateResult, error) {
	if err := s.guard(); err != nil {
		return storage.UpdateResult{}, err
	}
	return s.executor.Update(ctx, coll, f, u, opts)
}

func (s *session) BulkWrite(ctx context.Context, coll string, ops []storage.WriteOp) (storage.BulkWriteResult, error) {
	if err := s.guard(); err != nil {
		return storage.BulkWriteResult{}, err
	}
	return s.executor.BulkWrite(ctx, coll, ops)
}

func (s *session) InsertOutbox(ctx context.Context, recs ...record.OutboxRecord) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.executor.InsertOutbox(ctx, recs...)
}

func (s *session) FindOutbox(ctx context.Context, aggregateID string) ([]record.OutboxRecord, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.executor.FindOutbox(ctx, aggregateID)
}

// Commit implements storage.Session.
func (s *session) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return storage.ErrSessionClosed
	}
	s.done = true
	return translateErr(s.tx.Commit())
}

// Abort implements storage.Session.
func (s *session) Abort(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return translateErr(err)
	}
	return nil
}
