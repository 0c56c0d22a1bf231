// Package memstore is an in-process document store implementing
// storage.Backend.
//
// Auto-commit operations hold the store lock for their whole duration, so a
// single Update with Upsert is one atomic conditional write. Sessions stage
// their writes and validate the versions they read when committing; a
// concurrent change to the same record fails the commit with
// storage.ErrWriteConflict.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/record"
	"github.com/goliatone/go-repository-core/storage"
)

var _ storage.Backend = (*Store)(nil)

type collection struct {
	docs  map[string]record.Record
	order []string
}

// Store is the in-memory backend. The zero value is not usable; call New.
type Store struct {
	mu          sync.RWMutex
	collections *xsync.MapOf[string, *collection]
	outbox      []record.OutboxRecord
}

// New creates an empty store.
func New() *Store {
	return &Store{collections: xsync.NewMapOf[string, *collection]()}
}

func (s *Store) collection(name string) *collection {
	c, _ := s.collections.LoadOrCompute(name, func() *collection {
		return &collection{docs: map[string]record.Record{}}
	})
	return c
}

// Name implements storage.Backend.
func (s *Store) Name() string { return "memory" }

// AtomicUpsert implements storage.Backend.
func (s *Store) AtomicUpsert() bool { return true }

// Close implements storage.Backend.
func (s *Store) Close() error { return nil }

// Begin implements storage.Backend.
func (s *Store) Begin(ctx context.Context) (storage.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newSession(s, false), nil
}

// autoCommit runs fn in a session that holds the store lock until it commits.
func (s *Store) autoCommit(ctx context.Context, fn func(*session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := newSession(s, true)
	if err := fn(sess); err != nil {
		sess.done = true
		return err
	}
	return sess.commitLocked()
}

// FindOne implements storage.Executor.
func (s *Store) FindOne(ctx context.Context, coll string, f query.Filter) (rec record.Record, found bool, err error) {
	err = s.autoCommit(ctx, func(sess *session) error {
		rec, found, err = sess.FindOne(ctx, coll, f)
		return err
	})
	return rec, found, err
}

// Find implements storage.Executor.
func (s *Store) Find(ctx context.Context, coll string, f query.Filter, opts query.FindOptions) (recs []record.Record, err error) {
	err = s.autoCommit(ctx, func(sess *session) error {
		recs, err = sess.Find(ctx, coll, f, opts)
		return err
	})
	return recs, err
}

// Count implements storage.Executor.
func (s *Store) Count(ctx context.Context, coll string, f query.Filter) (n int64, err error) {
	err = s.autoCommit(ctx, func(sess *session) error {
		n, err = sess.Count(ctx, coll, f)
		return err
	})
	return n, err
}

// Insert implements storage.Executor.
func (s *Store) Insert(ctx context.Context, coll string, recs ...record.Record) error {
	return s.autoCommit(ctx, func(sess *session) error {
		return sess.Insert(ctx, coll, recs...)
	})
}

// Update implements storage.Executor.
func (s *Store) Update(ctx context.Context, coll string, f query.Filter, u query.Update, opts query.UpdateOptions) (res storage.UpdateResult, err error) {
	err = s.autoCommit(ctx, func(sess *session) error {
		res, err = sess.Update(ctx, coll, f, u, opts)
		return err
	})
	return res, err
}

// BulkWrite implements storage.Executor.
func (s *Store) BulkWrite(ctx context.Context, coll string, ops []storage.WriteOp) (res storage.BulkWriteResult, err error) {
	err = s.autoCommit(ctx, func(sess *session) error {
		res, err = sess.BulkWrite(ctx, coll, ops)
		return err
	})
	return res, err
}

// InsertOutbox implements storage.Executor.
func (s *Store) InsertOutbox(ctx context.Context, recs ...record.OutboxRecord) error {
	return s.autoCommit(ctx, func(sess *session) error {
		return sess.InsertOutbox(ctx, recs...)
	})
}

// FindOutbox implements storage.Executor.
func (s *Store) FindOutbox(ctx context.Context, aggregateID string) (out []record.OutboxRecord, err error) {
	err = s.autoCommit(ctx, func(sess *session) error {
		out, err = sess.FindOutbox(ctx, aggregateID)
		return err
	})
	return out, err
}

// absent marks a staged record that did not exist when first touched.
const absent int64 = -1

type session struct {
	store     *Store
	exclusive bool
	done      bool
	mu        sync.Mutex

	staged   map[string]map[string]record.Record
	newOrder map[string][]string
	base     map[string]map[string]int64
	outbox   []record.OutboxRecord
}

var _ storage.Session = (*session)(nil)

func newSession(s *Store, exclusive bool) *session {
	return &session{
		store:     s,
		exclusive: exclusive,
		staged:    map[string]map[string]record.Record{},
		newOrder:  map[string][]string{},
		base:      map[string]map[string]int64{},
	}
}

func (s *session) read(fn func()) {
	if s.exclusive {
		fn()
		return
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	fn()
}

// lookup returns the record with id as this session sees it.
func (s *session) lookup(coll, id string) (record.Record, bool) {
	if r, ok := s.staged[coll][id]; ok {
		return r, true
	}
	var (
		r  record.Record
		ok bool
	)
	s.read(func() {
		r, ok = s.store.collection(coll).docs[id]
	})
	return r, ok
}

// view lists the collection in natural order with staged writes applied.
func (s *session) view(coll string) []record.Record {
	var out []record.Record
	s.read(func() {
		c := s.store.collection(coll)
		out = make([]record.Record, 0, len(c.order)+len(s.newOrder[coll]))
		for _, id := range c.order {
			if r, ok := s.staged[coll][id]; ok {
				out = append(out, r)
				continue
			}
			out = append(out, c.docs[id])
		}
	})
	for _, id := range s.newOrder[coll] {
		out = append(out, s.staged[coll][id])
	}
	return out
}

func (s *session) check(ctx context.Context) error {
	if s.done {
		return storage.ErrSessionClosed
	}
	return ctx.Err()
}

// stage records r as written by this session, remembering the version it
// replaces the first time a given id is touched.
func (s *session) stage(coll string, r record.Record, previous int64) {
	if s.staged[coll] == nil {
		s.staged[coll] = map[string]record.Record{}
		s.base[coll] = map[string]int64{}
	}
	if _, seen := s.base[coll][r.ID]; !seen {
		s.base[coll][r.ID] = previous
		if previous == absent {
			s.newOrder[coll] = append(s.newOrder[coll], r.ID)
		}
	}
	s.staged[coll][r.ID] = r
}

func (s *session) FindOne(ctx context.Context, coll string, f query.Filter) (record.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return record.Record{}, false, err
	}
	for _, r := range s.view(coll) {
		if query.Match(r, f) {
			return r.Clone(), true, nil
		}
	}
	return record.Record{}, false, nil
}

func (s *session) Find(ctx context.Context, coll string, f query.Filter, opts query.FindOptions) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var matched []record.Record
	for _, r := range s.view(coll) {
		if query.Match(r, f) {
			matched = append(matched, r.Clone())
		}
	}
	query.SortRecords(matched, opts.Sort)
	return query.Paginate(matched, opts.Offset, opts.Limit), nil
}

func (s *session) Count(ctx context.Context, coll string, f query.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	var n int64
	for _, r := range s.view(coll) {
		if query.Match(r, f) {
			n++
		}
	}
	return n, nil
}

func (s *session) Insert(ctx context.Context, coll string, recs ...record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	for _, r := range recs {
		if err := s.insert(coll, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) insert(coll string, r record.Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := s.lookup(coll, r.ID); exists {
		return storage.ErrDuplicateKey
	}
	s.stage(coll, r.Clone(), absent)
	return nil
}

func (s *session) Update(ctx context.Context, coll string, f query.Filter, u query.Update, opts query.UpdateOptions) (storage.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return storage.UpdateResult{}, err
	}
	return s.update(coll, f, u, opts)
}

func (s *session) update(coll string, f query.Filter, u query.Update, opts query.UpdateOptions) (storage.UpdateResult, error) {
	for _, current := range s.view(coll) {
		if !query.Match(current, f) {
			continue
		}
		next := current.Clone()
		if err := query.Apply(&next, u, false); err != nil {
			return storage.UpdateResult{}, err
		}
		s.stage(coll, next, current.Version)
		return storage.UpdateResult{Record: next.Clone(), Matched: true}, nil
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
	if err := s.insert(coll, next); err != nil {
		return storage.UpdateResult{}, err
	}
	return storage.UpdateResult{Record: next.Clone(), Inserted: true}, nil
}

func (s *session) BulkWrite(ctx context.Context, coll string, ops []storage.WriteOp) (storage.BulkWriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res storage.BulkWriteResult
	if err := s.check(ctx); err != nil {
		return res, err
	}
	for _, op := range ops {
		switch op.Kind {
		case storage.WriteInsert:
			r := op.Record
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			if err := s.insert(coll, r); err != nil {
				return storage.BulkWriteResult{}, err
			}
			res.InsertedIDs = append(res.InsertedIDs, r.ID)
		case storage.WriteUpdate:
			ur, err := s.update(coll, op.Filter, op.Update, query.UpdateOptions{})
			if err != nil {
				return storage.BulkWriteResult{}, err
			}
			if ur.Matched {
				res.MatchedIDs = append(res.MatchedIDs, ur.Record.ID)
			}
		}
	}
	return res, nil
}

func (s *session) InsertOutbox(ctx context.Context, recs ...record.OutboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	for _, r := range recs {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		s.outbox = append(s.outbox, r)
	}
	return nil
}

func (s *session) FindOutbox(ctx context.Context, aggregateID string) ([]record.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []record.OutboxRecord
	s.read(func() {
		for _, r := range s.store.outbox {
			if r.AggregateID == aggregateID {
				out = append(out, r)
			}
		}
	})
	for _, r := range s.outbox {
		if r.AggregateID == aggregateID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Commit implements storage.Session.
func (s *session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return storage.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return s.commitLocked()
}

// commitLocked validates and applies the staged writes. The caller holds the
// store write lock.
func (s *session) commitLocked() error {
	s.done = true
	for coll, versions := range s.base {
		c := s.store.collection(coll)
		for id, want := range versions {
			current, ok := c.docs[id]
			have := absent
			if ok {
				have = current.Version
			}
			if have != want {
				return storage.ErrWriteConflict
			}
		}
	}
	for coll, docs := range s.staged {
		c := s.store.collection(coll)
		for _, id := range s.newOrder[coll] {
			c.order = append(c.order, id)
		}
		for id, r := range docs {
			c.docs[id] = r
		}
	}
	s.store.outbox = append(s.store.outbox, s.outbox...)
	return nil
}

// Abort implements storage.Session.
func (s *session) Abort(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	clear(s.staged)
	s.outbox = nil
	return nil
}

// Outbox returns a copy of every committed outbox record.
func (s *Store) Outbox() []record.OutboxRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.outbox)
}
