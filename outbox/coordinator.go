package outbox

import (
	"context"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-repository-core/pkg/clock"
	"github.com/goliatone/go-repository-core/pkg/logging"
	"github.com/goliatone/go-repository-core/pkg/metrics"
	"github.com/goliatone/go-repository-core/record"
	"github.com/goliatone/go-repository-core/repository"
	"github.com/goliatone/go-repository-core/storage"
)

// PayloadFunc converts a stored domain value into the event payload.
type PayloadFunc[D any] func(d D) (any, error)

// Option configures a Coordinator.
type Option[D any] func(*Coordinator[D])

// WithPayload sets the payload conversion. The default payload is the domain
// value itself.
func WithPayload[D any](fn PayloadFunc[D]) Option[D] {
	return func(c *Coordinator[D]) { c.payload = fn }
}

// WithClock sets the clock used for createdAt and expireAt.
func WithClock[D any](clk clock.Clock) Option[D] {
	return func(c *Coordinator[D]) { c.clock = clk }
}

// WithLogger sets the logger.
func WithLogger[D any](l logging.Logger) Option[D] {
	return func(c *Coordinator[D]) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics[D any](m metrics.Metrics) Option[D] {
	return func(c *Coordinator[D]) { c.metrics = m }
}

// WithIDGenerator sets the outbox record id generator.
func WithIDGenerator[D any](fn func() string) Option[D] {
	return func(c *Coordinator[D]) { c.newID = fn }
}

// EventOption tunes the outbox records of one call.
type EventOption func(*eventOptions)

type eventOptions struct {
	topic  string
	fields map[string]any
}

// WithTopic overrides the generated topic.
func WithTopic(topic string) EventOption {
	return func(o *eventOptions) { o.topic = topic }
}

// WithAdditionalFields attaches extra values to every record of the call.
func WithAdditionalFields(fields map[string]any) EventOption {
	return func(o *eventOptions) { o.fields = fields }
}

// Coordinator runs repository mutations and their outbox records in one
// session per call.
type Coordinator[D any] struct {
	repo       *repository.Repository[D]
	backend    storage.Backend
	serializer Serializer
	cfg        Config
	payload    PayloadFunc[D]
	clock      clock.Clock
	newID      func() string
	logger     logging.Logger
	metrics    metrics.Metrics
}

// New builds a Coordinator.
func New[D any](repo *repository.Repository[D], backend storage.Backend, serializer Serializer, cfg Config, opts ...Option[D]) (*Coordinator[D], error) {
	if repo == nil {
		return nil, errors.New("outbox: repository is required")
	}
	if backend == nil {
		backend = repo.Backend()
	}
	if serializer == nil {
		return nil, errors.New("outbox: serializer is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("outbox: invalid config: %w", err)
	}

	c := &Coordinator[D]{
		repo:       repo,
		backend:    backend,
		serializer: serializer,
		cfg:        cfg,
		payload:    func(d D) (any, error) { return d, nil },
		clock:      clock.System{},
		newID:      repository.NewUUIDv7,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger)
	c.metrics = metrics.OrNop(c.metrics)
	return c, nil
}

// Config returns the effective configuration.
func (c *Coordinator[D]) Config() Config { return c.cfg }

// event names the outbox records of one call.
type event struct {
	aggregateType string
	eventType     record.EventType
	opts          eventOptions
}

func (c *Coordinator[D]) event(aggregateType string, eventType record.EventType, opts []EventOption) event {
	if aggregateType == "" {
		aggregateType = c.repo.Metadata().Name
	}
	ev := event{aggregateType: aggregateType, eventType: eventType}
	for _, opt := range opts {
		opt(&ev.opts)
	}
	return ev
}

// writeFunc performs the domain write inside sess. ok is false when nothing
// was written, which aborts the session without an error.
type writeFunc func(sess storage.Session) (recs []record.Record, ok bool, err error)

// run drives one session through the outbox states. Every exit before the
// commit, including a panic, aborts the session.
func (c *Coordinator[D]) run(ctx context.Context, op string, ev event, write writeFunc) (recs []record.Record, ok bool, err error) {
	t := newTracker(op, c.logger, c.metrics)

	sess, err := c.backend.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("outbox: %s: begin: %w", op, err)
	}
	t.to(StateTransactionOpen)

	defer func() {
		p := recover()
		if t.state == StateCommitted {
			return
		}
		if abortErr := sess.Abort(ctx); abortErr != nil {
			c.logger.Error("outbox abort failed", "op", op, "error", abortErr)
			if err != nil {
				err = errors.Join(err, abortErr)
			}
		}
		t.to(StateAborted)
		if p != nil {
			panic(p)
		}
	}()

	recs, ok, err = write(sess)
	if err != nil || !ok {
		return nil, false, err
	}
	t.to(StateDomainWritten)

	entries := make([]record.OutboxRecord, 0, len(recs))
	for _, rec := range recs {
		entry, err := c.toOutbox(rec, ev)
		if err != nil {
			return nil, false, err
		}
		entries = append(entries, entry)
	}
	if err := sess.InsertOutbox(ctx, entries...); err != nil {
		return nil, false, fmt.Errorf("outbox: %s: insert: %w", op, err)
	}
	t.to(StateOutboxWritten)

	if err := sess.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("outbox: %s: commit: %w", op, err)
	}
	t.to(StateCommitted)

	for _, entry := range entries {
		c.metrics.OutboxRecords(entry.AggregateType, string(entry.EventType), 1)
	}
	return recs, true, nil
}

// toOutbox builds and validates the outbox record describing rec.
func (c *Coordinator[D]) toOutbox(rec record.Record, ev event) (record.OutboxRecord, error) {
	d, err := c.repo.ToDomain(rec)
	if err != nil {
		return record.OutboxRecord{}, err
	}
	payload, err := c.payload(d)
	if err != nil {
		return record.OutboxRecord{}, fmt.Errorf("outbox: build payload for %s: %w", rec.ID, err)
	}

	topic := ev.opts.topic
	if topic == "" {
		topic = c.cfg.Topic(ev.aggregateType)
	}
	data, err := c.serializer.Serialize(topic, payload)
	if err != nil {
		return record.OutboxRecord{}, &SerializationError{Topic: topic, Err: err}
	}
	if len(data) == 0 {
		return record.OutboxRecord{}, &SerializationError{Topic: topic, Err: ErrEmptyPayload}
	}

	eventType := ev.eventType
	if eventType == "" {
		eventType = record.DeriveEventType(rec)
	}

	now := c.clock.Now()
	entry := record.OutboxRecord{
		ID:                    c.newID(),
		TenantID:              rec.TenantID,
		AggregateID:           rec.ID,
		AggregateType:         ev.aggregateType,
		EventType:             eventType,
		Topic:                 topic,
		Payload:               data,
		AdditionalFieldValues: ev.opts.fields,
		ExpireAt:              now.Add(c.cfg.Retention),
		EventOccurredAt:       rec.LastModifiedAt,
		CreatedAt:             now,
	}
	if err := validateRecord(entry); err != nil {
		return record.OutboxRecord{}, err
	}
	return entry, nil
}

func validateRecord(r record.OutboxRecord) error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.AggregateID, validation.Required),
		validation.Field(&r.AggregateType, validation.Required),
		validation.Field(&r.EventType, validation.Required),
		validation.Field(&r.Topic, validation.Required),
		validation.Field(&r.Payload, validation.Required),
		validation.Field(&r.ExpireAt, validation.Required),
		validation.Field(&r.EventOccurredAt, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return nil
}

func one(rec record.Record, found bool, err error) ([]record.Record, bool, error) {
	if err != nil || !found {
		return nil, false, err
	}
	return []record.Record{rec}, true, nil
}

func (c *Coordinator[D]) single(recs []record.Record, ok bool, err error) (D, bool, error) {
	var zero D
	if err != nil || !ok {
		return zero, false, err
	}
	d, err := c.repo.ToDomain(recs[0])
	if err != nil {
		return zero, false, err
	}
	return d, true, nil
}

func (c *Coordinator[D]) many(recs []record.Record, ok bool, err error) ([]D, error) {
	if err != nil {
		return nil, err
	}
	out := make([]D, 0, len(recs))
	if !ok {
		return out, nil
	}
	for _, rec := range recs {
		d, err := c.repo.ToDomain(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// CreateWithOutbox creates d and its outbox record. Empty aggregateType
// defaults to the entity name; empty eventType is derived from the stored
// record.
func (c *Coordinator[D]) CreateWithOutbox(ctx context.Context, d D, aggregateType string, eventType record.EventType, opts ...EventOption) (D, error) {
	ev := c.event(aggregateType, eventType, opts)
	out, _, err := c.single(c.run(ctx, "create", ev, func(sess storage.Session) ([]record.Record, bool, error) {
		rec, err := c.repo.CreateTx(ctx, sess, d)
		return one(rec, err == nil, err)
	}))
	return out, err
}

// PatchWithOutbox patches the record with id. Nothing is written when it
// does not exist.
func (c *Coordinator[D]) PatchWithOutbox(ctx context.Context, id string, partial D, aggregateType string, eventType record.EventType, opts ...EventOption) (D, bool, error) {
	ev := c.event(aggregateType, eventType, opts)
	return c.single(c.run(ctx, "patch", ev, func(sess storage.Session) ([]record.Record, bool, error) {
		return one(c.repo.PatchTx(ctx, sess, id, partial))
	}))
}

// PutWithOutbox replaces the record with id.
func (c *Coordinator[D]) PutWithOutbox(ctx context.Context, id string, d D, aggregateType string, eventType record.EventType, opts ...EventOption) (D, bool, error) {
	ev := c.event(aggregateType, eventType, opts)
	return c.single(c.run(ctx, "put", ev, func(sess storage.Session) ([]record.Record, bool, error) {
		return one(c.repo.PutTx(ctx, sess, id, d))
	}))
}

// UpsertWithOutbox upserts d on filter.
func (c *Coordinator[D]) UpsertWithOutbox(ctx context.Context, d D, filter D, aggregateType string, eventType record.EventType, opts ...EventOption) (D, error) {
	ev := c.event(aggregateType, eventType, opts)
	out, _, err := c.single(c.run(ctx, "upsert", ev, func(sess storage.Session) ([]record.Record, bool, error) {
		rec, err := c.repo.UpsertTx(ctx, sess, d, filter)
		return one(rec, err == nil, err)
	}))
	return out, err
}

// DeleteWithOutbox soft deletes d.
func (c *Coordinator[D]) DeleteWithOutbox(ctx context.Context, d D, aggregateType string, eventType record.EventType, opts ...EventOption) (D, bool, error) {
	ev := c.event(aggregateType, eventType, opts)
	return c.single(c.run(ctx, "delete", ev, func(sess storage.Session) ([]record.Record, bool, error) {
		return one(c.repo.DeleteTx(ctx, sess, d))
	}))
}

// BulkCreateWithOutbox creates ds with one outbox record each.
func (c *Coordinator[D]) BulkCreateWithOutbox(ctx context.Context, ds []D, aggregateType string, eventType record.EventType, opts ...EventOption) ([]D, error) {
	ev := c.event(aggregateType, eventType, opts)
	return c.many(c.run(ctx, "bulk_create", ev, func(sess storage.Session) ([]record.Record, bool, error) {
		recs, err := c.repo.BulkCreateTx(ctx, sess, ds)
		return recs, len(recs) > 0, err
	}))
}

// BulkPatchWithOutbox patches ds and writes one outbox record per patched
// record.
func (c *Coordinator[D]) BulkPatchWithOutbox(ctx context.Context, ds []D, aggregateType string, eventType record.EventType, opts ...EventOption) ([]D, error) {
	ev := c.event(aggregateType, eventType, opts)
	return c.many(c.run(ctx, "bulk_patch", ev, func(sess storage.Session) ([]record.Record, bool, error) {
		recs, err := c.repo.BulkPatchTx(ctx, sess, ds)
		return recs, len(recs) > 0, err
	}))
}

// BulkUpsertWithOutbox upserts ds and writes one outbox record per affected
// record.
func (c *Coordinator[D]) BulkUpsertWithOutbox(ctx context.Context, ds []D, aggregateType string, eventType record.EventType, opts ...EventOption) (record.BulkResult, error) {
	ev := c.event(aggregateType, eventType, opts)
	var res record.BulkResult
	_, _, err := c.run(ctx, "bulk_upsert", ev, func(sess storage.Session) ([]record.Record, bool, error) {
		var (
			recs []record.Record
			err  error
		)
		res, recs, err = c.repo.BulkUpsertTx(ctx, sess, ds)
		return recs, len(recs) > 0, err
	})
	if err != nil {
		return record.BulkResult{}, err
	}
	if res.InsertIDs == nil {
		res = record.BulkResult{InsertIDs: []string{}, UpsertIDs: []string{}}
	}
	return res, nil
}
