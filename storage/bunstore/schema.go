package bunstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type columnTypes struct {
	id, text, boolean, timestamp, integer, json, blob string
}

func typesFor(name dialect.Name) columnTypes {
	switch name {
	case dialect.PG:
		return columnTypes{"VARCHAR(64)", "VARCHAR(255)", "BOOLEAN", "TIMESTAMPTZ", "BIGINT", "JSONB", "BYTEA"}
	case dialect.MySQL:
		return columnTypes{"VARCHAR(64)", "VARCHAR(255)", "BOOLEAN", "DATETIME(6)", "BIGINT", "JSON", "LONGBLOB"}
	default:
		return columnTypes{"VARCHAR(64)", "VARCHAR(255)", "BOOLEAN", "TIMESTAMP", "BIGINT", "TEXT", "BLOB"}
	}
}

// CreateSchema creates the record tables for collections and the outbox
// table when they do not exist. It is a bootstrap helper for tests and local
// tooling; it performs no migrations.
func CreateSchema(ctx context.Context, db *bun.DB, outboxTable string, collections ...string) error {
	ct := typesFor(db.Dialect().Name())

	for _, coll := range collections {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ? (
	id %[1]s NOT NULL PRIMARY KEY,
	tenant_id %[1]s NOT NULL DEFAULT '',
	is_test_data %[2]s NOT NULL DEFAULT FALSE,
	created_at %[3]s NOT NULL,
	last_modified_at %[3]s NOT NULL,
	deleted_at %[3]s NULL,
	version %[4]s NOT NULL,
	created_by %[5]s NOT NULL DEFAULT '',
	attributes %[6]s NULL
)`, ct.id, ct.boolean, ct.timestamp, ct.integer, ct.text, ct.json)
		if _, err := db.ExecContext(ctx, ddl, bun.Ident(coll)); err != nil {
			return fmt.Errorf("bunstore: create table %s: %w", coll, translateErr(err))
		}
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ? (
	id %[1]s NOT NULL PRIMARY KEY,
	tenant_id %[1]s NOT NULL DEFAULT '',
	aggregate_id %[1]s NOT NULL,
	aggregate_type %[2]s NOT NULL,
	event_type %[1]s NOT NULL,
	topic %[2]s NOT NULL,
	payload %[3]s NOT NULL,
	additional_field_values %[4]s NULL,
	expire_at %[5]s NOT NULL,
	event_occurred_at %[5]s NOT NULL,
	created_at %[5]s NOT NULL
)`, ct.id, ct.text, ct.blob, ct.json, ct.timestamp)
	if _, err := db.ExecContext(ctx, ddl, bun.Ident(outboxTable)); err != nil {
		return fmt.Errorf("bunstore: create table %s: %w", outboxTable, translateErr(err))
	}
	return nil
}
