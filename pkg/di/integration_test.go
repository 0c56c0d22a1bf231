package di

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-repository-core/ambient"
	"github.com/goliatone/go-repository-core/outbox"
	"github.com/goliatone/go-repository-core/pkg/clock"
	"github.com/goliatone/go-repository-core/record"
	"github.com/goliatone/go-repository-core/repository"
	"github.com/goliatone/go-repository-core/storage/bunstore"
)

// Note is the domain type used across the integration tests.
type Note struct {
	record.Meta
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

var noteMeta = repository.Metadata{Name: "Note"}

func containerConfigs(t *testing.T) map[string]Config {
	t.Helper()
	sqlite := DefaultConfig()
	sqlite.Storage = StorageConfig{
		Kind:        StorageSQL,
		Driver:      bunstore.DriverSQLite,
		DSN:         fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
		AutoMigrate: true,
	}
	return map[string]Config{
		"memory": DefaultConfig(),
		"sqlite": sqlite,
	}
}

func newTestContainer(t *testing.T, cfg Config) *Container {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	container, err := NewContainer(context.Background(), cfg, WithClock(clk))
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	t.Cleanup(func() { _ = container.Close() })
	if err := container.Migrate(context.Background(), noteMeta.CollectionName()); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return container
}

func TestEndToEndOutboxAndCacheFlow(t *testing.T) {
	for name, cfg := range containerConfigs(t) {
		t.Run(name, func(t *testing.T) {
			container := newTestContainer(t, cfg)
			ctx := ambient.With(context.Background(), ambient.Context{TenantID: "acme", UserID: "alice"})

			notes, err := NewRepository[Note](container, noteMeta)
			if err != nil {
				t.Fatalf("NewRepository() failed: %v", err)
			}
			coordinator, err := NewCoordinator(container, notes, nil)
			if err != nil {
				t.Fatalf("NewCoordinator() failed: %v", err)
			}
			cached, err := NewCachedRepository(container, notes)
			if err != nil {
				t.Fatalf("NewCachedRepository() failed: %v", err)
			}

			// Step 1: create through the outbox
			created, err := coordinator.CreateWithOutbox(ctx, Note{Title: "draft"}, "Note", "")
			if err != nil {
				t.Fatalf("CreateWithOutbox() failed: %v", err)
			}

			events, err := container.Storage().FindOutbox(ctx, created.ID)
			if err != nil {
				t.Fatalf("FindOutbox() failed: %v", err)
			}
			if len(events) != 1 {
				t.Fatalf("expected 1 outbox record, got %d", len(events))
			}
			if events[0].EventType != record.EventCreate {
				t.Errorf("expected CREATE event, got %q", events[0].EventType)
			}
			if events[0].Topic != "default.outbox.event.Note" {
				t.Errorf("unexpected topic %q", events[0].Topic)
			}

			// Step 2: read through the cache
			got, found, err := cached.GetThroughCache(ctx, created.ID)
			if err != nil || !found {
				t.Fatalf("GetThroughCache() = %v, %v", found, err)
			}
			if got.Title != "draft" {
				t.Errorf("expected title draft, got %q", got.Title)
			}

			// Step 3: update through the outbox and invalidate after commit
			err = cached.InvalidateAfter(ctx, []string{created.ID}, func(ctx context.Context) error {
				_, _, err := coordinator.PatchWithOutbox(ctx, created.ID, Note{Title: "final"}, "Note", record.EventUpdate)
				return err
			})
			if err != nil {
				t.Fatalf("InvalidateAfter() failed: %v", err)
			}

			got, _, err = cached.GetThroughCache(ctx, created.ID)
			if err != nil {
				t.Fatalf("GetThroughCache() failed: %v", err)
			}
			if got.Title != "final" {
				t.Errorf("expected invalidated read to see final, got %q", got.Title)
			}
			if got.Version != 2 {
				t.Errorf("expected version 2, got %d", got.Version)
			}

			events, err = container.Storage().FindOutbox(ctx, created.ID)
			if err != nil {
				t.Fatalf("FindOutbox() failed: %v", err)
			}
			if len(events) != 2 {
				t.Fatalf("expected 2 outbox records, got %d", len(events))
			}
			if events[1].EventType != record.EventUpdate {
				t.Errorf("expected UPDATE event, got %q", events[1].EventType)
			}
		})
	}
}

func TestCustomOutboxConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Outbox = outbox.Config{AppName: "billing", Retention: time.Hour}
	container := newTestContainer(t, cfg)
	ctx := ambient.WithTenant(context.Background(), "acme")

	notes, err := NewRepository[Note](container, noteMeta)
	if err != nil {
		t.Fatalf("NewRepository() failed: %v", err)
	}
	coordinator, err := NewCoordinator(container, notes, outbox.MsgpackSerializer{})
	if err != nil {
		t.Fatalf("NewCoordinator() failed: %v", err)
	}
	if coordinator.Config().Topic("Note") != "billing.outbox.event.Note" {
		t.Errorf("unexpected topic %q", coordinator.Config().Topic("Note"))
	}

	created, err := coordinator.CreateWithOutbox(ctx, Note{Title: "invoice"}, "Note", record.EventCreate)
	if err != nil {
		t.Fatalf("CreateWithOutbox() failed: %v", err)
	}
	events, err := container.Storage().FindOutbox(ctx, created.ID)
	if err != nil || len(events) != 1 {
		t.Fatalf("FindOutbox() = %d records, %v", len(events), err)
	}
	if want := created.LastModifiedAt.Add(time.Hour); !events[0].ExpireAt.Equal(want) {
		t.Errorf("expected expireAt %v, got %v", want, events[0].ExpireAt)
	}
}

func TestLocksGuardRepositoryWork(t *testing.T) {
	container := newTestContainer(t, DefaultConfig())
	ctx := ambient.WithTenant(context.Background(), "acme")

	notes, err := NewRepository[Note](container, noteMeta)
	if err != nil {
		t.Fatalf("NewRepository() failed: %v", err)
	}

	l := container.Locks().Lock("notes:import")
	if err := l.Acquire(ctx, time.Second); err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	if ok, _ := container.Locks().Lock("notes:import").TryAcquire(ctx); ok {
		t.Error("second owner should not take a held lock")
	}

	ids, err := notes.BulkCreate(ctx, []Note{{Title: "a"}, {Title: "b"}})
	if err != nil {
		t.Fatalf("BulkCreate() failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 ids, got %d", len(ids))
	}

	if err := l.Release(ctx); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
}
