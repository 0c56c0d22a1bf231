package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-repository-core/ambient"
	"github.com/goliatone/go-repository-core/outbox"
	"github.com/goliatone/go-repository-core/pkg/di"
	"github.com/goliatone/go-repository-core/pkg/logging"
	"github.com/goliatone/go-repository-core/pkg/metrics"
	"github.com/goliatone/go-repository-core/record"
	"github.com/goliatone/go-repository-core/repository"
)

// Ticket is the demo domain type.
type Ticket struct {
	record.Meta
	Title    string `json:"title,omitempty"`
	Status   string `json:"status,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

var ticketMeta = repository.Metadata{
	Name:           "Ticket",
	SortableFields: []string{"title", "priority"},
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a create, read, update and delete cycle with outbox and cache",
	Long: `Run a create, read, update and delete cycle through the outbox
coordinator and the cache-aside layer, then print the outbox records and
the counters that were emitted.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().String("tenant", "demo", "tenant id placed in the ambient context")
	demoCmd.Flags().String("user", "corectl", "user id placed in the ambient context")
	demoCmd.Flags().String("serializer", "json", "outbox payload serializer (json, msgpack)")
	demoCmd.Flags().Duration("timeout", 30*time.Second, "overall timeout")
}

func runDemo(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	tenant, _ := cmd.Flags().GetString("tenant")
	user, _ := cmd.Flags().GetString("user")
	format, _ := cmd.Flags().GetString("serializer")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	serializer, err := serializerFor(format)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	ctx = ambient.With(ctx, ambient.Context{TenantID: tenant, UserID: user, CallerService: "corectl"})

	registry := prometheus.NewRegistry()
	return demo(ctx, cmd.OutOrStdout(), cfg, serializer, registry)
}

func serializerFor(format string) (outbox.Serializer, error) {
	switch format {
	case "json":
		return outbox.JSONSerializer{}, nil
	case "msgpack":
		return outbox.MsgpackSerializer{}, nil
	}
	return nil, fmt.Errorf("unknown serializer %q", format)
}

func demo(ctx context.Context, out io.Writer, cfg di.Config, serializer outbox.Serializer, registry *prometheus.Registry) error {
	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logging.New(cfg.App.Name, cfg.App.Env)),
		di.WithMetrics(metrics.NewPrometheus(registry)),
	)
	if err != nil {
		return err
	}
	defer container.Close()

	if err := container.Migrate(ctx, ticketMeta.CollectionName()); err != nil {
		return err
	}

	tickets, err := di.NewRepository[Ticket](container, ticketMeta)
	if err != nil {
		return err
	}
	coordinator, err := di.NewCoordinator(container, tickets, serializer)
	if err != nil {
		return err
	}
	cached, err := di.NewCachedRepository(container, tickets)
	if err != nil {
		return err
	}

	created, err := coordinator.CreateWithOutbox(ctx, Ticket{Title: "printer on fire", Status: "open", Priority: 1}, "", record.EventCreate)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	fmt.Fprintf(out, "created  %s v%d %q\n", created.ID, created.Version, created.Title)

	for i := 0; i < 2; i++ {
		got, _, err := cached.GetThroughCache(ctx, created.ID)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Fprintf(out, "read     %s v%d status=%s\n", got.ID, got.Version, got.Status)
	}

	var updated Ticket
	err = cached.InvalidateAfter(ctx, []string{created.ID}, func(ctx context.Context) error {
		var err error
		updated, _, err = coordinator.PatchWithOutbox(ctx, created.ID, Ticket{Status: "closed"}, "", record.EventUpdate)
		return err
	})
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	fmt.Fprintf(out, "updated  %s v%d status=%s\n", updated.ID, updated.Version, updated.Status)

	var deleted Ticket
	err = cached.InvalidateAfter(ctx, []string{created.ID}, func(ctx context.Context) error {
		target := Ticket{}
		target.ID = created.ID
		var err error
		deleted, _, err = coordinator.DeleteWithOutbox(ctx, target, "", record.EventDelete)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	fmt.Fprintf(out, "deleted  %s v%d\n", deleted.ID, deleted.Version)

	if _, found, err := cached.GetThroughCache(ctx, created.ID); err != nil {
		return err
	} else if found {
		return fmt.Errorf("ticket %s still visible after delete", created.ID)
	}

	events, err := container.Storage().FindOutbox(ctx, created.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\noutbox:")
	for _, ev := range events {
		fmt.Fprintf(out, "  %-6s %s %d bytes\n", ev.EventType, ev.Topic, len(ev.Payload))
	}

	return printCounters(out, registry)
}

func printCounters(out io.Writer, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			label := ""
			for _, lp := range m.GetLabel() {
				label += fmt.Sprintf("%s=%s,", lp.GetName(), lp.GetValue())
			}
			if label != "" {
				label = "{" + label[:len(label)-1] + "}"
			}
			lines = append(lines, fmt.Sprintf("  %s%s %g", mf.GetName(), label, m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	fmt.Fprintln(out, "\ncounters:")
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
	return nil
}
