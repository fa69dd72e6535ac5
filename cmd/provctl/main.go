// Command provctl inspects, exports and collects provenance logs.
//
//	provctl inspect [-db path] [-user id] [-op list]
//	provctl export  -user id [-db path] [-op list] [-archive]
//	provctl collect
//
// Store, Kafka and archive settings come from the same environment as the
// services; -db overrides SHADOW_SQLITE_PATH. -op keeps only the listed
// operations, e.g. -op transfer_out,delete_done.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"shadowrt/internal/bootstrap"
	"shadowrt/internal/platform/config"
	"shadowrt/internal/platform/kafka"
	"shadowrt/internal/platform/logger"
	id "shadowrt/pkg/domain"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/platform/provenance/archive"
	"shadowrt/pkg/platform/provenance/publishers/stream"
	strutil "shadowrt/pkg/platform/strings"
)

const usage = "usage: provctl inspect|export|collect [flags]"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "provctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, getenv func(string) string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	cfg, err := config.Load(getenv)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("provctl "+args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dbPath := fs.String("db", cfg.Store.SQLitePath, "SQLite provenance database")
	user := fs.String("user", "", "restrict to one user")
	opList := fs.String("op", "", "comma-separated operations to keep")
	toArchive := fs.Bool("archive", false, "upload the export to S3 instead of writing it to stdout")
	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	cfg.Store.SQLitePath = *dbPath
	ops, err := parseOperations(*opList)
	if err != nil {
		return fmt.Errorf("%s: -op: %w", args[0], err)
	}

	switch args[0] {
	case "inspect":
		events, err := readEvents(ctx, cfg.Store, id.UserID(*user), ops)
		if err != nil {
			return err
		}
		return printTable(out, events)
	case "export":
		userID, err := id.ParseUserID(*user)
		if err != nil {
			return fmt.Errorf("export: -user: %w", err)
		}
		events, err := readEvents(ctx, cfg.Store, userID, ops)
		if err != nil {
			return err
		}
		if !*toArchive {
			return archive.WriteNDJSON(out, events)
		}
		return upload(ctx, cfg, events, out)
	case "collect":
		return collect(ctx, cfg)
	default:
		return fmt.Errorf("unknown command %q; %s", args[0], usage)
	}
}

// readEvents returns the events of userID, or of everyone when userID is
// empty, ordered by timestamp. A non-empty ops keeps only those operations.
func readEvents(ctx context.Context, cfg config.StoreConfig, userID id.UserID, ops []provenance.Operation) ([]provenance.Event, error) {
	store, closeDB, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = store.Close()
		if closeDB != nil {
			_ = closeDB()
		}
	}()
	if err := store.Init(ctx); err != nil {
		return nil, err
	}

	events, err := provenance.ListByOperations(ctx, store, userID, ops...)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(events, func(a, b provenance.Event) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return events, nil
}

func parseOperations(raw string) ([]provenance.Operation, error) {
	var ops []provenance.Operation
	for _, name := range strutil.SplitList(raw) {
		op := provenance.Operation(name)
		if !op.Valid() {
			return nil, fmt.Errorf("unknown operation %q", name)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func printTable(out io.Writer, events []provenance.Event) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOPERATION\tUSER\tTAG\tSOURCE\tDESTINATION\tHASH")
	for _, e := range events {
		hash := e.PayloadHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		dest := e.DestinationApp
		if dest == "" {
			dest = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.UTC().Format(time.RFC3339Nano), e.Operation, e.UserID, e.TagID, e.SourceApp, dest, hash)
	}
	return tw.Flush()
}

func upload(ctx context.Context, cfg config.Config, events []provenance.Event, out io.Writer) error {
	if cfg.Archive.Bucket == "" {
		return errors.New("export: -archive requires SHADOW_ARCHIVE_BUCKET")
	}
	s3cfg := archive.S3Config{
		Bucket:       cfg.Archive.Bucket,
		Prefix:       cfg.Archive.Prefix,
		Region:       cfg.Archive.Region,
		Endpoint:     cfg.Archive.Endpoint,
		UsePathStyle: cfg.Archive.UsePathStyle,
	}
	client, err := archive.NewS3Client(ctx, s3cfg)
	if err != nil {
		return err
	}
	key, err := archive.NewArchiver(client, s3cfg).Upload(ctx, cfg.App, events)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "uploaded %d events to s3://%s/%s\n", len(events), cfg.Archive.Bucket, key)
	return nil
}

// collect drains the provenance topic into the configured store until ctx
// is cancelled.
func collect(ctx context.Context, cfg config.Config) error {
	if !cfg.Kafka.Enabled() {
		return errors.New("collect: KAFKA_BROKERS is not set")
	}
	log := logger.New(cfg.LogLevel)

	store, closeDB, err := bootstrap.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
		if closeDB != nil {
			_ = closeDB()
		}
	}()
	if err := store.Init(ctx); err != nil {
		return err
	}

	client, err := kafka.NewConsumer(cfg.Kafka, log)
	if err != nil {
		return err
	}
	defer client.Close()

	log.InfoContext(ctx, "collecting provenance", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.ConsumerGroup)
	return stream.NewCollector(client, store, log).Run(ctx)
}
