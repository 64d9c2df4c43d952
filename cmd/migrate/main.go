// Command migrate управляет схемой PostgreSQL и засевает каталог меню.
//
//	migrate -direction=up|down|status|seed [-steps=N] [-dsn=...] [-catalog=configs/catalog.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/foodoms/internal/storage/memory"
	"github.com/vladislavdragonenkov/foodoms/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

type direction string

const (
	directionUp     direction = "up"
	directionDown   direction = "down"
	directionStatus direction = "status"
	directionSeed   direction = "seed"
)

type options struct {
	direction direction
	steps     int
	dsn       string
	catalog   string
	timeout   time.Duration
}

func main() {
	// .env необязателен.
	_ = godotenv.Load()

	opts, err := readOptions(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fail("%v", err)
	}
}

// readOptions разбирает флаги; пустые -dsn и -catalog берутся из окружения.
func readOptions(fs *flag.FlagSet, args []string, getenv func(string) string) (options, error) {
	var (
		opts options
		dir  string
	)
	fs.StringVar(&dir, "direction", string(directionUp), "up|down|status|seed")
	fs.IntVar(&opts.steps, "steps", 0, "migrations to apply (0 = all) or roll back (0 = one)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: OMS_POSTGRES_DSN)")
	fs.StringVar(&opts.catalog, "catalog", "", "YAML catalog for -direction=seed (fallback: OMS_CATALOG_FILE)")
	fs.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = direction(strings.ToLower(strings.TrimSpace(dir)))
	opts.dsn = firstNonEmpty(opts.dsn, getenv("OMS_POSTGRES_DSN"))
	opts.catalog = firstNonEmpty(opts.catalog, getenv("OMS_CATALOG_FILE"))

	switch {
	case opts.direction != directionUp && opts.direction != directionDown &&
		opts.direction != directionStatus && opts.direction != directionSeed:
		return options{}, fmt.Errorf("unsupported direction %q (use up|down|status|seed)", dir)
	case opts.dsn == "":
		return options{}, errors.New("OMS_POSTGRES_DSN (or -dsn) is required")
	case opts.direction == directionSeed && opts.catalog == "":
		return options{}, errors.New("seed requires -catalog or OMS_CATALOG_FILE")
	case opts.steps < 0:
		return options{}, errors.New("-steps must not be negative")
	case opts.timeout <= 0:
		return options{}, errors.New("-timeout must be positive")
	}
	return opts, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	// Каталог читается до подключения: битый файл не должен трогать базу.
	var fixture *memory.Catalog
	if opts.direction == directionSeed {
		var err error
		if fixture, err = memory.LoadCatalogFile(opts.catalog); err != nil {
			return err
		}
	}

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer store.Close()

	switch opts.direction {
	case directionUp:
		err = store.MigrateUp(ctx, opts.steps)
	case directionDown:
		err = store.MigrateDown(ctx, opts.steps)
	case directionSeed:
		outlets, foods := fixture.Snapshot()
		if err := postgres.NewCatalogRepository(store).Seed(ctx, outlets, foods); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		_, _ = fmt.Fprintf(out, "catalog seeded: outlets=%d food_items=%d\n", len(outlets), len(foods))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", opts.direction, err)
	}

	version, applied, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	_, _ = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d\n", opts.direction, version, applied)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
