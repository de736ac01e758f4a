// Утилита миграций схемы PostgreSQL: up, down и status по встроенным файлам.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lu-lu-xue/OrderManagement/internal/storage/postgres"
)

const envPostgresDSN = "OMS_STORAGE_POSTGRES_DSN"

var directions = []string{"up", "down", "status"}

type options struct {
	direction string
	steps     int
	dsn       string
	timeout   time.Duration
	asJSON    bool
}

// parseArgs читает флаги; пустой -dsn берётся из OMS_STORAGE_POSTGRES_DSN.
func parseArgs(args []string, output io.Writer, getenv func(string) string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.direction, "direction", "up", "up | down | status")
	fs.IntVar(&opts.steps, "steps", 0, "migrations to apply or roll back (up: 0 means all, down: at least one)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN, defaults to $"+envPostgresDSN)
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline")
	fs.BoolVar(&opts.asJSON, "json", false, "print resulting state as JSON")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}

	switch {
	case !slices.Contains(directions, opts.direction):
		return opts, fmt.Errorf("unsupported direction %q (use %s)", opts.direction, strings.Join(directions, "|"))
	case opts.dsn == "":
		return opts, fmt.Errorf("-dsn or %s is required", envPostgresDSN)
	case opts.steps < 0:
		return opts, errors.New("steps must be >= 0")
	case opts.timeout <= 0:
		return opts, errors.New("timeout must be > 0")
	}
	return opts, nil
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr, os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.WithError(err).Fatal("invalid arguments")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn, postgres.Pool{MaxOpenConns: 2})
	if err != nil {
		log.WithError(err).Fatal("open postgres")
	}
	defer store.Close()

	if err := run(ctx, store, opts, os.Stdout); err != nil {
		log.WithError(err).WithField("direction", opts.direction).Fatal("migration failed")
	}
}

// migrator описывает часть postgres.Store, которой пользуется утилита.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
}

func run(ctx context.Context, store migrator, opts options, out io.Writer) error {
	switch opts.direction {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		if err := store.MigrateDown(ctx, max(opts.steps, 1)); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	case "status":
	default:
		return fmt.Errorf("unsupported direction %q", opts.direction)
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	return printState(out, opts, state)
}

func printState(out io.Writer, opts options, state postgres.MigrationState) error {
	if opts.asJSON {
		return json.NewEncoder(out).Encode(struct {
			Direction string `json:"direction"`
			Version   int64  `json:"version"`
			Latest    int64  `json:"latest"`
			Applied   int    `json:"applied"`
			Pending   int    `json:"pending"`
		}{opts.direction, state.Version, state.Latest, state.Applied, state.Pending})
	}
	_, err := fmt.Fprintf(out, "migrate %s ok: version=%d/%d applied=%d pending=%d\n",
		opts.direction, state.Version, state.Latest, state.Applied, state.Pending)
	return err
}
