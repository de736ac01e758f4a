package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lu-lu-xue/OrderManagement/internal/storage/postgres"
)

type fakeMigrator struct {
	up, down  []int
	state     postgres.MigrationState
	err       error
	statusErr error
}

func (f *fakeMigrator) MigrateUp(_ context.Context, steps int) error {
	f.up = append(f.up, steps)
	return f.err
}

func (f *fakeMigrator) MigrateDown(_ context.Context, steps int) error {
	f.down = append(f.down, steps)
	return f.err
}

func (f *fakeMigrator) MigrationStatus(context.Context) (postgres.MigrationState, error) {
	return f.state, f.statusErr
}

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs([]string{"-direction", " DOWN ", "-steps", "2", "-json"}, io.Discard,
		env(map[string]string{envPostgresDSN: " postgres://env/oms "}))
	require.NoError(t, err)
	assert.Equal(t, options{direction: "down", steps: 2, dsn: "postgres://env/oms", timeout: 30 * time.Second, asJSON: true}, opts)

	opts, err = parseArgs([]string{"-dsn", "postgres://flag/oms"}, io.Discard,
		env(map[string]string{envPostgresDSN: "postgres://env/oms"}))
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag/oms", opts.dsn, "flag wins over env")
	assert.Equal(t, "up", opts.direction)
}

func TestParseArgs_Invalid(t *testing.T) {
	noEnv := env(nil)
	tests := map[string][]string{
		"missing dsn":       {"-direction", "status"},
		"unknown direction": {"-direction", "sideways", "-dsn", "postgres://x"},
		"negative steps":    {"-steps", "-1", "-dsn", "postgres://x"},
		"zero timeout":      {"-timeout", "0s", "-dsn", "postgres://x"},
		"unknown flag":      {"-force"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseArgs(args, io.Discard, noEnv)
			assert.Error(t, err)
		})
	}

	_, err := parseArgs([]string{"-h"}, io.Discard, noEnv)
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestRun_Directions(t *testing.T) {
	store := &fakeMigrator{state: postgres.MigrationState{Version: 1, Latest: 2, Applied: 1, Pending: 1}}
	ctx := context.Background()
	var out bytes.Buffer

	require.NoError(t, run(ctx, store, options{direction: "up"}, &out))
	require.NoError(t, run(ctx, store, options{direction: "down"}, &out))
	require.NoError(t, run(ctx, store, options{direction: "down", steps: 3}, &out))
	require.NoError(t, run(ctx, store, options{direction: "status"}, &out))

	assert.Equal(t, []int{0}, store.up)
	assert.Equal(t, []int{1, 3}, store.down, "down rolls back at least one migration")
	assert.Contains(t, out.String(), "migrate status ok: version=1/2 applied=1 pending=1")
}

func TestRun_JSON(t *testing.T) {
	store := &fakeMigrator{state: postgres.MigrationState{Version: 2, Latest: 2, Applied: 2}}
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), store, options{direction: "status", asJSON: true}, &out))
	assert.JSONEq(t, `{"direction":"status","version":2,"latest":2,"applied":2,"pending":0}`, out.String())
}

func TestRun_Errors(t *testing.T) {
	ctx := context.Background()

	err := run(ctx, &fakeMigrator{err: errors.New("lock timeout")}, options{direction: "up"}, io.Discard)
	assert.ErrorContains(t, err, "migrate up: lock timeout")

	err = run(ctx, &fakeMigrator{err: errors.New("lock timeout")}, options{direction: "down"}, io.Discard)
	assert.ErrorContains(t, err, "migrate down")

	err = run(ctx, &fakeMigrator{statusErr: errors.New("no table")}, options{direction: "status"}, io.Discard)
	assert.ErrorContains(t, err, "migration status")

	assert.Error(t, run(ctx, &fakeMigrator{}, options{direction: "sideways"}, io.Discard))
}

func TestRun_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("OMS_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("OMS_POSTGRES_TEST_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := postgres.Open(ctx, dsn, postgres.Pool{MaxOpenConns: 2})
	if err != nil {
		t.Skipf("postgres is not reachable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	for _, opts := range []options{{direction: "up"}, {direction: "down", steps: 1}, {direction: "up"}} {
		require.NoError(t, run(ctx, store, opts, io.Discard), opts.direction)
	}
	var out bytes.Buffer
	require.NoError(t, run(ctx, store, options{direction: "status"}, &out))
	assert.Contains(t, out.String(), "pending=0")
}
