package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Номер advisory-lock, под которым сериализуются миграции разных реплик OrderService.
const orderMigrationsLock = int64(0x0D5A6A)

const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

// 0001_orders.up.sql -> version=1, name=orders, direction=up
var migrationFileRe = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m migration) label() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// MigrationState описывает состояние схемы заказов.
type MigrationState struct {
	Version int64 // последняя применённая версия, 0 если схема пустая
	Latest  int64 // последняя встроенная версия
	Applied int
	Pending int
}

// MigrateUp применяет up-миграции; steps=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает steps последних миграций (минимум одну).
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationDown, max(steps, 1))
}

func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errNotInitialized
	}
	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, schemaMigrationsDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	var state MigrationState
	err = s.db.QueryRowContext(queryCtx, `SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`).
		Scan(&state.Version, &state.Applied)
	if err != nil {
		return MigrationState{}, fmt.Errorf("read schema_migrations: %w", err)
	}

	state.Pending = pendingCount(migrations, state.Version)
	if n := len(migrations); n > 0 {
		state.Latest = migrations[n-1].Version
	}
	return state, nil
}

func pendingCount(migrations []migration, applied int64) int {
	n := 0
	for _, m := range migrations {
		if m.Version > applied {
			n++
		}
	}
	return n
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if direction != migrationUp && direction != migrationDown {
		return fmt.Errorf("unsupported migration direction: %s", direction)
	}

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	// advisory-lock живёт на соединении, поэтому вся миграция идёт через один conn
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	_, err = conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", orderMigrationsLock)
	cancel()
	if err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", orderMigrationsLock)
	}()

	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	var plan []migration
	if direction == migrationUp {
		plan = planUp(migrations, applied, steps)
	} else if plan, err = planDown(migrations, applied, steps); err != nil {
		return err
	}

	for _, m := range plan {
		started := time.Now()
		if err := runMigration(ctx, conn, m, direction); err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"migration":   m.label(),
			"direction":   direction,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("migration applied")
	}
	return nil
}

// planUp выбирает ещё не применённые миграции по возрастанию версии.
func planUp(migrations []migration, applied []int64, steps int) []migration {
	done := make(map[int64]struct{}, len(applied))
	for _, v := range applied {
		done[v] = struct{}{}
	}

	var plan []migration
	for _, m := range migrations {
		if _, ok := done[m.Version]; ok {
			continue
		}
		plan = append(plan, m)
		if steps > 0 && len(plan) == steps {
			break
		}
	}
	return plan
}

// planDown выбирает steps последних применённых миграций от новой к старой.
// Версия, которой нет среди встроенных файлов, откатить нельзя.
func planDown(migrations []migration, applied []int64, steps int) ([]migration, error) {
	byVersion := make(map[int64]migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	var plan []migration
	for i := len(applied) - 1; i >= 0 && len(plan) < steps; i-- {
		m, ok := byVersion[applied[i]]
		if !ok {
			return nil, fmt.Errorf("cannot rollback unknown migration version %d", applied[i])
		}
		plan = append(plan, m)
	}
	return plan, nil
}

func runMigration(ctx context.Context, conn *sql.Conn, m migration, direction migrationDirection) error {
	body, record, args := m.UpSQL, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, []any{m.Version, m.Name}
	if direction == migrationDown {
		body, record, args = m.DownSQL, `DELETE FROM schema_migrations WHERE version = $1`, []any{m.Version}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %s %s: begin: %w", direction, m.label(), err)
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s %s: execute: %w", direction, m.label(), err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s %s: record: %w", direction, m.label(), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %s %s: commit: %w", direction, m.label(), err)
	}
	return nil
}

// appliedVersions возвращает применённые версии по возрастанию.
func appliedVersions(ctx context.Context, conn *sql.Conn) ([]int64, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func parseMigrationFile(base string) (version int64, name string, direction migrationDirection, err error) {
	m := migrationFileRe.FindStringSubmatch(base)
	if m == nil {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", base)
	}
	version, err = strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("parse migration version from %s: %w", base, err)
	}
	return version, m[2], migrationDirection(m[3]), nil
}

func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, "sql/migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		version, name, direction, err := parseMigrationFile(base)
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", base, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if m.Name != name {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
		}

		target := &m.UpSQL
		if direction == migrationDown {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.label())
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}
