package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

const (
	pingTimeout = 5 * time.Second
	opTimeout   = 5 * time.Second

	pgUniqueViolation = "23505"
)

var errNotInitialized = errors.New("postgres store is not initialized")

// Pool — параметры пула database/sql. Нулевые поля получают значения по умолчанию.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (p Pool) apply(db *sql.DB) {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = 25
	}
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = p.MaxOpenConns
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = 30 * time.Minute
	}
	if p.ConnMaxIdleTime <= 0 {
		p.ConnMaxIdleTime = 5 * time.Minute
	}
	db.SetMaxOpenConns(p.MaxOpenConns)
	db.SetMaxIdleConns(min(p.MaxIdleConns, p.MaxOpenConns))
	db.SetConnMaxLifetime(p.ConnMaxLifetime)
	db.SetConnMaxIdleTime(p.ConnMaxIdleTime)
}

// Store держит подключение к PostgreSQL через pgx/stdlib и транзакции поверх него.
type Store struct {
	db *sql.DB
}

// Open открывает пул и проверяет, что база отвечает.
func Open(ctx context.Context, dsn string, pool Pool) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pool.apply(db)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// NewStore оборачивает готовый *sql.DB (в тестах sqlmock).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema доводит схему до последней встроенной миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type txKey struct{}

// executor — общее подмножество *sql.DB и *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithinTransaction выполняет fn в транзакции. Репозитории, получившие ctx из fn,
// пишут в неё же; вложенный вызов переиспользует внешнюю транзакцию.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, nested := ctx.Value(txKey{}).(*sql.Tx); nested {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit tx", err)
	}
	committed = true
	return nil
}

// conn возвращает транзакцию из ctx или пул.
func (s *Store) conn(ctx context.Context) executor {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// exec выполняет одну команду с таймаутом opTimeout и возвращает число затронутых строк.
func (s *Store) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storageErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr(op, err)
	}
	return n, nil
}

// each вызывает scan для каждой строки результата запроса.
func (s *Store) each(ctx context.Context, op, query string, args []any, scan func(*sql.Rows) error) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return storageErr(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return storageErr(op, err)
		}
	}
	if err := rows.Err(); err != nil {
		return storageErr(op, err)
	}
	return nil
}

// storageErr помечает ошибку драйвера как временный сбой хранилища.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorage, op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

var _ domain.Transactor = (*Store)(nil)
