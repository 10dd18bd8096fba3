package db

import (
	"context"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const DefaultPostgresLockKey = 873412590

// PostgresExecutor runs statements through a pgx connection pool.
type PostgresExecutor struct {
	pool *pgxpool.Pool
}

var _ Executor = (*PostgresExecutor)(nil)

func NewPostgresExecutor(pool *pgxpool.Pool) *PostgresExecutor {
	return &PostgresExecutor{pool: pool}
}

// Pool exposes the underlying pool, e.g. to pin a locker connection.
func (e *PostgresExecutor) Pool() *pgxpool.Pool {
	return e.pool
}

// ConnectPostgres creates a pooled executor from a connection string.
func ConnectPostgres(ctx context.Context, url string) (*PostgresExecutor, func() error, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "could not connect to postgres at [%s]", url)
	}

	closer := func() error {
		pool.Close()
		return nil
	}

	return NewPostgresExecutor(pool), closer, nil
}

func (e *PostgresExecutor) Execute(ctx context.Context, statement string, args ...interface{}) error {
	if _, err := e.pool.Exec(ctx, statement, args...); err != nil {
		return errors.Wrapf(err, "postgres exec failed")
	}

	return nil
}

func (e *PostgresExecutor) Fetch(ctx context.Context, query string, args ...interface{}) ([]Row, error) {
	rows, err := e.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "postgres query failed")
	}

	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, errors.Wrapf(err, "postgres row scan failed")
	}

	result := make([]Row, len(maps))
	for i := range maps {
		result[i] = Row(maps[i])
	}

	return result, nil
}

func (e *PostgresExecutor) FetchVal(ctx context.Context, query string, args ...interface{}) (interface{}, error) {
	var v interface{}
	if err := e.pool.QueryRow(ctx, query, args...).Scan(&v); err != nil {
		return nil, errors.Wrapf(err, "postgres scalar query failed")
	}

	return v, nil
}

// IsUniqueViolation reports whether err was caused by a unique or primary
// key constraint, such as inserting an already recorded version.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}

	return false
}

// PostgresAdvisoryLocker serializes migration runs with a session level
// advisory lock. The lock is keyed so that unrelated tools sharing the
// database do not contend with it. pg_advisory_lock belongs to the
// session that took it, so the locker acquires one connection from the
// pool on Lock and releases the lock on that same connection in Unlock.
type PostgresAdvisoryLocker struct {
	pool *pgxpool.Pool
	key  int64
	conn *pgxpool.Conn
}

var _ Locker = (*PostgresAdvisoryLocker)(nil)

func NewPostgresAdvisoryLocker(pool *pgxpool.Pool, key int64) *PostgresAdvisoryLocker {
	if key == 0 {
		key = DefaultPostgresLockKey
	}

	return &PostgresAdvisoryLocker{pool: pool, key: key}
}

func (l *PostgresAdvisoryLocker) Lock(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return errors.Wrapf(err, "could not acquire a connection for advisory lock [%d]", l.key)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", l.key); err != nil {
		conn.Release()
		return errors.Wrapf(err, "could not obtain advisory lock [%d]", l.key)
	}

	l.conn = conn

	return nil
}

func (l *PostgresAdvisoryLocker) Unlock(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}

	defer func() {
		l.conn.Release()
		l.conn = nil
	}()

	var released bool
	if err := l.conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", l.key).Scan(&released); err != nil {
		return errors.Wrapf(err, "could not release advisory lock [%d]", l.key)
	}

	if !released {
		return errors.Errorf("advisory lock [%d] was not held by the locker session", l.key)
	}

	return nil
}
