package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const (
	DefaultMySQLLockKey     = "osprey_migrations"
	DefaultMySQLLockSeconds = 3
)

// SQLExecutor adapts a sqlx connection to the Executor contract. It
// rebinds $1-style placeholders to whatever the underlying driver
// expects, so the same ledger statements run on MySQL and SQLite.
type SQLExecutor struct {
	db *sqlx.DB
}

var _ Executor = (*SQLExecutor)(nil)

func NewSQLExecutor(db *sqlx.DB) *SQLExecutor {
	return &SQLExecutor{db: db}
}

// DB exposes the underlying connection, e.g. to pin a locker session.
func (e *SQLExecutor) DB() *sqlx.DB {
	return e.db
}

// rebind maps $N placeholders to the driver's style. sqlx.Rebind only
// converts from the ? form, so $N is normalized to ? first; for MySQL
// and SQLite that already is the native form.
func (e *SQLExecutor) rebind(statement string) string {
	return e.db.Rebind(dollarToQuestion(statement))
}

// dollarToQuestion replaces $N placeholders with ?, leaving single
// quoted literals untouched. Placeholders must appear in argument
// order, which holds for every statement the ledger and sources issue.
func dollarToQuestion(statement string) string {
	var buf strings.Builder
	inSingleQuote := false

	for i := 0; i < len(statement); i++ {
		c := statement[i]

		switch {
		case inSingleQuote:
			if c == '\'' {
				inSingleQuote = false
			}
		case c == '\'':
			inSingleQuote = true
		case c == '$' && i+1 < len(statement) && statement[i+1] >= '0' && statement[i+1] <= '9':
			buf.WriteByte('?')
			for i+1 < len(statement) && statement[i+1] >= '0' && statement[i+1] <= '9' {
				i++
			}
			continue
		}

		buf.WriteByte(c)
	}

	return buf.String()
}

// ConnectSQL opens a database/sql backed executor for the given driver.
func ConnectSQL(driver, dsn string) (*SQLExecutor, func() error, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "could not open [%s] connection", driver)
	}

	return NewSQLExecutor(db), db.Close, nil
}

func (e *SQLExecutor) Execute(ctx context.Context, statement string, args ...interface{}) error {
	if _, err := e.db.ExecContext(ctx, e.rebind(statement), args...); err != nil {
		return errors.Wrapf(err, "%s exec failed", e.db.DriverName())
	}

	return nil
}

func (e *SQLExecutor) Fetch(ctx context.Context, query string, args ...interface{}) ([]Row, error) {
	rows, err := e.db.QueryxContext(ctx, e.rebind(query), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "%s query failed", e.db.DriverName())
	}

	defer rows.Close()

	var result []Row
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, errors.Wrapf(err, "%s row scan failed", e.db.DriverName())
		}

		result = append(result, Row(row))
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "%s rows iteration failed", e.db.DriverName())
	}

	return result, nil
}

func (e *SQLExecutor) FetchVal(ctx context.Context, query string, args ...interface{}) (interface{}, error) {
	var v interface{}
	if err := e.db.QueryRowxContext(ctx, e.rebind(query), args...).Scan(&v); err != nil {
		return nil, errors.Wrapf(err, "%s scalar query failed", e.db.DriverName())
	}

	return v, nil
}

// MySQLLocker serializes migration runs via GET_LOCK. The lock lives
// in the session that took it, so Lock checks one connection out of
// the pool and Unlock releases the lock on that same connection before
// handing it back.
type MySQLLocker struct {
	db      *sqlx.DB
	lockKey string
	lockFor int
	conn    *sql.Conn
}

var _ Locker = (*MySQLLocker)(nil)

func NewMySQLLocker(db *sqlx.DB, lockKey string, lockFor int) *MySQLLocker {
	if lockKey == "" {
		lockKey = DefaultMySQLLockKey
	}

	if lockFor <= 0 {
		lockFor = DefaultMySQLLockSeconds
	}

	return &MySQLLocker{db: db, lockKey: lockKey, lockFor: lockFor}
}

func (l *MySQLLocker) Lock(ctx context.Context) error {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return errors.Wrapf(err, "could not acquire a connection for [%s] MySQL DB lock", l.lockKey)
	}

	// GET_LOCK yields 1 on success, 0 on timeout and NULL on error
	var acquired sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", l.lockKey, l.lockFor).Scan(&acquired); err != nil {
		_ = conn.Close()
		return errors.Wrapf(err, "could not obtain [%s] exclusive MySQL DB lock for [%d] seconds", l.lockKey, l.lockFor)
	}

	if !acquired.Valid || acquired.Int64 != 1 {
		_ = conn.Close()
		return errors.Errorf("could not obtain [%s] exclusive MySQL DB lock within [%d] seconds", l.lockKey, l.lockFor)
	}

	l.conn = conn

	return nil
}

func (l *MySQLLocker) Unlock(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}

	defer func() {
		_ = l.conn.Close()
		l.conn = nil
	}()

	if _, err := l.conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", l.lockKey); err != nil {
		return errors.Wrapf(err, "could not release [%s] exclusive MySQL DB lock", l.lockKey)
	}

	return nil
}
