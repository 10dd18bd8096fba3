package db

import (
	"context"

	"github.com/pkg/errors"
)

var ErrUnsupportedDialect = errors.New("unsupported database dialect")

// Row is a single result row keyed by column name.
type Row map[string]interface{}

// Executor runs parameterized statements against a database. Statements
// are written with $1-style placeholders; implementations for drivers
// with a different placeholder style must rebind before executing.
// Errors are always surfaced by returning, never by sentinel values.
type Executor interface {
	Execute(ctx context.Context, statement string, args ...interface{}) error
	Fetch(ctx context.Context, query string, args ...interface{}) ([]Row, error)
	FetchVal(ctx context.Context, query string, args ...interface{}) (interface{}, error)
}

// Locker guards a migration run against concurrent writers on the same
// database. Lock blocks until acquired or the context is cancelled.
// Advisory locks are session scoped, so a Locker pins one dedicated
// connection between Lock and Unlock; taking or releasing the lock on
// an arbitrary pooled connection would leave it held by an idle
// session.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSqlite   Dialect = "sqlite"
)

type NullLocker struct{}

var _ Locker = (*NullLocker)(nil)

func (NullLocker) Lock(_ context.Context) error   { return nil }
func (NullLocker) Unlock(_ context.Context) error { return nil }
