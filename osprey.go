// Package osprey tracks and applies ordered, reversible schema changes
// to a relational database. Every unit runs at most once; the ledger
// table is the single source of truth for what has been applied.
package osprey

import (
	"context"
	"time"

	"github.com/osprey-db/osprey/db"
	"github.com/osprey-db/osprey/internal/ledger"
	"github.com/osprey-db/osprey/internal/logger"
	"github.com/osprey-db/osprey/internal/source"
	"github.com/osprey-db/osprey/migration"
	"github.com/pkg/errors"
)

// Applied is one ledger entry for status reporting.
type Applied struct {
	Key       string
	AppliedAt time.Time
}

// Manager orchestrates the registry, the ledger and the executor. It
// holds no shared state beyond its collaborators: construct one per
// process or per test and pass it around explicitly.
type Manager struct {
	lg      logger.Logger
	ex      db.Executor
	src     source.Source
	ledger  *ledger.Ledger
	locker  db.Locker
	folder  string
	table   string
	dialect db.Dialect
}

// New creates a migration manager bound to the given executor. Without
// options it discovers SQL files in ./migrations and keeps its ledger
// in schema_migrations using Postgres DDL.
func New(ex db.Executor, opts ...OptionFunc) (*Manager, error) {
	if ex == nil {
		return nil, ErrExecutorNotProvided
	}

	m := &Manager{
		ex:      ex,
		lg:      &logger.NullLogger{},
		locker:  db.NullLocker{},
		dialect: db.DialectPostgres,
	}

	for _, oFunc := range opts {
		if err := oFunc(m); err != nil {
			return nil, err
		}
	}

	if m.src == nil {
		m.src = source.NewLocalFS(m.folder, m.lg)
	}

	m.ledger = ledger.New(ex, m.table, m.dialect)

	return m, nil
}

// Migrate applies every pending migration in ascending version order.
// The first failure aborts the run: later units stay unapplied and the
// ledger reflects exactly what succeeded. Returns the keys applied.
func (m *Manager) Migrate(ctx context.Context) ([]string, error) {
	var applied []string

	err := m.underLock(ctx, func() error {
		if err := m.ledger.EnsureTable(ctx); err != nil {
			return err
		}

		locations, err := m.src.Discover(ctx)
		if err != nil {
			return err
		}

		for _, location := range locations {
			key := m.src.NameOf(location)

			isApplied, err := m.ledger.IsApplied(ctx, key)
			if err != nil {
				return err
			}

			if isApplied {
				m.lg.Debugf("migration [%s] already applied", key)
				continue
			}

			if err := m.RunOne(ctx, location, migration.Up); err != nil {
				return err
			}

			applied = append(applied, key)
		}

		return nil
	})

	if err != nil {
		m.lg.Error(err)
		return applied, err
	}

	return applied, nil
}

// Rollback undoes a single applied version. Rolling back a version that
// was never applied (or already rolled back) is harmless: it logs a
// warning and does nothing. Multi-version rollback is the caller's
// job, one call per version in reverse order.
func (m *Manager) Rollback(ctx context.Context, version string) error {
	err := m.underLock(ctx, func() error {
		if err := m.ledger.EnsureTable(ctx); err != nil {
			return err
		}

		isApplied, err := m.ledger.IsApplied(ctx, version)
		if err != nil {
			return err
		}

		if !isApplied {
			m.lg.Warnf("migration [%s] is not applied, nothing to roll back", version)
			return nil
		}

		locations, err := m.src.Discover(ctx)
		if err != nil {
			return err
		}

		for _, location := range locations {
			if m.src.NameOf(location) == version {
				return m.RunOne(ctx, location, migration.Down)
			}
		}

		return errors.Wrapf(ErrMigrationNotFound, "%s", version)
	})

	if err != nil {
		m.lg.Error(err)
		return err
	}

	return nil
}

// RunOne loads and executes exactly one unit in the given direction,
// then updates the ledger: record going up, unrecord going down. It is
// the shared primitive behind Migrate and Rollback and performs no
// locking of its own.
func (m *Manager) RunOne(ctx context.Context, location string, d migration.Direction) error {
	unit, err := m.src.Load(ctx, location)
	if err != nil {
		return err
	}

	op := unit.Operation(d)
	if op == nil {
		return errors.Wrapf(source.ErrInvalidFormat, "migration [%s] has no %s operation", unit.Key, d)
	}

	if err := op(ctx, m.ex); err != nil {
		return &ExecutionError{Key: unit.Key, Direction: d, Err: err}
	}

	if d == migration.Down {
		if err := m.ledger.Unrecord(ctx, unit.Key); err != nil {
			return err
		}

		m.lg.Successf("rolled back migration [%s]", unit.Key)
		return nil
	}

	if err := m.ledger.Record(ctx, unit.Key); err != nil {
		return err
	}

	m.lg.Successf("applied migration [%s]", unit.Key)
	return nil
}

// Applied lists the ledger contents, sorted ascending by version.
func (m *Manager) Applied(ctx context.Context) ([]Applied, error) {
	if err := m.ledger.EnsureTable(ctx); err != nil {
		return nil, err
	}

	records, err := m.ledger.ListApplied(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Applied, len(records))
	for i := range records {
		result[i] = Applied{Key: records[i].Version, AppliedAt: records[i].AppliedAt}
	}

	return result, nil
}

// Discover lists the available unit locations in version order, for
// introspection and pending-work reporting.
func (m *Manager) Discover(ctx context.Context) ([]string, error) {
	return m.src.Discover(ctx)
}

// NameOf derives the {version}_{description} key a discovered location
// resolves to.
func (m *Manager) NameOf(location string) string {
	return m.src.NameOf(location)
}

func (m *Manager) underLock(ctx context.Context, f func() error) (err error) {
	if lockErr := m.locker.Lock(ctx); lockErr != nil {
		return lockErr
	}

	defer func() {
		if unlockErr := m.locker.Unlock(ctx); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}()

	return f()
}
