package osprey

import (
	"github.com/osprey-db/osprey/db"
	"github.com/osprey-db/osprey/internal/logger"
	"github.com/osprey-db/osprey/internal/source"
	"github.com/osprey-db/osprey/migration"
)

type OptionFunc func(*Manager) error

// UseLocalFolderSource discovers declarative SQL migration files in the
// given folder. The source is built after all options are applied so
// that it picks up the configured logger.
func UseLocalFolderSource(folder string) OptionFunc {
	return func(m *Manager) error {
		m.folder = folder
		return nil
	}
}

// UseGoMigrations installs a compiled-in registry of migration units,
// avoiding any filesystem scanning at runtime.
func UseGoMigrations(units ...*migration.Migration) OptionFunc {
	return func(m *Manager) error {
		s, err := source.NewInMemory(units...)
		if err != nil {
			return err
		}

		m.src = s
		return nil
	}
}

// UseLedgerTable overrides the default schema_migrations table name.
func UseLedgerTable(table string) OptionFunc {
	return func(m *Manager) error {
		m.table = table
		return nil
	}
}

// UseDialect selects the SQL flavor for the ledger table DDL.
func UseDialect(d db.Dialect) OptionFunc {
	return func(m *Manager) error {
		m.dialect = d
		return nil
	}
}

// UseLocker serializes Migrate and Rollback runs through a database
// level lock. Without it the manager assumes a deployment level
// single-writer guarantee.
func UseLocker(l db.Locker) OptionFunc {
	return func(m *Manager) error {
		m.locker = l
		return nil
	}
}

func UseColorLogger(p logger.Printer, printSQL, printDebug bool) OptionFunc {
	return func(m *Manager) error {
		m.lg = logger.NewColorLogger(p, printSQL, printDebug)
		return nil
	}
}
