package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/osprey-db/osprey/db"
	"github.com/pkg/errors"
)

const DefaultTable = "schema_migrations"

var ErrUnreadableRecord = errors.New("could not read ledger record")

// Record is one row of the ledger: a version that has completed its
// forward operation and when it did.
type Record struct {
	Version   string
	AppliedAt time.Time
}

// Ledger is the durable source of truth for which migration versions
// have been applied. It owns exactly one table and nothing else; in
// particular it does not open a transaction spanning the schema change
// and the bookkeeping write, so a forward operation that fails midway
// leaves the version unrecorded even if some DDL already ran.
type Ledger struct {
	ex      db.Executor
	table   string
	dialect db.Dialect
}

func New(ex db.Executor, table string, dialect db.Dialect) *Ledger {
	if table == "" {
		table = DefaultTable
	}

	return &Ledger{ex: ex, table: table, dialect: dialect}
}

func (l *Ledger) Table() string {
	return l.table
}

// EnsureTable creates the ledger table if absent. Safe to call on
// every startup.
func (l *Ledger) EnsureTable(ctx context.Context) error {
	query, err := l.createTableQuery()
	if err != nil {
		return err
	}

	if err := l.ex.Execute(ctx, query); err != nil {
		return errors.Wrapf(err, "could not ensure ledger table [%s]", l.table)
	}

	return nil
}

// ListApplied returns all recorded versions sorted ascending.
func (l *Ledger) ListApplied(ctx context.Context) ([]Record, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", l.table)

	rows, err := l.ex.Fetch(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read applied versions from [%s]", l.table)
	}

	records := make([]Record, 0, len(rows))
	for i := range rows {
		r, err := recordFromRow(rows[i])
		if err != nil {
			return nil, err
		}

		records = append(records, r)
	}

	return records, nil
}

// IsApplied reports whether version has a ledger record.
func (l *Ledger) IsApplied(ctx context.Context, version string) (bool, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE version = $1", l.table)

	v, err := l.ex.FetchVal(ctx, query, version)
	if err != nil {
		return false, errors.Wrapf(err, "could not check version [%s] in [%s]", version, l.table)
	}

	count, err := coerceCount(v)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// Record inserts a version. The primary key makes a duplicate insert
// fail; the error is surfaced to the caller, not swallowed.
func (l *Ledger) Record(ctx context.Context, version string) error {
	query := fmt.Sprintf("INSERT INTO %s (version) VALUES ($1)", l.table)

	if err := l.ex.Execute(ctx, query, version); err != nil {
		if db.IsUniqueViolation(err) {
			return errors.Wrapf(err, "version [%s] is already recorded in [%s]", version, l.table)
		}

		return errors.Wrapf(err, "could not record version [%s] in [%s]", version, l.table)
	}

	return nil
}

// Unrecord deletes a version. Deleting an absent version is a no-op;
// callers check IsApplied first.
func (l *Ledger) Unrecord(ctx context.Context, version string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE version = $1", l.table)

	if err := l.ex.Execute(ctx, query, version); err != nil {
		return errors.Wrapf(err, "could not remove version [%s] from [%s]", version, l.table)
	}

	return nil
}

func (l *Ledger) createTableQuery() (string, error) {
	switch l.dialect {
	case db.DialectPostgres, "":
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`, l.table), nil
	case db.DialectMySQL:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		) ENGINE=InnoDB`, l.table), nil
	case db.DialectSqlite:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, l.table), nil
	default:
		return "", errors.Wrapf(db.ErrUnsupportedDialect, "%s", l.dialect)
	}
}

func recordFromRow(row db.Row) (Record, error) {
	var r Record

	switch v := row["version"].(type) {
	case string:
		r.Version = v
	case []byte:
		r.Version = string(v)
	default:
		return r, errors.Wrapf(ErrUnreadableRecord, "unexpected version column type %T", row["version"])
	}

	switch at := row["applied_at"].(type) {
	case time.Time:
		r.AppliedAt = at
	case nil:
		// drivers without parseTime leave it to the caller
	case []byte:
		t, err := parseTimestamp(string(at))
		if err != nil {
			return r, err
		}
		r.AppliedAt = t
	case string:
		t, err := parseTimestamp(at)
		if err != nil {
			return r, err
		}
		r.AppliedAt = t
	default:
		return r, errors.Wrapf(ErrUnreadableRecord, "unexpected applied_at column type %T", row["applied_at"])
	}

	return r, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, errors.Wrapf(ErrUnreadableRecord, "unparseable applied_at [%s]", s)
}

func coerceCount(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, errors.Wrapf(ErrUnreadableRecord, "unexpected count type %T", v)
	}
}
