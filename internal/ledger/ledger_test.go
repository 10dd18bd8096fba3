package ledger

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/osprey-db/osprey/db"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memExecutor emulates just enough of a database to serve the fixed
// set of statements the ledger issues.
type memExecutor struct {
	tableCreated bool
	applied      map[string]time.Time
	executed     []string
}

func newMemExecutor() *memExecutor {
	return &memExecutor{applied: make(map[string]time.Time)}
}

func (e *memExecutor) Execute(_ context.Context, statement string, args ...interface{}) error {
	e.executed = append(e.executed, statement)

	switch {
	case strings.HasPrefix(statement, "CREATE TABLE"):
		e.tableCreated = true
	case strings.HasPrefix(statement, "INSERT INTO"):
		version := args[0].(string)
		if _, ok := e.applied[version]; ok {
			return &pgconn.PgError{Code: pgerrcode.UniqueViolation, Message: "duplicate key value violates unique constraint"}
		}
		e.applied[version] = time.Now().UTC()
	case strings.HasPrefix(statement, "DELETE FROM"):
		delete(e.applied, args[0].(string))
	}

	return nil
}

func (e *memExecutor) Fetch(_ context.Context, _ string, _ ...interface{}) ([]db.Row, error) {
	versions := make([]string, 0, len(e.applied))
	for v := range e.applied {
		versions = append(versions, v)
	}
	sort.Strings(versions)

	rows := make([]db.Row, 0, len(versions))
	for _, v := range versions {
		rows = append(rows, db.Row{"version": v, "applied_at": e.applied[v]})
	}

	return rows, nil
}

func (e *memExecutor) FetchVal(_ context.Context, _ string, args ...interface{}) (interface{}, error) {
	if _, ok := e.applied[args[0].(string)]; ok {
		return int64(1), nil
	}

	return int64(0), nil
}

func Test_EnsureTable_IsIdempotent(t *testing.T) {
	ex := newMemExecutor()
	l := New(ex, "", db.DialectPostgres)

	ctx := context.Background()
	require.NoError(t, l.EnsureTable(ctx))
	require.NoError(t, l.EnsureTable(ctx))

	assert.True(t, ex.tableCreated)
	assert.Equal(t, DefaultTable, l.Table())
	assert.Contains(t, ex.executed[0], "CREATE TABLE IF NOT EXISTS schema_migrations")
	assert.Contains(t, ex.executed[0], "TIMESTAMPTZ DEFAULT NOW()")
}

func Test_CreateTableQuery_PerDialect(t *testing.T) {
	t.Parallel()

	mysql, err := New(newMemExecutor(), "ledger", db.DialectMySQL).createTableQuery()
	require.NoError(t, err)
	assert.Contains(t, mysql, "ENGINE=InnoDB")
	assert.Contains(t, mysql, "CREATE TABLE IF NOT EXISTS ledger")

	sqlite, err := New(newMemExecutor(), "ledger", db.DialectSqlite).createTableQuery()
	require.NoError(t, err)
	assert.Contains(t, sqlite, "TIMESTAMP DEFAULT CURRENT_TIMESTAMP")

	_, err = New(newMemExecutor(), "ledger", "oracle").createTableQuery()
	assert.True(t, errors.Is(err, db.ErrUnsupportedDialect))
}

func Test_RecordRoundTrip(t *testing.T) {
	ex := newMemExecutor()
	l := New(ex, "", db.DialectPostgres)
	ctx := context.Background()

	applied, err := l.IsApplied(ctx, "001_create_agent_memory")
	require.NoError(t, err)
	assert.False(t, applied)

	require.NoError(t, l.Record(ctx, "001_create_agent_memory"))

	applied, err = l.IsApplied(ctx, "001_create_agent_memory")
	require.NoError(t, err)
	assert.True(t, applied)

	require.NoError(t, l.Unrecord(ctx, "001_create_agent_memory"))

	applied, err = l.IsApplied(ctx, "001_create_agent_memory")
	require.NoError(t, err)
	assert.False(t, applied)
}

func Test_Record_DuplicateVersionFails(t *testing.T) {
	l := New(newMemExecutor(), "", db.DialectPostgres)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "002_create_tasks_table"))

	err := l.Record(ctx, "002_create_tasks_table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already recorded")
	assert.True(t, db.IsUniqueViolation(err))
}

func Test_Unrecord_AbsentVersionIsNoop(t *testing.T) {
	l := New(newMemExecutor(), "", db.DialectPostgres)

	assert.NoError(t, l.Unrecord(context.Background(), "404_never_there"))
}

func Test_ListApplied_SortedAscending(t *testing.T) {
	l := New(newMemExecutor(), "", db.DialectPostgres)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "002_create_tasks_table"))
	require.NoError(t, l.Record(ctx, "001_create_agent_memory"))

	records, err := l.ListApplied(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "001_create_agent_memory", records[0].Version)
	assert.Equal(t, "002_create_tasks_table", records[1].Version)
	assert.False(t, records[0].AppliedAt.IsZero())
}

func Test_RecordFromRow_CoercesDriverTypes(t *testing.T) {
	t.Parallel()

	r, err := recordFromRow(db.Row{"version": []byte("001_a"), "applied_at": "2026-08-26 10:00:00"})
	require.NoError(t, err)
	assert.Equal(t, "001_a", r.Version)
	assert.Equal(t, 2026, r.AppliedAt.Year())

	_, err = recordFromRow(db.Row{"version": 42, "applied_at": time.Now()})
	assert.True(t, errors.Is(err, ErrUnreadableRecord))

	_, err = recordFromRow(db.Row{"version": "001_a", "applied_at": "not a timestamp"})
	assert.True(t, errors.Is(err, ErrUnreadableRecord))
}

func Test_CoerceCount(t *testing.T) {
	t.Parallel()

	for _, v := range []interface{}{int64(3), int32(3), 3, []byte("3"), "3"} {
		n, err := coerceCount(v)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	}

	_, err := coerceCount(3.5)
	assert.True(t, errors.Is(err, ErrUnreadableRecord))
}
