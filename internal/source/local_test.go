package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/osprey-db/osprey/db"
	"github.com/osprey-db/osprey/internal/logger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stubsFolder = "./stubs"

type recordingExecutor struct {
	statements []string
}

func (e *recordingExecutor) Execute(_ context.Context, statement string, _ ...interface{}) error {
	e.statements = append(e.statements, statement)
	return nil
}

func (e *recordingExecutor) Fetch(_ context.Context, _ string, _ ...interface{}) ([]db.Row, error) {
	return nil, nil
}

func (e *recordingExecutor) FetchVal(_ context.Context, _ string, _ ...interface{}) (interface{}, error) {
	return nil, nil
}

func Test_Discover_ReturnsOrderedMigrationFiles(t *testing.T) {
	lfs := NewLocalFS(stubsFolder, &logger.NullLogger{})

	locations, err := lfs.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(stubsFolder, "001_create_agent_memory.sql"),
		filepath.Join(stubsFolder, "002_create_tasks_table.sql"),
		filepath.Join(stubsFolder, "003_seed_sample_task.sql"),
	}, locations)
}

func Test_Discover_IsIdempotent(t *testing.T) {
	lfs := NewLocalFS(stubsFolder, &logger.NullLogger{})

	first, err := lfs.Discover(context.Background())
	require.NoError(t, err)

	second, err := lfs.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func Test_Discover_MissingFolderYieldsEmptyResult(t *testing.T) {
	lfs := NewLocalFS("./does_not_exist_anywhere", &logger.NullLogger{})

	locations, err := lfs.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, locations)
}

func Test_NameOf(t *testing.T) {
	lfs := NewLocalFS(stubsFolder, &logger.NullLogger{})

	assert.Equal(
		t,
		"001_create_agent_memory",
		lfs.NameOf(filepath.Join(stubsFolder, "001_create_agent_memory.sql")),
	)
}

func Test_Load_ParsesUpAndDownSections(t *testing.T) {
	lfs := NewLocalFS(stubsFolder, &logger.NullLogger{})

	m, err := lfs.Load(context.Background(), filepath.Join(stubsFolder, "001_create_agent_memory.sql"))
	require.NoError(t, err)

	assert.Equal(t, "001_create_agent_memory", m.Key)
	assert.Equal(t, "001", m.Version)
	assert.Equal(t, "create_agent_memory", m.Name)
	require.NotNil(t, m.Up)
	require.NotNil(t, m.Down)

	ex := &recordingExecutor{}
	require.NoError(t, m.Up(context.Background(), ex))
	require.Len(t, ex.statements, 4)
	assert.Equal(t, "CREATE EXTENSION IF NOT EXISTS vector", ex.statements[0])
	assert.Contains(t, ex.statements[1], "CREATE TABLE IF NOT EXISTS agent_memory")

	ex = &recordingExecutor{}
	require.NoError(t, m.Down(context.Background(), ex))
	require.Len(t, ex.statements, 1)
	assert.Equal(t, "DROP TABLE IF EXISTS agent_memory", ex.statements[0])
}

func Test_Load_KeepsDollarQuotedBodiesIntact(t *testing.T) {
	lfs := NewLocalFS(stubsFolder, &logger.NullLogger{})

	m, err := lfs.Load(context.Background(), filepath.Join(stubsFolder, "002_create_tasks_table.sql"))
	require.NoError(t, err)

	ex := &recordingExecutor{}
	require.NoError(t, m.Up(context.Background(), ex))

	// table, two indexes, trigger function, trigger
	require.Len(t, ex.statements, 5)
	assert.Contains(t, ex.statements[3], "NEW.updated_at = NOW();")
	assert.Contains(t, ex.statements[3], "$$ language 'plpgsql'")
	assert.Contains(t, ex.statements[4], "CREATE TRIGGER trigger_tasks_updated_at")
}

func Test_Load_UpOnlyFileHasNoDownOperation(t *testing.T) {
	lfs := NewLocalFS(stubsFolder, &logger.NullLogger{})

	m, err := lfs.Load(context.Background(), filepath.Join(stubsFolder, "003_seed_sample_task.sql"))
	require.NoError(t, err)

	assert.NotNil(t, m.Up)
	assert.Nil(t, m.Down)
}

func Test_Load_MissingFile(t *testing.T) {
	lfs := NewLocalFS(stubsFolder, &logger.NullLogger{})

	_, err := lfs.Load(context.Background(), filepath.Join(stubsFolder, "999_never_written.sql"))
	assert.True(t, errors.Is(err, ErrSourceNotFound))
}

func Test_Load_FileWithoutMarkersIsInvalid(t *testing.T) {
	folder := t.TempDir()
	path := filepath.Join(folder, "001_raw_sql.sql")
	require.NoError(t, os.WriteFile(path, []byte("CREATE TABLE plain (id INT);"), 0o644))

	lfs := NewLocalFS(folder, &logger.NullLogger{})

	_, err := lfs.Load(context.Background(), path)
	assert.True(t, errors.Is(err, ErrInvalidFormat))
}

func Test_Load_RejectsMalformedKeys(t *testing.T) {
	folder := t.TempDir()
	path := filepath.Join(folder, "1_x.sql")
	require.NoError(t, os.WriteFile(path, []byte("-- +up\nSELECT 1;"), 0o644))

	lfs := NewLocalFS(folder, &logger.NullLogger{})

	_, err := lfs.Load(context.Background(), path)
	assert.True(t, errors.Is(err, ErrInvalidFormat))
}

func Test_SplitStatements(t *testing.T) {
	t.Parallel()

	t.Run("semicolons inside string literals do not split", func(t *testing.T) {
		statements := splitStatements("INSERT INTO t (c) VALUES ('a;b'); SELECT 1;")
		require.Len(t, statements, 2)
		assert.Equal(t, "INSERT INTO t (c) VALUES ('a;b')", statements[0])
	})

	t.Run("trailing statement without semicolon is kept", func(t *testing.T) {
		statements := splitStatements("SELECT 1;\nSELECT 2")
		require.Len(t, statements, 2)
		assert.Equal(t, "SELECT 2", statements[1])
	})

	t.Run("empty section yields nothing", func(t *testing.T) {
		assert.Empty(t, splitStatements("\n   \n"))
	})

}
