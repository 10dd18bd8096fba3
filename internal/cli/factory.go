package cli

import (
	"context"
	"io"
	"log"
	"os"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/osprey-db/osprey"
	"github.com/osprey-db/osprey/db"
)

type (
	managerFactory    func(ctx context.Context, cfg Config) (*osprey.Manager, CloserFunc, error)
	managerFactoryMap map[string]managerFactory

	migrationsSection struct {
		LocalFolder string `yaml:"local_folder"`
		DatabaseURL string `yaml:"database_url"`
		LedgerTable string `yaml:"ledger_table"`
		NoLock      bool   `yaml:"no_lock"`
		PrintSQL    bool   `yaml:"print_sql"`
		Debug       bool   `yaml:"debug"`
	}

	configFile struct {
		Version    string            `yaml:"version"`
		Migrations migrationsSection `yaml:"migrations"`
	}
)

const configFileStub = `version: "1"

migrations:
  database_url: "%%DATABASE_URL%%"
  local_folder: "./migrations"
  ledger_table: "schema_migrations"
  no_lock: false
  print_sql: false
  debug: false
`

func createConfigFromYaml(path string) (Config, error) {
	var cfg Config

	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrap(err, "could not open osprey configuration file")
	}

	defer func() {
		if errClose := f.Close(); errClose != nil {
			panic(errClose)
		}
	}()

	b, err := io.ReadAll(f)
	if err != nil {
		return cfg, errors.Wrap(err, "could not read osprey configuration file")
	}

	var cfgFile configFile
	if err := yaml.Unmarshal(b, &cfgFile); err != nil {
		return cfg, errors.Wrap(err, "could not parse osprey configuration file")
	}

	cfg.DatabaseURL = expandEnvValue(cfgFile.Migrations.DatabaseURL)
	cfg.MigrationsFolder = expandEnvValue(cfgFile.Migrations.LocalFolder)
	cfg.LedgerTable = cfgFile.Migrations.LedgerTable
	cfg.NoLock = cfgFile.Migrations.NoLock
	cfg.PrintSQL = cfgFile.Migrations.PrintSQL
	cfg.Debug = cfgFile.Migrations.Debug

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("database url was not defined")
	}

	if cfg.MigrationsFolder == "" {
		return cfg, errors.New("migrations folder was not defined")
	}

	return cfg, nil
}

// values wrapped in %% refer to environment variables, so credentials
// can stay out of the config file.
func expandEnvValue(v string) string {
	if strings.HasPrefix(v, "%%") && strings.HasSuffix(v, "%%") {
		return os.Getenv(strings.ReplaceAll(v, "%%", ""))
	}

	return v
}

func createManager(ctx context.Context, cfg Config) (*osprey.Manager, CloserFunc, error) {
	factoryMap := managerFactoryMap{
		"postgres": createPostgresManager,
		"mysql":    createMySQLManager,
		"sqlite":   createSqliteManager,
	}

	var driver string
	switch {
	case strings.HasPrefix(cfg.DatabaseURL, "postgres"):
		driver = "postgres"
	case strings.HasPrefix(cfg.DatabaseURL, "mysql"):
		driver = "mysql"
	case strings.HasPrefix(cfg.DatabaseURL, "sqlite"):
		driver = "sqlite"
	default:
		return nil, nil, errors.Wrapf(ErrUnknownDriver, "%s", cfg.DatabaseURL)
	}

	factory, ok := factoryMap[driver]
	if !ok {
		return nil, nil, errors.Wrapf(ErrUnknownDriver, "%s", driver)
	}

	return factory(ctx, cfg)
}

func createPostgresManager(ctx context.Context, cfg Config) (*osprey.Manager, CloserFunc, error) {
	ex, closer, err := db.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	opts := commonOptions(cfg, db.DialectPostgres)
	if !cfg.NoLock {
		opts = append(opts, osprey.UseLocker(db.NewPostgresAdvisoryLocker(ex.Pool(), db.DefaultPostgresLockKey)))
	}

	m, err := osprey.New(ex, opts...)
	if err != nil {
		if closeErr := closer(); closeErr != nil {
			return nil, nil, errors.Wrap(err, closeErr.Error())
		}

		return nil, nil, err
	}

	return m, CloserFunc(closer), nil
}

func createMySQLManager(_ context.Context, cfg Config) (*osprey.Manager, CloserFunc, error) {
	ex, closer, err := db.ConnectSQL("mysql", strings.TrimPrefix(cfg.DatabaseURL, "mysql://"))
	if err != nil {
		return nil, nil, err
	}

	opts := commonOptions(cfg, db.DialectMySQL)
	if !cfg.NoLock {
		opts = append(opts, osprey.UseLocker(db.NewMySQLLocker(ex.DB(), db.DefaultMySQLLockKey, db.DefaultMySQLLockSeconds)))
	}

	m, err := osprey.New(ex, opts...)
	if err != nil {
		if closeErr := closer(); closeErr != nil {
			return nil, nil, errors.Wrap(err, closeErr.Error())
		}

		return nil, nil, err
	}

	return m, CloserFunc(closer), nil
}

func createSqliteManager(_ context.Context, cfg Config) (*osprey.Manager, CloserFunc, error) {
	dsn := strings.TrimPrefix(strings.TrimPrefix(cfg.DatabaseURL, "sqlite3://"), "sqlite://")

	ex, closer, err := db.ConnectSQL("sqlite3", dsn)
	if err != nil {
		return nil, nil, err
	}

	// sqlite is single file, single writer: no locker to take
	m, err := osprey.New(ex, commonOptions(cfg, db.DialectSqlite)...)
	if err != nil {
		if closeErr := closer(); closeErr != nil {
			return nil, nil, errors.Wrap(err, closeErr.Error())
		}

		return nil, nil, err
	}

	return m, CloserFunc(closer), nil
}

func commonOptions(cfg Config, dialect db.Dialect) []osprey.OptionFunc {
	return []osprey.OptionFunc{
		osprey.UseLocalFolderSource(cfg.MigrationsFolder),
		osprey.UseLedgerTable(cfg.LedgerTable),
		osprey.UseDialect(dialect),
		osprey.UseColorLogger(log.New(os.Stdout, "", 0), cfg.PrintSQL, cfg.Debug),
	}
}
