package cli

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/osprey-db/osprey"
	"github.com/pkg/errors"
)

var ErrUnknownDriver = errors.New("unknown database driver")

type (
	CloserFunc func() error

	Config struct {
		DatabaseURL      string
		MigrationsFolder string
		LedgerTable      string
		NoLock           bool
		PrintSQL         bool
		Debug            bool
	}

	// App wires a configured Manager for the command line tool.
	App struct {
		manager *osprey.Manager
	}
)

func NewFromYaml(ctx context.Context, path string) (*App, CloserFunc, error) {
	cfg, err := createConfigFromYaml(path)
	if err != nil {
		return nil, nil, err
	}

	return New(ctx, cfg)
}

func New(ctx context.Context, cfg Config) (*App, CloserFunc, error) {
	m, closer, err := createManager(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	return &App{manager: m}, closer, nil
}

func (app *App) Migrate(ctx context.Context) ([]string, error) {
	return app.manager.Migrate(ctx)
}

func (app *App) Rollback(ctx context.Context, version string) error {
	return app.manager.Rollback(ctx, version)
}

// Status returns the ledger contents for reporting.
func (app *App) Status(ctx context.Context) ([]osprey.Applied, error) {
	return app.manager.Applied(ctx)
}

// Pending returns the keys of discovered units that have no ledger
// record yet.
func (app *App) Pending(ctx context.Context) ([]string, error) {
	locations, err := app.manager.Discover(ctx)
	if err != nil {
		return nil, err
	}

	applied, err := app.manager.Applied(ctx)
	if err != nil {
		return nil, err
	}

	appliedSet := make(map[string]struct{}, len(applied))
	for i := range applied {
		appliedSet[applied[i].Key] = struct{}{}
	}

	var pending []string
	for _, location := range locations {
		key := app.manager.NameOf(location)
		if _, ok := appliedSet[key]; !ok {
			pending = append(pending, key)
		}
	}

	return pending, nil
}

// InitCfg writes a starter configuration file.
func InitCfg(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create config file")
	}

	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	r := strings.NewReader(configFileStub)

	if _, err := io.Copy(f, r); err != nil {
		return err
	}

	return err
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}
