package source

import (
	"context"

	"github.com/osprey-db/osprey/migration"
	"github.com/pkg/errors"
)

var (
	ErrSourceNotFound = errors.New("migration source not found")
	ErrInvalidFormat  = errors.New("invalid migration format")
	ErrDuplicateKey   = errors.New("duplicate migration version")
)

// Source enumerates and resolves migration units. Discovery is
// read-only and idempotent: absent changes to the underlying source two
// calls yield identical sequences, sorted ascending by version.
type Source interface {
	// Discover returns ordered unit locations (file paths for a
	// filesystem source, keys for a compiled-in registry).
	Discover(ctx context.Context) ([]string, error)

	// NameOf derives the logical {version}_{description} key from a
	// location.
	NameOf(location string) string

	// Load resolves the unit at the given location.
	Load(ctx context.Context, location string) (*migration.Migration, error)
}
