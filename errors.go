package osprey

import (
	"fmt"

	"github.com/osprey-db/osprey/migration"
	"github.com/pkg/errors"
)

var ErrExecutorNotProvided = errors.New("database executor has not been provided")
var ErrMigrationNotFound = errors.New("no migration source found for version")

// ExecutionError wraps a failure raised by a migration operation
// itself: bad SQL, a constraint violation, lost connectivity. The
// original cause is carried and never swallowed; the caller decides
// whether to abort the process.
type ExecutionError struct {
	Key       string
	Direction migration.Direction
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("migration [%s] failed going %s: %s", e.Key, e.Direction, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Cause keeps compatibility with pkg/errors chains.
func (e *ExecutionError) Cause() error {
	return e.Err
}
