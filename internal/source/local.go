package source

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/osprey-db/osprey/db"
	"github.com/osprey-db/osprey/internal/logger"
	"github.com/osprey-db/osprey/migration"
	"github.com/pkg/errors"
)

const DefaultMigrationsFolder = "./migrations"

const (
	sqlExtension = ".sql"

	upMarker   = "-- +up"
	downMarker = "-- +down"
)

// filenames are {version}_{description}.sql; the fixed width ordinal
// makes lexicographic order equal to numeric order.
var migrationFilePattern = regexp.MustCompile(`^\d{3}_[a-zA-Z_]+\.sql$`)

// LocalFS discovers declarative SQL migration units in a folder. Each
// file holds an up section and optionally a down section, delimited by
// "-- +up" and "-- +down" marker lines. The files are data: nothing in
// them is loaded as executable code.
type LocalFS struct {
	folder string
	lg     logger.Logger
}

var _ Source = (*LocalFS)(nil)

func NewLocalFS(folder string, lg logger.Logger) *LocalFS {
	if folder == "" {
		folder = DefaultMigrationsFolder
	}

	return &LocalFS{folder: folder, lg: lg}
}

// Discover scans the folder and returns matching file paths in version
// order. A folder that does not exist yields an empty result, not an
// error: a freshly provisioned deployment has nothing to migrate yet.
func (lfs *LocalFS) Discover(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(lfs.folder)
	if os.IsNotExist(err) {
		lfs.lg.Debugf("migrations folder [%s] does not exist", lfs.folder)
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrapf(err, "could not read migrations folder [%s]", lfs.folder)
	}

	var locations []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if strings.HasPrefix(name, "_") || !migrationFilePattern.MatchString(name) {
			lfs.lg.Debugf("skipping [%s]: not a migration file", name)
			continue
		}

		locations = append(locations, filepath.Join(lfs.folder, name))
	}

	sort.Strings(locations)

	return locations, nil
}

// NameOf strips the folder and extension from a location.
func (lfs *LocalFS) NameOf(location string) string {
	base := filepath.Base(location)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Load reads and parses a migration file into a unit whose operations
// execute the section statements one by one.
func (lfs *LocalFS) Load(_ context.Context, location string) (*migration.Migration, error) {
	contents, err := os.ReadFile(location)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrSourceNotFound, "%s", location)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "could not read migration file [%s]", location)
	}

	key := lfs.NameOf(location)
	if !migration.ValidateKey(key) {
		return nil, errors.Wrapf(ErrInvalidFormat, "[%s] is not a valid migration key", key)
	}

	upSQL, downSQL, err := splitSections(string(contents))
	if err != nil {
		return nil, errors.Wrapf(err, "in migration file [%s]", location)
	}

	return migration.New(key, lfs.operation(upSQL), lfs.operation(downSQL))
}

// operation turns a SQL section into an executable unit half. Empty
// sections yield a nil operation: the direction is absent.
func (lfs *LocalFS) operation(section string) migration.Operation {
	statements := splitStatements(section)
	if len(statements) == 0 {
		return nil
	}

	return func(ctx context.Context, ex db.Executor) error {
		for _, statement := range statements {
			lfs.lg.SQL(statement)
			if err := ex.Execute(ctx, statement); err != nil {
				return err
			}
		}

		return nil
	}
}

// splitSections separates a migration file into its up and down SQL. At
// least one marker must be present; text before the first marker is
// treated as a file header and ignored.
func splitSections(contents string) (up string, down string, err error) {
	var current *strings.Builder
	upB, downB := &strings.Builder{}, &strings.Builder{}
	seenMarker := false

	for _, line := range strings.Split(contents, "\n") {
		switch strings.ToLower(strings.TrimSpace(line)) {
		case upMarker:
			current = upB
			seenMarker = true
		case downMarker:
			current = downB
			seenMarker = true
		default:
			if current != nil {
				current.WriteString(line)
				current.WriteString("\n")
			}
		}
	}

	if !seenMarker {
		return "", "", errors.Wrapf(ErrInvalidFormat, "no %q or %q marker found", upMarker, downMarker)
	}

	return upB.String(), downB.String(), nil
}

// splitStatements breaks a SQL section into individual statements on
// top-level semicolons, leaving quoted literals and dollar-quoted
// bodies (plpgsql functions) intact.
func splitStatements(section string) []string {
	var statements []string
	var buf strings.Builder

	inSingleQuote := false
	inDollarQuote := false

	runes := []rune(section)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		switch {
		case inSingleQuote:
			if c == '\'' {
				inSingleQuote = false
			}
		case inDollarQuote:
			if c == '$' && i+1 < len(runes) && runes[i+1] == '$' {
				inDollarQuote = false
				buf.WriteRune(c)
				i++
				c = runes[i]
			}
		case c == '\'':
			inSingleQuote = true
		case c == '$' && i+1 < len(runes) && runes[i+1] == '$':
			inDollarQuote = true
			buf.WriteRune(c)
			i++
			c = runes[i]
		case c == ';':
			if s := strings.TrimSpace(buf.String()); s != "" {
				statements = append(statements, s)
			}
			buf.Reset()
			continue
		}

		buf.WriteRune(c)
	}

	if s := strings.TrimSpace(buf.String()); s != "" {
		statements = append(statements, s)
	}

	return statements
}
