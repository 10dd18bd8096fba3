package migration

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/osprey-db/osprey/db"
	"github.com/pkg/errors"
)

var ErrInvalidKeyFormat = errors.New("invalid migration key format")
var ErrInvalidDirection = errors.New("invalid migration direction")

// keys look like 042_add_feature: a fixed width zero padded ordinal
// followed by a letters-and-underscores description.
var keyPattern = regexp.MustCompile(`^\d{3}_[a-zA-Z_]+$`)

const VersionWidth = 3

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(s)) {
	case Up:
		return Up, nil
	case Down:
		return Down, nil
	default:
		return "", errors.Wrapf(ErrInvalidDirection, "%s", s)
	}
}

// Operation is one half of a migration: it performs schema changes
// through the executor and reports failure by returning an error.
type Operation func(ctx context.Context, ex db.Executor) error

type Migration struct {
	// Key is the unit identity {version}_{description}, derived from
	// the source location.
	Key     string
	Version string
	Name    string

	// Up and Down run the forward and backward schema changes. A nil
	// func means the unit does not support that direction.
	Up   Operation
	Down Operation

	AppliedAt time.Time
}

// New builds a migration unit from a key and its two operations,
// rejecting keys that do not carry a parseable version.
func New(key string, up, down Operation) (*Migration, error) {
	version, err := ParseVersion(key)
	if err != nil {
		return nil, err
	}

	return &Migration{
		Key:     key,
		Version: version,
		Name:    strings.TrimPrefix(key, version+"_"),
		Up:      up,
		Down:    down,
	}, nil
}

func (m *Migration) Operation(d Direction) Operation {
	if d == Down {
		return m.Down
	}

	return m.Up
}

// ValidateKey reports whether name is a well formed migration key.
func ValidateKey(name string) bool {
	return keyPattern.MatchString(name)
}

// ParseVersion extracts the zero padded ordinal from a migration key.
func ParseVersion(key string) (string, error) {
	if !ValidateKey(key) {
		return "", errors.Wrapf(ErrInvalidKeyFormat, "%s", key)
	}

	return key[:VersionWidth], nil
}

type Migrations []*Migration

func (m Migrations) Keys() (result []string) {
	for i := range m {
		result = append(result, m[i].Key)
	}
	return result
}

func (m Migrations) Len() int {
	return len(m)
}

func (m Migrations) Less(i, j int) bool {
	return m[i].Version < m[j].Version
}

func (m Migrations) Swap(i, j int) {
	m[i], m[j] = m[j], m[i]
}
