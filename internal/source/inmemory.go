package source

import (
	"context"
	"sort"

	"github.com/osprey-db/osprey/migration"
	"github.com/pkg/errors"
)

// InMemory is a compiled-in registry of migration units: the manifest
// is assembled at build time, so nothing is loaded from disk and every
// unit is type checked. Location and key are the same thing here.
type InMemory struct {
	units map[string]*migration.Migration
	order []string
}

var _ Source = (*InMemory)(nil)

func NewInMemory(units ...*migration.Migration) (*InMemory, error) {
	s := &InMemory{units: make(map[string]*migration.Migration, len(units))}

	for _, u := range units {
		if !migration.ValidateKey(u.Key) {
			return nil, errors.Wrapf(ErrInvalidFormat, "[%s] is not a valid migration key", u.Key)
		}

		for key := range s.units {
			if s.units[key].Version == u.Version {
				return nil, errors.Wrapf(ErrDuplicateKey, "version [%s] registered twice", u.Version)
			}
		}

		s.units[u.Key] = u
		s.order = append(s.order, u.Key)
	}

	sort.Strings(s.order)

	return s, nil
}

func (s *InMemory) Discover(_ context.Context) ([]string, error) {
	locations := make([]string, len(s.order))
	copy(locations, s.order)
	return locations, nil
}

func (s *InMemory) NameOf(location string) string {
	return location
}

func (s *InMemory) Load(_ context.Context, location string) (*migration.Migration, error) {
	u, ok := s.units[location]
	if !ok {
		return nil, errors.Wrapf(ErrSourceNotFound, "%s", location)
	}

	return u, nil
}
