// Package dataset publishes the current permit snapshot to concurrent readers.
package dataset

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"

	"github.com/couchcryptid/permit-data-service/internal/domain"
)

// ErrNotLoaded is returned while no snapshot has been published.
var ErrNotLoaded = errors.New("no dataset loaded yet")

// Store holds the published snapshot. Readers never block: a reload builds a
// new snapshot and swaps the pointer, so a query sees either the old or the
// new dataset, never a mix.
type Store struct {
	current atomic.Pointer[domain.Dataset]
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Load publishes a copy of ds. The caller may reuse its slice afterwards.
func (s *Store) Load(_ context.Context, ds domain.Dataset) error {
	if ds.Permits == nil {
		ds.Permits = []domain.Permit{}
	} else {
		ds.Permits = slices.Clone(ds.Permits)
	}
	s.current.Store(&ds)
	return nil
}

// Current returns the published snapshot, or nil before the first Load.
// The returned dataset must be treated as read-only.
func (s *Store) Current() *domain.Dataset {
	return s.current.Load()
}

// CheckReadiness reports whether a snapshot has been published.
func (s *Store) CheckReadiness(_ context.Context) error {
	if s.current.Load() == nil {
		return ErrNotLoaded
	}
	return nil
}
