package patterns

import (
	"sync/atomic"

	"github.com/neur0map/yinx/internal/config"
)

// Store holds the current Registry behind an atomic pointer so a Reload
// is visible to new lookups immediately while in-flight pipeline work
// keeps using the snapshot it already loaded (spec.md §4.4: "Reload
// produces a new registry atomically swapped in; in-flight pipeline
// work continues with its prior snapshot").
type Store struct {
	ptr atomic.Pointer[Registry]
}

// NewStore builds an initial Registry from cfg and wraps it.
func NewStore(cfg *config.Config) (*Store, error) {
	reg, err := Build(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{}
	s.ptr.Store(reg)
	return s, nil
}

// Current returns the presently active Registry snapshot.
func (s *Store) Current() *Registry { return s.ptr.Load() }

// Reload compiles a fresh Registry from cfg and swaps it in atomically.
// On failure the previous Registry remains active.
func (s *Store) Reload(cfg *config.Config) error {
	reg, err := Build(cfg)
	if err != nil {
		return err
	}
	s.ptr.Store(reg)
	return nil
}
