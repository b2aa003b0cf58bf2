// Package objects implements the shared object registry: a name ->
// frozen, deep-copied script.Object store with per-entry ownership
// tags, mirroring the way vars.Store keeps a single process-wide map
// behind one mutex.
package objects

import (
	"sync"

	"github.com/rotisserie/eris"
	"github.com/two-barrels/scriptrt/script"
)

// storeMu guards every copy this package hands out of a stored object;
// stored entries themselves are frozen and never mutated in place, so a
// single shared mutex for all copies leaving the store is sufficient.
var storeMu sync.Mutex

// entry is one stored object plus its bookkeeping.
type entry struct {
	obj        *script.Object
	owner      string // empty once persistent
	persistent bool
}

// Description is the summary returned by Store.Description.
type Description struct {
	Name       string
	Owned      bool
	Persistent bool
}

// Store is the process-wide shared object registry.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// ErrAlreadyExists is returned by Create when name is already present.
var ErrAlreadyExists = eris.New("shared object already exists")

// Set stores a deep, frozen copy of obj under name, overwriting any
// previous entry. persistent=true clears the owner tag so no
// engine-instance teardown will ever remove the entry; otherwise owner
// is recorded for bulk removal via ClearOwner. Set fails (returning an
// error, never panicking) if obj's graph is cyclic.
func (s *Store) Set(name string, obj *script.Object, owner string, persistent bool) error {
	cp, err := obj.DeepCopy(&storeMu)
	if err != nil {
		return err
	}
	cp.Freeze()

	s.mu.Lock()
	defer s.mu.Unlock()
	e := &entry{obj: cp, persistent: persistent}
	if !persistent {
		e.owner = owner
	}
	s.entries[name] = e
	return nil
}

// Create behaves like Set but fails if name already exists.
func (s *Store) Create(name string, obj *script.Object, owner string, persistent bool) error {
	s.mu.Lock()
	if _, exists := s.entries[name]; exists {
		s.mu.Unlock()
		return ErrAlreadyExists
	}
	s.mu.Unlock()
	return s.Set(name, obj, owner, persistent)
}

// Get returns a fresh, frozen deep copy of the stored object suitable for
// handing back into a caller's own context, or nil if name is absent.
// Because the stored copy is already acyclic, this copy can never fail.
func (s *Store) Get(name string) *script.Object {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	cp, _ := e.obj.DeepCopy(&storeMu)
	cp.Freeze()
	return cp
}

// GetShared returns the stored frozen object by reference, without
// copying, for callers that accept a shared (read-only) view instead of
// a private copy.
func (s *Store) GetShared(name string) *script.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return nil
	}
	return e.obj
}

// Exists reports whether name is present.
func (s *Store) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	return ok
}

// Description returns name's ownership summary, or ok=false if absent.
func (s *Store) Description(name string) (Description, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return Description{}, false
	}
	return Description{Name: name, Owned: e.owner != "", Persistent: e.persistent}, true
}

// Clear removes a single entry.
func (s *Store) Clear(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// ClearAll empties the registry. If onlyMine is non-empty, only entries
// owned by that tag are removed.
func (s *Store) ClearAll(onlyMine string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if onlyMine == "" {
		s.entries = make(map[string]*entry)
		return
	}
	for k, e := range s.entries {
		if e.owner == onlyMine {
			delete(s.entries, k)
		}
	}
}

// ClearOwner removes every entry whose owner tag matches owner, used
// when an engine instance identified by that tag is torn down.
func (s *Store) ClearOwner(owner string) {
	if owner == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if e.owner == owner {
			delete(s.entries, k)
		}
	}
}
