// Package registry holds the global identifier namespace shared by every
// feature of a corpus. It is the only shared mutable resource when features
// are validated concurrently, so all writes go through a single mutex.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mesh-intelligence/quire/pkg/types"
)

// ErrDuplicateIdentifier is returned when an entity is registered twice by
// different owners.
var ErrDuplicateIdentifier = errors.New("identifier already registered")

// Entry records who declared an identifier.
type Entry struct {
	ID    types.Identifier
	Owner string // feature name or artifact path that declared the id
}

// Registry is a set of base identifiers keyed by entity. The zero value is
// not usable; call New.
type Registry struct {
	mu      sync.Mutex
	entries map[types.Identifier]Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[types.Identifier]Entry)}
}

// Register claims id for owner. Qualifiers are stripped, so every phase of
// an entity maps to one entry. Registering the same entity again from the
// same owner is a no-op; from a different owner it fails with
// ErrDuplicateIdentifier.
func (r *Registry) Register(id types.Identifier, owner string) error {
	base := id.Base()

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[base]; ok {
		if e.Owner == owner {
			return nil
		}
		return fmt.Errorf("%s (declared by %s): %w", base, e.Owner, ErrDuplicateIdentifier)
	}
	r.entries[base] = Entry{ID: base, Owner: owner}
	return nil
}

// Lookup returns the entry for the entity id denotes.
func (r *Registry) Lookup(id types.Identifier) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id.Base()]
	return e, ok
}

// Contains reports whether the entity id denotes is registered.
func (r *Registry) Contains(id types.Identifier) bool {
	_, ok := r.Lookup(id)
	return ok
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Entries returns a snapshot sorted by identifier text.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}
