// Package specdoc holds the in-memory form of a feature's source-of-truth
// spec and the text codecs for spec documents and delta documents.
//
// A Spec is an insertion-ordered mapping from requirement name to
// Requirement. Lookup ignores order; rendering follows it.
package specdoc

import (
	"fmt"
	"slices"

	"github.com/mesh-intelligence/quire/pkg/types"
)

// Spec is a versioned source-of-truth requirement document for one feature.
// Outside this package it is mutated only through the delta engine.
type Spec struct {
	Name    string
	Version uint64

	order []string
	reqs  map[string]types.Requirement
}

// New returns an empty spec at version 0.
func New(name string) *Spec {
	return &Spec{Name: name, reqs: make(map[string]types.Requirement)}
}

// Len returns the number of requirements.
func (s *Spec) Len() int {
	return len(s.order)
}

// Has reports whether a requirement with the given name exists.
func (s *Spec) Has(name string) bool {
	_, ok := s.reqs[name]
	return ok
}

// Get returns a copy of the named requirement.
func (s *Spec) Get(name string) (types.Requirement, bool) {
	r, ok := s.reqs[name]
	if !ok {
		return types.Requirement{}, false
	}
	return r.Clone(), true
}

// Put inserts r, or replaces the requirement of the same name in place so
// that its render position is kept. Phases are stored sorted and without
// duplicates.
func (s *Spec) Put(r types.Requirement) {
	if _, ok := s.reqs[r.Name]; !ok {
		s.order = append(s.order, r.Name)
	}
	c := r.Clone()
	c.SetPhases(c.Phases...)
	s.reqs[r.Name] = c
}

// Remove deletes the named requirement and reports whether it existed.
func (s *Spec) Remove(name string) bool {
	if _, ok := s.reqs[name]; !ok {
		return false
	}
	delete(s.reqs, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	return true
}

// Rename relabels a requirement, keeping its position, scenarios, status and
// phases.
func (s *Spec) Rename(oldName, newName string) error {
	r, ok := s.reqs[oldName]
	if !ok {
		return fmt.Errorf("rename %q: %w", oldName, types.ErrUnknownRequirement)
	}
	if _, ok := s.reqs[newName]; ok {
		return fmt.Errorf("rename %q to %q: %w", oldName, newName, types.ErrDuplicateRequirement)
	}
	delete(s.reqs, oldName)
	r.Name = newName
	s.reqs[newName] = r
	s.order[slices.Index(s.order, oldName)] = newName
	return nil
}

// Names returns requirement names in render order.
func (s *Spec) Names() []string {
	return slices.Clone(s.order)
}

// Requirements returns copies of all requirements in render order.
func (s *Spec) Requirements() []types.Requirement {
	out := make([]types.Requirement, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.reqs[n].Clone())
	}
	return out
}

// Clone returns a deep copy of s.
func (s *Spec) Clone() *Spec {
	c := &Spec{
		Name:    s.Name,
		Version: s.Version,
		order:   slices.Clone(s.order),
		reqs:    make(map[string]types.Requirement, len(s.reqs)),
	}
	for k, r := range s.reqs {
		c.reqs[k] = r.Clone()
	}
	return c
}

// Equal reports whether a and b are structurally equal: same name, version,
// requirement order and requirement contents.
func Equal(a, b *Spec) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || a.Version != b.Version || !slices.Equal(a.order, b.order) {
		return false
	}
	for _, n := range a.order {
		if !RequirementEqual(a.reqs[n], b.reqs[n]) {
			return false
		}
	}
	return true
}

// RequirementEqual compares two requirements field by field. Nil and empty
// slices compare equal.
func RequirementEqual(a, b types.Requirement) bool {
	if a.Name != b.Name || a.ID != b.ID || a.Statement != b.Statement || a.Status != b.Status {
		return false
	}
	if !slices.Equal(a.Phases, b.Phases) || len(a.Scenarios) != len(b.Scenarios) {
		return false
	}
	for i := range a.Scenarios {
		sa, sb := a.Scenarios[i], b.Scenarios[i]
		if sa.Name != sb.Name || !slices.Equal(sa.When, sb.When) || !slices.Equal(sa.Then, sb.Then) {
			return false
		}
	}
	return true
}
