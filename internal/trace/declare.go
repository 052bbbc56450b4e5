package trace

import (
	"slices"

	"github.com/mesh-intelligence/quire/pkg/types"
)

// DeclarationSet merges declarations of the same base identifier. Declaring
// a phase-qualified identifier adds the phase; declaring an instruction adds
// it to its phase.
type DeclarationSet struct {
	decls []Declaration
	index map[types.Identifier]int
}

// Declare records id. The first declaration fixes Path and Line; a non-empty
// status replaces any earlier one.
func (s *DeclarationSet) Declare(id types.Identifier, status types.Status, path string, line int) {
	if s.index == nil {
		s.index = make(map[types.Identifier]int)
	}
	base := id.Base()
	i, ok := s.index[base]
	if !ok {
		i = len(s.decls)
		s.index[base] = i
		s.decls = append(s.decls, Declaration{ID: base, Path: path, Line: line})
	}
	d := &s.decls[i]
	if status != "" {
		d.Status = status
	}
	if id.Phase == 0 {
		return
	}
	if !slices.Contains(d.Phases, id.Phase) {
		d.Phases = append(d.Phases, id.Phase)
		slices.Sort(d.Phases)
	}
	if id.Instruction != "" {
		if d.Instructions == nil {
			d.Instructions = make(map[uint][]string)
		}
		if !slices.Contains(d.Instructions[id.Phase], id.Instruction) {
			d.Instructions[id.Phase] = append(d.Instructions[id.Phase], id.Instruction)
		}
	}
}

// DeclareRequirement declares a requirement's identifier on each of its
// phases, carrying its status. Requirements without an ID are skipped.
func (s *DeclarationSet) DeclareRequirement(r types.Requirement, path string) error {
	if r.ID == "" {
		return nil
	}
	id, err := types.ParseIdentifier(r.ID)
	if err != nil {
		return err
	}
	s.Declare(id, r.Status, path, 0)
	for _, p := range r.Phases {
		s.Declare(id.WithPhase(p), "", path, 0)
	}
	return nil
}

// Len returns the number of distinct base identifiers.
func (s *DeclarationSet) Len() int { return len(s.decls) }

// List returns the merged declarations in first-declaration order.
func (s *DeclarationSet) List() []Declaration {
	out := make([]Declaration, len(s.decls))
	for i, d := range s.decls {
		out[i] = d
		out[i].Phases = slices.Clone(d.Phases)
		if d.Instructions != nil {
			out[i].Instructions = make(map[uint][]string, len(d.Instructions))
			for p, insts := range d.Instructions {
				out[i].Instructions[p] = slices.Clone(insts)
			}
		}
	}
	return out
}
