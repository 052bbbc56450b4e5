package trace

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/mesh-intelligence/quire/pkg/types"
)

// Class is a coverage classification.
type Class string

// Coverage classes.
const (
	Uncovered        Class = "Uncovered"
	PartiallyCovered Class = "PartiallyCovered"
	Covered          Class = "Covered"
)

// Declaration is a design identifier that implementation tags are expected
// to cover. ID is the base identifier. Phases lists the declared phases; an
// empty list declares the identifier unphased. Instructions optionally lists
// the instruction names declared for a phase.
type Declaration struct {
	ID           types.Identifier
	Phases       []uint
	Instructions map[uint][]string
	Status       types.Status
	Path         string
	Line         int
}

// PhaseCoverage is the classification of one declared phase. Phase 0 stands
// for an unphased declaration.
type PhaseCoverage struct {
	Phase   uint     `json:"phase"`
	Class   Class    `json:"class"`
	Matches int      `json:"matches"`
	Missing []string `json:"missing_instructions,omitempty"`
}

// IdentifierCoverage rolls up the phases of one declaration.
type IdentifierCoverage struct {
	ID     string          `json:"id"`
	Status types.Status    `json:"status,omitempty"`
	Class  Class           `json:"class"`
	Phases []PhaseCoverage `json:"phases"`
}

// Phase returns the coverage of phase p.
func (c IdentifierCoverage) Phase(p uint) (PhaseCoverage, bool) {
	for _, pc := range c.Phases {
		if pc.Phase == p {
			return pc, true
		}
	}
	return PhaseCoverage{}, false
}

// Block is a validly paired fdd-begin/fdd-end region.
type Block struct {
	ID       string          `json:"id"`
	FilePath string          `json:"file_path"`
	Lines    types.LineRange `json:"lines"`
	Content  int             `json:"content"`
}

// Report is the result of ComputeCoverage. It embeds the violation report
// and implements graph.CoverageOracle.
type Report struct {
	types.Report
	Identifiers []IdentifierCoverage `json:"identifiers"`
	Blocks      []Block              `json:"blocks,omitempty"`

	index map[string]int
}

// Lookup returns the coverage of a declared identifier. Qualifiers on id
// are ignored.
func (r *Report) Lookup(id types.Identifier) (IdentifierCoverage, bool) {
	i, ok := r.index[id.Base().String()]
	if !ok {
		return IdentifierCoverage{}, false
	}
	return r.Identifiers[i], true
}

// MissingPhases returns the declared phases of id that have no valid tag.
// Phase 0 denotes an unmatched unphased declaration.
func (r *Report) MissingPhases(id string) ([]uint, bool) {
	parsed, err := types.ParseIdentifier(id)
	if err != nil {
		return nil, false
	}
	c, ok := r.Lookup(parsed)
	if !ok {
		return nil, false
	}
	var missing []uint
	for _, pc := range c.Phases {
		if pc.Class == Uncovered {
			missing = append(missing, pc.Phase)
		}
	}
	return missing, true
}

// DeriveStatus maps a coverage rollup to the requirement status it
// supports.
func DeriveStatus(c IdentifierCoverage) types.Status {
	switch c.Class {
	case Covered:
		return types.StatusImplemented
	case PartiallyCovered:
		return types.StatusInProgress
	default:
		return types.StatusNotStarted
	}
}

// slot accumulates valid matches for one declared phase.
type slot struct {
	matches      int
	instructions map[string]bool
}

// ComputeCoverage pairs block markers, matches valid occurrences against
// decls and classifies every declared phase. Occurrences may come from many
// files in any order; each file is paired in line order. Declarations of
// the same base identifier are merged as a DeclarationSet would.
func ComputeCoverage(decls []Declaration, occs []types.TagOccurrence) *Report {
	decls = mergeDeclarations(decls)
	rep := &Report{index: make(map[string]int, len(decls))}

	declByID := make(map[types.Identifier]*Declaration, len(decls))
	slots := make(map[types.Identifier]map[uint]*slot, len(decls))
	for i := range decls {
		d := &decls[i]
		base := d.ID.Base()
		declByID[base] = d
		s := make(map[uint]*slot)
		for _, p := range phaseSlots(*d) {
			s[p] = &slot{instructions: make(map[string]bool)}
		}
		slots[base] = s
	}

	for _, o := range pairAll(rep, occs) {
		id := o.Identifier
		subject := id.String()
		d, ok := declByID[id.Base()]
		if !ok {
			rep.Add(types.Violation{
				Kind:    types.KindUnknownIdentifier,
				Subject: subject,
				Path:    o.FilePath,
				Line:    o.Lines.Start,
				Message: fmt.Sprintf("tag references undeclared identifier %s", id.Base()),
			})
			continue
		}
		if o.Pair == types.PairSingle && o.TagKind != id.Kind {
			rep.Add(types.Violation{
				Kind:    types.KindTagKindMismatch,
				Subject: subject,
				Path:    o.FilePath,
				Line:    o.Lines.Start,
				Message: fmt.Sprintf("@fdd-%s tag names a %s identifier", o.TagKind, id.Kind),
			})
			continue
		}
		s, ok := slots[id.Base()][id.Phase]
		if !ok {
			rep.Add(types.Violation{
				Kind:    types.KindUnknownIdentifier,
				Subject: subject,
				Path:    o.FilePath,
				Line:    o.Lines.Start,
				Message: fmt.Sprintf("tag phase does not match declared phases of %s (%s)", id.Base(), phaseList(phaseSlots(*d))),
			})
			continue
		}
		s.matches++
		if id.Instruction != "" {
			s.instructions[id.Instruction] = true
		}
	}

	for _, d := range decls {
		base := d.ID.Base()
		key := base.String()
		ic := IdentifierCoverage{ID: key, Status: d.Status}
		for _, p := range phaseSlots(d) {
			s := slots[base][p]
			pc := PhaseCoverage{Phase: p, Matches: s.matches}
			for _, inst := range d.Instructions[p] {
				if !s.instructions[inst] {
					pc.Missing = append(pc.Missing, inst)
				}
			}
			switch {
			case s.matches == 0:
				pc.Class = Uncovered
			case len(pc.Missing) > 0:
				pc.Class = PartiallyCovered
			default:
				pc.Class = Covered
			}
			ic.Phases = append(ic.Phases, pc)

			if d.Status == types.StatusImplemented && pc.Class == Uncovered {
				rep.Add(types.Violation{
					Kind:    types.KindStatusCoverageMismatch,
					Subject: base.WithPhase(p).String(),
					Path:    d.Path,
					Line:    d.Line,
					Message: fmt.Sprintf("%s is %s but %s has no valid tag", key, d.Status, phaseName(p)),
				})
			}
		}
		ic.Class = rollup(ic.Phases)
		rep.index[key] = len(rep.Identifiers)
		rep.Identifiers = append(rep.Identifiers, ic)
	}

	rep.Sort()
	return rep
}

// mergeDeclarations folds declarations sharing a base identifier into one,
// taking the union of their phases and instructions.
func mergeDeclarations(decls []Declaration) []Declaration {
	var set DeclarationSet
	for _, d := range decls {
		base := d.ID.Base()
		set.Declare(base, d.Status, d.Path, d.Line)
		for _, p := range d.Phases {
			if p == 0 {
				continue
			}
			set.Declare(base.WithPhase(p), "", d.Path, d.Line)
			for _, inst := range d.Instructions[p] {
				id := base.WithPhase(p)
				id.Instruction = inst
				set.Declare(id, "", d.Path, d.Line)
			}
		}
	}
	return set.List()
}

// pairAll validates begin/end pairing file by file and returns the
// occurrences that count towards coverage: single tags and validly paired
// non-empty blocks, the latter represented by their begin marker.
func pairAll(rep *Report, occs []types.TagOccurrence) []types.TagOccurrence {
	byFile := make(map[string][]types.TagOccurrence)
	var files []string
	for _, o := range occs {
		if _, ok := byFile[o.FilePath]; !ok {
			files = append(files, o.FilePath)
		}
		byFile[o.FilePath] = append(byFile[o.FilePath], o)
	}
	slices.Sort(files)

	var valid []types.TagOccurrence
	for _, f := range files {
		fileOccs := byFile[f]
		slices.SortStableFunc(fileOccs, func(a, b types.TagOccurrence) int {
			return cmp.Compare(a.Lines.Start, b.Lines.Start)
		})
		valid = append(valid, pairFile(rep, f, fileOccs)...)
	}
	return valid
}

type open struct {
	occ  types.TagOccurrence
	mark int // content total when the block opened
}

func pairFile(rep *Report, path string, occs []types.TagOccurrence) []types.TagOccurrence {
	var (
		valid []types.TagOccurrence
		stack []open
		total int
	)
	for _, o := range occs {
		total += o.ContentBefore
		key := o.Identifier.String()
		switch o.Pair {
		case types.PairSingle:
			valid = append(valid, o)
		case types.PairBegin:
			stack = append(stack, open{occ: o, mark: total})
		case types.PairEnd:
			if len(stack) == 0 || stack[len(stack)-1].occ.Identifier.String() != key {
				rep.Add(types.Violation{
					Kind:    types.KindUnpairedTag,
					Subject: key,
					Path:    path,
					Line:    o.Lines.Start,
					Message: fmt.Sprintf("fdd-end %s has no matching fdd-begin", key),
				})
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			content := total - top.mark
			if content == 0 {
				rep.Add(types.Violation{
					Kind:    types.KindEmptyTagBlock,
					Subject: key,
					Path:    path,
					Line:    top.occ.Lines.Start,
					Message: fmt.Sprintf("block %s (lines %d-%d) has no content", key, top.occ.Lines.Start, o.Lines.Start),
				})
				continue
			}
			b := top.occ
			b.Lines.End = o.Lines.Start
			valid = append(valid, b)
			rep.Blocks = append(rep.Blocks, Block{ID: key, FilePath: path, Lines: b.Lines, Content: content})
		}
	}

	// Unclosed begins are reported once per identifier.
	var order []string
	lines := make(map[string][]string)
	for _, op := range stack {
		key := op.occ.Identifier.String()
		if _, ok := lines[key]; !ok {
			order = append(order, key)
		}
		lines[key] = append(lines[key], fmt.Sprint(op.occ.Lines.Start))
	}
	for _, key := range order {
		first := stack[slices.IndexFunc(stack, func(op open) bool { return op.occ.Identifier.String() == key })]
		rep.Add(types.Violation{
			Kind:    types.KindUnpairedTag,
			Subject: key,
			Path:    path,
			Line:    first.occ.Lines.Start,
			Message: fmt.Sprintf("fdd-begin %s is never closed (line %s)", key, strings.Join(lines[key], ", ")),
			Related: lines[key],
		})
	}
	return valid
}

// phaseSlots returns the phases coverage is tracked for: the declared
// phases, or the single unphased slot 0.
func phaseSlots(d Declaration) []uint {
	if len(d.Phases) == 0 {
		return []uint{0}
	}
	ps := slices.Clone(d.Phases)
	slices.Sort(ps)
	return slices.Compact(ps)
}

func rollup(phases []PhaseCoverage) Class {
	covered, uncovered := 0, 0
	for _, pc := range phases {
		switch pc.Class {
		case Covered:
			covered++
		case Uncovered:
			uncovered++
		}
	}
	switch {
	case covered == len(phases):
		return Covered
	case uncovered == len(phases):
		return Uncovered
	default:
		return PartiallyCovered
	}
}

func phaseName(p uint) string {
	if p == 0 {
		return "the identifier"
	}
	return fmt.Sprintf("phase %d", p)
}

func phaseList(ps []uint) string {
	if len(ps) == 1 && ps[0] == 0 {
		return "unphased"
	}
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = fmt.Sprintf("ph-%d", p)
	}
	return strings.Join(parts, ", ")
}
