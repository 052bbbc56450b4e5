package types

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// Requirement errors.
var (
	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidClause    = errors.New("invalid WHEN/THEN clause")
	ErrInvalidStatement = errors.New("invalid statement")
	ErrMissingScenario  = errors.New("requirement needs at least one scenario with WHEN and THEN clauses")
)

// Scenario is a WHEN/THEN example belonging to a requirement.
type Scenario struct {
	Name string   `json:"name"`
	When []string `json:"when"`
	Then []string `json:"then"`
}

// Requirement is one normative block of a spec. Name is the lookup key
// inside a spec; ID optionally carries the structured identifier text.
type Requirement struct {
	Name      string     `json:"name"`
	ID        string     `json:"id,omitempty"`
	Statement string     `json:"statement,omitempty"`
	Scenarios []Scenario `json:"scenarios"`
	Status    Status     `json:"status"`
	Phases    []uint     `json:"phases,omitempty"`
}

// Validate checks the structural invariants of a requirement: a valid
// name, a valid status, a parseable ID when present, phases that are
// positive 32-bit numbers, a statement that renders unchanged, and at least
// one scenario, each with a valid name and at least one WHEN and one THEN
// clause.
func (r *Requirement) Validate() error {
	if err := ValidName(r.Name); err != nil {
		return err
	}
	if _, err := ParseRequirementStatus(string(r.Status)); err != nil {
		return fmt.Errorf("requirement %q: %w", r.Name, err)
	}
	if r.ID != "" {
		if _, err := ParseIdentifier(r.ID); err != nil {
			return fmt.Errorf("requirement %q: %w", r.Name, err)
		}
	}
	for _, p := range r.Phases {
		if p == 0 || p > math.MaxUint32 {
			return fmt.Errorf("requirement %q: phase %d: %w", r.Name, p, ErrNonIntegerPhase)
		}
	}
	if err := validStatement(r.Statement); err != nil {
		return fmt.Errorf("requirement %q: %w", r.Name, err)
	}
	if len(r.Scenarios) == 0 {
		return fmt.Errorf("requirement %q: %w", r.Name, ErrMissingScenario)
	}
	for _, s := range r.Scenarios {
		if err := ValidName(s.Name); err != nil {
			return fmt.Errorf("requirement %q: scenario: %w", r.Name, err)
		}
		if len(s.When) == 0 || len(s.Then) == 0 {
			return fmt.Errorf("requirement %q scenario %q: %w", r.Name, s.Name, ErrMissingScenario)
		}
		for _, c := range slices.Concat(s.When, s.Then) {
			if !singleLine(c) {
				return fmt.Errorf("requirement %q scenario %q: %w: %q", r.Name, s.Name, ErrInvalidClause, c)
			}
		}
	}
	return nil
}

// ValidName checks a requirement or scenario name: non-empty, one line,
// no leading or trailing whitespace.
func ValidName(name string) error {
	if !singleLine(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func singleLine(s string) bool {
	return s != "" && s == strings.TrimSpace(s) && !strings.ContainsAny(s, "\r\n")
}

// validStatement accepts free text without surrounding whitespace, carriage
// returns, trailing blanks on any line, or lines starting with '#'.
func validStatement(st string) error {
	if st == "" {
		return nil
	}
	if st != strings.TrimSpace(st) || strings.Contains(st, "\r") {
		return ErrInvalidStatement
	}
	for _, line := range strings.Split(st, "\n") {
		if line != strings.TrimRight(line, " \t") || strings.HasPrefix(line, "#") {
			return fmt.Errorf("%w: line %q", ErrInvalidStatement, line)
		}
	}
	return nil
}

// Clone returns a deep copy of r.
func (r Requirement) Clone() Requirement {
	out := r
	out.Phases = slices.Clone(r.Phases)
	if r.Scenarios != nil {
		out.Scenarios = make([]Scenario, len(r.Scenarios))
		for i, s := range r.Scenarios {
			out.Scenarios[i] = Scenario{
				Name: s.Name,
				When: slices.Clone(s.When),
				Then: slices.Clone(s.Then),
			}
		}
	}
	return out
}

// SetPhases replaces the declared phase set. Duplicates are dropped and the
// result is kept sorted.
func (r *Requirement) SetPhases(phases ...uint) {
	ps := slices.Clone(phases)
	slices.Sort(ps)
	r.Phases = slices.Compact(ps)
	if len(r.Phases) == 0 {
		r.Phases = nil
	}
}

// HasPhase reports whether phase p is declared.
func (r *Requirement) HasPhase(p uint) bool {
	return slices.Contains(r.Phases, p)
}
