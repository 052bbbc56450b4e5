// This file implements the structured identifier model: parsing, rendering,
// and entity comparison for design-level ids such as
// "shop-feature-cart-flow-checkout:ph-2:inst-charge".
package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Scope names the artifact family an identifier belongs to.
type Scope string

// Identifier scopes.
const (
	ScopeFeature Scope = "feature"
	ScopeChange  Scope = "change"
)

// Kind is the closed set of identifier kinds.
type Kind string

// Identifier kinds.
const (
	KindFlow   Kind = "flow"
	KindAlgo   Kind = "algo"
	KindState  Kind = "state"
	KindReq    Kind = "req"
	KindTest   Kind = "test"
	KindChange Kind = "change"
)

var validKinds = map[Kind]bool{
	KindFlow:   true,
	KindAlgo:   true,
	KindState:  true,
	KindReq:    true,
	KindTest:   true,
	KindChange: true,
}

// phasedKinds lists the kinds that may carry a :ph-N qualifier.
var phasedKinds = map[Kind]bool{
	KindFlow:  true,
	KindAlgo:  true,
	KindState: true,
	KindReq:   true,
	KindTest:  true,
}

// ValidKind reports whether k is a recognized identifier kind.
func ValidKind(k Kind) bool {
	return validKinds[k]
}

// Phased reports whether identifiers of kind k may carry a phase.
func (k Kind) Phased() bool {
	return phasedKinds[k]
}

// Qualifier prefixes.
const (
	phasePrefix       = "ph-"
	instructionPrefix = "inst-"
)

// Identifier parse errors.
var (
	ErrMalformedSegment        = errors.New("malformed identifier segment")
	ErrUnknownKind             = errors.New("unknown identifier kind")
	ErrInstructionWithoutPhase = errors.New("instruction qualifier requires a preceding phase")
	ErrNonIntegerPhase         = errors.New("phase must be a positive integer")
	ErrPhaseNotAllowed         = errors.New("identifier kind does not accept a phase")
)

// ParseError reports malformed input: an identifier, a spec document, or a
// delta document. It wraps one of the sentinel errors of this package.
type ParseError struct {
	Input string // the text being parsed (an identifier or a document name)
	Token string // the offending token, if known
	Line  int    // 1-based line number for documents; 0 otherwise
	Err   error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "parse %q", e.Input)
	if e.Line > 0 {
		fmt.Fprintf(&b, " line %d", e.Line)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if e.Token != "" {
		fmt.Fprintf(&b, " (at %q)", e.Token)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Identifier is an immutable structured design identifier. Phase 0 means no
// phase qualifier; an empty Instruction means no instruction qualifier.
// Identifier values are comparable and may be used as map keys.
type Identifier struct {
	Project     string `json:"project"`
	Scope       Scope  `json:"scope"`
	ScopeName   string `json:"scope_name"`
	Kind        Kind   `json:"kind"`
	LocalName   string `json:"local_name"`
	Phase       uint   `json:"phase,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

// ParseIdentifier parses the text form
//
//	<project>-<scope>-<scopeName>-<kind>-<localName>[:ph-<N>[:inst-<name>]]
//
// Every segment must match [a-z_][a-z0-9_]*. The local name may span several
// segments joined by '-' or '.'. N is a positive decimal without leading
// zeros. Errors are returned as *ParseError.
func ParseIdentifier(text string) (Identifier, error) {
	fail := func(token string, err error) (Identifier, error) {
		return Identifier{}, &ParseError{Input: text, Token: token, Err: err}
	}

	parts := strings.Split(text, ":")
	segs, err := splitSegments(parts[0])
	if err != nil {
		return fail(err.Error(), ErrMalformedSegment)
	}
	if len(segs) < 5 {
		return fail(parts[0], ErrMalformedSegment)
	}

	id := Identifier{
		Project:   segs[0],
		Scope:     Scope(segs[1]),
		ScopeName: segs[2],
		Kind:      Kind(segs[3]),
		LocalName: parts[0][len(strings.Join(segs[:4], "-"))+1:],
	}
	if id.Scope != ScopeFeature && id.Scope != ScopeChange {
		return fail(segs[1], ErrMalformedSegment)
	}
	if !ValidKind(id.Kind) {
		return fail(segs[3], ErrUnknownKind)
	}

	for _, q := range parts[1:] {
		switch {
		case strings.HasPrefix(q, phasePrefix):
			if id.Phase != 0 || id.Instruction != "" {
				return fail(q, ErrMalformedSegment)
			}
			digits := strings.TrimPrefix(q, phasePrefix)
			if strings.HasPrefix(digits, "0") {
				return fail(q, ErrNonIntegerPhase)
			}
			n, err := strconv.ParseUint(digits, 10, 32)
			if err != nil || n == 0 {
				return fail(q, ErrNonIntegerPhase)
			}
			if !id.Kind.Phased() {
				return fail(q, ErrPhaseNotAllowed)
			}
			id.Phase = uint(n)
		case strings.HasPrefix(q, instructionPrefix):
			if id.Phase == 0 {
				return fail(q, ErrInstructionWithoutPhase)
			}
			if id.Instruction != "" {
				return fail(q, ErrMalformedSegment)
			}
			name := strings.TrimPrefix(q, instructionPrefix)
			if _, err := splitSegments(name); err != nil {
				return fail(q, ErrMalformedSegment)
			}
			id.Instruction = name
		default:
			return fail(q, ErrMalformedSegment)
		}
	}
	return id, nil
}

// MustParseIdentifier is like ParseIdentifier but panics on error. It is
// intended for tests and static tables.
func MustParseIdentifier(text string) Identifier {
	id, err := ParseIdentifier(text)
	if err != nil {
		panic(err)
	}
	return id
}

// splitSegments splits s on '-' and '.' and validates every segment. The
// returned error message is the offending segment.
func splitSegments(s string) ([]string, error) {
	if s == "" {
		return nil, errors.New(s)
	}
	var segs []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != '-' && s[i] != '.' {
			continue
		}
		seg := s[start:i]
		if !validSegment(seg) {
			return nil, errors.New(seg)
		}
		segs = append(segs, seg)
		start = i + 1
	}
	return segs, nil
}

func validSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		switch {
		case c >= 'a' && c <= 'z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// String renders the canonical text form.
func (id Identifier) String() string {
	var b strings.Builder
	b.WriteString(id.Project)
	b.WriteByte('-')
	b.WriteString(string(id.Scope))
	b.WriteByte('-')
	b.WriteString(id.ScopeName)
	b.WriteByte('-')
	b.WriteString(string(id.Kind))
	b.WriteByte('-')
	b.WriteString(id.LocalName)
	if id.Phase != 0 {
		fmt.Fprintf(&b, ":%s%d", phasePrefix, id.Phase)
	}
	if id.Instruction != "" {
		b.WriteString(":" + instructionPrefix + id.Instruction)
	}
	return b.String()
}

// Base returns the identifier with phase and instruction qualifiers removed.
func (id Identifier) Base() Identifier {
	id.Phase = 0
	id.Instruction = ""
	return id
}

// WithPhase returns a copy qualified with phase p and no instruction.
func (id Identifier) WithPhase(p uint) Identifier {
	id.Phase = p
	id.Instruction = ""
	return id
}

// IsZero reports whether id is the zero Identifier.
func (id Identifier) IsZero() bool {
	return id == Identifier{}
}

// SameEntity reports whether a and b denote the same entity: every field
// except Phase and Instruction matches.
func SameEntity(a, b Identifier) bool {
	return a.Base() == b.Base()
}
