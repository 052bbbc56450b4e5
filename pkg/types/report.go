package types

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Category groups violation kinds by the error taxonomy.
type Category string

// Violation categories.
const (
	CategoryParse        Category = "parse"
	CategoryConflict     Category = "conflict"
	CategoryGraph        Category = "graph"
	CategoryTraceability Category = "traceability"
)

// ViolationKind is a machine-checkable defect kind.
type ViolationKind string

// Violation kinds.
const (
	KindMalformedDocument ViolationKind = "MalformedDocument"
	KindMalformedTag      ViolationKind = "MalformedTag"

	KindBatchRejected ViolationKind = "BatchRejected"

	KindCycleDetected            ViolationKind = "CycleDetected"
	KindNumberingGap             ViolationKind = "NumberingGap"
	KindDuplicateNumber          ViolationKind = "DuplicateNumber"
	KindDependencyOrderViolation ViolationKind = "DependencyOrderViolation"
	KindStatusDesync             ViolationKind = "StatusDesync"
	KindIncompleteCompletion     ViolationKind = "IncompleteCompletion"
	KindMissingNode              ViolationKind = "MissingNode"
	KindDuplicateIdentifier      ViolationKind = "DuplicateIdentifier"

	KindUnpairedTag            ViolationKind = "UnpairedTag"
	KindEmptyTagBlock          ViolationKind = "EmptyTagBlock"
	KindStatusCoverageMismatch ViolationKind = "StatusCoverageMismatch"
	KindUnknownIdentifier      ViolationKind = "UnknownIdentifier"
	KindTagKindMismatch        ViolationKind = "TagKindMismatch"
)

var kindCategories = map[ViolationKind]Category{
	KindMalformedDocument:        CategoryParse,
	KindMalformedTag:             CategoryParse,
	KindBatchRejected:            CategoryConflict,
	KindCycleDetected:            CategoryGraph,
	KindNumberingGap:             CategoryGraph,
	KindDuplicateNumber:          CategoryGraph,
	KindDependencyOrderViolation: CategoryGraph,
	KindStatusDesync:             CategoryGraph,
	KindIncompleteCompletion:     CategoryGraph,
	KindMissingNode:              CategoryGraph,
	KindDuplicateIdentifier:      CategoryGraph,
	KindUnpairedTag:              CategoryTraceability,
	KindEmptyTagBlock:            CategoryTraceability,
	KindStatusCoverageMismatch:   CategoryTraceability,
	KindUnknownIdentifier:        CategoryTraceability,
	KindTagKindMismatch:          CategoryTraceability,
}

// Category returns the taxonomy category of k.
func (k ViolationKind) Category() Category {
	return kindCategories[k]
}

// Violation is one reported defect.
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	Category Category      `json:"category"`
	// Subject is the entity the violation is about: a change id, an
	// identifier, a feature name.
	Subject string   `json:"subject"`
	Path    string   `json:"path,omitempty"`
	Line    int      `json:"line,omitempty"`
	Message string   `json:"message"`
	Related []string `json:"related,omitempty"`
}

func (v Violation) String() string {
	var b strings.Builder
	if v.Path != "" {
		b.WriteString(v.Path)
		if v.Line > 0 {
			fmt.Fprintf(&b, ":%d", v.Line)
		}
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%s: %s", v.Kind, v.Message)
	return b.String()
}

// Report collects every violation found by one validating call. The zero
// value is an empty, passing report.
type Report struct {
	Violations []Violation `json:"violations"`
}

// Add appends v, filling in its category from its kind.
func (r *Report) Add(v Violation) {
	v.Category = v.Kind.Category()
	r.Violations = append(r.Violations, v)
}

// Addf appends a violation with a formatted message.
func (r *Report) Addf(kind ViolationKind, subject, format string, args ...any) {
	r.Add(Violation{Kind: kind, Subject: subject, Message: fmt.Sprintf(format, args...)})
}

// Merge appends every violation of other.
func (r *Report) Merge(other Report) {
	r.Violations = append(r.Violations, other.Violations...)
}

// OK reports whether the report has no violations.
func (r Report) OK() bool {
	return len(r.Violations) == 0
}

// Count returns the number of violations of kind k.
func (r Report) Count(k ViolationKind) int {
	n := 0
	for _, v := range r.Violations {
		if v.Kind == k {
			n++
		}
	}
	return n
}

// ByKind returns the violations of kind k in report order.
func (r Report) ByKind(k ViolationKind) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Kind == k {
			out = append(out, v)
		}
	}
	return out
}

// Sort orders violations by path, line, kind and subject so that reports
// built from concurrent scans compare deterministically.
func (r *Report) Sort() {
	slices.SortStableFunc(r.Violations, func(a, b Violation) int {
		return cmp.Or(
			cmp.Compare(a.Path, b.Path),
			cmp.Compare(a.Line, b.Line),
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.Subject, b.Subject),
		)
	})
}
