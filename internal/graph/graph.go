// Package graph validates the artifact graph of features and changes.
//
// Validate is exhaustive: it reports every violation it can detect in one
// pass and never mutates its input. Cycle detection runs an iterative
// depth-first search with an explicit color array over interned integer node
// ids, following depends_on edges only.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mesh-intelligence/quire/pkg/types"
)

// NodeKind distinguishes features from changes.
type NodeKind string

// Node kinds.
const (
	NodeFeature NodeKind = "feature"
	NodeChange  NodeKind = "change"
)

// Node is one vertex of the artifact graph. Change-only fields are ignored
// for feature nodes.
type Node struct {
	ID   string
	Kind NodeKind
	Path string // artifact the node was loaded from, for reporting

	Feature       string
	Number        int
	Status        types.Status
	TasksDone     bool
	BatchAccepted bool
	Implements    []string // requirement identifiers
}

// ChangeNode builds a graph node from a change.
func ChangeNode(c types.Change, path string) Node {
	return Node{
		ID:            c.ID,
		Kind:          NodeChange,
		Path:          path,
		Feature:       c.Feature,
		Number:        c.Number,
		Status:        c.Status,
		TasksDone:     c.TasksDone(),
		BatchAccepted: c.BatchAccepted,
		Implements:    slices.Clone(c.Implements),
	}
}

// Edge is a directed link between two nodes. Type is types.LinkDependsOn or
// types.LinkImplements.
type Edge struct {
	From string
	To   string
	Type string
}

// StatusRecord is one artifact's recorded status for an entity.
type StatusRecord struct {
	Entity   string
	Artifact string
	Value    string
}

// CoverageOracle answers traceability questions for the completion
// precondition. MissingPhases returns the declared phases of a requirement
// identifier that have no verified match; known is false when the
// identifier is not declared anywhere.
type CoverageOracle interface {
	MissingPhases(id string) (missing []uint, known bool)
}

// Input is the complete graph handed to Validate.
type Input struct {
	Nodes         []Node
	Edges         []Edge
	StatusRecords []StatusRecord
	// Coverage may be nil, in which case requirement coverage is not part
	// of the completion precondition.
	Coverage CoverageOracle
}

// Errors returned by CanComplete.
var (
	ErrNodeNotFound     = errors.New("node not found")
	ErrNotAChange       = errors.New("node is not a change")
	ErrCompletionDenied = errors.New("change cannot be completed")
)

// BlockedError lists the violations that prevent a change from completing.
type BlockedError struct {
	ChangeID   string            `json:"change_id"`
	Violations []types.Violation `json:"violations"`
}

func (e *BlockedError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return fmt.Sprintf("%s: %v: %s", e.ChangeID, ErrCompletionDenied, strings.Join(msgs, "; "))
}

func (e *BlockedError) Unwrap() error { return ErrCompletionDenied }

// graph is the interned form of an Input.
type graph struct {
	in    Input
	ids   []string       // int id -> node id, sorted
	index map[string]int // node id -> int id
	nodes []Node         // int id -> node
	deps  [][]int        // depends_on adjacency, sorted
}

func build(in Input) (*graph, types.Report) {
	var rep types.Report
	g := &graph{in: in, index: make(map[string]int, len(in.Nodes))}

	sorted := slices.Clone(in.Nodes)
	slices.SortStableFunc(sorted, func(a, b Node) int { return strings.Compare(a.ID, b.ID) })
	for _, n := range sorted {
		if _, dup := g.index[n.ID]; dup {
			rep.Add(types.Violation{
				Kind:    types.KindDuplicateIdentifier,
				Subject: n.ID,
				Path:    n.Path,
				Message: fmt.Sprintf("node %s is declared more than once", n.ID),
			})
			continue
		}
		g.index[n.ID] = len(g.ids)
		g.ids = append(g.ids, n.ID)
		g.nodes = append(g.nodes, n)
	}

	g.deps = make([][]int, len(g.ids))
	for _, e := range in.Edges {
		from, okFrom := g.index[e.From]
		to, okTo := g.index[e.To]
		for _, miss := range []struct {
			id string
			ok bool
		}{{e.From, okFrom}, {e.To, okTo}} {
			if !miss.ok {
				rep.Add(types.Violation{
					Kind:    types.KindMissingNode,
					Subject: miss.id,
					Message: fmt.Sprintf("%s edge %s -> %s references unknown node %s", e.Type, e.From, e.To, miss.id),
					Related: []string{e.From, e.To},
				})
			}
		}
		if okFrom && okTo && e.Type == types.LinkDependsOn && !slices.Contains(g.deps[from], to) {
			g.deps[from] = append(g.deps[from], to)
		}
	}
	for i := range g.deps {
		slices.Sort(g.deps[i])
	}
	return g, rep
}

// Validate checks acyclicity, change numbering, status coherence,
// cross-artifact status agreement, the completion precondition and edge
// integrity. The returned report is sorted.
func Validate(in Input) types.Report {
	g, rep := build(in)
	rep.Merge(g.cycles())
	rep.Merge(g.numbering())
	for i := range g.nodes {
		rep.Merge(g.order(i))
		if g.nodes[i].Kind == NodeChange && g.nodes[i].Status == types.StatusCompleted {
			rep.Merge(g.completion(i))
		}
	}
	rep.Merge(statusAgreement(in.StatusRecords))
	rep.Sort()
	return rep
}

// CanComplete reports whether changeID may move to COMPLETED: every change
// it depends on is COMPLETED, its tasks are checked, its batch was accepted
// and every requirement it implements is covered on every declared phase.
// A refusal is returned as a *BlockedError.
func CanComplete(in Input, changeID string) error {
	g, _ := build(in)
	i, ok := g.index[changeID]
	if !ok {
		return fmt.Errorf("%s: %w", changeID, ErrNodeNotFound)
	}
	if g.nodes[i].Kind != NodeChange {
		return fmt.Errorf("%s: %w", changeID, ErrNotAChange)
	}

	// Evaluate the change as if it were already completed.
	g.nodes[i].Status = types.StatusCompleted
	var rep types.Report
	rep.Merge(g.order(i))
	rep.Merge(g.completion(i))
	for _, c := range g.cycles().Violations {
		if slices.Contains(c.Related, changeID) {
			rep.Add(c)
		}
	}
	if rep.OK() {
		return nil
	}
	return &BlockedError{ChangeID: changeID, Violations: rep.Violations}
}

const (
	white = iota
	gray
	black
)

// cycles reports one CycleDetected per distinct cycle reachable through
// depends_on edges. Each back edge found by the search closes exactly one
// cycle: the gray path from its target to its source.
func (g *graph) cycles() types.Report {
	var rep types.Report
	color := make([]int, len(g.ids))
	pos := make([]int, len(g.ids)) // index of a gray node on the path
	seen := make(map[string]bool)

	type frame struct {
		node int
		next int // next adjacency index to explore
	}

	for root := range g.ids {
		if color[root] != white {
			continue
		}
		path := []frame{{node: root}}
		color[root] = gray
		pos[root] = 0

		for len(path) > 0 {
			top := &path[len(path)-1]
			if top.next == len(g.deps[top.node]) {
				color[top.node] = black
				path = path[:len(path)-1]
				continue
			}
			v := g.deps[top.node][top.next]
			top.next++

			switch color[v] {
			case white:
				color[v] = gray
				pos[v] = len(path)
				path = append(path, frame{node: v})
			case gray:
				cyc := make([]string, 0, len(path)-pos[v])
				for _, f := range path[pos[v]:] {
					cyc = append(cyc, g.ids[f.node])
				}
				key := canonicalCycle(cyc)
				if seen[key] {
					continue
				}
				seen[key] = true
				rep.Add(types.Violation{
					Kind:    types.KindCycleDetected,
					Subject: cyc[0],
					Path:    g.nodes[g.index[cyc[0]]].Path,
					Message: "depends_on cycle: " + strings.Join(append(slices.Clone(cyc), cyc[0]), " -> "),
					Related: cyc,
				})
			}
		}
	}
	return rep
}

// canonicalCycle rotates a cycle so that it starts at its smallest id.
func canonicalCycle(cyc []string) string {
	start := 0
	for i, id := range cyc {
		if id < cyc[start] {
			start = i
		}
	}
	rot := append(slices.Clone(cyc[start:]), cyc[:start]...)
	return strings.Join(rot, "\x00")
}

// numbering checks that the changes of every feature are numbered 1..n
// without gaps or repeats.
func (g *graph) numbering() types.Report {
	var rep types.Report
	byFeature := make(map[string][]Node)
	var features []string
	for _, n := range g.nodes {
		if n.Kind != NodeChange {
			continue
		}
		if _, ok := byFeature[n.Feature]; !ok {
			features = append(features, n.Feature)
		}
		byFeature[n.Feature] = append(byFeature[n.Feature], n)
	}
	slices.Sort(features)

	for _, f := range features {
		owners := make(map[int][]string)
		maxNum := 0
		for _, n := range byFeature[f] {
			if n.Number < 1 {
				rep.Add(types.Violation{
					Kind:    types.KindNumberingGap,
					Subject: n.ID,
					Path:    n.Path,
					Message: fmt.Sprintf("change %s of feature %s has non-positive number %d", n.ID, f, n.Number),
				})
				continue
			}
			owners[n.Number] = append(owners[n.Number], n.ID)
			maxNum = max(maxNum, n.Number)
		}
		for num := 1; num <= maxNum; num++ {
			ids := owners[num]
			switch {
			case len(ids) == 0:
				rep.Add(types.Violation{
					Kind:    types.KindNumberingGap,
					Subject: f,
					Message: fmt.Sprintf("feature %s has no change numbered %d (changes must be numbered contiguously from 1)", f, num),
				})
			case len(ids) > 1:
				slices.Sort(ids)
				rep.Add(types.Violation{
					Kind:    types.KindDuplicateNumber,
					Subject: f,
					Message: fmt.Sprintf("feature %s has %d changes numbered %d", f, len(ids), num),
					Related: ids,
				})
			}
		}
	}
	return rep
}

// order checks that a started change only depends on completed changes.
func (g *graph) order(i int) types.Report {
	var rep types.Report
	a := g.nodes[i]
	if a.Kind != NodeChange || (a.Status != types.StatusInProgress && a.Status != types.StatusCompleted) {
		return rep
	}
	for _, j := range g.deps[i] {
		b := g.nodes[j]
		if b.Kind != NodeChange || b.Status == types.StatusCompleted {
			continue
		}
		rep.Add(types.Violation{
			Kind:    types.KindDependencyOrderViolation,
			Subject: a.ID,
			Path:    a.Path,
			Message: fmt.Sprintf("%s is %s but depends on %s which is %s", a.ID, a.Status, b.ID, statusText(b.Status)),
			Related: []string{b.ID},
		})
	}
	return rep
}

// completion checks the preconditions a COMPLETED change must satisfy. Each
// unmet condition is reported separately.
func (g *graph) completion(i int) types.Report {
	var rep types.Report
	c := g.nodes[i]
	add := func(format string, args ...any) {
		rep.Add(types.Violation{
			Kind:    types.KindIncompleteCompletion,
			Subject: c.ID,
			Path:    c.Path,
			Message: c.ID + ": " + fmt.Sprintf(format, args...),
		})
	}

	if !c.TasksDone {
		add("tasks are not all checked")
	}
	if !c.BatchAccepted {
		add("delta batch was not accepted")
	}
	if g.in.Coverage == nil {
		return rep
	}
	for _, id := range c.Implements {
		missing, known := g.in.Coverage.MissingPhases(id)
		switch {
		case !known:
			add("implements undeclared requirement %s", id)
		case len(missing) > 0:
			add("requirement %s has no traceability match for phase(s) %s", id, joinPhases(missing))
		}
	}
	return rep
}

// statusAgreement reports entities whose recorded statuses differ between
// artifacts. Values are compared byte for byte.
func statusAgreement(records []StatusRecord) types.Report {
	var rep types.Report
	byEntity := make(map[string][]StatusRecord)
	var entities []string
	for _, r := range records {
		if _, ok := byEntity[r.Entity]; !ok {
			entities = append(entities, r.Entity)
		}
		byEntity[r.Entity] = append(byEntity[r.Entity], r)
	}
	slices.Sort(entities)

	for _, e := range entities {
		recs := byEntity[e]
		agree := true
		for _, r := range recs[1:] {
			if r.Value != recs[0].Value {
				agree = false
				break
			}
		}
		if agree {
			continue
		}
		related := make([]string, len(recs))
		for i, r := range recs {
			related[i] = fmt.Sprintf("%s=%q", r.Artifact, r.Value)
		}
		rep.Add(types.Violation{
			Kind:    types.KindStatusDesync,
			Subject: e,
			Path:    recs[0].Artifact,
			Message: fmt.Sprintf("status of %s differs across artifacts: %s", e, strings.Join(related, ", ")),
			Related: related,
		})
	}
	return rep
}

func statusText(s types.Status) string {
	if s == "" {
		return string(types.StatusNotStarted)
	}
	return string(s)
}

func joinPhases(ps []uint) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ", ")
}
