package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/quire/pkg/types"
)

const flowX = "shop-feature-auth-flow-x"

func decl(text string, status types.Status, phases ...uint) Declaration {
	return Declaration{ID: types.MustParseIdentifier(text), Status: status, Phases: phases}
}

func scan(t *testing.T, path, src string) []types.TagOccurrence {
	t.Helper()
	occs, bad := Scan(path, src)
	require.Empty(t, bad)
	return occs
}

func TestPairing(t *testing.T) {
	tests := []struct {
		name       string
		src        string
		wantKinds  map[types.ViolationKind]int
		wantClass  Class
		wantBlocks int
	}{
		{
			name:       "block around content",
			src:        "// fdd-begin " + flowX + ":ph-1\nwork()\n// fdd-end " + flowX + ":ph-1\n",
			wantClass:  Covered,
			wantBlocks: 1,
		},
		{
			name:      "two begins without end",
			src:       "// fdd-begin " + flowX + ":ph-1\nwork()\n// fdd-begin " + flowX + ":ph-1\nmore()\n",
			wantKinds: map[types.ViolationKind]int{types.KindUnpairedTag: 1},
			wantClass: Uncovered,
		},
		{
			name:      "empty block",
			src:       "// fdd-begin " + flowX + ":ph-1\n\n// fdd-end " + flowX + ":ph-1\n",
			wantKinds: map[types.ViolationKind]int{types.KindEmptyTagBlock: 1},
			wantClass: Uncovered,
		},
		{
			name:      "stray end",
			src:       "work()\n// fdd-end " + flowX + ":ph-1\n",
			wantKinds: map[types.ViolationKind]int{types.KindUnpairedTag: 1},
			wantClass: Uncovered,
		},
		{
			name: "nested blocks",
			src: "// fdd-begin " + flowX + ":ph-1:inst-outer\n" +
				"a()\n" +
				"// fdd-begin " + flowX + ":ph-1:inst-inner\n" +
				"b()\n" +
				"// fdd-end " + flowX + ":ph-1:inst-inner\n" +
				"// fdd-end " + flowX + ":ph-1:inst-outer\n",
			wantClass:  Covered,
			wantBlocks: 2,
		},
		{
			name: "outer block content only inside inner block",
			src: "// fdd-begin " + flowX + ":ph-1:inst-outer\n" +
				"// fdd-begin " + flowX + ":ph-1:inst-inner\n" +
				"b()\n" +
				"// fdd-end " + flowX + ":ph-1:inst-inner\n" +
				"// fdd-end " + flowX + ":ph-1:inst-outer\n",
			wantClass:  Covered,
			wantBlocks: 2,
		},
		{
			name: "interleaved blocks",
			src: "// fdd-begin " + flowX + ":ph-1:inst-a\n" +
				"a()\n" +
				"// fdd-begin " + flowX + ":ph-1:inst-b\n" +
				"b()\n" +
				"// fdd-end " + flowX + ":ph-1:inst-a\n" +
				"// fdd-end " + flowX + ":ph-1:inst-b\n",
			wantKinds:  map[types.ViolationKind]int{types.KindUnpairedTag: 2},
			wantClass:  Covered,
			wantBlocks: 1,
		},
		{
			name:      "end with different phase",
			src:       "// fdd-begin " + flowX + ":ph-1\nwork()\n// fdd-end " + flowX + ":ph-2\n",
			wantKinds: map[types.ViolationKind]int{types.KindUnpairedTag: 2},
			wantClass: Uncovered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := ComputeCoverage(
				[]Declaration{decl(flowX, types.StatusNotStarted, 1)},
				scan(t, "x.go", tt.src),
			)
			total := 0
			for kind, n := range tt.wantKinds {
				assert.Equal(t, n, rep.Count(kind), "%s in %v", kind, rep.Violations)
				total += n
			}
			assert.Len(t, rep.Violations, total, "%v", rep.Violations)
			assert.Len(t, rep.Blocks, tt.wantBlocks)

			ic, ok := rep.Lookup(types.MustParseIdentifier(flowX))
			require.True(t, ok)
			pc, ok := ic.Phase(1)
			require.True(t, ok)
			assert.Equal(t, tt.wantClass, pc.Class)
		})
	}
}

func TestUnpairedIsPerFile(t *testing.T) {
	a := scan(t, "a.go", "// fdd-begin "+flowX+":ph-1\nwork()\n")
	b := scan(t, "b.go", "more()\n// fdd-end "+flowX+":ph-1\n")
	rep := ComputeCoverage([]Declaration{decl(flowX, "", 1)}, append(a, b...))
	got := rep.ByKind(types.KindUnpairedTag)
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, []string{got[0].Path, got[1].Path})
}

func TestStatusCoverageMismatch(t *testing.T) {
	const req = "shop-feature-auth-req-login"
	src := "// @fdd-req:" + req + ":ph-1\nfunc Login() {}\n"
	rep := ComputeCoverage([]Declaration{decl(req, types.StatusImplemented, 1, 2)}, scan(t, "login.go", src))

	got := rep.ByKind(types.KindStatusCoverageMismatch)
	require.Len(t, got, 1)
	assert.Equal(t, req+":ph-2", got[0].Subject)
	assert.Equal(t, types.CategoryTraceability, got[0].Category)

	ic, ok := rep.Lookup(types.MustParseIdentifier(req))
	require.True(t, ok)
	ph1, _ := ic.Phase(1)
	ph2, _ := ic.Phase(2)
	assert.Equal(t, Covered, ph1.Class)
	assert.Equal(t, Uncovered, ph2.Class)
	assert.Equal(t, PartiallyCovered, ic.Class)
	assert.Equal(t, types.StatusInProgress, DeriveStatus(ic))

	missing, known := rep.MissingPhases(req)
	assert.True(t, known)
	assert.Equal(t, []uint{2}, missing)
}

func TestNoMismatchWhenNotImplemented(t *testing.T) {
	const req = "shop-feature-auth-req-login"
	rep := ComputeCoverage([]Declaration{decl(req, types.StatusInProgress, 1, 2)}, nil)
	assert.True(t, rep.OK())
	ic, _ := rep.Lookup(types.MustParseIdentifier(req))
	assert.Equal(t, Uncovered, ic.Class)
	assert.Equal(t, types.StatusNotStarted, DeriveStatus(ic))
}

func TestInstructionCoverage(t *testing.T) {
	d := decl(flowX, types.StatusImplemented, 1)
	d.Instructions = map[uint][]string{1: {"validate", "persist"}}

	src := "// fdd-begin " + flowX + ":ph-1:inst-validate\ncheck()\n// fdd-end " + flowX + ":ph-1:inst-validate\n"
	rep := ComputeCoverage([]Declaration{d}, scan(t, "x.go", src))

	ic, _ := rep.Lookup(d.ID)
	pc, _ := ic.Phase(1)
	assert.Equal(t, PartiallyCovered, pc.Class)
	assert.Equal(t, []string{"persist"}, pc.Missing)
	assert.Equal(t, 0, rep.Count(types.KindStatusCoverageMismatch))

	missing, _ := rep.MissingPhases(flowX)
	assert.Empty(t, missing)
}

func TestDuplicateDeclarationsMerge(t *testing.T) {
	const req = "shop-feature-auth-req-login"
	first := decl(req, "", 1)
	first.Path, first.Line = "design.md", 4
	second := decl(req, types.StatusImplemented, 2)
	second.Instructions = map[uint][]string{2: {"persist"}}

	src := "// @fdd-req:" + req + ":ph-1\nfunc Login() {}\n"
	var rep *Report
	require.NotPanics(t, func() {
		rep = ComputeCoverage([]Declaration{first, second}, scan(t, "login.go", src))
	})

	require.Len(t, rep.Identifiers, 1)
	ic := rep.Identifiers[0]
	assert.Equal(t, req, ic.ID)
	assert.Equal(t, types.StatusImplemented, ic.Status)
	require.Len(t, ic.Phases, 2)
	assert.Equal(t, Covered, ic.Phases[0].Class)
	assert.Equal(t, Uncovered, ic.Phases[1].Class)
	assert.Equal(t, []string{"persist"}, ic.Phases[1].Missing)

	got := rep.ByKind(types.KindStatusCoverageMismatch)
	require.Len(t, got, 1)
	assert.Equal(t, req+":ph-2", got[0].Subject)
	assert.Equal(t, "design.md", got[0].Path)
	assert.Equal(t, 4, got[0].Line)
}

func TestUnphasedDeclarations(t *testing.T) {
	const st = "shop-feature-auth-state-session"
	tests := []struct {
		name      string
		src       string
		wantClass Class
		wantUnk   int
	}{
		{name: "unphased tag", src: "// @fdd-state:" + st + "\nx\n", wantClass: Covered},
		{name: "phased tag on unphased declaration", src: "// @fdd-state:" + st + ":ph-1\nx\n", wantClass: Uncovered, wantUnk: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := ComputeCoverage([]Declaration{decl(st, types.StatusImplemented)}, scan(t, "s.go", tt.src))
			ic, _ := rep.Lookup(types.MustParseIdentifier(st))
			assert.Equal(t, tt.wantClass, ic.Class)
			assert.Equal(t, tt.wantUnk, rep.Count(types.KindUnknownIdentifier))
			if tt.wantClass == Uncovered {
				assert.Equal(t, 1, rep.Count(types.KindStatusCoverageMismatch))
			}
		})
	}
}

func TestUnknownAndMismatchedTags(t *testing.T) {
	src := "// @fdd-req:shop-feature-auth-req-ghost\n" +
		"// @fdd-flow:shop-feature-auth-req-login\n" +
		"// @fdd-req:shop-feature-auth-req-login\n"
	rep := ComputeCoverage([]Declaration{decl("shop-feature-auth-req-login", "")}, scan(t, "x.go", src))

	assert.Equal(t, 1, rep.Count(types.KindUnknownIdentifier))
	assert.Equal(t, 1, rep.Count(types.KindTagKindMismatch))
	ic, _ := rep.Lookup(types.MustParseIdentifier("shop-feature-auth-req-login"))
	assert.Equal(t, Covered, ic.Class)
	pc, _ := ic.Phase(0)
	assert.Equal(t, 1, pc.Matches)
}

func TestMissingPhasesUnknown(t *testing.T) {
	rep := ComputeCoverage(nil, nil)
	_, known := rep.MissingPhases("shop-feature-auth-req-login")
	assert.False(t, known)
	_, known = rep.MissingPhases("not an id")
	assert.False(t, known)
}

func TestDeclarationSet(t *testing.T) {
	var s DeclarationSet
	s.Declare(types.MustParseIdentifier(flowX+":ph-2"), "", "design.md", 10)
	s.Declare(types.MustParseIdentifier(flowX+":ph-1:inst-a"), types.StatusInProgress, "design.md", 11)
	s.Declare(types.MustParseIdentifier(flowX+":ph-1:inst-a"), "", "design.md", 12)
	s.Declare(types.MustParseIdentifier("shop-feature-auth-req-login"), "", "design.md", 20)

	require.NoError(t, s.DeclareRequirement(types.Requirement{
		Name:   "signup",
		ID:     "shop-feature-auth-req-signup",
		Status: types.StatusImplemented,
		Phases: []uint{1, 3},
	}, "spec.md"))
	require.NoError(t, s.DeclareRequirement(types.Requirement{Name: "no id"}, "spec.md"))
	require.Error(t, s.DeclareRequirement(types.Requirement{Name: "bad", ID: "Bad"}, "spec.md"))

	got := s.List()
	require.Len(t, got, 3)
	assert.Equal(t, 3, s.Len())

	assert.Equal(t, flowX, got[0].ID.String())
	assert.Equal(t, []uint{1, 2}, got[0].Phases)
	assert.Equal(t, map[uint][]string{1: {"a"}}, got[0].Instructions)
	assert.Equal(t, types.StatusInProgress, got[0].Status)
	assert.Equal(t, 10, got[0].Line)

	assert.Empty(t, got[1].Phases)
	assert.Equal(t, []uint{1, 3}, got[2].Phases)
	assert.Equal(t, types.StatusImplemented, got[2].Status)
}
