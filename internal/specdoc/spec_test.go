package specdoc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/quire/pkg/types"
)

func req(name string, scenarios ...string) types.Requirement {
	r := types.Requirement{Name: name, Status: types.StatusNotStarted}
	for _, s := range scenarios {
		r.Scenarios = append(r.Scenarios, types.Scenario{
			Name: s,
			When: []string{"the user does " + s},
			Then: []string{"the system handles " + s},
		})
	}
	return r
}

func TestSpecPutKeepsPosition(t *testing.T) {
	s := New("auth")
	s.Put(req("login", "success"))
	s.Put(req("logout", "success"))
	s.Put(req("login", "success", "locked-out"))

	assert.Equal(t, []string{"login", "logout"}, s.Names())
	got, ok := s.Get("login")
	require.True(t, ok)
	assert.Len(t, got.Scenarios, 2)
}

func TestSpecGetReturnsCopy(t *testing.T) {
	s := New("auth")
	s.Put(req("login", "success"))

	got, _ := s.Get("login")
	got.Scenarios[0].When[0] = "mutated"

	again, _ := s.Get("login")
	assert.Equal(t, "the user does success", again.Scenarios[0].When[0])
}

func TestSpecRemove(t *testing.T) {
	s := New("auth")
	s.Put(req("a", "x"))
	s.Put(req("b", "x"))
	s.Put(req("c", "x"))

	assert.True(t, s.Remove("b"))
	assert.False(t, s.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, s.Names())
	assert.False(t, s.Has("b"))
	assert.Equal(t, 2, s.Len())
}

func TestSpecRename(t *testing.T) {
	tests := []struct {
		name      string
		oldName   string
		newName   string
		wantErr   error
		wantNames []string
	}{
		{name: "keeps position", oldName: "b", newName: "z", wantNames: []string{"a", "z", "c"}},
		{name: "unknown source", oldName: "missing", newName: "z", wantErr: types.ErrUnknownRequirement, wantNames: []string{"a", "b", "c"}},
		{name: "target taken", oldName: "a", newName: "c", wantErr: types.ErrDuplicateRequirement, wantNames: []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("auth")
			s.Put(req("a", "x"))
			b := req("b", "x", "y")
			b.Status = types.StatusImplemented
			b.SetPhases(1, 2)
			s.Put(b)
			s.Put(req("c", "x"))

			err := s.Rename(tt.oldName, tt.newName)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			} else {
				require.NoError(t, err)
				got, ok := s.Get(tt.newName)
				require.True(t, ok)
				assert.Equal(t, tt.newName, got.Name)
				assert.Len(t, got.Scenarios, 2)
				assert.Equal(t, types.StatusImplemented, got.Status)
				assert.Equal(t, []uint{1, 2}, got.Phases)
			}
			assert.Equal(t, tt.wantNames, s.Names())
		})
	}
}

func TestSpecCloneIsDeep(t *testing.T) {
	s := New("auth")
	s.Version = 4
	s.Put(req("login", "success"))

	c := s.Clone()
	require.True(t, Equal(s, c))

	c.Put(req("login", "success", "locked-out"))
	c.Put(req("signup", "success"))
	c.Version++

	assert.False(t, Equal(s, c))
	got, _ := s.Get("login")
	assert.Len(t, got.Scenarios, 1)
	assert.Equal(t, []string{"login"}, s.Names())
	assert.Equal(t, uint64(4), s.Version)
}

func TestEqual(t *testing.T) {
	a := New("auth")
	a.Put(req("x", "1"))
	a.Put(req("y", "1"))

	reordered := New("auth")
	reordered.Put(req("y", "1"))
	reordered.Put(req("x", "1"))

	assert.True(t, Equal(a, a.Clone()))
	assert.False(t, Equal(a, reordered))
	assert.False(t, Equal(a, nil))
	assert.True(t, Equal(nil, nil))

	r := req("x", "1")
	withEmpty := r.Clone()
	withEmpty.Phases = []uint{}
	assert.True(t, RequirementEqual(r, withEmpty))
}
