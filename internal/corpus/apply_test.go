package corpus

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/quire/internal/graph"
	"github.com/mesh-intelligence/quire/internal/specdoc"
	"github.com/mesh-intelligence/quire/internal/sqlite"
	"github.com/mesh-intelligence/quire/pkg/types"
)

func attachLedger(t *testing.T) *sqlite.Backend {
	t.Helper()
	b := sqlite.NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { _ = b.Detach() })
	return b
}

func TestApplyEndToEnd(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t, authTree())
	ledger := attachLedger(t)

	c, err := Load(root, Options{Ledger: ledger})
	require.NoError(t, err)

	res, err := c.Apply(ctx, "auth", loginChange)
	require.NoError(t, err)
	assert.Equal(t, &ApplyResult{Feature: "auth", ChangeID: loginChange, Applied: 1, Version: 1}, res)

	spec, err := specdoc.Parse("auth", readFile(t, root, "features/auth/spec.md"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), spec.Version)
	login, ok := spec.Get("login")
	require.True(t, ok)
	assert.Len(t, login.Scenarios, 2)
	assert.Equal(t, []uint{1}, login.Phases)

	_, err = c.Apply(ctx, "auth", loginChange)
	assert.ErrorIs(t, err, ErrAlreadyApplied)

	res, err = c.Apply(ctx, "auth", "002-lockout")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Version)

	// The files on disk reload to the same state.
	reloaded, err := Load(root, Options{})
	require.NoError(t, err)
	f, err := reloaded.Feature("auth")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Spec.Version)
	login, _ = f.Spec.Get("login")
	assert.Equal(t, "Lockout applies after five failures.", login.Statement)
	for _, cd := range f.Changes {
		assert.Equal(t, types.StatusInProgress, cd.Status, cd.ID)
		assert.True(t, cd.BatchAccepted, cd.ID)
	}
	assert.Equal(t, uint64(1), f.Changes[0].AppliedVersion)
	assert.Equal(t, uint64(2), f.Changes[1].AppliedVersion)
	for _, e := range f.Index {
		assert.Equal(t, "IN_PROGRESS", e.Status, e.ID)
	}

	history, err := ledger.GetTable(types.SpecHistoryTable)
	require.NoError(t, err)
	entries, err := history.Fetch(types.Filter{"name": "auth"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, loginChange, entries[0].(*types.SpecHistoryEntry).ChangeID)
	assert.Equal(t, lockoutChange, entries[1].(*types.SpecHistoryEntry).ChangeID)

	links, err := ledger.GetTable(types.LinksTable)
	require.NoError(t, err)
	deps, err := links.Fetch(types.Filter{"link_type": types.LinkDependsOn})
	require.NoError(t, err)
	require.Len(t, deps, 1)
	dep := deps[0].(*types.Link)
	assert.Equal(t, lockoutChange, dep.FromID)
	assert.Equal(t, loginChange, dep.ToID)

	changes, err := ledger.GetTable(types.ChangesTable)
	require.NoError(t, err)
	stored, err := changes.Get(loginChange)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, stored.(*types.Change).Status)
}

func TestApplyRejectedWritesNothing(t *testing.T) {
	root := writeTree(t, authTree())
	c, err := Load(root, Options{})
	require.NoError(t, err)

	watched := []string{
		"features/auth/spec.md",
		"features/auth/CHANGES.md",
		"features/auth/changes/002-lockout/change.yaml",
	}
	before := make(map[string]string)
	for _, rel := range watched {
		before[rel] = readFile(t, root, rel)
	}

	// Modifying login before it was added conflicts.
	_, err = c.Apply(context.Background(), "auth", lockoutChange)
	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 0, conflict.Index)
	assert.ErrorIs(t, err, types.ErrUnknownRequirement)

	for _, rel := range watched {
		assert.Equal(t, before[rel], readFile(t, root, rel), rel)
	}
	_, cd, err := c.Change("auth", lockoutChange)
	require.NoError(t, err)
	assert.Equal(t, types.StatusNotStarted, cd.Status)
}

func TestApplyRestoresFilesWhenIndexWriteFails(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t, authTree())
	c, err := Load(root, Options{})
	require.NoError(t, err)

	specBefore := readFile(t, root, "features/auth/spec.md")
	changeBefore := readFile(t, root, "features/auth/changes/001-login/change.yaml")
	indexBefore := readFile(t, root, "features/auth/CHANGES.md")

	// A directory in place of CHANGES.md makes the index write fail after
	// spec.md and change.yaml were written.
	index := filepath.Join(root, "features", "auth", "CHANGES.md")
	require.NoError(t, os.Remove(index))
	require.NoError(t, os.Mkdir(index, 0o755))

	_, err = c.Apply(ctx, "auth", loginChange)
	require.Error(t, err)

	assert.Equal(t, specBefore, readFile(t, root, "features/auth/spec.md"))
	assert.Equal(t, changeBefore, readFile(t, root, "features/auth/changes/001-login/change.yaml"))
	f, cd, err := c.Change("auth", loginChange)
	require.NoError(t, err)
	assert.False(t, cd.BatchAccepted)
	assert.Equal(t, uint64(0), f.Spec.Version)

	// Once the index is writable again the batch applies exactly once.
	require.NoError(t, os.Remove(index))
	require.NoError(t, os.WriteFile(index, []byte(indexBefore), 0o644))
	res, err := c.Apply(ctx, "auth", loginChange)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Version)
}

func TestApplyUnknownChange(t *testing.T) {
	root := writeTree(t, authTree())
	c, err := Load(root, Options{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		feature string
		change  string
		want    error
	}{
		{"unknown feature", "billing", loginChange, ErrFeatureNotFound},
		{"unknown change", "auth", "007-missing", ErrChangeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Apply(context.Background(), tt.feature, tt.change)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCompleteGate(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t, authTree())
	c, err := Load(root, Options{})
	require.NoError(t, err)

	err = c.Complete(ctx, "auth", lockoutChange)
	var blocked *graph.BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.ErrorIs(t, err, graph.ErrCompletionDenied)
	assert.NotEmpty(t, blocked.Violations)

	// Not applied yet: the batch was never accepted.
	err = c.Complete(ctx, "auth", loginChange)
	require.ErrorIs(t, err, graph.ErrCompletionDenied)

	_, err = c.Apply(ctx, "auth", loginChange)
	require.NoError(t, err)
	require.NoError(t, c.Complete(ctx, "auth", loginChange))

	_, cd, err := c.Change("auth", loginChange)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, cd.Status)

	reloaded, err := Load(root, Options{})
	require.NoError(t, err)
	f, err := reloaded.Feature("auth")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, f.Changes[0].Status)
	assert.Equal(t, "COMPLETED", f.Index[0].Status)

	// lockout is still blocked by its unchecked task.
	_, err = c.Apply(ctx, "auth", lockoutChange)
	require.NoError(t, err)
	err = c.Complete(ctx, "auth", lockoutChange)
	require.ErrorAs(t, err, &blocked)
	require.Len(t, blocked.Violations, 1)
	assert.Contains(t, blocked.Violations[0].Message, "tasks")
}

func TestCompleteRequiresCoverage(t *testing.T) {
	ctx := context.Background()
	files := authTree()
	delete(files, "src/auth/login.go")
	root := writeTree(t, files)
	c, err := Load(root, Options{})
	require.NoError(t, err)

	_, err = c.Apply(ctx, "auth", loginChange)
	require.NoError(t, err)

	err = c.Complete(ctx, "auth", loginChange)
	var blocked *graph.BlockedError
	require.ErrorAs(t, err, &blocked)
	require.Len(t, blocked.Violations, 1)
	assert.Equal(t, types.KindIncompleteCompletion, blocked.Violations[0].Kind)
	assert.Contains(t, blocked.Violations[0].Message, "phase(s) 1")
}

func TestSyncStatus(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t, authTree())
	c, err := Load(root, Options{})
	require.NoError(t, err)

	_, err = c.Apply(ctx, "auth", loginChange)
	require.NoError(t, err)

	updates, err := c.SyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, []StatusUpdate{{
		Feature:     "auth",
		Requirement: "login",
		ID:          loginID,
		From:        types.StatusNotStarted,
		To:          types.StatusImplemented,
	}}, updates)

	spec, err := specdoc.Parse("auth", readFile(t, root, "features/auth/spec.md"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), spec.Version, "syncing status is not a new version")
	login, _ := spec.Get("login")
	assert.Equal(t, types.StatusImplemented, login.Status)
	assert.Contains(t, readFile(t, root, "features/auth/design.md"), "**Status**: IMPLEMENTED")

	// A second pass has nothing left to do.
	updates, err = c.SyncStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, updates)

	res, err := c.Validate(ctx)
	require.NoError(t, err)
	assert.True(t, res.OK(), "%v", res.Violations)
}
