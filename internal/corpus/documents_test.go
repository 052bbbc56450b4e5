package corpus

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/quire/internal/specdoc"
	"github.com/mesh-intelligence/quire/pkg/types"
)

func TestParseDesign(t *testing.T) {
	text := "# Design\n\n" +
		"## Login\n**ID**: `shop-feature-auth-req-login:ph-2`\n**Status**: IN_PROGRESS\n\n" +
		"## Flow\n**ID**: `shop-feature-auth-flow-signin`\n\n**Status**: DONE\n\n" +
		"## Orphaned status\n**Status**: IMPLEMENTED\n\n" +
		"**ID**: `Shop-Feature`\n"

	entries, viols := parseDesign("design.md", text)
	require.Len(t, entries, 2)
	assert.Equal(t, uint(2), entries[0].ID.Phase)
	assert.Equal(t, types.StatusInProgress, entries[0].Status)
	assert.Equal(t, 4, entries[0].Line)
	assert.Empty(t, entries[1].Status)

	require.Len(t, viols, 2)
	assert.Equal(t, types.KindMalformedDocument, viols[0].Kind)
	assert.Contains(t, viols[0].Message, "DONE")
	assert.Equal(t, "Shop-Feature", viols[1].Subject)
}

func TestParseChangeIndex(t *testing.T) {
	text := "# Changes: auth\n\n" +
		"### Change: `shop-change-auth-change-_001_a`\n**Status**: COMPLETED\n\n" +
		"### Change: shop-change-auth-change-_002_b\n\n" +
		"### Change: shop-change-auth-change-_003_c\n**Status**: IN_PROGRESS\n**Status**: NOT_STARTED\n"

	entries := parseChangeIndex(text)
	require.Len(t, entries, 3)
	assert.Equal(t, indexEntry{ID: "shop-change-auth-change-_001_a", Status: "COMPLETED", Line: 4}, entries[0])
	assert.Equal(t, indexEntry{ID: "shop-change-auth-change-_002_b"}, entries[1])
	assert.Equal(t, "IN_PROGRESS", entries[2].Status, "the first marker wins")
}

func TestSetIndexStatus(t *testing.T) {
	const a, b = "shop-change-auth-change-_001_a", "shop-change-auth-change-_002_b"
	tests := []struct {
		name string
		text string
		id   string
		want string
	}{
		{
			name: "replace marker",
			text: "### Change: " + a + "\n**Status**: NOT_STARTED\n",
			id:   a,
			want: "### Change: " + a + "\n**Status**: COMPLETED\n",
		},
		{
			name: "insert marker",
			text: "### Change: " + a + "\n\n### Change: " + b + "\n**Status**: NOT_STARTED\n",
			id:   a,
			want: "### Change: " + a + "\n**Status**: COMPLETED\n\n### Change: " + b + "\n**Status**: NOT_STARTED\n",
		},
		{
			name: "append entry",
			text: "# Changes: auth\n",
			id:   b,
			want: "# Changes: auth\n\n### Change: " + b + "\n**Status**: COMPLETED\n",
		},
		{
			name: "empty file",
			text: "",
			id:   a,
			want: "### Change: " + a + "\n**Status**: COMPLETED\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, setIndexStatus(tt.text, tt.id, types.StatusCompleted))
		})
	}
}

func TestParseTasks(t *testing.T) {
	text := "# Tasks\n- [x] write handler\n  * [X] nested done\n- [ ] add tests\n- not a task\n"
	assert.Equal(t, []types.Task{
		{Text: "write handler", Done: true},
		{Text: "nested done", Done: true},
		{Text: "add tests", Done: false},
	}, parseTasks(text))
}

func TestSetDesignStatus(t *testing.T) {
	text := "**ID**: `" + loginID + ":ph-1`\n**Status**: NOT_STARTED\n\n" +
		"**ID**: `shop-feature-auth-req-logout`\n**Status**: NOT_STARTED\n"

	got, changed := setDesignStatus(text, loginID, types.StatusImplemented)
	assert.True(t, changed)
	assert.Equal(t, "**ID**: `"+loginID+":ph-1`\n**Status**: IMPLEMENTED\n\n"+
		"**ID**: `shop-feature-auth-req-logout`\n**Status**: NOT_STARTED\n", got)

	_, changed = setDesignStatus(got, loginID, types.StatusImplemented)
	assert.False(t, changed)
}

func TestChangeFileRoundTrip(t *testing.T) {
	root := writeTree(t, map[string]string{"003-refresh/tasks.md": ""})
	path := filepath.Join(root, "003-refresh", changeFileName)

	in := types.Change{
		ID:             "shop-change-auth-change-_003_refresh",
		Status:         types.StatusInProgress,
		DependsOn:      []string{loginChange},
		BatchAccepted:  true,
		AppliedVersion: 4,
	}
	require.NoError(t, writeChangeFile(path, in))

	out, err := readChangeFile(path, "auth")
	require.NoError(t, err)
	assert.Equal(t, "auth", out.Feature)
	assert.Equal(t, 3, out.Number, "number falls back to the directory prefix")
	assert.Equal(t, in.Status, out.Status)
	assert.Equal(t, in.DependsOn, out.DependsOn)
	assert.True(t, out.BatchAccepted)
	assert.Equal(t, uint64(4), out.AppliedVersion)
}

func TestReadChangeFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"bad yaml", "id: [x\n", specdoc.ErrMalformedDocument},
		{"bad status", "id: x\nstatus: IMPLEMENTED\n", types.ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := writeTree(t, map[string]string{"c/change.yaml": tt.content})
			_, err := readChangeFile(filepath.Join(root, "c", changeFileName), "auth")
			var pe *types.ParseError
			require.ErrorAs(t, err, &pe)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
