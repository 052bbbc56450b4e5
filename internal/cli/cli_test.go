package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/quire/pkg/types"
)

const (
	loginID     = "shop-feature-auth-req-login"
	loginChange = "shop-change-auth-change-_001_login"
	lockChange  = "shop-change-auth-change-_002_lockout"
)

// corpusFiles is a one-feature corpus whose first change adds a login
// requirement tagged in src/login.go.
func corpusFiles() map[string]string {
	const (
		feature = "features/auth/"
		login   = feature + "changes/001-login/"
		lockout = feature + "changes/002-lockout/"
	)
	files := make(map[string]string)
	files["quire.yaml"] = "project: shop\nsources:\n  - \"src/**\"\n"
	files[feature+"spec.md"] = "---\nname: auth\nversion: 0\n---\n\n# auth\n"
	files[feature+"design.md"] = "**ID**: `" + loginID + ":ph-1`\n"
	files[feature+"CHANGES.md"] = "# Changes: auth\n\n" +
		"### Change: " + loginChange + "\n**Status**: NOT_STARTED\n\n" +
		"### Change: " + lockChange + "\n**Status**: NOT_STARTED\n"

	files[login+"change.yaml"] = "id: " + loginChange + "\nimplements:\n  - " + loginID + "\n"
	files[login+"delta.md"] = "## ADDED Requirements\n\n" +
		"### Requirement: login\n**ID**: `" + loginID + "`\n**Phases**: 1\n\n" +
		"#### Scenario: success\n- **WHEN** valid credentials are submitted\n- **THEN** a session is created\n"
	files[login+"tasks.md"] = "- [x] handler\n"

	files[lockout+"change.yaml"] = "id: " + lockChange + "\ndepends_on:\n  - " + loginChange + "\n"
	files[lockout+"delta.md"] = "## REMOVED Requirements\n\n### Requirement: lockout\n"

	files["src/login.go"] = "package auth\n\n// @fdd-req:" + loginID + ":ph-1\nfunc Login() {}\n"
	return files
}

// cmdResult holds the outcome of one in-process command run.
type cmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// testEnv is an isolated corpus root, config directory and ledger.
type testEnv struct {
	t         *testing.T
	Root      string
	ConfigDir string
	DataDir   string
}

func newTestEnv(t *testing.T, files map[string]string) *testEnv {
	t.Helper()
	for _, env := range []string{"QUIRE_ROOT", "QUIRE_CONFIG_DIR", "QUIRE_DATA_DIR"} {
		t.Setenv(env, "")
	}
	dir := t.TempDir()
	e := &testEnv{
		t:         t,
		Root:      filepath.Join(dir, "corpus"),
		ConfigDir: filepath.Join(dir, "config"),
		DataDir:   filepath.Join(dir, "data"),
	}
	require.NoError(t, os.MkdirAll(e.Root, 0o755))
	for rel, content := range files {
		path := filepath.Join(e.Root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return e
}

func (e *testEnv) run(args ...string) cmdResult {
	e.t.Helper()
	all := append([]string{"--root", e.Root, "--config-dir", e.ConfigDir, "--data-dir", e.DataDir}, args...)

	var stdout, stderr bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(all)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	code := run(context.Background(), root)
	return cmdResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: code}
}

func (e *testEnv) mustRun(args ...string) cmdResult {
	e.t.Helper()
	res := e.run(args...)
	require.Equal(e.t, exitSuccess, res.ExitCode, "quire %v\nstdout: %s\nstderr: %s", args, res.Stdout, res.Stderr)
	return res
}

func parseJSON[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v), s)
	return v
}

func TestVersion(t *testing.T) {
	e := newTestEnv(t, nil)
	res := e.mustRun("version")
	assert.Equal(t, "quire v"+Version+"\nmodule: "+modulePath+"\n", res.Stdout)
}

func TestInit(t *testing.T) {
	e := newTestEnv(t, nil)

	res := e.mustRun("init", "--project", "shop")
	assert.Contains(t, res.Stdout, `Initialized quire corpus "shop"`)

	assert.FileExists(t, filepath.Join(e.Root, "quire.yaml"))
	assert.DirExists(t, filepath.Join(e.Root, "features"))
	assert.FileExists(t, filepath.Join(e.ConfigDir, "config.yaml"))
	assert.FileExists(t, filepath.Join(e.DataDir, "specs.jsonl"))

	// Idempotent.
	e.mustRun("init")
	data, err := os.ReadFile(filepath.Join(e.Root, "quire.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "project: shop")
}

func TestProjectName(t *testing.T) {
	tests := []struct {
		dir  string
		want string
	}{
		{"shop", "shop"},
		{"My Shop", "my_shop"},
		{"web-app.v2", "web_app_v2"},
		{"2024-plans", "_2024_plans"},
		{"---", "project"},
	}
	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			assert.Equal(t, tt.want, projectName(tt.dir))
		})
	}
}

func TestValidate(t *testing.T) {
	e := newTestEnv(t, corpusFiles())

	res := e.mustRun("validate")
	assert.Equal(t, "ok: 1 feature(s), 1 file(s) scanned\n", res.Stdout)

	res = e.mustRun("--json", "validate")
	out := parseJSON[struct {
		Violations   []types.Violation `json:"violations"`
		FilesScanned int               `json:"files_scanned"`
	}](t, res.Stdout)
	assert.Empty(t, out.Violations)
	assert.Equal(t, 1, out.FilesScanned)
}

func TestValidateViolations(t *testing.T) {
	files := corpusFiles()
	files["features/auth/CHANGES.md"] = "### Change: " + loginChange + "\n**Status**: COMPLETED\n"
	e := newTestEnv(t, files)

	res := e.run("validate")
	assert.Equal(t, exitUserError, res.ExitCode)
	assert.Contains(t, res.Stdout, "StatusDesync")
	assert.Contains(t, res.Stdout, "1 violation(s)")
	assert.Empty(t, res.Stderr, "the report is not repeated on stderr")
}

func TestApplyAndComplete(t *testing.T) {
	e := newTestEnv(t, corpusFiles())

	res := e.mustRun("apply", "auth", "001-login")
	assert.Equal(t, "Applied 1 delta(s) from "+loginChange+": auth is now at version 1\n", res.Stdout)

	res = e.run("apply", "auth", loginChange)
	assert.Equal(t, exitUserError, res.ExitCode)
	assert.Contains(t, res.Stderr, "already applied")

	res = e.mustRun("--json", "spec", "history", "auth")
	history := parseJSON[[]types.SpecHistoryEntry](t, res.Stdout)
	require.Len(t, history, 1)
	assert.Equal(t, uint64(1), history[0].Version)
	assert.Equal(t, loginChange, history[0].ChangeID)

	res = e.run("complete", "auth", lockChange)
	assert.Equal(t, exitUserError, res.ExitCode)
	assert.Contains(t, res.Stdout, "cannot complete "+lockChange)
	assert.Contains(t, res.Stdout, "IncompleteCompletion")

	res = e.mustRun("complete", "auth", "001-login")
	assert.Equal(t, "Completed "+loginChange+"\n", res.Stdout)

	changes, err := os.ReadFile(filepath.Join(e.Root, "features", "auth", "CHANGES.md"))
	require.NoError(t, err)
	assert.Contains(t, string(changes), "### Change: "+loginChange+"\n**Status**: COMPLETED")
}

func TestApplyConflict(t *testing.T) {
	e := newTestEnv(t, corpusFiles())

	res := e.run("apply", "auth", "002-lockout")
	assert.Equal(t, exitUserError, res.ExitCode)
	assert.Contains(t, res.Stderr, "batch rejected")
	assert.Contains(t, res.Stderr, "lockout")

	spec, err := os.ReadFile(filepath.Join(e.Root, "features", "auth", "spec.md"))
	require.NoError(t, err)
	assert.Contains(t, string(spec), "version: 0")
}

func TestCoverageAndSync(t *testing.T) {
	e := newTestEnv(t, corpusFiles())
	e.mustRun("apply", "auth", loginChange)

	res := e.mustRun("coverage", "auth")
	assert.Contains(t, res.Stdout, loginID)
	assert.Contains(t, res.Stdout, "ph-1=Covered(1)")

	res = e.run("coverage", "billing")
	assert.Equal(t, exitUserError, res.ExitCode)

	res = e.mustRun("status", "sync")
	assert.Equal(t, "auth: login ("+loginID+") NOT_STARTED -> IMPLEMENTED\n", res.Stdout)

	res = e.mustRun("status", "sync")
	assert.Equal(t, "statuses already in sync\n", res.Stdout)

	res = e.mustRun("spec", "show", "auth")
	assert.Contains(t, res.Stdout, "### Requirement: login")
	assert.Contains(t, res.Stdout, "**Status**: IMPLEMENTED")

	res = e.mustRun("--json", "spec", "show", "auth")
	view := parseJSON[specView](t, res.Stdout)
	assert.Equal(t, uint64(1), view.Version)
	require.Len(t, view.Requirements, 1)
	assert.Equal(t, types.StatusImplemented, view.Requirements[0].Status)
}

func TestIDParse(t *testing.T) {
	e := newTestEnv(t, nil)

	res := e.mustRun("--json", "id", "parse", loginID+":ph-2:inst-hash")
	id := parseJSON[types.Identifier](t, res.Stdout)
	assert.Equal(t, types.MustParseIdentifier(loginID+":ph-2:inst-hash"), id)

	res = e.mustRun("id", "parse", loginID)
	assert.Contains(t, res.Stdout, "local name")
	assert.False(t, strings.Contains(res.Stdout, "phase"), "unphased identifiers print no phase")

	res = e.run("id", "parse", "Not-An-Id")
	assert.Equal(t, exitUserError, res.ExitCode)
}

func TestUsageErrors(t *testing.T) {
	e := newTestEnv(t, nil)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"validate", "--bogus"}},
		{"missing args", []string{"apply", "auth"}},
		{"bad log level", []string{"--log-level", "loud", "version"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.run(tt.args...)
			assert.Equal(t, exitUserError, res.ExitCode)
			assert.NotEmpty(t, res.Stderr)
		})
	}
}

func TestExitCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitSuccess},
		{"user", userError(assert.AnError), exitUserError},
		{"system", sysError(assert.AnError), exitSysError},
		{"classified parse error", classify(&types.ParseError{Input: "x", Err: types.ErrInvalidName}), exitUserError},
		{"classified unknown", classify(assert.AnError), exitSysError},
		{"plain", assert.AnError, exitUserError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeOf(tt.err))
		})
	}
}
