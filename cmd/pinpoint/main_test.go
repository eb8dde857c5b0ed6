package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/pinpoint"
	"github.com/jward/pinpoint/internal/pin"
)

func TestFindRepoRoot_DirectGitDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))

	got := findRepoRoot(root)
	assert.Equal(t, root, got)
}

func TestFindRepoRoot_NestedSubdirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	deep := filepath.Join(root, "sub", "deep")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	got := findRepoRoot(deep)
	assert.Equal(t, root, got)
}

func TestFindRepoRoot_NoGitAncestor(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findRepoRoot(dir)
	assert.Equal(t, dir, got)
}

// Not parallel: mutates flagDB.
func TestResolveDBPath(t *testing.T) {
	defer func() { flagDB = "" }()

	flagDB = ""
	assert.Equal(t, filepath.Join("/repo", ".pinpoint", "index.db"), resolveDBPath("/repo"))

	flagDB = "tmp/pins.db"
	assert.Equal(t, filepath.Join("/repo", "tmp", "pins.db"), resolveDBPath("/repo"))

	flagDB = "/abs/pins.db"
	assert.Equal(t, "/abs/pins.db", resolveDBPath("/repo"))
}

func TestResolveTargetDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got, err := resolveTargetDir([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	file := filepath.Join(dir, "a.rb")
	require.NoError(t, os.WriteFile(file, []byte("class A\nend\n"), 0o644))
	_, err = resolveTargetDir([]string{file})
	assert.ErrorContains(t, err, "not a directory")

	_, err = resolveTargetDir([]string{filepath.Join(dir, "missing")})
	assert.ErrorContains(t, err, "directory not found")
}

func TestValidateFormat(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateFormat("json"))
	assert.NoError(t, validateFormat("text"))
	assert.ErrorContains(t, validateFormat("yaml"), `invalid format "yaml"`)
}

func TestParseIntArg(t *testing.T) {
	t.Parallel()

	n, err := parseIntArg("12", "line")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = parseIntArg("x", "line")
	assert.ErrorContains(t, err, `invalid line "x"`)
	_, err = parseIntArg("-1", "col")
	assert.ErrorContains(t, err, "must be non-negative")
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		for _, jsonOutput := range []bool{false, true} {
			l, err := newLogger(level, jsonOutput)
			require.NoError(t, err, level)
			assert.NotNil(t, l)
		}
	}
	_, err := newLogger("loud", false)
	assert.ErrorContains(t, err, "invalid log level")
}

func TestPinToCLI(t *testing.T) {
	t.Parallel()

	p := &pin.Pin{
		Kind:       pin.Method,
		Name:       "greet",
		Namespace:  "Greeter",
		Path:       "Greeter#greet",
		ReturnType: "String",
		Location:   pin.Location{Filename: "/app/greeter.rb", StartLine: 6, StartCol: 2, EndLine: 7, EndCol: 5},
	}
	got := pinToCLI(p)
	assert.Equal(t, "method", got.Kind)
	assert.Equal(t, "greet", got.Name)
	assert.Equal(t, "Greeter#greet", got.Path)
	assert.Equal(t, "instance", got.Scope)
	assert.Equal(t, "String", got.ReturnType)
	assert.Equal(t, "/app/greeter.rb", got.File)
	assert.Equal(t, 6, got.StartLine)
}

func TestOutputResultText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := outputResultText(&buf, CLIResult{
		Command: "complete",
		Results: CLICompletion{
			Word: "gr",
			Pins: []CLIPin{{Name: "greet", Kind: "method", Path: "Greeter#greet", ReturnType: "String", File: "/app/greeter.rb", StartLine: 6}},
		},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, `Word: "gr"`)
	assert.Contains(t, out, "Greeter#greet")
	assert.Contains(t, out, "NAME")

	buf.Reset()
	require.NoError(t, outputResultText(&buf, CLIResult{Results: CLILoadStats{Root: "/app", Mapped: 3}}))
	assert.Contains(t, buf.String(), "Mapped: 3")
	assert.NotContains(t, buf.String(), "Failed")

	assert.Error(t, outputResultText(&buf, CLIResult{Results: 42}))
}

func TestStatsToCLI(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "app"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app", "a.rb"), []byte("class A\nend\n"), 0o644))

	lib, err := pinpoint.Load(t.Context(), root)
	require.NoError(t, err)
	defer lib.Shutdown()

	got := statsToCLI(lib, "", 0)
	assert.Equal(t, root, got.Root)
	assert.Equal(t, 1, got.Discovered)
	assert.Equal(t, 1, got.Mapped)
}
