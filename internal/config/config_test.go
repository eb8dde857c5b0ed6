package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, def.Include, cfg.Include)
	assert.Equal(t, def.Exclude, cfg.Exclude)
	assert.Empty(t, cfg.Conventions)
	assert.Equal(t, 5000, cfg.MaxFiles)
}

func TestLoad_OverridesAndDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, `
include:
  - "app/**/*.rb"
  - "lib/**/*.rb"
conventions:
  - conventions/rails.risor
max_files: 10
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"app/**/*.rb", "lib/**/*.rb"}, cfg.Include)
	assert.Equal(t, Default().Exclude, cfg.Exclude)
	assert.Equal(t, []string{"conventions/rails.risor"}, cfg.Conventions)
	assert.Equal(t, 10, cfg.MaxFiles)
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, "include: [unclosed\n")

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_NegativeMaxFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, "max_files: -1\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_files")
}

func TestValidate_AbsoluteConvention(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Conventions = []string{"/etc/rails.risor"}
	assert.Error(t, cfg.Validate())
}

func TestPolicy_Accepts(t *testing.T) {
	t.Parallel()

	p := Default().Policy()
	tests := []struct {
		path string
		want bool
	}{
		{"app.rb", true},
		{"app/models/user.rb", true},
		{"lib/deep/nested/thing.rb", true},
		{"README.md", false},
		{"spec/models/user_spec.rb", false},
		{"test/user_test.rb", false},
		{"vendor/bundle/gems/x.rb", false},
		{"../outside.rb", false},
		{".", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, p.Accepts(tt.path))
		})
	}
}

func TestPolicy_CustomPatterns(t *testing.T) {
	t.Parallel()

	cfg := &Config{Include: []string{"app/**/*.rb"}, Exclude: []string{"app/legacy/"}}
	p := cfg.Policy()
	assert.True(t, p.Accepts("app/models/user.rb"))
	assert.False(t, p.Accepts("lib/user.rb"))
	assert.False(t, p.Accepts("app/legacy/old.rb"))
	assert.Equal(t, 0, p.MaxFiles())
}
