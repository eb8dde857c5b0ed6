package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/pinpoint/internal/config"
	"github.com/jward/pinpoint/internal/pin"
	"github.com/jward/pinpoint/internal/source"
	"github.com/jward/pinpoint/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, root, rel, text string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func load(t *testing.T, filename, text string) *source.Source {
	t.Helper()
	src, err := source.NewLoader().Load(context.Background(), filename, text)
	require.NoError(t, err)
	return src
}

func paths(pins []*pin.Pin) []string {
	var out []string
	for _, p := range pins {
		if p.Path != "" {
			out = append(out, p.Path)
		}
	}
	return out
}

// testTree lays out a small project: two accepted files, one excluded spec,
// one vendored file and one file under a hidden directory.
func testTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "app/author.rb", "class Author\n  def name\n  end\nend\n")
	writeFile(t, root, "app/post.rb", "class Post\n  def title\n  end\nend\n")
	writeFile(t, root, "spec/author_spec.rb", "class AuthorSpec\nend\n")
	writeFile(t, root, "vendor/gem.rb", "class Vendored\nend\n")
	writeFile(t, root, ".hidden/secret.rb", "class Secret\nend\n")
	writeFile(t, root, "README.md", "# readme\n")
	return root
}

func TestWouldAccept(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := New(root)
	assert.True(t, w.WouldAccept(filepath.Join(root, "app", "user.rb")))
	assert.True(t, w.WouldAccept("lib/user.rb"))
	assert.False(t, w.WouldAccept(filepath.Join(root, "spec", "user_spec.rb")))
	assert.False(t, w.WouldAccept(filepath.Join(root, "README.md")))
	assert.False(t, w.WouldAccept(filepath.Join(filepath.Dir(root), "elsewhere.rb")))
}

func TestWouldAccept_NoRoot(t *testing.T) {
	t.Parallel()

	w := New("", WithPolicy((&config.Config{Include: []string{"app/**/*.rb"}}).Policy()))
	assert.True(t, w.WouldAccept("app/user.rb"))
	assert.True(t, w.WouldAccept("/app/user.rb"))
	assert.False(t, w.WouldAccept("lib/user.rb"))
}

func TestMerge(t *testing.T) {
	t.Parallel()

	w := New("")
	src := load(t, "a.rb", "class A\nend\n")

	changed, err := w.Merge(src)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, uint64(1), w.Generation())
	assert.Contains(t, paths(w.Pins()), "A")

	changed, err = w.Merge(src)
	require.NoError(t, err)
	assert.False(t, changed, "merging the same source twice is a no-op")
	assert.Equal(t, uint64(1), w.Generation())

	changed, err = w.Merge(load(t, "a.rb", "class B\nend\n"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotContains(t, paths(w.Pins()), "A")
	assert.Contains(t, paths(w.Pins()), "B")
}

func TestMerge_IgnoresPolicy(t *testing.T) {
	t.Parallel()

	w := New("")
	require.False(t, w.WouldAccept("spec/a_spec.rb"))
	changed, err := w.Merge(load(t, "spec/a_spec.rb", "class ASpec\nend\n"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, w.Has("spec/a_spec.rb"))
}

func TestMerge_Persists(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	w := New("", WithStore(s))
	_, err := w.Merge(load(t, "a.rb", "class A\nend\n"))
	require.NoError(t, err)

	f, err := s.FileByPath("a.rb")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "class A\nend\n", f.Text)
	stored, err := s.PinsByFile(f.ID)
	require.NoError(t, err)
	assert.Contains(t, paths(stored), "A")
}

func TestRemove(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	w := New("", WithStore(s))
	_, err := w.Merge(load(t, "a.rb", "class A\nend\n"))
	require.NoError(t, err)

	removed, err := w.Remove(context.Background(), "a.rb")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, w.Has("a.rb"))
	assert.Empty(t, w.Pins())

	f, err := s.FileByPath("a.rb")
	require.NoError(t, err)
	assert.Nil(t, f)

	removed, err = w.Remove(context.Background(), "a.rb")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRemove_RetainsFileOnDisk(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := writeFile(t, root, "app/a.rb", "class OnDisk\nend\n")
	w := New(root)
	_, err := w.Merge(load(t, path, "class Edited\nend\n"))
	require.NoError(t, err)

	removed, err := w.Remove(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, removed)

	text, ok := w.Text(path)
	require.True(t, ok)
	assert.Equal(t, "class OnDisk\nend\n", text)
	assert.Contains(t, paths(w.Pins()), "OnDisk")
	assert.NotContains(t, paths(w.Pins()), "Edited")
}

func TestLoad_RequiresRoot(t *testing.T) {
	t.Parallel()

	_, err := New("").Load(context.Background())
	assert.Error(t, err)
}

func TestLoad_DiscoversAcceptedFiles(t *testing.T) {
	t.Parallel()

	root := testTree(t)
	w := New(root, WithStore(newTestStore(t)))

	stats, err := w.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Discovered)
	assert.Equal(t, 2, stats.Mapped)
	assert.Equal(t, 0, stats.Failed)

	assert.Equal(t, []string{
		filepath.Join(root, "app", "author.rb"),
		filepath.Join(root, "app", "post.rb"),
	}, w.Filenames())
	got := paths(w.Pins())
	assert.Contains(t, got, "Author#name")
	assert.Contains(t, got, "Post#title")
	assert.NotContains(t, got, "AuthorSpec")
	assert.NotContains(t, got, "Vendored")
	assert.NotContains(t, got, "Secret")
}

func TestLoad_Serial(t *testing.T) {
	t.Parallel()

	root := testTree(t)
	w := New(root, WithParallel(false))

	stats, err := w.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Mapped)
	assert.Contains(t, paths(w.Pins()), "Post")
}

func TestLoad_Incremental(t *testing.T) {
	t.Parallel()

	root := testTree(t)
	s := newTestStore(t)

	_, err := New(root, WithStore(s)).Load(context.Background())
	require.NoError(t, err)

	// Unchanged files are restored from the store.
	w := New(root, WithStore(s))
	stats, err := w.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Mapped)
	assert.Equal(t, 2, stats.Reused)
	assert.Contains(t, paths(w.Pins()), "Author#name")

	// One edit, one deletion.
	writeFile(t, root, "app/author.rb", "class Author\n  def email\n  end\nend\n")
	require.NoError(t, os.Remove(filepath.Join(root, "app", "post.rb")))

	w = New(root, WithStore(s))
	stats, err = w.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Mapped)
	assert.Equal(t, 0, stats.Reused)
	assert.Equal(t, 1, stats.Removed)

	got := paths(w.Pins())
	assert.Contains(t, got, "Author#email")
	assert.NotContains(t, got, "Author#name")
	assert.NotContains(t, got, "Post")

	f, err := s.FileByPath(filepath.Join(root, "app", "post.rb"))
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestLoad_ConventionsChangeRemaps(t *testing.T) {
	t.Parallel()

	root := testTree(t)
	s := newTestStore(t)

	_, err := New(root, WithStore(s), WithConventionsHash("v1")).Load(context.Background())
	require.NoError(t, err)

	stats, err := New(root, WithStore(s), WithConventionsHash("v1")).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Reused)

	stats, err = New(root, WithStore(s), WithConventionsHash("v2")).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Reused)
	assert.Equal(t, 2, stats.Mapped)
}

func TestLoad_MaxFiles(t *testing.T) {
	t.Parallel()

	root := testTree(t)
	cfg := config.Default()
	cfg.MaxFiles = 1
	w := New(root, WithPolicy(cfg.Policy()))

	stats, err := w.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Discovered)
	assert.Len(t, w.Filenames(), 1)
}
