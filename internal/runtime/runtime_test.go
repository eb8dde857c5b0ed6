package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/risor-io/risor/object"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/pinpoint/internal/pin"
	"github.com/jward/pinpoint/internal/source"
	"github.com/jward/pinpoint/internal/store"
)

const rubyTestSource = `module Blog
  class Author < Record
    has_many :posts
    has_many :comments
    belongs_to :team

    def full_name
      "#{first} #{last}"
    end
  end
end
`

const hasManyScript = `
tree := parse_src(source_text, "ruby")
root := tree.RootNode()
matches := query("(call method: (identifier) @macro arguments: (argument_list (simple_symbol) @name))", root)
for _, m := range matches {
    if node_text(m["macro"]) == "has_many" {
        sym := m["name"]
        sp := sym.StartPoint()
        ep := sym.EndPoint()
        add_pin({"name": node_text(sym)[1:], "namespace": node_namespace(sym), "return_type": "Array", "start_line": int(sp.Row), "start_col": int(sp.Column), "end_line": int(ep.Row), "end_col": int(ep.Column)})
    }
}
`

// parseRubySource parses Ruby source using tree-sitter directly and
// registers it in a Runtime's source store.
func parseRubySource(t *testing.T, src string) (*sitter.Tree, *Runtime) {
	t.Helper()

	rt := NewRuntime(nil, "")
	lang, ok := ParserForLanguage("ruby")
	require.True(t, ok)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, []byte(src))
	require.NoError(t, err)
	rt.sources.store(tree, []byte(src), lang)
	return tree, rt
}

// --- Language detection tests ---

func TestLanguageForFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"app/models/user.rb", "ruby", true},
		{"lib/tasks/db.rake", "ruby", true},
		{"pinpoint.gemspec", "ruby", true},
		{"config.ru", "ruby", true},
		{"Gemfile", "ruby", true},
		{"sub/Rakefile", "ruby", true},
		{"path/to/FILE.RB", "ruby", true},
		{"main.go", "", false},
		{"Makefile", "", false},
		{"README.md", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			got, ok := LanguageForFile(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParserForLanguage(t *testing.T) {
	t.Parallel()

	l, ok := ParserForLanguage("ruby")
	assert.True(t, ok)
	assert.NotNil(t, l)

	_, ok = ParserForLanguage("cobol")
	assert.False(t, ok)
}

// --- source store tests ---

func TestSourceStore_LookupFromNestedNode(t *testing.T) {
	tree, rt := parseRubySource(t, rubyTestSource)
	defer tree.Close()

	root := tree.RootNode()
	assert.Equal(t, "program", root.Type())

	module := root.NamedChild(0)
	require.NotNil(t, module)
	src, lang, ok := rt.sources.lookup(module)
	require.True(t, ok)
	assert.Equal(t, rubyTestSource, string(src))
	assert.NotNil(t, lang)
}

func TestEnclosingNamespace(t *testing.T) {
	src := "class A::B\n  module C\n    def x\n    end\n  end\nend\n"
	tree, _ := parseRubySource(t, src)
	defer tree.Close()

	// root → class → body → module → body → method
	var method *sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "method" {
			method = n
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(tree.RootNode())
	require.NotNil(t, method)
	assert.Equal(t, "A::B::C", enclosingNamespace(method, []byte(src)))
	assert.Equal(t, "", enclosingNamespace(tree.RootNode().NamedChild(0), []byte(src)))
}

// --- Risor integration tests (via RunSource) ---

func TestRunSource_ParseAndNodeText(t *testing.T) {
	dir := t.TempDir()
	rbFile := filepath.Join(dir, "author.rb")
	require.NoError(t, os.WriteFile(rbFile, []byte(rubyTestSource), 0644))

	rt := NewRuntime(nil, "")
	script := `
tree := parse(test_file, "ruby")
root := tree.RootNode()
assert(root.Type() == "program", "expected program")

matches := query("(class name: (constant) @name)", root)
assert(len(matches) == 1, 'expected 1 class, got {len(matches)}')
name := node_text(matches[0]["name"])
assert(name == "Author", 'expected Author, got {name}')
`
	err := rt.RunSource(context.Background(), script, map[string]any{"test_file": rbFile})
	require.NoError(t, err)
}

func TestRunSource_QueryNoMatches(t *testing.T) {
	rt := NewRuntime(nil, "")
	script := `
tree := parse_src("x = 1\n", "ruby")
matches := query("(class name: (constant) @name)", tree.RootNode())
assert(len(matches) == 0, 'expected 0 matches, got {len(matches)}')
`
	require.NoError(t, rt.RunSource(context.Background(), script, nil))
}

func TestRunSource_QueryInvalidPattern(t *testing.T) {
	rt := NewRuntime(nil, "")
	script := `
tree := parse_src("x = 1\n", "ruby")
query("(not_a_real_node_type @x)", tree.RootNode())
`
	assert.Error(t, rt.RunSource(context.Background(), script, nil))
}

func TestRunSource_UnsupportedLanguage(t *testing.T) {
	rt := NewRuntime(nil, "")
	err := rt.RunSource(context.Background(), `parse_src("x", "cobol")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported language")
}

func TestRunSource_NodeChild(t *testing.T) {
	rt := NewRuntime(nil, "")
	script := `
tree := parse_src("class Foo < Bar\nend\n", "ruby")
cls := tree.RootNode().NamedChild(0)
assert(node_text(node_child(cls, "name")) == "Foo", "name")
assert(node_text(node_child(cls, "superclass")) == "< Bar", "superclass")
assert(node_child(cls, "no_such_field") == nil, "missing field is nil")
`
	require.NoError(t, rt.RunSource(context.Background(), script, nil))
}

func TestRunSource_NodeNamespace(t *testing.T) {
	rt := NewRuntime(nil, "")
	script := `
tree := parse_src(source_text, "ruby")
matches := query("(method name: (identifier) @name)", tree.RootNode())
assert(len(matches) == 1, 'expected 1 method, got {len(matches)}')
ns := node_namespace(matches[0]["name"])
assert(ns == "Blog::Author", 'expected Blog::Author, got {ns}')
`
	err := rt.RunSource(context.Background(), script, map[string]any{"source_text": rubyTestSource})
	require.NoError(t, err)
}

func TestRunSource_StoreGlobalsAbsentWithoutStore(t *testing.T) {
	rt := NewRuntime(nil, "")
	err := rt.RunSource(context.Background(), `search_pins("x")`, nil)
	assert.Error(t, err)
}

func TestRunSource_SearchPinsAndDBQuery(t *testing.T) {
	s, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate())

	root := &pin.Pin{Kind: pin.Namespace, Scope: pin.Class, Location: pin.Location{Filename: "author.rb", EndLine: 3}}
	author := &pin.Pin{
		Kind: pin.Namespace, Name: "Author", Path: "Author", ReturnType: "Class<Author>",
		Scope: pin.Class, Context: root, Location: pin.Location{Filename: "author.rb", EndLine: 2},
	}
	f := &store.File{Path: "author.rb", Hash: store.ContentHash("x"), Text: "x", LastIndexed: time.Now()}
	_, err = s.ReplaceFile(f, []*pin.Pin{root, author})
	require.NoError(t, err)

	rt := NewRuntime(s, "")
	script := `
found := search_pins("Auth")
assert(len(found) == 1, 'expected 1 result, got {len(found)}')
assert(found[0]["path"] == "Author", "path")
assert(found[0]["file"] == "author.rb", "file")

rows := db_query("SELECT path FROM files WHERE path = ?", "author.rb")
assert(len(rows) == 1, "one file row")
`
	require.NoError(t, rt.RunSource(context.Background(), script, nil))

	err = rt.RunSource(context.Background(), `db_query("DELETE FROM files")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only SELECT")
}

// --- Convention tests ---

func TestConvention_AddsPins(t *testing.T) {
	mapFS := fstest.MapFS{
		"has_many.risor": &fstest.MapFile{Data: []byte(hasManyScript)},
	}
	rt := NewRuntime(nil, "", WithRuntimeFS(mapFS))
	conv := rt.Convention("has_many.risor")
	assert.Equal(t, "has_many.risor", conv.Name())

	pins, err := conv.Pins(context.Background(), "app/models/author.rb", rubyTestSource)
	require.NoError(t, err)
	require.Len(t, pins, 2)

	posts := pins[0]
	assert.Equal(t, pin.Method, posts.Kind)
	assert.Equal(t, "posts", posts.Name)
	assert.Equal(t, "Blog::Author", posts.Namespace)
	assert.Equal(t, "Blog::Author#posts", posts.Path)
	assert.Equal(t, "Array", posts.ReturnType)
	assert.Equal(t, pin.Location{Filename: "app/models/author.rb", StartLine: 2, StartCol: 13, EndLine: 2, EndCol: 19}, posts.Location)
	assert.Equal(t, "Blog::Author#comments", pins[1].Path)
}

func TestConvention_ThroughLoader(t *testing.T) {
	mapFS := fstest.MapFS{
		"has_many.risor": &fstest.MapFile{Data: []byte(hasManyScript)},
	}
	rt := NewRuntime(nil, "", WithRuntimeFS(mapFS))
	loader := source.NewLoader(source.WithConventions(rt.Conventions([]string{"has_many.risor"})...))

	src, err := loader.Load(context.Background(), "author.rb", rubyTestSource)
	require.NoError(t, err)

	var found *pin.Pin
	for _, p := range src.Pins() {
		if p.Path == "Blog::Author#posts" {
			found = p
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "author.rb", found.Location.Filename)
	assert.NotNil(t, found.Context)
}

func TestConvention_ScriptErrorFails(t *testing.T) {
	mapFS := fstest.MapFS{
		"broken.risor": &fstest.MapFile{Data: []byte(`add_pin({"kind": "method"})`)},
	}
	rt := NewRuntime(nil, "", WithRuntimeFS(mapFS))

	_, err := rt.Convention("broken.risor").Pins(context.Background(), "a.rb", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestConvention_MissingScript(t *testing.T) {
	rt := NewRuntime(nil, "", WithRuntimeFS(fstest.MapFS{}))
	_, err := rt.Convention("missing.risor").Pins(context.Background(), "a.rb", "")
	assert.Error(t, err)
}

func TestPinFromMap(t *testing.T) {
	t.Parallel()

	m := map[string]object.Object{
		"name":       object.NewString("find_by_email"),
		"namespace":  object.NewString("User"),
		"scope":      object.NewString("class"),
		"visibility": object.NewString("private"),
		"docstring":  object.NewString("Finds a user.\n@return [User, nil]"),
		"parameters": object.NewList([]object.Object{object.NewString("email")}),
		"start_line": object.NewInt(4),
		"start_col":  object.NewInt(2),
	}
	p, err := pinFromMap("user.rb", m)
	require.NoError(t, err)
	assert.Equal(t, pin.Method, p.Kind)
	assert.Equal(t, "User.find_by_email", p.Path)
	assert.Equal(t, pin.Class, p.Scope)
	assert.Equal(t, pin.Private, p.Visibility)
	assert.Equal(t, "User", p.ReturnType)
	assert.Equal(t, []string{"email"}, p.Parameters)
	assert.Equal(t, pin.Location{Filename: "user.rb", StartLine: 4, StartCol: 2, EndLine: 4, EndCol: 2}, p.Location)
}

func TestPinFromMap_Namespace(t *testing.T) {
	t.Parallel()

	p, err := pinFromMap("a.rb", map[string]object.Object{
		"kind":      object.NewString("namespace"),
		"name":      object.NewString("Concerns"),
		"namespace": object.NewString("App"),
		"module":    object.True,
	})
	require.NoError(t, err)
	assert.Equal(t, "App::Concerns", p.Path)
	assert.Equal(t, "Module<App::Concerns>", p.ReturnType)
	assert.True(t, p.IsModule())
}

func TestPinFromMap_RejectsVirtualAndUnknownKinds(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{"virtual", "macro"} {
		_, err := pinFromMap("a.rb", map[string]object.Object{
			"kind": object.NewString(kind),
			"name": object.NewString("x"),
		})
		assert.Error(t, err, kind)
	}
}

// --- Script loading tests ---

func TestRunScript_LoadsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.risor"), []byte(`result := 1 + 1`), 0644))

	rt := NewRuntime(nil, dir)
	require.NoError(t, rt.RunScript(context.Background(), "test.risor", nil))
}

func TestRunScript_MissingFile(t *testing.T) {
	rt := NewRuntime(nil, t.TempDir())
	assert.Error(t, rt.RunScript(context.Background(), "nonexistent.risor", nil))
}

func TestLoadScript_FromFSFS(t *testing.T) {
	t.Parallel()

	content := `x := 42`
	rt := NewRuntime(nil, "", WithRuntimeFS(fstest.MapFS{
		"conventions/rails.risor": &fstest.MapFile{Data: []byte(content)},
	}))

	got, err := rt.LoadScript("conventions/rails.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Absolute-style path should be resolved within the FS.
	got, err = rt.LoadScript("/conventions/rails.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = rt.LoadScript("nonexistent.risor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from fs")
}

func TestLoadScript_FallsBackToDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := `z := 7`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.risor"), []byte(content), 0644))

	rt := NewRuntime(nil, dir)
	got, err := rt.LoadScript("test.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	got, err = rt.LoadScript(filepath.Join(dir, "test.risor"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestScriptsHash(t *testing.T) {
	t.Parallel()

	fs1 := fstest.MapFS{"a.risor": &fstest.MapFile{Data: []byte("x := 1")}}
	fs2 := fstest.MapFS{"a.risor": &fstest.MapFile{Data: []byte("x := 2")}}

	h1 := NewRuntime(nil, "", WithRuntimeFS(fs1)).ScriptsHash([]string{"a.risor"})
	h1again := NewRuntime(nil, "", WithRuntimeFS(fs1)).ScriptsHash([]string{"a.risor"})
	h2 := NewRuntime(nil, "", WithRuntimeFS(fs2)).ScriptsHash([]string{"a.risor"})

	assert.Equal(t, h1, h1again)
	assert.NotEqual(t, h1, h2)
}

// --- Importer wiring tests ---

func TestImport_FSImporter(t *testing.T) {
	// Risor's FSImporter resolves "lib_helpers" by trying name + ".risor",
	// so the file must be at the flat path "lib_helpers.risor" in the FS.
	mapFS := fstest.MapFS{
		"lib_helpers.risor": &fstest.MapFile{Data: []byte(`
func strip_colon(sym) {
	return sym[1:]
}
`)},
	}
	rt := NewRuntime(nil, "", WithRuntimeFS(mapFS))

	script := `
import lib_helpers

name := lib_helpers.strip_colon(":posts")
assert(name == "posts", 'expected "posts", got ' + name)
`
	require.NoError(t, rt.RunSource(context.Background(), script, nil))
}

func TestImport_LocalImporter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "math_utils.risor"), []byte(`
func double(x) {
	return x * 2
}
`), 0644))

	rt := NewRuntime(nil, dir)
	script := `
import math_utils

result := math_utils.double(21)
assert(result == 42, 'expected 42, got {result}')
`
	require.NoError(t, rt.RunSource(context.Background(), script, nil))
}

func TestImport_GlobalsAvailableInImportedModules(t *testing.T) {
	// The log global is always available (provided by buildGlobals), so an
	// imported module referencing it must compile.
	mapFS := fstest.MapFS{
		"helper.risor": &fstest.MapFile{Data: []byte(`
func do_log(msg) {
	log.Info(msg)
}
`)},
	}
	rt := NewRuntime(nil, "", WithRuntimeFS(mapFS))

	script := `
import helper
helper.do_log("test message")
`
	require.NoError(t, rt.RunSource(context.Background(), script, nil))
}
