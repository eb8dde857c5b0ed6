package apimap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/pinpoint/internal/pin"
	"github.com/jward/pinpoint/internal/source"
)

type fakeWorkspace struct {
	pins []*pin.Pin
	gen  uint64
}

func (w *fakeWorkspace) Pins() []*pin.Pin   { return w.pins }
func (w *fakeWorkspace) Generation() uint64 { return w.gen }

func (w *fakeWorkspace) add(t *testing.T, filename, text string) {
	t.Helper()
	w.pins = append(w.pins, load(t, filename, text).Pins()...)
	w.gen++
}

func load(t *testing.T, filename, text string) *source.Source {
	t.Helper()
	src, err := source.NewLoader().Load(context.Background(), filename, text)
	require.NoError(t, err)
	return src
}

func newTestMap(t *testing.T, ws *fakeWorkspace) *ApiMap {
	t.Helper()
	m, err := New(context.Background(), ws)
	require.NoError(t, err)
	return m
}

func names(pins []*pin.Pin) []string {
	out := make([]string, len(pins))
	for i, p := range pins {
		out[i] = p.Name
	}
	return out
}

func indexOf(pins []*pin.Pin, name string) int {
	for i, p := range pins {
		if p.Name == name {
			return i
		}
	}
	return -1
}

const hierarchySrc = `module App
  module Helpers
    def help; end
  end

  module Factory
    def create; end
  end

  class Base
    def base_method; end

    def to_s; end
  end

  class Greeter < Base
    include Helpers
    extend Factory

    def greet; end

    def to_s; end

    def self.build; end

    private

    def secret; end
  end

  class Runner
  end
end

def helper; end
`

// =============================================================================
// Core stubs
// =============================================================================

func TestNew_MapsCoreStubs(t *testing.T) {
	t.Parallel()
	m := newTestMap(t, &fakeWorkspace{})

	ctor := m.BuiltinConstructor()
	require.NotNil(t, ctor)
	assert.Equal(t, "Class#new", ctor.Path)
	assert.Equal(t, CorePrefix+"class.rb", ctor.Location.Filename)

	upcase := m.PathPins("String#upcase")
	require.Len(t, upcase, 1)
	assert.Equal(t, "String", upcase[0].ReturnType)
	assert.NotEmpty(t, m.PathPins("Kernel#puts"))
	assert.Empty(t, m.PathPins(""), "root pins are not indexed by path")
}

// =============================================================================
// Lookups
// =============================================================================

func TestQualify(t *testing.T) {
	t.Parallel()
	ws := &fakeWorkspace{}
	ws.add(t, "/app/app.rb", hierarchySrc)
	m := newTestMap(t, ws)

	assert.Equal(t, "App::Greeter", m.Qualify("Greeter", "App::Runner"))
	assert.Equal(t, "App::Greeter", m.Qualify("App::Greeter", "App::Runner"))
	assert.Equal(t, "String", m.Qualify("::String", "App"))
	assert.Equal(t, "App", m.Qualify("App", ""))
	assert.Equal(t, "", m.Qualify("Greeter", ""))
	assert.Equal(t, "", m.Qualify("Missing", "App"))
	assert.Equal(t, "", m.Qualify("", "App"))
}

func TestMethods_InstanceLookupOrder(t *testing.T) {
	t.Parallel()
	ws := &fakeWorkspace{}
	ws.add(t, "/app/app.rb", hierarchySrc)
	m := newTestMap(t, ws)

	methods := m.Methods("App::Greeter", pin.Instance, []pin.Visibility{pin.Public})
	greet, help, base := indexOf(methods, "greet"), indexOf(methods, "help"), indexOf(methods, "base_method")
	puts := indexOf(methods, "puts")
	require.True(t, greet >= 0 && help >= 0 && base >= 0 && puts >= 0, "got %v", names(methods))
	assert.Less(t, greet, help)
	assert.Less(t, help, base)
	assert.Less(t, base, puts)

	assert.Equal(t, -1, indexOf(methods, "secret"))
	assert.Equal(t, -1, indexOf(methods, "build"))

	var toS []*pin.Pin
	for _, p := range methods {
		if p.Name == "to_s" {
			toS = append(toS, p)
		}
	}
	require.Len(t, toS, 1, "overrides hide inherited methods")
	assert.Equal(t, "App::Greeter#to_s", toS[0].Path)
}

func TestMethods_Visibility(t *testing.T) {
	t.Parallel()
	ws := &fakeWorkspace{}
	ws.add(t, "/app/app.rb", hierarchySrc)
	m := newTestMap(t, ws)

	all := m.Methods("App::Greeter", pin.Instance, pin.AllVisibilities)
	assert.GreaterOrEqual(t, indexOf(all, "secret"), 0)
}

func TestMethods_ClassScope(t *testing.T) {
	t.Parallel()
	ws := &fakeWorkspace{}
	ws.add(t, "/app/app.rb", hierarchySrc)
	m := newTestMap(t, ws)

	methods := m.Methods("App::Greeter", pin.Class, []pin.Visibility{pin.Public})
	for _, name := range []string{"build", "create", "new", "superclass", "name"} {
		assert.GreaterOrEqual(t, indexOf(methods, name), 0, "missing %s in %v", name, names(methods))
	}
	assert.Equal(t, -1, indexOf(methods, "greet"))
	assert.Equal(t, -1, indexOf(methods, "include"), "Module#include is private")
	assert.Less(t, indexOf(methods, "build"), indexOf(methods, "new"))

	all := m.Methods("App::Greeter", pin.Class, pin.AllVisibilities)
	assert.GreaterOrEqual(t, indexOf(all, "include"), 0)
}

func TestMethods_ModuleScopeUsesModule(t *testing.T) {
	t.Parallel()
	ws := &fakeWorkspace{}
	ws.add(t, "/app/app.rb", hierarchySrc)
	m := newTestMap(t, ws)

	methods := m.Methods("App::Helpers", pin.Class, []pin.Visibility{pin.Public})
	assert.GreaterOrEqual(t, indexOf(methods, "name"), 0)
	assert.Equal(t, -1, indexOf(methods, "new"), "modules cannot be instantiated")
}

func TestMethods_TopLevel(t *testing.T) {
	t.Parallel()
	ws := &fakeWorkspace{}
	ws.add(t, "/app/app.rb", hierarchySrc)
	m := newTestMap(t, ws)

	methods := m.Methods("", pin.Class, pin.AllVisibilities)
	assert.GreaterOrEqual(t, indexOf(methods, "helper"), 0)
	assert.GreaterOrEqual(t, indexOf(methods, "puts"), 0)
}

func TestMethods_UnknownNamespace(t *testing.T) {
	t.Parallel()
	m := newTestMap(t, &fakeWorkspace{})
	assert.Empty(t, m.Methods("Nope", pin.Instance, pin.AllVisibilities))
	assert.Empty(t, m.Methods("Nope", pin.Class, pin.AllVisibilities))
}

func TestConstants(t *testing.T) {
	t.Parallel()
	ws := &fakeWorkspace{}
	ws.add(t, "/app/app.rb", hierarchySrc)
	ws.add(t, "/app/more.rb", "module App\n  class Greeter\n  end\nend\n")
	m := newTestMap(t, ws)

	children := m.Constants("App", "")
	assert.Equal(t, []string{"Helpers", "Factory", "Base", "Greeter", "Runner"}, names(children),
		"reopened namespaces are listed once")

	visible := m.Constants("", "App::Runner")
	assert.Equal(t, "Helpers", visible[0].Name, "innermost scope first")
	assert.GreaterOrEqual(t, indexOf(visible, "App"), 0)
	assert.GreaterOrEqual(t, indexOf(visible, "String"), 0)

	assert.Empty(t, m.Constants("Missing", "App"))
}

func TestPathSuggestions(t *testing.T) {
	t.Parallel()
	ws := &fakeWorkspace{}
	ws.add(t, "/app/app.rb", hierarchySrc)
	m := newTestMap(t, ws)

	got := m.PathSuggestions("App::Greeter")
	var paths []string
	for _, p := range got {
		paths = append(paths, p.Path)
	}
	assert.Equal(t, []string{
		"App::Greeter", "App::Greeter#greet", "App::Greeter#secret", "App::Greeter#to_s", "App::Greeter.build",
	}, paths)
}

// =============================================================================
// Refresh and virtualization
// =============================================================================

func TestRefresh_FollowsWorkspaceGeneration(t *testing.T) {
	t.Parallel()
	ws := &fakeWorkspace{}
	m := newTestMap(t, ws)

	ws.pins = append(ws.pins, load(t, "/app/a.rb", "class Alpha; end\n").Pins()...)
	m.Refresh(false)
	assert.Empty(t, m.PathPins("Alpha"), "unchanged generation skips the rebuild")

	m.Refresh(true)
	assert.Len(t, m.PathPins("Alpha"), 1)

	ws.add(t, "/app/b.rb", "class Beta; end\n")
	m.Refresh(false)
	assert.Len(t, m.PathPins("Beta"), 1)
}

func TestVirtualize_ReplacesMergedFile(t *testing.T) {
	t.Parallel()
	ws := &fakeWorkspace{}
	ws.add(t, "/app/a.rb", "class Old; end\n")
	m := newTestMap(t, ws)
	require.Len(t, m.PathPins("Old"), 1)

	src := load(t, "/app/a.rb", "class Fresh; end\n")
	m.Virtualize(src)
	assert.Same(t, src, m.Current())
	assert.Empty(t, m.PathPins("Old"))
	assert.Len(t, m.PathPins("Fresh"), 1)

	m.Virtualize(nil)
	assert.Nil(t, m.Current())
	assert.Len(t, m.PathPins("Old"), 1)
	assert.Empty(t, m.PathPins("Fresh"))
}

func TestVirtualize_PicksUpPatches(t *testing.T) {
	t.Parallel()
	m := newTestMap(t, &fakeWorkspace{})
	src := load(t, "/app/a.rb", "class One; end\n")
	m.Virtualize(src)
	require.Len(t, m.PathPins("One"), 1)

	require.NoError(t, src.ApplyPatch(context.Background(), source.Updater{
		Filename: "/app/a.rb",
		Changes:  []source.Change{{Text: "class Two; end\n"}},
	}))
	m.Virtualize(src)
	assert.Empty(t, m.PathPins("One"))
	assert.Len(t, m.PathPins("Two"), 1)
}

// =============================================================================
// Queries
// =============================================================================

const queriesSrc = `class Greeter
  def initialize(name)
  end

  # @return [String]
  def greet
    @name = "x"
  end

  def run
    g = Greeter.new("a")
    g.gr
    @na
  end
end
`

func virtualized(t *testing.T, text string) (*ApiMap, *source.Source) {
	t.Helper()
	m := newTestMap(t, &fakeWorkspace{})
	src := load(t, "/app/greeter.rb", text)
	m.Virtualize(src)
	return m, src
}

func TestComplete_MethodsOfInferredReceiver(t *testing.T) {
	t.Parallel()
	m, src := virtualized(t, queriesSrc)

	c, err := m.Complete(src.FragmentAt(11, 8))
	require.NoError(t, err)
	assert.Equal(t, "gr", c.Word)
	assert.Equal(t, []string{"greet"}, names(c.Pins))
}

func TestComplete_BareWordPrefersLocals(t *testing.T) {
	t.Parallel()
	m, src := virtualized(t, queriesSrc)

	c, err := m.Complete(src.FragmentAt(11, 5))
	require.NoError(t, err)
	require.NotEmpty(t, c.Pins)
	assert.Equal(t, pin.LocalVariable, c.Pins[0].Kind)
	assert.Equal(t, "g", c.Pins[0].Name)
	assert.GreaterOrEqual(t, indexOf(c.Pins, "greet"), 1)
}

func TestComplete_InstanceVariables(t *testing.T) {
	t.Parallel()
	m, src := virtualized(t, queriesSrc)

	c, err := m.Complete(src.FragmentAt(12, 7))
	require.NoError(t, err)
	assert.Equal(t, "@na", c.Word)
	require.Len(t, c.Pins, 1)
	assert.Equal(t, "@name", c.Pins[0].Name)
	assert.Equal(t, pin.InstanceVariable, c.Pins[0].Kind)
}

func TestComplete_Constants(t *testing.T) {
	t.Parallel()
	m, src := virtualized(t, "module Outer\n  class Inner; end\nend\nOuter::In\n")

	c, err := m.Complete(src.FragmentAt(3, 9))
	require.NoError(t, err)
	assert.Equal(t, []string{"Inner"}, names(c.Pins))
}

func TestComplete_UnknownReceiver(t *testing.T) {
	t.Parallel()
	m, src := virtualized(t, "mystery.fo\n")

	c, err := m.Complete(src.FragmentAt(0, 10))
	require.NoError(t, err)
	assert.Empty(t, c.Pins)
}

func TestDefine_ConstructorPrefersInitialize(t *testing.T) {
	t.Parallel()
	m, src := virtualized(t, queriesSrc)

	pins, err := m.Define(src.FragmentAt(10, 17))
	require.NoError(t, err)
	require.Len(t, pins, 2)
	assert.Equal(t, "Greeter#initialize", pins[0].Path)
	assert.Equal(t, "Class#new", pins[1].Path)
}

func TestDefine_Constant(t *testing.T) {
	t.Parallel()
	m, src := virtualized(t, queriesSrc)

	pins, err := m.Define(src.FragmentAt(10, 10))
	require.NoError(t, err)
	require.Len(t, pins, 1)
	assert.Equal(t, "Greeter", pins[0].Path)
	assert.Equal(t, "/app/greeter.rb", pins[0].Location.Filename)
}

func TestSignify_CallArguments(t *testing.T) {
	t.Parallel()
	m, src := virtualized(t, queriesSrc)

	pins, err := m.Signify(src.FragmentAt(10, 21))
	require.NoError(t, err)
	require.NotEmpty(t, pins)
	assert.Equal(t, "Greeter#initialize", pins[0].Path)
	assert.Equal(t, []string{"name"}, pins[0].Parameters)
}

func TestSignify_OutsideCall(t *testing.T) {
	t.Parallel()
	m, src := virtualized(t, queriesSrc)

	pins, err := m.Signify(src.FragmentAt(11, 5))
	require.NoError(t, err)
	assert.Empty(t, pins)
}

func TestLocate(t *testing.T) {
	t.Parallel()
	m, src := virtualized(t, queriesSrc)

	var greet *pin.Pin
	for _, p := range src.Pins() {
		if p.Name == "greet" {
			greet = p
		}
	}
	require.NotNil(t, greet)
	assert.Same(t, greet, m.Locate(greet.Location))
	assert.Nil(t, m.Locate(pin.Location{Filename: "/nowhere.rb"}))
}
