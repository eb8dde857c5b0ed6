package apimap

import (
	"sort"
	"strings"

	"github.com/jward/pinpoint/internal/pin"
	"github.com/jward/pinpoint/internal/source"
)

// Completion is the result of a completion request: the candidate pins and
// the partial word they complete.
type Completion struct {
	Pins []*pin.Pin
	Word string
}

// Complete lists the pins that can complete the word at frag.
//
// After "." it lists the public methods of the receiver's inferred type
// (every method for self). After "::" it lists the constants of the
// qualifying namespace. Sigiled words complete to variables. Bare words
// complete to locals, then methods callable from the context, then
// constants.
func (m *ApiMap) Complete(frag *source.Fragment) (*Completion, error) {
	c := &Completion{Word: frag.Word}
	namespace, scope := scopeOf(frag.Context)

	switch {
	case frag.Separator == ".":
		if frag.Base == "" {
			return c, nil
		}
		typ, err := m.engine.InferType(frag.Base, frag.Context, frag.Locals)
		if err != nil {
			return nil, err
		}
		if typ == "" {
			return c, nil
		}
		visibility := []pin.Visibility{pin.Public}
		if frag.Base == "self" {
			visibility = pin.AllVisibilities
		}
		ns, sc := pin.ParseType(typ)
		c.Pins = withPrefix(m.Methods(ns, sc, visibility), frag.Word)

	case frag.Separator == "::":
		if frag.Base == "" {
			c.Pins = withPrefix(m.Constants("", ""), frag.Word)
			break
		}
		c.Pins = withPrefix(m.Constants(frag.Base, namespace), frag.Word)

	case strings.HasPrefix(frag.Word, "$"):
		c.Pins = withPrefix(latestByName(m.globals), frag.Word)

	case strings.HasPrefix(frag.Word, "@"):
		c.Pins = m.variables(frag.Word, namespace, scope)

	default:
		c.Pins = append(c.Pins, withPrefix(latestByName(frag.Locals), frag.Word)...)
		c.Pins = append(c.Pins, withPrefix(m.Methods(namespace, scope, pin.AllVisibilities), frag.Word)...)
		c.Pins = append(c.Pins, withPrefix(m.Constants("", namespace), frag.Word)...)
	}
	return c, nil
}

// variables lists the instance and class variables of namespace starting
// with prefix. Instance variables must also match scope. Each name is
// represented by its latest declaration.
func (m *ApiMap) variables(prefix, namespace string, scope pin.Scope) []*pin.Pin {
	var names []string
	latest := make(map[string]*pin.Pin)
	for _, p := range m.list.Pins() {
		if p.Namespace != namespace || !strings.HasPrefix(p.Name, prefix) {
			continue
		}
		switch p.Kind {
		case pin.InstanceVariable:
			if p.Scope != scope {
				continue
			}
		case pin.ClassVariable:
		case pin.Namespace, pin.Method, pin.Block, pin.BlockParameter, pin.LocalVariable,
			pin.GlobalVariable, pin.Virtual:
			continue
		}
		if _, ok := latest[p.Name]; !ok {
			names = append(names, p.Name)
		}
		latest[p.Name] = p
	}
	out := make([]*pin.Pin, 0, len(names))
	for _, name := range names {
		p := latest[name]
		if indexed := m.list.Lookup(name, namespace); indexed != nil && indexed.Kind == p.Kind && indexed.Scope == p.Scope {
			p = indexed
		}
		out = append(out, p)
	}
	return out
}

// Define returns the pins the signature at frag refers to.
func (m *ApiMap) Define(frag *source.Fragment) ([]*pin.Pin, error) {
	if frag.Signature == "" {
		return nil, nil
	}
	pins, err := m.engine.InferSignature(frag.Signature, frag.Context, frag.Locals)
	if err != nil {
		return nil, err
	}
	return m.concrete(pins), nil
}

// Signify returns the methods whose signatures apply to the call whose
// argument list contains frag.
func (m *ApiMap) Signify(frag *source.Fragment) ([]*pin.Pin, error) {
	if frag.CallSignature == "" {
		return nil, nil
	}
	pins, err := m.engine.InferSignature(frag.CallSignature, frag.Context, frag.Locals)
	if err != nil {
		return nil, err
	}
	var out []*pin.Pin
	for _, p := range m.concrete(pins) {
		if p.Kind == pin.Method {
			out = append(out, p)
		}
	}
	return out, nil
}

// concrete drops virtual pins and duplicate declarations. A constructor
// bound to a class is preceded by that class's initialize.
func (m *ApiMap) concrete(pins []*pin.Pin) []*pin.Pin {
	type key struct {
		path string
		loc  pin.Location
	}
	seen := make(map[key]bool)
	var out []*pin.Pin
	add := func(p *pin.Pin) {
		k := key{p.Path, p.Location}
		if !seen[k] {
			seen[k] = true
			out = append(out, p)
		}
	}
	for _, p := range pins {
		if p.Kind == pin.Virtual {
			continue
		}
		if p.Path == m.ctor.Path && p.ReturnType != m.ctor.ReturnType {
			for _, init := range m.Methods(p.ReturnType, pin.Instance, pin.AllVisibilities) {
				if init.Name == "initialize" {
					add(init)
				}
			}
		}
		add(p)
	}
	return out
}

// Locate returns the pin declared at exactly loc, or nil.
func (m *ApiMap) Locate(loc pin.Location) *pin.Pin {
	for _, p := range m.list.Pins() {
		if p.Location == loc {
			return p
		}
	}
	return nil
}

// scopeOf is the namespace and scope code at context runs in. Blocks run
// in the scope of their enclosing method or namespace.
func scopeOf(context *pin.Pin) (string, pin.Scope) {
	for context != nil && context.Kind == pin.Block {
		context = context.Context
	}
	if context == nil {
		return "", pin.Instance
	}
	switch context.Kind {
	case pin.Namespace:
		return context.Path, pin.Class
	case pin.Method:
		return context.Namespace, context.Scope
	case pin.Block, pin.BlockParameter, pin.LocalVariable, pin.InstanceVariable,
		pin.ClassVariable, pin.GlobalVariable, pin.Virtual:
	}
	return context.Namespace, pin.Instance
}

func withPrefix(pins []*pin.Pin, prefix string) []*pin.Pin {
	if prefix == "" {
		return pins
	}
	var out []*pin.Pin
	for _, p := range pins {
		if strings.HasPrefix(p.Name, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// latestByName keeps the first pin of each name. Fragment locals are
// ordered most recent first.
func latestByName(pins []*pin.Pin) []*pin.Pin {
	seen := make(map[string]bool)
	var out []*pin.Pin
	for _, p := range pins {
		if !seen[p.Name] {
			seen[p.Name] = true
			out = append(out, p)
		}
	}
	return out
}

func sortByPath(pins []*pin.Pin) {
	sort.Slice(pins, func(i, j int) bool { return pins[i].Path < pins[j].Path })
}
