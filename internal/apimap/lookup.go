package apimap

import (
	"strings"

	"github.com/jward/pinpoint/internal/pin"
)

// objectChain is appended to every instance-method lookup that does not
// already reach it.
var objectChain = []string{"Object", "Kernel", "BasicObject"}

// Qualify resolves name against context by lexical nesting: Foo::Bar
// referencing Baz tries Foo::Bar::Baz, Foo::Baz and Baz in turn. A leading
// "::" anchors name at the top level. It returns "" when no namespace
// matches.
func (m *ApiMap) Qualify(name, context string) string {
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "::") {
		name, context = name[2:], ""
	}
	for ctx := context; ; ctx = pin.ParentNamespace(ctx) {
		candidate := pin.JoinNamespace(ctx, name)
		if _, ok := m.namespaces[candidate]; ok {
			return candidate
		}
		if ctx == "" {
			return ""
		}
	}
}

// Methods lists the methods callable on (namespace, scope) whose
// visibility is in visibility. The nearest definition of each name comes
// first and hides overridden ones.
//
// Instance lookups follow included modules, then the superclass chain,
// then Object, Kernel and BasicObject. Class lookups follow singleton
// methods up the superclass chain and extended modules, then the instance
// methods of Class (or Module). The top-level namespace "" sees its own
// methods plus Object's.
func (m *ApiMap) Methods(namespace string, scope pin.Scope, visibility []pin.Visibility) []*pin.Pin {
	var owners []methodKey
	switch {
	case namespace == "":
		owners = append(owners, methodKey{"", pin.Instance}, methodKey{"", pin.Class})
		for _, a := range m.ancestors("Object") {
			owners = append(owners, methodKey{a, pin.Instance})
		}
	case scope == pin.Class:
		if _, ok := m.namespaces[namespace]; !ok {
			return nil
		}
		meta := "Class"
		for _, c := range m.superclasses(namespace) {
			owners = append(owners, methodKey{c, pin.Class})
			for _, ext := range m.mixins(c, extends) {
				for _, a := range m.mixinChain(ext, make(map[string]bool), nil) {
					owners = append(owners, methodKey{a, pin.Instance})
				}
			}
			if m.isModule(c) {
				meta = "Module"
			}
		}
		for _, a := range m.ancestors(meta) {
			owners = append(owners, methodKey{a, pin.Instance})
		}
	default:
		if _, ok := m.namespaces[namespace]; !ok {
			return nil
		}
		for _, a := range m.ancestors(namespace) {
			owners = append(owners, methodKey{a, pin.Instance})
		}
	}

	allowed := make(map[pin.Visibility]bool, len(visibility))
	for _, v := range visibility {
		allowed[v] = true
	}
	seen := make(map[string]bool)
	visited := make(map[methodKey]bool)
	var out []*pin.Pin
	for _, key := range owners {
		if visited[key] {
			continue
		}
		visited[key] = true
		for _, p := range m.methods[key] {
			if seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			if allowed[p.Visibility] {
				out = append(out, p)
			}
		}
	}
	return out
}

// ancestors is the instance-method lookup order of namespace.
func (m *ApiMap) ancestors(namespace string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range m.superclasses(namespace) {
		out = m.mixinChain(c, seen, out)
	}
	for _, c := range objectChain {
		if _, ok := m.namespaces[c]; ok {
			out = m.mixinChain(c, seen, out)
		}
	}
	return out
}

// mixinChain appends ns and, recursively, the modules it includes.
func (m *ApiMap) mixinChain(ns string, seen map[string]bool, out []string) []string {
	if ns == "" || seen[ns] {
		return out
	}
	seen[ns] = true
	out = append(out, ns)
	for _, inc := range m.mixins(ns, includes) {
		out = m.mixinChain(inc, seen, out)
	}
	return out
}

func includes(p *pin.Pin) []string { return p.Includes }

func extends(p *pin.Pin) []string { return p.Extends }

// superclasses is namespace followed by its superclass chain. Classes
// without an explicit superclass inherit from Object; modules have none.
func (m *ApiMap) superclasses(namespace string) []string {
	var out []string
	seen := make(map[string]bool)
	for ns := namespace; ns != "" && !seen[ns]; ns = m.superclass(ns) {
		seen[ns] = true
		out = append(out, ns)
	}
	return out
}

func (m *ApiMap) superclass(namespace string) string {
	decls := m.namespaces[namespace]
	for _, p := range decls {
		if p.IsModule() {
			return ""
		}
	}
	for _, p := range decls {
		if p.Superclass != "" {
			return m.Qualify(p.Superclass, p.Namespace)
		}
	}
	switch namespace {
	case "BasicObject", "Object":
		return ""
	}
	if _, ok := m.namespaces["Object"]; ok && len(decls) > 0 {
		return "Object"
	}
	return ""
}

// mixins qualifies the modules that every declaration of namespace lists
// in field. Later declarations and later mixins come first.
func (m *ApiMap) mixins(namespace string, field func(*pin.Pin) []string) []string {
	var out []string
	decls := m.namespaces[namespace]
	for i := len(decls) - 1; i >= 0; i-- {
		names := field(decls[i])
		for j := len(names) - 1; j >= 0; j-- {
			if q := m.Qualify(names[j], decls[i].Path); q != "" {
				out = append(out, q)
			}
		}
	}
	return out
}

func (m *ApiMap) isModule(namespace string) bool {
	for _, p := range m.namespaces[namespace] {
		if p.IsModule() {
			return true
		}
	}
	return false
}

// Constants lists the namespaces visible from namespace. With root set,
// only the children of root (qualified against namespace) are listed;
// otherwise the children of namespace and of each lexically enclosing
// namespace, innermost first.
func (m *ApiMap) Constants(root, namespace string) []*pin.Pin {
	if root != "" {
		full := m.Qualify(root, namespace)
		if full == "" {
			return nil
		}
		return m.children[full]
	}
	var out []*pin.Pin
	seen := make(map[string]bool)
	for ctx := namespace; ; ctx = pin.ParentNamespace(ctx) {
		for _, p := range m.children[ctx] {
			if !seen[p.Path] {
				seen[p.Path] = true
				out = append(out, p)
			}
		}
		if ctx == "" {
			return out
		}
	}
}

// PathSuggestions lists one pin per namespace or method path that starts
// with prefix, sorted by path.
func (m *ApiMap) PathSuggestions(prefix string) []*pin.Pin {
	var out []*pin.Pin
	for p, pins := range m.paths {
		if strings.HasPrefix(p, prefix) && len(pins) > 0 {
			out = append(out, pins[0])
		}
	}
	sortByPath(out)
	return out
}
