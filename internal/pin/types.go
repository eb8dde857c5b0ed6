package pin

import "strings"

// ParseType splits a type string into the namespace it names and the scope
// it applies to. "Class<Foo>" and "Module<Foo>" denote the class scope of
// Foo; any other type denotes the instance scope of its leading namespace,
// with generic annotations dropped.
func ParseType(typ string) (namespace string, scope Scope) {
	typ = strings.TrimSpace(typ)
	for _, wrapper := range []string{"Class<", "Module<"} {
		if strings.HasPrefix(typ, wrapper) && strings.HasSuffix(typ, ">") {
			return strings.TrimSpace(typ[len(wrapper) : len(typ)-1]), Class
		}
	}
	if i := strings.IndexByte(typ, '<'); i >= 0 {
		return strings.TrimSpace(typ[:i]), Instance
	}
	return typ, Instance
}

// Subtypes parses one level of generic annotation from typ:
// "Hash<Symbol, Array<String>>" yields ["Symbol", "Array<String>"]. A type
// without annotation yields an empty list. ok is false when typ is empty.
func Subtypes(typ string) (subtypes []string, ok bool) {
	if typ == "" {
		return nil, false
	}
	lt := strings.IndexByte(typ, '<')
	gt := strings.LastIndexByte(typ, '>')
	if lt < 0 || gt < lt {
		return []string{}, true
	}
	return SplitTypes(typ[lt+1 : gt]), true
}

// SplitTypes splits a comma-separated type list at the top nesting level and
// trims each entry. Empty entries are dropped.
func SplitTypes(list string) []string {
	out := []string{}
	depth, start := 0, 0
	for i := 0; i < len(list); i++ {
		switch list[i] {
		case '<', '(', '{', '[':
			depth++
		case '>', ')', '}', ']':
			depth--
		case ',':
			if depth == 0 {
				if s := strings.TrimSpace(list[start:i]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(list[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// Annotation returns the generic suffix of typ ("<String>" for
// "Array<String>"), or "" when there is none.
func Annotation(typ string) string {
	if i := strings.IndexByte(typ, '<'); i >= 0 {
		return typ[i:]
	}
	return ""
}

// NamespaceType is the return type carried by a namespace pin.
func NamespaceType(path string, module bool) string {
	if module {
		return "Module<" + path + ">"
	}
	return "Class<" + path + ">"
}

// MethodPath joins a namespace and method name: "Foo#bar" for instance
// methods, "Foo.bar" for class methods.
func MethodPath(namespace, name string, scope Scope) string {
	if scope == Class {
		return namespace + "." + name
	}
	return namespace + "#" + name
}

// JoinNamespace appends name to namespace with "::".
func JoinNamespace(namespace, name string) string {
	if namespace == "" {
		return name
	}
	if name == "" {
		return namespace
	}
	return namespace + "::" + name
}

// ParentNamespace strips the last "::" segment.
func ParentNamespace(namespace string) string {
	if i := strings.LastIndex(namespace, "::"); i >= 0 {
		return namespace[:i]
	}
	return ""
}

// BaseName is the last "::" segment of a path.
func BaseName(path string) string {
	if i := strings.LastIndex(path, "::"); i >= 0 {
		return path[i+2:]
	}
	return path
}
