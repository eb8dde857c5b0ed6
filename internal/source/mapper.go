package source

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/pinpoint/internal/pin"
)

// literalTypes maps literal node types to the class of the value they
// produce.
var literalTypes = map[string]string{
	"string":           "String",
	"chained_string":   "String",
	"string_array":     "Array<String>",
	"symbol_array":     "Array<Symbol>",
	"integer":          "Integer",
	"float":            "Float",
	"rational":         "Rational",
	"array":            "Array",
	"hash":             "Hash",
	"simple_symbol":    "Symbol",
	"delimited_symbol": "Symbol",
	"hash_key_symbol":  "Symbol",
	"true":             "TrueClass",
	"false":            "FalseClass",
	"regex":            "Regexp",
	"range":            "Range",
	"lambda":           "Proc",
}

// state is the lexical position of the walker. A new state starts at each
// namespace, method and block.
type state struct {
	context    *pin.Pin // innermost Namespace, Method or Block pin
	nsPin      *pin.Pin // innermost Namespace pin
	namespace  string
	defScope   pin.Scope // scope of a "def" at this point
	selfScope  pin.Scope // scope of self at this point
	visibility pin.Visibility
}

type mapper struct {
	filename string
	src      []byte
	comments map[int]string // row -> text of a full-line comment
	pins     []*pin.Pin
}

func newMapper(filename string, src []byte) *mapper {
	return &mapper{filename: filename, src: src, comments: make(map[int]string)}
}

func (m *mapper) mapTree(root *sitter.Node) {
	m.collectComments(root)

	lastLine, lastCol := 0, 0
	if n := strings.Count(string(m.src), "\n"); n > 0 {
		lastLine = n
		lastCol = len(m.src) - strings.LastIndexByte(string(m.src), '\n') - 1
	} else {
		lastCol = len(m.src)
	}
	rootPin := &pin.Pin{
		Kind:       pin.Namespace,
		ReturnType: "Class<Object>",
		Scope:      pin.Class,
		Location:   pin.Location{Filename: m.filename, EndLine: lastLine, EndCol: lastCol},
	}
	m.pins = append(m.pins, rootPin)

	st := &state{context: rootPin, nsPin: rootPin, defScope: pin.Instance, selfScope: pin.Instance}
	m.visitChildren(root, st)
}

func (m *mapper) text(n *sitter.Node) string {
	return string(m.src[n.StartByte():n.EndByte()])
}

func (m *mapper) location(n *sitter.Node) pin.Location {
	sp, ep := n.StartPoint(), n.EndPoint()
	return pin.Location{
		Filename:  m.filename,
		StartLine: int(sp.Row),
		StartCol:  int(sp.Column),
		EndLine:   int(ep.Row),
		EndCol:    int(ep.Column),
	}
}

func (m *mapper) push(p *pin.Pin) *pin.Pin {
	m.pins = append(m.pins, p)
	return p
}

// collectComments records every comment that starts its line.
func (m *mapper) collectComments(n *sitter.Node) {
	if n.Type() == "comment" {
		row := int(n.StartPoint().Row)
		lineStart := int(n.StartByte()) - int(n.StartPoint().Column)
		if strings.TrimSpace(string(m.src[lineStart:n.StartByte()])) == "" {
			m.comments[row] = m.text(n)
		}
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		m.collectComments(n.Child(i))
	}
}

// docstring gathers the contiguous comment block directly above row.
func (m *mapper) docstring(row int) pin.Docstring {
	var lines []string
	for r := row - 1; r >= 0; r-- {
		c, ok := m.comments[r]
		if !ok {
			break
		}
		c = strings.TrimPrefix(c, "#")
		c = strings.TrimPrefix(c, " ")
		lines = append(lines, c)
	}
	if len(lines) == 0 {
		return pin.Docstring{}
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return pin.ParseDocstring(strings.Join(lines, "\n"))
}

func (m *mapper) visitChildren(n *sitter.Node, st *state) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		m.visit(n.NamedChild(i), st)
	}
}

func (m *mapper) visit(n *sitter.Node, st *state) {
	switch n.Type() {
	case "class", "module":
		m.visitNamespace(n, st)
	case "singleton_class":
		m.visitSingletonClass(n, st)
	case "method":
		m.visitMethod(n, st, st.defScope, st.visibility)
	case "singleton_method":
		m.visitSingletonMethod(n, st)
	case "assignment", "operator_assignment":
		m.visitAssignment(n, st)
	case "call":
		m.visitCall(n, st)
	case "identifier":
		m.visitBareIdentifier(n, st)
	case "comment":
	default:
		m.visitChildren(n, st)
	}
}

func (m *mapper) visitNamespace(n *sitter.Node, st *state) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		m.visitChildren(n, st)
		return
	}
	name := strings.TrimPrefix(m.text(nameNode), "::")
	path := name
	if !strings.HasPrefix(m.text(nameNode), "::") {
		path = pin.JoinNamespace(st.namespace, name)
	}
	module := n.Type() == "module"

	p := &pin.Pin{
		Kind:       pin.Namespace,
		Name:       pin.BaseName(path),
		Namespace:  pin.ParentNamespace(path),
		Path:       path,
		ReturnType: pin.NamespaceType(path, module),
		Scope:      pin.Class,
		Docstring:  m.docstring(int(n.StartPoint().Row)),
		Location:   m.location(n),
		Context:    st.context,
	}
	if sc := n.ChildByFieldName("superclass"); sc != nil && sc.NamedChildCount() > 0 {
		p.Superclass = strings.TrimPrefix(m.text(sc.NamedChild(0)), "::")
	}
	m.push(p)

	inner := &state{
		context:   p,
		nsPin:     p,
		namespace: path,
		defScope:  pin.Instance,
		selfScope: pin.Class,
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "superclass" || sameNode(child, nameNode) {
			continue
		}
		m.visit(child, inner)
	}
}

// visitSingletonClass handles "class << self".
func (m *mapper) visitSingletonClass(n *sitter.Node, st *state) {
	value := n.ChildByFieldName("value")
	if value == nil || value.Type() != "self" {
		m.visitChildren(n, st)
		return
	}
	inner := &state{
		context:   st.context,
		nsPin:     st.nsPin,
		namespace: st.namespace,
		defScope:  pin.Class,
		selfScope: pin.Class,
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if sameNode(child, value) {
			continue
		}
		m.visit(child, inner)
	}
}

func (m *mapper) visitSingletonMethod(n *sitter.Node, st *state) {
	obj := n.ChildByFieldName("object")
	if obj == nil || obj.Type() != "self" {
		// def obj.meth: the receiver is not a namespace we track.
		name, params := n.ChildByFieldName("name"), n.ChildByFieldName("parameters")
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if (obj != nil && sameNode(child, obj)) || (name != nil && sameNode(child, name)) || (params != nil && sameNode(child, params)) {
				continue
			}
			m.visit(child, st)
		}
		return
	}
	m.visitMethod(n, st, pin.Class, st.visibility)
}

func (m *mapper) visitMethod(n *sitter.Node, st *state, scope pin.Scope, vis pin.Visibility) *pin.Pin {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := m.text(nameNode)
	if name == "initialize" && scope == pin.Instance {
		vis = pin.Private
	}
	doc := m.docstring(int(n.StartPoint().Row))
	p := &pin.Pin{
		Kind:       pin.Method,
		Name:       name,
		Namespace:  st.namespace,
		Path:       pin.MethodPath(st.namespace, name, scope),
		ReturnType: doc.ReturnType(),
		Scope:      scope,
		Visibility: vis,
		Docstring:  doc,
		Location:   m.location(n),
		Context:    st.context,
	}
	m.push(p)

	params := n.ChildByFieldName("parameters")
	if params != nil {
		m.visitParameters(params, p, st.namespace)
	}

	inner := &state{
		context:   p,
		nsPin:     st.nsPin,
		namespace: st.namespace,
		defScope:  pin.Instance,
		selfScope: scope,
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if sameNode(child, nameNode) || (params != nil && sameNode(child, params)) || child.Type() == "self" {
			continue
		}
		m.visit(child, inner)
	}
	return p
}

// visitParameters records the method's parameter list and one local
// variable per parameter.
func (m *mapper) visitParameters(params *sitter.Node, method *pin.Pin, namespace string) {
	for i := 0; i < int(params.NamedChildCount()); i++ {
		param := params.NamedChild(i)
		method.Parameters = append(method.Parameters, m.text(param))

		name, typ, sig := "", "", ""
		switch param.Type() {
		case "identifier":
			name = m.text(param)
		case "optional_parameter", "keyword_parameter":
			if nn := param.ChildByFieldName("name"); nn != nil {
				name = m.text(nn)
			}
			if v := param.ChildByFieldName("value"); v != nil {
				if lt, ok := literalTypes[v.Type()]; ok {
					typ = lt
				} else {
					sig = m.signature(v)
				}
			}
		case "splat_parameter":
			if nn := param.ChildByFieldName("name"); nn != nil {
				name, typ = m.text(nn), "Array"
			}
		case "hash_splat_parameter":
			if nn := param.ChildByFieldName("name"); nn != nil {
				name, typ = m.text(nn), "Hash"
			}
		case "block_parameter":
			if nn := param.ChildByFieldName("name"); nn != nil {
				name, typ = m.text(nn), "Proc"
			}
		}
		if name == "" {
			continue
		}
		if declared := method.Docstring.ParamType(name); declared != "" {
			typ = declared
		}
		m.push(&pin.Pin{
			Kind:       pin.LocalVariable,
			Name:       name,
			Namespace:  namespace,
			ReturnType: typ,
			Signature:  sig,
			Scope:      method.Scope,
			Location:   m.location(param),
			Context:    method,
		})
	}
}

func (m *mapper) visitAssignment(n *sitter.Node, st *state) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || right == nil {
		m.visitChildren(n, st)
		return
	}

	var kind pin.Kind
	namespace := st.namespace
	switch left.Type() {
	case "identifier":
		kind = pin.LocalVariable
	case "instance_variable":
		kind = pin.InstanceVariable
	case "class_variable":
		kind = pin.ClassVariable
	case "global_variable":
		kind, namespace = pin.GlobalVariable, ""
	default:
		m.visit(right, st)
		return
	}

	p := &pin.Pin{
		Kind:      kind,
		Name:      m.text(left),
		Namespace: namespace,
		Scope:     st.selfScope,
		Docstring: m.docstring(int(n.StartPoint().Row)),
		Location:  m.location(n),
		Context:   st.context,
	}
	value := unwrapValue(right)
	switch {
	case value.Type() == "nil":
		p.NilAssigned = true
	case literalTypes[value.Type()] != "":
		p.ReturnType = literalTypes[value.Type()]
	default:
		p.Signature = m.signature(value)
	}
	if t := p.Docstring.VariableType(); t != "" {
		p.ReturnType = t
		p.NilAssigned = false
	}
	m.push(p)
	m.visit(right, st)
}

// unwrapValue strips parentheses around a single expression.
func unwrapValue(n *sitter.Node) *sitter.Node {
	for n.Type() == "parenthesized_statements" && n.NamedChildCount() == 1 {
		n = n.NamedChild(0)
	}
	return n
}

func (m *mapper) visitBareIdentifier(n *sitter.Node, st *state) {
	if st.context.Kind != pin.Namespace {
		return
	}
	switch m.text(n) {
	case "private":
		st.visibility = pin.Private
	case "protected":
		st.visibility = pin.Protected
	case "public":
		st.visibility = pin.Public
	}
}

func (m *mapper) visitCall(n *sitter.Node, st *state) {
	receiver := n.ChildByFieldName("receiver")
	method := n.ChildByFieldName("method")
	args := n.ChildByFieldName("arguments")

	if receiver == nil && method != nil && st.context.Kind == pin.Namespace {
		if m.visitMacro(n, m.text(method), args, st) {
			return
		}
	}

	if receiver != nil {
		m.visit(receiver, st)
	}
	if args != nil {
		m.visit(args, st)
	}
	if block := n.ChildByFieldName("block"); block != nil {
		m.visitBlock(block, n, st)
	}
}

// visitMacro handles class-body calls that declare members. It reports
// whether the call was consumed.
func (m *mapper) visitMacro(n *sitter.Node, name string, args *sitter.Node, st *state) bool {
	switch name {
	case "include", "extend", "prepend":
		if args == nil {
			return false
		}
		for i := 0; i < int(args.NamedChildCount()); i++ {
			a := args.NamedChild(i)
			if a.Type() != "constant" && a.Type() != "scope_resolution" {
				continue
			}
			ref := strings.TrimPrefix(m.text(a), "::")
			if name == "extend" {
				st.nsPin.Extends = append(st.nsPin.Extends, ref)
			} else {
				st.nsPin.Includes = append(st.nsPin.Includes, ref)
			}
		}
		return true
	case "attr_reader", "attr_writer", "attr_accessor":
		if args == nil {
			return false
		}
		doc := m.docstring(int(n.StartPoint().Row))
		for i := 0; i < int(args.NamedChildCount()); i++ {
			attr := symbolName(m.text(args.NamedChild(i)))
			if attr == "" {
				continue
			}
			if name != "attr_writer" {
				m.pushAttr(n, attr, doc, doc.ReturnType(), st)
			}
			if name != "attr_reader" {
				m.pushAttr(n, attr+"=", doc, doc.ReturnType(), st)
			}
		}
		return true
	case "private", "protected", "public":
		vis := pin.ParseVisibility(name)
		if args == nil {
			st.visibility = vis
			return true
		}
		for i := 0; i < int(args.NamedChildCount()); i++ {
			a := args.NamedChild(i)
			if a.Type() == "method" {
				m.visitMethod(a, st, st.defScope, vis)
				continue
			}
			m.setVisibility(st.namespace, symbolName(m.text(a)), pin.Instance, vis)
		}
		return true
	case "private_class_method", "public_class_method":
		if args == nil {
			return false
		}
		vis := pin.Private
		if name == "public_class_method" {
			vis = pin.Public
		}
		for i := 0; i < int(args.NamedChildCount()); i++ {
			a := args.NamedChild(i)
			if a.Type() == "singleton_method" {
				m.visitMethod(a, st, pin.Class, vis)
				continue
			}
			m.setVisibility(st.namespace, symbolName(m.text(a)), pin.Class, vis)
		}
		return true
	}
	return false
}

func (m *mapper) pushAttr(n *sitter.Node, name string, doc pin.Docstring, typ string, st *state) {
	if strings.HasSuffix(name, "=") {
		typ = ""
	}
	m.push(&pin.Pin{
		Kind:       pin.Method,
		Name:       name,
		Namespace:  st.namespace,
		Path:       pin.MethodPath(st.namespace, name, st.defScope),
		ReturnType: typ,
		Scope:      st.defScope,
		Visibility: st.visibility,
		Docstring:  doc,
		Location:   m.location(n),
		Context:    st.context,
	})
}

func (m *mapper) setVisibility(namespace, name string, scope pin.Scope, vis pin.Visibility) {
	if name == "" {
		return
	}
	for _, p := range m.pins {
		if p.Kind == pin.Method && p.Namespace == namespace && p.Name == name && p.Scope == scope {
			p.Visibility = vis
		}
	}
}

// symbolName turns :foo, "foo" or 'foo' into foo.
func symbolName(s string) string {
	s = strings.TrimPrefix(s, ":")
	s = strings.Trim(s, `"'`)
	for i := 0; i < len(s); i++ {
		if !isWordByte(s[i]) && s[i] != '?' && s[i] != '!' && s[i] != '=' {
			return ""
		}
	}
	return s
}

func (m *mapper) visitBlock(block, call *sitter.Node, st *state) {
	b := &pin.Pin{
		Kind:      pin.Block,
		Namespace: st.namespace,
		Scope:     st.selfScope,
		Receiver:  m.signature(call),
		Location:  m.location(block),
		Context:   st.context,
	}
	m.push(b)

	params := block.ChildByFieldName("parameters")
	if params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			param := params.NamedChild(i)
			name := ""
			switch param.Type() {
			case "identifier":
				name = m.text(param)
			case "optional_parameter", "splat_parameter", "hash_splat_parameter", "block_parameter", "keyword_parameter":
				if nn := param.ChildByFieldName("name"); nn != nil {
					name = m.text(nn)
				}
			}
			if name == "" {
				continue
			}
			m.push(&pin.Pin{
				Kind:      pin.BlockParameter,
				Name:      name,
				Namespace: st.namespace,
				Scope:     st.selfScope,
				Index:     i,
				Location:  m.location(param),
				Context:   b,
			})
		}
	}

	inner := &state{
		context:    b,
		nsPin:      st.nsPin,
		namespace:  st.namespace,
		defScope:   st.defScope,
		selfScope:  st.selfScope,
		visibility: st.visibility,
	}
	for i := 0; i < int(block.NamedChildCount()); i++ {
		child := block.NamedChild(i)
		if params != nil && sameNode(child, params) {
			continue
		}
		m.visit(child, inner)
	}
}

// signature renders an expression as a dotted chain, e.g. "foo.bar.baz".
// Arguments and blocks are dropped. Literal receivers become a constructor
// call on their class ("String.new"). Expressions with no chain form yield
// "".
func (m *mapper) signature(n *sitter.Node) string {
	switch n.Type() {
	case "identifier", "constant", "self", "instance_variable", "class_variable", "global_variable":
		return m.text(n)
	case "scope_resolution":
		return strings.TrimPrefix(m.text(n), "::")
	case "parenthesized_statements":
		if n.NamedChildCount() == 0 {
			return ""
		}
		return m.signature(n.NamedChild(int(n.NamedChildCount()) - 1))
	case "call":
		method := n.ChildByFieldName("method")
		if method == nil {
			return ""
		}
		receiver := n.ChildByFieldName("receiver")
		if receiver == nil {
			return m.text(method)
		}
		base := m.signature(receiver)
		if base == "" {
			return ""
		}
		return base + "." + m.text(method)
	}
	if t, ok := literalTypes[n.Type()]; ok {
		ns, _ := pin.ParseType(t)
		return ns + ".new"
	}
	return ""
}

func sameNode(a, b *sitter.Node) bool {
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
