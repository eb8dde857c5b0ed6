// Package infer resolves dotted Ruby expressions ("signatures") to the
// pins they can refer to and to the types they produce.
//
// Inference is best effort. An unresolved type is "" and an unresolved
// signature is an empty candidate list; neither is an error. The only error
// is ErrUnsupportedContext, returned when a caller supplies a context pin
// that is not a Namespace, Method or Block.
package infer

import (
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jward/pinpoint/internal/pin"
)

// ErrUnsupportedContext is returned when the context pin of a word lookup
// is not a Namespace, Method or Block.
var ErrUnsupportedContext = errors.New("infer: unsupported context")

// Database is the symbol database surface the engine queries.
type Database interface {
	// Qualify resolves a relative namespace against a context namespace using
	// lexical nesting. It returns "" when nothing matches.
	Qualify(namespace, context string) string
	// PathPins returns the pins whose path is exactly path.
	PathPins(path string) []*pin.Pin
	// Methods lists the methods callable in (namespace, scope) with one of
	// the given visibilities, nearest definition first.
	Methods(namespace string, scope pin.Scope, visibility []pin.Visibility) []*pin.Pin
	// Constants lists the namespaces visible from namespace, relative to
	// root.
	Constants(root, namespace string) []*pin.Pin
	// GlobalVariables lists every global variable pin.
	GlobalVariables() []*pin.Pin
	// AllPins is every pin in declaration order.
	AllPins() []*pin.Pin
	// BuiltinConstructor is the generic Class#new pin.
	BuiltinConstructor() *pin.Pin
}

// containerMethods yield the element type of their receiver's generic
// annotation to their block.
var containerMethods = map[string]bool{
	"Array#each":            true,
	"Array#map":             true,
	"Array#collect":         true,
	"Array#select":          true,
	"Array#filter":          true,
	"Array#reject":          true,
	"Array#each_with_index": true,
	"Array#find":            true,
	"Array#detect":          true,
	"Array#flat_map":        true,
	"Array#sort_by":         true,
	"Array#group_by":        true,
	"Array#keep_if":         true,
	"Array#delete_if":       true,
	"Set#each":              true,
}

// Engine is the inference engine. It holds no state between calls.
type Engine struct {
	db     Database
	logger *zap.SugaredLogger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an Engine over db.
func New(db Database, opts ...Option) *Engine {
	e := &Engine{db: db, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// resolver carries the per-call recursion guard. Pins whose type is being
// resolved are in visited; reaching one again yields no answer.
type resolver struct {
	*Engine
	visited map[*pin.Pin]bool
}

func (e *Engine) resolver() *resolver {
	return &resolver{Engine: e, visited: make(map[*pin.Pin]bool)}
}

// InferSignature resolves signature to its candidate pins, best first.
func (e *Engine) InferSignature(signature string, context *pin.Pin, locals []*pin.Pin) ([]*pin.Pin, error) {
	return e.resolver().inferSignature(signature, context, locals)
}

// InferWord resolves the first segment of a signature.
func (e *Engine) InferWord(word string, context *pin.Pin, locals []*pin.Pin) ([]*pin.Pin, error) {
	return e.resolver().inferWord(word, context, locals)
}

// InferMethod finds the methods named name on the type of receiver. With
// internal set, protected and private methods are included.
func (e *Engine) InferMethod(name string, receiver *pin.Pin, internal bool) []*pin.Pin {
	return e.resolver().inferMethod(name, receiver, internal)
}

// ResolveType returns p's declared type or, for variables and block
// parameters, the type inferred from their declaration.
func (e *Engine) ResolveType(p *pin.Pin) string {
	return e.resolver().resolveType(p, nil)
}

// InferType returns the type of the first candidate of signature that has
// one, qualified against the candidate's namespace.
func (e *Engine) InferType(signature string, context *pin.Pin, locals []*pin.Pin) (string, error) {
	return e.resolver().inferType(signature, context, locals)
}

// Qualify fully qualifies the namespace named by typ against namespace.
func (e *Engine) Qualify(typ, namespace string) string {
	return e.qualify(typ, namespace)
}

func (r *resolver) inferSignature(signature string, context *pin.Pin, locals []*pin.Pin) ([]*pin.Pin, error) {
	if signature == "" {
		return nil, nil
	}
	base, rest, dotted := strings.Cut(signature, ".")
	candidates, err := r.inferWord(base, context, locals)
	if err != nil || !dotted {
		return candidates, err
	}

	current := make([]*pin.Pin, 0, len(candidates))
	for _, c := range candidates {
		if c.ReturnType == "" {
			if t := r.resolveType(c, locals); t != "" {
				c = pin.NewVirtual(t, pin.WithNamespace(c.Namespace))
			}
		}
		current = append(current, c)
	}

	internal := base == "self"
	for _, segment := range strings.Split(rest, ".") {
		var next []*pin.Pin
		for _, c := range current {
			if next = r.inferMethod(segment, c, internal); len(next) > 0 {
				next = bindSelf(next, c)
				break
			}
		}
		if len(next) == 0 {
			r.logger.Debugw("signature unresolved", "signature", signature, "segment", segment)
			return nil, nil
		}
		current = next
		internal = false
	}
	return current, nil
}

// bindSelf replaces a "self" return type with the receiver's type.
func bindSelf(methods []*pin.Pin, receiver *pin.Pin) []*pin.Pin {
	out := make([]*pin.Pin, len(methods))
	for i, m := range methods {
		if m.ReturnType == "self" {
			m = m.Clone(pin.WithReturnType(receiver.ReturnType), pin.WithNamespace(receiver.Namespace))
		}
		out[i] = m
	}
	return out
}

func (r *resolver) inferWord(word string, context *pin.Pin, locals []*pin.Pin) ([]*pin.Pin, error) {
	var matches []*pin.Pin
	for _, l := range locals {
		if l.Name == word {
			matches = append(matches, l)
		}
	}
	if len(matches) > 0 {
		return matches, nil
	}

	if strings.HasPrefix(word, "$") {
		for _, g := range r.db.GlobalVariables() {
			if g.Name == word {
				matches = append(matches, g)
			}
		}
		return matches, nil
	}

	namespace, scope, err := contextOf(context)
	if err != nil {
		return nil, err
	}

	if word == "self" {
		return []*pin.Pin{selfPin(context)}, nil
	}

	if strings.HasPrefix(word, "@") {
		for _, p := range r.db.AllPins() {
			if p.Name == word && matchesContext(p, namespace, scope) {
				matches = append(matches, p)
			}
		}
		return matches, nil
	}

	if path := r.db.Qualify(word, namespace); path != "" {
		matches = append(matches, r.db.PathPins(path)...)
	}
	if !strings.Contains(word, "::") {
		for _, m := range r.db.Methods(namespace, scope, pin.AllVisibilities) {
			if m.Name == word {
				matches = append(matches, m)
			}
		}
	}
	for _, c := range r.db.Constants("", namespace) {
		if c.Name == word {
			matches = append(matches, c)
		}
	}
	return matches, nil
}

// contextOf derives the namespace and scope that a word is looked up in.
func contextOf(context *pin.Pin) (string, pin.Scope, error) {
	if context == nil {
		return "", pin.Instance, errors.Wrap(ErrUnsupportedContext, "nil context")
	}
	switch context.Kind {
	case pin.Method:
		return context.Namespace, context.Scope, nil
	case pin.Namespace:
		return context.Path, pin.Class, nil
	case pin.Block:
		return context.Namespace, pin.Class, nil
	case pin.BlockParameter, pin.LocalVariable, pin.InstanceVariable, pin.ClassVariable,
		pin.GlobalVariable, pin.Virtual:
	}
	return "", pin.Instance, errors.Wrapf(ErrUnsupportedContext, "context kind %s", context.Kind)
}

func matchesContext(p *pin.Pin, namespace string, scope pin.Scope) bool {
	switch p.Kind {
	case pin.Namespace:
		return p.Path == namespace && scope == pin.Class
	case pin.Method:
		return p.Namespace == namespace && p.Scope == scope
	default:
		return p.Namespace == namespace && p.Scope == scope
	}
}

// selfPin types self from the nearest enclosing method or namespace.
func selfPin(context *pin.Pin) *pin.Pin {
	for context.Kind == pin.Block && context.Context != nil {
		context = context.Context
	}
	namespace, scope := context.Namespace, context.Scope
	if context.Kind == pin.Namespace {
		namespace, scope = context.Path, pin.Class
	}
	typ := namespace
	switch {
	case namespace == "":
		typ = "Object"
	case scope == pin.Class:
		typ = pin.NamespaceType(namespace, false)
	}
	return pin.NewVirtual(typ, pin.WithNamespace(namespace))
}

func (r *resolver) inferMethod(name string, receiver *pin.Pin, internal bool) []*pin.Pin {
	if receiver == nil || receiver.ReturnType == "" {
		return nil
	}
	relative, scope := pin.ParseType(receiver.ReturnType)
	namespace := r.db.Qualify(relative, receiver.Namespace)
	if namespace == "" {
		return nil
	}
	visibility := []pin.Visibility{pin.Public}
	if internal {
		visibility = pin.AllVisibilities
	}

	var matches []*pin.Pin
	for _, m := range r.db.Methods(namespace, scope, visibility) {
		if m.Name == name {
			matches = append(matches, m)
		}
	}
	if name == "new" && len(matches) == 1 && matches[0] == r.db.BuiltinConstructor() {
		ctor := matches[0].Clone(pin.WithReturnType(namespace))
		matches = append([]*pin.Pin{ctor}, matches...)
	}
	return matches
}

func (r *resolver) resolveType(p *pin.Pin, locals []*pin.Pin) string {
	if p.ReturnType != "" {
		return p.ReturnType
	}
	if r.visited[p] {
		return ""
	}
	r.visited[p] = true
	defer delete(r.visited, p)

	switch p.Kind {
	case pin.BlockParameter:
		return r.resolveBlockParameter(p, locals)
	case pin.LocalVariable, pin.InstanceVariable, pin.ClassVariable, pin.GlobalVariable:
		return r.resolveVariable(p)
	case pin.Namespace, pin.Method, pin.Block, pin.Virtual:
	}
	return ""
}

func (r *resolver) resolveBlockParameter(p *pin.Pin, locals []*pin.Pin) string {
	block := p.Context
	if block == nil || block.Kind != pin.Block || block.Receiver == "" {
		return ""
	}
	context := block
	if block.Context != nil {
		context = block.Context
	}

	candidates, err := r.inferSignature(block.Receiver, context, locals)
	if err != nil || len(candidates) == 0 {
		return ""
	}
	method := candidates[0]

	if containerMethods[method.Path] {
		base := "self"
		if i := strings.LastIndexByte(block.Receiver, '.'); i >= 0 {
			base = block.Receiver[:i]
		}
		receivers, err := r.inferSignature(base, context, locals)
		if err != nil || len(receivers) == 0 {
			return ""
		}
		subtypes, ok := pin.Subtypes(r.resolveType(receivers[0], locals))
		if !ok || len(subtypes) == 0 {
			return ""
		}
		return subtypes[0]
	}

	if tag, ok := method.Docstring.YieldParam(p.Index); ok && len(tag.Types) > 0 {
		return tag.Types[0]
	}
	return ""
}

// resolveVariable infers a variable's type from its declaration. Other
// locals are not consulted.
func (r *resolver) resolveVariable(p *pin.Pin) string {
	if p.NilAssigned || p.Signature == "" || p.Context == nil {
		return ""
	}
	t, err := r.inferType(p.Signature, p.Context, nil)
	if err != nil {
		r.logger.Debugw("variable unresolved", "variable", p.Name, "error", err)
		return ""
	}
	return t
}

func (r *resolver) inferType(signature string, context *pin.Pin, locals []*pin.Pin) (string, error) {
	candidates, err := r.inferSignature(signature, context, locals)
	if err != nil {
		return "", err
	}
	for _, c := range candidates {
		if t := r.resolveType(c, locals); t != "" {
			return r.qualify(t, c.Namespace), nil
		}
	}
	return "", nil
}

// qualify rewrites the namespace inside typ to its absolute form. Types
// naming no known namespace are returned unchanged.
func (e *Engine) qualify(typ, namespace string) string {
	if typ == "" {
		return ""
	}
	relative, scope := pin.ParseType(typ)
	absolute := e.db.Qualify(relative, namespace)
	if absolute == "" || absolute == relative {
		return typ
	}
	if scope == pin.Instance {
		return absolute + pin.Annotation(typ)
	}
	i := strings.IndexByte(typ, '<')
	return typ[:i+1] + absolute + ">"
}
