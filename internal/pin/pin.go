// Package pin defines the symbol record ("pin") shared by every layer of
// pinpoint, plus the ordered pin list with its variable index.
package pin

import (
	"fmt"
	"strings"
)

// Kind is the closed set of declared language elements a Pin can describe.
type Kind int

const (
	Namespace Kind = iota
	Method
	Block
	BlockParameter
	LocalVariable
	InstanceVariable
	ClassVariable
	GlobalVariable
	// Virtual marks an ephemeral type holder produced mid-inference. Virtual
	// pins are never stored or pushed into a List.
	Virtual
)

var kindNames = [...]string{
	Namespace:        "namespace",
	Method:           "method",
	Block:            "block",
	BlockParameter:   "block_parameter",
	LocalVariable:    "local_variable",
	InstanceVariable: "instance_variable",
	ClassVariable:    "class_variable",
	GlobalVariable:   "global_variable",
	Virtual:          "virtual",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// IsVariable reports whether k is one of the four variable kinds.
func (k Kind) IsVariable() bool {
	switch k {
	case LocalVariable, InstanceVariable, ClassVariable, GlobalVariable:
		return true
	case Namespace, Method, Block, BlockParameter, Virtual:
		return false
	}
	return false
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), true
		}
	}
	return 0, false
}

// Scope distinguishes class-level from instance-level members.
type Scope int

const (
	Instance Scope = iota
	Class
)

func (s Scope) String() string {
	if s == Class {
		return "class"
	}
	return "instance"
}

// ParseScope is the inverse of Scope.String. Unknown values map to Instance.
func ParseScope(s string) Scope {
	if s == "class" {
		return Class
	}
	return Instance
}

// Visibility is a method's access level.
type Visibility int

const (
	Public Visibility = iota
	Protected
	Private
)

func (v Visibility) String() string {
	switch v {
	case Protected:
		return "protected"
	case Private:
		return "private"
	default:
		return "public"
	}
}

// ParseVisibility is the inverse of Visibility.String. Unknown values map
// to Public.
func ParseVisibility(s string) Visibility {
	switch s {
	case "protected":
		return Protected
	case "private":
		return Private
	default:
		return Public
	}
}

// AllVisibilities is the visibility set used for lookups from inside a
// namespace's own code.
var AllVisibilities = []Visibility{Public, Protected, Private}

// Location is a 0-based source span.
type Location struct {
	Filename  string
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// Contains reports whether (line, col) falls inside the span, inclusive of
// both ends.
func (l Location) Contains(line, col int) bool {
	if line < l.StartLine || line > l.EndLine {
		return false
	}
	if line == l.StartLine && col < l.StartCol {
		return false
	}
	if line == l.EndLine && col > l.EndCol {
		return false
	}
	return true
}

// Before reports whether the span starts before (line, col).
func (l Location) Before(line, col int) bool {
	return l.StartLine < line || (l.StartLine == line && l.StartCol < col)
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.Filename, l.StartLine, l.StartCol)
}

// Pin is one declared language element.
//
// ReturnType is authoritative once set: inference only fills in types for
// pins that lack one, and it does so on clones, never on the pin itself.
type Pin struct {
	Kind       Kind
	Name       string
	Namespace  string // enclosing fully qualified namespace
	Path       string // own fully qualified path; namespaces and methods only
	ReturnType string
	Scope      Scope
	Visibility Visibility
	Docstring  Docstring
	Location   Location

	// Signature is the right-hand side of a variable declaration.
	Signature string
	// NilAssigned is set when the declaration carries no usable value.
	NilAssigned bool
	// Context is the enclosing Namespace, Method or Block pin. Variables and
	// block parameters are inferred in this context.
	Context *Pin

	// Receiver is the signature of the call a Block is attached to.
	Receiver string
	// Index is a BlockParameter's position in its block's parameter list.
	Index int

	Superclass string
	Includes   []string
	Extends    []string
	Parameters []string
}

// Option customizes a pin at construction time.
type Option func(*Pin)

// WithReturnType overrides the return type of the constructed pin.
func WithReturnType(t string) Option {
	return func(p *Pin) { p.ReturnType = t }
}

// WithNamespace overrides the namespace of the constructed pin.
func WithNamespace(ns string) Option {
	return func(p *Pin) { p.Namespace = ns }
}

// Clone returns a shallow copy of p with opts applied.
func (p *Pin) Clone(opts ...Option) *Pin {
	c := *p
	c.Includes = append([]string(nil), p.Includes...)
	c.Extends = append([]string(nil), p.Extends...)
	c.Parameters = append([]string(nil), p.Parameters...)
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// NewVirtual builds an ephemeral pin that carries only a resolved type.
func NewVirtual(typ string, opts ...Option) *Pin {
	p := &Pin{Kind: Virtual, ReturnType: typ}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsRoot reports whether p is the top-level namespace pin of a file.
func (p *Pin) IsRoot() bool {
	return p.Kind == Namespace && p.Path == ""
}

// IsModule reports whether a Namespace pin declares a module.
func (p *Pin) IsModule() bool {
	return p.Kind == Namespace && strings.HasPrefix(p.ReturnType, "Module<")
}

func (p *Pin) String() string {
	if p.Path != "" {
		return fmt.Sprintf("%s %s", p.Kind, p.Path)
	}
	if p.Namespace != "" {
		return fmt.Sprintf("%s %s::%s", p.Kind, p.Namespace, p.Name)
	}
	return fmt.Sprintf("%s %s", p.Kind, p.Name)
}
