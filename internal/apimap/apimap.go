// Package apimap is the symbol database the inference engine queries. It
// combines the core library stubs, the pins of every merged workspace file
// and the pins of the one virtualized Source into a single pin.List, and
// indexes them by path, namespace and method owner.
package apimap

import (
	"context"
	"embed"
	"io/fs"
	"path"
	"sort"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jward/pinpoint/internal/infer"
	"github.com/jward/pinpoint/internal/pin"
	"github.com/jward/pinpoint/internal/source"
)

//go:embed core/*.rb
var coreFS embed.FS

// CorePrefix is the filename prefix of pins mapped from the core stubs.
const CorePrefix = "(core)/"

// Workspace supplies the merged pins of the project. Generation changes
// whenever the set of merged files changes.
type Workspace interface {
	Pins() []*pin.Pin
	Generation() uint64
}

type methodKey struct {
	namespace string
	scope     pin.Scope
}

// ApiMap is the queryable symbol database.
type ApiMap struct {
	workspace Workspace
	loader    *source.Loader
	logger    *zap.SugaredLogger
	engine    *infer.Engine

	core []*pin.Pin
	ctor *pin.Pin

	current    *source.Source
	currentGen int
	wsGen      uint64

	list       *pin.List
	paths      map[string][]*pin.Pin
	namespaces map[string][]*pin.Pin // every declaration of a namespace path
	children   map[string][]*pin.Pin // one pin per child path
	methods    map[methodKey][]*pin.Pin
	globals    []*pin.Pin
}

var _ infer.Database = (*ApiMap)(nil)

// Option configures an ApiMap.
type Option func(*ApiMap)

// WithLogger sets the ApiMap's logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(m *ApiMap) { m.logger = logger }
}

// WithLoader sets the loader used for the core stubs.
func WithLoader(loader *source.Loader) Option {
	return func(m *ApiMap) { m.loader = loader }
}

// New creates an ApiMap over ws, mapping the core stubs, and builds the
// initial index.
func New(ctx context.Context, ws Workspace, opts ...Option) (*ApiMap, error) {
	m := &ApiMap{workspace: ws, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(m)
	}
	if m.loader == nil {
		m.loader = source.NewLoader()
	}
	m.engine = infer.New(m, infer.WithLogger(m.logger))

	if err := m.loadCore(ctx); err != nil {
		return nil, err
	}
	m.Refresh(true)
	return m, nil
}

func (m *ApiMap) loadCore(ctx context.Context) error {
	files, err := fs.Glob(coreFS, "core/*.rb")
	if err != nil {
		return errors.Wrap(err, "apimap: list core stubs")
	}
	sort.Strings(files)
	for _, f := range files {
		data, err := coreFS.ReadFile(f)
		if err != nil {
			return errors.Wrapf(err, "apimap: read %s", f)
		}
		src, err := m.loader.Load(ctx, CorePrefix+path.Base(f), string(data))
		if err != nil {
			return errors.Wrapf(err, "apimap: map %s", f)
		}
		m.core = append(m.core, src.Pins()...)
	}
	for _, p := range m.core {
		if p.Kind == pin.Method && p.Path == "Class#new" {
			m.ctor = p
		}
	}
	if m.ctor == nil {
		return errors.New("apimap: core stubs do not define Class#new")
	}
	m.logger.Debugw("core stubs mapped", "files", len(files), "pins", len(m.core))
	return nil
}

// Engine returns the inference engine bound to this map.
func (m *ApiMap) Engine() *infer.Engine {
	return m.engine
}

// Refresh rebuilds the index when the workspace changed since the last
// build, or unconditionally when force is set.
func (m *ApiMap) Refresh(force bool) {
	gen := m.workspace.Generation()
	if !force && m.list != nil && gen == m.wsGen {
		return
	}
	m.wsGen = gen
	m.rebuild()
}

// Virtualize makes src the virtualized file: its pins replace any merged
// pins of the same file. A nil src clears the slot. Re-virtualizing the
// same Source is a no-op unless it was patched since.
func (m *ApiMap) Virtualize(src *source.Source) {
	if src == m.current && m.list != nil && (src == nil || src.Generation() == m.currentGen) {
		return
	}
	m.current = src
	m.currentGen = 0
	if src != nil {
		m.currentGen = src.Generation()
	}
	m.rebuild()
}

// Current returns the virtualized Source, or nil.
func (m *ApiMap) Current() *source.Source {
	return m.current
}

func (m *ApiMap) rebuild() {
	list := pin.NewList()
	for _, p := range m.core {
		list.Push(p)
	}
	virtual := ""
	if m.current != nil {
		virtual = m.current.Filename
	}
	for _, p := range m.workspace.Pins() {
		if virtual != "" && p.Location.Filename == virtual {
			continue
		}
		list.Push(p)
	}
	if m.current != nil {
		for _, p := range m.current.Pins() {
			list.Push(p)
		}
	}

	m.list = list
	m.paths = make(map[string][]*pin.Pin)
	m.namespaces = make(map[string][]*pin.Pin)
	m.children = make(map[string][]*pin.Pin)
	m.methods = make(map[methodKey][]*pin.Pin)
	m.globals = nil

	for _, p := range list.Pins() {
		switch p.Kind {
		case pin.Namespace:
			if p.IsRoot() {
				continue
			}
			m.paths[p.Path] = append(m.paths[p.Path], p)
			if _, seen := m.namespaces[p.Path]; !seen {
				m.children[p.Namespace] = append(m.children[p.Namespace], p)
			}
			m.namespaces[p.Path] = append(m.namespaces[p.Path], p)
		case pin.Method:
			m.paths[p.Path] = append(m.paths[p.Path], p)
			key := methodKey{p.Namespace, p.Scope}
			m.methods[key] = append(m.methods[key], p)
		case pin.GlobalVariable:
			m.globals = append(m.globals, p)
		case pin.Block, pin.BlockParameter, pin.LocalVariable, pin.InstanceVariable,
			pin.ClassVariable, pin.Virtual:
		}
	}
	m.logger.Debugw("api map rebuilt", "pins", list.Len(), "namespaces", len(m.namespaces), "virtual", virtual)
}

// PathPins returns the namespace and method pins whose path is exactly p.
func (m *ApiMap) PathPins(p string) []*pin.Pin {
	return m.paths[p]
}

// GlobalVariables lists every global variable pin.
func (m *ApiMap) GlobalVariables() []*pin.Pin {
	return m.globals
}

// AllPins is every pin in declaration order: core, workspace, virtual.
func (m *ApiMap) AllPins() []*pin.Pin {
	return m.list.Pins()
}

// Lookup returns the latest variable declared as (name, namespace).
func (m *ApiMap) Lookup(name, namespace string) *pin.Pin {
	return m.list.Lookup(name, namespace)
}

// BuiltinConstructor is the generic Class#new pin from the core stubs.
func (m *ApiMap) BuiltinConstructor() *pin.Pin {
	return m.ctor
}
