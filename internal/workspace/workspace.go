// Package workspace tracks the files merged into the project index: which
// files the inclusion policy accepts, their latest text and pins, and their
// persisted copies in the store.
package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jward/pinpoint/internal/config"
	"github.com/jward/pinpoint/internal/pin"
	"github.com/jward/pinpoint/internal/source"
	"github.com/jward/pinpoint/internal/store"
)

// conventionsHashKey is the metadata key of the hash of the convention
// scripts the stored pins were mapped with.
const conventionsHashKey = "conventions_hash"

// entry is one merged file.
type entry struct {
	text string
	hash string
	pins []*pin.Pin
}

// Workspace is the set of merged files under one root directory. It takes
// no locks; callers serialize access.
type Workspace struct {
	root            string
	policy          *config.Policy
	store           *store.Store
	loader          *source.Loader
	logger          *zap.SugaredLogger
	conventionsHash string
	parallel        bool

	files      map[string]*entry
	generation uint64
	pins       []*pin.Pin // flattened cache, nil when stale
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithStore persists merged files and their pins.
func WithStore(s *store.Store) Option {
	return func(w *Workspace) { w.store = s }
}

// WithLoader sets the loader used to map files read from disk.
func WithLoader(l *source.Loader) Option {
	return func(w *Workspace) { w.loader = l }
}

// WithPolicy sets the inclusion policy. The default is config.Default().
func WithPolicy(p *config.Policy) Option {
	return func(w *Workspace) { w.policy = p }
}

// WithLogger sets the Workspace's logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(w *Workspace) { w.logger = logger }
}

// WithConventionsHash identifies the convention scripts in use. Stored
// pins mapped under a different hash are remapped by Load.
func WithConventionsHash(h string) Option {
	return func(w *Workspace) { w.conventionsHash = h }
}

// WithParallel controls parallel mapping in Load. Enabled by default.
func WithParallel(parallel bool) Option {
	return func(w *Workspace) { w.parallel = parallel }
}

// New creates an empty Workspace rooted at root. An empty root matches
// filenames against the policy as given.
func New(root string, opts ...Option) *Workspace {
	w := &Workspace{
		root:     root,
		logger:   zap.NewNop().Sugar(),
		parallel: true,
		files:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.policy == nil {
		w.policy = config.Default().Policy()
	}
	if w.loader == nil {
		w.loader = source.NewLoader()
	}
	return w
}

// Root is the workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// Generation changes every time the set of merged pins changes.
func (w *Workspace) Generation() uint64 {
	return w.generation
}

// WouldAccept reports whether the inclusion policy admits filename.
func (w *Workspace) WouldAccept(filename string) bool {
	rel, ok := w.relative(filename)
	return ok && w.policy.Accepts(rel)
}

func (w *Workspace) relative(filename string) (string, bool) {
	if w.root == "" {
		return strings.TrimPrefix(filepath.ToSlash(filename), "/"), true
	}
	if !filepath.IsAbs(filename) {
		return filename, true
	}
	rel, err := filepath.Rel(w.root, filename)
	if err != nil {
		return "", false
	}
	return rel, true
}

// Merge adds or replaces the file behind src, regardless of policy. It
// reports whether the merged state changed. A store failure leaves the
// in-memory merge in place and is returned.
func (w *Workspace) Merge(src *source.Source) (bool, error) {
	text := src.Text()
	hash := store.ContentHash(text)
	if old, ok := w.files[src.Filename]; ok && old.hash == hash && samePins(old.pins, src.Pins()) {
		return false, nil
	}
	w.set(src.Filename, &entry{text: text, hash: hash, pins: src.Pins()})

	if w.store == nil {
		return true, nil
	}
	f := &store.File{Path: src.Filename, Hash: hash, Text: text, LastIndexed: time.Now()}
	if _, err := w.store.ReplaceFile(f, src.Pins()); err != nil {
		return true, errors.Wrapf(err, "workspace: persist %s", src.Filename)
	}
	return true, nil
}

func samePins(a, b []*pin.Pin) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Remove drops filename from the workspace. A file that still exists on
// disk and is accepted by the policy stays part of the project: its disk
// text is merged back and Remove reports false.
func (w *Workspace) Remove(ctx context.Context, filename string) (bool, error) {
	if _, ok := w.files[filename]; !ok {
		return false, nil
	}
	if w.root != "" && w.WouldAccept(filename) {
		if data, err := os.ReadFile(w.absolute(filename)); err == nil {
			src, err := w.loader.Load(ctx, filename, string(data))
			if err != nil {
				return false, err
			}
			_, err = w.Merge(src)
			return false, err
		}
	}

	w.set(filename, nil)
	if w.store != nil {
		if _, err := w.store.DeleteFileByPath(filename); err != nil {
			return true, errors.Wrapf(err, "workspace: remove %s", filename)
		}
	}
	return true, nil
}

func (w *Workspace) absolute(filename string) string {
	if filepath.IsAbs(filename) || w.root == "" {
		return filename
	}
	return filepath.Join(w.root, filename)
}

// set replaces or, with a nil entry, deletes a merged file.
func (w *Workspace) set(filename string, e *entry) {
	if e == nil {
		delete(w.files, filename)
	} else {
		w.files[filename] = e
	}
	w.generation++
	w.pins = nil
}

// Has reports whether filename is merged.
func (w *Workspace) Has(filename string) bool {
	_, ok := w.files[filename]
	return ok
}

// Filenames lists the merged files in sorted order.
func (w *Workspace) Filenames() []string {
	names := make([]string, 0, len(w.files))
	for name := range w.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Text returns the merged text of filename.
func (w *Workspace) Text(filename string) (string, bool) {
	e, ok := w.files[filename]
	if !ok {
		return "", false
	}
	return e.text, true
}

// Pins returns the pins of every merged file, grouped by file in filename
// order.
func (w *Workspace) Pins() []*pin.Pin {
	if w.pins != nil {
		return w.pins
	}
	out := []*pin.Pin{}
	for _, name := range w.Filenames() {
		out = append(out, w.files[name].pins...)
	}
	w.pins = out
	return out
}
