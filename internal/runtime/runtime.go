package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
	"go.uber.org/zap"

	"github.com/jward/pinpoint/internal/pin"
	"github.com/jward/pinpoint/internal/source"
	"github.com/jward/pinpoint/internal/store"
)

// Runtime embeds a Risor VM and provides tree-sitter host functions and
// read access to the pin store for convention scripts.
type Runtime struct {
	store      *store.Store
	scriptsDir string
	fsys       fs.FS
	sources    *sourceStore
	logger     *zap.SugaredLogger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS configures the Runtime to load scripts from an fs.FS
// instead of from disk. Also configures the Risor importer to use
// FSImporter for import statement resolution.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithRuntimeLogger sets the logger behind the scripts' log global.
func WithRuntimeLogger(logger *zap.SugaredLogger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// NewRuntime creates a Runtime wired to the given Store and scripts
// directory. The Store may be nil, in which case the store-backed globals
// are not exposed.
func NewRuntime(s *store.Store, scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		store:      s,
		scriptsDir: scriptsDir,
		sources:    newSourceStore(),
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunScript loads and executes a Risor script with all standard globals
// plus any extra globals provided by the caller.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) error {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return err
	}
	return r.eval(ctx, src, scriptPath, extraGlobals)
}

// RunSource executes Risor source code directly with all standard globals
// plus any extra globals. Useful for testing without script files.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) error {
	return r.eval(ctx, source, "<inline>", extraGlobals)
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) error {
	globals := r.buildGlobals(extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}

	// Wire importer so Risor import statements resolve correctly.
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	_, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return errors.Wrapf(err, "runtime: script %s", label)
	}
	return nil
}

// buildImporter returns a Risor importer configured for the Runtime's script source.
// Returns nil if neither fs.FS nor scriptsDir is configured.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file and returns its source code.
// When an fs.FS is configured, uses fs.ReadFile on the embedded filesystem.
// Otherwise, uses os.ReadFile with scriptsDir as the base directory.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", errors.Wrapf(err, "runtime: loading script %s from fs", fsPath)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", errors.Wrapf(err, "runtime: loading script %s", fullPath)
	}
	return string(data), nil
}

// ScriptsHash hashes the named scripts' paths and contents. Scripts that
// cannot be read hash as empty.
func (r *Runtime) ScriptsHash(paths []string) string {
	scripts := make(map[string]string, len(paths))
	for _, p := range paths {
		src, err := r.LoadScript(p)
		if err != nil {
			r.logger.Warnw("convention script unreadable", "script", p, "error", err)
		}
		scripts[p] = src
	}
	return store.ScriptsHash(scripts)
}

// buildGlobals constructs the full set of globals exposed to Risor scripts.
func (r *Runtime) buildGlobals(extra map[string]any) map[string]any {
	globals := map[string]any{
		"parse":          makeParseFn(r.sources),
		"parse_src":      makeParseSrcFn(r.sources),
		"node_text":      makeNodeTextFn(r.sources),
		"node_child":     makeNodeChildFn(),
		"node_namespace": makeNodeNamespaceFn(r.sources),
		"query":          makeQueryFn(r.sources),
		"log":            mustProxy(&logObject{logger: r.logger}),
	}

	// Store-backed lookups are unavailable without a Store.
	if r.store != nil {
		globals["search_pins"] = makeSearchPinsFn(r.store)
		globals["db_query"] = makeDBQueryFn(r.store)
	}

	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}

// Convention runs one script per loaded file. The script sees the file as
// file_path and source_text, and contributes pins through add_pin.
type Convention struct {
	rt   *Runtime
	path string
}

var _ source.Convention = (*Convention)(nil)

// Convention returns the convention backed by the script at path.
func (r *Runtime) Convention(path string) *Convention {
	return &Convention{rt: r, path: path}
}

// Conventions returns one convention per script path.
func (r *Runtime) Conventions(paths []string) []source.Convention {
	out := make([]source.Convention, 0, len(paths))
	for _, p := range paths {
		out = append(out, r.Convention(p))
	}
	return out
}

// Name is the script path.
func (c *Convention) Name() string {
	return c.path
}

// Pins runs the script against one file and returns the pins it added.
func (c *Convention) Pins(ctx context.Context, filename, text string) ([]*pin.Pin, error) {
	src, err := c.rt.LoadScript(c.path)
	if err != nil {
		return nil, err
	}
	// Files are mapped concurrently; each run gets a fresh sourceStore so
	// parsed trees are released with the run.
	rt := *c.rt
	rt.sources = newSourceStore()

	collector := &pinCollector{filename: filename}
	err = rt.eval(ctx, src, c.path, map[string]any{
		"file_path":   filename,
		"source_text": text,
		"add_pin":     makeAddPinFn(collector),
	})
	if err != nil {
		return nil, err
	}
	return collector.pins, nil
}
