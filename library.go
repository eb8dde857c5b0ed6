package pinpoint

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jward/pinpoint/internal/apimap"
	"github.com/jward/pinpoint/internal/config"
	"github.com/jward/pinpoint/internal/runtime"
	"github.com/jward/pinpoint/internal/source"
	"github.com/jward/pinpoint/internal/store"
	"github.com/jward/pinpoint/internal/workspace"
)

// ErrFileNotFound is returned when a query targets a file that is not open.
var ErrFileNotFound = errors.New("file not found")

// Library coordinates one editing session: the open-file table, the
// merged project and the single virtualized file queries run against.
type Library struct {
	store     *store.Store
	loader    *source.Loader
	workspace *workspace.Workspace
	api       *apimap.ApiMap
	logger    *zap.SugaredLogger
	stats     *LoadStats

	dbPath      string
	conventions []string
	scriptsFS   fs.FS
	fsScripts   []string
	parallel    bool

	open    map[string]*source.Source
	current *source.Source
}

// Option configures a Library.
type Option func(*Library)

// WithLogger sets the logger shared by the Library and its components.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(l *Library) {
		l.logger = logger
	}
}

// WithDatabase persists merged files and their pins to a SQLite database
// at path. Load reuses the pins of files unchanged since the last load.
// Without a database everything is kept in memory.
func WithDatabase(path string) Option {
	return func(l *Library) {
		l.dbPath = path
	}
}

// WithConventions adds convention scripts to the ones named by the
// configuration file. Paths are relative to the project root.
func WithConventions(paths ...string) Option {
	return func(l *Library) {
		l.conventions = append(l.conventions, paths...)
	}
}

// WithScriptsFS adds the convention scripts at paths within fsys. This
// enables shipping conventions via go:embed.
func WithScriptsFS(fsys fs.FS, paths ...string) Option {
	return func(l *Library) {
		l.scriptsFS = fsys
		l.fsScripts = paths
	}
}

// WithParallel controls parallel mapping when loading a directory. When
// true (default), files are mapped by a worker pool with a single writer
// committing to SQLite. Set to false for serial mode.
func WithParallel(parallel bool) Option {
	return func(l *Library) {
		l.parallel = parallel
	}
}

// New creates a Library with an empty project that accepts files under the
// default inclusion policy. A non-empty dbPath persists merged files to a
// SQLite database at that path. A WithDatabase option overrides dbPath.
func New(dbPath string, opts ...Option) (*Library, error) {
	l, err := newLibrary(append([]Option{WithDatabase(dbPath)}, opts...))
	if err != nil {
		return nil, err
	}
	if err := l.init(context.Background(), "", config.Default()); err != nil {
		l.Shutdown()
		return nil, err
	}
	return l, nil
}

// Load creates a Library for the project at directory: it reads the
// project configuration, then maps and merges every file the inclusion
// policy accepts.
func Load(ctx context.Context, directory string, opts ...Option) (*Library, error) {
	root, err := filepath.Abs(directory)
	if err != nil {
		return nil, errors.Wrapf(err, "pinpoint: resolve %s", directory)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	l, err := newLibrary(opts)
	if err != nil {
		return nil, err
	}
	if err := l.init(ctx, root, cfg); err != nil {
		l.Shutdown()
		return nil, err
	}

	stats, err := l.workspace.Load(ctx)
	if err != nil {
		l.Shutdown()
		return nil, errors.Wrapf(err, "pinpoint: load %s", root)
	}
	l.stats = stats
	l.api.Refresh(true)
	return l, nil
}

func newLibrary(opts []Option) (*Library, error) {
	l := &Library{
		logger:   zap.NewNop().Sugar(),
		parallel: true,
		open:     make(map[string]*source.Source),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.dbPath == "" {
		return l, nil
	}

	s, err := store.NewStore(l.dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "pinpoint: create store")
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "pinpoint: migrate")
	}
	l.store = s
	return l, nil
}

// init wires the runtime, loader, workspace and symbol database for a
// project rooted at root.
func (l *Library) init(ctx context.Context, root string, cfg *config.Config) error {
	// Project scripts load from disk relative to the root; embedded
	// scripts get a runtime of their own.
	disk := runtime.NewRuntime(l.store, root, runtime.WithRuntimeLogger(l.logger))
	scripts := append(append([]string(nil), cfg.Conventions...), l.conventions...)
	conventions := disk.Conventions(scripts)
	hash := disk.ScriptsHash(scripts)
	if l.scriptsFS != nil {
		embedded := runtime.NewRuntime(l.store, "", runtime.WithRuntimeFS(l.scriptsFS), runtime.WithRuntimeLogger(l.logger))
		conventions = append(conventions, embedded.Conventions(l.fsScripts)...)
		hash += embedded.ScriptsHash(l.fsScripts)
	}

	l.loader = source.NewLoader(
		source.WithConventions(conventions...),
		source.WithLoaderLogger(l.logger),
	)
	l.workspace = workspace.New(root,
		workspace.WithStore(l.store),
		workspace.WithLoader(l.loader),
		workspace.WithPolicy(cfg.Policy()),
		workspace.WithLogger(l.logger),
		workspace.WithConventionsHash(hash),
		workspace.WithParallel(l.parallel),
	)

	// Core stubs are mapped without conventions.
	api, err := apimap.New(ctx, l.workspace, apimap.WithLogger(l.logger))
	if err != nil {
		return errors.Wrap(err, "pinpoint: build symbol database")
	}
	l.api = api
	l.logger.Debugw("library initialized", "root", root, "database", l.dbPath, "conventions", len(conventions))
	return nil
}

// Shutdown releases the database. The Library must not be used afterwards.
func (l *Library) Shutdown() error {
	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}

// Root is the project directory, or "" for a Library created with New.
func (l *Library) Root() string {
	return l.workspace.Root()
}

// Stats summarizes the directory load, or is nil for a Library created
// with New.
func (l *Library) Stats() *LoadStats {
	return l.stats
}

// Filenames lists the files merged into the project.
func (l *Library) Filenames() []string {
	return l.workspace.Filenames()
}
