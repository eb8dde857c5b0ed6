package pinpoint

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/jward/pinpoint/internal/source"
)

// Open stores text as the current Source of filename and merges it into
// the project, whether or not the inclusion policy accepts the file.
// Opening an open file replaces its Source.
func (l *Library) Open(ctx context.Context, filename, text string, version int) error {
	src, err := l.loader.Load(ctx, filename, text)
	if err != nil {
		return errors.Wrapf(err, "pinpoint: open %s", filename)
	}
	src.Version = version

	// The slot may still hold a Source of filename that was since closed.
	if l.checkedOut(filename) {
		l.current = src
		l.api.Virtualize(src)
	}
	l.open[filename] = src
	if _, err := l.workspace.Merge(src); err != nil {
		return errors.Wrapf(err, "pinpoint: open %s", filename)
	}
	l.logger.Debugw("file opened", "file", filename, "version", version)
	return l.Refresh(ctx, true)
}

// Create opens filename as a new project file. It reports false, and does
// nothing, when the inclusion policy rejects the file.
func (l *Library) Create(ctx context.Context, filename, text string) (bool, error) {
	if !l.workspace.WouldAccept(filename) {
		l.logger.Debugw("create rejected by policy", "file", filename)
		return false, nil
	}
	if err := l.Open(ctx, filename, text, 0); err != nil {
		return false, err
	}
	return true, nil
}

// Delete closes filename and removes it from the project. A file that still
// exists on disk under the project's rules stays merged with its disk
// content. Deleting a file that is not open does nothing.
func (l *Library) Delete(ctx context.Context, filename string) error {
	if _, ok := l.open[filename]; !ok {
		return nil
	}
	delete(l.open, filename)
	if l.checkedOut(filename) {
		l.current = nil
		l.api.Virtualize(nil)
	}
	if _, err := l.workspace.Remove(ctx, filename); err != nil {
		return errors.Wrapf(err, "pinpoint: delete %s", filename)
	}
	l.logger.Debugw("file deleted", "file", filename)
	return l.Refresh(ctx, true)
}

// Close drops filename from the open-file table. Its merged pins stay in
// the project and the symbol database is not refreshed.
func (l *Library) Close(filename string) {
	delete(l.open, filename)
}

// checkedOut reports whether the virtualization slot holds a Source of
// filename, open or not.
func (l *Library) checkedOut(filename string) bool {
	return l.current != nil && l.current.Filename == filename
}

// IsOpen reports whether filename is in the open-file table.
func (l *Library) IsOpen(filename string) bool {
	_, ok := l.open[filename]
	return ok
}

// Checkout virtualizes the open Source of filename, superseding any file
// checked out before, and returns it. An empty filename clears the
// virtualized file.
func (l *Library) Checkout(filename string) (*Source, error) {
	if filename == "" {
		l.current = nil
		l.api.Virtualize(nil)
		return nil, nil
	}
	src, ok := l.open[filename]
	if !ok {
		return nil, errors.Wrapf(ErrFileNotFound, "checkout %s", filename)
	}
	l.current = src
	l.api.Virtualize(src)
	return src, nil
}

// Refresh merges the open files' current text into the project and
// rebuilds the symbol database if the project changed, or unconditionally
// when force is set.
func (l *Library) Refresh(ctx context.Context, force bool) error {
	names := make([]string, 0, len(l.open))
	for name := range l.open {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs error
	for _, name := range names {
		if _, err := l.workspace.Merge(l.open[name]); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.api.Refresh(force)
	return errs
}

// CompletionsAt lists the completions at a 0-based position of filename.
func (l *Library) CompletionsAt(filename string, line, col int) (*Completion, error) {
	frag, err := l.fragmentAt(filename, line, col)
	if err != nil {
		return nil, err
	}
	return l.api.Complete(frag)
}

// DefinitionsAt lists the declarations of the word at a 0-based position
// of filename.
func (l *Library) DefinitionsAt(filename string, line, col int) ([]*Pin, error) {
	frag, err := l.fragmentAt(filename, line, col)
	if err != nil {
		return nil, err
	}
	return l.api.Define(frag)
}

// SignaturesAt lists the methods whose signatures apply to the call
// surrounding a 0-based position of filename.
func (l *Library) SignaturesAt(filename string, line, col int) ([]*Pin, error) {
	frag, err := l.fragmentAt(filename, line, col)
	if err != nil {
		return nil, err
	}
	return l.api.Signify(frag)
}

// FragmentAt returns the expression context at a 0-based position of
// filename.
func (l *Library) FragmentAt(filename string, line, col int) (*source.Fragment, error) {
	return l.fragmentAt(filename, line, col)
}

func (l *Library) fragmentAt(filename string, line, col int) (*source.Fragment, error) {
	src, err := l.Checkout(filename)
	if err != nil {
		return nil, err
	}
	return src.FragmentAt(line, col), nil
}

// Locate returns the pin declared at exactly loc, or nil.
func (l *Library) Locate(loc Location) *Pin {
	return l.api.Locate(loc)
}

// PathPins returns the namespaces and methods whose path is exactly path,
// e.g. "Foo::Bar" or "Foo#bar".
func (l *Library) PathPins(path string) []*Pin {
	return l.api.PathPins(path)
}

// PathSuggestions lists the namespaces whose path starts with prefix.
func (l *Library) PathSuggestions(prefix string) []*Pin {
	return l.api.PathSuggestions(prefix)
}

// FileSymbols lists the namespaces and methods declared in filename.
func (l *Library) FileSymbols(filename string) ([]*Pin, error) {
	src, err := l.Checkout(filename)
	if err != nil {
		return nil, err
	}
	return src.Symbols(), nil
}

// Synchronize applies an incremental edit to an open file. The edit is
// visible to queries against the file at once; the project keeps the
// previously merged pins until the next Refresh.
func (l *Library) Synchronize(ctx context.Context, u Updater) error {
	src, err := l.Checkout(u.Filename)
	if err != nil {
		return err
	}
	if err := src.ApplyPatch(ctx, u); err != nil {
		return errors.Wrapf(err, "pinpoint: synchronize %s", u.Filename)
	}
	return nil
}

// ReadText returns the current text of an open file.
func (l *Library) ReadText(filename string) (string, error) {
	src, err := l.Checkout(filename)
	if err != nil {
		return "", err
	}
	return src.Text(), nil
}
