// Package source turns Ruby text into pins. A Source owns one file's text,
// its mapped pins and its edit version; it answers location-addressed
// fragment queries and applies incremental patches.
package source

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/ruby"
	"go.uber.org/zap"

	"github.com/jward/pinpoint/internal/pin"
)

// Convention contributes extra pins for a file, e.g. methods generated by
// a framework's class macros.
type Convention interface {
	Name() string
	Pins(ctx context.Context, filename, text string) ([]*pin.Pin, error)
}

// Loader parses and maps Ruby files.
type Loader struct {
	conventions []Convention
	logger      *zap.SugaredLogger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConventions adds conventions applied to every loaded file.
func WithConventions(c ...Convention) LoaderOption {
	return func(l *Loader) { l.conventions = append(l.conventions, c...) }
}

// WithLoaderLogger sets the logger used for convention failures.
func WithLoaderLogger(logger *zap.SugaredLogger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Source is one mapped file.
type Source struct {
	Filename string
	Version  int

	text       string
	pins       []*pin.Pin
	generation int
	loader     *Loader
}

// Load parses text and maps it into a new Source. Syntax errors never fail
// a load: whatever the parser recovered is mapped.
func (l *Loader) Load(ctx context.Context, filename, text string) (*Source, error) {
	s := &Source{Filename: filename, text: text, loader: l}
	if err := s.remap(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) remap(ctx context.Context) error {
	pins, err := s.loader.mapText(ctx, s.Filename, s.text)
	if err != nil {
		return err
	}
	s.pins = pins
	s.generation++
	return nil
}

func (l *Loader) mapText(ctx context.Context, filename, text string) ([]*pin.Pin, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "source: map %s", filename)
	}
	tree, err := parse(ctx, []byte(text))
	if err != nil {
		return nil, errors.Wrapf(err, "source: parse %s", filename)
	}
	src := []byte(text)
	if tree.RootNode().HasError() {
		// Half-typed member access ("foo.") breaks the enclosing structure.
		// Blank the dangling operators and map the repaired text instead;
		// offsets are unchanged.
		if repaired := repair(text); repaired != text {
			if rt, err := parse(ctx, []byte(repaired)); err == nil {
				tree, src = rt, []byte(repaired)
			}
		}
	}

	m := newMapper(filename, src)
	m.mapTree(tree.RootNode())

	root := m.pins[0]
	for _, c := range l.conventions {
		extra, err := c.Pins(ctx, filename, text)
		if err != nil {
			l.logger.Warnw("convention failed", "convention", c.Name(), "file", filename, "error", err)
			continue
		}
		for _, p := range extra {
			if p == nil || p.Kind == pin.Virtual {
				continue
			}
			p.Location.Filename = filename
			if p.Context == nil && p != root {
				p.Context = root
			}
			m.pins = append(m.pins, p)
		}
	}
	return m.pins, nil
}

func parse(ctx context.Context, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(ruby.GetLanguage())
	return parser.ParseCtx(ctx, nil, src)
}

// repair blanks "." and "::" operators that are not followed by an
// identifier.
func repair(text string) string {
	b := []byte(text)
	for i := 0; i < len(b); i++ {
		if b[i] != '.' && b[i] != ':' {
			continue
		}
		j := i + 1
		if b[i] == ':' {
			if j >= len(b) || b[j] != ':' {
				continue
			}
			j++
		} else if i > 0 && b[i-1] == '.' {
			continue
		} else if j < len(b) && b[j] == '.' {
			continue
		}
		if j >= len(b) || !isWordByte(b[j]) && b[j] != '(' {
			for k := i; k < j; k++ {
				b[k] = ' '
			}
		}
	}
	return string(b)
}

// Text returns the current text.
func (s *Source) Text() string {
	return s.text
}

// Pins returns every pin mapped from the file in declaration order. The
// first pin is always the file's root namespace.
func (s *Source) Pins() []*pin.Pin {
	return s.pins
}

// Root returns the file's top-level namespace pin.
func (s *Source) Root() *pin.Pin {
	return s.pins[0]
}

// Generation increases every time the pins are rebuilt.
func (s *Source) Generation() int {
	return s.generation
}

// Symbols lists the namespaces and methods declared in the file.
func (s *Source) Symbols() []*pin.Pin {
	var out []*pin.Pin
	for _, p := range s.pins {
		switch p.Kind {
		case pin.Namespace:
			if !p.IsRoot() {
				out = append(out, p)
			}
		case pin.Method:
			out = append(out, p)
		}
	}
	return out
}

// offset converts a 0-based line/column to a byte offset, clamping to the
// text bounds.
func offset(text string, line, col int) int {
	if line < 0 {
		return 0
	}
	pos := 0
	for i := 0; i < line; i++ {
		nl := strings.IndexByte(text[pos:], '\n')
		if nl < 0 {
			return len(text)
		}
		pos += nl + 1
	}
	end := strings.IndexByte(text[pos:], '\n')
	if end < 0 {
		end = len(text) - pos
	}
	if col < 0 {
		col = 0
	}
	if col > end {
		col = end
	}
	return pos + col
}
