package source

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Position is a 0-based line and column.
type Position struct {
	Line int
	Col  int
}

// Range is a span between two positions.
type Range struct {
	Start Position
	End   Position
}

// Change replaces Range with Text. A nil Range replaces the whole text.
type Change struct {
	Range *Range
	Text  string
}

// Updater is an ordered set of edits that moves a Source to Version.
type Updater struct {
	Filename string
	Version  int
	Changes  []Change
}

// ApplyPatch applies u's changes in order and remaps the result.
func (s *Source) ApplyPatch(ctx context.Context, u Updater) error {
	if u.Filename != s.Filename {
		return errors.Newf("source: patch for %s applied to %s", u.Filename, s.Filename)
	}
	text := s.text
	for _, c := range u.Changes {
		if c.Range == nil {
			text = c.Text
			continue
		}
		start := offset(text, c.Range.Start.Line, c.Range.Start.Col)
		end := offset(text, c.Range.End.Line, c.Range.End.Col)
		if end < start {
			start, end = end, start
		}
		text = text[:start] + c.Text + text[end:]
	}
	prevText, prevVersion := s.text, s.Version
	s.text = text
	s.Version = u.Version
	if err := s.remap(ctx); err != nil {
		s.text, s.Version = prevText, prevVersion
		return err
	}
	return nil
}
