package source

import (
	"strings"

	"github.com/jward/pinpoint/internal/pin"
)

// Fragment is the expression context at one position of a Source.
type Fragment struct {
	Filename string
	Line     int
	Col      int

	// Signature is the dotted chain under the cursor with its last segment
	// extended over the whole word ("foo.bar" for "foo.ba|r").
	Signature string
	// Base is the chain before the last separator ("foo" for "foo.ba|r").
	Base string
	// Separator is ".", "::" or "" when the word has no receiver.
	Separator string
	// Word is the part of the word before the cursor.
	Word string
	// Whole is the entire word under the cursor.
	Whole string

	// CallSignature is the chain of the innermost call whose argument list
	// contains the cursor, and ArgIndex is the argument being typed.
	CallSignature string
	ArgIndex      int

	// Context is the innermost Namespace, Method or Block containing the
	// position.
	Context *pin.Pin
	// Locals are the local variables and block parameters visible at the
	// position, most recent declaration first.
	Locals []*pin.Pin
}

// FragmentAt builds the fragment at a 0-based line and column.
func (s *Source) FragmentAt(line, col int) *Fragment {
	text := s.text
	off := offset(text, line, col)

	wordEnd := off
	for wordEnd < len(text) && isWordByte(text[wordEnd]) {
		wordEnd++
	}
	if wordEnd < len(text) && wordEnd > off && (text[wordEnd] == '?' || text[wordEnd] == '!') {
		wordEnd++
	}
	wordStart := off
	for wordStart > 0 && isWordByte(text[wordStart-1]) {
		wordStart--
	}
	for n := 0; wordStart > 0 && n < 2 && text[wordStart-1] == '@'; n++ {
		wordStart--
	}
	if wordStart > 0 && text[wordStart-1] == '$' {
		wordStart--
	}

	f := &Fragment{
		Filename: s.Filename,
		Line:     line,
		Col:      col,
		Word:     text[wordStart:off],
		Whole:    text[wordStart:wordEnd],
	}

	switch {
	case strings.HasSuffix(text[:wordStart], "::"):
		f.Separator = "::"
	case strings.HasSuffix(text[:wordStart], "."):
		f.Separator = "."
	}
	chain := backscan(text, wordStart)
	f.Base = strings.TrimSuffix(chain, f.Separator)
	// An empty Base after a separator means a receiver with no chain form.
	if f.Separator == "" || f.Base != "" {
		f.Signature = chain + f.Whole
	}

	if open, args := openParen(text, off); open >= 0 {
		f.CallSignature = backscan(text, open)
		f.ArgIndex = args
	}

	f.Context = s.contextAt(line, col)
	f.Locals = s.localsAt(f.Context, line, col)
	return f
}

func (s *Source) contextAt(line, col int) *pin.Pin {
	ctx := s.pins[0]
	for _, p := range s.pins[1:] {
		switch p.Kind {
		case pin.Namespace, pin.Method, pin.Block:
			if p.Location.Contains(line, col) {
				ctx = p
			}
		}
	}
	return ctx
}

// localsAt collects the locals declared in ctx and its enclosing blocks, up
// to the nearest method or namespace.
func (s *Source) localsAt(ctx *pin.Pin, line, col int) []*pin.Pin {
	chain := make(map[*pin.Pin]bool)
	for c := ctx; c != nil; c = c.Context {
		chain[c] = true
		if c.Kind == pin.Method || c.Kind == pin.Namespace {
			break
		}
	}
	var locals []*pin.Pin
	for i := len(s.pins) - 1; i >= 0; i-- {
		p := s.pins[i]
		if !chain[p.Context] {
			continue
		}
		switch p.Kind {
		case pin.BlockParameter:
			locals = append(locals, p)
		case pin.LocalVariable:
			if p.Location.Before(line, col) {
				locals = append(locals, p)
			}
		}
	}
	return locals
}

// backscan reads the receiver chain that ends at end, including its
// trailing separator. Call arguments are dropped and literal receivers
// become "Class.new".
func backscan(text string, end int) string {
	var rev []byte
	i := end
loop:
	for i > 0 {
		c := text[i-1]
		switch {
		case isWordByte(c) || c == '@' || c == '$':
			rev = append(rev, c)
			i--
		case c == '?' || c == '!':
			// Only as a method name suffix: "empty?.foo".
			if len(rev) == 0 || rev[len(rev)-1] != '.' {
				break loop
			}
			rev = append(rev, c)
			i--
		case c == '.':
			if i > 1 && text[i-2] == '.' {
				break loop
			}
			rev = append(rev, c)
			i--
		case c == ':' && i > 1 && text[i-2] == ':':
			rev = append(rev, ':', ':')
			i -= 2
		case c == ')':
			j := matchOpen(text, i-1, '(', ')')
			if j <= 0 || !isWordByte(text[j-1]) {
				break loop
			}
			i = j
		case c == ']':
			j := matchOpen(text, i-1, '[', ']')
			if j < 0 || (j > 0 && isWordByte(text[j-1])) {
				break loop
			}
			rev = append(rev, reverse("Array.new")...)
			i = 0
		case c == '"' || c == '\'':
			if len(rev) == 0 || rev[len(rev)-1] != '.' {
				break loop
			}
			rev = append(rev, reverse("String.new")...)
			i = 0
		default:
			break loop
		}
	}
	out := reverse(string(rev))
	if strings.HasPrefix(out, ".") || strings.HasPrefix(out, "::") {
		return ""
	}
	return out
}

// matchOpen returns the index of the opening bracket matching the closing
// bracket at index at, or -1.
func matchOpen(text string, at int, open, shut byte) int {
	depth := 0
	for i := at; i >= 0; i-- {
		switch text[i] {
		case shut:
			depth++
		case open:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// openParen finds the unmatched "(" before off on the same statement and
// counts the top-level commas after it.
func openParen(text string, off int) (int, int) {
	depth, commas := 0, 0
	for i := off - 1; i >= 0; i-- {
		switch text[i] {
		case ')', ']', '}':
			depth++
		case '[', '{':
			if depth == 0 {
				return -1, 0
			}
			depth--
		case '(':
			if depth == 0 {
				return i, commas
			}
			depth--
		case ',':
			if depth == 0 {
				commas++
			}
		case '\n':
			if depth == 0 && commas == 0 {
				return -1, 0
			}
		}
	}
	return -1, 0
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
