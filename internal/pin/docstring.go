package pin

import (
	"regexp"
	"strings"
)

// Tag is one YARD-style "@name" line from a documentation comment.
type Tag struct {
	Name  string // return, param, yieldparam, type, ...
	Param string // parameter name, when the tag carries one
	Types []string
	Text  string
}

// Docstring is a parsed documentation comment.
type Docstring struct {
	Raw  string
	Text string
	Tags []Tag
}

var (
	tagLine = regexp.MustCompile(`^@(\w+)\s*(.*)$`)
	typeRef = regexp.MustCompile(`^\[([^\]]*)\]\s*`)
	nameRef = regexp.MustCompile(`^([&*]{0,2}[A-Za-z_][\w]*[:]?)\s*`)
)

// tagsWithParam lists the tags whose first word after the type list (or
// before it) is a parameter name.
var tagsWithParam = map[string]bool{
	"param":      true,
	"yieldparam": true,
	"option":     true,
}

// ParseDocstring parses comment text with the leading "#" markers already
// stripped, one source line per line.
func ParseDocstring(raw string) Docstring {
	d := Docstring{Raw: raw}
	if strings.TrimSpace(raw) == "" {
		return d
	}
	var text []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		m := tagLine.FindStringSubmatch(line)
		if m == nil {
			if len(d.Tags) > 0 && line != "" {
				last := &d.Tags[len(d.Tags)-1]
				last.Text = strings.TrimSpace(last.Text + " " + line)
				continue
			}
			text = append(text, line)
			continue
		}
		d.Tags = append(d.Tags, parseTag(m[1], m[2]))
	}
	d.Text = strings.TrimSpace(strings.Join(text, "\n"))
	return d
}

func parseTag(name, rest string) Tag {
	t := Tag{Name: name}
	takeTypes := func() {
		if m := typeRef.FindStringSubmatch(rest); m != nil {
			t.Types = SplitTypes(m[1])
			rest = rest[len(m[0]):]
		}
	}
	takeName := func() {
		if m := nameRef.FindStringSubmatch(rest); m != nil {
			t.Param = strings.TrimRight(strings.TrimLeft(m[1], "&*"), ":")
			rest = rest[len(m[0]):]
		}
	}
	if tagsWithParam[name] {
		// Both "@param name [Type]" and "@param [Type] name" occur.
		if strings.HasPrefix(rest, "[") {
			takeTypes()
			takeName()
		} else {
			takeName()
			takeTypes()
		}
	} else {
		takeTypes()
	}
	t.Text = strings.TrimSpace(rest)
	return t
}

// TagsNamed returns every tag with the given name, in order.
func (d Docstring) TagsNamed(name string) []Tag {
	var out []Tag
	for _, t := range d.Tags {
		if t.Name == name {
			out = append(out, t)
		}
	}
	return out
}

// ReturnType is the first type of the first @return tag.
func (d Docstring) ReturnType() string {
	return d.firstType("return")
}

// VariableType is the first type of the first @type tag.
func (d Docstring) VariableType() string {
	return d.firstType("type")
}

// ParamType is the first type declared by an @param tag for name.
func (d Docstring) ParamType(name string) string {
	for _, t := range d.TagsNamed("param") {
		if t.Param == name && len(t.Types) > 0 {
			return t.Types[0]
		}
	}
	return ""
}

// YieldParam returns the @yieldparam tag at position index.
func (d Docstring) YieldParam(index int) (Tag, bool) {
	tags := d.TagsNamed("yieldparam")
	if index < 0 || index >= len(tags) {
		return Tag{}, false
	}
	return tags[index], true
}

func (d Docstring) firstType(name string) string {
	for _, t := range d.Tags {
		if t.Name == name && len(t.Types) > 0 {
			return t.Types[0]
		}
	}
	return ""
}
