package pin

type indexKey struct {
	name      string
	namespace string
}

// List is an insertion-ordered pin sequence plus an index from
// (name, namespace) to the most recently pushed variable pin.
//
// Lists are append-only. They are rebuilt wholesale on refresh.
type List struct {
	pins  []*Pin
	index map[indexKey]*Pin
}

// NewList returns a List holding pins in order.
func NewList(pins ...*Pin) *List {
	l := &List{index: make(map[indexKey]*Pin)}
	for _, p := range pins {
		l.Push(p)
	}
	return l
}

// Push appends p. Variable pins also replace the index entry for their
// (name, namespace). A nil pin is ignored.
func (l *List) Push(p *Pin) *List {
	if p == nil {
		return l
	}
	if l.index == nil {
		l.index = make(map[indexKey]*Pin)
	}
	l.pins = append(l.pins, p)
	if p.Kind.IsVariable() {
		l.index[indexKey{p.Name, p.Namespace}] = p
	}
	return l
}

// Pins returns the pins in declaration order. Callers must not modify the
// returned slice.
func (l *List) Pins() []*Pin {
	return l.pins
}

// Lookup returns the last variable pin pushed for (name, namespace), or nil.
func (l *List) Lookup(name, namespace string) *Pin {
	return l.index[indexKey{name, namespace}]
}

// Len is the number of pins in the sequence.
func (l *List) Len() int {
	return len(l.pins)
}
