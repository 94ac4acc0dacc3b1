package runtime

// TextBuffer accumulates a template's text output as an ordered sequence
// of chunk slots. Chunks are appended in source order but may resolve out
// of order (an async call further down the template can settle before an
// earlier one); Concat always walks chunks in append order regardless of
// settle order, which is what gives a rendered document its stable,
// position-faithful text even under concurrent evaluation (spec.md §4.4).
type TextBuffer struct {
	chunks []*ValueSlot
}

func NewTextBuffer() *TextBuffer {
	return &TextBuffer{}
}

// Literal appends an already-known string chunk (template data between
// tags never needs to suspend).
func (b *TextBuffer) Literal(s string) {
	b.chunks = append(b.chunks, ResolvedSlot(s))
}

// Append reserves a chunk position and returns its slot for the caller to
// resolve or poison once the producing expression settles.
func (b *TextBuffer) Append() *ValueSlot {
	s := NewSlot()
	b.chunks = append(b.chunks, s)
	return s
}

// Concat joins every chunk in append order. It must only be called after
// the owning scheduler's Run has returned; a chunk still Pending at that
// point means some producer never settled its slot, which is a runtime
// bug rather than a render outcome, so it is surfaced as a Poison rather
// than silently dropped or blocked on.
func (b *TextBuffer) Concat() (string, *Poison) {
	out := make([]byte, 0, 256)
	for _, c := range b.chunks {
		state, value, poison, ok := c.Peek()
		if !ok {
			return "", &Poison{}
		}
		if state == Poisoned {
			return "", poison
		}
		s, _ := value.(string)
		out = append(out, s...)
	}
	return string(out), nil
}
