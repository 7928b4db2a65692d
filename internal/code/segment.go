package code

import "strings"

// Segment is a provenance-tagged contiguous chunk of source text.
// Invariant: Text always ends with exactly one trailing newline and NumLines
// matches the number of newlines in Text.
type Segment struct {
	Kind Kind
	Text string
	// NumLines is precomputed so origin lookups never rescan the text.
	NumLines int
	// Sequence orders original user segments and gives them stable identity
	// across transformations. Zero for generated segments; the first user
	// segment gets 1.
	Sequence int
}

// NewSegment builds a segment, normalizing the trailing newline.
func NewSegment(kind Kind, text string) *Segment {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return &Segment{
		Kind:     kind,
		Text:     text,
		NumLines: strings.Count(text, "\n"),
	}
}

func newSegmentWithSequence(kind Kind, text string, sequence int) *Segment {
	seg := NewSegment(kind, text)
	seg.Sequence = sequence
	return seg
}

// Clone returns a copy of the segment. The fallback block, if any, is shared:
// fallbacks are immutable once built.
func (s *Segment) Clone() *Segment {
	dup := *s
	return &dup
}

// CountColumns returns the 1-based column of the given byte offset within
// text, counting Unicode scalar values. This matches how the external
// compiler reports columns in its diagnostics.
func CountColumns(text string, byteOffset int) int {
	if byteOffset > len(text) {
		byteOffset = len(text)
	}
	col := 1
	for range text[:byteOffset] {
		col++
	}
	return col
}
