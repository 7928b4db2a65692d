package code

import "strings"

// Block is an ordered sequence of segments forming one compilable unit.
// The concatenation of segment texts is exactly the unit body.
type Block struct {
	Segments []*Segment
}

// NewBlock returns an empty block.
func NewBlock() *Block {
	return &Block{}
}

// IsEmpty reports whether the block has no segments.
func (b *Block) IsEmpty() bool {
	return len(b.Segments) == 0
}

// Code returns the concatenated text of all segments.
func (b *Block) Code() string {
	var sb strings.Builder
	for _, seg := range b.Segments {
		sb.WriteString(seg.Text)
	}
	return sb.String()
}

// NumLines returns the total line count of the block.
func (b *Block) NumLines() int {
	n := 0
	for _, seg := range b.Segments {
		n += seg.NumLines
	}
	return n
}

// Add appends a segment.
func (b *Block) Add(seg *Segment) {
	b.Segments = append(b.Segments, seg)
}

// AddBlock appends all segments of other.
func (b *Block) AddBlock(other *Block) {
	b.Segments = append(b.Segments, other.Segments...)
}

// Generated appends generated glue code.
func (b *Block) Generated(text string) {
	b.Add(NewSegment(OtherGeneratedCode(), text))
}

// PackVariable appends generated pack/unpack code attributed to one variable.
func (b *Block) PackVariable(name, text string) {
	b.Add(NewSegment(PackVariable(name), text))
}

// Clone returns a deep-enough copy: segments are copied, fallback blocks are
// shared (immutable).
func (b *Block) Clone() *Block {
	out := &Block{Segments: make([]*Segment, len(b.Segments))}
	for i, seg := range b.Segments {
		out.Segments[i] = seg.Clone()
	}
	return out
}

// CommitOldUserCode recategorizes all original user segments to
// TagOtherUserCode. Called once a unit has been successfully executed and
// detailed error-span tracking is no longer needed.
func (b *Block) CommitOldUserCode() {
	for _, seg := range b.Segments {
		if seg.Kind.Tag == TagOriginalUserCode {
			seg.Kind = OtherUserCode()
			seg.Sequence = 0
		}
	}
}

// SegmentWithSequence returns the original user segment with the given
// sequence id, or nil.
func (b *Block) SegmentWithSequence(sequence int) *Segment {
	if sequence == 0 {
		return nil
	}
	for _, seg := range b.Segments {
		if seg.Sequence == sequence {
			return seg
		}
	}
	return nil
}

// OriginForLine returns the kind owning the given 1-based line of the
// concatenated block text, along with the 1-based line offset within that
// segment. Lines past the end report TagUnknown.
func (b *Block) OriginForLine(line int) (Kind, int) {
	if line < 1 {
		return Kind{}, 0
	}
	remaining := line
	for _, seg := range b.Segments {
		if remaining <= seg.NumLines {
			return seg.Kind, remaining
		}
		remaining -= seg.NumLines
	}
	return Kind{}, 0
}

// SegmentForLine returns the segment owning the given 1-based line, along
// with the 1-based line offset within it, or nil.
func (b *Block) SegmentForLine(line int) (*Segment, int) {
	if line < 1 {
		return nil, 0
	}
	remaining := line
	for _, seg := range b.Segments {
		if remaining <= seg.NumLines {
			return seg, remaining
		}
		remaining -= seg.NumLines
	}
	return nil, 0
}

// ApplyFallback replaces the first TagWithFallback segment whose text matches
// target with its fallback block's segments. Returns true if a replacement
// happened.
func (b *Block) ApplyFallback(target *Segment) bool {
	for i, seg := range b.Segments {
		if seg != target && !(seg.Kind.Tag == TagWithFallback && seg.Text == target.Text) {
			continue
		}
		if seg.Kind.Tag != TagWithFallback || seg.Kind.Fallback == nil {
			continue
		}
		replacement := seg.Kind.Fallback.Clone()
		out := make([]*Segment, 0, len(b.Segments)-1+len(replacement.Segments))
		out = append(out, b.Segments[:i]...)
		out = append(out, replacement.Segments...)
		out = append(out, b.Segments[i+1:]...)
		b.Segments = out
		return true
	}
	return false
}

// UserSegments returns the original user segments in order.
func (b *Block) UserSegments() []*Segment {
	var out []*Segment
	for _, seg := range b.Segments {
		if seg.Kind.Tag == TagOriginalUserCode {
			out = append(out, seg)
		}
	}
	return out
}

// Commands returns the command segments in order.
func (b *Block) Commands() []*CommandCall {
	var out []*CommandCall
	for _, seg := range b.Segments {
		if seg.Kind.Tag == TagCommand && seg.Kind.Command != nil {
			out = append(out, seg.Kind.Command)
		}
	}
	return out
}
