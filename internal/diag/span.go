package diag

import "fmt"

// Span locates a diagnostic in the user's original input. Lines and columns
// are 1-based; columns count Unicode scalar values, matching the external
// compiler's own column accounting.
type Span struct {
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

func (s Span) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", s.StartLine, s.StartColumn, s.EndLine, s.EndColumn)
}

// SpannedMessage is one labelled region of a diagnostic, already translated
// into user-input coordinates. Span is nil when the region fell entirely in
// generated code.
type SpannedMessage struct {
	Span      *Span
	Label     string
	IsPrimary bool
	// Lines holds the user's original source lines covered by Span, filled
	// in by FillLines before the error is reported.
	Lines []string
}
