package diag

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
)

// RenderOptions controls diagnostic rendering.
type RenderOptions struct {
	// Color enables ANSI styling.
	Color bool
	// ShowHints appends repl-specific hints after the compiler's own output.
	ShowHints bool
}

var (
	headerColor = color.New(color.FgRed, color.Bold)
	gutterColor = color.New(color.FgBlue, color.Bold)
	labelColor  = color.New(color.FgYellow)
	hintColor   = color.New(color.FgCyan)
)

// Render formats one compilation error against the user's input. FillLines
// must have been called for source excerpts to appear.
func Render(e *CompilationError, opts RenderOptions) string {
	paint := func(c *color.Color, s string) string {
		if !opts.Color {
			return s
		}
		return c.Sprint(s)
	}

	var sb strings.Builder
	header := e.Message()
	if errCode := e.Code(); errCode != "" {
		header = fmt.Sprintf("error[%s]: %s", errCode, e.Message())
	} else {
		header = "error: " + e.Message()
	}
	sb.WriteString(paint(headerColor, header))
	sb.WriteByte('\n')

	for _, spanned := range e.SpannedMessages() {
		renderSpanned(&sb, spanned, paint)
	}
	for _, spanned := range e.HelpSpanned() {
		if spanned.Label == "" {
			continue
		}
		if spanned.Span == nil {
			sb.WriteString("  = " + spanned.Label + "\n")
			continue
		}
		renderSpanned(&sb, spanned, paint)
	}
	for _, help := range e.Help() {
		sb.WriteString(paint(hintColor, "help: "+help))
		sb.WriteByte('\n')
	}
	if opts.ShowHints {
		if hint := e.ExtraHint(); hint != "" {
			sb.WriteString(paint(hintColor, "note: "+hint))
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// renderSpanned prints the covered source line(s) with a caret underline.
// Widths are computed with runewidth so the carets line up under wide
// characters.
func renderSpanned(sb *strings.Builder, spanned SpannedMessage, paint func(*color.Color, string) string) {
	if spanned.Span == nil || len(spanned.Lines) == 0 {
		if spanned.Label != "" {
			sb.WriteString("  = " + spanned.Label + "\n")
		}
		return
	}
	span := spanned.Span
	gutterWidth := len(fmt.Sprintf("%d", span.EndLine))
	for i, line := range spanned.Lines {
		lineNo := span.StartLine + i
		sb.WriteString(paint(gutterColor, fmt.Sprintf("%*d | ", gutterWidth, lineNo)))
		sb.WriteString(line)
		sb.WriteByte('\n')
		startCol := 1
		endCol := countScalars(line) + 1
		if lineNo == span.StartLine {
			startCol = span.StartColumn
		}
		if lineNo == span.EndLine {
			endCol = span.EndColumn
		}
		if endCol <= startCol {
			endCol = startCol + 1
		}
		prefix := runewidth.StringWidth(scalarSlice(line, 0, startCol-1))
		width := runewidth.StringWidth(scalarSlice(line, startCol-1, endCol-1))
		if width < 1 {
			width = 1
		}
		underline := strings.Repeat(" ", gutterWidth) + " | " +
			strings.Repeat(" ", prefix) + strings.Repeat("^", width)
		if spanned.Label != "" && lineNo == span.EndLine {
			underline += " " + paint(labelColor, spanned.Label)
		}
		sb.WriteString(paint(gutterColor, underline[:gutterWidth+3]))
		sb.WriteString(underline[gutterWidth+3:])
		sb.WriteByte('\n')
	}
}

func countScalars(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

// scalarSlice returns the substring between two scalar-value indices.
func scalarSlice(s string, from, to int) string {
	if from >= to {
		return ""
	}
	start, end := -1, len(s)
	idx := 0
	for i := range s {
		if idx == from {
			start = i
		}
		if idx == to {
			end = i
			break
		}
		idx++
	}
	if start < 0 {
		return ""
	}
	return s[start:end]
}
