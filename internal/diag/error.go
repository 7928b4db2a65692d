package diag

import (
	"strings"

	"rivet/internal/code"
)

// CompilationError is one diagnostic reported by the external compiler,
// correlated against segment provenance and translated into user-input
// coordinates.
type CompilationError struct {
	message         string
	raw             *RawDiagnostic
	payload         []byte
	codeOrigins     []code.Kind
	spannedMessages []SpannedMessage
	spannedHelps    []SpannedMessage
	level           string
}

// NewCompilationError builds an error from one decoded diagnostic payload.
// Returns nil for summary messages that carry no information of their own.
func NewCompilationError(raw *RawDiagnostic, payload []byte, block *code.Block) *CompilationError {
	if raw == nil {
		return nil
	}
	origins := originsOf(raw, block)

	// If the top-level diagnostic has no user-supplied origin but one of its
	// children does, report the child instead: the parent wins unless it has
	// zero user origins and some child has one.
	chosen := raw
	for i := range raw.Children {
		child := &raw.Children[i]
		childOrigins := originsOf(child, block)
		if !anyUserSupplied(origins) && anyUserSupplied(childOrigins) {
			chosen = child
			origins = childOrigins
			break
		}
		origins = append(origins, childOrigins...)
	}

	msg := chosen.Message
	if msg == "" ||
		strings.HasPrefix(msg, "aborting due to") ||
		strings.HasPrefix(msg, "For more information about") ||
		strings.HasPrefix(msg, "Some errors occurred") {
		return nil
	}

	var helps []SpannedMessage
	for i := range chosen.Children {
		helps = append(helps, buildSpannedMessages(&chosen.Children[i], block)...)
	}
	return &CompilationError{
		message:         sanitizeMessage(msg),
		raw:             chosen,
		payload:         payload,
		codeOrigins:     origins,
		spannedMessages: buildSpannedMessages(chosen, block),
		spannedHelps:    helps,
		level:           chosen.Level,
	}
}

// FromSegmentSpan synthesizes an error that covers a region of one segment,
// used for failures we detect ourselves rather than receive from the
// compiler.
func FromSegmentSpan(seg *code.Segment, spanned SpannedMessage, message string) *CompilationError {
	return &CompilationError{
		message:         message,
		codeOrigins:     []code.Kind{seg.Kind},
		spannedMessages: []SpannedMessage{spanned},
		level:           "error",
	}
}

func originsOf(raw *RawDiagnostic, block *code.Block) []code.Kind {
	var origins []code.Kind
	for i := range raw.Spans {
		resolved := spanInLocalSource(&raw.Spans[i])
		if resolved == nil {
			continue
		}
		for line := resolved.LineStart; line <= resolved.LineEnd; line++ {
			kind, _ := block.OriginForLine(line)
			origins = append(origins, kind)
		}
	}
	return origins
}

func anyUserSupplied(origins []code.Kind) bool {
	for _, k := range origins {
		if k.IsUserSupplied() {
			return true
		}
	}
	return false
}

func buildSpannedMessages(raw *RawDiagnostic, block *code.Block) []SpannedMessage {
	var out []SpannedMessage
	levelPrefix := ""
	onlyOneSpan := false
	if raw.Level != "" && raw.Level != "error" {
		// helps and notes with multiple spans are not representable
		levelPrefix = raw.Level + ": "
		onlyOneSpan = true
	}
	for i := range raw.Spans {
		resolved := spanInLocalSource(&raw.Spans[i])
		if resolved == nil {
			continue
		}
		label := ""
		if resolved.Label != nil {
			label = *resolved.Label
		} else if raw.Spans[i].Label != nil {
			label = *raw.Spans[i].Label
		}
		if label == "" && levelPrefix != "" {
			label = raw.Message
		}
		span := userSpan(resolved, block)
		if span == nil && label == "" {
			continue
		}
		out = append(out, SpannedMessage{
			Span:      span,
			Label:     levelPrefix + label,
			IsPrimary: raw.Spans[i].IsPrimary,
		})
		if onlyOneSpan {
			break
		}
	}
	return out
}

// userSpan translates a compiler span into user-input coordinates, or nil if
// either end lands in generated code.
func userSpan(resolved *RawSpan, block *code.Block) *Span {
	start := translatePoint(block, resolved.LineStart, resolved.ColumnStart)
	end := translatePoint(block, resolved.LineEnd, resolved.ColumnEnd)
	if start == nil || end == nil {
		return nil
	}
	return &Span{
		StartLine:   start[0],
		StartColumn: start[1],
		EndLine:     end[0],
		EndColumn:   end[1],
	}
}

func translatePoint(block *code.Block, line, column int) *[2]int {
	seg, offset := block.SegmentForLine(line)
	if seg == nil || seg.Kind.Tag != code.TagOriginalUserCode {
		return nil
	}
	meta := seg.Kind.Meta
	userLine := meta.StartLine + offset - 1
	userColumn := column
	if offset == 1 && meta.StartColumn > 1 {
		userColumn += meta.StartColumn - 1
	}
	return &[2]int{userLine, userColumn}
}

// sanitizeMessage rewrites references to the generated variable store, which
// sit past the end of what the user typed. Missing semicolons on let
// statements produce errors like "expected `;`, found `evcxr_variable_store`".
func sanitizeMessage(message string) string {
	return strings.ReplaceAll(message, "`evcxr_variable_store`", "<end of input>")
}

// Message returns the top-level diagnostic text.
func (e *CompilationError) Message() string { return e.message }

// Level returns the diagnostic level as reported by the compiler.
func (e *CompilationError) Level() string { return e.level }

// IsError reports whether the diagnostic is an error rather than a lint.
func (e *CompilationError) IsError() bool { return e.level == "error" }

// Code returns the short diagnostic-kind identifier, or "".
func (e *CompilationError) Code() string {
	if e.raw == nil || e.raw.Code == nil {
		return ""
	}
	return e.raw.Code.Code
}

// Explanation returns the long-form explanation for the diagnostic code.
func (e *CompilationError) Explanation() string {
	if e.raw == nil || e.raw.Code == nil {
		return ""
	}
	return e.raw.Code.Explanation
}

// JSON returns the diagnostic's original payload bytes.
func (e *CompilationError) JSON() []byte { return e.payload }

// Rendered returns the compiler's own rendering, when present.
func (e *CompilationError) Rendered() string {
	if e.raw == nil {
		return ""
	}
	return e.raw.Rendered
}

// CodeOrigins returns the provenance kinds the diagnostic's spans touched.
func (e *CompilationError) CodeOrigins() []code.Kind { return e.codeOrigins }

// IsFromUserCode reports whether any origin was typed by the user.
func (e *CompilationError) IsFromUserCode() bool {
	return anyUserSupplied(e.codeOrigins)
}

// IsFromGeneratedCode reports whether any origin is generated glue code.
func (e *CompilationError) IsFromGeneratedCode() bool {
	for _, k := range e.codeOrigins {
		if k.Tag == code.TagOtherGeneratedCode {
			return true
		}
	}
	return false
}

// SpannedMessages returns the labelled regions in user coordinates.
func (e *CompilationError) SpannedMessages() []SpannedMessage { return e.spannedMessages }

// HelpSpanned returns the regions contributed by child diagnostics.
func (e *CompilationError) HelpSpanned() []SpannedMessage { return e.spannedHelps }

// PrimarySpannedMessage returns the primary region, falling back to the
// first region when the primary was filtered out with generated code.
func (e *CompilationError) PrimarySpannedMessage() *SpannedMessage {
	for i := range e.spannedMessages {
		if e.spannedMessages[i].IsPrimary {
			return &e.spannedMessages[i]
		}
	}
	if len(e.spannedMessages) > 0 {
		return &e.spannedMessages[0]
	}
	return nil
}

// Help collects the help texts of child diagnostics, with suggested
// replacements appended.
func (e *CompilationError) Help() []string {
	if e.raw == nil {
		return nil
	}
	var out []string
	for i := range e.raw.Children {
		child := &e.raw.Children[i]
		if child.Level != "help" || child.Message == "" {
			continue
		}
		msg := child.Message
		if len(child.Spans) > 0 && child.Spans[0].SuggestedReplacement != nil {
			if repl := strings.TrimRight(*child.Spans[0].SuggestedReplacement, " \t\n"); repl != "" {
				msg += "\n\n" + repl
			}
		}
		out = append(out, msg)
	}
	return out
}

// ExtraHint returns repl-specific advice for a couple of diagnostic codes
// whose stock message is misleading in an incremental context. These are the
// only places hint text keys off a diagnostic code.
func (e *CompilationError) ExtraHint() string {
	switch e.Code() {
	case "E0384", "E0596":
		return "You can change an existing variable to mutable like: `let mut x = x;`"
	case "E0597":
		return "Values assigned to variables in the session cannot contain non-static references"
	}
	return ""
}

// FillLines attaches the user's original source lines to every spanned
// message, for rendering.
func (e *CompilationError) FillLines(info *code.UserCodeInfo) {
	if info == nil {
		return
	}
	fill := func(msgs []SpannedMessage) {
		for i := range msgs {
			span := msgs[i].Span
			if span == nil || len(msgs[i].Lines) > 0 {
				continue
			}
			for line := span.StartLine; line <= span.EndLine; line++ {
				if line >= 1 && line <= len(info.OriginalLines) {
					msgs[i].Lines = append(msgs[i].Lines, info.OriginalLines[line-1])
				}
			}
		}
	}
	fill(e.spannedMessages)
	fill(e.spannedHelps)
}
