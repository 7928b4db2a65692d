package diag

import (
	"bytes"
	"encoding/json"
	"strings"
)

// RawDiagnostic mirrors one JSON diagnostic object as emitted by the external
// compiler. Children share the same shape.
type RawDiagnostic struct {
	Message  string          `json:"message"`
	Code     *RawCode        `json:"code"`
	Level    string          `json:"level"`
	Spans    []RawSpan       `json:"spans"`
	Children []RawDiagnostic `json:"children"`
	Rendered string          `json:"rendered"`
}

// RawCode is the short diagnostic-kind identifier plus its explanation.
type RawCode struct {
	Code        string `json:"code"`
	Explanation string `json:"explanation"`
}

// RawSpan is one source region of a diagnostic in compiler coordinates.
type RawSpan struct {
	FileName             string        `json:"file_name"`
	LineStart            int           `json:"line_start"`
	LineEnd              int           `json:"line_end"`
	ColumnStart          int           `json:"column_start"`
	ColumnEnd            int           `json:"column_end"`
	IsPrimary            bool          `json:"is_primary"`
	Label                *string       `json:"label"`
	SuggestedReplacement *string       `json:"suggested_replacement"`
	Expansion            *RawExpansion `json:"expansion"`
}

// RawExpansion wraps the span a macro/attribute expansion originated from.
type RawExpansion struct {
	Span *RawSpan `json:"span"`
}

// envelope is the one-level wrapping some compiler front-ends apply to the
// diagnostic object.
type envelope struct {
	Reason  string          `json:"reason"`
	Message json.RawMessage `json:"message"`
}

// DecodeDiagnosticLine decodes one line of compiler output. It unwraps the
// envelope transparently when present. ok is false for lines that are valid
// JSON but not diagnostics (artifact notifications and the like); err is
// non-nil only for lines that are not JSON at all.
func DecodeDiagnosticLine(line []byte) (raw *RawDiagnostic, payload []byte, ok bool, err error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil, false, nil
	}
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, nil, false, err
	}
	payload = line
	if env.Reason != "" {
		if env.Reason != "compiler-message" || len(env.Message) == 0 {
			return nil, nil, false, nil
		}
		payload = env.Message
	}
	var diag RawDiagnostic
	if err := json.Unmarshal(payload, &diag); err != nil {
		return nil, nil, false, err
	}
	if diag.Message == "" && diag.Level == "" {
		return nil, nil, false, nil
	}
	return &diag, payload, true, nil
}

// spanInLocalSource walks the expansion chain until it finds a span that
// lands in the literal synthesized source file.
func spanInLocalSource(span *RawSpan) *RawSpan {
	if span == nil {
		return nil
	}
	if strings.HasSuffix(span.FileName, "lib.rs") {
		return span
	}
	if span.Expansion != nil {
		return spanInLocalSource(span.Expansion.Span)
	}
	return nil
}
