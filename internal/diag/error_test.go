package diag

import (
	"strings"
	"testing"

	"rivet/internal/code"
)

// testBlock builds a block whose lines mimic a synthesized unit:
// two generated lines, two user lines, one pack line.
func testBlock() *code.Block {
	block := code.NewBlock()
	block.Generated("mod generated {}\n// glue\n")
	block.Add(code.NewSegment(code.OriginalUserCode(code.UserCodeMeta{StartLine: 1}),
		"let x: i32 = \"nope\";\nlet y = 2;\n"))
	block.PackVariable("x", "store.put(x);\n")
	return block
}

const mismatchedTypes = `{
	"message": "mismatched types",
	"code": {"code": "E0308", "explanation": "types differ"},
	"level": "error",
	"spans": [{
		"file_name": "src/lib.rs",
		"line_start": 3, "line_end": 3,
		"column_start": 14, "column_end": 20,
		"is_primary": true,
		"label": "expected i32"
	}],
	"children": [],
	"rendered": "mismatched types"
}`

func TestDecodeDiagnosticLine(t *testing.T) {
	raw, payload, ok, err := DecodeDiagnosticLine([]byte(mismatchedTypes))
	if err != nil || !ok {
		t.Fatalf("decode failed: ok=%v err=%v", ok, err)
	}
	if raw.Code.Code != "E0308" {
		t.Errorf("code = %q", raw.Code.Code)
	}
	if len(payload) == 0 {
		t.Error("payload not preserved")
	}
}

func TestDecodeDiagnosticLineEnvelope(t *testing.T) {
	wrapped := `{"reason": "compiler-message", "message": ` + mismatchedTypes + `}`
	raw, _, ok, err := DecodeDiagnosticLine([]byte(wrapped))
	if err != nil || !ok {
		t.Fatalf("decode failed: ok=%v err=%v", ok, err)
	}
	if raw.Message != "mismatched types" {
		t.Errorf("message = %q", raw.Message)
	}
}

func TestDecodeDiagnosticLineSkipsOtherReasons(t *testing.T) {
	_, _, ok, err := DecodeDiagnosticLine([]byte(`{"reason": "compiler-artifact", "target": {}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("artifact message decoded as diagnostic")
	}
}

func TestDecodeDiagnosticLineRejectsNonJSON(t *testing.T) {
	_, _, _, err := DecodeDiagnosticLine([]byte("error: something went wrong"))
	if err == nil {
		t.Error("expected error for non-JSON input")
	}
}

func TestCompilationErrorOrigins(t *testing.T) {
	raw, payload, ok, _ := DecodeDiagnosticLine([]byte(mismatchedTypes))
	if !ok {
		t.Fatal("decode failed")
	}
	e := NewCompilationError(raw, payload, testBlock())
	if e == nil {
		t.Fatal("error filtered out")
	}
	if !e.IsFromUserCode() {
		t.Error("span on user line not attributed to user code")
	}
	if e.Code() != "E0308" {
		t.Errorf("code = %q", e.Code())
	}
	primary := e.PrimarySpannedMessage()
	if primary == nil || primary.Span == nil {
		t.Fatal("no primary spanned message")
	}
	if primary.Span.StartLine != 1 {
		t.Errorf("user start line = %d, want 1", primary.Span.StartLine)
	}
	if primary.Span.StartColumn != 14 {
		t.Errorf("user start column = %d, want 14", primary.Span.StartColumn)
	}
}

func TestCompilationErrorChildPreference(t *testing.T) {
	// parent spans generated code only; child spans user code
	parent := `{
		"message": "generated wrapper failed",
		"level": "error",
		"spans": [{"file_name": "src/lib.rs", "line_start": 1, "line_end": 1,
			"column_start": 1, "column_end": 2, "is_primary": true}],
		"children": [{
			"message": "the real problem",
			"level": "error",
			"spans": [{"file_name": "src/lib.rs", "line_start": 4, "line_end": 4,
				"column_start": 1, "column_end": 2, "is_primary": true}],
			"children": []
		}]
	}`
	raw, payload, ok, _ := DecodeDiagnosticLine([]byte(parent))
	if !ok {
		t.Fatal("decode failed")
	}
	e := NewCompilationError(raw, payload, testBlock())
	if e == nil {
		t.Fatal("error filtered out")
	}
	if e.Message() != "the real problem" {
		t.Errorf("message = %q, want child message", e.Message())
	}
	if !e.IsFromUserCode() {
		t.Error("child origins not adopted")
	}
}

func TestCompilationErrorParentWinsWithUserOrigin(t *testing.T) {
	parent := `{
		"message": "parent problem",
		"level": "error",
		"spans": [{"file_name": "src/lib.rs", "line_start": 3, "line_end": 3,
			"column_start": 1, "column_end": 2, "is_primary": true}],
		"children": [{
			"message": "child detail",
			"level": "error",
			"spans": [{"file_name": "src/lib.rs", "line_start": 4, "line_end": 4,
				"column_start": 1, "column_end": 2, "is_primary": true}],
			"children": []
		}]
	}`
	raw, payload, _, _ := DecodeDiagnosticLine([]byte(parent))
	e := NewCompilationError(raw, payload, testBlock())
	if e.Message() != "parent problem" {
		t.Errorf("message = %q, want parent message", e.Message())
	}
}

func TestCompilationErrorFiltersSummaries(t *testing.T) {
	for _, msg := range []string{
		"aborting due to 2 previous errors",
		"For more information about this error, try `rustc --explain E0308`.",
		"Some errors occurred",
	} {
		raw := &RawDiagnostic{Message: msg, Level: "error"}
		if e := NewCompilationError(raw, nil, testBlock()); e != nil {
			t.Errorf("summary %q not filtered", msg)
		}
	}
}

func TestSanitizeMessage(t *testing.T) {
	raw := &RawDiagnostic{Message: "expected `;`, found `evcxr_variable_store`", Level: "error"}
	e := NewCompilationError(raw, nil, testBlock())
	if e == nil {
		t.Fatal("error filtered out")
	}
	if !strings.Contains(e.Message(), "<end of input>") {
		t.Errorf("message not sanitized: %q", e.Message())
	}
}

func TestExpansionWalk(t *testing.T) {
	macroSpan := `{
		"message": "problem inside macro",
		"level": "error",
		"spans": [{
			"file_name": "<println macros>",
			"line_start": 1, "line_end": 1, "column_start": 1, "column_end": 2,
			"is_primary": true,
			"expansion": {"span": {
				"file_name": "src/lib.rs",
				"line_start": 4, "line_end": 4,
				"column_start": 1, "column_end": 11,
				"is_primary": true
			}}
		}],
		"children": []
	}`
	raw, payload, ok, _ := DecodeDiagnosticLine([]byte(macroSpan))
	if !ok {
		t.Fatal("decode failed")
	}
	e := NewCompilationError(raw, payload, testBlock())
	if e == nil {
		t.Fatal("error filtered out")
	}
	if !e.IsFromUserCode() {
		t.Error("expansion span not resolved to user code")
	}
	primary := e.PrimarySpannedMessage()
	if primary == nil || primary.Span == nil || primary.Span.StartLine != 2 {
		t.Errorf("expansion span mapped to %+v, want user line 2", primary)
	}
}

func TestFillLinesAndRender(t *testing.T) {
	raw, payload, _, _ := DecodeDiagnosticLine([]byte(mismatchedTypes))
	e := NewCompilationError(raw, payload, testBlock())
	info := &code.UserCodeInfo{OriginalLines: []string{
		"let x: i32 = \"nope\";",
		"let y = 2;",
	}}
	e.FillLines(info)
	out := Render(e, RenderOptions{Color: false, ShowHints: true})
	if !strings.Contains(out, "error[E0308]: mismatched types") {
		t.Errorf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "let x: i32 = \"nope\";") {
		t.Errorf("missing source line:\n%s", out)
	}
	if !strings.Contains(out, "^") {
		t.Errorf("missing caret underline:\n%s", out)
	}
}
