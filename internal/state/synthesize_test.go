package state

import (
	"strings"
	"testing"

	"rivet/internal/code"
)

func synthesize(t *testing.T, s *ContextState, src string, opts Options) (*ContextState, *Unit) {
	t.Helper()
	working := s.Clone()
	block, info := code.Split(src)
	unit, err := working.Synthesize(block, info, opts)
	if err != nil {
		t.Fatalf("synthesize %q: %v", src, err)
	}
	return working, unit
}

func TestSynthesizeUnpackAndRepack(t *testing.T) {
	s := New(DefaultConfig())
	s = runSubmission(t, s, "let mut a = 34;", map[string]string{"a": "i32"})
	_, unit := synthesize(t, s, "a = a + 1;", Options{CatchPanic: true})
	src := unit.Block.Code()

	unpack := `let mut a: i32 = evcxr_variable_store.take_variable("a");`
	repack := `evcxr_variable_store.put_variable("a", a);`
	catch := "catch_unwind"
	iu := strings.Index(src, unpack)
	ic := strings.Index(src, catch)
	ir := strings.LastIndex(src, repack)
	iclose := strings.Index(src, "}));")
	if iu < 0 || ic < 0 || ir < 0 || iclose < 0 {
		t.Fatalf("missing wrapper pieces in:\n%s", src)
	}
	if !(iu < ic && ic < iclose && iclose < ir) {
		t.Errorf("wrong emission order (unpack=%d catch=%d close=%d repack=%d):\n%s",
			iu, ic, iclose, ir, src)
	}
}

func TestSynthesizeUnpackGuardedByTypeCheck(t *testing.T) {
	s := New(DefaultConfig())
	s = runSubmission(t, s, "let a = 34;", map[string]string{"a": "i32"})
	_, unit := synthesize(t, s, "let b = a;", Options{CatchPanic: true})
	src := unit.Block.Code()

	check := `if !evcxr_variable_store.check_variable::<i32>("a") {`
	ichk := strings.Index(src, check)
	itake := strings.Index(src, `take_variable("a")`)
	icatch := strings.Index(src, "catch_unwind")
	if ichk < 0 || itake < 0 || icatch < 0 {
		t.Fatalf("missing guard, unpack or catch boundary in:\n%s", src)
	}
	if !strings.Contains(src, "return evcxr_variable_store_ptr;") {
		t.Errorf("guard does not return the store pointer:\n%s", src)
	}
	// The guard must run before both the unpack and the catch boundary, so
	// a type mismatch returns gracefully instead of unwinding.
	if ichk > itake || ichk > icatch {
		t.Errorf("wrong guard placement (check=%d take=%d catch=%d):\n%s",
			ichk, itake, icatch, src)
	}
}

func TestSynthesizeMovedVariableNotRepacked(t *testing.T) {
	s := New(DefaultConfig())
	s = runSubmission(t, s, `let a = String::new();`, map[string]string{"a": "String"})
	working := s.Clone()
	working.DisableVariablePreservation("a")
	block, info := code.Split("let t = a;")
	unit, err := working.Synthesize(block, info, Options{CatchPanic: true})
	if err != nil {
		t.Fatal(err)
	}
	src := unit.Block.Code()
	if !strings.Contains(src, `take_variable("a")`) {
		t.Errorf("moved variable no longer restored:\n%s", src)
	}
	if strings.Contains(src, `put_variable("a", a)`) {
		t.Errorf("moved variable repacked:\n%s", src)
	}
	working.RecordVariableType("t", "String")
	if err := working.Commit(); err != nil {
		t.Fatal(err)
	}
	if working.Variable("a") != nil {
		t.Error("moved variable survived commit")
	}
	if working.Variable("t") == nil {
		t.Error("new binding lost at commit")
	}
}

func TestSynthesizeImmutableUnpack(t *testing.T) {
	s := New(DefaultConfig())
	s = runSubmission(t, s, "let a = 34;", map[string]string{"a": "i32"})
	_, unit := synthesize(t, s, "let b = a;", Options{CatchPanic: true})
	src := unit.Block.Code()
	if !strings.Contains(src, `let a: i32 = evcxr_variable_store.take_variable("a");`) {
		t.Errorf("immutable variable unpacked with mut:\n%s", src)
	}
}

func TestSynthesizeNewVariablePackedInsideBoundary(t *testing.T) {
	s := New(DefaultConfig())
	_, unit := synthesize(t, s, "let b = 8;", Options{CatchPanic: true})
	src := unit.Block.Code()
	pack := `evcxr_variable_store.put_variable("b", b);`
	ip := strings.Index(src, pack)
	iclose := strings.Index(src, "}));")
	if ip < 0 || iclose < 0 {
		t.Fatalf("missing pack or boundary in:\n%s", src)
	}
	if ip > iclose {
		t.Errorf("new variable packed outside the execution boundary:\n%s", src)
	}
}

func TestSynthesizeRedefinedVariableNotUnpacked(t *testing.T) {
	s := New(DefaultConfig())
	s = runSubmission(t, s, "let a = 1;", map[string]string{"a": "i32"})
	_, unit := synthesize(t, s, "let a = \"now a string\";", Options{CatchPanic: true})
	src := unit.Block.Code()
	if strings.Contains(src, "take_variable(\"a\")") {
		t.Errorf("redefined variable still unpacked:\n%s", src)
	}
}

func TestSynthesizeItemReemission(t *testing.T) {
	s := New(DefaultConfig())
	s = runSubmission(t, s, "pub fn bar() -> i32 { 42 }", nil)
	_, unit := synthesize(t, s, "pub fn foo() -> i32 { bar() }", Options{CatchPanic: true})
	src := unit.Block.Code()
	ibar := strings.Index(src, "pub fn bar")
	ifoo := strings.Index(src, "pub fn foo")
	ifn := strings.Index(src, "extern \"C\" fn run_user_code_")
	if ibar < 0 || ifoo < 0 || ifn < 0 {
		t.Fatalf("missing items in:\n%s", src)
	}
	if !(ibar < ifoo && ifoo < ifn) {
		t.Errorf("items not emitted ahead of the entry function:\n%s", src)
	}
}

func TestSynthesizeItemRedefinitionNotDuplicated(t *testing.T) {
	s := New(DefaultConfig())
	s = runSubmission(t, s, "fn bar() -> i32 { 1 }", nil)
	_, unit := synthesize(t, s, "fn bar() -> i32 { 2 }", Options{CatchPanic: true})
	src := unit.Block.Code()
	if strings.Count(src, "fn bar") != 1 {
		t.Errorf("redefined item emitted twice:\n%s", src)
	}
}

func TestSynthesizeFinalExpressionWrapper(t *testing.T) {
	s := New(DefaultConfig())
	s = runSubmission(t, s, "let a = 42;", map[string]string{"a": "i32"})
	_, unit := synthesize(t, s, "a", Options{CatchPanic: true})
	src := unit.Block.Code()
	if !strings.Contains(src, "evcxr_variable_store.display_debug(&(a));") {
		t.Errorf("trailing expression not wrapped for display:\n%s", src)
	}
	var fallback *code.Block
	for _, seg := range unit.Block.Segments {
		if seg.Kind.Tag == code.TagWithFallback {
			fallback = seg.Kind.Fallback
		}
	}
	if fallback == nil {
		t.Fatal("no fallback attached to the display wrapper")
	}
	if got := strings.TrimSpace(fallback.Code()); got != "a;" {
		t.Errorf("fallback = %q, want the bare expression", got)
	}
}

func TestSynthesizeFinalExpressionDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DisplayFinalExpression = false
	s := New(cfg)
	_, unit := synthesize(t, s, "1 + 1", Options{CatchPanic: true})
	if strings.Contains(unit.Block.Code(), "display_debug") {
		t.Error("display wrapper emitted with display disabled")
	}
}

func TestSynthesizeTypedDisplay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DisplayTypes = true
	s := New(cfg)
	_, unit := synthesize(t, s, "1 + 1", Options{CatchPanic: true})
	if !strings.Contains(unit.Block.Code(), "display_debug_typed") {
		t.Errorf("typed display not emitted:\n%s", unit.Block.Code())
	}
}

func TestSynthesizeNoCatch(t *testing.T) {
	s := New(DefaultConfig())
	_, unit := synthesize(t, s, "let x = 1;", Options{CatchPanic: false})
	src := unit.Block.Code()
	if strings.Contains(src, "catch_unwind") {
		t.Errorf("catch boundary emitted in no-catch mode:\n%s", src)
	}
	if !strings.Contains(src, `put_variable("x", x);`) {
		t.Errorf("variable not packed in no-catch mode:\n%s", src)
	}
}

func TestSynthesizeQuestionMarkMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowQuestionMark = true
	s := New(cfg)
	_, unit := synthesize(t, s, "let x: i32 = \"3\".parse()?;", Options{CatchPanic: true})
	src := unit.Block.Code()
	if !strings.Contains(src, "std::result::Result<(), std::boxed::Box<dyn std::error::Error>>") {
		t.Errorf("closure does not return a Result in question-mark mode:\n%s", src)
	}
	if !strings.Contains(src, "std::result::Result::Ok(())") {
		t.Errorf("closure missing trailing Ok:\n%s", src)
	}
}

func TestSynthesizeAsyncMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AsyncMode = true
	s := New(cfg)
	_, unit := synthesize(t, s, "let x = fetch().await;", Options{CatchPanic: true})
	src := unit.Block.Code()
	if !strings.Contains(src, "tokio::runtime::Builder") || !strings.Contains(src, "block_on(async {") {
		t.Errorf("async boundary missing:\n%s", src)
	}
}

func TestSynthesizeSymbolStableAcrossIdenticalSubmissions(t *testing.T) {
	s := New(DefaultConfig())
	_, unit1 := synthesize(t, s, "let a = 1;", Options{CatchPanic: true})
	_, unit2 := synthesize(t, s, "let a = 1;", Options{CatchPanic: true})
	if unit1.Symbol != unit2.Symbol || unit1.Fingerprint != unit2.Fingerprint {
		t.Errorf("identical submissions produced different symbols: %s vs %s",
			unit1.Symbol, unit2.Symbol)
	}
	if !strings.HasPrefix(unit1.Symbol, "run_user_code_") || len(unit1.Symbol) != len("run_user_code_")+8 {
		t.Errorf("symbol shape = %q", unit1.Symbol)
	}
	if !strings.Contains(unit1.Block.Code(), unit1.Symbol) {
		t.Error("symbol not substituted into the unit source")
	}
}

func TestSynthesizeSymbolChangesWithConfig(t *testing.T) {
	s1 := New(DefaultConfig())
	cfg := DefaultConfig()
	cfg.OptLevel = "0"
	s2 := New(cfg)
	_, unit1 := synthesize(t, s1, "let a = 1;", Options{CatchPanic: true})
	_, unit2 := synthesize(t, s2, "let a = 1;", Options{CatchPanic: true})
	if unit1.Fingerprint == unit2.Fingerprint {
		t.Error("fingerprint ignores configuration")
	}
}

func TestSynthesizePosMapRoundTrip(t *testing.T) {
	s := New(DefaultConfig())
	_, unit := synthesize(t, s, "let first = 1;\nlet second = 2;\n", Options{CatchPanic: true})
	src := unit.Block.Code()
	lines := strings.Split(src, "\n")
	var unitLine int
	for i, line := range lines {
		if strings.Contains(line, "let second") {
			unitLine = i + 1
		}
	}
	if unitLine == 0 {
		t.Fatalf("user line not found in:\n%s", src)
	}
	userLine, ok := unit.PosMap.UnitLineToUser(unitLine)
	if !ok || userLine != 2 {
		t.Errorf("UnitLineToUser(%d) = %d,%t, want 2", unitLine, userLine, ok)
	}
	back, ok := unit.PosMap.UserLineToUnit(userLine)
	if !ok || back != unitLine {
		t.Errorf("UserLineToUnit(%d) = %d,%t, want %d", userLine, back, ok, unitLine)
	}
}

func TestSynthesizeUseDedupInUnit(t *testing.T) {
	s := New(DefaultConfig())
	s = runSubmission(t, s, "use std::collections::HashMap;", nil)
	_, unit := synthesize(t, s, "use std::collections::{HashMap, HashSet};\nlet m: HashMap<i32, i32> = HashMap::new();",
		Options{CatchPanic: true})
	src := unit.Block.Code()
	if strings.Count(src, "use std::collections::HashMap;") != 1 {
		t.Errorf("duplicate import emitted:\n%s", src)
	}
	if !strings.Contains(src, "use std::collections::HashSet;") {
		t.Errorf("new import missing:\n%s", src)
	}
}

func TestSynthesizeExternCrateCarriedForward(t *testing.T) {
	s := New(DefaultConfig())
	s = runSubmission(t, s, "extern crate serde_json;", nil)
	if !s.HasDep("serde-json") {
		t.Fatalf("extern crate did not register a dependency: %v", s.Deps())
	}
	_, unit := synthesize(t, s, "let v = 1;", Options{CatchPanic: true})
	if !strings.Contains(unit.Block.Code(), "extern crate serde_json;") {
		t.Errorf("extern crate statement not re-emitted:\n%s", unit.Block.Code())
	}
}
