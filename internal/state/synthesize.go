package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"rivet/internal/code"
)

// Options selects the synthesis variant.
type Options struct {
	// CatchPanic wraps the user's code in a panic-catching boundary. It is
	// turned off when recompiling purely to get diagnostics uncolored by the
	// catch machinery.
	CatchPanic bool
	// AnalysisMode keeps user text positionally stable for introspection:
	// no final-expression wrapping, no import rewriting.
	AnalysisMode bool
	// SuppressFinalDisplay skips the display wrapper around a trailing
	// expression, keeping only its semicolon-terminated form. Set after a
	// failed attempt attributed the error to the wrapper itself.
	SuppressFinalDisplay bool
}

// Unit is one synthesized compilation unit ready for the build driver.
type Unit struct {
	Block  *code.Block
	PosMap *code.PosMap
	// Symbol is the entry function exported by the compiled library.
	Symbol string
	// Fingerprint identifies the unit's source and configuration; identical
	// fingerprints produce identical libraries.
	Fingerprint string
}

const symbolPlaceholder = "run_user_code_00000000"

// Synthesize combines the working state with a split submission into the
// full unit source. It also registers the submission's persistent effects
// (items, imports, dependencies, let bindings) on the working state, which
// is why it must run on a clone of the committed state.
func (s *ContextState) Synthesize(userBlock *code.Block, info *code.UserCodeInfo, opts Options) (*Unit, error) {
	prevItemOrder := append([]string(nil), s.itemOrder...)
	prevItems := make(map[string]*code.Block, len(s.itemsByName))
	for name, b := range s.itemsByName {
		prevItems[name] = b
	}
	prevUnnamed := len(s.unnamedItems)
	prevImports := s.imports.clone()
	prevExternCrates := make(map[string]string, len(s.externCrateStmts))
	for name, stmt := range s.externCrateStmts {
		prevExternCrates[name] = stmt
	}

	if err := s.absorb(info, userBlock); err != nil {
		return nil, err
	}
	s.buildNum++

	var itemSegs, useSegs, externSegs, bodySegs []*code.Segment
	for _, seg := range userBlock.UserSegments() {
		pl := code.SegmentPlacement(info.Statements(seg.Sequence))
		switch {
		case pl.IsItem():
			itemSegs = append(itemSegs, seg)
		case pl.IsUse():
			useSegs = append(useSegs, seg)
		case pl.IsExternCrate():
			externSegs = append(externSegs, seg)
		default:
			bodySegs = append(bodySegs, seg)
		}
	}

	redefined := map[string]bool{}
	for _, seg := range itemSegs {
		for _, stmt := range info.Statements(seg.Sequence) {
			if stmt.Kind == code.StmtItem && stmt.ItemName != "" {
				redefined[stmt.ItemName] = true
			}
		}
	}

	unit := code.NewBlock()
	unit.Generated("#![allow(unused_imports, unused_mut, dead_code)]\nmod internal_runtime;\n")

	declaredNow := map[string]bool{}
	for _, seg := range externSegs {
		for _, stmt := range info.Statements(seg.Sequence) {
			if stmt.Kind == code.StmtExternCrate {
				declaredNow[externCrateName(stmt.Text)] = true
			}
		}
	}
	for _, name := range sortedKeys(prevExternCrates) {
		if declaredNow[name] {
			continue
		}
		stmt := prevExternCrates[name]
		if !strings.HasSuffix(stmt, "\n") {
			stmt += "\n"
		}
		unit.Generated(stmt)
	}
	for _, seg := range externSegs {
		unit.Add(seg)
	}

	if opts.AnalysisMode {
		for _, stmt := range prevImports.statements() {
			unit.Generated(stmt + "\n")
		}
		for _, seg := range useSegs {
			unit.Add(seg)
		}
	} else {
		for _, stmt := range s.imports.statements() {
			unit.Generated(stmt + "\n")
		}
	}

	for _, name := range prevItemOrder {
		if redefined[name] {
			continue
		}
		unit.AddBlock(prevItems[name])
	}
	for _, block := range s.unnamedItems[:prevUnnamed] {
		unit.AddBlock(block)
	}
	for _, seg := range itemSegs {
		unit.Add(seg)
	}

	unit.Generated("#[no_mangle]\npub extern \"C\" fn " + symbolPlaceholder +
		"(evcxr_variable_store_ptr: *mut internal_runtime::VariableStore) -> *mut internal_runtime::VariableStore {\n" +
		"let evcxr_variable_store = unsafe { &mut *evcxr_variable_store_ptr };\n")

	unpackNames := s.unpackableNames()
	for _, name := range unpackNames {
		v := s.storedVariableStates[name]
		mut := ""
		if v.Mutable {
			mut = "mut "
		}
		// The type check returns the store pointer on a mismatch instead of
		// panicking: these lines run before the catch boundary, and an
		// unwind out of the extern "C" entry would abort the worker.
		unit.PackVariable(name, fmt.Sprintf(
			"if !evcxr_variable_store.check_variable::<%s>(%q) {\nreturn evcxr_variable_store_ptr;\n}\n",
			v.TypeName, name)+fmt.Sprintf(
			"let %s%s: %s = evcxr_variable_store.take_variable(%q);\n",
			mut, name, v.TypeName, name))
	}

	catch := opts.CatchPanic
	qmark := catch && s.Config.AllowQuestionMark
	async := s.Config.AsyncMode

	if catch {
		if qmark {
			unit.Generated("let evcxr_unwind_result = std::panic::catch_unwind(std::panic::AssertUnwindSafe(" +
				"|| -> std::result::Result<(), std::boxed::Box<dyn std::error::Error>> {\n")
		} else {
			unit.Generated("let evcxr_unwind_result = std::panic::catch_unwind(std::panic::AssertUnwindSafe(|| {\n")
		}
	}
	if async {
		unit.Generated("let evcxr_async_runtime = tokio::runtime::Builder::new_current_thread().enable_all().build().unwrap();\n" +
			"evcxr_async_runtime.block_on(async {\n")
	}

	displayExpr := s.Config.DisplayFinalExpression && !opts.SuppressFinalDisplay
	var wrapper *code.Segment
	if !opts.AnalysisMode {
		bodySegs, wrapper = s.splitFinalExpression(bodySegs, info, displayExpr)
	}
	for _, seg := range bodySegs {
		unit.Add(seg)
	}
	if wrapper != nil {
		unit.Add(wrapper)
	}

	for _, name := range s.newVariableNames() {
		unit.PackVariable(name, fmt.Sprintf("evcxr_variable_store.put_variable(%q, %s);\n", name, name))
	}

	if async {
		if qmark {
			unit.Generated("std::result::Result::Ok(())\n})\n")
		} else {
			unit.Generated("});\n")
		}
	} else if qmark {
		unit.Generated("std::result::Result::Ok(())\n")
	}
	if catch {
		unit.Generated("}));\n")
	}

	for _, name := range unpackNames {
		if s.noRepack[name] {
			continue
		}
		unit.PackVariable(name, fmt.Sprintf("evcxr_variable_store.put_variable(%q, %s);\n", name, name))
	}

	if catch {
		if qmark {
			efmt := s.Config.ErrorFormat
			if efmt == "" {
				efmt = "{:?}"
			}
			unit.Generated("if let std::result::Result::Ok(std::result::Result::Err(evcxr_user_error)) = &evcxr_unwind_result {\n" +
				fmt.Sprintf("evcxr_variable_store.notify_error_text(&format!(%q, &**evcxr_user_error));\n}\n", efmt))
		}
		unit.Generated("if let std::result::Result::Err(evcxr_panic_payload) = evcxr_unwind_result {\n" +
			"internal_runtime::notify_panic(evcxr_panic_payload);\n" +
			"return std::ptr::null_mut();\n}\n")
	}
	unit.Generated("evcxr_variable_store_ptr\n}\n")

	fp := s.fingerprint(unit)
	symbol := "run_user_code_" + fp[:8]
	for _, seg := range unit.Segments {
		if seg.Kind.Tag == code.TagOtherGeneratedCode && strings.Contains(seg.Text, symbolPlaceholder) {
			seg.Text = strings.Replace(seg.Text, symbolPlaceholder, symbol, 1)
			break
		}
	}

	return &Unit{
		Block:       unit,
		PosMap:      buildPosMap(unit),
		Symbol:      symbol,
		Fingerprint: fp,
	}, nil
}

// unpackableNames lists committed variables to restore at the top of the
// unit, skipping names the submission redefines.
func (s *ContextState) unpackableNames() []string {
	var out []string
	for name := range s.storedVariableStates {
		if v, ok := s.variableStates[name]; ok && v.MoveState == MoveStateNew {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// newVariableNames lists variables the submission defines, to pack inside
// the execution boundary.
func (s *ContextState) newVariableNames() []string {
	var out []string
	for name, v := range s.variableStates {
		if v.MoveState == MoveStateNew {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// splitFinalExpression detaches a trailing bare expression from the last
// body segment. With display on it builds a display wrapper whose fallback
// is the expression alone, so values without a Debug impl still evaluate.
// With display off the expression is terminated with a semicolon so the
// pack statements that follow stay valid. Returns the body segments to
// emit and the trailing segment, or nil when there is no trailing
// expression.
func (s *ContextState) splitFinalExpression(bodySegs []*code.Segment, info *code.UserCodeInfo, display bool) ([]*code.Segment, *code.Segment) {
	if len(bodySegs) == 0 {
		return bodySegs, nil
	}
	last := bodySegs[len(bodySegs)-1]
	stmts := info.Statements(last.Sequence)
	var expr *code.Statement
	for i := len(stmts) - 1; i >= 0; i-- {
		if stmts[i].Kind == code.StmtEmpty {
			continue
		}
		if stmts[i].Kind == code.StmtExpr {
			expr = &stmts[i]
		}
		break
	}
	if expr == nil {
		return bodySegs, nil
	}

	cut := expr.StartByte - last.Kind.Meta.StartByte
	if cut < 0 || cut > len(last.Text) {
		return bodySegs, nil
	}
	exprText := strings.TrimRight(last.Text[cut:], " \t\n")
	if exprText == "" {
		return bodySegs, nil
	}

	out := bodySegs[:len(bodySegs)-1]
	if head := last.Text[:cut]; head != "" {
		trimmed := code.NewSegment(last.Kind, head)
		trimmed.Sequence = last.Sequence
		out = append(out, trimmed)
	}

	exprMeta := code.UserCodeMeta{
		StartByte:   expr.StartByte,
		StartLine:   expr.StartLine,
		StartColumn: expr.StartColumn,
	}
	if !display {
		out = append(out, code.NewSegment(code.OriginalUserCode(exprMeta), exprText+";"))
		return out, nil
	}
	fallback := code.NewBlock()
	fallback.Add(code.NewSegment(code.OriginalUserCode(exprMeta), exprText+";"))

	displayFn := "display_debug"
	if s.Config.DisplayTypes {
		displayFn = "display_debug_typed"
	}
	wrapper := code.NewSegment(code.WithFallback(fallback),
		fmt.Sprintf("evcxr_variable_store.%s(&(%s));", displayFn, exprText))
	return out, wrapper
}

// buildPosMap records unit-to-user correspondences for every segment that
// still carries original offsets.
func buildPosMap(unit *code.Block) *code.PosMap {
	pm := &code.PosMap{}
	line := 1
	byteOff := 0
	for _, seg := range unit.Segments {
		if seg.Kind.Tag == code.TagOriginalUserCode {
			pm.Add(code.Mapping{
				UnitStartLine: line,
				UserStartLine: seg.Kind.Meta.StartLine,
				LineCount:     seg.NumLines,
				UnitStartByte: byteOff,
				UserStartByte: seg.Kind.Meta.StartByte,
				ByteLen:       len(seg.Text),
			})
		}
		line += seg.NumLines
		byteOff += len(seg.Text)
	}
	return pm
}

// fingerprint hashes everything that determines the compiled artifact.
func (s *ContextState) fingerprint(unit *code.Block) string {
	h := sha256.New()
	h.Write([]byte(unit.Code()))
	fmt.Fprintf(h, "opt=%s;edition=%s;async=%t;qmark=%t;toolchain=%s;",
		s.Config.OptLevel, s.Config.Edition, s.Config.AsyncMode,
		s.Config.AllowQuestionMark, s.Config.Toolchain)
	for _, dep := range s.Deps() {
		fmt.Fprintf(h, "dep=%s:%s;", dep.Name, dep.Config)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
