package code

import (
	"strings"
	"unicode/utf8"
)

// StmtKind classifies a top-level statement just enough to decide where it
// goes in the synthesized unit and which bindings it introduces. This is not
// a parser; nesting, strings and comments are tracked only so that statement
// boundaries and leading keywords are found reliably.
type StmtKind uint8

const (
	// StmtOther is any statement we run inside the wrapper body.
	StmtOther StmtKind = iota
	// StmtItem is a named or unnamed item (fn, struct, impl, ...).
	StmtItem
	// StmtLet is a let binding.
	StmtLet
	// StmtUse is a use declaration.
	StmtUse
	// StmtExternCrate is an extern crate declaration.
	StmtExternCrate
	// StmtExpr is a trailing expression without a semicolon.
	StmtExpr
	// StmtEmpty is whitespace/comments only.
	StmtEmpty
)

// Binding is one variable introduced by a let statement.
type Binding struct {
	Name    string
	Mutable bool
}

// Statement is one scanned top-level statement with its exact source bytes.
type Statement struct {
	Text        string
	StartByte   int
	StartLine   int
	StartColumn int
	Kind        StmtKind
	// ItemKeyword and ItemName are set for StmtItem. ItemName is empty for
	// unnamed items (impl blocks).
	ItemKeyword string
	ItemName    string
	// Bindings is set for StmtLet.
	Bindings []Binding
	// EndsWithSemi reports whether the statement was terminated by ';'.
	EndsWithSemi bool
}

type scanner struct {
	src  string
	pos  int
	line int
	col  int
}

func newScanner(src string, startLine, startColumn int) *scanner {
	return &scanner{src: src, line: startLine, col: startColumn}
}

func (s *scanner) eof() bool { return s.pos >= len(s.src) }

func (s *scanner) peek() byte {
	if s.eof() {
		return 0
	}
	return s.src[s.pos]
}

func (s *scanner) peekAt(off int) byte {
	if s.pos+off >= len(s.src) {
		return 0
	}
	return s.src[s.pos+off]
}

// advance moves forward one byte, maintaining line/column. Columns count
// Unicode scalar values, so continuation bytes do not advance the column.
func (s *scanner) advance() {
	if s.eof() {
		return
	}
	ch := s.src[s.pos]
	s.pos++
	if ch == '\n' {
		s.line++
		s.col = 1
	} else if ch&0xc0 != 0x80 {
		s.col++
	}
}

func (s *scanner) advanceN(n int) {
	for i := 0; i < n; i++ {
		s.advance()
	}
}

// skipLineComment consumes from "//" to (and including) the newline.
func (s *scanner) skipLineComment() {
	for !s.eof() && s.peek() != '\n' {
		s.advance()
	}
	if !s.eof() {
		s.advance()
	}
}

// skipBlockComment consumes a possibly nested "/* ... */".
func (s *scanner) skipBlockComment() {
	depth := 0
	for !s.eof() {
		if s.peek() == '/' && s.peekAt(1) == '*' {
			depth++
			s.advanceN(2)
			continue
		}
		if s.peek() == '*' && s.peekAt(1) == '/' {
			depth--
			s.advanceN(2)
			if depth == 0 {
				return
			}
			continue
		}
		s.advance()
	}
}

// skipString consumes a normal string literal starting at '"'.
func (s *scanner) skipString() {
	s.advance() // opening quote
	for !s.eof() {
		switch s.peek() {
		case '\\':
			s.advanceN(2)
		case '"':
			s.advance()
			return
		default:
			s.advance()
		}
	}
}

// skipRawString consumes r"..." / r#"..."# with any number of hashes.
// Called with the cursor on 'r'.
func (s *scanner) skipRawString() {
	s.advance() // 'r'
	hashes := 0
	for s.peek() == '#' {
		hashes++
		s.advance()
	}
	if s.peek() != '"' {
		return
	}
	s.advance()
	closing := `"` + strings.Repeat("#", hashes)
	for !s.eof() {
		if strings.HasPrefix(s.src[s.pos:], closing) {
			s.advanceN(len(closing))
			return
		}
		s.advance()
	}
}

// skipCharOrLifetime disambiguates 'a' (char) from 'a (lifetime). Called with
// the cursor on the quote.
func (s *scanner) skipCharOrLifetime() {
	if s.peekAt(1) == '\\' {
		// escaped char literal
		s.advance() // quote
		s.advance() // backslash
		s.advance() // escaped byte
		for !s.eof() && s.peek() != '\'' {
			s.advance()
		}
		if !s.eof() {
			s.advance()
		}
		return
	}
	// 'x' is a char literal only if a closing quote follows one scalar value.
	i := s.pos + 1
	if i < len(s.src) {
		_, size := utf8.DecodeRuneInString(s.src[i:])
		if i+size < len(s.src) && s.src[i+size] == '\'' {
			s.advanceN(1 + size + 1)
			return
		}
	}
	// lifetime: consume just the quote, the identifier is scanned normally
	s.advance()
}

func isIdentByte(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') || ch >= 0x80
}

func isIdentStartByte(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch >= 0x80
}

// ScanStatements partitions src into top-level statements. The concatenation
// of the returned statements' Text is exactly src. startByte/startLine/
// startColumn locate src within the original input.
func ScanStatements(src string, startByte, startLine, startColumn int) []Statement {
	sc := newScanner(src, startLine, startColumn)
	var out []Statement
	for !sc.eof() {
		stmt := sc.scanStatement(startByte)
		if stmt.Text == "" {
			break
		}
		classify(&stmt)
		out = append(out, stmt)
	}
	// A trailing run of whitespace/comments scans as its own statement; mark
	// the true last code statement as the expression candidate instead.
	markTrailingExpression(out)
	return out
}

func markTrailingExpression(stmts []Statement) {
	for i := len(stmts) - 1; i >= 0; i-- {
		st := &stmts[i]
		if st.Kind == StmtEmpty {
			continue
		}
		if st.Kind == StmtOther && !st.EndsWithSemi && exprCandidate(st.Text) {
			st.Kind = StmtExpr
		}
		return
	}
}

// exprCandidate rejects block statements that are conventionally run for
// effect rather than value.
func exprCandidate(text string) bool {
	first := firstToken(stripAttributes(text))
	switch first {
	case "for", "while", "loop", "unsafe":
		return false
	}
	return strings.TrimSpace(text) != ""
}

var blockFormKeywords = map[string]bool{
	"fn": true, "struct": true, "enum": true, "union": true, "trait": true,
	"impl": true, "mod": true, "unsafe": true, "for": true, "while": true,
	"loop": true, "if": true, "match": true, "macro_rules": true, "macro": true,
	"async": true, "extern": true, "pub": true,
}

// scanStatement consumes one statement including, when the statement ends a
// line, its trailing whitespace through the newline.
func (s *scanner) scanStatement(baseByte int) Statement {
	start := s.pos
	stmt := Statement{
		StartByte:   baseByte + s.pos,
		StartLine:   s.line,
		StartColumn: s.col,
	}
	depth := 0
	endsWithSemi := false
	done := false

	for !s.eof() && !done {
		ch := s.peek()
		switch {
		case ch == '/' && s.peekAt(1) == '/':
			// comments attach to the statement they precede
			s.skipLineComment()
			continue
		case ch == '/' && s.peekAt(1) == '*':
			s.skipBlockComment()
			continue
		case ch == '"':
			s.skipString()
			continue
		case ch == 'r' && (s.peekAt(1) == '"' || s.peekAt(1) == '#') && !s.prevIsIdent(start):
			s.skipRawString()
			continue
		case ch == 'b' && s.peekAt(1) == '"' && !s.prevIsIdent(start):
			s.advance()
			s.skipString()
			continue
		case ch == '\'':
			s.skipCharOrLifetime()
			continue
		case ch == '(' || ch == '[':
			depth++
			s.advance()
			continue
		case ch == ')' || ch == ']':
			if depth > 0 {
				depth--
			}
			s.advance()
			continue
		case ch == '{':
			depth++
			s.advance()
			continue
		case ch == '}':
			if depth > 0 {
				depth--
			}
			s.advance()
			if depth == 0 && s.statementEndsAtBrace(start) {
				done = true
			}
			continue
		case ch == ';':
			s.advance()
			if depth == 0 {
				endsWithSemi = true
				done = true
			}
			continue
		default:
			s.advance()
			continue
		}
	}

	// extend through trailing spaces and the newline so that statements that
	// end a line own the whole line
	for !s.eof() && (s.peek() == ' ' || s.peek() == '\t' || s.peek() == '\r') {
		s.advance()
	}
	if !s.eof() && s.peek() == '\n' {
		s.advance()
	}

	stmt.Text = s.src[start:s.pos]
	stmt.EndsWithSemi = endsWithSemi
	return stmt
}

func isSpaceByte(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

// prevIsIdent reports whether the byte before the cursor continues an
// identifier, which rules out raw-string/byte-string prefixes.
func (s *scanner) prevIsIdent(start int) bool {
	if s.pos <= start {
		return false
	}
	return isIdentByte(s.src[s.pos-1])
}

// statementEndsAtBrace decides whether a depth-0 closing brace terminates the
// current statement. Block-form statements (items, control flow) end there
// unless continued by else / method chains.
func (s *scanner) statementEndsAtBrace(start int) bool {
	first := firstToken(stripAttributes(s.src[start:s.pos]))
	if !blockFormKeywords[first] && first != "{" {
		return false
	}
	// peek past trivia for a continuation token
	i := s.pos
	for i < len(s.src) {
		switch {
		case isSpaceByte(s.src[i]):
			i++
		case s.src[i] == '/' && i+1 < len(s.src) && s.src[i+1] == '/':
			for i < len(s.src) && s.src[i] != '\n' {
				i++
			}
		default:
			rest := s.src[i:]
			if strings.HasPrefix(rest, "else") || strings.HasPrefix(rest, ".") ||
				strings.HasPrefix(rest, "?") {
				return false
			}
			return true
		}
	}
	return true
}

// stripAttributes removes leading whitespace, comments and #[...] attributes.
func stripAttributes(text string) string {
	for {
		trimmed := strings.TrimLeft(text, " \t\r\n")
		switch {
		case strings.HasPrefix(trimmed, "//"):
			idx := strings.IndexByte(trimmed, '\n')
			if idx < 0 {
				return ""
			}
			text = trimmed[idx+1:]
		case strings.HasPrefix(trimmed, "/*"):
			idx := strings.Index(trimmed, "*/")
			if idx < 0 {
				return ""
			}
			text = trimmed[idx+2:]
		case strings.HasPrefix(trimmed, "#!["), strings.HasPrefix(trimmed, "#["):
			depth := 0
			i := strings.IndexByte(trimmed, '[')
			for ; i < len(trimmed); i++ {
				if trimmed[i] == '[' {
					depth++
				} else if trimmed[i] == ']' {
					depth--
					if depth == 0 {
						i++
						break
					}
				}
			}
			text = trimmed[i:]
		default:
			return trimmed
		}
	}
}

func firstToken(text string) string {
	i := 0
	for i < len(text) && !isIdentStartByte(text[i]) {
		if text[i] == '{' {
			return "{"
		}
		i++
	}
	j := i
	for j < len(text) && isIdentByte(text[j]) {
		j++
	}
	return text[i:j]
}

func tokenList(text string, n int) []string {
	var out []string
	rest := text
	for len(out) < n {
		rest = strings.TrimLeft(rest, " \t\r\n")
		if rest == "" {
			break
		}
		if isIdentStartByte(rest[0]) {
			j := 0
			for j < len(rest) && isIdentByte(rest[j]) {
				j++
			}
			out = append(out, rest[:j])
			rest = rest[j:]
		} else {
			out = append(out, rest[:1])
			rest = rest[1:]
		}
	}
	return out
}

func classify(stmt *Statement) {
	body := stripAttributes(stmt.Text)
	if strings.TrimSpace(body) == "" {
		stmt.Kind = StmtEmpty
		return
	}
	toks := tokenList(body, 4)
	first := toks[0]
	visOffset := 0
	if first == "pub" {
		// skip pub and an optional (crate)/(super)/(in path) restriction
		visOffset = 1
		if len(toks) > 1 && toks[1] == "(" {
			// re-tokenize past the closing paren
			idx := strings.IndexByte(body, ')')
			if idx >= 0 {
				toks = append([]string{"pub"}, tokenList(body[idx+1:], 3)...)
			}
		}
		if len(toks) > visOffset {
			first = toks[visOffset]
		}
	}
	kw := first
	if kw == "unsafe" || kw == "async" {
		if len(toks) > visOffset+1 {
			kw = toks[visOffset+1]
			visOffset++
		}
	}
	if kw == "extern" {
		// extern crate vs extern "C" fn vs extern block
		if len(toks) > visOffset+1 && toks[visOffset+1] == "crate" {
			stmt.Kind = StmtExternCrate
			if len(toks) > visOffset+2 {
				stmt.ItemName = toks[visOffset+2]
			}
			return
		}
		stmt.Kind = StmtItem
		stmt.ItemKeyword = "extern"
		return
	}
	switch kw {
	case "use":
		stmt.Kind = StmtUse
	case "let":
		stmt.Kind = StmtLet
		stmt.Bindings = parseLetBindings(body)
	case "fn", "struct", "enum", "union", "trait", "mod", "type", "const", "static", "macro", "macro_rules":
		stmt.Kind = StmtItem
		stmt.ItemKeyword = kw
		stmt.ItemName = itemName(body, kw)
	case "impl":
		stmt.Kind = StmtItem
		stmt.ItemKeyword = "impl"
	default:
		stmt.Kind = StmtOther
	}
}

// itemName extracts the identifier following the item keyword.
func itemName(body, keyword string) string {
	idx := strings.Index(body, keyword)
	if idx < 0 {
		return ""
	}
	rest := body[idx+len(keyword):]
	if keyword == "macro_rules" {
		rest = strings.TrimLeft(rest, " \t!")
	}
	rest = strings.TrimLeft(rest, " \t\r\n")
	j := 0
	for j < len(rest) && isIdentByte(rest[j]) {
		j++
	}
	return rest[:j]
}

// parseLetBindings extracts bindings from a let statement. Plain identifier
// patterns and tuples of identifiers are understood; anything fancier yields
// no bindings, which means those variables simply are not persisted.
func parseLetBindings(body string) []Binding {
	idx := strings.Index(body, "let")
	if idx < 0 {
		return nil
	}
	rest := strings.TrimLeft(body[idx+3:], " \t\r\n")
	var pattern string
	for i := 0; i < len(rest); i++ {
		if rest[i] == '=' || rest[i] == ':' || rest[i] == ';' {
			pattern = rest[:i]
			break
		}
	}
	if pattern == "" {
		pattern = rest
	}
	pattern = strings.TrimSpace(pattern)
	pattern = strings.TrimPrefix(pattern, "(")
	pattern = strings.TrimSuffix(pattern, ")")
	var out []Binding
	for _, part := range strings.Split(pattern, ",") {
		part = strings.TrimSpace(part)
		mutable := false
		if strings.HasPrefix(part, "mut ") {
			mutable = true
			part = strings.TrimSpace(strings.TrimPrefix(part, "mut "))
		}
		if part == "" || part == "_" || !validIdent(part) {
			continue
		}
		out = append(out, Binding{Name: part, Mutable: mutable})
	}
	return out
}

func validIdent(s string) bool {
	if s == "" || !isIdentStartByte(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}
