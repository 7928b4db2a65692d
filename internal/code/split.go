package code

import "strings"

// UserCodeInfo carries everything the rest of the pipeline needs to map
// synthesized-unit positions back onto the user's original input.
type UserCodeInfo struct {
	OriginalText  string
	OriginalLines []string
	// StatementsBySequence holds the scanned statements of each original
	// user segment, keyed by the segment's sequence id.
	StatementsBySequence map[int][]Statement
}

// Statements returns the scanned statements for a segment, or nil.
func (info *UserCodeInfo) Statements(sequence int) []Statement {
	if info == nil {
		return nil
	}
	return info.StatementsBySequence[sequence]
}

// placement decides where a segment's statements land in the synthesized
// unit.
type Placement uint8

const (
	placeBody Placement = iota
	placeItem
	placeUse
	placeExternCrate
)

func placementOf(kind StmtKind) Placement {
	switch kind {
	case StmtItem:
		return placeItem
	case StmtUse:
		return placeUse
	case StmtExternCrate:
		return placeExternCrate
	default:
		return placeBody
	}
}

// Split scans raw user input into a block of provenance-tagged segments.
//
// Lines matching the command syntax (":name args") before the first
// substantive code line become command segments. Blank and //-comment lines
// are skipped during this scan without ending it; the first real code line
// ends command scanning permanently, so code-level use of a colon is never
// misread as a command.
//
// The concatenation of all returned segment texts reproduces the input
// exactly (the input is first normalized to end with a newline).
func Split(raw string) (*Block, *UserCodeInfo) {
	if raw != "" && !strings.HasSuffix(raw, "\n") {
		raw += "\n"
	}
	info := &UserCodeInfo{
		OriginalText:         raw,
		OriginalLines:        splitLines(raw),
		StatementsBySequence: make(map[int][]Statement),
	}
	block := NewBlock()

	// Phase 1: command scan.
	offset := 0
	lineNumber := 0
	pendingStart := 0 // start of trivia that precedes the next command
	rest := raw
	for rest != "" {
		nl := strings.IndexByte(rest, '\n')
		var line string
		if nl < 0 {
			line = rest
		} else {
			line = rest[:nl+1]
		}
		lineNumber++
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			offset += len(line)
			rest = rest[len(line):]
			continue
		}
		call, ok := parseCommand(line, offset, lineNumber)
		if !ok {
			break
		}
		text := raw[pendingStart : offset+len(line)]
		block.Add(NewSegment(Command(call), text))
		offset += len(line)
		pendingStart = offset
		rest = rest[len(line):]
	}

	// Phase 2: everything from the first substantive line on is user code.
	body := raw[pendingStart:]
	if body == "" {
		return block, info
	}

	startLine := countLinesBefore(raw, pendingStart) + 1
	stmts := ScanStatements(body, pendingStart, startLine, 1)
	if allEmptyStatements(stmts) {
		// A whitespace/comment-only body keeps its bytes, but not as an
		// original segment: nothing here should reach the compiler.
		block.Add(NewSegment(OtherUserCode(), body))
		return block, info
	}
	sequence := 0
	var group []Statement
	var groupText strings.Builder
	flush := func() {
		if len(group) == 0 {
			return
		}
		sequence++
		first := group[0]
		seg := newSegmentWithSequence(OriginalUserCode(UserCodeMeta{
			StartByte:   first.StartByte,
			StartLine:   first.StartLine,
			StartColumn: first.StartColumn,
		}), groupText.String(), sequence)
		block.Add(seg)
		info.StatementsBySequence[sequence] = group
		group = nil
		groupText.Reset()
	}
	// One segment per statement: fixups and error attribution work on
	// segment provenance, so finer segments attribute more precisely.
	// Statements sharing a line stay together (a line maps to one
	// segment), and trailing trivia attaches to the statement before it.
	for _, stmt := range stmts {
		if len(group) > 0 && stmt.Kind != StmtEmpty && lineComplete(group[len(group)-1].Text) {
			flush()
		}
		group = append(group, stmt)
		groupText.WriteString(stmt.Text)
	}
	flush()
	return block, info
}

// lineComplete reports whether a statement's text owns its final line.
func lineComplete(text string) bool {
	return strings.HasSuffix(text, "\n")
}

func allEmptyStatements(stmts []Statement) bool {
	for _, stmt := range stmts {
		if stmt.Kind != StmtEmpty {
			return false
		}
	}
	return true
}

// SegmentPlacement returns where the statements of an original user segment
// belong in the synthesized unit. Mixed segments run in the body.
func SegmentPlacement(stmts []Statement) Placement {
	if len(stmts) == 0 {
		return placeBody
	}
	pl := placementOf(stmts[0].Kind)
	for _, st := range stmts[1:] {
		if st.Kind == StmtEmpty {
			continue
		}
		if placementOf(st.Kind) != pl {
			return placeBody
		}
	}
	return pl
}

// IsItemPlacement reports whether the placement is the item area.
func (p Placement) IsItem() bool { return p == placeItem }

// IsUse reports whether the placement is the import area.
func (p Placement) IsUse() bool { return p == placeUse }

// IsExternCrate reports whether the placement is the extern-crate area.
func (p Placement) IsExternCrate() bool { return p == placeExternCrate }

// parseCommand recognizes ":name rest-of-line". "::" (a path) is not a
// command.
func parseCommand(line string, offset, lineNumber int) (*CommandCall, bool) {
	withoutEOL := strings.TrimRight(line, "\r\n")
	indent := len(withoutEOL) - len(strings.TrimLeft(withoutEOL, " \t"))
	trimmed := withoutEOL[indent:]
	if !strings.HasPrefix(trimmed, ":") {
		return nil, false
	}
	rest := trimmed[1:]
	if rest == "" || !isIdentStartByte(rest[0]) || rest[0] >= 0x80 {
		return nil, false
	}
	j := 0
	for j < len(rest) && isIdentByte(rest[j]) && rest[j] < 0x80 {
		j++
	}
	name := rest[:j]
	args := strings.TrimSpace(rest[j:])
	return &CommandCall{
		Command:    name,
		Args:       args,
		StartByte:  offset + indent,
		LineNumber: lineNumber,
	}, true
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func countLinesBefore(text string, offset int) int {
	if offset > len(text) {
		offset = len(text)
	}
	return strings.Count(text[:offset], "\n")
}
