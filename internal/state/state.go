// Package state holds the accumulated facts of an evaluation session: which
// variables exist and with what types, which items have been defined, which
// external dependencies are registered, and the compile-time configuration.
// A session keeps one committed ContextState; every submission works on a
// clone and only a successful execution replaces the committed instance.
package state

import (
	"fmt"
	"sort"
	"strings"

	"rivet/internal/code"
)

// MoveState tracks whether a variable has survived at least one execution.
type MoveState int

const (
	// MoveStateNew marks a variable defined by code that has not yet run to
	// completion. It dies with a panic or a failed attempt.
	MoveStateNew MoveState = iota
	// MoveStateAvailable marks a variable confirmed to live in the worker's
	// variable store.
	MoveStateAvailable
)

// VariableState describes one persisted variable.
type VariableState struct {
	Name      string
	TypeName  string
	Mutable   bool
	MoveState MoveState
	// DefSpan is the defining statement's span in the submission that
	// introduced the variable. Cleared on commit.
	DefSpan *code.UserCodeMeta
}

// ExternalCrate is a registered dependency: a crate name plus the manifest
// fragment that configures it (a bare version string or an inline table).
type ExternalCrate struct {
	Name   string
	Config string
}

// Config carries the per-session compile and display settings. It survives
// Clear.
type Config struct {
	AsyncMode              bool
	AllowQuestionMark      bool
	PreserveVarsOnPanic    bool
	DisplayFinalExpression bool
	DisplayTypes           bool

	OptLevel string
	Edition  string
	// ErrorFormat is the format spec applied to error values the code
	// returns, e.g. "{}", "{:?}" or "{:#?}".
	ErrorFormat string
	Offline     bool
	Toolchain   string
}

// DefaultConfig returns the settings a fresh session starts with.
func DefaultConfig() Config {
	return Config{
		PreserveVarsOnPanic:    true,
		DisplayFinalExpression: true,
		OptLevel:               "2",
		Edition:                "2021",
		ErrorFormat:            "{:?}",
	}
}

// ContextState is the session's accumulated program state.
type ContextState struct {
	Config Config

	itemOrder    []string
	itemsByName  map[string]*code.Block
	unnamedItems []*code.Block

	externalDeps     map[string]ExternalCrate
	externCrateStmts map[string]string
	imports          *importSet

	variableStates       map[string]*VariableState
	storedVariableStates map[string]*VariableState
	// noRepack marks variables the current submission moves: they are
	// still restored so the code compiles, but not stored back, and they
	// are forgotten at commit.
	noRepack map[string]bool

	buildNum int
}

// New returns an empty state with the given configuration.
func New(cfg Config) *ContextState {
	return &ContextState{
		Config:               cfg,
		itemsByName:          map[string]*code.Block{},
		externalDeps:         map[string]ExternalCrate{},
		externCrateStmts:     map[string]string{},
		imports:              newImportSet(),
		variableStates:       map[string]*VariableState{},
		storedVariableStates: map[string]*VariableState{},
		noRepack:             map[string]bool{},
	}
}

// Clone deep-copies the state so a submission can mutate a working copy
// without touching the committed instance.
func (s *ContextState) Clone() *ContextState {
	out := &ContextState{
		Config:               s.Config,
		itemOrder:            append([]string(nil), s.itemOrder...),
		itemsByName:          make(map[string]*code.Block, len(s.itemsByName)),
		unnamedItems:         make([]*code.Block, len(s.unnamedItems)),
		externalDeps:         make(map[string]ExternalCrate, len(s.externalDeps)),
		externCrateStmts:     make(map[string]string, len(s.externCrateStmts)),
		imports:              s.imports.clone(),
		variableStates:       make(map[string]*VariableState, len(s.variableStates)),
		storedVariableStates: make(map[string]*VariableState, len(s.storedVariableStates)),
		noRepack:             make(map[string]bool, len(s.noRepack)),
		buildNum:             s.buildNum,
	}
	for name := range s.noRepack {
		out.noRepack[name] = true
	}
	for name, block := range s.itemsByName {
		out.itemsByName[name] = block.Clone()
	}
	for i, block := range s.unnamedItems {
		out.unnamedItems[i] = block.Clone()
	}
	for name, dep := range s.externalDeps {
		out.externalDeps[name] = dep
	}
	for name, stmt := range s.externCrateStmts {
		out.externCrateStmts[name] = stmt
	}
	for name, v := range s.variableStates {
		copied := *v
		out.variableStates[name] = &copied
	}
	for name, v := range s.storedVariableStates {
		copied := *v
		out.storedVariableStates[name] = &copied
	}
	return out
}

// Clear drops all accumulated program state while keeping configuration.
func (s *ContextState) Clear() {
	s.itemOrder = nil
	s.itemsByName = map[string]*code.Block{}
	s.unnamedItems = nil
	s.externalDeps = map[string]ExternalCrate{}
	s.externCrateStmts = map[string]string{}
	s.imports = newImportSet()
	s.variableStates = map[string]*VariableState{}
	s.storedVariableStates = map[string]*VariableState{}
	s.noRepack = map[string]bool{}
}

// AddDep registers an external dependency. Re-registering a name replaces
// its configuration.
func (s *ContextState) AddDep(name, config string) {
	s.externalDeps[name] = ExternalCrate{Name: name, Config: config}
}

// Deps returns the registered dependencies sorted by name.
func (s *ContextState) Deps() []ExternalCrate {
	out := make([]ExternalCrate, 0, len(s.externalDeps))
	for _, dep := range s.externalDeps {
		out = append(out, dep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HasDep reports whether a dependency is already registered.
func (s *ContextState) HasDep(name string) bool {
	_, ok := s.externalDeps[name]
	return ok
}

func (s *ContextState) addExternCrate(name, stmt string) {
	s.externCrateStmts[name] = stmt
}

func (s *ContextState) addItem(name string, block *code.Block) {
	if _, exists := s.itemsByName[name]; !exists {
		s.itemOrder = append(s.itemOrder, name)
	}
	s.itemsByName[name] = block
}

func (s *ContextState) addUnnamedItem(block *code.Block) {
	s.unnamedItems = append(s.unnamedItems, block)
}

// DefinedItemNames returns the names of all named items in definition order.
func (s *ContextState) DefinedItemNames() []string {
	return append([]string(nil), s.itemOrder...)
}

// VariablesAndTypes lists committed variables as name/type pairs, sorted by
// name.
func (s *ContextState) VariablesAndTypes() [][2]string {
	var out [][2]string
	for name, v := range s.storedVariableStates {
		out = append(out, [2]string{name, v.TypeName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Variable returns the working state for a variable, or nil.
func (s *ContextState) Variable(name string) *VariableState {
	return s.variableStates[name]
}

// DropVariable removes a variable from the working state entirely.
func (s *ContextState) DropVariable(name string) {
	delete(s.variableStates, name)
	delete(s.storedVariableStates, name)
}

// DisableVariablePreservation marks a variable the submission moves out
// of. It stays restored for this compile, is not stored back, and drops
// out of the state at commit.
func (s *ContextState) DisableVariablePreservation(name string) {
	s.noRepack[name] = true
}

// ClearNewVariables removes every variable still marked New, as after a
// panic: their construction did not complete.
func (s *ContextState) ClearNewVariables() {
	for name, v := range s.variableStates {
		if v.MoveState == MoveStateNew {
			delete(s.variableStates, name)
		}
	}
}

// ClearAllVariables forgets every variable, as after a worker crash: the
// store lived in the dead process.
func (s *ContextState) ClearAllVariables() {
	s.variableStates = map[string]*VariableState{}
	s.storedVariableStates = map[string]*VariableState{}
}

// RecordVariableType stores the runtime-reported type for a variable. The
// reported name is normalized before storage.
func (s *ContextState) RecordVariableType(name, typeName string) {
	v, ok := s.variableStates[name]
	if !ok {
		return
	}
	v.TypeName = NormalizeTypeName(typeName)
}

// Commit finalizes a successful execution: every variable present in the
// working set becomes Available, transient definition spans are cleared, and
// the stored set becomes an exact copy of the working set. Committing twice
// without an intervening submission changes nothing the second time.
//
// Commit fails, changing nothing, if any variable's recorded type cannot be
// re-stated in source (closures and other unnameable types).
func (s *ContextState) Commit() error {
	for name, v := range s.variableStates {
		if err := CheckNameable(name, v.TypeName); err != nil {
			return err
		}
	}
	for name := range s.noRepack {
		delete(s.variableStates, name)
	}
	s.noRepack = map[string]bool{}
	s.storedVariableStates = map[string]*VariableState{}
	for name, v := range s.variableStates {
		v.MoveState = MoveStateAvailable
		v.DefSpan = nil
		copied := *v
		s.storedVariableStates[name] = &copied
	}
	return nil
}

// absorb records the persistent effects of a split submission: item
// definitions, use statements, extern crate statements, and let bindings.
// It is called during synthesis on the working state.
func (s *ContextState) absorb(info *code.UserCodeInfo, block *code.Block) error {
	for _, seg := range block.UserSegments() {
		stmts := info.Statements(seg.Sequence)
		for _, stmt := range stmts {
			switch stmt.Kind {
			case code.StmtItem:
				itemBlock := code.NewBlock()
				itemBlock.Add(code.NewSegment(code.OtherUserCode(), stmt.Text))
				if stmt.ItemName != "" {
					s.addItem(stmt.ItemName, itemBlock)
				} else {
					s.addUnnamedItem(itemBlock)
				}
			case code.StmtUse:
				if err := s.imports.add(stmt.Text); err != nil {
					return fmt.Errorf("registering import: %w", err)
				}
			case code.StmtExternCrate:
				name := externCrateName(stmt.Text)
				if name != "" {
					s.addExternCrate(name, stmt.Text)
					if !s.HasDep(name) && name != "core" && name != "alloc" {
						s.AddDep(strings.ReplaceAll(name, "_", "-"), `"*"`)
					}
				}
			case code.StmtLet:
				for _, b := range stmt.Bindings {
					meta := code.UserCodeMeta{
						StartByte:   stmt.StartByte,
						StartLine:   stmt.StartLine,
						StartColumn: stmt.StartColumn,
					}
					s.variableStates[b.Name] = &VariableState{
						Name:      b.Name,
						Mutable:   b.Mutable,
						MoveState: MoveStateNew,
						DefSpan:   &meta,
					}
				}
			}
		}
	}
	return nil
}

func externCrateName(stmt string) string {
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(stmt), "extern crate"))
	for i, r := range rest {
		if !isIdentRune(r) {
			rest = rest[:i]
			break
		}
	}
	return strings.TrimSpace(rest)
}

func isIdentRune(r rune) bool {
	return r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}
