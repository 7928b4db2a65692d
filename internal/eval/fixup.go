package eval

import (
	"fmt"
	"strings"

	"rivet/internal/code"
	"rivet/internal/diag"
	"rivet/internal/state"
)

// fixPlan is the set of state adjustments derived from one failed compile.
// Applying a non-empty plan and retrying may turn the failure into a
// success; a hard error means no retry can help.
type fixPlan struct {
	dropVariables     []string
	suppressDisplay   bool
	enableAsync       bool
	allowQuestionMark bool
}

func (p *fixPlan) empty() bool {
	return len(p.dropVariables) == 0 && !p.suppressDisplay &&
		!p.enableAsync && !p.allowQuestionMark
}

// classifyErrors inspects each compiler error's code origins and decides
// what, if anything, to change before retrying. Error codes and segment
// provenance drive classification; the compiler's prose is never matched.
// The question-mark case additionally looks at the spanned source text,
// since E0277 covers unrelated trait-bound failures too.
func classifyErrors(errs []*diag.CompilationError, cfg state.Config) (*fixPlan, error) {
	plan := &fixPlan{}
	dropped := map[string]bool{}
	for _, e := range errs {
		codeID := e.Code()
		origins := e.CodeOrigins()
		for _, origin := range origins {
			switch origin.Tag {
			case code.TagPackVariable:
				name := origin.VariableName
				switch codeID {
				case "E0382", "E0425":
					if !dropped[name] {
						dropped[name] = true
						plan.dropVariables = append(plan.dropVariables, name)
					}
				case "E0603", "E0446":
					return nil, fmt.Errorf("the type of the variable `%s` is private. Only variables with public types can be preserved between evaluations", name)
				case "E0308":
					return nil, fmt.Errorf("%s", state.BoxingSuggestion(name))
				default:
					if codeID == "" && len(origins) == 1 {
						return nil, fmt.Errorf("%s", state.BoxingSuggestion(name))
					}
				}
			case code.TagWithFallback:
				plan.suppressDisplay = true
			case code.TagOriginalUserCode, code.TagOtherUserCode:
				switch codeID {
				case "E0728":
					if !cfg.AsyncMode {
						plan.enableAsync = true
					}
				case "E0277":
					if !cfg.AllowQuestionMark && spansQuestionMark(e) {
						plan.allowQuestionMark = true
					}
				case "E0658":
					return nil, fmt.Errorf("%s. You may need to add a semicolon to the end of the last statement", e.Message())
				}
			}
		}
	}
	return plan, nil
}

// spansQuestionMark reports whether the error's primary span covers a `?`
// operator. E0277 is a general trait-bound error; only the question-mark
// variant is fixable by the broader error-handling wrapper.
func spansQuestionMark(e *diag.CompilationError) bool {
	sm := e.PrimarySpannedMessage()
	if sm == nil || sm.Span == nil || len(sm.Lines) == 0 {
		return false
	}
	if sm.Span.StartLine != sm.Span.EndLine {
		return false
	}
	runes := []rune(sm.Lines[0])
	start, end := sm.Span.StartColumn-1, sm.Span.EndColumn-1
	if start < 0 || end > len(runes) || start >= end {
		return false
	}
	return strings.TrimSpace(string(runes[start:end])) == "?"
}
