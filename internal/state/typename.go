package state

import (
	"fmt"
	"strings"
)

// NormalizeTypeName rewrites a runtime-reported type name into one that can
// be written in source. The runtime reports fully qualified paths rooted in
// the internal crates `alloc` and `core`; those paths are not importable, so
// they are rewritten to their `std` re-exports.
func NormalizeTypeName(typeName string) string {
	typeName = strings.TrimSpace(typeName)
	out := replaceCrateRoot(typeName, "alloc::", "std::")
	out = replaceCrateRoot(out, "core::", "std::")
	return out
}

// replaceCrateRoot swaps a crate-root prefix everywhere it starts a path:
// at the beginning of the name or after a non-identifier character. It never
// rewrites mid-identifier (e.g. `my_alloc::T` stays untouched).
func replaceCrateRoot(s, from, to string) string {
	var sb strings.Builder
	for {
		idx := strings.Index(s, from)
		if idx < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		if idx > 0 && isIdentRune(rune(s[idx-1])) {
			sb.WriteString(s[:idx+len(from)])
			s = s[idx+len(from):]
			continue
		}
		sb.WriteString(s[:idx])
		sb.WriteString(to)
		s = s[idx+len(from):]
	}
}

// CheckNameable rejects types that cannot be re-stated in source. Closures
// and other compiler-internal types render with braces in their reported
// name (`{{closure}}`, `{unknown}`); a variable of such a type cannot be
// unpacked on the next submission, so it must not be committed. An empty
// name means the runtime never reported one, which is just as fatal.
func CheckNameable(varName, typeName string) error {
	if typeName == "" {
		return fmt.Errorf(
			"The type of the variable `%s` could not be determined. "+
				"Give it an explicit type annotation and try again.", varName)
	}
	if strings.ContainsAny(typeName, "{}") {
		return fmt.Errorf(
			"The variable `%s` has type `%s`, which cannot be persisted.\n"+
				"You can try wrapping your code in braces so the variable goes out of scope before the end of the submission,\n"+
				"or, for a closure, box it: `let %s: Box<dyn Fn(...)> = Box::new(...);`",
			varName, typeName, varName)
	}
	return nil
}

// BoxingSuggestion is the hint attached to hard failures where a variable
// cannot be persisted because its recorded type does not match the value's
// actual type.
func BoxingSuggestion(varName string) string {
	return fmt.Sprintf("The variable `%s` has a type that cannot be persisted as written. "+
		"Try giving it an explicit type annotation, or boxing it as a trait object "+
		"(`let %s: Box<dyn Trait> = Box::new(...);`).", varName, varName)
}
