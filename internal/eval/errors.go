package eval

import (
	"fmt"
	"strings"

	"rivet/internal/diag"
)

// CompileFailure carries the compiler errors of a failed submission after
// all automatic fixups were exhausted.
type CompileFailure struct {
	Errors []*diag.CompilationError
}

func (e *CompileFailure) Error() string {
	if len(e.Errors) == 0 {
		return "compilation failed"
	}
	first := e.Errors[0].Message()
	if len(e.Errors) == 1 {
		return first
	}
	return fmt.Sprintf("%s (and %d more errors)", first, len(e.Errors)-1)
}

// SubprocessTerminated reports that the worker process died during an
// execution. The worker is restarted, but every variable lived in its
// memory and is gone.
type SubprocessTerminated struct {
	Message string
}

func (e *SubprocessTerminated) Error() string {
	if e.Message == "" {
		return "the child process terminated; variables are lost"
	}
	return e.Message
}

// PanicError reports that the submitted code panicked. The panic message
// itself went to the session's error stream.
type PanicError struct {
	Message string
}

func (e *PanicError) Error() string {
	if e.Message == "" {
		return "code panicked"
	}
	return e.Message
}

// RuntimeError reports that the submitted code returned an error value.
type RuntimeError struct {
	Message string
}

func (e *RuntimeError) Error() string {
	if e.Message == "" {
		return "code returned an error"
	}
	return e.Message
}

// VariablesLost reports variables whose stored type no longer matched at
// run time, after the retry budget ran out.
type VariablesLost struct {
	Names []string
}

func (e *VariablesLost) Error() string {
	return fmt.Sprintf("lost variables: %s", strings.Join(e.Names, ", "))
}
