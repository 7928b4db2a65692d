package command

import (
	"context"
	"fmt"

	"rivet/internal/code"
	"rivet/internal/diag"
	"rivet/internal/eval"
	"rivet/internal/state"
)

// Engine is the evaluation surface the command layer drives. It is
// satisfied by eval.EvalContext.
type Engine interface {
	EvalBlock(ctx context.Context, block *code.Block, info *code.UserCodeInfo, onOutput func(line string)) (*eval.Outputs, error)
	AddDep(ctx context.Context, name, config string) error
	Reset() error
	CompileDir() string
	CurrentState() *state.ContextState
	LastErrors() []*diag.CompilationError
}

// Session routes submissions: colon commands run through the table, the
// rest goes to the engine.
type Session struct {
	engine Engine

	// ShowTiming makes the caller print per-phase timing after each
	// evaluation.
	ShowTiming bool
}

func NewSession(engine Engine) *Session {
	return &Session{engine: engine}
}

// Result is what one submission produced: command text, if any commands
// ran, and evaluation outputs, if code ran.
type Result struct {
	CommandOutput []string
	Eval          *eval.Outputs
}

// Execute splits a raw submission, runs its commands in order, then
// evaluates whatever code remains. A failing command stops the whole
// submission; the code part never runs.
func (s *Session) Execute(ctx context.Context, src string, onOutput func(line string)) (*Result, error) {
	block, info := code.Split(src)
	res := &Result{}
	for _, call := range block.Commands() {
		cmd, ok := Lookup(call.Command)
		if !ok {
			return res, fmt.Errorf("unrecognised command :%s on line %d (:help lists commands)", call.Command, call.LineNumber)
		}
		text, err := cmd.Run(ctx, s, call.Args)
		if err != nil {
			return res, fmt.Errorf(":%s: %w", cmd.Name, err)
		}
		if text != "" {
			res.CommandOutput = append(res.CommandOutput, text)
		}
	}
	if len(block.UserSegments()) == 0 {
		return res, nil
	}
	out, err := s.engine.EvalBlock(ctx, block, info, onOutput)
	res.Eval = out
	return res, err
}
