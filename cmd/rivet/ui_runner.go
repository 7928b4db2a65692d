package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"rivet/internal/command"
	"rivet/internal/eval"
	"rivet/internal/observ"
	"rivet/internal/ui"
)

type uiMode string

const (
	uiModeAuto uiMode = "auto"
	uiModeOn   uiMode = "on"
	uiModeOff  uiMode = "off"
)

func readUIMode(value string) (uiMode, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return uiModeAuto, nil
	case "on":
		return uiModeOn, nil
	case "off":
		return uiModeOff, nil
	default:
		return "", fmt.Errorf("invalid --ui value %q (expected auto|on|off)", value)
	}
}

func shouldUseTUI(mode uiMode) bool {
	switch mode {
	case uiModeOn:
		return true
	case uiModeOff:
		return false
	default:
		return isTerminal(os.Stdout)
	}
}

type executeOutcome struct {
	result *command.Result
	err    error
}

// runWithPhaseUI evaluates a submission behind a phase progress display.
// The display quits when the run phase starts, so the code's own output
// streams to a plain terminal.
func runWithPhaseUI(engine *eval.EvalContext, run func() (*command.Result, error)) (*command.Result, error) {
	events := make(chan ui.Event, 256)
	var closeOnce sync.Once
	closeEvents := func() { closeOnce.Do(func() { close(events) }) }

	// Sends and closes both happen on the evaluation goroutine, so a plain
	// flag is enough to never send after close.
	eventsClosed := false
	engine.Phase = func(name string, done bool, err error) {
		if eventsClosed {
			return
		}
		if name == observ.PhaseRun && !done {
			eventsClosed = true
			closeEvents()
			return
		}
		status := ui.StatusWorking
		if done {
			status = ui.StatusDone
			if err != nil {
				status = ui.StatusError
			}
		}
		select {
		case events <- ui.Event{Phase: name, Status: status}:
		default:
		}
	}
	defer func() { engine.Phase = nil }()

	outcomeCh := make(chan executeOutcome, 1)
	go func() {
		res, err := run()
		outcomeCh <- executeOutcome{result: res, err: err}
		closeEvents()
	}()

	model := ui.NewPhaseModel("evaluating", events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	if _, uiErr := program.Run(); uiErr != nil {
		// Fall through; the evaluation itself decides the outcome.
		fmt.Fprintln(os.Stderr, uiErr)
	}
	outcome := <-outcomeCh
	return outcome.result, outcome.err
}
