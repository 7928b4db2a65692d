// Package worker owns the persistent child process that loads compiled
// libraries and runs them. Communication is a blocking, line-oriented
// protocol: one request down, sentinel-delimited results back.
package worker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrTerminated reports that the worker process died mid-conversation. The
// variable store died with it.
var ErrTerminated = errors.New("worker process terminated")

// InputFunc answers an interactive input request from running code. The
// reply is sent to the worker as exactly one line.
type InputFunc func(prompt string, password bool) (string, error)

// Content is one MIME-typed output block.
type Content struct {
	Mime string
	Body string
}

// RunOutcome is everything one execution reported back.
type RunOutcome struct {
	// Contents holds the rich output blocks in emission order.
	Contents []Content
	// VariableTypes maps variable names to the runtime-reported type names
	// recorded while packing.
	VariableTypes map[string]string
	// LostVariables lists variables whose stored type no longer matched.
	LostVariables []string
	// Panicked is true when the execution ended with a panic instead of
	// completing.
	Panicked bool
	// UserError is true when the code early-returned an error value.
	UserError bool
}

// Channel is one live worker process. Not safe for concurrent use: the
// session serializes executions.
type Channel struct {
	log    *zap.Logger
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	pumps  *errgroup.Group
}

// Start launches the worker binary. Lines the worker writes to stderr are
// forwarded to stderrSink from a pump goroutine.
func Start(binary string, stderrSink func(line string), log *zap.Logger) (*Channel, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cmd := exec.Command(binary)
	cmd.Env = append(os.Environ(), runtimeEnvMarker)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	log.Debug("worker started", zap.String("binary", binary), zap.Int("pid", cmd.Process.Pid))

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	pumps := &errgroup.Group{}
	pumps.Go(func() error {
		errScanner := bufio.NewScanner(stderr)
		errScanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for errScanner.Scan() {
			if stderrSink != nil {
				stderrSink(errScanner.Text())
			}
		}
		return nil
	})

	return &Channel{log: log, cmd: cmd, stdin: stdin, stdout: scanner, pumps: pumps}, nil
}

// Run loads a library and invokes its entry symbol, blocking until the
// worker reports completion or a panic. Plain output lines are passed to
// onOutput as they arrive. When the worker dies mid-run, Run returns
// ErrTerminated together with whatever it collected up to that point.
func (c *Channel) Run(libraryPath, symbol string, input InputFunc, onOutput func(line string)) (*RunOutcome, error) {
	if _, err := fmt.Fprintf(c.stdin, "%s %s %s\n", cmdLoadAndRun, libraryPath, symbol); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTerminated, err)
	}

	outcome := &RunOutcome{VariableTypes: map[string]string{}}
	var content *Content
	for {
		if !c.stdout.Scan() {
			if content != nil {
				outcome.Contents = append(outcome.Contents, *content)
			}
			if err := c.stdout.Err(); err != nil {
				return outcome, fmt.Errorf("%w: %v", ErrTerminated, err)
			}
			return outcome, ErrTerminated
		}
		line := c.stdout.Text()

		switch {
		case line == lineExecutionComplete:
			if content != nil {
				// unterminated block: close it rather than lose output
				outcome.Contents = append(outcome.Contents, *content)
			}
			return outcome, nil

		case line == linePanic:
			// a panic may abort a content block mid-way; keep what arrived
			if content != nil {
				outcome.Contents = append(outcome.Contents, *content)
			}
			outcome.Panicked = true
			return outcome, nil

		case line == lineErrorOccurred:
			outcome.UserError = true

		case line == lineEndContent && content != nil:
			outcome.Contents = append(outcome.Contents, *content)
			content = nil

		case strings.HasPrefix(line, prefixBeginContent):
			content = &Content{Mime: strings.TrimSpace(strings.TrimPrefix(line, prefixBeginContent))}

		case strings.HasPrefix(line, prefixVariableType):
			rest := strings.TrimPrefix(line, prefixVariableType)
			if name, typeName, ok := strings.Cut(rest, ":"); ok {
				outcome.VariableTypes[name] = typeName
			}

		case strings.HasPrefix(line, prefixVariableChangedType):
			outcome.LostVariables = append(outcome.LostVariables,
				strings.TrimPrefix(line, prefixVariableChangedType))

		case strings.HasPrefix(line, prefixInputRequest):
			if err := c.answer(strings.TrimPrefix(line, prefixInputRequest), false, input); err != nil {
				return nil, err
			}

		case strings.HasPrefix(line, prefixPasswordRequest):
			if err := c.answer(strings.TrimPrefix(line, prefixPasswordRequest), true, input); err != nil {
				return nil, err
			}

		case content != nil:
			if content.Body != "" {
				content.Body += "\n"
			}
			content.Body += line

		default:
			if onOutput != nil {
				onOutput(line)
			}
		}
	}
}

// answer forwards one input request to the caller's callback and sends the
// reply down. A missing callback answers with an empty line so the worker
// never deadlocks.
func (c *Channel) answer(prompt string, password bool, input InputFunc) error {
	reply := ""
	if input != nil {
		var err error
		reply, err = input(prompt, password)
		if err != nil {
			return fmt.Errorf("input callback: %w", err)
		}
	}
	reply = strings.ReplaceAll(reply, "\n", " ")
	if _, err := fmt.Fprintln(c.stdin, reply); err != nil {
		return fmt.Errorf("%w: %v", ErrTerminated, err)
	}
	return nil
}

// Alive reports whether the process has not been seen exiting.
func (c *Channel) Alive() bool {
	return c.cmd.ProcessState == nil
}

// Close tears the worker down: stdin closes, the process gets killed if it
// does not exit, and the pumps drain.
func (c *Channel) Close() error {
	c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	err := c.cmd.Wait()
	_ = c.pumps.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return err
	}
	return nil
}
