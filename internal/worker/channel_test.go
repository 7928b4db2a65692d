package worker

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// fakeWorker writes a shell script that plays the worker's side of the
// protocol and returns its path.
func fakeWorker(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake worker scripts need /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func startFake(t *testing.T, script string, stderrSink func(string)) *Channel {
	t.Helper()
	c, err := Start(fakeWorker(t, script), stderrSink, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRunPlainOutputAndCompletion(t *testing.T) {
	var lines []string
	c := startFake(t, `
read req
echo "first line"
echo "second line"
echo "EVCXR_EXECUTION_COMPLETE"
`, nil)
	outcome, err := c.Run("/tmp/code_1.so", "run_user_code_0", nil, func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Panicked || outcome.UserError {
		t.Errorf("outcome = %+v", outcome)
	}
	if len(lines) != 2 || lines[0] != "first line" || lines[1] != "second line" {
		t.Errorf("output lines = %v", lines)
	}
}

func TestRunContentBlockAndVariableTypes(t *testing.T) {
	c := startFake(t, `
read req
echo "EVCXR_VARIABLE_TYPE:a:i32"
echo "EVCXR_VARIABLE_TYPE:s:alloc::string::String"
echo "EVCXR_BEGIN_CONTENT text/plain"
echo "42"
echo "EVCXR_END_CONTENT"
echo "EVCXR_EXECUTION_COMPLETE"
`, nil)
	outcome, err := c.Run("/tmp/code_1.so", "run_user_code_0", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcome.Contents) != 1 {
		t.Fatalf("contents = %+v", outcome.Contents)
	}
	if outcome.Contents[0].Mime != "text/plain" || outcome.Contents[0].Body != "42" {
		t.Errorf("content = %+v", outcome.Contents[0])
	}
	if outcome.VariableTypes["a"] != "i32" || outcome.VariableTypes["s"] != "alloc::string::String" {
		t.Errorf("variable types = %v", outcome.VariableTypes)
	}
}

func TestRunPanicMidContentBlock(t *testing.T) {
	c := startFake(t, `
read req
echo "EVCXR_BEGIN_CONTENT text/html"
echo "<b>partial</b>"
echo "EVCXR_PANIC_NOTIFICATION"
`, nil)
	outcome, err := c.Run("/tmp/code_1.so", "run_user_code_0", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Panicked {
		t.Error("panic not reported")
	}
	if len(outcome.Contents) != 1 || outcome.Contents[0].Body != "<b>partial</b>" {
		t.Errorf("partial content lost: %+v", outcome.Contents)
	}
}

func TestRunInputRoundTrip(t *testing.T) {
	c := startFake(t, `
read req
echo "EVCXR_INPUT_REQUEST:name? "
read answer
echo "hello $answer"
echo "EVCXR_EXECUTION_COMPLETE"
`, nil)
	var prompts []string
	var lines []string
	outcome, err := c.Run("/tmp/code_1.so", "run_user_code_0",
		func(prompt string, password bool) (string, error) {
			prompts = append(prompts, prompt)
			if password {
				t.Error("plain input flagged as password")
			}
			return "world", nil
		},
		func(line string) { lines = append(lines, line) })
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Panicked {
		t.Error("unexpected panic")
	}
	if len(prompts) != 1 || prompts[0] != "name? " {
		t.Errorf("prompts = %q", prompts)
	}
	if len(lines) != 1 || lines[0] != "hello world" {
		t.Errorf("lines = %q", lines)
	}
}

func TestRunPasswordRequest(t *testing.T) {
	c := startFake(t, `
read req
echo "EVCXR_PASSWORD_REQUEST:secret: "
read answer
echo "EVCXR_EXECUTION_COMPLETE"
`, nil)
	sawPassword := false
	if _, err := c.Run("/tmp/code_1.so", "run_user_code_0",
		func(prompt string, password bool) (string, error) {
			sawPassword = password
			return "hunter2", nil
		}, nil); err != nil {
		t.Fatal(err)
	}
	if !sawPassword {
		t.Error("password flag not set")
	}
}

func TestRunLostVariablesAndUserError(t *testing.T) {
	c := startFake(t, `
read req
echo "EVCXR_VARIABLE_CHANGED_TYPE:v"
echo "EVCXR_ERROR_OCCURRED"
echo "EVCXR_EXECUTION_COMPLETE"
`, nil)
	outcome, err := c.Run("/tmp/code_1.so", "run_user_code_0", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcome.LostVariables) != 1 || outcome.LostVariables[0] != "v" {
		t.Errorf("lost variables = %v", outcome.LostVariables)
	}
	if !outcome.UserError {
		t.Error("user error not reported")
	}
}

func TestRunDetectsTermination(t *testing.T) {
	c := startFake(t, `
read req
echo "some output"
exit 1
`, nil)
	_, err := c.Run("/tmp/code_1.so", "run_user_code_0", nil, nil)
	if !errors.Is(err, ErrTerminated) {
		t.Fatalf("err = %v, want ErrTerminated", err)
	}
}

func TestRunTerminationKeepsCollected(t *testing.T) {
	c := startFake(t, `
read req
echo "EVCXR_VARIABLE_CHANGED_TYPE:v"
echo "EVCXR_BEGIN_CONTENT text/plain"
echo "partial"
exit 1
`, nil)
	outcome, err := c.Run("/tmp/code_1.so", "run_user_code_0", nil, nil)
	if !errors.Is(err, ErrTerminated) {
		t.Fatalf("err = %v, want ErrTerminated", err)
	}
	if outcome == nil {
		t.Fatal("outcome discarded on termination")
	}
	if len(outcome.LostVariables) != 1 || outcome.LostVariables[0] != "v" {
		t.Errorf("lost variables = %v", outcome.LostVariables)
	}
	if len(outcome.Contents) != 1 || outcome.Contents[0].Body != "partial" {
		t.Errorf("contents = %v", outcome.Contents)
	}
}

func TestStderrForwarded(t *testing.T) {
	var stderrLines []string
	c := startFake(t, `
echo "thread panicked" >&2
read req
echo "EVCXR_EXECUTION_COMPLETE"
`, func(line string) { stderrLines = append(stderrLines, line) })
	if _, err := c.Run("/tmp/code_1.so", "run_user_code_0", nil, nil); err != nil {
		t.Fatal(err)
	}
	c.Close()
	if len(stderrLines) != 1 || stderrLines[0] != "thread panicked" {
		t.Errorf("stderr lines = %q", stderrLines)
	}
}
