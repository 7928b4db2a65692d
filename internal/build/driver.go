// Package build owns the on-disk evaluation crate: its manifest and source
// tree, the cargo invocations that compile it, and the translation of
// cargo's line-delimited JSON diagnostics into provenance-correlated errors.
package build

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"rivet/internal/code"
	"rivet/internal/diag"
	"rivet/internal/state"
	runtimeembed "rivet/runtime"
)

// ErrNonJSONOutput reports compiler output that was supposed to be JSON and
// was not. It aborts the submission: the diagnostic stream cannot be trusted.
var ErrNonJSONOutput = errors.New("compiler emitted non-JSON output on the diagnostic stream")

// Mode selects between producing an artifact and diagnostics only.
type Mode int

const (
	// ModeBuild compiles the unit into a loadable library.
	ModeBuild Mode = iota
	// ModeCheck runs diagnostics only, producing no artifact.
	ModeCheck
)

// Result is the outcome of one compiler invocation.
type Result struct {
	// Success is true when the compiler exited cleanly.
	Success bool
	// Errors holds error-level diagnostics, already filtered: when any
	// error is attributed to user code, generated-code errors are dropped
	// as follow-on noise.
	Errors []*diag.CompilationError
	// ArtifactPath is the compiled library, copied out of the target
	// directory so later builds cannot overwrite it. Set only for a
	// successful ModeBuild.
	ArtifactPath string
}

// Driver owns one session's crate directory. Not safe for concurrent use;
// one evaluation at a time per session.
type Driver struct {
	dir      string
	log      *zap.Logger
	buildNum int
}

// NewDriver lays out the crate under dir and writes the runtime sources.
func NewDriver(dir string, log *zap.Logger) (*Driver, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(dir, "src", "bin"), 0o750); err != nil {
		return nil, fmt.Errorf("creating crate layout: %w", err)
	}
	files := map[string]string{
		filepath.Join(dir, "src", "internal_runtime.rs"): runtimeembed.VariableStoreSource(),
		filepath.Join(dir, "src", "bin", "worker.rs"):    runtimeembed.WorkerMainSource(),
		filepath.Join(dir, "src", "lib.rs"):              "",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return nil, fmt.Errorf("writing %s: %w", filepath.Base(path), err)
		}
	}
	return &Driver{dir: dir, log: log}, nil
}

// Dir returns the crate directory.
func (d *Driver) Dir() string { return d.dir }

// WorkerBinary returns the path of the worker executable produced by a
// successful build.
func (d *Driver) WorkerBinary() string {
	name := workerName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(d.dir, "target", "debug", name)
}

// Prepare writes the manifest and the unit source ahead of a compile.
func (d *Driver) Prepare(deps []state.ExternalCrate, cfg state.Config, source string) error {
	manifest, err := Manifest(deps, cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(d.dir, "Cargo.toml"), []byte(manifest), 0o600); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.dir, "src", "lib.rs"), []byte(source), 0o600); err != nil {
		return fmt.Errorf("writing unit source: %w", err)
	}
	return nil
}

// Run invokes the compiler and correlates its diagnostics against the
// unit's provenance. A non-zero compiler exit with error diagnostics is a
// normal Result; anything else non-zero is an I/O-class error.
func (d *Driver) Run(ctx context.Context, cfg state.Config, mode Mode, block *code.Block) (*Result, error) {
	args := cargoArgs(cfg, mode)
	d.log.Debug("invoking compiler", zap.Strings("args", args), zap.String("dir", d.dir))

	cmd := exec.CommandContext(ctx, "cargo", args...)
	cmd.Dir = d.dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("piping compiler output: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting compiler: %w", err)
	}

	all, decodeErr := CollectErrors(stdout, block)
	waitErr := cmd.Wait()
	if decodeErr != nil {
		return nil, decodeErr
	}

	errs := FilterUserErrors(all)
	if waitErr != nil {
		if len(errs) > 0 {
			return &Result{Errors: errs}, nil
		}
		return nil, fmt.Errorf("compiler failed: %w\n%s", waitErr, tail(stderr.String(), 20))
	}

	res := &Result{Success: true}
	if mode == ModeBuild {
		artifact, err := d.copyArtifact()
		if err != nil {
			return nil, err
		}
		res.ArtifactPath = artifact
	}
	return res, nil
}

func cargoArgs(cfg state.Config, mode Mode) []string {
	var args []string
	if cfg.Toolchain != "" {
		args = append(args, "+"+cfg.Toolchain)
	}
	if mode == ModeCheck {
		args = append(args, "check")
	} else {
		args = append(args, "build")
	}
	args = append(args, "--message-format=json")
	if cfg.Offline {
		args = append(args, "--offline")
	}
	return args
}

// CollectErrors decodes line-delimited diagnostics from r, correlating each
// against the block's provenance. Non-JSON input is fatal.
func CollectErrors(r io.Reader, block *code.Block) ([]*diag.CompilationError, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var out []*diag.CompilationError
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		raw, payload, ok, err := diag.DecodeDiagnosticLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrNonJSONOutput, truncate(string(line), 200))
		}
		if !ok {
			continue
		}
		if e := diag.NewCompilationError(raw, payload, block); e != nil && e.IsError() {
			out = append(out, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading compiler output: %w", err)
	}
	return out, nil
}

// FilterUserErrors drops generated-code errors once any error is attributed
// to user code: they are presumed to be follow-on noise.
func FilterUserErrors(errs []*diag.CompilationError) []*diag.CompilationError {
	anyUser := false
	for _, e := range errs {
		if e.IsFromUserCode() {
			anyUser = true
			break
		}
	}
	if !anyUser {
		return errs
	}
	var out []*diag.CompilationError
	for _, e := range errs {
		if e.IsFromUserCode() {
			out = append(out, e)
		}
	}
	return out
}

// copyArtifact moves the freshly built library out from under cargo's
// target directory under a per-build name, since the worker keeps old
// libraries loaded while cargo rewrites the original path.
func (d *Driver) copyArtifact() (string, error) {
	d.buildNum++
	src := filepath.Join(d.dir, "target", "debug", libraryFileName())
	dst := filepath.Join(d.dir, fmt.Sprintf("code_%d%s", d.buildNum, libraryExt()))
	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("copying build artifact: %w", err)
	}
	return dst, nil
}

// PlaceArtifact installs an externally produced library (a cache hit) under
// the same per-build naming scheme the compiler path uses.
func (d *Driver) PlaceArtifact(src string) (string, error) {
	d.buildNum++
	dst := filepath.Join(d.dir, fmt.Sprintf("code_%d%s", d.buildNum, libraryExt()))
	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("placing cached artifact: %w", err)
	}
	return dst, nil
}

func libraryFileName() string {
	switch runtime.GOOS {
	case "windows":
		return crateName + ".dll"
	case "darwin":
		return "lib" + crateName + ".dylib"
	default:
		return "lib" + crateName + ".so"
	}
}

func libraryExt() string {
	switch runtime.GOOS {
	case "windows":
		return ".dll"
	case "darwin":
		return ".dylib"
	default:
		return ".so"
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o700)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func tail(s string, lines int) string {
	parts := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
