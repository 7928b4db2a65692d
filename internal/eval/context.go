// Package eval owns the evaluation loop: it turns a split submission into
// a compilation unit, drives the compiler, runs the artifact in the worker
// process, and commits state only when everything succeeded. Failed
// compiles go through a bounded classify-adjust-retry cycle keyed on
// compiler error codes and segment provenance.
package eval

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"rivet/internal/build"
	"rivet/internal/cache"
	"rivet/internal/code"
	"rivet/internal/diag"
	"rivet/internal/observ"
	"rivet/internal/state"
	"rivet/internal/worker"
)

// maxRetries bounds the automatic fixup cycle per submission. Every retry
// re-runs the full pipeline, so the bound also caps repeated side effects.
const maxRetries = 5

// tmpDirEnv overrides the evaluation directory. When set, the directory
// is kept across sessions so incremental compilation state survives.
const tmpDirEnv = "RIVET_TMPDIR"

// Opts configures a new evaluation context.
type Opts struct {
	// Config is the initial session configuration.
	Config state.Config
	// Cache holds compiled artifacts keyed by unit fingerprint. Nil
	// disables caching.
	Cache *cache.ArtifactCache
	// Stderr receives the worker's stderr lines as they arrive. Nil
	// discards them.
	Stderr func(line string)
	// Input answers stdin requests from running code. Nil answers with
	// empty lines.
	Input worker.InputFunc
	// Log defaults to a no-op logger.
	Log *zap.Logger
}

// EvalContext is one REPL session: the committed state, the build
// directory, and the worker process holding every live variable.
type EvalContext struct {
	log     *zap.Logger
	driver  *build.Driver
	channel *worker.Channel
	cache   *cache.ArtifactCache
	stderr  func(string)
	ownsDir bool

	// State is the committed session state. It only ever advances by
	// whole successful submissions.
	State *state.ContextState
	// Input answers stdin requests from running code.
	Input worker.InputFunc
	// Phase, when set, observes phase transitions: once when a phase
	// starts and once when it ends. Used to drive progress display.
	Phase func(name string, done bool, err error)

	lastErrors []*diag.CompilationError
}

// New creates an evaluation context, compiles the empty unit to produce
// the worker binary, and starts the worker. The initial compile also
// warms the dependency graph, so the first real submission is fast.
func New(ctx context.Context, opts Opts) (*EvalContext, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	dir := os.Getenv(tmpDirEnv)
	ownsDir := dir == ""
	if ownsDir {
		var err error
		dir, err = os.MkdirTemp("", "rivet-*")
		if err != nil {
			return nil, fmt.Errorf("creating evaluation dir: %w", err)
		}
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating evaluation dir: %w", err)
	}

	driver, err := build.NewDriver(dir, log)
	if err != nil {
		if ownsDir {
			os.RemoveAll(dir)
		}
		return nil, err
	}

	c := &EvalContext{
		log:     log,
		driver:  driver,
		cache:   opts.Cache,
		stderr:  opts.Stderr,
		ownsDir: ownsDir,
		State:   state.New(opts.Config),
		Input:   opts.Input,
	}

	if err := c.bootstrap(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// bootstrap compiles the empty unit, which also builds the worker binary,
// then starts the worker.
func (c *EvalContext) bootstrap(ctx context.Context) error {
	cfg := c.State.Config
	if err := c.driver.Prepare(nil, cfg, ""); err != nil {
		return err
	}
	res, err := c.driver.Run(ctx, cfg, build.ModeBuild, code.NewBlock())
	if err != nil {
		return fmt.Errorf("initial build: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("initial build failed")
	}
	return c.startWorker()
}

func (c *EvalContext) startWorker() error {
	ch, err := worker.Start(c.driver.WorkerBinary(), c.stderr, c.log)
	if err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	c.channel = ch
	return nil
}

// restartWorker replaces a dead worker with a fresh process. Every
// variable lived in the old process and is gone.
func (c *EvalContext) restartWorker() error {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	return c.startWorker()
}

// Reset clears the session state, keeping configuration, and replaces the
// worker so stored values do not linger in its memory.
func (c *EvalContext) Reset() error {
	c.State.Clear()
	c.lastErrors = nil
	return c.restartWorker()
}

// AddDep registers an external dependency and compiles the dependency
// graph up front, so a bad registration fails here instead of poisoning
// every later submission. The registration commits only on success.
func (c *EvalContext) AddDep(ctx context.Context, name, config string) error {
	working := c.State.Clone()
	working.AddDep(name, config)
	cfg := working.Config
	if err := c.driver.Prepare(working.Deps(), cfg, ""); err != nil {
		return err
	}
	res, err := c.driver.Run(ctx, cfg, build.ModeBuild, code.NewBlock())
	if err != nil {
		return err
	}
	if !res.Success {
		return &CompileFailure{Errors: res.Errors}
	}
	c.State = working
	return nil
}

// CompileDir returns the directory holding the generated crate, for
// inspection after a failed compile.
func (c *EvalContext) CompileDir() string { return c.driver.Dir() }

// CurrentState returns the committed session state. The pointer is only
// valid until the next successful submission.
func (c *EvalContext) CurrentState() *state.ContextState { return c.State }

// LastErrors returns the compiler errors of the most recent failed
// submission, or nil after a success.
func (c *EvalContext) LastErrors() []*diag.CompilationError { return c.lastErrors }

// Close stops the worker and removes the evaluation directory unless it
// was pinned through the environment.
func (c *EvalContext) Close() error {
	var firstErr error
	if c.channel != nil {
		firstErr = c.channel.Close()
		c.channel = nil
	}
	if c.ownsDir {
		if err := os.RemoveAll(c.driver.Dir()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Eval splits raw source and evaluates it. Command segments are rejected
// here; the caller routes those first.
func (c *EvalContext) Eval(ctx context.Context, src string, onOutput func(line string)) (*Outputs, error) {
	block, info := code.Split(src)
	if calls := block.Commands(); len(calls) > 0 {
		return nil, fmt.Errorf("command :%s must be routed through the session, not evaluated", calls[0].Command)
	}
	return c.EvalBlock(ctx, block, info, onOutput)
}

// EvalBlock evaluates an already-split submission. State commits only
// when compilation, execution, and type recording all succeed; any
// failure leaves the committed state exactly as it was.
func (c *EvalContext) EvalBlock(ctx context.Context, userBlock *code.Block, info *code.UserCodeInfo, onOutput func(line string)) (*Outputs, error) {
	out := &Outputs{}
	if len(userBlock.UserSegments()) == 0 {
		return out, nil
	}

	timer := observ.NewTimer()
	defer func() { out.Timing = timer.Report() }()

	// Fixups accumulate across attempts; each attempt replays them onto a
	// fresh clone of the committed state. Moved variables stay restored
	// but are not stored back; lost variables are forgotten outright.
	cfg := c.State.Config
	var moved, lost []string
	suppressDisplay := false

	for attempt := 0; ; attempt++ {
		working := c.State.Clone()
		working.Config = cfg
		for _, name := range moved {
			working.DisableVariablePreservation(name)
		}
		for _, name := range lost {
			working.DropVariable(name)
		}

		var unit *state.Unit
		err := c.timePhase(timer, observ.PhaseSynthesize, func() error {
			var err error
			unit, err = working.Synthesize(userBlock, info, state.Options{
				CatchPanic:           true,
				SuppressFinalDisplay: suppressDisplay,
			})
			return err
		})
		if err != nil {
			return out, err
		}

		artifact, cached := c.lookupArtifact(timer, unit)
		if !cached {
			var res *build.Result
			err := c.timePhase(timer, observ.PhaseCompile, func() error {
				if err := c.driver.Prepare(working.Deps(), cfg, unit.Block.Code()); err != nil {
					return err
				}
				var err error
				res, err = c.driver.Run(ctx, cfg, build.ModeBuild, unit.Block)
				return err
			})
			if err != nil {
				return out, err
			}
			if !res.Success {
				for _, e := range res.Errors {
					e.FillLines(info)
				}
				c.lastErrors = res.Errors
				plan, hardErr := classifyErrors(res.Errors, cfg)
				if hardErr != nil {
					return out, hardErr
				}
				if plan.empty() || attempt >= maxRetries {
					c.recompileClean(ctx, userBlock, info, cfg, suppressDisplay)
					return out, &CompileFailure{Errors: res.Errors}
				}
				moved = append(moved, plan.dropVariables...)
				suppressDisplay = suppressDisplay || plan.suppressDisplay
				cfg.AsyncMode = cfg.AsyncMode || plan.enableAsync
				cfg.AllowQuestionMark = cfg.AllowQuestionMark || plan.allowQuestionMark
				continue
			}
			artifact = res.ArtifactPath
			c.storeArtifact(timer, unit, artifact)
		}

		if c.channel == nil || !c.channel.Alive() {
			if err := c.restartWorker(); err != nil {
				return out, err
			}
		}
		var outcome *worker.RunOutcome
		err = c.timePhase(timer, observ.PhaseRun, func() error {
			var err error
			outcome, err = c.channel.Run(artifact, unit.Symbol, c.Input, onOutput)
			return err
		})
		if err != nil {
			if errors.Is(err, worker.ErrTerminated) {
				if outcome != nil {
					out.Contents = outcome.Contents
				}
				c.State.ClearAllVariables()
				if rerr := c.restartWorker(); rerr != nil {
					c.log.Error("worker restart failed", zap.Error(rerr))
				}
				return out, &SubprocessTerminated{}
			}
			return out, err
		}

		if len(outcome.LostVariables) > 0 {
			// The stored value's type no longer matches; forget the
			// variable and re-run without it.
			lost = append(lost, outcome.LostVariables...)
			if attempt >= maxRetries {
				return out, &VariablesLost{Names: outcome.LostVariables}
			}
			continue
		}

		out.Contents = outcome.Contents
		if outcome.Panicked {
			if !cfg.PreserveVarsOnPanic {
				c.State.ClearAllVariables()
			}
			return out, &PanicError{}
		}
		if outcome.UserError {
			// The code early-returned an error; statements after the
			// return never ran, so nothing commits.
			return out, &RuntimeError{}
		}

		for name, typeName := range outcome.VariableTypes {
			working.RecordVariableType(name, typeName)
		}
		if err := working.Commit(); err != nil {
			return out, err
		}
		userBlock.CommitOldUserCode()
		c.State = working
		c.lastErrors = nil
		return out, nil
	}
}

func (c *EvalContext) timePhase(timer *observ.Timer, name string, fn func() error) error {
	if c.Phase != nil {
		c.Phase(name, false, nil)
	}
	err := timer.Time(name, fn)
	if c.Phase != nil {
		c.Phase(name, true, err)
	}
	return err
}

// lookupArtifact checks the cache for an already-compiled unit. Corrupt
// or missing entries are treated as misses.
func (c *EvalContext) lookupArtifact(timer *observ.Timer, unit *state.Unit) (string, bool) {
	if c.cache == nil {
		return "", false
	}
	var artifact string
	var hit bool
	timer.Time(observ.PhaseCache, func() error {
		cachedPath, _, ok, err := c.cache.Get(unit.Fingerprint)
		if err != nil || !ok {
			return nil
		}
		placed, err := c.driver.PlaceArtifact(cachedPath)
		if err != nil {
			c.log.Warn("placing cached artifact", zap.Error(err))
			return nil
		}
		artifact = placed
		hit = true
		return nil
	})
	return artifact, hit
}

func (c *EvalContext) storeArtifact(timer *observ.Timer, unit *state.Unit, artifact string) {
	if c.cache == nil {
		return
	}
	timer.Time(observ.PhaseCache, func() error {
		if err := c.cache.Put(unit.Fingerprint, unit.Symbol, artifact); err != nil {
			c.log.Warn("caching artifact", zap.Error(err))
		}
		return nil
	})
}

// recompileClean rebuilds the failed unit without the panic-catching
// machinery in check mode and discards the result. It exists so the
// compile directory ends up holding source close to what the user wrote,
// which is what they will look at when debugging a failure.
func (c *EvalContext) recompileClean(ctx context.Context, userBlock *code.Block, info *code.UserCodeInfo, cfg state.Config, suppressDisplay bool) {
	working := c.State.Clone()
	working.Config = cfg
	unit, err := working.Synthesize(userBlock, info, state.Options{
		CatchPanic:           false,
		SuppressFinalDisplay: suppressDisplay,
	})
	if err != nil {
		return
	}
	if err := c.driver.Prepare(working.Deps(), cfg, unit.Block.Code()); err != nil {
		return
	}
	if _, err := c.driver.Run(ctx, cfg, build.ModeCheck, unit.Block); err != nil {
		c.log.Debug("clean recompile failed", zap.Error(err))
	}
}
