package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"rivet/internal/cache"
	"rivet/internal/command"
	"rivet/internal/diag"
	"rivet/internal/eval"
	"rivet/internal/observ"
)

var (
	promptColor = color.New(color.FgGreen, color.Bold)
	errColor    = color.New(color.FgRed)
	dimColor    = color.New(color.Faint)
)

func runRepl(cmd *cobra.Command, _ []string) error {
	cfg, user, err := loadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if v, _ := flags.GetString("opt"); v != "" {
		cfg.OptLevel = v
	}
	if v, _ := flags.GetString("edition"); v != "" {
		cfg.Edition = v
	}
	if v, _ := flags.GetBool("offline"); v {
		cfg.Offline = true
	}
	if v, _ := flags.GetString("toolchain"); v != "" {
		cfg.Toolchain = v
	}
	showTiming := user.Timing
	if v, _ := flags.GetBool("timing"); v {
		showTiming = true
	}

	colorMode, _ := flags.GetString("color")
	useColor := resolveColor(colorMode)
	color.NoColor = !useColor

	uiFlag, _ := flags.GetString("ui")
	uiMode, err := readUIMode(uiFlag)
	if err != nil {
		return err
	}
	useUI := shouldUseTUI(uiMode)

	log := zap.NewNop()
	if v, _ := flags.GetBool("verbose"); v {
		log, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer log.Sync()
	}

	artifacts, err := cache.Open("rivet")
	if err != nil {
		errColor.Fprintf(os.Stderr, "artifact cache disabled: %v\n", err)
		artifacts = nil
	}

	stdin := bufio.NewReader(os.Stdin)
	dimColor.Println("preparing evaluation context (this compiles the runtime)...")
	engine, err := eval.New(cmd.Context(), eval.Opts{
		Config: cfg,
		Cache:  artifacts,
		Log:    log,
		Stderr: func(line string) { errColor.Fprintln(os.Stderr, line) },
		Input:  makeInput(stdin),
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	session := command.NewSession(engine)
	session.ShowTiming = showTiming

	fmt.Println("Welcome to rivet. Type :help for help, Ctrl-D to exit.")
	for {
		src, err := readSubmission(stdin)
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(src) == "" {
			continue
		}
		executeSubmission(cmd.Context(), engine, session, src, useUI)
	}
}

// readSubmission reads one submission: a line, plus continuation lines
// while the previous one ends with a backslash.
func readSubmission(r *bufio.Reader) (string, error) {
	var b strings.Builder
	prompt := promptColor.Sprint(">> ")
	for {
		fmt.Print(prompt)
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF && b.Len()+len(line) > 0 {
				b.WriteString(line)
				return b.String(), nil
			}
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasSuffix(line, "\\") {
			b.WriteString(strings.TrimSuffix(line, "\\"))
			b.WriteByte('\n')
			prompt = promptColor.Sprint(".. ")
			continue
		}
		b.WriteString(line)
		return b.String(), nil
	}
}

func executeSubmission(ctx context.Context, engine *eval.EvalContext, session *command.Session, src string, useUI bool) {
	onOutput := func(line string) { fmt.Println(line) }
	run := func() (*command.Result, error) {
		return session.Execute(ctx, src, onOutput)
	}

	var res *command.Result
	var err error
	if useUI && !isCommandOnly(src) {
		res, err = runWithPhaseUI(engine, run)
	} else {
		res, err = run()
	}

	if res != nil {
		for _, text := range res.CommandOutput {
			fmt.Println(text)
		}
		if res.Eval != nil {
			renderContents(res.Eval)
			if session.ShowTiming {
				dimColor.Println(formatTiming(res.Eval.Timing))
			}
		}
	}
	if err != nil {
		renderError(err)
	}
}

// isCommandOnly reports whether every line of the submission is a colon
// command; those finish instantly and need no progress display.
func isCommandOnly(src string) bool {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, ":") {
			return false
		}
	}
	return true
}

func renderContents(out *eval.Outputs) {
	for _, c := range out.Contents {
		if c.Mime == "text/plain" {
			fmt.Println(strings.TrimRight(c.Body, "\n"))
		} else {
			dimColor.Printf("[%s content, %d bytes]\n", c.Mime, len(c.Body))
		}
	}
}

func renderError(err error) {
	var cf *eval.CompileFailure
	if errors.As(err, &cf) {
		for _, e := range cf.Errors {
			fmt.Println(diag.Render(e, diag.RenderOptions{Color: !color.NoColor, ShowHints: true}))
		}
		return
	}
	errColor.Fprintln(os.Stderr, err.Error())
}

func formatTiming(r observ.Report) string {
	var parts []string
	for _, p := range r.Phases {
		parts = append(parts, fmt.Sprintf("%s %.1fms", p.Name, p.DurationMS))
	}
	parts = append(parts, fmt.Sprintf("total %.1fms", r.TotalMS))
	return strings.Join(parts, ", ")
}

// makeInput answers stdin requests from running code. Password requests
// read without echo when stdin is a terminal.
func makeInput(r *bufio.Reader) func(prompt string, password bool) (string, error) {
	return func(prompt string, password bool) (string, error) {
		fmt.Print(prompt)
		if password && isTerminal(os.Stdin) {
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return "", err
			}
			return string(raw), nil
		}
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
}

func resolveColor(mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "on":
		return true
	case "off":
		return false
	default:
		return isTerminal(os.Stdout)
	}
}
