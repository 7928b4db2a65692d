package command

import (
	"context"
	"fmt"
	"strings"

	"rivet/internal/version"
)

func commandList() []*Command {
	return []*Command{
		{
			Name: "help", Help: "Show this help message",
			Run: func(_ context.Context, _ *Session, _ string) (string, error) {
				return helpText(), nil
			},
		},
		{
			Name: "version", Help: "Print the version",
			Run: func(_ context.Context, _ *Session, _ string) (string, error) {
				out := version.Version
				if version.GitCommit != "" {
					out += " (" + version.GitCommit + ")"
				}
				return out, nil
			},
		},
		{
			Name: "clear", Help: "Clear all state, keeping compilation mode",
			Run: func(_ context.Context, s *Session, _ string) (string, error) {
				return "", s.engine.Reset()
			},
		},
		{
			Name: "dep", Usage: "name [= config]", Help: "Add an external dependency, e.g. :dep regex = \"1.0\"",
			Run: func(ctx context.Context, s *Session, args string) (string, error) {
				name, config, err := parseDepArgs(args)
				if err != nil {
					return "", err
				}
				return "", s.engine.AddDep(ctx, name, config)
			},
		},
		{
			Name: "vars", Help: "List bound variables and their types",
			Run: func(_ context.Context, s *Session, _ string) (string, error) {
				vars := s.engine.CurrentState().VariablesAndTypes()
				if len(vars) == 0 {
					return "(no variables)", nil
				}
				var b strings.Builder
				for i, v := range vars {
					if i > 0 {
						b.WriteByte('\n')
					}
					fmt.Fprintf(&b, "%s: %s", v[0], v[1])
				}
				return b.String(), nil
			},
		},
		{
			Name: "opt", Usage: "[level]", Help: "Set or show the optimization level (0-3, s or z)",
			Run: func(_ context.Context, s *Session, args string) (string, error) {
				cfg := &s.engine.CurrentState().Config
				if args == "" {
					return "opt: " + cfg.OptLevel, nil
				}
				switch args {
				case "0", "1", "2", "3", "s", "z":
					cfg.OptLevel = args
					return "", nil
				default:
					return "", fmt.Errorf("invalid optimization level %q", args)
				}
			},
		},
		{
			Name: "timing", Usage: "[on|off]", Help: "Toggle printing of per-phase timing",
			Run: func(_ context.Context, s *Session, args string) (string, error) {
				return setBool("timing", &s.ShowTiming, args)
			},
		},
		{
			Name: "preserve_vars_on_panic", Usage: "[on|off]", Help: "Keep existing variables when code panics",
			Run: func(_ context.Context, s *Session, args string) (string, error) {
				return setBool("preserve_vars_on_panic", &s.engine.CurrentState().Config.PreserveVarsOnPanic, args)
			},
		},
		{
			Name: "types", Usage: "[on|off]", Help: "Show types alongside evaluation results",
			Run: func(_ context.Context, s *Session, args string) (string, error) {
				return setBool("types", &s.engine.CurrentState().Config.DisplayTypes, args)
			},
		},
		{
			Name: "offline", Usage: "[on|off]", Help: "Compile without network access",
			Run: func(_ context.Context, s *Session, args string) (string, error) {
				return setBool("offline", &s.engine.CurrentState().Config.Offline, args)
			},
		},
		{
			Name: "toolchain", Usage: "[name]", Help: "Set or show the compiler toolchain, e.g. nightly",
			Run: func(_ context.Context, s *Session, args string) (string, error) {
				cfg := &s.engine.CurrentState().Config
				if args == "" {
					if cfg.Toolchain == "" {
						return "toolchain: (default)", nil
					}
					return "toolchain: " + cfg.Toolchain, nil
				}
				cfg.Toolchain = args
				return "", nil
			},
		},
		{
			Name: "efmt", Usage: "[spec]", Help: "Set the format spec for returned errors ({}, {:?} or {:#?})",
			Run: func(_ context.Context, s *Session, args string) (string, error) {
				cfg := &s.engine.CurrentState().Config
				if args == "" {
					return "efmt: " + cfg.ErrorFormat, nil
				}
				switch args {
				case "{}", "{:?}", "{:#?}":
					cfg.ErrorFormat = args
					return "", nil
				default:
					return "", fmt.Errorf("invalid error format %q", args)
				}
			},
		},
		{
			Name: "last_compile_dir", Help: "Print the directory holding the last compiled crate",
			Run: func(_ context.Context, s *Session, _ string) (string, error) {
				return s.engine.CompileDir(), nil
			},
		},
		{
			Name: "last_error_json", Help: "Print the last compilation errors as raw JSON",
			Run: func(_ context.Context, s *Session, _ string) (string, error) {
				errs := s.engine.LastErrors()
				if len(errs) == 0 {
					return "(no errors)", nil
				}
				lines := make([]string, 0, len(errs))
				for _, e := range errs {
					lines = append(lines, string(e.JSON()))
				}
				return strings.Join(lines, "\n"), nil
			},
		},
		{
			Name: "explain", Help: "Show the long explanation for the last error code",
			Run: func(_ context.Context, s *Session, _ string) (string, error) {
				for _, e := range s.engine.LastErrors() {
					if text := e.Explanation(); text != "" {
						return text, nil
					}
				}
				return "", fmt.Errorf("no explanation available for the last error")
			},
		},
	}
}

// parseDepArgs splits ":dep name = config" registrations. A bare name
// means any version.
func parseDepArgs(args string) (name, config string, err error) {
	name, config, found := strings.Cut(args, "=")
	name = strings.TrimSpace(name)
	config = strings.TrimSpace(config)
	if name == "" {
		return "", "", fmt.Errorf("usage: :dep name [= config]")
	}
	if strings.ContainsAny(name, " \t") {
		return "", "", fmt.Errorf("invalid crate name %q", name)
	}
	if !found {
		config = `"*"`
	} else if config == "" {
		return "", "", fmt.Errorf("missing configuration after = in :dep %s", args)
	}
	return name, config, nil
}

func setBool(label string, target *bool, args string) (string, error) {
	switch args {
	case "":
		if *target {
			return label + ": on", nil
		}
		return label + ": off", nil
	case "on", "true", "1":
		*target = true
	case "off", "false", "0":
		*target = false
	default:
		return "", fmt.Errorf("expected on or off, got %q", args)
	}
	return "", nil
}
