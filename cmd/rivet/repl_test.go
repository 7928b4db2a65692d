package main

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rivet/internal/observ"
)

func TestReadUIMode(t *testing.T) {
	cases := []struct {
		in   string
		want uiMode
		ok   bool
	}{
		{"", uiModeAuto, true},
		{"auto", uiModeAuto, true},
		{"ON", uiModeOn, true},
		{"off", uiModeOff, true},
		{"fancy", "", false},
	}
	for _, tc := range cases {
		got, err := readUIMode(tc.in)
		if tc.ok != (err == nil) || got != tc.want {
			t.Errorf("readUIMode(%q) = %q, %v", tc.in, got, err)
		}
	}
}

func TestIsCommandOnly(t *testing.T) {
	if !isCommandOnly(":vars\n:opt 2") {
		t.Error("command-only submission not detected")
	}
	if isCommandOnly(":opt 2\nlet x = 1;") {
		t.Error("mixed submission treated as command-only")
	}
}

func TestReadSubmissionContinuation(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("let x = \\\n1 + 2;\n"))
	src, err := readSubmission(r)
	if err != nil {
		t.Fatal(err)
	}
	if src != "let x = \n1 + 2;" {
		t.Errorf("submission = %q", src)
	}
}

func TestFormatTiming(t *testing.T) {
	got := formatTiming(observ.Report{
		TotalMS: 12.5,
		Phases:  []observ.PhaseReport{{Name: observ.PhaseCompile, DurationMS: 10.0}},
	})
	if !strings.Contains(got, "compile 10.0ms") || !strings.Contains(got, "total 12.5ms") {
		t.Errorf("timing = %q", got)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path := filepath.Join(dir, "rivet", "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	content := "opt = \"s\"\npreserve_vars_on_panic = false\ntiming = true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, user, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OptLevel != "s" || cfg.PreserveVarsOnPanic || !user.Timing {
		t.Errorf("cfg = %+v user = %+v", cfg, user)
	}
	if cfg.Edition != "2021" {
		t.Errorf("edition default lost: %q", cfg.Edition)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, _, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OptLevel != "2" || !cfg.PreserveVarsOnPanic {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}
