package observ

import (
	"errors"
	"strings"
	"testing"
)

func TestTimerPhases(t *testing.T) {
	tm := NewTimer()
	idx := tm.Begin(PhaseCompile)
	tm.End(idx, "")
	if err := tm.Time(PhaseRun, func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	report := tm.Report()
	if len(report.Phases) != 2 {
		t.Fatalf("phases = %d, want 2", len(report.Phases))
	}
	if report.Phases[0].Name != PhaseCompile || report.Phases[1].Name != PhaseRun {
		t.Errorf("phase names = %v", report.Phases)
	}
}

func TestTimerTimePropagatesError(t *testing.T) {
	tm := NewTimer()
	want := errors.New("boom")
	if err := tm.Time(PhaseCompile, func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
	if note := tm.Report().Phases[0].Note; note != "failed" {
		t.Errorf("note = %q", note)
	}
}

func TestTimerSummary(t *testing.T) {
	tm := NewTimer()
	tm.End(tm.Begin(PhaseSynthesize), "")
	s := tm.Summary()
	if !strings.Contains(s, PhaseSynthesize) || !strings.Contains(s, "total") {
		t.Errorf("summary = %q", s)
	}
}
