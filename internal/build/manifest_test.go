package build

import (
	"strings"
	"testing"

	"rivet/internal/state"
)

func TestManifestShape(t *testing.T) {
	cfg := state.DefaultConfig()
	deps := []state.ExternalCrate{
		{Name: "serde", Config: `{ version = "1.0", features = ["derive"] }`},
		{Name: "rand", Config: `"0.8"`},
	}
	m, err := Manifest(deps, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`name = "rivet_unit"`,
		`edition = "2021"`,
		`crate-type = ["cdylib"]`,
		`name = "rivet_worker"`,
		`path = "src/bin/worker.rs"`,
		"opt-level = 2",
		"[dependencies]",
		`serde = { version = "1.0", features = ["derive"] }`,
		`rand = "0.8"`,
		`libloading = "0.8"`,
	} {
		if !strings.Contains(m, want) {
			t.Errorf("manifest missing %q:\n%s", want, m)
		}
	}
	if strings.Contains(m, "tokio") {
		t.Error("tokio added without async mode")
	}
}

func TestManifestAsyncAddsTokio(t *testing.T) {
	cfg := state.DefaultConfig()
	cfg.AsyncMode = true
	m, err := Manifest(nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(m, `tokio = { version = "1", features = ["full"] }`) {
		t.Errorf("tokio missing in async mode:\n%s", m)
	}
}

func TestManifestUserDepWins(t *testing.T) {
	cfg := state.DefaultConfig()
	cfg.AsyncMode = true
	deps := []state.ExternalCrate{{Name: "tokio", Config: `"1.38"`}}
	m, err := Manifest(deps, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(m, "tokio") != 1 || !strings.Contains(m, `tokio = "1.38"`) {
		t.Errorf("user tokio registration not honored:\n%s", m)
	}
}

func TestManifestStringOptLevel(t *testing.T) {
	cfg := state.DefaultConfig()
	cfg.OptLevel = "s"
	m, err := Manifest(nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(m, `opt-level = "s"`) {
		t.Errorf("size opt level not quoted:\n%s", m)
	}
}
