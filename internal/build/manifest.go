package build

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"rivet/internal/state"
)

const (
	crateName  = "rivet_unit"
	workerName = "rivet_worker"
)

type manifestPackage struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Edition string `toml:"edition"`
}

type manifestLib struct {
	Path      string   `toml:"path"`
	CrateType []string `toml:"crate-type"`
}

type manifestBin struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

type manifestDoc struct {
	Package manifestPackage           `toml:"package"`
	Lib     manifestLib               `toml:"lib"`
	Bin     []manifestBin             `toml:"bin"`
	Profile map[string]map[string]any `toml:"profile"`
}

// Manifest renders the evaluation crate's manifest. Dependency
// configurations are caller-supplied manifest fragments (a version string or
// an inline table) and are appended verbatim.
func Manifest(deps []state.ExternalCrate, cfg state.Config) (string, error) {
	doc := manifestDoc{
		Package: manifestPackage{
			Name:    crateName,
			Version: "0.1.0",
			Edition: cfg.Edition,
		},
		Lib: manifestLib{
			Path:      "src/lib.rs",
			CrateType: []string{"cdylib"},
		},
		Bin: []manifestBin{{
			Name: workerName,
			Path: "src/bin/worker.rs",
		}},
		Profile: map[string]map[string]any{
			"dev": {"opt-level": optLevelValue(cfg.OptLevel)},
		},
	}

	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(doc); err != nil {
		return "", fmt.Errorf("encoding manifest: %w", err)
	}

	sb.WriteString("\n[dependencies]\n")
	for _, dep := range mergeDeps(deps, cfg) {
		fmt.Fprintf(&sb, "%s = %s\n", dep.Name, dep.Config)
	}
	return sb.String(), nil
}

// mergeDeps adds the dependencies every unit needs on top of the
// user-registered set: the loader used by the worker, and the async runtime
// once async mode is on. User registrations win on conflict.
func mergeDeps(deps []state.ExternalCrate, cfg state.Config) []state.ExternalCrate {
	out := make([]state.ExternalCrate, 0, len(deps)+2)
	seen := map[string]bool{}
	for _, dep := range deps {
		out = append(out, dep)
		seen[dep.Name] = true
	}
	if !seen["libloading"] {
		out = append(out, state.ExternalCrate{Name: "libloading", Config: `"0.8"`})
	}
	if cfg.AsyncMode && !seen["tokio"] {
		out = append(out, state.ExternalCrate{Name: "tokio", Config: `{ version = "1", features = ["full"] }`})
	}
	return out
}

// optLevelValue maps the configured level onto the manifest value: numeric
// levels are numbers, "s"/"z" stay strings.
func optLevelValue(level string) any {
	if n, err := strconv.Atoi(level); err == nil {
		return n
	}
	return level
}
