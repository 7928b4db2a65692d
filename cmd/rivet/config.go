package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"rivet/internal/state"
)

// userConfig is the on-disk session configuration, read from
// $XDG_CONFIG_HOME/rivet/config.toml when present. Flags override it.
type userConfig struct {
	Opt                 string `toml:"opt"`
	Edition             string `toml:"edition"`
	PreserveVarsOnPanic *bool  `toml:"preserve_vars_on_panic"`
	DisplayTypes        bool   `toml:"display_types"`
	Offline             bool   `toml:"offline"`
	Toolchain           string `toml:"toolchain"`
	Timing              bool   `toml:"timing"`
}

func configPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "rivet", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "rivet", "config.toml")
}

// loadConfig builds the session configuration from defaults, the config
// file, and flags, in that order of precedence.
func loadConfig() (state.Config, userConfig, error) {
	cfg := state.DefaultConfig()
	var user userConfig

	path := configPath()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &user); err != nil {
				return cfg, user, fmt.Errorf("reading %s: %w", path, err)
			}
		}
	}

	if user.Opt != "" {
		cfg.OptLevel = user.Opt
	}
	if user.Edition != "" {
		cfg.Edition = user.Edition
	}
	if user.PreserveVarsOnPanic != nil {
		cfg.PreserveVarsOnPanic = *user.PreserveVarsOnPanic
	}
	cfg.DisplayTypes = user.DisplayTypes
	cfg.Offline = user.Offline
	cfg.Toolchain = user.Toolchain
	return cfg, user, nil
}
