package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// CLIOverrides holds values from command-line flags. Empty/zero fields mean
// "not set" and leave the lower layers untouched.
type CLIOverrides struct {
	ConfigPath string
	InputDir   string
	OutputDir  string
	Workers    int
}

// Load reads and parses a TOML config file. Unknown keys are fatal with
// "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with default values. First runs need no config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies the full override chain (defaults -> config file ->
// environment -> CLI flags) and returns a validated Resolved config.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// Config path: CLI > env > default.
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg, env)
	applyCLI(cfg, cli)

	resolved, err := validate(cfg)
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return resolved, nil
}

// applyEnv overlays environment variables onto the file/default values.
func applyEnv(cfg *Config, env EnvOverrides) {
	if env.InputDir != "" {
		cfg.Paths.InputDir = env.InputDir
	}

	if env.OutputDir != "" {
		cfg.Paths.OutputDir = env.OutputDir
	}

	if env.ClientID != "" {
		cfg.Auth.ClientID = env.ClientID
	}

	if env.ClientSecret != "" {
		cfg.Auth.ClientSecret = env.ClientSecret
	}

	if env.ServiceAccountKey != "" {
		cfg.Auth.ServiceAccountKey = env.ServiceAccountKey
	}
}

// applyCLI overlays command-line flags. Flags always win.
func applyCLI(cfg *Config, cli CLIOverrides) {
	if cli.InputDir != "" {
		cfg.Paths.InputDir = cli.InputDir
	}

	if cli.OutputDir != "" {
		cfg.Paths.OutputDir = cli.OutputDir
	}

	if cli.Workers > 0 {
		cfg.Convert.Workers = cli.Workers
	}
}
