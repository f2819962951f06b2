package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkarvonen/topdf/internal/config"
	"github.com/jkarvonen/topdf/internal/tokenfile"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, authentication state, and watch status",
		RunE:  runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	ConfigPath string `json:"config_path"`
	InputDir   string `json:"input_dir"`
	OutputDir  string `json:"output_dir"`
	Workers    int    `json:"workers"`
	AuthMode   string `json:"auth_mode"`   // "service_account" or "oauth"
	TokenState string `json:"token_state"` // "valid", "expired" or "missing"
	Email      string `json:"email,omitempty"`
	JournalDB  string `json:"journal_db"`
	WatcherPID int    `json:"watcher_pid,omitempty"`
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg := resolvedCfg

	out := statusOutput{
		ConfigPath: effectiveConfigPath(),
		InputDir:   cfg.InputDir,
		OutputDir:  cfg.OutputDir,
		Workers:    cfg.Workers,
		JournalDB:  cfg.JournalPath(),
		WatcherPID: watcherPID(cfg.PIDPath()),
	}

	out.AuthMode, out.TokenState, out.Email = authState()

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	fmt.Printf("Config:   %s\n", out.ConfigPath)
	fmt.Printf("Input:    %s%s\n", out.InputDir, missingNote(out.InputDir))
	fmt.Printf("Output:   %s%s\n", out.OutputDir, missingNote(out.OutputDir))
	fmt.Printf("Workers:  %d\n", out.Workers)

	switch {
	case out.AuthMode == "service_account":
		fmt.Printf("Auth:     service account (%s)\n", cfg.ServiceAccountKey)
	case out.Email != "":
		fmt.Printf("Auth:     %s token for %s\n", out.TokenState, out.Email)
	default:
		fmt.Printf("Auth:     %s token\n", out.TokenState)
	}

	fmt.Printf("Journal:  %s\n", out.JournalDB)

	if out.WatcherPID > 0 {
		fmt.Printf("Watch:    running (PID %d)\n", out.WatcherPID)
	} else {
		fmt.Printf("Watch:    not running\n")
	}

	return nil
}

// missingNote annotates a directory that does not exist yet. Both are
// created on demand by the convert command.
func missingNote(dir string) string {
	if _, err := os.Stat(dir); err != nil {
		return " (missing, created on first convert)"
	}

	return ""
}

// effectiveConfigPath reports which config file the resolver used, or the
// default location with a note when no file exists yet.
func effectiveConfigPath() string {
	path := flagConfigPath
	if path == "" {
		path = os.Getenv(config.EnvConfig)
	}

	if path == "" {
		path = config.DefaultConfigPath()
	}

	if _, err := os.Stat(path); err != nil {
		return path + " (not found, using defaults)"
	}

	return path
}

// authState inspects the configured credential mechanism without touching
// the network.
func authState() (mode, tokenState, email string) {
	cfg := resolvedCfg

	if cfg.ServiceAccountKey != "" {
		return "service_account", "", ""
	}

	tok, meta, err := tokenfile.Load(cfg.TokenPath)
	if err != nil || tok == nil {
		return "oauth", "missing", ""
	}

	tokenState = "valid"
	if !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now()) {
		// An expired access token refreshes silently on next use; this is
		// informational, not an error.
		tokenState = "expired"
	}

	return "oauth", tokenState, meta[tokenfile.MetaEmail]
}
