package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jkarvonen/topdf/internal/config"
	"github.com/jkarvonen/topdf/internal/drive"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Resolved

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "topdf",
		Short:   "Batch office-to-PDF converter",
		Long:    "Converts office documents (Word, Excel, PowerPoint) to PDF by round-tripping them through Google Drive.",
		Version: version,
		// Silence Cobra's default error/usage printing; main() handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		// Every subcommand needs the resolved config: the auth commands for
		// credentials and the token path, everything else for directories
		// and pipeline tuning.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
		// Bare invocation converts once with the configured directories.
		Args: cobra.NoArgs,
		RunE: runConvert,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newConvertCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// (defaults -> config file -> environment -> CLI flags) and stores the
// result in resolvedCfg for use by subcommands.
func loadConfig() error {
	// A .env in the working directory feeds the environment layer; handy
	// for keeping GOOGLE_CLIENT_ID out of the shell history.
	if err := config.LoadDotenv(); err != nil {
		return fmt.Errorf("loading .env file: %w", err)
	}

	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. The "auto" format picks
// text on a terminal and JSON when stderr is redirected.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	format := config.DefaultLogFormat

	if resolvedCfg != nil {
		switch resolvedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = resolvedCfg.LogFormat
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "auto" {
		if stderrIsTerminal() {
			format = "text"
		} else {
			format = "json"
		}
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// stderrIsTerminal reports whether stderr is attached to a terminal.
func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// tokenSource picks the credential mechanism: a service-account key when
// configured, otherwise the saved browser-login token.
func tokenSource(cmd *cobra.Command, logger *slog.Logger) (drive.TokenSource, error) {
	if resolvedCfg.ServiceAccountKey != "" {
		return drive.ServiceAccountTokenSource(cmd.Context(), resolvedCfg.ServiceAccountKey, logger)
	}

	settings := drive.OAuthSettings{
		ClientID:     resolvedCfg.ClientID,
		ClientSecret: resolvedCfg.ClientSecret,
		TokenPath:    resolvedCfg.TokenPath,
	}

	ts, err := drive.TokenSourceFromPath(cmd.Context(), settings, logger)
	if err != nil {
		if errors.Is(err, drive.ErrNotLoggedIn) {
			return nil, fmt.Errorf("not logged in: run 'topdf login' first")
		}

		return nil, err
	}

	return ts, nil
}

// newDriveClient builds the Drive API client with the configured timeout
// and user agent.
func newDriveClient(ts drive.TokenSource, logger *slog.Logger) *drive.Client {
	httpClient := &http.Client{Timeout: resolvedCfg.Timeout}

	return drive.NewClient(httpClient, ts, logger, drive.Options{
		UserAgent: resolvedCfg.UserAgent,
	})
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
