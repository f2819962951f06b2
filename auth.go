package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/jkarvonen/topdf/internal/drive"
	"github.com/jkarvonen/topdf/internal/tokenfile"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with Google Drive in the browser",
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved authentication token",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated Google account",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	if resolvedCfg.ServiceAccountKey != "" {
		return errors.New("a service account key is configured; browser login is not needed")
	}

	settings := drive.OAuthSettings{
		ClientID:     resolvedCfg.ClientID,
		ClientSecret: resolvedCfg.ClientSecret,
		TokenPath:    resolvedCfg.TokenPath,
	}

	ts, err := drive.LoginWithBrowser(cmd.Context(), settings, openBrowser, logger)
	if err != nil {
		return err
	}

	// Fetch the account identity once and cache it next to the token, so
	// whoami works offline afterwards.
	client := newDriveClient(ts, logger)

	user, err := client.About(cmd.Context())
	if err != nil {
		logger.Warn("could not fetch account info after login", slog.String("error", err.Error()))
		statusf("Login successful.\n")

		return nil
	}

	if err := tokenfile.MergeMeta(resolvedCfg.TokenPath, map[string]string{
		tokenfile.MetaEmail: user.Email,
	}); err != nil {
		logger.Warn("could not cache account email", slog.String("error", err.Error()))
	}

	statusf("Logged in as %s (%s).\n", user.DisplayName, user.Email)

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	if err := drive.Logout(resolvedCfg.TokenPath, logger); err != nil {
		return err
	}

	statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email"`
	Source      string `json:"source"` // "live" or "cached"
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	ts, err := tokenSource(cmd, logger)
	if err != nil {
		return err
	}

	client := newDriveClient(ts, logger)

	user, err := client.About(cmd.Context())
	if err == nil {
		return printWhoami(whoamiOutput{
			DisplayName: user.DisplayName,
			Email:       user.Email,
			Source:      "live",
		})
	}

	// Offline fallback: the email cached at login time.
	logger.Debug("live account lookup failed, trying cache", slog.String("error", err.Error()))

	_, meta, loadErr := tokenfile.Load(resolvedCfg.TokenPath)
	if loadErr == nil && meta[tokenfile.MetaEmail] != "" {
		return printWhoami(whoamiOutput{
			Email:  meta[tokenfile.MetaEmail],
			Source: "cached",
		})
	}

	return fmt.Errorf("fetching account info: %w", err)
}

func printWhoami(out whoamiOutput) error {
	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	if out.DisplayName != "" {
		fmt.Printf("Logged in as %s (%s)\n", out.DisplayName, out.Email)
	} else {
		fmt.Printf("Logged in as %s (cached)\n", out.Email)
	}

	return nil
}

// openBrowser launches the default browser for the OAuth consent page.
// If it fails, the login flow prints the URL for manual opening.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "linux":
		return exec.Command("xdg-open", url).Start()
	default:
		return fmt.Errorf("cannot open browser on %s", runtime.GOOS)
	}
}
