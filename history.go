package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkarvonen/topdf/internal/journal"
)

// History command flags.
var (
	flagHistoryRun   string
	flagHistoryLimit int
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past conversion runs",
		Long: "Lists recent conversion runs from the local journal. " +
			"Pass --run with a run ID to see the per-file outcomes of that run.",
		RunE: runHistory,
	}

	cmd.Flags().StringVar(&flagHistoryRun, "run", "", "show per-file entries for this run ID")
	cmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "number of runs to list")

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	jnl, err := journal.Open(resolvedCfg.JournalPath(), logger)
	if err != nil {
		return err
	}
	defer jnl.Close()

	if flagHistoryRun != "" {
		return printEntries(cmd, jnl)
	}

	return printRuns(cmd, jnl)
}

func printRuns(cmd *cobra.Command, jnl *journal.Journal) error {
	runs, err := jnl.ListRuns(cmd.Context(), flagHistoryLimit)
	if err != nil {
		return err
	}

	if flagJSON {
		return encodeJSON(runs)
	}

	if len(runs) == 0 {
		statusf("No conversion runs recorded yet.\n")
		return nil
	}

	rows := make([][]string, 0, len(runs))

	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.Mode,
			formatTime(r.StartedAt),
			formatDuration(time.Duration(r.ElapsedMS) * time.Millisecond),
			strconv.Itoa(r.Succeeded),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Skipped),
		})
	}

	printTable(os.Stdout, []string{"RUN", "MODE", "STARTED", "ELAPSED", "OK", "FAIL", "SKIP"}, rows)

	return nil
}

func printEntries(cmd *cobra.Command, jnl *journal.Journal) error {
	entries, err := jnl.ListEntries(cmd.Context(), flagHistoryRun)
	if err != nil {
		return err
	}

	if flagJSON {
		return encodeJSON(entries)
	}

	if len(entries) == 0 {
		statusf("No entries for run %s.\n", flagHistoryRun)
		return nil
	}

	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		detail := e.OutputPath
		if e.Error != "" {
			detail = firstLine(e.Error)
		}

		rows = append(rows, []string{
			e.SourcePath,
			formatSize(e.SizeBytes),
			e.Status,
			strconv.Itoa(e.Attempts),
			detail,
		})
	}

	printTable(os.Stdout, []string{"FILE", "SIZE", "STATUS", "ATTEMPTS", "DETAIL"}, rows)

	return nil
}

func encodeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
