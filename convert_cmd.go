package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkarvonen/topdf/internal/config"
	"github.com/jkarvonen/topdf/internal/convert"
	"github.com/jkarvonen/topdf/internal/drive"
	"github.com/jkarvonen/topdf/internal/journal"
)

// nowFunc is injectable for deterministic tests.
var nowFunc = time.Now

// Convert command flags.
var (
	flagInputDir  string
	flagOutputDir string
	flagWorkers   int
	flagWatch     bool
	flagDryRun    bool
)

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert office documents in the input directory to PDF",
		Long: "Uploads each supported file to Google Drive with conversion, exports the " +
			"result as PDF into the output directory, and deletes the cloud copy. " +
			"Files whose PDF is already up to date are skipped.",
		RunE: runConvert,
	}

	cmd.Flags().StringVarP(&flagInputDir, "input", "i", "", "input directory (overrides config)")
	cmd.Flags().StringVarP(&flagOutputDir, "output", "o", "", "output directory (overrides config)")
	cmd.Flags().IntVarP(&flagWorkers, "workers", "w", 0, "parallel conversions (overrides config)")
	cmd.Flags().BoolVar(&flagWatch, "watch", false, "keep running and convert files as they appear")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "list what would be converted without touching the network")

	return cmd
}

func runConvert(cmd *cobra.Command, _ []string) error {
	applyConvertFlags()

	logger := buildLogger()
	cfg := resolvedCfg

	if err := config.EnsureDir(cfg.InputDir); err != nil {
		return err
	}

	if err := config.EnsureDir(cfg.OutputDir); err != nil {
		return err
	}

	if flagDryRun {
		return runDryRun(cfg, logger)
	}

	ts, err := tokenSource(cmd, logger)
	if err != nil {
		return err
	}

	client := newDriveClient(ts, logger)
	conv := convert.New(client, convert.Config{
		Attempts:           cfg.Attempts,
		ResumableThreshold: cfg.ResumableThreshold,
		ChunkSize:          cfg.ChunkSize,
		StrictTypes:        cfg.StrictTypes,
	}, logger)

	runner := convert.NewRunner(conv, cfg.Workers, logger)

	if err := config.EnsureDir(cfg.DataDir); err != nil {
		return err
	}

	jnl, err := journal.Open(cfg.JournalPath(), logger)
	if err != nil {
		return err
	}
	defer jnl.Close()

	ctx := shutdownContext(cmd.Context(), logger)

	if flagWatch {
		return runWatch(ctx, cfg, runner, jnl, logger)
	}

	return runBatch(ctx, cfg, runner, jnl, logger)
}

// applyConvertFlags overlays the convert-specific flags onto the resolved
// config. The generic resolver cannot see them because they only exist on
// this subcommand.
func applyConvertFlags() {
	if flagInputDir != "" {
		resolvedCfg.InputDir = flagInputDir
	}

	if flagOutputDir != "" {
		resolvedCfg.OutputDir = flagOutputDir
	}

	if flagWorkers > 0 {
		resolvedCfg.Workers = flagWorkers
	}
}

// runDryRun lists the conversion candidates and what would happen to each,
// without any network or journal activity.
func runDryRun(cfg *config.Resolved, logger *slog.Logger) error {
	sources, err := convert.Discover(cfg.InputDir, logger)
	if err != nil {
		return err
	}

	if len(sources) == 0 {
		statusf("No supported files in %s.\n", cfg.InputDir)
		return nil
	}

	rows := make([][]string, 0, len(sources))

	for _, src := range sources {
		action := "convert"
		if convert.UpToDate(src, cfg.OutputDir) {
			action = "skip (up to date)"
		}

		rows = append(rows, []string{src.Name, formatSize(src.Size), action})
	}

	printTable(os.Stdout, []string{"FILE", "SIZE", "ACTION"}, rows)

	return nil
}

// recorder bridges pipeline outcomes to the journal and the progress line.
// OnOutcome already serializes calls under the runner's mutex, but watch
// mode runs multiple batches, so the counters keep their own lock.
type recorder struct {
	jnl    *journal.Journal
	runID  string
	logger *slog.Logger

	mu        sync.Mutex
	succeeded int
	failed    int
	skipped   int
}

func (r *recorder) record(done, total int, o convert.Outcome) {
	r.mu.Lock()
	switch o.Status {
	case convert.StatusSuccess:
		r.succeeded++
	case convert.StatusFailed:
		r.failed++
	case convert.StatusSkipped:
		r.skipped++
	}
	r.mu.Unlock()

	if stderrIsTerminal() && !flagQuiet {
		fmt.Fprintf(os.Stderr, "[%d/%d] %-40s %s\n", done, total, o.Source.Name, progressLabel(o))
	}

	entry := journal.Entry{
		RunID:      r.runID,
		SourcePath: o.Source.Path,
		SizeBytes:  o.Source.Size,
		Status:     string(o.Status),
		OutputPath: o.OutputPath,
		Attempts:   o.Attempts,
		DurationMS: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		entry.Error = o.Err.Error()
	}

	// History is best-effort; a journal hiccup must not fail the batch.
	if err := r.jnl.RecordEntry(context.Background(), entry); err != nil {
		r.logger.Warn("journal write failed", slog.String("error", err.Error()))
	}
}

func (r *recorder) totals() (succeeded, failed, skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.succeeded, r.failed, r.skipped
}

// progressLabel renders a one-word outcome for the progress line.
func progressLabel(o convert.Outcome) string {
	switch o.Status {
	case convert.StatusSuccess:
		return "OK"
	case convert.StatusSkipped:
		return "skipped"
	default:
		reason := "failed"
		if o.Err != nil {
			reason = "failed: " + firstLine(o.Err.Error())
		}

		return reason
	}
}

// firstLine truncates multi-line error text for single-line display.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}

	return s
}

// runBatch converts everything currently in the input directory once.
func runBatch(ctx context.Context, cfg *config.Resolved, runner *convert.Runner,
	jnl *journal.Journal, logger *slog.Logger,
) error {
	sources, err := convert.Discover(cfg.InputDir, logger)
	if err != nil {
		return err
	}

	runID, err := jnl.BeginRun(ctx, "batch")
	if err != nil {
		return err
	}

	rec := &recorder{jnl: jnl, runID: runID, logger: logger}
	runner.OnOutcome = rec.record

	report, runErr := runner.Run(ctx, sources, cfg.OutputDir)

	if err := jnl.FinishRun(context.Background(), runID,
		report.Succeeded, report.Failed, report.Skipped, report.Elapsed); err != nil {
		logger.Warn("journal write failed", slog.String("error", err.Error()))
	}

	if runErr != nil {
		return runErr
	}

	// Per-file failures are reported in the summary, not via the exit code;
	// only setup errors and interrupts are fatal.
	statusf("Converted %d, skipped %d, failed %d in %s.\n",
		report.Succeeded, report.Skipped, report.Failed, formatDuration(report.Elapsed))

	for _, o := range report.Outcomes {
		if errors.Is(o.Err, drive.ErrUnauthorized) {
			statusf("Authentication failed; run 'topdf login' to refresh credentials.\n")
			break
		}
	}

	return nil
}

// runWatch converts the existing backlog, then keeps converting files as
// they appear until interrupted. The whole session is one journal run.
func runWatch(ctx context.Context, cfg *config.Resolved, runner *convert.Runner,
	jnl *journal.Journal, logger *slog.Logger,
) error {
	// One watcher per machine; a second invocation would race on outputs.
	cleanup, err := writePIDFile(cfg.PIDPath())
	if err != nil {
		return err
	}
	defer cleanup()

	runID, err := jnl.BeginRun(ctx, "watch")
	if err != nil {
		return err
	}

	rec := &recorder{jnl: jnl, runID: runID, logger: logger}
	runner.OnOutcome = rec.record

	started := nowFunc()

	finish := func() {
		succeeded, failed, skipped := rec.totals()
		if err := jnl.FinishRun(context.Background(), runID,
			succeeded, failed, skipped, nowFunc().Sub(started)); err != nil {
			logger.Warn("journal write failed", slog.String("error", err.Error()))
		}
	}
	defer finish()

	// Drain the backlog first so pre-existing files are not left waiting
	// for a filesystem event that will never come.
	sources, err := convert.Discover(cfg.InputDir, logger)
	if err != nil {
		return err
	}

	if len(sources) > 0 {
		if _, err := runner.Run(ctx, sources, cfg.OutputDir); err != nil {
			return err
		}
	}

	statusf("Watching %s for new documents (Ctrl-C to stop).\n", cfg.InputDir)

	watcher := convert.NewWatcher(runner, cfg.InputDir, cfg.OutputDir, cfg.Debounce, logger)

	return watcher.Run(ctx)
}
