package convert

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/jkarvonen/topdf/internal/mimemap"
)

// Report aggregates the per-file outcomes of one batch.
type Report struct {
	Succeeded     int
	Failed        int
	Skipped       int
	BytesUploaded int64
	Elapsed       time.Duration
	Outcomes      []Outcome
}

// Total returns the number of files the batch looked at.
func (r *Report) Total() int {
	return r.Succeeded + r.Failed + r.Skipped
}

// Discover lists the eligible files in the input directory: regular files
// with a supported office extension, sorted by lowercase name for stable
// ordering. Files that cannot be stat'ed are logged and dropped.
func Discover(inputDir string, logger *slog.Logger) ([]Source, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, fmt.Errorf("convert: reading input directory: %w", err)
	}

	sources := make([]Source, 0, len(entries))

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		if !mimemap.Supported(entry.Name()) {
			logger.Debug("unsupported file ignored", slog.String("name", entry.Name()))
			continue
		}

		src, err := statSource(filepath.Join(inputDir, entry.Name()))
		if err != nil {
			logger.Warn("cannot stat input file, dropping",
				slog.String("name", entry.Name()),
				slog.String("error", err.Error()),
			)

			continue
		}

		sources = append(sources, src)
	}

	slices.SortFunc(sources, func(a, b Source) int {
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})

	return sources, nil
}

// statSource builds a Source for a path with a supported extension. The
// base name is NFC-normalized so output names are stable across filesystems
// that decompose Unicode (macOS).
func statSource(path string) (Source, error) {
	format, ok := mimemap.Lookup(path)
	if !ok {
		return Source{}, fmt.Errorf("convert: unsupported extension: %s", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Source{}, err
	}

	if !info.Mode().IsRegular() {
		return Source{}, fmt.Errorf("convert: not a regular file: %s", path)
	}

	return Source{
		Path:    path,
		Name:    norm.NFC.String(filepath.Base(path)),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Format:  format,
	}, nil
}

// Runner dispatches conversions through a bounded worker pool. Per-file
// failures are recorded and never abort the batch; only context
// cancellation stops the pool early.
type Runner struct {
	conv    *Converter
	workers int
	logger  *slog.Logger

	// OnOutcome, when set, is called serially in completion order as each
	// file finishes. The CLI uses it for progress lines and the journal.
	OnOutcome func(done, total int, o Outcome)
}

// NewRunner creates a Runner with the given worker count (minimum 1;
// one worker reproduces strictly sequential conversion).
func NewRunner(conv *Converter, workers int, logger *slog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{conv: conv, workers: workers, logger: logger}
}

// Run converts all sources and returns the aggregated report. The returned
// error is non-nil only when the context was canceled; the report still
// covers every file that completed before cancellation.
func (r *Runner) Run(ctx context.Context, sources []Source, outputDir string) (*Report, error) {
	start := time.Now()
	report := &Report{}

	if len(sources) == 0 {
		r.logger.Warn("no supported files in input directory")
		report.Elapsed = time.Since(start)

		return report, nil
	}

	r.logger.Info("starting batch",
		slog.Int("files", len(sources)),
		slog.Int("workers", r.workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	var mu gosync.Mutex

	total := len(sources)

	for _, src := range sources {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			outcome := r.conv.Convert(gctx, src, outputDir)

			mu.Lock()
			defer mu.Unlock()

			switch outcome.Status {
			case StatusSuccess:
				report.Succeeded++
				report.BytesUploaded += outcome.BytesUploaded
			case StatusFailed:
				report.Failed++
			case StatusSkipped:
				report.Skipped++
			}

			report.Outcomes = append(report.Outcomes, outcome)

			if r.OnOutcome != nil {
				r.OnOutcome(len(report.Outcomes), total, outcome)
			}

			return nil
		})
	}

	err := g.Wait()
	report.Elapsed = time.Since(start)

	r.logger.Info("batch finished",
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
		slog.Duration("elapsed", report.Elapsed),
	)

	if err != nil {
		return report, fmt.Errorf("convert: batch interrupted: %w", err)
	}

	return report, nil
}
