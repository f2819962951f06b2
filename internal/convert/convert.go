// Package convert implements the office-to-PDF conversion pipeline: per-file
// upload/export/delete sequencing with retry, batch discovery and dispatch
// through a bounded worker pool, and directory watch mode. The actual format
// conversion happens inside Google Drive; this package only orchestrates it.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/jkarvonen/topdf/internal/drive"
	"github.com/jkarvonen/topdf/internal/mimemap"
)

// Per-file retry policy: a fixed attempt budget with doubling backoff plus
// a small uniform jitter. HTTP 400 from Drive means the service cannot
// convert the document at all, so retrying is pointless.
const (
	retryBaseBackoff = 1 * time.Second
	retryFactor      = 2
	retryJitterMax   = 200 * time.Millisecond
)

// Status is the outcome classification for one file. Every file ends up in
// exactly one of these buckets.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Source is one discovered input file.
type Source struct {
	Path    string // full path to the local file
	Name    string // NFC-normalized base name, used for output naming
	Size    int64
	ModTime time.Time
	Format  mimemap.Format
}

// Outcome is the result of converting (or skipping) one source file.
type Outcome struct {
	Source        Source
	Status        Status
	OutputPath    string
	Attempts      int
	Duration      time.Duration
	BytesUploaded int64
	Reason        string // set for skips
	Err           error  // set for failures
}

// API is the slice of the Drive client the pipeline needs. Defined at the
// consumer so tests can fake the remote service.
type API interface {
	CreateWithConversion(ctx context.Context, name, sourceMIME, targetMIME string, content io.Reader) (string, error)
	ResumableUpload(ctx context.Context, name, sourceMIME, targetMIME string,
		content io.ReadSeeker, size, chunkSize int64) (string, error)
	ExportPDF(ctx context.Context, fileID string, w io.Writer) (int64, error)
	Delete(ctx context.Context, fileID string) error
}

// Config tunes the per-file pipeline.
type Config struct {
	// Attempts is the per-file retry budget (minimum 1).
	Attempts int
	// ResumableThreshold is the file size above which the chunked
	// resumable upload is used instead of a single multipart request.
	ResumableThreshold int64
	// ChunkSize is the resumable upload chunk size.
	ChunkSize int64
	// StrictTypes skips files whose sniffed content type does not match
	// their extension instead of uploading them anyway.
	StrictTypes bool
}

// Converter runs the per-file conversion sequence against a Drive API.
type Converter struct {
	api    API
	cfg    Config
	logger *slog.Logger

	// sleepFunc waits between retry attempts. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
	// jitterFunc returns the random retry jitter. Tests override it.
	jitterFunc func() time.Duration
}

// New creates a Converter.
func New(api API, cfg Config, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}

	return &Converter{
		api:        api,
		cfg:        cfg,
		logger:     logger,
		sleepFunc:  sleepCtx,
		jitterFunc: func() time.Duration { return time.Duration(rand.Int64N(int64(retryJitterMax))) }, //nolint:gosec // jitter does not need crypto rand
	}
}

// OutputPath returns where the PDF for the given source lands.
func OutputPath(src Source, outputDir string) string {
	stem := strings.TrimSuffix(src.Name, filepath.Ext(src.Name))
	return filepath.Join(outputDir, stem+".pdf")
}

// UpToDate reports whether the output PDF already exists and is at least as
// new as the source, which makes re-converting it pointless.
func UpToDate(src Source, outputDir string) bool {
	info, err := os.Stat(OutputPath(src, outputDir))
	if err != nil {
		return false
	}

	return !info.ModTime().Before(src.ModTime)
}

// Convert runs the full sequence for one file: skip checks, upload with
// conversion, PDF export, and cloud-copy deletion, retrying transient
// failures within the attempt budget. It never returns an error — the
// Outcome carries the classification.
func (c *Converter) Convert(ctx context.Context, src Source, outputDir string) Outcome {
	start := time.Now()
	outPath := OutputPath(src, outputDir)

	if UpToDate(src, outputDir) {
		c.logger.Debug("output up to date, skipping",
			slog.String("source", src.Path),
			slog.String("output", outPath),
		)

		return Outcome{Source: src, Status: StatusSkipped, OutputPath: outPath,
			Reason: "output is up to date", Duration: time.Since(start)}
	}

	if skip, reason := c.checkContentType(src); skip {
		return Outcome{Source: src, Status: StatusSkipped, OutputPath: outPath,
			Reason: reason, Duration: time.Since(start)}
	}

	var lastErr error

	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		bytesUploaded, err := c.convertOnce(ctx, src, outPath)
		if err == nil {
			c.logger.Info("converted",
				slog.String("source", src.Path),
				slog.String("output", outPath),
				slog.Int("attempt", attempt),
			)

			return Outcome{Source: src, Status: StatusSuccess, OutputPath: outPath,
				Attempts: attempt, BytesUploaded: bytesUploaded, Duration: time.Since(start)}
		}

		lastErr = err

		if errors.Is(err, drive.ErrBadRequest) {
			// The service rejected the document outright — no retry can fix it.
			c.logger.Error("conversion rejected by service",
				slog.String("source", src.Path),
				slog.String("error", err.Error()),
			)

			return Outcome{Source: src, Status: StatusFailed, OutputPath: outPath,
				Attempts: attempt, Err: err, Duration: time.Since(start)}
		}

		if ctx.Err() != nil {
			break
		}

		if attempt < c.cfg.Attempts {
			backoff := c.retryBackoff(attempt)
			c.logger.Warn("conversion attempt failed, retrying",
				slog.String("source", src.Path),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				break
			}
		}
	}

	c.logger.Error("conversion failed",
		slog.String("source", src.Path),
		slog.String("error", lastErr.Error()),
	)

	return Outcome{Source: src, Status: StatusFailed, OutputPath: outPath,
		Attempts: c.cfg.Attempts, Err: lastErr, Duration: time.Since(start)}
}

// checkContentType sniffs the file content and compares it against the
// extension's registered MIME type. A mismatch is logged; with StrictTypes
// it becomes a skip.
func (c *Converter) checkContentType(src Source) (skip bool, reason string) {
	mtype, err := mimetype.DetectFile(src.Path)
	if err != nil {
		// Sniffing is advisory — an unreadable file will fail properly at
		// upload time with a better error.
		return false, ""
	}

	if mtype.Is(src.Format.SourceMIME) {
		return false, ""
	}

	c.logger.Warn("content type does not match extension",
		slog.String("source", src.Path),
		slog.String("detected", mtype.String()),
		slog.String("expected", src.Format.SourceMIME),
	)

	if c.cfg.StrictTypes {
		return true, fmt.Sprintf("content type %s does not match extension", mtype.String())
	}

	return false, ""
}

// convertOnce performs a single upload -> export -> delete pass. The cloud
// copy is deleted best-effort on every exit path, so a failed export never
// leaks a document into Drive — including between retry attempts.
func (c *Converter) convertOnce(ctx context.Context, src Source, outPath string) (int64, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return 0, fmt.Errorf("opening source: %w", err)
	}
	defer f.Close()

	stem := strings.TrimSuffix(src.Name, filepath.Ext(src.Name))

	var fileID string
	if src.Size > c.cfg.ResumableThreshold {
		fileID, err = c.api.ResumableUpload(ctx, stem, src.Format.SourceMIME, src.Format.TargetMIME,
			f, src.Size, c.cfg.ChunkSize)
	} else {
		fileID, err = c.api.CreateWithConversion(ctx, stem, src.Format.SourceMIME, src.Format.TargetMIME, f)
	}

	if err != nil {
		return 0, fmt.Errorf("uploading: %w", err)
	}

	defer c.deleteCloudCopy(ctx, fileID, src.Path)

	if err := c.exportToFile(ctx, fileID, outPath); err != nil {
		return src.Size, err
	}

	return src.Size, nil
}

// exportToFile streams the PDF export into a temp file in the output
// directory and renames it into place, so readers never see partial PDFs.
func (c *Converter) exportToFile(ctx context.Context, fileID, outPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".topdf-*.pdf")
	if err != nil {
		return fmt.Errorf("creating temp output: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := c.api.ExportPDF(ctx, fileID, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("exporting PDF: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp output: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("renaming output into place: %w", err)
	}

	success = true

	return nil
}

// deleteCloudCopy removes the temporary Drive document. Failures are logged
// but never fail the conversion — the drive.file scope isolates leftovers.
// Deletion runs even when ctx is canceled so an interrupted batch does not
// strand documents.
func (c *Converter) deleteCloudCopy(ctx context.Context, fileID, sourcePath string) {
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := c.api.Delete(deleteCtx, fileID); err != nil {
		c.logger.Warn("failed to delete cloud copy",
			slog.String("source", sourcePath),
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}
}

// retryBackoff computes the wait before the next attempt: base doubling per
// attempt plus uniform jitter.
func (c *Converter) retryBackoff(attempt int) time.Duration {
	backoff := retryBaseBackoff
	for i := 1; i < attempt; i++ {
		backoff *= retryFactor
	}

	return backoff + c.jitterFunc()
}

// sleepCtx waits for the given duration or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
