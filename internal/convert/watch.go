package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jkarvonen/topdf/internal/mimemap"
)

// Watcher converts files as they appear in the input directory. Events are
// debounced per path so a file still being written is not uploaded half-way
// through; conversion starts once the path has been quiet for the debounce
// window.
type Watcher struct {
	runner    *Runner
	inputDir  string
	outputDir string
	debounce  time.Duration
	logger    *slog.Logger

	// newWatcher is swapped in tests to inject a prepared fsnotify watcher.
	newWatcher func() (*fsnotify.Watcher, error)
}

// NewWatcher creates a Watcher that dispatches through the given runner.
func NewWatcher(runner *Runner, inputDir, outputDir string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	if debounce <= 0 {
		debounce = time.Second
	}

	return &Watcher{
		runner:     runner,
		inputDir:   inputDir,
		outputDir:  outputDir,
		debounce:   debounce,
		logger:     logger,
		newWatcher: fsnotify.NewWatcher,
	}
}

// Run watches the input directory until the context is canceled. Each
// flush of quiet paths goes through the same bounded pool and retry policy
// as a normal batch.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("convert: creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.inputDir); err != nil {
		return fmt.Errorf("convert: watching %s: %w", w.inputDir, err)
	}

	w.logger.Info("watching for new documents",
		slog.String("dir", w.inputDir),
		slog.Duration("debounce", w.debounce),
	)

	// pending maps path -> time of its last write event.
	pending := make(map[string]time.Time)

	timer := time.NewTimer(w.debounce)
	defer timer.Stop()

	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watch stopped")
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("convert: watcher event channel closed")
			}

			if !w.eligible(event) {
				continue
			}

			w.logger.Debug("file event",
				slog.String("path", event.Name),
				slog.String("op", event.Op.String()),
			)

			pending[event.Name] = time.Now()
			resetTimer(timer, w.debounce)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return errors.New("convert: watcher error channel closed")
			}

			w.logger.Warn("watcher error", slog.String("error", watchErr.Error()))

		case <-timer.C:
			ready := w.takeQuiet(pending)
			if len(ready) > 0 {
				if _, err := w.runner.Run(ctx, ready, w.outputDir); err != nil {
					return err
				}
			}

			if len(pending) > 0 {
				resetTimer(timer, w.debounce)
			}
		}
	}
}

// eligible reports whether an fsnotify event concerns a convertible file.
// Only creations and writes matter; chmod, rename, and remove events never
// produce new content to convert.
func (w *Watcher) eligible(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}

	return mimemap.Supported(event.Name)
}

// takeQuiet removes and returns sources for all pending paths whose last
// event is older than the debounce window. Paths that vanished or stopped
// being regular files are dropped.
func (w *Watcher) takeQuiet(pending map[string]time.Time) []Source {
	now := time.Now()

	var ready []Source

	for path, last := range pending {
		if now.Sub(last) < w.debounce {
			continue
		}

		delete(pending, path)

		src, err := statSource(path)
		if err != nil {
			w.logger.Warn("pending file no longer convertible",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)

			continue
		}

		ready = append(ready, src)
	}

	return ready
}

// resetTimer safely re-arms a timer whose channel may hold a stale tick.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}

	t.Reset(d)
}
