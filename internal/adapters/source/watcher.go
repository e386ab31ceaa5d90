package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/okian/barrace/internal/domain/model"
	"github.com/okian/barrace/pkg/logger"
	"github.com/okian/barrace/pkg/metrics"
)

// LoadFunc receives the rows of a freshly parsed file.
type LoadFunc func(ctx context.Context, path string, rows []model.Row) error

// Watcher reloads a CSV file whenever it changes on disk. Every reload is a
// full replacement of the dataset behind the file.
type Watcher struct {
	path        string
	load        LoadFunc
	debounce    time.Duration
	initialLoad bool
	logger      logger.Logger

	reloads  atomic.Int64
	failures atomic.Int64
}

// NewWatcher creates a watcher for path. Nothing is watched until Run.
func NewWatcher(path string, load LoadFunc, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	w := &Watcher{
		path:        abs,
		load:        load,
		debounce:    DefaultDebounce,
		initialLoad: true,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named("source")
	}
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Reloads returns how many reloads reached the LoadFunc successfully.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// Failures returns how many reloads failed to read, parse or load.
func (w *Watcher) Failures() int64 { return w.failures.Load() }

// Run loads the file once, then watches its directory until ctx is done.
// The directory is watched rather than the file so editors that replace the
// file by rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.logger.Info(ctx, "watching dataset file",
		logger.String("path", w.path),
		logger.Duration("debounce_ms", w.debounce),
	)

	if w.initialLoad {
		w.reload(ctx)
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	target := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "dataset watcher stopped", logger.String("path", w.path))
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			switch {
			case ev.Op&fsnotify.Remove != 0:
				w.logger.Warn(ctx, "dataset file removed", logger.String("path", w.path))
			case ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			metrics.RecordErrorByComponent("source", "watch")
			w.logger.Warn(ctx, "watch error", logger.Error(err))

		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	rows, err := w.read()
	if err == nil {
		err = w.load(ctx, w.path, rows)
	}
	if err != nil {
		w.failures.Add(1)
		metrics.RecordErrorByComponent("source", "reload_failed")
		w.logger.Warn(ctx, "dataset file not loaded", logger.String("path", w.path), logger.Error(err))
		return
	}

	w.reloads.Add(1)
	metrics.RecordSourceReload()
	w.logger.Info(ctx, "dataset file loaded", logger.String("path", w.path), logger.Int("rows", len(rows)))
}

func (w *Watcher) read() ([]model.Row, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ParseCSV(f)
}
