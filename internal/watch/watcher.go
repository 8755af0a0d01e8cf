package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"boardhealth/internal/config"
	"boardhealth/internal/ingest"
	"boardhealth/internal/queue"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// Ingester is the part of the ingest service the watcher needs.
type Ingester interface {
	Ingest(ctx context.Context, r io.Reader, source string) (ingest.Report, error)
}

// Watcher monitors the inbox directory for CSV dumps and queues them for
// ingestion. Finished files move to processed/ or failed/.
type Watcher struct {
	dir      string
	enabled  bool
	ingester Ingester
	queue    *queue.Queue
	log      *zap.Logger
	running  sync.Map // path -> struct{}

	settleInterval time.Duration
	settleChecks   int
}

func New(cfg config.Config, ing Ingester, q *queue.Queue, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		dir:            cfg.InboxDir,
		enabled:        cfg.WatcherEnabled(),
		ingester:       ing,
		queue:          q,
		log:            log.Named("watch"),
		settleInterval: 200 * time.Millisecond,
		settleChecks:   2,
	}
}

// Start begins watching and backfills files already in the inbox.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.enabled {
		w.log.Info("watcher disabled")
		return nil
	}
	for _, d := range []string{w.dir, filepath.Join(w.dir, processedDir), filepath.Join(w.dir, failedDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create inbox dir: %w", err)
		}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info("watching inbox", zap.String("dir", w.dir))
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
					w.enqueue(ctx, evt.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("watcher error", zap.Error(err))
			}
		}
	}()
	return w.Backfill(ctx)
}

// Backfill queues CSV files already present in the inbox, in name order.
func (w *Watcher) Backfill(ctx context.Context) error {
	entries, err := filepath.Glob(filepath.Join(w.dir, "*"))
	if err != nil {
		return err
	}
	sort.Strings(entries)
	for _, e := range entries {
		w.enqueue(ctx, e)
	}
	return nil
}

func (w *Watcher) enqueue(ctx context.Context, path string) {
	if !isCSV(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	if _, loaded := w.running.LoadOrStore(path, struct{}{}); loaded {
		return
	}
	job := queue.Job{
		ID:       filepath.Base(path),
		Source:   "inbox",
		Work:     func(ctx context.Context) error { return w.process(ctx, path) },
		OnFinish: func(error) { w.running.Delete(path) },
	}
	if ok, _ := w.queue.EnqueueWithRetry(ctx, job, 5*time.Second, 250*time.Millisecond); !ok {
		w.running.Delete(path)
	}
}

func (w *Watcher) process(ctx context.Context, path string) error {
	if err := waitForStableSize(ctx, path, w.settleInterval, w.settleChecks); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	_, ingestErr := w.ingester.Ingest(ctx, f, filepath.Base(path))
	f.Close()
	if errors.Is(ingestErr, context.Canceled) {
		// Interrupted by shutdown; the next backfill picks the file up again.
		w.log.Info("ingest interrupted, leaving file in inbox", zap.String("file", path))
		return ingestErr
	}

	dest := processedDir
	if ingestErr != nil {
		dest = failedDir
	}
	target := filepath.Join(w.dir, dest, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		w.log.Warn("move inbox file", zap.String("file", path), zap.String("target", target), zap.Error(err))
	}
	return ingestErr
}

// waitForStableSize returns once the file size has stopped changing for
// required consecutive checks.
func waitForStableSize(ctx context.Context, path string, interval time.Duration, required int) error {
	var last int64 = -1
	stable := 0
	for {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat: %w", err)
		}
		size := info.Size()
		if size == last {
			stable++
			if stable >= required {
				return nil
			}
		} else {
			stable = 0
		}
		last = size
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func isCSV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv")
}
