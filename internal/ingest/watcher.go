// Package ingest turns image files dropped into an inbox directory into jobs.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/services/jobs"
)

const (
	processedDir = "processed"
	failedDir    = "failed"

	// files left behind by a transient error are retried this often
	rescanInterval = time.Minute
)

type Submitter interface {
	SubmitImage(ctx context.Context, up jobs.ImageUpload) (*entity.Job, error)
}

// Inbox watches a single directory. Submitted files move to processed/,
// rejected ones to failed/. Files that hit a transient error stay put.
type Inbox struct {
	dir      string
	debounce time.Duration
	submit   Submitter
	logger   *slog.Logger
}

func NewInbox(dir string, debounce time.Duration, submitter Submitter, logger *slog.Logger) (*Inbox, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("inbox: no directory configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, sub := range []string{"", processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("inbox: create %s: %w", sub, err)
		}
	}
	return &Inbox{dir: dir, debounce: debounce, submit: submitter, logger: logger}, nil
}

// Scan submits every eligible file already in the inbox.
func (i *Inbox) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		return 0, fmt.Errorf("inbox: read dir: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !eligible(e.Name()) {
			continue
		}
		if i.ingest(ctx, filepath.Join(i.dir, e.Name())) {
			n++
		}
	}
	return n, nil
}

// Run scans the inbox once, then watches it until ctx is cancelled. Bursts of
// write events for the same file are coalesced over the debounce window.
func (i *Inbox) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: create watcher: %w", err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			i.logger.Warn("inbox.watcher.close_failed", "error", err)
		}
	}()
	if err := w.Add(i.dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", i.dir, err)
	}
	i.logger.Info("inbox.watching", "dir", i.dir, "debounce", i.debounce)

	if _, err := i.Scan(ctx); err != nil {
		i.logger.Error("inbox.scan.failed", "error", err)
	}

	rescan := time.NewTicker(rescanInterval)
	defer rescan.Stop()

	pending := map[string]time.Time{}
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	flush := func(now time.Time) {
		var next time.Duration
		for p, due := range pending {
			if wait := due.Sub(now); wait > 0 {
				if next == 0 || wait < next {
					next = wait
				}
				continue
			}
			delete(pending, p)
			i.ingest(ctx, p)
		}
		if next > 0 {
			timer.Reset(next)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-w.Events:
			if !ok {
				return nil
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 || !eligible(e.Name) {
				continue
			}
			pending[e.Name] = time.Now().Add(i.debounce)
			if i.debounce <= 0 {
				flush(time.Now())
				continue
			}
			if len(pending) == 1 {
				timer.Reset(i.debounce)
			}
		case <-timer.C:
			flush(time.Now())
		case <-rescan.C:
			if _, err := i.Scan(ctx); err != nil {
				i.logger.Error("inbox.scan.failed", "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			i.logger.Error("inbox.watcher.error", "error", err)
		}
	}
}

// ingest submits one file and reports whether a job was created.
func (i *Inbox) ingest(ctx context.Context, path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		// already moved or not a plain file
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		i.logger.Warn("inbox.read.failed", "path", path, "error", err)
		return false
	}
	job, err := i.submit.SubmitImage(ctx, jobs.ImageUpload{Data: data, Filename: filepath.Base(path)})
	switch {
	case err == nil:
	case errors.Is(err, common.ErrQueueFull):
		i.logger.Warn("inbox.submit.deferred", "path", path, "error", err)
		return false
	case errors.Is(err, common.ErrInvalidInput):
		i.logger.Warn("inbox.submit.rejected", "path", path, "error", err)
		i.move(path, failedDir)
		return false
	default:
		i.logger.Error("inbox.submit.failed", "path", path, "error", err)
		return false
	}
	i.move(path, processedDir)
	i.logger.Info("inbox.submitted", "path", path, "job_id", job.ID)
	return true
}

func (i *Inbox) move(path, sub string) {
	dst := filepath.Join(i.dir, sub, filepath.Base(path))
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(dst)
		dst = strings.TrimSuffix(dst, ext) + "_" + time.Now().UTC().Format("20060102T150405.000000000") + ext
	} else if !errors.Is(err, fs.ErrNotExist) {
		i.logger.Warn("inbox.move.failed", "path", path, "error", err)
		return
	}
	if err := os.Rename(path, dst); err != nil {
		i.logger.Warn("inbox.move.failed", "path", path, "dst", dst, "error", err)
	}
}

func eligible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return constants.IsAllowedExt(filepath.Ext(base))
}
