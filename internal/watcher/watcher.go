// Package watcher reloads the served snapshot when the store file is edited
// outside the process.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/metrics"
	"github.com/joemooney/req/internal/storage"
)

// DefaultDebounce collapses the burst of events one save produces.
const DefaultDebounce = 200 * time.Millisecond

// ReloadFunc loads the store again after an external change.
type ReloadFunc func(ctx context.Context) error

// Watch observes the directory holding name and calls reload once per burst
// of changes to the store file or its SQLite write-ahead log. In-flight temp
// files and lock files are ignored, and a burst that leaves the content
// unchanged does not trigger a reload. Watch returns when ctx is cancelled.
func Watch(ctx context.Context, files storage.Provider, name string, debounce time.Duration, logger *slog.Logger, reload ReloadFunc) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(files.Root()); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", files.Root()), slog.String("file", name))

	last := fingerprint(files, name)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-fire:
			fire = nil
			cur := fingerprint(files, name)
			if cur == last {
				logger.Debug("watcher: content unchanged", slog.String("file", name))
				continue
			}
			if err := reload(ctx); err != nil {
				metrics.Reloads.WithLabelValues("error").Inc()
				logger.Warn("watcher: reload failed", slog.String("file", name), slog.String("error", err.Error()))
				continue
			}
			last = cur
			metrics.Reloads.WithLabelValues("ok").Inc()
			logger.Info("watcher: reloaded", slog.String("file", name))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev.Name, name) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func relevant(path, name string) bool {
	base := filepath.Base(path)
	if storage.IsTemp(base) || strings.HasSuffix(base, ".lock") {
		return false
	}
	return base == name || base == name+"-wal"
}

// fingerprint identifies the current content of the store file plus its
// write-ahead log, if any.
func fingerprint(files storage.Provider, name string) string {
	var b strings.Builder
	for _, f := range []string{name, name + "-wal"} {
		info, err := files.Stat(f)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			b.WriteString("-;")
		case err != nil:
			b.WriteString("?;")
		default:
			b.WriteString(info.Checksum)
			b.WriteByte(';')
		}
	}
	return b.String()
}
