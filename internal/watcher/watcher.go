// Package watcher applies logging settings from the config file when it
// changes on disk, so level and format edits take effect without a restart.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Service watches the config file and invokes a reload callback when its
// contents change. Failed reloads keep the previous settings.
type Service struct {
	path     string
	reload   func() error
	logger   *slog.Logger
	debounce time.Duration
}

// NewService creates a config file watcher. reload is called after the file
// changes and is expected to re-read it and apply the new settings.
func NewService(path string, reload func() error, logger *slog.Logger) *Service {
	return &Service{
		path:     path,
		reload:   reload,
		logger:   logger.With("component", "config-watcher"),
		debounce: 1 * time.Second,
	}
}

// SetDebounce overrides the default debounce interval (for testing).
func (s *Service) SetDebounce(d time.Duration) {
	s.debounce = d
}

// Start blocks until ctx is canceled. The parent directory is watched rather
// than the file: editors and configmap mounts replace the file by rename,
// which drops a watch held on the file itself. If fsnotify is unavailable
// the service falls back to mtime polling.
func (s *Service) Start(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("fsnotify unavailable, falling back to mtime polling", "error", err)
		s.pollLoop(ctx)
		return
	}
	defer w.Close() //nolint:errcheck

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		s.logger.Warn("cannot watch config directory, falling back to mtime polling",
			"path", dir, "error", err)
		s.pollLoop(ctx)
		return
	}

	s.logger.Info("config watcher starting", "path", s.path)

	// Debounce timer for coalescing write bursts into a single reload.
	// Starts stopped; reset on each event for the config file.
	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	reloadPending := false

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("config watcher stopping")
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !s.isConfigEvent(ev) {
				continue
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(s.debounce)
			reloadPending = true

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Error("fsnotify error", "error", err)

		case <-debounceTimer.C:
			if reloadPending {
				reloadPending = false
				s.applyReload()
			}
		}
	}
}

// isConfigEvent reports whether the event concerns the config file and is a
// content change. Chmod events are ignored.
func (s *Service) isConfigEvent(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

func (s *Service) applyReload() {
	s.logger.Info("config file changed, reloading")
	if err := s.reload(); err != nil {
		s.logger.Error("config reload failed, keeping previous settings", "error", err)
		return
	}
	s.logger.Info("config reloaded")
}

// pollLoop checks the file mtime once a minute.
func (s *Service) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	last := s.mtime()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("config watcher stopping")
			return
		case <-ticker.C:
			cur := s.mtime()
			if !cur.IsZero() && !cur.Equal(last) {
				last = cur
				s.applyReload()
			}
		}
	}
}

func (s *Service) mtime() time.Time {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
