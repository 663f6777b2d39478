package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix  = "jovie-"
	fileSuffix  = ".db"
	stampLayout = "20060102-150405"
)

// BackupInfo describes one snapshot file in the backup directory.
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Service writes and prunes database snapshots. Snapshots are plain SQLite
// files produced by VACUUM INTO, so restoring one is copying it over the
// live database while the server is down.
type Service struct {
	db        *sql.DB
	dir       string
	retention int
	logger    *slog.Logger

	mu         sync.RWMutex
	maxAgeDays int
}

// NewService creates a backup service. retention caps how many snapshots
// Prune keeps; age-based pruning stays off until SetMaxAgeDays enables it.
func NewService(db *sql.DB, dir string, retention int, logger *slog.Logger) *Service {
	return &Service{
		db:        db,
		dir:       dir,
		retention: retention,
		logger:    logger.With(slog.String("component", "backup")),
	}
}

// Backup snapshots the database into a timestamped file, creating the
// backup directory on first use. VACUUM INTO runs inside SQLite, so it
// works for file-backed and in-memory databases alike.
func (s *Service) Backup(ctx context.Context) (*BackupInfo, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	now := time.Now().UTC()
	filename := filePrefix + now.Format(stampLayout) + fileSuffix
	dest := filepath.Join(s.dir, filename)

	start := time.Now()
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return nil, fmt.Errorf("VACUUM INTO: %w", err)
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat backup file: %w", err)
	}

	s.logger.Info("backup written",
		slog.String("file", filename),
		slog.Int64("bytes", fi.Size()),
		slog.Duration("elapsed", time.Since(start)))

	return &BackupInfo{Filename: filename, Size: fi.Size(), CreatedAt: now}, nil
}

// ListBackups returns the snapshots on disk, newest first. A missing
// directory reads as no backups rather than an error.
func (s *Service) ListBackups() ([]BackupInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stamp, ok := stampFromName(entry.Name())
		if !ok {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			Filename:  entry.Name(),
			Size:      fi.Size(),
			CreatedAt: stamp,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// Delete removes one snapshot by name. Only our own stamped filenames are
// accepted; anything else is rejected before touching the disk.
func (s *Service) Delete(filename string) error {
	if !IsValidBackupFilename(filename) {
		return fmt.Errorf("invalid backup filename")
	}
	if err := os.Remove(filepath.Join(s.dir, filename)); err != nil { //nolint:gosec // name vetted above
		return fmt.Errorf("removing backup: %w", err)
	}
	s.logger.Info("backup deleted", slog.String("file", filename))
	return nil
}

// SetMaxAgeDays enables age-based pruning; zero disables it.
func (s *Service) SetMaxAgeDays(days int) {
	s.mu.Lock()
	s.maxAgeDays = days
	s.mu.Unlock()
}

// Prune removes snapshots beyond the retention count, then any survivors
// older than the max age when one is set.
func (s *Service) Prune() error {
	s.mu.RLock()
	maxAge := s.maxAgeDays
	s.mu.RUnlock()

	backups, err := s.ListBackups()
	if err != nil {
		return err
	}

	var victims []BackupInfo
	if len(backups) > s.retention {
		victims = append(victims, backups[s.retention:]...)
		backups = backups[:s.retention]
	}
	if maxAge > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -maxAge)
		for _, b := range backups {
			if b.CreatedAt.Before(cutoff) {
				victims = append(victims, b)
			}
		}
	}

	for _, b := range victims {
		if err := os.Remove(filepath.Join(s.dir, b.Filename)); err != nil {
			s.logger.Warn("pruning backup",
				slog.String("file", b.Filename),
				slog.Any("error", err))
			continue
		}
		s.logger.Info("backup pruned", slog.String("file", b.Filename))
	}
	return nil
}

// BackupDir returns the directory snapshots are written to.
func (s *Service) BackupDir() string {
	return s.dir
}

// StartScheduler writes a snapshot per interval until ctx is canceled,
// pruning after each successful write.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("backup scheduler started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Backup(ctx); err != nil {
				s.logger.Error("scheduled backup failed", slog.Any("error", err))
				continue
			}
			if err := s.Prune(); err != nil {
				s.logger.Error("backup prune failed", slog.Any("error", err))
			}
		}
	}
}

// IsValidBackupFilename reports whether name is one of our stamped snapshot
// filenames. Path separators and parent references are rejected before the
// name is ever joined onto the backup directory.
func IsValidBackupFilename(name string) bool {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	_, ok := stampFromName(name)
	return ok
}

// stampFromName extracts the creation time encoded in a snapshot filename.
func stampFromName(name string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(name, filePrefix)
	if !ok {
		return time.Time{}, false
	}
	stamp, ok := strings.CutSuffix(rest, fileSuffix)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(stampLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
