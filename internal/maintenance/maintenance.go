// Package maintenance keeps the database lean: scheduled purges of expired
// sessions and aged click events, PRAGMA optimize runs, and on-demand VACUUM.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// DefaultClickRetentionDays bounds how long redirect analytics are kept
// when no retention setting is stored.
const DefaultClickRetentionDays = 365

// Settings keys the service reads and writes.
const (
	keyLastOptimize   = "db_maintenance.last_optimize_at"
	keyScheduleOn     = "db_maintenance.enabled"
	keyIntervalHours  = "db_maintenance.interval_hours"
	keyClickRetention = "db_maintenance.click_retention_days"
)

// Status is what the maintenance panel shows: file sizes, page stats and
// the stored schedule.
type Status struct {
	DBFileSize         int64  `json:"db_file_size"`
	WALFileSize        int64  `json:"wal_file_size"`
	PageCount          int64  `json:"page_count"`
	PageSize           int64  `json:"page_size"`
	LastOptimizeAt     string `json:"last_optimize_at,omitempty"`
	ScheduleEnabled    bool   `json:"schedule_enabled"`
	ScheduleInterval   int    `json:"schedule_interval_hours"`
	ClickRetentionDays int    `json:"click_retention_days"`
}

// PurgeResult reports how many rows a purge removed.
type PurgeResult struct {
	Sessions    int64 `json:"sessions"`
	ClickEvents int64 `json:"click_events"`
}

// Service runs the purge, optimize and vacuum operations. dbPath is needed
// alongside db to stat the file and its WAL sidecar.
type Service struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
}

// NewService returns a Service operating on db.
func NewService(db *sql.DB, dbPath string, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		dbPath: dbPath,
		logger: logger.With(slog.String("component", "maintenance")),
	}
}

// Status gathers the current sizes, page stats and schedule settings.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		DBFileSize:  fileSize(s.dbPath),
		WALFileSize: fileSize(s.dbPath + "-wal"),
	}

	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
		s.logger.Warn("reading page_count", "error", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
		s.logger.Warn("reading page_size", "error", err)
	}

	st.LastOptimizeAt, _ = s.setting(ctx, keyLastOptimize)
	st.ScheduleEnabled = s.boolSetting(ctx, keyScheduleOn, true)
	st.ScheduleInterval = s.intSetting(ctx, keyIntervalHours, 24)
	st.ClickRetentionDays = s.intSetting(ctx, keyClickRetention, DefaultClickRetentionDays)

	return st, nil
}

// Purge removes expired sessions and click events older than the retention
// window. A retention setting of zero or less keeps click events forever.
func (s *Service) Purge(ctx context.Context) (*PurgeResult, error) {
	res := &PurgeResult{}

	r, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ?`,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("purging expired sessions: %w", err)
	}
	res.Sessions, _ = r.RowsAffected()

	if days := s.intSetting(ctx, keyClickRetention, DefaultClickRetentionDays); days > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
		r, err = s.db.ExecContext(ctx,
			`DELETE FROM link_events WHERE occurred_at < ?`, cutoff)
		if err != nil {
			return nil, fmt.Errorf("purging aged click events: %w", err)
		}
		res.ClickEvents, _ = r.RowsAffected()
	}

	if res.Sessions > 0 || res.ClickEvents > 0 {
		s.logger.Info("purge complete",
			slog.Int64("sessions", res.Sessions),
			slog.Int64("click_events", res.ClickEvents))
	}
	return res, nil
}

// Optimize runs PRAGMA optimize followed by a WAL checkpoint and records
// when it last ran.
func (s *Service) Optimize(ctx context.Context) error {
	steps := []struct{ name, stmt string }{
		{"PRAGMA optimize", "PRAGMA optimize"},
		{"WAL checkpoint", "PRAGMA wal_checkpoint(TRUNCATE)"},
	}
	for _, step := range steps {
		s.logger.Info("running " + step.name)
		if _, err := s.db.ExecContext(ctx, step.stmt); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	if err := s.putSetting(ctx, keyLastOptimize, time.Now().UTC().Format(time.RFC3339)); err != nil {
		s.logger.Warn("recording optimize timestamp", "error", err)
	}

	s.logger.Info("optimize complete")
	return nil
}

// Vacuum rebuilds the database file, reclaiming space freed by purges. It
// takes an exclusive lock, so it only runs on demand, never on a schedule.
func (s *Service) Vacuum(ctx context.Context) error {
	s.logger.Info("running VACUUM")
	start := time.Now()
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM: %w", err)
	}
	s.logger.Info("vacuum complete", slog.Duration("took", time.Since(start)))
	return nil
}

// StartScheduler runs purge and optimize on a fixed interval until the
// context is canceled.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("maintenance scheduler started",
		slog.String("interval", interval.String()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			s.runScheduled(ctx)
		}
	}
}

func (s *Service) runScheduled(ctx context.Context) {
	if _, err := s.Purge(ctx); err != nil {
		s.logger.Error("scheduled purge failed", slog.Any("error", err))
	}
	if err := s.Optimize(ctx); err != nil {
		s.logger.Error("scheduled optimize failed", slog.Any("error", err))
	}
}

// setting reads one value from the settings table. ok is false when the key
// is absent or unreadable.
func (s *Service) setting(ctx context.Context, key string) (string, bool) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	return v, err == nil
}

// putSetting upserts one settings row.
func (s *Service) putSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *Service) boolSetting(ctx context.Context, key string, fallback bool) bool {
	v, ok := s.setting(ctx, key)
	if !ok {
		return fallback
	}
	return v == "true" || v == "1"
}

func (s *Service) intSetting(ctx context.Context, key string, fallback int) int {
	v, ok := s.setting(ctx, key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
