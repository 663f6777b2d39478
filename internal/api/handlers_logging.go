package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/JovieInc/jovie/internal/logging"
)

func (r *Router) handleGetLogging(w http.ResponseWriter, req *http.Request) {
	if r.logManager == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "logging manager not available"})
		return
	}
	writeJSON(w, http.StatusOK, r.logManager.Config())
}

// handleUpdateLogging applies a partial logging config: absent fields keep
// their current values, and the merged result is persisted to settings and
// swapped in at runtime.
func (r *Router) handleUpdateLogging(w http.ResponseWriter, req *http.Request) {
	if r.logManager == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "logging manager not available"})
		return
	}

	var patch logging.Config
	if err := json.NewDecoder(req.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if patch.Level != "" && !logging.ValidLevel(patch.Level) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid level; must be debug, info, warn, or error"})
		return
	}
	if patch.Format != "" && !logging.ValidFormat(patch.Format) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid format; must be text or json"})
		return
	}

	cfg := mergeLoggingConfig(patch, r.logManager.Config())

	if err := r.persistLoggingConfig(req, cfg); err != nil {
		r.logger.Error("persisting logging settings", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to persist setting"})
		return
	}

	r.logManager.Reconfigure(cfg)
	r.logger.Info("logging reconfigured", "config", cfg.String())

	writeJSON(w, http.StatusOK, cfg)
}

// mergeLoggingConfig overlays the provided fields onto current. An empty
// FilePath means no file output, so it passes through as given.
func mergeLoggingConfig(patch, current logging.Config) logging.Config {
	if patch.Level == "" {
		patch.Level = current.Level
	}
	if patch.Format == "" {
		patch.Format = current.Format
	}
	if patch.FileMaxSizeMB == 0 {
		patch.FileMaxSizeMB = current.FileMaxSizeMB
	}
	if patch.FileMaxFiles == 0 {
		patch.FileMaxFiles = current.FileMaxFiles
	}
	if patch.FileMaxAgeDays == 0 {
		patch.FileMaxAgeDays = current.FileMaxAgeDays
	}
	return patch
}

func (r *Router) persistLoggingConfig(req *http.Request, cfg logging.Config) error {
	rows := []struct{ key, value string }{
		{"logging.level", cfg.Level},
		{"logging.format", cfg.Format},
		{"logging.file_path", cfg.FilePath},
		{"logging.file_max_size_mb", strconv.Itoa(cfg.FileMaxSizeMB)},
		{"logging.file_max_files", strconv.Itoa(cfg.FileMaxFiles)},
		{"logging.file_max_age_days", strconv.Itoa(cfg.FileMaxAgeDays)},
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, row := range rows {
		if _, err := r.db.ExecContext(req.Context(),
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			row.key, row.value, now); err != nil {
			return fmt.Errorf("upserting %s: %w", row.key, err)
		}
	}
	return nil
}
