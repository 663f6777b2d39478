package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

func (r *Router) maintenanceUnavailable(w http.ResponseWriter) bool {
	if r.maintenanceService == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "maintenance service not available"})
		return true
	}
	return false
}

// runMaintenance executes one maintenance operation under a bounded timeout
// and reports the outcome as {"status": done}.
func (r *Router) runMaintenance(w http.ResponseWriter, req *http.Request, name, done string, timeout time.Duration, op func(context.Context) error) {
	if r.maintenanceUnavailable(w) {
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()

	if err := op(ctx); err != nil {
		r.logger.Error(name+" failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": name + " failed: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": done})
}

func (r *Router) handleMaintenanceStatus(w http.ResponseWriter, req *http.Request) {
	if r.maintenanceUnavailable(w) {
		return
	}

	status, err := r.maintenanceService.Status(req.Context())
	if err != nil {
		r.logger.Error("getting maintenance status", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Router) handleMaintenanceOptimize(w http.ResponseWriter, req *http.Request) {
	r.runMaintenance(w, req, "optimize", "optimized", time.Minute, r.maintenanceService.Optimize)
}

func (r *Router) handleMaintenanceVacuum(w http.ResponseWriter, req *http.Request) {
	r.runMaintenance(w, req, "vacuum", "vacuumed", 5*time.Minute, r.maintenanceService.Vacuum)
}

// handleMaintenancePurge removes expired sessions and click events past the
// retention window.
func (r *Router) handleMaintenancePurge(w http.ResponseWriter, req *http.Request) {
	if r.maintenanceUnavailable(w) {
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), time.Minute)
	defer cancel()

	result, err := r.maintenanceService.Purge(ctx)
	if err != nil {
		r.logger.Error("purge failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "purge failed: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleMaintenanceSchedule(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Enabled            bool `json:"enabled"`
		IntervalHours      int  `json:"interval_hours"`
		ClickRetentionDays *int `json:"click_retention_days"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.IntervalHours < 1 {
		body.IntervalHours = 24
	}

	rows := [][2]string{
		{"db_maintenance.enabled", strconv.FormatBool(body.Enabled)},
		{"db_maintenance.interval_hours", strconv.Itoa(body.IntervalHours)},
	}
	if body.ClickRetentionDays != nil {
		rows = append(rows, [2]string{"db_maintenance.click_retention_days", strconv.Itoa(*body.ClickRetentionDays)})
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, kv := range rows {
		_, err := r.db.ExecContext(req.Context(),
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			kv[0], kv[1], now)
		if err != nil {
			r.logger.Error("persisting maintenance setting", "key", kv[0], "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to persist setting"})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
