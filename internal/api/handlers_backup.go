package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/JovieInc/jovie/internal/backup"
)

func (r *Router) backupUnavailable(w http.ResponseWriter) bool {
	if r.backupService == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "backup service not available"})
		return true
	}
	return false
}

// backupFilename validates the path parameter, rejecting names that could
// escape the backup directory.
func backupFilename(w http.ResponseWriter, req *http.Request) (string, bool) {
	filename := req.PathValue("filename")
	if !backup.IsValidBackupFilename(filename) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid filename"})
		return "", false
	}
	return filename, true
}

func (r *Router) handleBackupCreate(w http.ResponseWriter, req *http.Request) {
	if r.backupUnavailable(w) {
		return
	}

	info, err := r.backupService.Backup(req.Context())
	if err != nil {
		r.logger.Error("backup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "backup failed"})
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (r *Router) handleBackupList(w http.ResponseWriter, req *http.Request) {
	if r.backupUnavailable(w) {
		return
	}

	backups, err := r.backupService.ListBackups()
	if err != nil {
		r.logger.Error("listing backups", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list backups"})
		return
	}
	if backups == nil {
		backups = []backup.BackupInfo{}
	}
	writeJSON(w, http.StatusOK, backups)
}

func (r *Router) handleBackupDelete(w http.ResponseWriter, req *http.Request) {
	if r.backupUnavailable(w) {
		return
	}
	filename, ok := backupFilename(w, req)
	if !ok {
		return
	}

	if err := r.backupService.Delete(filename); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "backup not found"})
			return
		}
		r.logger.Error("deleting backup", "filename", filename, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete backup"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (r *Router) handleBackupDownload(w http.ResponseWriter, req *http.Request) {
	if r.backupUnavailable(w) {
		return
	}
	filename, ok := backupFilename(w, req)
	if !ok {
		return
	}

	path := filepath.Join(r.backupService.BackupDir(), filename)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, req, path)
}
