package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JovieInc/jovie/internal/settingsio"
)

const maxImportSize = 10 << 20 // 10 MB

func (r *Router) handleSettingsExport(w http.ResponseWriter, req *http.Request) {
	if r.settingsIOService == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "settings export not available"})
		return
	}

	var body struct {
		Passphrase string `json:"passphrase"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.Passphrase == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "passphrase is required"})
		return
	}

	envelope, err := r.settingsIOService.Export(req.Context(), body.Passphrase)
	if err != nil {
		r.logger.Error("settings export failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "export failed"})
		return
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="jovie-settings-%s.json"`, stamp))
	json.NewEncoder(w).Encode(envelope) //nolint:errcheck
}

func (r *Router) handleSettingsImport(w http.ResponseWriter, req *http.Request) {
	if r.settingsIOService == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "settings import not available"})
		return
	}

	envelope, passphrase, status, errMsg := readImportRequest(req)
	if status != 0 {
		writeJSON(w, status, map[string]string{"error": errMsg})
		return
	}
	if passphrase == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "passphrase is required"})
		return
	}

	result, err := r.settingsIOService.Import(req.Context(), envelope, passphrase)
	if err != nil {
		r.logger.Error("settings import failed", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// readImportRequest accepts either a JSON body {"passphrase", "envelope"} or
// a multipart form carrying a passphrase field and an uploaded file. A
// non-zero status means the request was rejected with the returned message.
func readImportRequest(req *http.Request) (*settingsio.Envelope, string, int, string) {
	if strings.HasPrefix(req.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(io.LimitReader(req.Body, maxImportSize+1))
		if err != nil {
			return nil, "", http.StatusBadRequest, "reading request body"
		}
		if len(body) > maxImportSize {
			return nil, "", http.StatusRequestEntityTooLarge, "file exceeds 10MB limit"
		}
		var payload struct {
			Passphrase string              `json:"passphrase"`
			Envelope   settingsio.Envelope `json:"envelope"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, "", http.StatusBadRequest, "invalid JSON"
		}
		return &payload.Envelope, payload.Passphrase, 0, ""
	}

	if err := req.ParseMultipartForm(maxImportSize); err != nil {
		return nil, "", http.StatusBadRequest, "request too large or invalid multipart form"
	}
	file, _, err := req.FormFile("file")
	if err != nil {
		return nil, "", http.StatusBadRequest, "missing file field"
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(file, maxImportSize+1))
	if err != nil {
		return nil, "", http.StatusBadRequest, "reading uploaded file"
	}
	if len(data) > maxImportSize {
		return nil, "", http.StatusRequestEntityTooLarge, "file exceeds 10MB limit"
	}

	var envelope settingsio.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, "", http.StatusBadRequest, "invalid JSON in uploaded file"
	}
	return &envelope, req.FormValue("passphrase"), 0, ""
}
