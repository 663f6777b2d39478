package api

import (
	"encoding/json"
	"net/http"

	"github.com/JovieInc/jovie/internal/provider"
)

// handleGetPreference returns the instance-wide platform preference order
// used when a profile has no order of its own.
func (r *Router) handleGetPreference(w http.ResponseWriter, req *http.Request) {
	order, err := r.providerSettings.GetPreferenceOrder(req.Context())
	if err != nil {
		r.logger.Error("getting preference order", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get preference order"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (r *Router) handleSetPreference(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Order []string `json:"order"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(body.Order) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "order is required"})
		return
	}

	order := make([]provider.Key, 0, len(body.Order))
	for _, name := range body.Order {
		key, ok := provider.ParseKey(name)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown platform in order"})
			return
		}
		order = append(order, key)
	}

	if err := r.providerSettings.SetPreferenceOrder(req.Context(), order); err != nil {
		r.logger.Error("setting preference order", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save preference order"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// handleGetMatching returns the artist match auto-confirm threshold.
func (r *Router) handleGetMatching(w http.ResponseWriter, req *http.Request) {
	threshold, err := r.providerSettings.GetAutoConfirmThreshold(req.Context())
	if err != nil {
		r.logger.Error("getting auto-confirm threshold", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get matching settings"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"auto_confirm_threshold": threshold})
}

func (r *Router) handleSetMatching(w http.ResponseWriter, req *http.Request) {
	var body struct {
		AutoConfirmThreshold *float64 `json:"auto_confirm_threshold"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.AutoConfirmThreshold == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "auto_confirm_threshold is required"})
		return
	}
	threshold := *body.AutoConfirmThreshold
	if threshold < 0 || threshold > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "auto_confirm_threshold must be between 0 and 1"})
		return
	}

	if err := r.providerSettings.SetAutoConfirmThreshold(req.Context(), threshold); err != nil {
		r.logger.Error("setting auto-confirm threshold", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save matching settings"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"auto_confirm_threshold": threshold})
}
