package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JovieInc/jovie/internal/event"
	"github.com/JovieInc/jovie/internal/webhook"
)

// webhookByID loads the webhook named in the request path. On failure it
// writes the error response and returns false.
func (r *Router) webhookByID(w http.ResponseWriter, req *http.Request) (*webhook.Webhook, bool) {
	wh, err := r.webhookService.GetByID(req.Context(), req.PathValue("id"))
	switch {
	case err == nil:
		return wh, true
	case errors.Is(err, webhook.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "webhook not found"})
	default:
		r.logger.Error("getting webhook", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get webhook"})
	}
	return nil, false
}

func (r *Router) handleListWebhooks(w http.ResponseWriter, req *http.Request) {
	webhooks, err := r.webhookService.List(req.Context())
	if err != nil {
		r.logger.Error("listing webhooks", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list webhooks"})
		return
	}
	if webhooks == nil {
		webhooks = []webhook.Webhook{}
	}
	writeJSON(w, http.StatusOK, webhooks)
}

func (r *Router) handleGetWebhook(w http.ResponseWriter, req *http.Request) {
	if wh, ok := r.webhookByID(w, req); ok {
		writeJSON(w, http.StatusOK, wh)
	}
}

func (r *Router) handleCreateWebhook(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Name    string       `json:"name"`
		URL     string       `json:"url"`
		Secret  string       `json:"secret"`
		Events  []event.Type `json:"events"`
		Enabled bool         `json:"enabled"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	wh := &webhook.Webhook{
		Name:    body.Name,
		URL:     body.URL,
		Secret:  body.Secret,
		Events:  body.Events,
		Enabled: body.Enabled,
	}
	if wh.Events == nil {
		wh.Events = []event.Type{}
	}

	if err := r.webhookService.Create(req.Context(), wh); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, wh)
}

func (r *Router) handleUpdateWebhook(w http.ResponseWriter, req *http.Request) {
	existing, ok := r.webhookByID(w, req)
	if !ok {
		return
	}

	var patch struct {
		Name    string       `json:"name"`
		URL     string       `json:"url"`
		Secret  *string      `json:"secret"`
		Events  []event.Type `json:"events"`
		Enabled *bool        `json:"enabled"`
	}
	if err := json.NewDecoder(req.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if patch.Name != "" {
		existing.Name = patch.Name
	}
	if patch.URL != "" {
		existing.URL = patch.URL
	}
	// An explicit empty secret removes request signing.
	if patch.Secret != nil {
		existing.Secret = *patch.Secret
	}
	if patch.Events != nil {
		existing.Events = patch.Events
	}
	if patch.Enabled != nil {
		existing.Enabled = *patch.Enabled
	}

	if err := r.webhookService.Update(req.Context(), existing); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, webhook.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (r *Router) handleDeleteWebhook(w http.ResponseWriter, req *http.Request) {
	if err := r.webhookService.Delete(req.Context(), req.PathValue("id")); err != nil {
		if errors.Is(err, webhook.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "webhook not found"})
			return
		}
		r.logger.Error("deleting webhook", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete webhook"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleTestWebhook delivers a synthetic event to one endpoint and reports
// the outcome, so a creator can verify the receiver before relying on it.
func (r *Router) handleTestWebhook(w http.ResponseWriter, req *http.Request) {
	wh, ok := r.webhookByID(w, req)
	if !ok {
		return
	}
	if err := r.webhookDispatcher.SendTest(req.Context(), wh); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}
