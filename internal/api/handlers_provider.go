package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/JovieInc/jovie/internal/provider"
)

// handleListProviders returns the credential status of every catalog platform.
func (r *Router) handleListProviders(w http.ResponseWriter, req *http.Request) {
	statuses, err := r.providerSettings.ListPlatformKeyStatuses(req.Context())
	if err != nil {
		r.logger.Error("listing platform statuses", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list platforms"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": statuses})
}

// handleSetProviderCredentials stores encrypted API credentials for a platform.
func (r *Router) handleSetProviderCredentials(w http.ResponseWriter, req *http.Request) {
	key, ok := provider.ParseKey(req.PathValue("name"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown platform"})
		return
	}

	var body struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.ClientID == "" || body.ClientSecret == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "client_id and client_secret are required"})
		return
	}

	creds := provider.Credentials{ClientID: body.ClientID, ClientSecret: body.ClientSecret}
	if err := r.providerSettings.SetCredentials(req.Context(), key, creds); err != nil {
		r.logger.Error("setting platform credentials", "provider", string(key), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// handleDeleteProviderCredentials removes the stored credentials for a platform.
func (r *Router) handleDeleteProviderCredentials(w http.ResponseWriter, req *http.Request) {
	key, ok := provider.ParseKey(req.PathValue("name"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown platform"})
		return
	}

	if err := r.providerSettings.DeleteCredentials(req.Context(), key); err != nil {
		r.logger.Error("deleting platform credentials", "provider", string(key), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleTestProvider tests connectivity to a platform's API. Credentials in
// the request body are used for this test only, so a creator can verify a
// key pair before saving it; the persisted test status is updated only when
// the saved credentials were the ones tested.
func (r *Router) handleTestProvider(w http.ResponseWriter, req *http.Request) {
	key, ok := provider.ParseKey(req.PathValue("name"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown platform"})
		return
	}
	client := r.providerRegistry.Get(key)
	if client == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no catalog adapter for platform"})
		return
	}

	ctx := req.Context()
	var override bool
	var body struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.ClientID != "" || body.ClientSecret != "" {
		override = true
		ctx = provider.WithCredentialsOverride(ctx, key, provider.Credentials{
			ClientID:     body.ClientID,
			ClientSecret: body.ClientSecret,
		})
	}

	testable, ok := client.(provider.TestableClient)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "platform does not support connection testing"})
		return
	}

	if err := testable.TestConnection(ctx); err != nil {
		if !override {
			if serr := r.providerSettings.SetKeyStatus(req.Context(), key, "invalid"); serr != nil {
				r.logger.Error("recording key status", "provider", string(key), "error", serr)
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "error": err.Error()})
		return
	}

	if !override {
		if serr := r.providerSettings.SetKeyStatus(req.Context(), key, "ok"); serr != nil {
			r.logger.Error("recording key status", "provider", string(key), "error", serr)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
