package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/JovieInc/jovie/internal/auth"
)

// handleCreateAPIToken mints a new API token. The plaintext appears in this
// response only; afterwards just its digest exists.
// POST /api/v1/auth/tokens
func (r *Router) handleCreateAPIToken(w http.ResponseWriter, req *http.Request) {
	userID, ok := r.requireUser(w, req)
	if !ok {
		return
	}

	var body struct {
		Name   string   `json:"name"`
		Scopes []string `json:"scopes"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	// An empty scope list issues an unrestricted token.
	var scopes []string
	for _, s := range body.Scopes {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			scopes = append(scopes, trimmed)
		}
	}

	plaintext, token, err := r.authService.IssueToken(req.Context(), userID, body.Name, scopes)
	if err != nil {
		r.logger.Error("creating api token", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create token"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     token.ID,
		"token":  plaintext,
		"name":   token.Name,
		"scopes": token.Scopes,
	})
}

// handleListAPITokens lists all tokens for the authenticated user.
// GET /api/v1/auth/tokens
func (r *Router) handleListAPITokens(w http.ResponseWriter, req *http.Request) {
	userID, ok := r.requireUser(w, req)
	if !ok {
		return
	}

	tokens, err := r.authService.ListTokens(req.Context(), userID)
	if err != nil {
		r.logger.Error("listing api tokens", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list tokens"})
		return
	}
	if tokens == nil {
		tokens = []auth.APIToken{}
	}
	writeJSON(w, http.StatusOK, tokens)
}

// handleRevokeAPIToken revokes a token.
// DELETE /api/v1/auth/tokens/{id}
func (r *Router) handleRevokeAPIToken(w http.ResponseWriter, req *http.Request) {
	if _, ok := r.requireUser(w, req); !ok {
		return
	}

	tokenID := req.PathValue("id")
	if tokenID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token id required"})
		return
	}

	if err := r.authService.RevokeToken(req.Context(), tokenID); err != nil {
		if errors.Is(err, auth.ErrTokenNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "token not found"})
		} else {
			r.logger.Error("revoking api token", "token_id", tokenID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to revoke token"})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
