package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/JovieInc/jovie/internal/api/middleware"
	"github.com/JovieInc/jovie/internal/auth"
	"github.com/JovieInc/jovie/internal/version"
)

const oidcStateCookie = "oidc_state"

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleIndex serves a minimal service descriptor at the root. OIDC logins
// land here after the callback sets the session cookie.
func (r *Router) handleIndex(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "jovie",
		"version": version.Version,
		"health":  r.basePath + "/api/v1/health",
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"` //nolint:gosec // G117: not a hardcoded secret, this is a request field
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	token, err := r.authService.Login(req.Context(), body.Username, body.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	if cookie, err := req.Cookie("session"); err == nil {
		if logoutErr := r.authService.Logout(req.Context(), cookie.Value); logoutErr != nil {
			r.logger.Warn("failed to delete session", "error", logoutErr)
		}
	}
	clearCookie(w, "session")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireUser returns the authenticated user ID, writing a 401 when the
// request context has none.
func (r *Router) requireUser(w http.ResponseWriter, req *http.Request) (string, bool) {
	userID := middleware.UserIDFromContext(req.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	userID, ok := r.requireUser(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id":     userID,
		"auth_method": middleware.AuthMethodFromContext(req.Context()),
	})
}

// setupRequest validates the initial-admin payload. A non-empty errMsg means
// the request must be rejected.
func setupRequest(req *http.Request) (username, password, errMsg string) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"` //nolint:gosec // G117: not a hardcoded secret, this is a request field
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return "", "", "invalid request body"
	}
	if body.Username == "" || body.Password == "" {
		return "", "", "username and password are required"
	}
	if len(body.Password) < 8 {
		return "", "", "password must be at least 8 characters"
	}
	return body.Username, body.Password, ""
}

func (r *Router) handleSetup(w http.ResponseWriter, req *http.Request) {
	hasUsers, err := r.authService.HasUsers(req.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if hasUsers {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "admin account already exists"})
		return
	}

	username, password, errMsg := setupRequest(req)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	created, err := r.authService.Setup(req.Context(), username, password)
	if err != nil {
		r.logger.Error("failed to create admin account", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !created {
		// Setup rechecks inside, so a concurrent first admin loses here.
		writeJSON(w, http.StatusConflict, map[string]string{"error": "admin account already exists"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "admin account created"})
}

// handleOIDCLogin starts the SSO flow: mints a state nonce, stores it in a
// short-lived cookie, and sends the browser to the identity provider.
func (r *Router) handleOIDCLogin(w http.ResponseWriter, req *http.Request) {
	state, err := auth.NewState()
	if err != nil {
		r.logger.Error("generating oidc state", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	// Lax, not Strict: the cookie must ride along when the provider
	// redirects the browser back to the callback.
	http.SetCookie(w, &http.Cookie{
		Name:     oidcStateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   true,
		MaxAge:   600,
	})

	http.Redirect(w, req, r.sso.AuthURL(state), http.StatusFound)
}

func (r *Router) handleOIDCCallback(w http.ResponseWriter, req *http.Request) {
	cookie, err := req.Cookie(oidcStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != req.URL.Query().Get("state") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "state mismatch"})
		return
	}
	clearCookie(w, oidcStateCookie)

	code := req.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing authorization code"})
		return
	}

	token, err := r.sso.HandleCallback(req.Context(), code)
	if err != nil {
		r.logger.Warn("oidc callback failed", "error", err)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication failed"})
		return
	}

	setSessionCookie(w, token)
	http.Redirect(w, req, r.basePath+"/", http.StatusFound)
}

func setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   true,
		MaxAge:   86400,
	})
}

// clearCookie expires a cookie by name.
func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
