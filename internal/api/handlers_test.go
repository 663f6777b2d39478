package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/JovieInc/jovie/internal/api/middleware"
	"github.com/JovieInc/jovie/internal/auth"
	"github.com/JovieInc/jovie/internal/database"
	"github.com/JovieInc/jovie/internal/encryption"
	"github.com/JovieInc/jovie/internal/event"
	"github.com/JovieInc/jovie/internal/linkcheck"
	"github.com/JovieInc/jovie/internal/links"
	"github.com/JovieInc/jovie/internal/maintenance"
	"github.com/JovieInc/jovie/internal/match"
	"github.com/JovieInc/jovie/internal/profile"
	"github.com/JovieInc/jovie/internal/provider"
	"github.com/JovieInc/jovie/internal/release"
	"github.com/JovieInc/jovie/internal/settingsio"
	"github.com/JovieInc/jovie/internal/smartlink"
	"github.com/JovieInc/jovie/internal/webhook"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testRouter wires a Router over an in-memory database with every service
// attached except network-facing catalog adapters; tests that need one
// register a fakeCatalog on r.providerRegistry. The backup service and log
// manager stay nil so their unavailable paths are reachable; tests that
// exercise the real thing assign their own.
func testRouter(t *testing.T) *Router {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := testLogger()

	enc, _, err := encryption.New("")
	if err != nil {
		t.Fatalf("creating encryptor: %v", err)
	}
	settings := provider.NewSettingsService(db, enc, provider.AllKeys(), 0.9)
	registry := provider.NewRegistry()

	bus := event.NewBus(logger, 64)
	go bus.Start()
	t.Cleanup(bus.Stop)

	authSvc := auth.NewService(db)
	profileSvc := profile.NewService(db)
	matchSvc := match.NewService(db, bus)
	releaseSvc := release.NewService(db, profileSvc, registry, links.NewAggregator(registry, logger), bus, logger)
	webhookSvc := webhook.NewService(db)

	return NewRouter(RouterDeps{
		AuthService:        authSvc,
		ProfileService:     profileSvc,
		ReleaseService:     releaseSvc,
		MatchService:       matchSvc,
		MatchEngine:        match.NewEngine(db, matchSvc, registry, settings, bus, logger),
		SmartLinkService:   smartlink.NewService(db, settings, bus, "https://jov.ie", logger),
		ProviderSettings:   settings,
		ProviderRegistry:   registry,
		WebhookService:     webhookSvc,
		WebhookDispatcher:  webhook.NewDispatcher(webhookSvc, logger),
		LinkChecker:        linkcheck.NewChecker(logger),
		SettingsIOService:  settingsio.NewService(db, settings, webhookSvc),
		MaintenanceService: maintenance.NewService(db, ":memory:", logger),
		DB:                 db,
		Logger:             logger,
	})
}

// createAdmin provisions the admin account and returns its user ID.
func createAdmin(t *testing.T, r *Router) string {
	t.Helper()
	ctx := context.Background()
	if _, err := r.authService.Setup(ctx, "admin", "correct horse battery staple"); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	var userID string
	if err := r.db.QueryRowContext(ctx, `SELECT id FROM users WHERE username = 'admin'`).Scan(&userID); err != nil {
		t.Fatalf("querying user: %v", err)
	}
	return userID
}

func seedProfile(t *testing.T, db *sql.DB, id, handle string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO profiles (id, handle, display_name, home_provider, connected)
		VALUES (?, ?, 'Test Artist', 'spotify', 1)
	`, id, handle)
	if err != nil {
		t.Fatalf("seeding profile: %v", err)
	}
}

func seedRelease(t *testing.T, db *sql.DB, profileID, releaseID, title string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO releases (id, profile_id, title, home_release_id)
		VALUES (?, ?, ?, ?)
	`, releaseID, profileID, title, "home-"+releaseID)
	if err != nil {
		t.Fatalf("seeding release: %v", err)
	}
}

func seedTrack(t *testing.T, db *sql.DB, releaseID, trackID, name string, number int) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO tracks (id, release_id, name, track_number, home_track_id)
		VALUES (?, ?, ?, ?, ?)
	`, trackID, releaseID, name, number, "home-"+trackID)
	if err != nil {
		t.Fatalf("seeding track: %v", err)
	}
}

func seedReleaseLink(t *testing.T, db *sql.DB, releaseID string, key provider.Key, url string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO dsp_links (id, owner_type, owner_id, provider, url, source, confidence)
		VALUES (?, 'release', ?, ?, ?, 'canonical', 1)
	`, string(key)+"-"+releaseID, releaseID, string(key), url)
	if err != nil {
		t.Fatalf("seeding link: %v", err)
	}
}

// fakeCatalog is a canned catalog adapter standing in for the network
// clients in handler tests.
type fakeCatalog struct {
	key     provider.Key
	catalog []provider.CatalogRelease
	hits    map[string]provider.TrackHit
}

func (f *fakeCatalog) Name() provider.Key { return f.key }

func (f *fakeCatalog) RequiresAuth() bool { return false }

func (f *fakeCatalog) GetArtist(_ context.Context, id string) (*provider.ExternalArtist, error) {
	return nil, &provider.ErrNotFound{Provider: f.key, Kind: "artist", ID: id}
}

func (f *fakeCatalog) FetchArtistCatalog(_ context.Context, _ string) ([]provider.CatalogRelease, error) {
	return f.catalog, nil
}

func (f *fakeCatalog) LookupISRC(_ context.Context, isrc string) (*provider.TrackHit, error) {
	hit, ok := f.hits[isrc]
	if !ok {
		return nil, &provider.ErrNotFound{Provider: f.key, Kind: "isrc", ID: isrc}
	}
	return &hit, nil
}

func (f *fakeCatalog) SearchTrack(_ context.Context, _, _ string) ([]provider.TrackHit, error) {
	return nil, nil
}

func TestHandleHealth(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	r.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
	if body["version"] == "" {
		t.Error("expected non-empty version")
	}
}

func TestHandleIndex(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	r.handleIndex(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["service"] != "jovie" {
		t.Errorf("service = %q, want %q", body["service"], "jovie")
	}
	if body["health"] != "/api/v1/health" {
		t.Errorf("health = %q, want %q", body["health"], "/api/v1/health")
	}
}

func TestHandleSetup_CreatesAdmin(t *testing.T) {
	r := testRouter(t)

	body := `{"username":"admin","password":"correct horse battery staple"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/setup", strings.NewReader(body))
	w := httptest.NewRecorder()

	r.handleSetup(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if _, err := r.authService.Login(context.Background(), "admin", "correct horse battery staple"); err != nil {
		t.Errorf("logging in as created admin: %v", err)
	}
}

func TestHandleSetup_RefusesSecondAccount(t *testing.T) {
	r := testRouter(t)
	createAdmin(t, r)

	body := `{"username":"intruder","password":"long enough password"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/setup", strings.NewReader(body))
	w := httptest.NewRecorder()

	r.handleSetup(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusConflict, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "admin account already exists") {
		t.Errorf("body = %s, want existing-account error", w.Body.String())
	}
}

func TestHandleSetup_RejectsWeakInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"short password", `{"username":"admin","password":"short"}`},
		{"missing username", `{"password":"long enough password"}`},
		{"missing password", `{"username":"admin"}`},
		{"malformed json", `{"username":`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := testRouter(t)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/setup", strings.NewReader(tc.body))
			w := httptest.NewRecorder()

			r.handleSetup(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusBadRequest, w.Body.String())
			}
		})
	}
}

func TestHandleLogin_SetsSessionCookie(t *testing.T) {
	r := testRouter(t)
	createAdmin(t, r)

	body := `{"username":"admin","password":"correct horse battery staple"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	w := httptest.NewRecorder()

	r.handleLogin(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "session" {
			session = c
		}
	}
	if session == nil {
		t.Fatal("no session cookie set")
	}
	if session.Value == "" {
		t.Error("empty session token")
	}
	if !session.HttpOnly {
		t.Error("session cookie not HttpOnly")
	}
	if session.SameSite != http.SameSiteStrictMode {
		t.Errorf("SameSite = %v, want Strict", session.SameSite)
	}
	if _, err := r.authService.ValidateSession(context.Background(), session.Value); err != nil {
		t.Errorf("session cookie does not validate: %v", err)
	}
}

func TestHandleLogin_BadCredentials(t *testing.T) {
	r := testRouter(t)
	createAdmin(t, r)

	body := `{"username":"admin","password":"wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	w := httptest.NewRecorder()

	r.handleLogin(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusUnauthorized, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "invalid credentials") {
		t.Errorf("body = %s, want invalid credentials error", w.Body.String())
	}
}

func TestHandleLogout_RevokesSession(t *testing.T) {
	r := testRouter(t)
	createAdmin(t, r)
	ctx := context.Background()

	token, err := r.authService.Login(ctx, "admin", "correct horse battery staple")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: token})
	w := httptest.NewRecorder()

	r.handleLogout(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var cleared bool
	for _, c := range w.Result().Cookies() {
		if c.Name == "session" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("session cookie not cleared")
	}
	if _, err := r.authService.ValidateSession(ctx, token); err == nil {
		t.Error("session still valid after logout")
	}
}

func TestHandleMe(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	w := httptest.NewRecorder()
	r.handleMe(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req = req.WithContext(middleware.WithTestUserID(req.Context(), "u-1"))
	w = httptest.NewRecorder()
	r.handleMe(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["user_id"] != "u-1" {
		t.Errorf("user_id = %q, want %q", body["user_id"], "u-1")
	}
	if body["auth_method"] != "session" {
		t.Errorf("auth_method = %q, want %q", body["auth_method"], "session")
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	r := testRouter(t)
	h := r.Handler()

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/profiles"},
		{http.MethodGet, "/api/v1/settings/preference"},
		{http.MethodGet, "/api/v1/webhooks"},
		{http.MethodPost, "/api/v1/backups"},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestSessionCookieGrantsAccess(t *testing.T) {
	r := testRouter(t)
	createAdmin(t, r)

	token, err := r.authService.Login(context.Background(), "admin", "correct horse battery staple")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profiles", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: token})
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestBearerTokenGrantsAccess(t *testing.T) {
	r := testRouter(t)
	userID := createAdmin(t, r)

	plain, _, err := r.authService.IssueToken(context.Background(), userID, "ci", nil)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profiles", nil)
	req.Header.Set("Authorization", "Bearer "+plain)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestReadScopedTokenCannotWrite(t *testing.T) {
	r := testRouter(t)
	userID := createAdmin(t, r)

	plain, _, err := r.authService.IssueToken(context.Background(), userID, "dashboard", []string{"read"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	// Reads still work.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/profiles", nil)
	req.Header.Set("Authorization", "Bearer "+plain)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("read status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	// Mutations are refused without the write scope.
	body := `{"handle":"scoped","display_name":"Scoped","home_provider":"spotify","home_artist_id":"a1"}`
	req = httptest.NewRequest(http.MethodPost, "/api/v1/profiles", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+plain)
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("write status = %d, want %d; body: %s", w.Code, http.StatusForbidden, w.Body.String())
	}

	// A token carrying the write scope passes.
	plainWrite, _, err := r.authService.IssueToken(context.Background(), userID, "automation", []string{"read", "write"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/v1/profiles", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+plainWrite)
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("write-scoped status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}
}
