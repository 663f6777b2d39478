package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/JovieInc/jovie/internal/api/middleware"
	"github.com/JovieInc/jovie/internal/auth"
	"github.com/JovieInc/jovie/internal/backup"
	"github.com/JovieInc/jovie/internal/linkcheck"
	"github.com/JovieInc/jovie/internal/logging"
	"github.com/JovieInc/jovie/internal/maintenance"
	"github.com/JovieInc/jovie/internal/match"
	"github.com/JovieInc/jovie/internal/profile"
	"github.com/JovieInc/jovie/internal/provider"
	"github.com/JovieInc/jovie/internal/release"
	"github.com/JovieInc/jovie/internal/settingsio"
	"github.com/JovieInc/jovie/internal/smartlink"
	"github.com/JovieInc/jovie/internal/webhook"
)

// RouterDeps bundles all dependencies needed by the HTTP router. SSO is nil
// when no OIDC issuer is configured.
type RouterDeps struct {
	AuthService        *auth.Service
	SSO                *auth.SSO
	ProfileService     *profile.Service
	ReleaseService     *release.Service
	MatchService       *match.Service
	MatchEngine        *match.Engine
	SmartLinkService   *smartlink.Service
	ProviderSettings   *provider.SettingsService
	ProviderRegistry   *provider.Registry
	WebhookService     *webhook.Service
	WebhookDispatcher  *webhook.Dispatcher
	LinkChecker        *linkcheck.Checker
	SettingsIOService  *settingsio.Service
	MaintenanceService *maintenance.Service
	BackupService      *backup.Service
	LogManager         *logging.Manager
	DB                 *sql.DB
	Logger             *slog.Logger
	BasePath           string
}

// Router owns the HTTP surface: every handler hangs off it and reaches
// its service through these fields.
type Router struct {
	authService        *auth.Service
	sso                *auth.SSO
	profileService     *profile.Service
	releaseService     *release.Service
	matchService       *match.Service
	matchEngine        *match.Engine
	smartLinkService   *smartlink.Service
	providerSettings   *provider.SettingsService
	providerRegistry   *provider.Registry
	webhookService     *webhook.Service
	webhookDispatcher  *webhook.Dispatcher
	linkChecker        *linkcheck.Checker
	settingsIOService  *settingsio.Service
	maintenanceService *maintenance.Service
	backupService      *backup.Service
	logManager         *logging.Manager
	loginLimiter       *middleware.LoginRateLimiter
	db                 *sql.DB
	logger             *slog.Logger
	basePath           string
}

// NewRouter builds a Router from deps. The login limiter is created here
// rather than injected; nothing else needs it.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		authService:        deps.AuthService,
		sso:                deps.SSO,
		profileService:     deps.ProfileService,
		releaseService:     deps.ReleaseService,
		matchService:       deps.MatchService,
		matchEngine:        deps.MatchEngine,
		smartLinkService:   deps.SmartLinkService,
		providerSettings:   deps.ProviderSettings,
		providerRegistry:   deps.ProviderRegistry,
		webhookService:     deps.WebhookService,
		webhookDispatcher:  deps.WebhookDispatcher,
		linkChecker:        deps.LinkChecker,
		settingsIOService:  deps.SettingsIOService,
		maintenanceService: deps.MaintenanceService,
		backupService:      deps.BackupService,
		logManager:         deps.LogManager,
		loginLimiter:       middleware.NewLoginRateLimiter(context.Background()),
		db:                 deps.DB,
		logger:             deps.Logger,
		basePath:           deps.BasePath,
	}
}

// Handler wires every route into a mux and wraps it in the shared
// middleware stack.
func (r *Router) Handler() http.Handler {
	authMw := middleware.Auth(r.authService)
	optionalAuthMw := middleware.OptionalAuth(r.authService)
	// Mutating routes demand the write scope, so read-only API tokens can
	// feed dashboards without being able to change anything.
	write := middleware.RequireScope("write")
	mux := http.NewServeMux()
	bp := r.basePath

	// Reachable without credentials
	mux.HandleFunc("GET "+bp+"/api/v1/health", r.handleHealth)
	mux.Handle("POST "+bp+"/api/v1/auth/login", r.loginLimiter.Middleware(http.HandlerFunc(r.handleLogin)))
	mux.HandleFunc("POST "+bp+"/api/v1/auth/setup", r.handleSetup)
	mux.HandleFunc("GET "+bp+"/{$}", r.handleIndex)
	if r.sso != nil {
		mux.HandleFunc("GET "+bp+"/auth/oidc/login", r.handleOIDCLogin)
		mux.HandleFunc("GET "+bp+"/auth/oidc/callback", r.handleOIDCCallback)
	}

	// Public smart link redirect. Auth is optional so a logged-in creator
	// previewing their own link is not counted as a listener click.
	mux.Handle("GET "+bp+"/r/{slug}", optionalAuthMw(http.HandlerFunc(r.handleRedirect)))

	// Session management
	mux.HandleFunc("POST "+bp+"/api/v1/auth/logout", wrapAuth(r.handleLogout, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/auth/me", wrapAuth(r.handleMe, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/auth/tokens", wrapAuth(r.handleListAPITokens, authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/auth/tokens", wrapAuth(write(r.handleCreateAPIToken), authMw))
	mux.HandleFunc("DELETE "+bp+"/api/v1/auth/tokens/{id}", wrapAuth(write(r.handleRevokeAPIToken), authMw))

	// Profile routes
	mux.HandleFunc("GET "+bp+"/api/v1/profiles", wrapAuth(r.handleListProfiles, authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/profiles", wrapAuth(write(r.handleCreateProfile), authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/profiles/{id}", wrapAuth(r.handleGetProfile, authMw))
	mux.HandleFunc("PUT "+bp+"/api/v1/profiles/{id}", wrapAuth(write(r.handleUpdateProfile), authMw))
	mux.HandleFunc("DELETE "+bp+"/api/v1/profiles/{id}", wrapAuth(write(r.handleDeleteProfile), authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/profiles/{id}/sync", wrapAuth(write(r.handleSyncProfile), authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/profiles/{id}/releases", wrapAuth(r.handleListProfileReleases, authMw))

	// Match routes
	mux.HandleFunc("GET "+bp+"/api/v1/profiles/{id}/matches", wrapAuth(r.handleListMatches, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/profiles/{id}/matches/overview", wrapAuth(r.handleMatchOverview, authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/profiles/{id}/matches/discover", wrapAuth(write(r.handleDiscoverMatches), authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/matches/{id}/confirm", wrapAuth(write(r.handleConfirmMatch), authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/matches/{id}/reject", wrapAuth(write(r.handleRejectMatch), authMw))

	// Release routes
	mux.HandleFunc("GET "+bp+"/api/v1/releases/{id}", wrapAuth(r.handleGetRelease, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/releases/{id}/links", wrapAuth(r.handleGetReleaseLinks, authMw))
	mux.HandleFunc("PUT "+bp+"/api/v1/releases/{id}/links", wrapAuth(write(r.handleUpdateReleaseLinks), authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/releases/{id}/links/verify", wrapAuth(write(r.handleVerifyReleaseLinks), authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/releases/{id}/smartlink", wrapAuth(r.handleGetSmartLink, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/releases/{id}/clicks", wrapAuth(r.handleGetReleaseClicks, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/releases/{id}/cover", wrapAuth(r.handleGetReleaseCover, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/releases/{id}/cover/info", wrapAuth(r.handleGetReleaseCoverInfo, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/releases/{id}/tracks", wrapAuth(r.handleListReleaseTracks, authMw))
	mux.HandleFunc("PUT "+bp+"/api/v1/tracks/{id}/links", wrapAuth(write(r.handleUpdateTrackLinks), authMw))

	// Platform routes
	mux.HandleFunc("GET "+bp+"/api/v1/providers", wrapAuth(r.handleListProviders, authMw))
	mux.HandleFunc("PUT "+bp+"/api/v1/providers/{name}/credentials", wrapAuth(write(r.handleSetProviderCredentials), authMw))
	mux.HandleFunc("DELETE "+bp+"/api/v1/providers/{name}/credentials", wrapAuth(write(r.handleDeleteProviderCredentials), authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/providers/{name}/test", wrapAuth(write(r.handleTestProvider), authMw))

	// Settings routes
	mux.HandleFunc("GET "+bp+"/api/v1/settings/preference", wrapAuth(r.handleGetPreference, authMw))
	mux.HandleFunc("PUT "+bp+"/api/v1/settings/preference", wrapAuth(write(r.handleSetPreference), authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/settings/matching", wrapAuth(r.handleGetMatching, authMw))
	mux.HandleFunc("PUT "+bp+"/api/v1/settings/matching", wrapAuth(write(r.handleSetMatching), authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/settings/logging", wrapAuth(r.handleGetLogging, authMw))
	mux.HandleFunc("PUT "+bp+"/api/v1/settings/logging", wrapAuth(write(r.handleUpdateLogging), authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/settings/export", wrapAuth(write(r.handleSettingsExport), authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/settings/import", wrapAuth(write(r.handleSettingsImport), authMw))

	// Webhook routes
	mux.HandleFunc("GET "+bp+"/api/v1/webhooks", wrapAuth(r.handleListWebhooks, authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/webhooks", wrapAuth(write(r.handleCreateWebhook), authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/webhooks/{id}", wrapAuth(r.handleGetWebhook, authMw))
	mux.HandleFunc("PUT "+bp+"/api/v1/webhooks/{id}", wrapAuth(write(r.handleUpdateWebhook), authMw))
	mux.HandleFunc("DELETE "+bp+"/api/v1/webhooks/{id}", wrapAuth(write(r.handleDeleteWebhook), authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/webhooks/{id}/test", wrapAuth(write(r.handleTestWebhook), authMw))

	// Maintenance routes
	mux.HandleFunc("GET "+bp+"/api/v1/maintenance/status", wrapAuth(r.handleMaintenanceStatus, authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/maintenance/optimize", wrapAuth(write(r.handleMaintenanceOptimize), authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/maintenance/vacuum", wrapAuth(write(r.handleMaintenanceVacuum), authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/maintenance/purge", wrapAuth(write(r.handleMaintenancePurge), authMw))
	mux.HandleFunc("PUT "+bp+"/api/v1/maintenance/schedule", wrapAuth(write(r.handleMaintenanceSchedule), authMw))

	// Backup routes
	mux.HandleFunc("GET "+bp+"/api/v1/backups", wrapAuth(r.handleBackupList, authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/backups", wrapAuth(write(r.handleBackupCreate), authMw))
	mux.HandleFunc("DELETE "+bp+"/api/v1/backups/{filename}", wrapAuth(write(r.handleBackupDelete), authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/backups/{filename}/download", wrapAuth(r.handleBackupDownload, authMw))

	return middleware.Logging(r.logger, r.basePath+"/r/")(middleware.SecurityHeaders(mux))
}

// wrapAuth adapts an authenticated handler to the HandleFunc signature.
func wrapAuth(fn http.HandlerFunc, authMw func(http.Handler) http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authMw(fn).ServeHTTP(w, r)
	}
}
