package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/quic-go/quic-go/http3"
	"golang.org/x/term"

	"github.com/JovieInc/jovie/internal/api"
	"github.com/JovieInc/jovie/internal/auth"
	"github.com/JovieInc/jovie/internal/backup"
	"github.com/JovieInc/jovie/internal/config"
	"github.com/JovieInc/jovie/internal/database"
	"github.com/JovieInc/jovie/internal/encryption"
	"github.com/JovieInc/jovie/internal/event"
	"github.com/JovieInc/jovie/internal/linkcheck"
	"github.com/JovieInc/jovie/internal/links"
	"github.com/JovieInc/jovie/internal/logging"
	"github.com/JovieInc/jovie/internal/maintenance"
	"github.com/JovieInc/jovie/internal/match"
	"github.com/JovieInc/jovie/internal/profile"
	"github.com/JovieInc/jovie/internal/provider"
	"github.com/JovieInc/jovie/internal/provider/deezer"
	"github.com/JovieInc/jovie/internal/provider/itunes"
	"github.com/JovieInc/jovie/internal/provider/spotify"
	"github.com/JovieInc/jovie/internal/release"
	"github.com/JovieInc/jovie/internal/settingsio"
	"github.com/JovieInc/jovie/internal/smartlink"
	"github.com/JovieInc/jovie/internal/version"
	"github.com/JovieInc/jovie/internal/watcher"
	"github.com/JovieInc/jovie/internal/webhook"
)

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "reset-credentials" {
		err = resetCredentials()
	} else {
		err = run()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := resolveConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(loggingConfig(cfg))
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	db, err := openDatabase(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()

	startupCtx := context.Background()
	settings := dbSettings{db}

	// Logging settings stored through the dashboard win over the config file.
	applyDBLoggingOverrides(startupCtx, settings, logManager, logger)

	encKey, err := resolveEncryptionKey(cfg, logger)
	if err != nil {
		return fmt.Errorf("resolving encryption key: %w", err)
	}
	encryptor, _, err := encryption.New(encKey)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}

	// Initialize auth, with SSO when an OIDC issuer is configured. A failed
	// issuer discovery leaves password auth working, so do not abort.
	authService := auth.NewService(db)
	var sso *auth.SSO
	if cfg.Auth.OIDC.Issuer != "" && cfg.Auth.OIDC.ClientID != "" {
		sso, err = auth.NewSSO(startupCtx, authService, cfg.Auth.OIDC)
		if err != nil {
			logger.Error("sso disabled: issuer discovery failed",
				slog.String("issuer", cfg.Auth.OIDC.Issuer), slog.Any("error", err))
			sso = nil
		}
	}

	profileService := profile.NewService(db)

	// Platform infrastructure
	rateLimiters := provider.NewRateLimiterMap()
	providerSettings := provider.NewSettingsService(db, encryptor,
		preferenceKeys(cfg, logger), cfg.Links.AutoConfirmThreshold)
	providerRegistry := provider.NewRegistry()

	providerRegistry.Register(spotify.New(providerSettings, rateLimiters, logger))
	providerRegistry.Register(deezer.New(rateLimiters, logger))
	providerRegistry.Register(itunes.New(rateLimiters, logger))

	linkAggregator := links.NewAggregator(providerRegistry, logger)

	eventBus := event.NewBus(logger, 256)
	go eventBus.Start()
	defer eventBus.Stop()

	// Matching and catalog services
	matchService := match.NewService(db, eventBus)
	matchEngine := match.NewEngine(db, matchService, providerRegistry, providerSettings, eventBus, logger)
	releaseService := release.NewService(db, profileService, providerRegistry, linkAggregator, eventBus, logger)
	smartLinkService := smartlink.NewService(db, providerSettings, eventBus, cfg.Server.PublicBaseURL, logger)
	linkChecker := linkcheck.NewChecker(logger)

	webhookService := webhook.NewService(db)
	webhookDispatcher := webhook.NewDispatcher(webhookService, logger)
	webhookDispatcher.Register(eventBus)

	backupDir := cfg.Backup.Path
	if backupDir == "" {
		backupDir = filepath.Join(filepath.Dir(cfg.Database.Path), "backups")
	}
	backupService := backup.NewService(db, backupDir, cfg.Backup.RetentionCount, logger)
	if cfg.Backup.MaxAgeDays > 0 {
		backupService.SetMaxAgeDays(cfg.Backup.MaxAgeDays)
	}

	maintenanceService := maintenance.NewService(db, cfg.Database.Path, logger)
	settingsIOService := settingsio.NewService(db, providerSettings, webhookService)

	logger.Info("starting jovie",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
	)

	router := api.NewRouter(api.RouterDeps{
		AuthService:        authService,
		SSO:                sso,
		ProfileService:     profileService,
		ReleaseService:     releaseService,
		MatchService:       matchService,
		MatchEngine:        matchEngine,
		SmartLinkService:   smartLinkService,
		ProviderSettings:   providerSettings,
		ProviderRegistry:   providerRegistry,
		WebhookService:     webhookService,
		WebhookDispatcher:  webhookDispatcher,
		LinkChecker:        linkChecker,
		SettingsIOService:  settingsIOService,
		MaintenanceService: maintenanceService,
		BackupService:      backupService,
		LogManager:         logManager,
		DB:                 db,
		Logger:             logger,
		BasePath:           cfg.Server.BasePath,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	useTLS := cfg.Server.TLSCert != "" && cfg.Server.TLSKey != ""
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	handler := router.Handler()

	// When HTTP/3 is enabled the TCP handler also advertises the UDP
	// listener through Alt-Svc response headers.
	var h3srv *http3.Server
	if cfg.Server.EnableHTTP3 {
		h3srv = &http3.Server{
			Addr:    addr,
			Handler: handler,
		}
		tcpHandler := handler
		handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if err := h3srv.SetQUICHeaders(w.Header()); err != nil {
				logger.Debug("setting alt-svc header", "error", err)
			}
			tcpHandler.ServeHTTP(w, req)
		})
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.Backup.Enabled {
		go backupService.StartScheduler(ctx, time.Duration(cfg.Backup.IntervalHours)*time.Hour)
	}

	// Maintenance interval lives in DB settings, default daily.
	if settings.boolean(startupCtx, "db_maintenance.enabled", true) {
		hours := settings.integer(startupCtx, "db_maintenance.interval_hours", 24)
		if hours <= 0 {
			hours = 24
		}
		go maintenanceService.StartScheduler(ctx, time.Duration(hours)*time.Hour)
	}

	go cleanSessionsLoop(ctx, authService, logger)

	// Cross-platform discovery scheduler
	if cfg.Links.DiscoveryInterval > 0 {
		matchScheduler := match.NewScheduler(db, matchEngine, matchService, providerSettings, logger)
		go matchScheduler.Start(ctx, cfg.Links.DiscoveryInterval)
	} else {
		logger.Info("discovery scheduler disabled", "interval", cfg.Links.DiscoveryInterval.String())
	}

	// Watch the config file so logging edits apply without a restart
	watcherService := watcher.NewService(configPath, func() error {
		newCfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("re-reading config: %w", err)
		}
		logManager.Reconfigure(loggingConfig(newCfg))
		return nil
	}, logger)
	go watcherService.Start(ctx)

	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("base_path", cfg.Server.BasePath),
			slog.Bool("tls", useTLS),
		)
		var err error
		if useTLS {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	if h3srv != nil {
		go func() {
			logger.Info("http3 server starting", slog.String("addr", addr))
			err := h3srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http3 server error", "error", err)
				os.Exit(1)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if h3srv != nil {
		if err := h3srv.Close(); err != nil {
			logger.Error("closing http3 server", "error", err)
		}
	}
	return srv.Shutdown(shutdownCtx)
}

// resolveConfigPath returns the config file location, preferring the
// JV_CONFIG_PATH environment variable.
func resolveConfigPath() string {
	if p := os.Getenv("JV_CONFIG_PATH"); p != "" {
		return p
	}
	return "/data/config.yaml"
}

// openDatabase opens the SQLite store and brings the schema current.
func openDatabase(cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database ready", slog.String("path", cfg.Database.Path))
	return db, nil
}

// loggingConfig maps the config file's logging section onto the manager's
// config, keeping manager defaults for unset values.
func loggingConfig(cfg *config.Config) logging.Config {
	lc := logging.DefaultConfig()
	if logging.ValidLevel(cfg.Logging.Level) {
		lc.Level = cfg.Logging.Level
	}
	if logging.ValidFormat(cfg.Logging.Format) {
		lc.Format = cfg.Logging.Format
	}
	lc.FilePath = cfg.Logging.FilePath
	if cfg.Logging.FileMaxSizeMB > 0 {
		lc.FileMaxSizeMB = cfg.Logging.FileMaxSizeMB
	}
	if cfg.Logging.FileMaxFiles > 0 {
		lc.FileMaxFiles = cfg.Logging.FileMaxFiles
	}
	if cfg.Logging.FileMaxAgeDays > 0 {
		lc.FileMaxAgeDays = cfg.Logging.FileMaxAgeDays
	}
	return lc
}

// preferenceKeys parses the configured smart-link preference order, dropping
// unknown platform names. An empty result falls back to the built-in order.
func preferenceKeys(cfg *config.Config, logger *slog.Logger) []provider.Key {
	var keys []provider.Key
	for _, name := range cfg.Links.DefaultPreference {
		key, ok := provider.ParseKey(name)
		if !ok {
			logger.Warn("ignoring unknown platform in default preference", slog.String("platform", name))
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		for _, name := range config.DefaultPreferenceOrder {
			if key, ok := provider.ParseKey(name); ok {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// cleanSessionsLoop deletes expired sessions hourly.
func cleanSessionsLoop(ctx context.Context, authService *auth.Service, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := authService.CleanExpiredSessions(ctx); err != nil {
				logger.Error("session cleanup failed", "error", err)
			}
		}
	}
}

// resolveEncryptionKey determines the credentials encryption key.
// Priority: config (JV_ENCRYPTION_KEY) > key file next to the database >
// generate and persist a new one.
func resolveEncryptionKey(cfg *config.Config, logger *slog.Logger) (string, error) {
	if cfg.Encryption.Key != "" {
		return cfg.Encryption.Key, nil
	}

	dataDir := filepath.Dir(cfg.Database.Path)
	keyFile := filepath.Join(dataDir, "encryption.key")

	if key := readKeyFile(keyFile); key != "" {
		logger.Debug("loaded encryption key from file", slog.String("path", keyFile))
		return key, nil
	}

	_, key, err := encryption.New("")
	if err != nil {
		return "", fmt.Errorf("generating encryption key: %w", err)
	}
	persistKeyFile(dataDir, keyFile, key, logger)
	return key, nil
}

func readKeyFile(path string) string {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path derived from trusted config
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// persistKeyFile writes the generated key next to the database. Failure is
// logged, not fatal: the key still works for this process lifetime.
func persistKeyFile(dataDir, keyFile, key string, logger *slog.Logger) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil { //nolint:gosec // G301: dataDir derived from trusted config, not user input
		logger.Warn("could not create data directory for encryption key",
			slog.String("path", dataDir), slog.Any("error", err))
		return
	}
	if err := os.WriteFile(keyFile, []byte(key+"\n"), 0o600); err != nil { //nolint:gosec // G304: keyFile derived from trusted config, not user input
		logger.Warn("could not save encryption key to file",
			slog.String("path", keyFile), slog.Any("error", err))
		return
	}
	logger.Warn("generated new encryption key; back up this file",
		slog.String("path", keyFile))
}

// resetCredentials sets a new password for an admin account and revokes the
// account's sessions. This is an offline operation intended for recovery when
// the admin is locked out.
func resetCredentials() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	username, password, err := promptCredentials(os.Stdin)
	if err != nil {
		return err
	}

	authService := auth.NewService(db)
	if err := authService.ResetPassword(context.Background(), username, password); err != nil {
		return err
	}

	fmt.Println("Password updated and sessions revoked.")
	return nil
}

// promptCredentials reads a username and, without echoing, a new password
// typed twice for confirmation.
func promptCredentials(in *os.File) (username, password string, err error) {
	fmt.Print("Username: ")
	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("reading username: %w", err)
	}
	username = strings.TrimSpace(line)
	if username == "" {
		return "", "", errors.New("username must not be empty")
	}

	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return "", "", errors.New("reset-credentials requires an interactive terminal")
	}

	fmt.Print("New password: ")
	first, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", "", fmt.Errorf("reading password: %w", err)
	}
	if len(first) < 8 {
		return "", "", errors.New("password must be at least 8 characters")
	}

	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", "", fmt.Errorf("reading confirmation: %w", err)
	}
	if string(first) != string(second) {
		return "", "", errors.New("passwords do not match")
	}

	return username, string(first), nil
}

// applyDBLoggingOverrides reconfigures the log manager from settings rows
// saved through the dashboard, if any exist. Called once after migrations.
func applyDBLoggingOverrides(ctx context.Context, settings dbSettings, mgr *logging.Manager, logger *slog.Logger) {
	level := settings.str(ctx, "logging.level", "")
	format := settings.str(ctx, "logging.format", "")
	if level == "" && format == "" {
		return
	}

	cfg := mgr.Config()
	if logging.ValidLevel(level) {
		cfg.Level = level
	}
	if logging.ValidFormat(format) {
		cfg.Format = format
	}
	cfg.FilePath = settings.str(ctx, "logging.file_path", cfg.FilePath)
	if v := settings.integer(ctx, "logging.file_max_size_mb", 0); v > 0 {
		cfg.FileMaxSizeMB = v
	}
	if v := settings.integer(ctx, "logging.file_max_files", 0); v > 0 {
		cfg.FileMaxFiles = v
	}
	if v := settings.integer(ctx, "logging.file_max_age_days", 0); v > 0 {
		cfg.FileMaxAgeDays = v
	}

	mgr.Reconfigure(cfg)
	logger.Info("applied DB logging overrides", "config", cfg.String())
}

// dbSettings reads rows from the settings table before the services that
// normally own them are constructed.
type dbSettings struct {
	db *sql.DB
}

func (s dbSettings) lookup(ctx context.Context, key string) (string, bool) {
	var v string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v); err != nil {
		return "", false
	}
	return v, true
}

func (s dbSettings) str(ctx context.Context, key, fallback string) string {
	if v, ok := s.lookup(ctx, key); ok && v != "" {
		return v
	}
	return fallback
}

func (s dbSettings) boolean(ctx context.Context, key string, fallback bool) bool {
	v, ok := s.lookup(ctx, key)
	if !ok {
		return fallback
	}
	return v == "true" || v == "1"
}

func (s dbSettings) integer(ctx context.Context, key string, fallback int) int {
	v, ok := s.lookup(ctx, key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
