package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is everything the process reads at startup. Fields map onto the
// YAML config file; most also have a JV_* environment override.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Links      LinksConfig      `yaml:"links"`
	Backup     BackupConfig     `yaml:"backup"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the listener. PublicBaseURL is what smart links
// are minted against, so it must be the address listeners actually reach.
type ServerConfig struct {
	Port          int    `yaml:"port"`
	BasePath      string `yaml:"base_path"`
	PublicBaseURL string `yaml:"public_base_url"`
	TLSCert       string `yaml:"tls_cert"`
	TLSKey        string `yaml:"tls_key"`
	EnableHTTP3   bool   `yaml:"enable_http3"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig covers local password auth and optional SSO.
type AuthConfig struct {
	SessionSecret string     `yaml:"session_secret"`
	OIDC          OIDCConfig `yaml:"oidc"`
}

// OIDCConfig holds optional single sign-on settings. SSO is enabled when
// Issuer and ClientID are both set.
type OIDCConfig struct {
	Issuer       string `yaml:"issuer"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// EncryptionConfig carries the master key for credentials at rest. Leave
// Key empty to have one generated and persisted next to the database.
type EncryptionConfig struct {
	Key string `yaml:"key"`
}

// LinksConfig holds release-matching and smart-link settings.
type LinksConfig struct {
	// DefaultPreference is the provider order the smart listen selector
	// falls back to when a profile has no order of its own.
	DefaultPreference []string `yaml:"default_preference"`
	// AutoConfirmThreshold is the discovery confidence above which a match
	// is created directly in auto_confirmed status.
	AutoConfirmThreshold float64 `yaml:"auto_confirm_threshold"`
	// DiscoveryInterval is how often the background scheduler runs
	// cross-provider discovery for connected profiles.
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
	// HomeProvider is the provider new profiles connect their catalog from
	// unless they specify otherwise.
	HomeProvider string `yaml:"home_provider"`
}

// BackupConfig holds database backup settings. Path defaults to a backups/
// directory next to the database file when empty.
type BackupConfig struct {
	Enabled        bool   `yaml:"enabled"`
	IntervalHours  int    `yaml:"interval_hours"`
	Path           string `yaml:"path"`
	RetentionCount int    `yaml:"retention_count"`
	MaxAgeDays     int    `yaml:"max_age_days"`
}

// LoggingConfig seeds the log manager; the settings API can change these
// at runtime and its values then win over this block.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	FilePath       string `yaml:"file_path"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxFiles   int    `yaml:"file_max_files"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
}

// DefaultPreferenceOrder is the built-in smart listen preference order used
// when neither configuration nor settings provide one.
var DefaultPreferenceOrder = []string{
	"spotify",
	"apple_music",
	"youtube_music",
	"amazon_music",
	"deezer",
	"tidal",
	"soundcloud",
	"youtube",
	"pandora",
}

// Default is the baseline every load starts from, so a missing file and
// an empty file behave identically.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          8080,
			BasePath:      "/",
			PublicBaseURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Path: "/data/jovie.db",
		},
		Auth:       AuthConfig{},
		Encryption: EncryptionConfig{},
		Links: LinksConfig{
			DefaultPreference:    append([]string(nil), DefaultPreferenceOrder...),
			AutoConfirmThreshold: 0.9,
			DiscoveryInterval:    6 * time.Hour,
			HomeProvider:         "spotify",
		},
		Backup: BackupConfig{
			IntervalHours:  24,
			RetentionCount: 7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers configuration: defaults, then the YAML file at path if one
// exists, then JV_* environment variables on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("JV_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("JV_BASE_PATH"); v != "" {
		c.Server.BasePath = v
	}
	if v := os.Getenv("JV_PUBLIC_BASE_URL"); v != "" {
		c.Server.PublicBaseURL = v
	}
	if v := os.Getenv("JV_TLS_CERT"); v != "" {
		c.Server.TLSCert = v
	}
	if v := os.Getenv("JV_TLS_KEY"); v != "" {
		c.Server.TLSKey = v
	}
	if v := os.Getenv("JV_ENABLE_HTTP3"); v != "" {
		c.Server.EnableHTTP3 = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("JV_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("JV_SESSION_SECRET"); v != "" {
		c.Auth.SessionSecret = v
	}
	if v := os.Getenv("JV_OIDC_ISSUER"); v != "" {
		c.Auth.OIDC.Issuer = v
	}
	if v := os.Getenv("JV_OIDC_CLIENT_ID"); v != "" {
		c.Auth.OIDC.ClientID = v
	}
	if v := os.Getenv("JV_OIDC_CLIENT_SECRET"); v != "" {
		c.Auth.OIDC.ClientSecret = v
	}
	if v := os.Getenv("JV_OIDC_REDIRECT_URL"); v != "" {
		c.Auth.OIDC.RedirectURL = v
	}
	if v := os.Getenv("JV_ENCRYPTION_KEY"); v != "" {
		c.Encryption.Key = v
	}
	if v := os.Getenv("JV_HOME_PROVIDER"); v != "" {
		c.Links.HomeProvider = v
	}
	if v := os.Getenv("JV_AUTO_CONFIRM_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Links.AutoConfirmThreshold = f
		}
	}
	if v := os.Getenv("JV_DISCOVERY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Links.DiscoveryInterval = d
		}
	}
	if v := os.Getenv("JV_BACKUP_ENABLED"); v != "" {
		c.Backup.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("JV_BACKUP_PATH"); v != "" {
		c.Backup.Path = v
	}
	if v := os.Getenv("JV_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("JV_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("JV_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Links.AutoConfirmThreshold < 0 || c.Links.AutoConfirmThreshold > 1 {
		return fmt.Errorf("auto_confirm_threshold must be in [0,1], got %g", c.Links.AutoConfirmThreshold)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	if c.Server.EnableHTTP3 && c.Server.TLSCert == "" {
		return fmt.Errorf("enable_http3 requires tls_cert and tls_key")
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	c.Server.PublicBaseURL = strings.TrimRight(c.Server.PublicBaseURL, "/")
	return nil
}
