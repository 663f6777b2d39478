package provider

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/JovieInc/jovie/internal/encryption"
)

// Credentials holds the API credentials for one platform. Platforms that
// authenticate with a single token leave ClientSecret empty.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// Empty reports whether no credentials are set.
func (c Credentials) Empty() bool {
	return c.ClientID == "" && c.ClientSecret == ""
}

// SettingsService manages platform credentials and link resolution
// configuration using the settings key-value table.
type SettingsService struct {
	db                *sql.DB
	encryptor         *encryption.Encryptor
	defaultPreference []Key
	defaultThreshold  float64
}

// NewSettingsService creates a new SettingsService. The defaults are the
// boot-time configuration values used when no runtime override is stored.
func NewSettingsService(db *sql.DB, encryptor *encryption.Encryptor, defaultPreference []Key, defaultThreshold float64) *SettingsService {
	return &SettingsService{
		db:                db,
		encryptor:         encryptor,
		defaultPreference: defaultPreference,
		defaultThreshold:  defaultThreshold,
	}
}

// credentialsSettingKey returns the settings table key for a platform's credentials.
func credentialsSettingKey(key Key) string {
	return fmt.Sprintf("platform.%s.credentials", key)
}

// keyStatusSettingKey returns the settings table key for a platform's credential test status.
func keyStatusSettingKey(key Key) string {
	return fmt.Sprintf("platform.%s.key_status", key)
}

// Settings table keys for link resolution overrides.
const (
	preferenceSettingKey = "links.preference"
	thresholdSettingKey  = "links.auto_confirm_threshold"
)

// upsertSettingSQL is the write path every setter goes through.
const upsertSettingSQL = `INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`

// ctxKeyOverride keys per-request credential overrides. The credentials test
// endpoint uses it to run TestConnection against keys the user has typed but
// not yet saved.
type ctxKeyOverride struct{}

// WithCredentialsOverride returns a child context under which GetCredentials
// answers with creds for the named platform, bypassing the database.
func WithCredentialsOverride(ctx context.Context, key Key, creds Credentials) context.Context {
	parentOverrides, _ := ctx.Value(ctxKeyOverride{}).(map[Key]Credentials)

	// Copy rather than mutate; the parent map may be shared across requests.
	overrides := make(map[Key]Credentials, len(parentOverrides)+1)
	for k, v := range parentOverrides {
		overrides[k] = v
	}
	overrides[key] = creds
	return context.WithValue(ctx, ctxKeyOverride{}, overrides)
}

// GetCredentials decrypts the stored credentials for a platform, or hands
// back an override injected through WithCredentialsOverride. Unconfigured
// platforms come back as zero-value Credentials, not an error.
func (s *SettingsService) GetCredentials(ctx context.Context, key Key) (Credentials, error) {
	if overrides, ok := ctx.Value(ctxKeyOverride{}).(map[Key]Credentials); ok {
		if v, found := overrides[key]; found {
			return v, nil
		}
	}

	settingKey := credentialsSettingKey(key)
	var encrypted string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", settingKey).Scan(&encrypted)
	if err == sql.ErrNoRows {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("reading credentials for %s: %w", key, err)
	}
	plaintext, err := s.encryptor.Decrypt(encrypted)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypting credentials for %s: %w", key, err)
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
		return Credentials{}, fmt.Errorf("parsing credentials for %s: %w", key, err)
	}
	return creds, nil
}

// SetCredentials encrypts and stores the credentials for a platform.
// The upsert and status clear are performed in a single transaction so the
// credential status never becomes stale if either operation fails.
func (s *SettingsService) SetCredentials(ctx context.Context, key Key, creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshaling credentials for %s: %w", key, err)
	}
	encrypted, err := s.encryptor.Encrypt(string(data))
	if err != nil {
		return fmt.Errorf("encrypting credentials for %s: %w", key, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction for %s: %w", key, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is a no-op after commit
	settingKey := credentialsSettingKey(key)
	if _, err := tx.ExecContext(ctx, upsertSettingSQL, settingKey, encrypted); err != nil {
		return fmt.Errorf("storing credentials for %s: %w", key, err)
	}
	// Clear stale status so the credentials show as "untested" until re-verified.
	statusKey := keyStatusSettingKey(key)
	if _, err := tx.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", statusKey); err != nil {
		return fmt.Errorf("clearing key status for %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing credentials for %s: %w", key, err)
	}
	return nil
}

// DeleteCredentials removes the credentials for a platform and their
// associated status in a single transaction.
func (s *SettingsService) DeleteCredentials(ctx context.Context, key Key) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction for %s: %w", key, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is a no-op after commit
	settingKey := credentialsSettingKey(key)
	if _, err := tx.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", settingKey); err != nil {
		return fmt.Errorf("deleting credentials for %s: %w", key, err)
	}
	statusKey := keyStatusSettingKey(key)
	if _, err := tx.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", statusKey); err != nil {
		return fmt.Errorf("clearing key status for %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete for %s: %w", key, err)
	}
	return nil
}

// SetKeyStatus persists the test result status ("ok", "invalid") for a
// platform's credentials. An empty string deletes the status row, reverting
// to "untested".
func (s *SettingsService) SetKeyStatus(ctx context.Context, key Key, status string) error {
	statusKey := keyStatusSettingKey(key)
	if status == "" {
		_, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", statusKey)
		if err != nil {
			return fmt.Errorf("clearing key status for %s: %w", key, err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, upsertSettingSQL, statusKey, status)
	if err != nil {
		return fmt.Errorf("storing key status for %s: %w", key, err)
	}
	return nil
}

// GetKeyStatus reads the persisted test status for a platform's credentials,
// "" when none has been recorded yet.
func (s *SettingsService) GetKeyStatus(ctx context.Context, key Key) (string, error) {
	statusKey := keyStatusSettingKey(key)
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", statusKey).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading key status for %s: %w", key, err)
	}
	return value, nil
}

// HasCredentials checks whether credentials are configured for a platform.
func (s *SettingsService) HasCredentials(ctx context.Context, key Key) (bool, error) {
	settingKey := credentialsSettingKey(key)
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM settings WHERE key = ?", settingKey).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking credentials for %s: %w", key, err)
	}
	return count > 0, nil
}

// PlatformKeyStatus describes the credential configuration state for a platform.
type PlatformKeyStatus struct {
	Key         Key            `json:"key"`
	DisplayName string         `json:"display_name"`
	RequiresKey bool           `json:"requires_key"`
	HasKey      bool           `json:"has_key"`
	Status      string         `json:"status"` // "ok", "invalid", "untested", "not_required", "unconfigured"
	AccessTier  AccessTier     `json:"access_tier"`
	HelpURL     string         `json:"help_url,omitempty"`
	RateLimit   *RateLimitInfo `json:"rate_limit,omitempty"`
}

// ListPlatformKeyStatuses returns the credential status for all catalog-capable platforms.
func (s *SettingsService) ListPlatformKeyStatuses(ctx context.Context) ([]PlatformKeyStatus, error) {
	caps := CatalogCapabilities()
	var statuses []PlatformKeyStatus
	for _, key := range AllCatalogKeys() {
		requiresKey := platformRequiresKey(key)
		hasKey, err := s.HasCredentials(ctx, key)
		if err != nil {
			return nil, err
		}
		status := "unconfigured"
		if !requiresKey {
			status = "not_required"
		} else if hasKey {
			status = "untested"
		}
		// If credentials are present, check for a persisted test status.
		if hasKey {
			persisted, err := s.GetKeyStatus(ctx, key)
			if err != nil {
				return nil, err
			}
			if persisted != "" {
				status = persisted
			}
		}
		cap := caps[key]
		statuses = append(statuses, PlatformKeyStatus{
			Key:         key,
			DisplayName: key.DisplayName(),
			RequiresKey: requiresKey,
			HasKey:      hasKey,
			Status:      status,
			AccessTier:  cap.Tier,
			HelpURL:     cap.HelpURL,
			RateLimit:   cap.RateLimit,
		})
	}
	return statuses, nil
}

// platformRequiresKey returns whether a platform's catalog API needs credentials.
func platformRequiresKey(key Key) bool {
	return key == KeySpotify
}

// AvailableCatalogKeys returns the set of catalog platforms that are usable
// (either they do not require credentials, or credentials are stored).
// Unconfigured platforms are excluded so discovery can skip them without
// producing noisy ErrAuthRequired warnings.
func (s *SettingsService) AvailableCatalogKeys(ctx context.Context) (map[Key]bool, error) {
	available := make(map[Key]bool)
	for _, key := range AllCatalogKeys() {
		if !platformRequiresKey(key) {
			available[key] = true
			continue
		}
		hasKey, err := s.HasCredentials(ctx, key)
		if err != nil {
			return nil, err
		}
		if hasKey {
			available[key] = true
		}
	}
	return available, nil
}

// GetPreferenceOrder returns the stored default platform preference order,
// falling back to the boot-time default. Unknown keys in the stored list are
// dropped; platforms missing from it are appended in display order so
// newly-added platforms appear without requiring a manual settings reset.
func (s *SettingsService) GetPreferenceOrder(ctx context.Context) ([]Key, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", preferenceSettingKey).Scan(&value)
	if err == sql.ErrNoRows {
		return s.defaultPreference, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading preference order: %w", err)
	}
	var raw []string
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		return s.defaultPreference, nil
	}
	var stored []Key
	inStored := make(map[Key]bool, len(raw))
	for _, r := range raw {
		if k, ok := ParseKey(r); ok && !inStored[k] {
			stored = append(stored, k)
			inStored[k] = true
		}
	}
	for _, k := range AllKeys() {
		if !inStored[k] {
			stored = append(stored, k)
		}
	}
	return stored, nil
}

// SetPreferenceOrder stores the default platform preference order.
func (s *SettingsService) SetPreferenceOrder(ctx context.Context, order []Key) error {
	for _, k := range order {
		if _, ok := ParseKey(string(k)); !ok {
			return fmt.Errorf("unknown platform %q in preference order", k)
		}
	}
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshaling preference order: %w", err)
	}
	_, err = s.db.ExecContext(ctx, upsertSettingSQL, preferenceSettingKey, string(data))
	if err != nil {
		return fmt.Errorf("storing preference order: %w", err)
	}
	return nil
}

// GetAutoConfirmThreshold returns the stored auto-confirm confidence
// threshold, falling back to the boot-time default.
func (s *SettingsService) GetAutoConfirmThreshold(ctx context.Context) (float64, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", thresholdSettingKey).Scan(&value)
	if err == sql.ErrNoRows {
		return s.defaultThreshold, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading auto-confirm threshold: %w", err)
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 || f > 1 {
		return s.defaultThreshold, nil
	}
	return f, nil
}

// SetAutoConfirmThreshold stores the auto-confirm confidence threshold.
func (s *SettingsService) SetAutoConfirmThreshold(ctx context.Context, threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("auto-confirm threshold %v out of range [0, 1]", threshold)
	}
	value := strconv.FormatFloat(threshold, 'f', -1, 64)
	_, err := s.db.ExecContext(ctx, upsertSettingSQL, thresholdSettingKey, value)
	if err != nil {
		return fmt.Errorf("storing auto-confirm threshold: %w", err)
	}
	return nil
}
