// Package settingsio moves instance configuration between deployments:
// platform credentials, link resolution preferences and webhooks, sealed
// with a passphrase so exports stay portable across instances that use
// different master keys.
package settingsio

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/JovieInc/jovie/internal/provider"
	"github.com/JovieInc/jovie/internal/version"
	"github.com/JovieInc/jovie/internal/webhook"
)

// Envelope is what an export file contains on disk. Everything sensitive
// lives inside Data; the rest is plaintext framing a reader needs before
// it can decrypt.
type Envelope struct {
	Version    string `json:"version"`
	AppVersion string `json:"app_version"`
	CreatedAt  string `json:"created_at"`
	Salt       string `json:"salt"` // PBKDF2 salt, base64
	Data       string `json:"data"` // nonce+ciphertext, base64
}

// Payload is the decrypted inner content of an export. Platform credentials
// travel decrypted here, under the passphrase seal, because their at-rest
// form is encrypted with the instance master key and cannot be read by
// another deployment.
type Payload struct {
	Settings    map[string]string               `json:"settings"`
	Credentials map[string]provider.Credentials `json:"credentials"`
	Webhooks    []webhook.Webhook               `json:"webhooks"`
}

// ImportResult counts what an import wrote, for the caller to report.
type ImportResult struct {
	Settings    int `json:"settings"`
	Credentials int `json:"credentials"`
	Webhooks    int `json:"webhooks"`
}

// Service implements both directions of the transfer.
type Service struct {
	db               *sql.DB
	providerSettings *provider.SettingsService
	webhookSvc       *webhook.Service
}

// NewService returns a Service reading and writing through db, with
// credential crypto delegated to ps.
func NewService(db *sql.DB, ps *provider.SettingsService, ws *webhook.Service) *Service {
	return &Service{
		db:               db,
		providerSettings: ps,
		webhookSvc:       ws,
	}
}

// credentialsRow reports whether a settings key holds master-key encrypted
// platform credentials. Those rows are unreadable on any other instance, so
// they are excluded from the raw settings dump in both directions.
func credentialsRow(key string) bool {
	return strings.HasPrefix(key, "platform.") && strings.HasSuffix(key, ".credentials")
}

// Export gathers settings, platform credentials and webhooks, then seals
// them under a key derived from the passphrase.
func (s *Service) Export(ctx context.Context, passphrase string) (*Envelope, error) {
	payload, err := s.collect(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	data, salt, err := encryptWithPassphrase(raw, passphrase)
	if err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}

	return &Envelope{
		Version:    "1.0",
		AppVersion: version.Version,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		Salt:       salt,
		Data:       data,
	}, nil
}

func (s *Service) collect(ctx context.Context) (*Payload, error) {
	payload := &Payload{
		Settings:    make(map[string]string),
		Credentials: make(map[string]provider.Credentials),
	}
	if err := s.collectSettings(ctx, payload); err != nil {
		return nil, err
	}
	if err := s.collectCredentials(ctx, payload); err != nil {
		return nil, err
	}

	hooks, err := s.webhookSvc.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	payload.Webhooks = hooks
	return payload, nil
}

func (s *Service) collectSettings(ctx context.Context, payload *Payload) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("scanning setting: %w", err)
		}
		if credentialsRow(k) {
			continue
		}
		payload.Settings[k] = v
	}
	return rows.Err()
}

// collectCredentials decrypts each configured platform credential through
// the local master key so it can travel under the passphrase seal instead.
func (s *Service) collectCredentials(ctx context.Context, payload *Payload) error {
	statuses, err := s.providerSettings.ListPlatformKeyStatuses(ctx)
	if err != nil {
		return fmt.Errorf("listing platform credentials: %w", err)
	}
	for _, ks := range statuses {
		if !ks.HasKey {
			continue
		}
		creds, err := s.providerSettings.GetCredentials(ctx, ks.Key)
		if err != nil || creds.Empty() {
			continue
		}
		payload.Credentials[string(ks.Key)] = creds
	}
	return nil
}

// Import unseals an Envelope with the passphrase it was exported under and
// applies its contents to this instance.
func (s *Service) Import(ctx context.Context, env *Envelope, passphrase string) (*ImportResult, error) {
	if env.Data == "" {
		return nil, fmt.Errorf("empty export data")
	}

	plaintext, err := decryptWithPassphrase(env.Data, env.Salt, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypting export data (wrong passphrase?): %w", err)
	}
	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("parsing export payload: %w", err)
	}

	result := &ImportResult{}
	if result.Settings, err = s.applySettings(ctx, payload.Settings); err != nil {
		return nil, err
	}
	if result.Credentials, err = s.applyCredentials(ctx, payload.Credentials); err != nil {
		return nil, err
	}
	if result.Webhooks, err = s.applyWebhooks(ctx, payload.Webhooks); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) applySettings(ctx context.Context, settings map[string]string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	count := 0
	for k, v := range settings {
		if credentialsRow(k) {
			continue
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, v, now)
		if err != nil {
			return 0, fmt.Errorf("upserting setting %q: %w", k, err)
		}
		count++
	}
	return count, nil
}

// applyCredentials re-encrypts each imported credential under this
// instance's own master key. Unknown platform names are skipped rather than
// failing the whole import.
func (s *Service) applyCredentials(ctx context.Context, creds map[string]provider.Credentials) (int, error) {
	count := 0
	for name, c := range creds {
		key, ok := provider.ParseKey(name)
		if !ok {
			continue
		}
		if err := s.providerSettings.SetCredentials(ctx, key, c); err != nil {
			return 0, fmt.Errorf("setting credentials for %q: %w", name, err)
		}
		count++
	}
	return count, nil
}

// applyWebhooks matches incoming webhooks to existing ones by name and URL,
// updating on a hit and creating otherwise, so repeated imports never
// duplicate.
func (s *Service) applyWebhooks(ctx context.Context, hooks []webhook.Webhook) (int, error) {
	count := 0
	for _, w := range hooks {
		existing, err := s.webhookSvc.GetByNameAndURL(ctx, w.Name, w.URL)
		if err != nil {
			return 0, fmt.Errorf("looking up webhook %q: %w", w.Name, err)
		}
		if existing != nil {
			w.ID = existing.ID
			if err := s.webhookSvc.Update(ctx, &w); err != nil {
				return 0, fmt.Errorf("updating webhook %q: %w", w.Name, err)
			}
		} else {
			w.ID = ""
			if err := s.webhookSvc.Create(ctx, &w); err != nil {
				return 0, fmt.Errorf("creating webhook %q: %w", w.Name, err)
			}
		}
		count++
	}
	return count, nil
}
