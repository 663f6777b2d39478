package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/JovieInc/jovie/internal/config"
)

// SSO handles the optional OIDC login flow for the dashboard. A nil *SSO
// means single sign-on is not configured.
type SSO struct {
	svc      *Service
	verifier *gooidc.IDTokenVerifier
	oauth    oauth2.Config
}

// NewSSO discovers the issuer's endpoints and prepares the authorization
// code flow.
func NewSSO(ctx context.Context, svc *Service, cfg config.OIDCConfig) (*SSO, error) {
	provider, err := gooidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discovering oidc issuer: %w", err)
	}
	return &SSO{
		svc:      svc,
		verifier: provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{gooidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

// NewState returns a random value binding a login redirect to its callback.
func NewState() (string, error) {
	return generateToken()
}

// AuthURL returns the issuer redirect for one login attempt.
func (o *SSO) AuthURL(state string) string {
	return o.oauth.AuthCodeURL(state)
}

// HandleCallback exchanges the authorization code, verifies the identity
// token, resolves the local account, and opens a session.
func (o *SSO) HandleCallback(ctx context.Context, code string) (string, error) {
	tok, err := o.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchanging code: %w", err)
	}
	rawID, ok := tok.Extra("id_token").(string)
	if !ok {
		return "", errors.New("token response has no id_token")
	}
	idToken, err := o.verifier.Verify(ctx, rawID)
	if err != nil {
		return "", fmt.Errorf("verifying id token: %w", err)
	}

	var claims struct {
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("reading claims: %w", err)
	}

	username := claims.PreferredUsername
	if username == "" {
		username = claims.Email
	}
	userID, err := o.svc.userForSubject(ctx, idToken.Subject, username)
	if err != nil {
		return "", err
	}
	return o.svc.createSession(ctx, userID)
}

// userForSubject maps a verified OIDC subject to a local account. An
// unclaimed subject binds to the sole admin account on first login, or
// creates it when the instance has no users yet; once any binding exists,
// unknown subjects are rejected.
func (s *Service) userForSubject(ctx context.Context, subject, username string) (string, error) {
	if subject == "" {
		return "", errors.New("empty oidc subject")
	}

	var id string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM users WHERE oidc_subject = ?", subject).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("querying user by subject: %w", err)
	}

	var bound int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE oidc_subject IS NOT NULL AND oidc_subject != ''").Scan(&bound); err != nil {
		return "", fmt.Errorf("counting bound users: %w", err)
	}
	if bound > 0 {
		return "", fmt.Errorf("%w: subject not provisioned", ErrInvalidCredentials)
	}

	err = s.db.QueryRowContext(ctx, "SELECT id FROM users WHERE role = 'admin' ORDER BY created_at LIMIT 1").Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if username == "" {
			username = "admin"
		}
		id = uuid.New().String()
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO users (id, username, password_hash, role, oidc_subject)
			VALUES (?, ?, '', 'admin', ?)
		`, id, username, subject)
		if err != nil {
			return "", fmt.Errorf("creating sso user: %w", err)
		}
		return id, nil
	case err != nil:
		return "", fmt.Errorf("querying admin account: %w", err)
	default:
		if _, err := s.db.ExecContext(ctx, "UPDATE users SET oidc_subject = ?, updated_at = datetime('now') WHERE id = ?", subject, id); err != nil {
			return "", fmt.Errorf("binding sso subject: %w", err)
		}
		return id, nil
	}
}
