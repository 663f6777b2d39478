package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenPrefix marks API tokens issued by this service so leaked credentials
// can be attributed by secret scanners.
const TokenPrefix = "jv_"

// Token errors.
var (
	ErrInvalidToken  = errors.New("invalid api token")
	ErrTokenNotFound = errors.New("api token not found")
)

// APIToken is a long-lived credential for automation clients. The plaintext
// is shown once at issue time; only its digest is stored.
type APIToken struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Scopes     []string   `json:"scopes"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// HasScope reports whether the token grants a scope. A token with no scopes
// grants everything.
func (t *APIToken) HasScope(scope string) bool {
	if len(t.Scopes) == 0 {
		return true
	}
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IssueToken mints a new API token for a user and returns the plaintext
// alongside the stored record.
func (s *Service) IssueToken(ctx context.Context, userID, name string, scopes []string) (string, *APIToken, error) {
	if name == "" {
		return "", nil, errors.New("token name is required")
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generating token: %w", err)
	}
	plain := TokenPrefix + hex.EncodeToString(raw)

	if scopes == nil {
		scopes = []string{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return "", nil, fmt.Errorf("encoding scopes: %w", err)
	}

	token := &APIToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		Scopes:    scopes,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_tokens (id, user_id, name, token_hash, scopes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, token.ID, userID, name, hashToken(plain), string(scopesJSON), token.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return "", nil, fmt.Errorf("storing token: %w", err)
	}

	return plain, token, nil
}

// ValidateToken resolves a presented plaintext token and stamps its last
// use. Unknown or foreign-looking tokens fail with ErrInvalidToken.
func (s *Service) ValidateToken(ctx context.Context, plain string) (*APIToken, error) {
	if !strings.HasPrefix(plain, TokenPrefix) {
		return nil, ErrInvalidToken
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, scopes, last_used_at, created_at
		FROM api_tokens WHERE token_hash = ?
	`, hashToken(plain))
	token, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("querying token: %w", err)
	}

	now := time.Now().UTC()
	// Best effort; a failed stamp must not block the request.
	_, _ = s.db.ExecContext(ctx, "UPDATE api_tokens SET last_used_at = ? WHERE id = ?",
		now.Format(time.RFC3339), token.ID)
	token.LastUsedAt = &now
	return token, nil
}

// ListTokens returns a user's API tokens, newest first.
func (s *Service) ListTokens(ctx context.Context, userID string) ([]APIToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, scopes, last_used_at, created_at
		FROM api_tokens WHERE user_id = ? ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []APIToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning token: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// RevokeToken deletes an API token.
func (s *Service) RevokeToken(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM api_tokens WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking revocation: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrTokenNotFound, id)
	}
	return nil
}

func hashToken(plain string) string {
	h := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(h[:])
}

func scanToken(row interface{ Scan(...any) error }) (*APIToken, error) {
	var t APIToken
	var scopesJSON string
	var lastUsed sql.NullString
	var createdAt string

	if err := row.Scan(&t.ID, &t.UserID, &t.Name, &scopesJSON, &lastUsed, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scopesJSON), &t.Scopes); err != nil {
		t.Scopes = nil
	}
	if lastUsed.Valid && lastUsed.String != "" {
		ts := parseTime(lastUsed.String)
		t.LastUsedAt = &ts
	}
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
