// Package auth covers dashboard sign-in: the single admin account, session
// cookies, API tokens for automation, and optional OIDC single sign-on.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const sessionDuration = 24 * time.Hour

// Service errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSession     = errors.New("invalid session")
	ErrUserNotFound       = errors.New("user not found")
)

// Service owns the users and sessions tables.
type Service struct {
	db *sql.DB
}

// NewService returns a Service backed by db.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Setup creates the initial admin account. It is a no-op once any user
// exists; the boolean reports whether an account was created.
func (s *Service) Setup(ctx context.Context, username, password string) (bool, error) {
	n, err := s.countUsers(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	hash, err := hashPassword(password)
	if err != nil {
		return false, err
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, password_hash, role) VALUES (?, ?, ?, 'admin')",
		uuid.New().String(), username, hash); err != nil {
		return false, fmt.Errorf("creating admin user: %w", err)
	}
	return true, nil
}

// Login checks the password for username and opens a session, returning the
// session token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	id, hash, err := s.lookupUser(ctx, username)
	if err != nil {
		return "", err
	}

	// Accounts provisioned through SSO have no password.
	if hash == "" {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), prehashPassword(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.createSession(ctx, id)
}

// createSession issues a fresh session token for a user.
func (s *Service) createSession(ctx context.Context, userID string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}

	expiry := time.Now().Add(sessionDuration).UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id, expires_at) VALUES (?, ?, ?)",
		token, userID, expiry); err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}
	return token, nil
}

// ValidateSession resolves a session token to its user ID. An expired
// session is deleted on sight.
func (s *Service) ValidateSession(ctx context.Context, token string) (string, error) {
	var userID, expiresAt string
	row := s.db.QueryRowContext(ctx, "SELECT user_id, expires_at FROM sessions WHERE id = ?", token)
	if err := row.Scan(&userID, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidSession
		}
		return "", fmt.Errorf("querying session: %w", err)
	}

	expires, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return "", fmt.Errorf("parsing expiry: %w", err)
	}
	if time.Now().UTC().After(expires) {
		_ = s.Logout(ctx, token)
		return "", fmt.Errorf("%w: expired", ErrInvalidSession)
	}
	return userID, nil
}

// Logout discards the session for token, if one exists.
func (s *Service) Logout(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", token)
	return err
}

// CleanExpiredSessions drops every session past its expiry.
func (s *Service) CleanExpiredSessions(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < ?", now)
	return err
}

// HasUsers reports whether any account exists, which the setup endpoint
// uses to decide if first-boot provisioning is still open.
func (s *Service) HasUsers(ctx context.Context) (bool, error) {
	n, err := s.countUsers(ctx)
	return n > 0, err
}

// ResetPassword sets a new password for the named user and revokes every
// session they hold. Used by the reset-credentials command when the admin
// is locked out.
func (s *Service) ResetPassword(ctx context.Context, username, password string) error {
	id, _, err := s.lookupUser(ctx, username)
	if errors.Is(err, ErrInvalidCredentials) {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err != nil {
		return err
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE id = ?", hash, id); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = ?", id); err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}
	return nil
}

func (s *Service) countUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// lookupUser returns ErrInvalidCredentials for an unknown username so Login
// cannot be used to probe which accounts exist.
func (s *Service) lookupUser(ctx context.Context, username string) (id, hash string, err error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, password_hash FROM users WHERE username = ?", username)
	if err := row.Scan(&id, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", ErrInvalidCredentials
		}
		return "", "", fmt.Errorf("querying user: %w", err)
	}
	return id, hash, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(prehashPassword(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// prehashPassword runs the password through SHA-256 before bcrypt sees it.
// bcrypt silently truncates input at 72 bytes; the 64-byte hex digest stays
// under that while keeping the full password significant.
func prehashPassword(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(hex.EncodeToString(sum[:]))
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
