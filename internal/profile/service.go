// Package profile manages creator profiles, the accounts smart links and
// platform matches hang off.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JovieInc/jovie/internal/provider"
)

// ErrNotFound is returned when no profile exists under the requested ID.
var ErrNotFound = errors.New("profile not found")

// ErrHandleTaken is returned when creating or renaming a profile to a
// handle another profile already owns.
var ErrHandleTaken = errors.New("handle already taken")

const profileColumns = `id, handle, display_name, home_provider, home_artist_id,
	home_artist_url, image_url, connected, preferred_providers, created_at, updated_at`

// Service provides profile data operations.
type Service struct {
	db *sql.DB
}

// NewService returns a Service backed by db.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// List returns every profile, ordered by handle.
func (s *Service) List(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var profiles []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// GetByID looks up one profile, wrapping ErrNotFound for a missing ID.
func (s *Service) GetByID(ctx context.Context, id string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	return p, nil
}

// GetByHandle returns the profile owning the given handle, or nil if none does.
func (s *Service) GetByHandle(ctx context.Context, handle string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE handle = ? LIMIT 1`,
		normalizeHandle(handle))
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile by handle: %w", err)
	}
	return p, nil
}

// Create inserts a new profile. The handle is normalized to lowercase and
// must be unique.
func (s *Service) Create(ctx context.Context, p *Profile) error {
	p.Handle = normalizeHandle(p.Handle)
	if err := validate(p); err != nil {
		return err
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, handle, display_name, home_provider, home_artist_id,
			home_artist_url, image_url, connected, preferred_providers, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.Handle, p.DisplayName, string(p.HomeProvider), p.HomeArtistID,
		p.HomeArtistURL, p.ImageURL, boolToInt(p.Connected),
		marshalPreference(p.PreferredProviders),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isHandleConflict(err) {
			return fmt.Errorf("%w: %s", ErrHandleTaken, p.Handle)
		}
		return fmt.Errorf("creating profile: %w", err)
	}
	return nil
}

// Update modifies an existing profile. The connected flag is managed
// through SetConnected and is not touched here.
func (s *Service) Update(ctx context.Context, p *Profile) error {
	p.Handle = normalizeHandle(p.Handle)
	if err := validate(p); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET
			handle = ?, display_name = ?, home_provider = ?, home_artist_id = ?,
			home_artist_url = ?, image_url = ?, preferred_providers = ?, updated_at = ?
		WHERE id = ?
	`,
		p.Handle, p.DisplayName, string(p.HomeProvider), p.HomeArtistID,
		p.HomeArtistURL, p.ImageURL, marshalPreference(p.PreferredProviders),
		p.UpdatedAt.Format(time.RFC3339),
		p.ID,
	)
	if err != nil {
		if isHandleConflict(err) {
			return fmt.Errorf("%w: %s", ErrHandleTaken, p.Handle)
		}
		return fmt.Errorf("updating profile: %w", err)
	}
	return requireHit(result, p.ID)
}

// SetConnected flips the connected flag, set after the first successful
// catalog sync from the home platform.
func (s *Service) SetConnected(ctx context.Context, id string, connected bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET connected = ?, updated_at = ? WHERE id = ?`,
		boolToInt(connected), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating connected flag: %w", err)
	}
	return requireHit(result, id)
}

// Delete removes a profile. Releases, tracks, and matches cascade.
func (s *Service) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting profile: %w", err)
	}
	return requireHit(result, id)
}

// requireHit converts a zero-row write into ErrNotFound.
func requireHit(result sql.Result, id string) error {
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func validate(p *Profile) error {
	if !ValidHandle(p.Handle) {
		return fmt.Errorf("invalid handle %q", p.Handle)
	}
	if p.DisplayName == "" {
		return errors.New("display name is required")
	}
	if _, ok := provider.ParseKey(string(p.HomeProvider)); !ok {
		return fmt.Errorf("unknown home platform %q", p.HomeProvider)
	}
	return nil
}

func normalizeHandle(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// isHandleConflict reports whether err is the unique-index violation on
// profiles.handle.
func isHandleConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "profiles.handle")
}

func scanProfile(row interface{ Scan(...any) error }) (*Profile, error) {
	var p Profile
	var homeProvider, preferred string
	var connected int
	var createdAt, updatedAt string

	err := row.Scan(
		&p.ID, &p.Handle, &p.DisplayName, &homeProvider, &p.HomeArtistID,
		&p.HomeArtistURL, &p.ImageURL, &connected, &preferred,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.HomeProvider = provider.Key(homeProvider)
	p.Connected = connected == 1
	p.PreferredProviders = unmarshalPreference(preferred)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)

	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
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
