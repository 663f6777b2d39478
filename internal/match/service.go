package match

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JovieInc/jovie/internal/event"
	"github.com/JovieInc/jovie/internal/provider"
)

// Lifecycle errors.
var (
	// ErrNotFound is returned when no match exists with the given ID.
	ErrNotFound = errors.New("match not found")
	// ErrConflict is returned when a transition would reverse a terminal
	// decision, such as confirming a rejected match.
	ErrConflict = errors.New("match state conflict")
)

const matchColumns = `id, profile_id, provider, external_artist_id, external_artist_name,
	external_artist_url, external_image_url, confidence, matching_isrc_count,
	status, created_at, updated_at`

// Service manages platform identity matches for profiles.
type Service struct {
	db  *sql.DB
	bus *event.Bus
}

// NewService creates a match service.
func NewService(db *sql.DB, bus *event.Bus) *Service {
	return &Service{db: db, bus: bus}
}

// GetByID retrieves a match by its ID.
func (s *Service) GetByID(ctx context.Context, id string) (*ArtistMatch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM artist_matches WHERE id = ?`, id)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting match: %w", err)
	}
	return m, nil
}

// ActiveByProfileProvider returns the match occupying the profile's slot for
// the given platform, or nil if the slot is open. Rejected matches do not
// occupy the slot.
func (s *Service) ActiveByProfileProvider(ctx context.Context, profileID string, key provider.Key) (*ArtistMatch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM artist_matches
		WHERE profile_id = ? AND provider = ? AND status != 'rejected'`, profileID, string(key))
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting active match: %w", err)
	}
	return m, nil
}

// ListByProfile returns all matches for a profile, including rejected ones,
// ordered by platform then recency.
func (s *Service) ListByProfile(ctx context.Context, profileID string) ([]ArtistMatch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+matchColumns+` FROM artist_matches
		WHERE profile_id = ? ORDER BY provider, created_at DESC`, profileID)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var matches []ArtistMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

// RejectedIdentities returns the external artist IDs the creator has rejected
// for the given profile and platform. Discovery skips these so a rejected
// identity is never suggested again.
func (s *Service) RejectedIdentities(ctx context.Context, profileID string, key provider.Key) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT external_artist_id FROM artist_matches
		WHERE profile_id = ? AND provider = ? AND status = 'rejected'`, profileID, string(key))
	if err != nil {
		return nil, fmt.Errorf("listing rejected identities: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	rejected := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning rejected identity: %w", err)
		}
		rejected[id] = true
	}
	return rejected, rows.Err()
}

// UpsertFromDiscovery records the winning candidate of a discovery run.
// While the slot holds a suggestion it is refreshed in place, with the status
// recomputed against the threshold, so a stronger candidate can auto-confirm
// a slot that previously held a plain suggestion. A confirmed match is
// returned unchanged: the creator's decision outranks discovery.
func (s *Service) UpsertFromDiscovery(ctx context.Context, c Candidate, threshold float64) (*ArtistMatch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM artist_matches
		WHERE profile_id = ? AND provider = ? AND status != 'rejected'`, c.ProfileID, string(c.Provider))
	existing, err := scanMatch(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checking match slot: %w", err)
	}

	if existing != nil && existing.Status == StatusConfirmed {
		return existing, nil
	}

	status := StatusSuggested
	if c.Confidence >= threshold {
		status = StatusAutoConfirmed
	}
	now := time.Now().UTC().Format(time.RFC3339)

	var id string
	if existing != nil {
		id = existing.ID
		if _, err := tx.ExecContext(ctx, `UPDATE artist_matches SET
			external_artist_id = ?, external_artist_name = ?, external_artist_url = ?,
			external_image_url = ?, confidence = ?, matching_isrc_count = ?,
			status = ?, updated_at = ?
			WHERE id = ? AND status IN ('suggested', 'auto_confirmed')`,
			c.ExternalArtistID, c.ExternalArtistName, c.ExternalArtistURL,
			c.ExternalImageURL, c.Confidence, c.MatchingISRCCount,
			string(status), now, id,
		); err != nil {
			return nil, fmt.Errorf("refreshing suggestion: %w", err)
		}
	} else {
		id = uuid.New().String()
		if _, err := tx.ExecContext(ctx, `INSERT INTO artist_matches (
			id, profile_id, provider, external_artist_id, external_artist_name,
			external_artist_url, external_image_url, confidence, matching_isrc_count,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, c.ProfileID, string(c.Provider), c.ExternalArtistID, c.ExternalArtistName,
			c.ExternalArtistURL, c.ExternalImageURL, c.Confidence, c.MatchingISRCCount,
			string(status), now, now,
		); err != nil {
			return nil, fmt.Errorf("recording suggestion: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing suggestion: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Confirm marks a suggested or auto-confirmed match as creator-confirmed.
// Confirming an already confirmed match is a no-op; confirming a rejected
// match returns ErrConflict.
func (s *Service) Confirm(ctx context.Context, id string) (*ArtistMatch, error) {
	return s.transition(ctx, id, StatusConfirmed, event.MatchConfirmed)
}

// Reject closes a suggestion without accepting it. The identity is remembered
// so discovery never suggests it again, and the platform slot opens for a new
// candidate. Rejecting an already rejected match is a no-op; rejecting a
// confirmed match returns ErrConflict.
func (s *Service) Reject(ctx context.Context, id string) (*ArtistMatch, error) {
	return s.transition(ctx, id, StatusRejected, event.MatchRejected)
}

func (s *Service) transition(ctx context.Context, id string, target Status, eventType event.Type) (*ArtistMatch, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE artist_matches SET status = ?, updated_at = ?
		WHERE id = ? AND status IN ('suggested', 'auto_confirmed')`,
		string(target), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return nil, fmt.Errorf("updating match status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking match update: %w", err)
	}

	m, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		// The match was already terminal. Repeating the same decision is a
		// no-op; reversing it is a conflict.
		if m.Status != target {
			return nil, fmt.Errorf("%w: match %s is %s", ErrConflict, id, m.Status)
		}
		return m, nil
	}

	if s.bus != nil {
		s.bus.Publish(event.Event{
			Type: eventType,
			Data: map[string]any{
				"match_id":           m.ID,
				"profile_id":         m.ProfileID,
				"provider":           string(m.Provider),
				"external_artist_id": m.ExternalArtistID,
			},
		})
	}
	return m, nil
}

// scanMatch scans a database row into an ArtistMatch struct.
func scanMatch(row interface{ Scan(...any) error }) (*ArtistMatch, error) {
	var m ArtistMatch
	var prov string
	var status string
	var createdAt, updatedAt string

	err := row.Scan(
		&m.ID, &m.ProfileID, &prov, &m.ExternalArtistID, &m.ExternalArtistName,
		&m.ExternalArtistURL, &m.ExternalImageURL, &m.Confidence, &m.MatchingISRCCount,
		&status, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Provider = provider.Key(prov)
	m.Status = Status(status)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)

	return &m, nil
}

// parseTime parses an RFC3339 or SQLite datetime string, returning zero time on failure.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
