package release

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JovieInc/jovie/internal/event"
	"github.com/JovieInc/jovie/internal/links"
	"github.com/JovieInc/jovie/internal/profile"
	"github.com/JovieInc/jovie/internal/provider"
)

// Service errors.
var (
	ErrNotFound      = errors.New("release not found")
	ErrTrackNotFound = errors.New("track not found")
	ErrNotLinked     = errors.New("profile has no home artist linked")
)

const releaseColumns = "id, profile_id, title, release_date, upc, cover_url, home_release_id, created_at, updated_at"

const trackColumns = "id, release_id, name, duration_ms, disc_number, track_number, explicit, isrc, home_track_id, created_at, updated_at"

// Service provides catalog and link operations backed by the database.
type Service struct {
	db       *sql.DB
	profiles *profile.Service
	registry *provider.Registry
	agg      *links.Aggregator
	bus      *event.Bus
	logger   *slog.Logger
}

// NewService creates a new release Service. The aggregator and bus may be
// nil; sync then skips candidate sweeps and event publishing.
func NewService(db *sql.DB, profiles *profile.Service, registry *provider.Registry, agg *links.Aggregator, bus *event.Bus, logger *slog.Logger) *Service {
	return &Service{
		db:       db,
		profiles: profiles,
		registry: registry,
		agg:      agg,
		bus:      bus,
		logger:   logger.With(slog.String("component", "release")),
	}
}

// ListByProfile returns a profile's releases, newest first with undated
// releases last.
func (s *Service) ListByProfile(ctx context.Context, profileID string) ([]Release, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+releaseColumns+" FROM releases WHERE profile_id = ? ORDER BY release_date DESC, title",
		profileID)
	if err != nil {
		return nil, fmt.Errorf("listing releases: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning release: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// CountByProfile returns how many releases a profile has synced.
func (s *Service) CountByProfile(ctx context.Context, profileID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM releases WHERE profile_id = ?", profileID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting releases: %w", err)
	}
	return n, nil
}

// GetByID returns one release by ID.
func (s *Service) GetByID(ctx context.Context, id string) (*Release, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+releaseColumns+" FROM releases WHERE id = ?", id)
	r, err := scanRelease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting release: %w", err)
	}
	return r, nil
}

// TracksFor returns a release's tracks in disc and track order.
func (s *Service) TracksFor(ctx context.Context, releaseID string) ([]Track, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+trackColumns+" FROM tracks WHERE release_id = ? ORDER BY disc_number, track_number",
		releaseID)
	if err != nil {
		return nil, fmt.Errorf("listing tracks: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning track: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// GetTrack returns one track by ID.
func (s *Service) GetTrack(ctx context.Context, id string) (*Track, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+trackColumns+" FROM tracks WHERE id = ?", id)
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting track: %w", err)
	}
	return t, nil
}

// LinksFor returns the stored link set for one owner in platform display
// order.
func (s *Service) LinksFor(ctx context.Context, ownerType, ownerID string) ([]links.DSPLink, error) {
	if !ValidOwnerType(ownerType) {
		return nil, fmt.Errorf("unknown link owner type %q", ownerType)
	}
	current, err := queryLinks(ctx, s.db, ownerType, ownerID)
	if err != nil {
		return nil, err
	}
	// Merging against nothing sorts the set into display order.
	return links.Merge(current, nil), nil
}

// HasProviderLinks reports whether any of the profile's releases carries a
// link on the given platform.
func (s *Service) HasProviderLinks(ctx context.Context, profileID string, key provider.Key) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM dsp_links l
		JOIN releases r ON r.id = l.owner_id
		WHERE l.owner_type = 'release' AND l.provider = ? AND r.profile_id = ?
		LIMIT 1
	`, string(key), profileID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking platform links: %w", err)
	}
	return true, nil
}

// MergeLinks folds incoming candidate links into an owner's stored set and
// returns the result. Stored rows are the base and incoming rows the
// overrides, so a fresh candidate only displaces a stored link when it
// outranks it.
func (s *Service) MergeLinks(ctx context.Context, ownerType, ownerID string, incoming []links.DSPLink) ([]links.DSPLink, error) {
	if !ValidOwnerType(ownerType) {
		return nil, fmt.Errorf("unknown link owner type %q", ownerType)
	}
	if err := s.ownerExists(ctx, ownerType, ownerID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning link merge: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	merged, err := mergeLinks(ctx, tx, ownerType, ownerID, incoming)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing link merge: %w", err)
	}
	return merged, nil
}

// ApplyOverrides merges creator-entered destination URLs into an owner's
// link set. Overrides outrank canonical and search candidates, so an entry
// here pins the platform's destination until a newer override replaces it.
// Empty URLs are skipped.
func (s *Service) ApplyOverrides(ctx context.Context, ownerType, ownerID string, overrides map[provider.Key]string) ([]links.DSPLink, error) {
	incoming := make([]links.DSPLink, 0, len(overrides))
	for key, raw := range overrides {
		if _, ok := provider.ParseKey(string(key)); !ok {
			return nil, fmt.Errorf("unknown platform %q", key)
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid url for %s", key)
		}
		incoming = append(incoming, links.DSPLink{
			Provider:   key,
			URL:        raw,
			Source:     links.SourceOverride,
			Confidence: 1,
		})
	}
	return s.MergeLinks(ctx, ownerType, ownerID, incoming)
}

func (s *Service) ownerExists(ctx context.Context, ownerType, ownerID string) error {
	table, notFound := "releases", ErrNotFound
	if ownerType == OwnerTrack {
		table, notFound = "tracks", ErrTrackNotFound
	}
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", ownerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", notFound, ownerID)
	}
	if err != nil {
		return fmt.Errorf("checking %s: %w", ownerType, err)
	}
	return nil
}

// dbtx is the handle subset the link helpers need, so they run against
// either the pool or an open transaction.
type dbtx interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func queryLinks(ctx context.Context, q dbtx, ownerType, ownerID string) ([]links.DSPLink, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT provider, url, source, confidence, isrc, upc FROM dsp_links WHERE owner_type = ? AND owner_id = ?`,
		ownerType, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying links: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []links.DSPLink
	for rows.Next() {
		var l links.DSPLink
		var prov, source string
		if err := rows.Scan(&prov, &l.URL, &source, &l.Confidence, &l.ISRC, &l.UPC); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		l.Provider = provider.Key(prov)
		l.Source = links.Source(source)
		out = append(out, l)
	}
	return out, rows.Err()
}

func writeLinks(ctx context.Context, q dbtx, ownerType, ownerID string, set []links.DSPLink) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, l := range set {
		_, err := q.ExecContext(ctx,
			`INSERT INTO dsp_links (id, owner_type, owner_id, provider, url, source, confidence, isrc, upc, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(owner_type, owner_id, provider) DO UPDATE SET
				url = excluded.url,
				source = excluded.source,
				confidence = excluded.confidence,
				isrc = excluded.isrc,
				upc = excluded.upc,
				updated_at = excluded.updated_at`,
			uuid.New().String(), ownerType, ownerID, string(l.Provider), l.URL, string(l.Source), l.Confidence, l.ISRC, l.UPC, now, now)
		if err != nil {
			return fmt.Errorf("writing %s link for %s %s: %w", l.Provider, ownerType, ownerID, err)
		}
	}
	return nil
}

// mergeLinks folds incoming candidates into one owner's stored link set and
// returns the merged result.
func mergeLinks(ctx context.Context, q dbtx, ownerType, ownerID string, incoming []links.DSPLink) ([]links.DSPLink, error) {
	current, err := queryLinks(ctx, q, ownerType, ownerID)
	if err != nil {
		return nil, err
	}
	merged := links.Merge(current, incoming)
	if err := writeLinks(ctx, q, ownerType, ownerID, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// scanRelease scans a database row into a Release struct.
func scanRelease(row interface{ Scan(...any) error }) (*Release, error) {
	var r Release
	var createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.ProfileID, &r.Title, &r.ReleaseDate, &r.UPC, &r.CoverURL,
		&r.HomeReleaseID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

// scanTrack scans a database row into a Track struct.
func scanTrack(row interface{ Scan(...any) error }) (*Track, error) {
	var t Track
	var explicit int
	var createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.ReleaseID, &t.Name, &t.DurationMS, &t.DiscNumber, &t.TrackNumber,
		&explicit, &t.ISRC, &t.HomeTrackID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.Explicit = explicit != 0
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
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
