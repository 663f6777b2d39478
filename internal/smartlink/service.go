package smartlink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JovieInc/jovie/internal/event"
	"github.com/JovieInc/jovie/internal/links"
	"github.com/JovieInc/jovie/internal/provider"
)

// ErrNotFound is returned when a slug does not resolve to a known release.
var ErrNotFound = errors.New("smart link not found")

// Service resolves public smart link slugs to redirect targets and records
// click events.
type Service struct {
	db       *sql.DB
	settings *provider.SettingsService
	bus      *event.Bus
	baseURL  string
	logger   *slog.Logger
}

// NewService creates a smart link service. baseURL is the public origin used
// for profile-page fallback destinations.
func NewService(db *sql.DB, settings *provider.SettingsService, bus *event.Bus, baseURL string, logger *slog.Logger) *Service {
	return &Service{
		db:       db,
		settings: settings,
		bus:      bus,
		baseURL:  baseURL,
		logger:   logger.With(slog.String("component", "smartlink")),
	}
}

// PublicURL returns the shareable smart link for a release, built on the
// service's configured public origin.
func (s *Service) PublicURL(profileID, releaseID string) string {
	return BuildSmartLinkURL(s.baseURL, BuildReleaseSlug(profileID, releaseID), "")
}

// Resolution is the outcome of resolving one smart link request.
type Resolution struct {
	Slug      string       `json:"slug"`
	ReleaseID string       `json:"release_id"`
	ProfileID string       `json:"profile_id"`
	Handle    string       `json:"handle"`
	TargetURL string       `json:"target_url"`
	Provider  provider.Key `json:"provider,omitempty"`
	Fallback  bool         `json:"fallback"`
}

// Resolve maps a slug (plus an optional explicit dsp override) to a redirect
// target. The override bypasses preference-order selection entirely; when it
// names a platform without a link, or no preferred platform has a link, the
// target falls back to the creator's profile page. Only pure selection runs
// here; all link data is pre-resolved at ingestion time.
func (s *Service) Resolve(ctx context.Context, slug, dspOverride string) (*Resolution, error) {
	releaseID, profileID, ok := ParseReleaseSlug(slug)
	if !ok {
		return nil, ErrNotFound
	}

	var handle, preferredRaw string
	err := s.db.QueryRowContext(ctx, `
		SELECT p.handle, p.preferred_providers
		FROM releases r
		JOIN profiles p ON p.id = r.profile_id
		WHERE r.id = ? AND r.profile_id = ?
	`, releaseID, profileID).Scan(&handle, &preferredRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading release for slug %s: %w", slug, err)
	}

	candidates, err := s.releaseLinks(ctx, releaseID)
	if err != nil {
		return nil, err
	}

	res := &Resolution{
		Slug:      slug,
		ReleaseID: releaseID,
		ProfileID: profileID,
		Handle:    handle,
	}

	var picked *links.DSPLink
	if dspOverride != "" {
		// Explicit beats preference-derived: an unknown or linkless platform
		// falls through to the profile page, never to another platform.
		if key, known := provider.ParseKey(dspOverride); known {
			picked = links.PickProvider(candidates, key)
		}
	} else {
		preference, err := s.preference(ctx, preferredRaw)
		if err != nil {
			return nil, err
		}
		picked = links.Pick(candidates, preference)
	}

	if picked == nil {
		res.TargetURL = s.baseURL + "/" + handle
		res.Fallback = true
		return res, nil
	}
	res.TargetURL = picked.URL
	res.Provider = picked.Provider
	return res, nil
}

// releaseLinks loads the resolved release-level link set.
func (s *Service) releaseLinks(ctx context.Context, releaseID string) ([]links.DSPLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, url, source, confidence, isrc, upc
		FROM dsp_links
		WHERE owner_type = 'release' AND owner_id = ?
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("loading links for release %s: %w", releaseID, err)
	}
	defer rows.Close() //nolint:errcheck

	var set []links.DSPLink
	for rows.Next() {
		var l links.DSPLink
		if err := rows.Scan(&l.Provider, &l.URL, &l.Source, &l.Confidence, &l.ISRC, &l.UPC); err != nil {
			return nil, fmt.Errorf("scanning link row: %w", err)
		}
		set = append(set, l)
	}
	return set, rows.Err()
}

// preference resolves the effective platform order: the profile's own list
// when set, otherwise the instance-wide default.
func (s *Service) preference(ctx context.Context, preferredRaw string) ([]provider.Key, error) {
	var raw []string
	if preferredRaw != "" {
		if err := json.Unmarshal([]byte(preferredRaw), &raw); err != nil {
			s.logger.Warn("invalid preferred_providers json", slog.String("error", err.Error()))
		}
	}
	var keys []provider.Key
	for _, r := range raw {
		if k, known := provider.ParseKey(r); known {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		return keys, nil
	}
	return s.settings.GetPreferenceOrder(ctx)
}

// RecordClick stores a click event for a resolved smart link and publishes it
// on the bus. Resolution itself stays read-only so redirects are never held
// up by write contention.
func (s *Service) RecordClick(ctx context.Context, res *Resolution) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO link_events (id, slug, release_id, provider, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), res.Slug, res.ReleaseID, string(res.Provider), now)
	if err != nil {
		return fmt.Errorf("recording click for %s: %w", res.Slug, err)
	}
	s.bus.Publish(event.Event{
		Type: event.LinkClicked,
		Data: map[string]any{
			"slug":       res.Slug,
			"release_id": res.ReleaseID,
			"provider":   string(res.Provider),
			"fallback":   res.Fallback,
		},
	})
	return nil
}

// ClickStats aggregates recorded clicks for one release.
type ClickStats struct {
	ReleaseID  string         `json:"release_id"`
	Total      int            `json:"total"`
	LastWeek   int            `json:"last_week"`
	ByProvider map[string]int `json:"by_provider"`
}

// Clicks returns aggregate click counts for a release.
func (s *Service) Clicks(ctx context.Context, releaseID string) (*ClickStats, error) {
	stats := &ClickStats{ReleaseID: releaseID, ByProvider: make(map[string]int)}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM link_events WHERE release_id = ?`, releaseID).Scan(&stats.Total)
	if err != nil {
		return nil, fmt.Errorf("counting clicks for %s: %w", releaseID, err)
	}

	weekAgo := time.Now().UTC().AddDate(0, 0, -7).Format(time.RFC3339)
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM link_events WHERE release_id = ? AND occurred_at >= ?`,
		releaseID, weekAgo).Scan(&stats.LastWeek)
	if err != nil {
		return nil, fmt.Errorf("counting recent clicks for %s: %w", releaseID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, COUNT(*)
		FROM link_events
		WHERE release_id = ?
		GROUP BY provider
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("grouping clicks for %s: %w", releaseID, err)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var p string
		var n int
		if err := rows.Scan(&p, &n); err != nil {
			return nil, fmt.Errorf("scanning click row: %w", err)
		}
		if p == "" {
			p = "profile_fallback"
		}
		stats.ByProvider[p] = n
	}
	return stats, rows.Err()
}
