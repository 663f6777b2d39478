package release

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JovieInc/jovie/internal/event"
	"github.com/JovieInc/jovie/internal/links"
	"github.com/JovieInc/jovie/internal/provider"
)

// SyncFromHomeProvider pulls the creator's full catalog through the home
// platform's client and writes it in one transaction: releases and tracks
// are upserted keyed on their home catalog IDs, canonical home links are
// folded into each owner's link set, and the profile is marked connected.
// Nothing is deleted; releases the platform stops listing stay until the
// profile is removed.
func (s *Service) SyncFromHomeProvider(ctx context.Context, profileID string) (*SyncResult, error) {
	p, err := s.profiles.GetByID(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if p.HomeArtistID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotLinked, profileID)
	}
	client := s.registry.Get(p.HomeProvider)
	if client == nil {
		return nil, fmt.Errorf("no catalog client registered for %s", p.HomeProvider)
	}

	catalog, err := client.FetchArtistCatalog(ctx, p.HomeArtistID)
	if err != nil {
		return nil, fmt.Errorf("fetching %s catalog: %w", p.HomeProvider, err)
	}

	res := &SyncResult{}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning sync transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, cr := range catalog {
		relID, err := upsertRelease(ctx, tx, p.ID, cr)
		if err != nil {
			return nil, err
		}
		res.Releases++

		if cr.URL != "" {
			home := links.DSPLink{
				Provider:   p.HomeProvider,
				URL:        cr.URL,
				Source:     links.SourceCanonical,
				Confidence: 1,
				UPC:        links.NormalizeUPC(cr.UPC),
			}
			if _, err := mergeLinks(ctx, tx, OwnerRelease, relID, []links.DSPLink{home}); err != nil {
				return nil, err
			}
		}

		for _, ct := range cr.Tracks {
			trackID, err := upsertTrack(ctx, tx, relID, ct)
			if err != nil {
				return nil, err
			}
			res.Tracks++

			if ct.URL != "" {
				home := links.DSPLink{
					Provider:   p.HomeProvider,
					URL:        ct.URL,
					Source:     links.SourceCanonical,
					Confidence: 1,
					ISRC:       links.NormalizeISRC(ct.ISRC),
				}
				if _, err := mergeLinks(ctx, tx, OwnerTrack, trackID, []links.DSPLink{home}); err != nil {
					return nil, err
				}
			}
		}
	}

	// The connected flag flips inside the same transaction so a half-written
	// snapshot never shows up as a connected profile.
	if _, err := tx.ExecContext(ctx, `UPDATE profiles SET connected = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), p.ID); err != nil {
		return nil, fmt.Errorf("marking profile connected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing sync: %w", err)
	}

	s.logger.Info("catalog synced",
		slog.String("profile_id", p.ID),
		slog.String("platform", string(p.HomeProvider)),
		slog.Int("releases", res.Releases),
		slog.Int("tracks", res.Tracks))

	if s.bus != nil {
		s.bus.Publish(event.Event{
			Type: event.CatalogSynced,
			Data: map[string]any{
				"profile_id": p.ID,
				"platform":   string(p.HomeProvider),
				"releases":   res.Releases,
				"tracks":     res.Tracks,
			},
		})
	}
	return res, nil
}

// CollectCandidateLinks sweeps a profile's tracks through every registered
// platform catalog and folds the resulting candidates into the stored link
// sets. Each owner gets its own short transaction so the sweep never holds
// a write lock across network calls. Returns the number of tracks that
// produced at least one candidate.
func (s *Service) CollectCandidateLinks(ctx context.Context, profileID string) (int, error) {
	if s.agg == nil {
		return 0, nil
	}
	p, err := s.profiles.GetByID(ctx, profileID)
	if err != nil {
		return 0, err
	}
	rels, err := s.ListByProfile(ctx, p.ID)
	if err != nil {
		return 0, err
	}

	enriched := 0
	for _, rel := range rels {
		tracks, err := s.TracksFor(ctx, rel.ID)
		if err != nil {
			return enriched, err
		}
		var releaseCands []links.DSPLink
		for _, t := range tracks {
			if err := ctx.Err(); err != nil {
				return enriched, err
			}
			trackCands, relCands := s.agg.CandidateLinks(ctx, links.TrackQuery{
				Title:  t.Name,
				Artist: p.DisplayName,
				ISRC:   t.ISRC,
			})
			releaseCands = append(releaseCands, relCands...)
			if len(trackCands) == 0 {
				continue
			}
			if _, err := s.MergeLinks(ctx, OwnerTrack, t.ID, trackCands); err != nil {
				return enriched, err
			}
			enriched++
		}
		if len(releaseCands) > 0 {
			if _, err := s.MergeLinks(ctx, OwnerRelease, rel.ID, releaseCands); err != nil {
				return enriched, err
			}
		}
	}

	s.logger.Info("link sweep completed",
		slog.String("profile_id", p.ID),
		slog.Int("tracks_enriched", enriched))
	return enriched, nil
}

// upsertRelease writes one release keyed on its home catalog ID and returns
// the row ID.
func upsertRelease(ctx context.Context, tx *sql.Tx, profileID string, cr provider.CatalogRelease) (string, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM releases WHERE profile_id = ? AND home_release_id = ?`,
		profileID, cr.ID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.New().String()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO releases (id, profile_id, title, release_date, upc, cover_url, home_release_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, profileID, cr.Title, cr.ReleaseDate, links.NormalizeUPC(cr.UPC), cr.CoverURL, cr.ID, now, now)
		if err != nil {
			return "", fmt.Errorf("inserting release %q: %w", cr.Title, err)
		}
	case err != nil:
		return "", fmt.Errorf("looking up release %q: %w", cr.Title, err)
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE releases SET title = ?, release_date = ?, upc = ?, cover_url = ?, updated_at = ? WHERE id = ?`,
			cr.Title, cr.ReleaseDate, links.NormalizeUPC(cr.UPC), cr.CoverURL, now, id)
		if err != nil {
			return "", fmt.Errorf("updating release %q: %w", cr.Title, err)
		}
	}
	return id, nil
}

// upsertTrack writes one track keyed on its home catalog ID and returns the
// row ID.
func upsertTrack(ctx context.Context, tx *sql.Tx, releaseID string, ct provider.CatalogTrack) (string, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	isrc := links.NormalizeISRC(ct.ISRC)

	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM tracks WHERE release_id = ? AND home_track_id = ?`,
		releaseID, ct.ID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.New().String()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tracks (id, release_id, name, duration_ms, disc_number, track_number, explicit, isrc, home_track_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, releaseID, ct.Name, ct.DurationMS, ct.DiscNumber, ct.TrackNumber, boolToInt(ct.Explicit), isrc, ct.ID, now, now)
		if err != nil {
			return "", fmt.Errorf("inserting track %q: %w", ct.Name, err)
		}
	case err != nil:
		return "", fmt.Errorf("looking up track %q: %w", ct.Name, err)
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE tracks SET name = ?, duration_ms = ?, disc_number = ?, track_number = ?, explicit = ?, isrc = ?, updated_at = ? WHERE id = ?`,
			ct.Name, ct.DurationMS, ct.DiscNumber, ct.TrackNumber, boolToInt(ct.Explicit), isrc, now, id)
		if err != nil {
			return "", fmt.Errorf("updating track %q: %w", ct.Name, err)
		}
	}
	return id, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
