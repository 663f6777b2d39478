package match

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/JovieInc/jovie/internal/event"
	"github.com/JovieInc/jovie/internal/links"
	"github.com/JovieInc/jovie/internal/provider"
)

// ErrDiscoveryActive is returned when a discovery run is requested while
// another is already in flight for the same profile and platform.
var ErrDiscoveryActive = errors.New("discovery already in progress")

// Engine runs identity discovery: it looks a profile's recorded output up on
// a candidate platform and scores the artist identities that come back by how
// many of the profile's ISRCs they account for.
type Engine struct {
	db       *sql.DB
	matches  *Service
	registry *provider.Registry
	settings *provider.SettingsService
	bus      *event.Bus
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]bool
}

// NewEngine creates a discovery engine.
func NewEngine(db *sql.DB, matches *Service, registry *provider.Registry, settings *provider.SettingsService, bus *event.Bus, logger *slog.Logger) *Engine {
	return &Engine{
		db:       db,
		matches:  matches,
		registry: registry,
		settings: settings,
		bus:      bus,
		logger:   logger.With(slog.String("component", "match-engine")),
		active:   make(map[string]bool),
	}
}

// DiscoveryActive reports whether a discovery run is in flight for the given
// profile and platform.
func (e *Engine) DiscoveryActive(profileID string, key provider.Key) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[profileID+"/"+string(key)]
}

func (e *Engine) tryLock(profileID string, key provider.Key) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := profileID + "/" + string(key)
	if e.active[k] {
		return false
	}
	e.active[k] = true
	return true
}

func (e *Engine) unlock(profileID string, key provider.Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, profileID+"/"+string(key))
}

// Discover looks the profile's catalog up on the given platform and records
// the best artist identity candidate. At most one run per profile and
// platform is in flight at a time; a second request is refused with
// ErrDiscoveryActive rather than queued.
//
// A lookup failure aborts the whole run before anything is written, so a
// flaky platform can never leave a half-scored suggestion behind.
func (e *Engine) Discover(ctx context.Context, profileID string, key provider.Key) error {
	if !e.tryLock(profileID, key) {
		return fmt.Errorf("%w: profile %s on %s", ErrDiscoveryActive, profileID, key)
	}
	defer e.unlock(profileID, key)

	var homeProvider string
	var connected int
	err := e.db.QueryRowContext(ctx, `SELECT home_provider, connected FROM profiles WHERE id = ?`, profileID).
		Scan(&homeProvider, &connected)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("profile not found: %s", profileID)
	}
	if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}
	if string(key) == homeProvider {
		return fmt.Errorf("platform %s is the home platform for profile %s", key, profileID)
	}

	client := e.registry.Get(key)
	if client == nil {
		return fmt.Errorf("no catalog adapter for platform %s", key)
	}

	isrcs, err := e.homeISRCs(ctx, profileID)
	if err != nil {
		return err
	}
	if len(isrcs) == 0 {
		return fmt.Errorf("profile %s has no tracks with an ISRC", profileID)
	}

	rejected, err := e.matches.RejectedIdentities(ctx, profileID, key)
	if err != nil {
		return err
	}

	candidates, err := e.scoreCandidates(ctx, client, isrcs, rejected)
	if err != nil {
		return err
	}

	e.logger.Info("discovery run scored",
		"profile_id", profileID,
		"provider", string(key),
		"isrcs", len(isrcs),
		"candidates", len(candidates))

	completed := event.Event{
		Type: event.DiscoveryCompleted,
		Data: map[string]any{
			"profile_id": profileID,
			"provider":   string(key),
			"candidates": len(candidates),
		},
	}

	if len(candidates) == 0 {
		// Nothing usable came back. Whatever the slot holds stays as is.
		if e.bus != nil {
			e.bus.Publish(completed)
		}
		return nil
	}

	best := candidates[0]
	best.ProfileID = profileID
	completed.Data["best_confidence"] = best.Confidence

	threshold, err := e.settings.GetAutoConfirmThreshold(ctx)
	if err != nil {
		return err
	}

	m, err := e.matches.UpsertFromDiscovery(ctx, best, threshold)
	if err != nil {
		return err
	}

	if e.bus != nil {
		data := map[string]any{
			"match_id":           m.ID,
			"profile_id":         m.ProfileID,
			"provider":           string(m.Provider),
			"external_artist_id": m.ExternalArtistID,
			"confidence":         m.Confidence,
		}
		switch m.Status {
		case StatusSuggested:
			e.bus.Publish(event.Event{Type: event.MatchSuggested, Data: data})
		case StatusAutoConfirmed:
			e.bus.Publish(event.Event{Type: event.MatchAutoConfirmed, Data: data})
		}
		e.bus.Publish(completed)
	}
	return nil
}

// homeISRCs collects the distinct well-formed ISRCs across the profile's
// releases. Malformed codes are dropped, not treated as errors.
func (e *Engine) homeISRCs(ctx context.Context, profileID string) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT DISTINCT t.isrc FROM tracks t
		JOIN releases r ON r.id = t.release_id
		WHERE r.profile_id = ? AND t.isrc != ''
		ORDER BY t.isrc`, profileID)
	if err != nil {
		return nil, fmt.Errorf("collecting isrcs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	seen := make(map[string]bool)
	var isrcs []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning isrc: %w", err)
		}
		isrc := links.NormalizeISRC(raw)
		if !links.ValidISRC(isrc) || seen[isrc] {
			continue
		}
		seen[isrc] = true
		isrcs = append(isrcs, isrc)
	}
	return isrcs, rows.Err()
}

// scoreCandidates looks each ISRC up on the candidate platform and groups the
// hits by the artist identity they belong to. Identities the creator has
// rejected are skipped. Candidates come back sorted best first.
func (e *Engine) scoreCandidates(ctx context.Context, client provider.CatalogClient, isrcs []string, rejected map[string]bool) ([]Candidate, error) {
	type tally struct {
		artist provider.ExternalArtist
		count  int
	}
	tallies := make(map[string]*tally)

	for _, isrc := range isrcs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hit, err := client.LookupISRC(ctx, isrc)
		var notFound *provider.ErrNotFound
		if errors.As(err, &notFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("looking up isrc %s on %s: %w", isrc, client.Name(), err)
		}
		if hit == nil || hit.Artist.ID == "" || rejected[hit.Artist.ID] {
			continue
		}
		t, ok := tallies[hit.Artist.ID]
		if !ok {
			t = &tally{artist: hit.Artist}
			tallies[hit.Artist.ID] = t
		}
		t.count++
	}

	candidates := make([]Candidate, 0, len(tallies))
	for _, t := range tallies {
		candidates = append(candidates, Candidate{
			Provider:           client.Name(),
			ExternalArtistID:   t.artist.ID,
			ExternalArtistName: t.artist.Name,
			ExternalArtistURL:  t.artist.URL,
			ExternalImageURL:   t.artist.ImageURL,
			Confidence:         MatchConfidence(t.count, len(isrcs)),
			MatchingISRCCount:  t.count,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].ExternalArtistID < candidates[j].ExternalArtistID
	})
	return candidates, nil
}
