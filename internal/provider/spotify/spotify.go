// Package spotify implements a catalog adapter for the Spotify Web API.
// Spotify requires client-credentials auth, so the adapter reads its API
// keys from the settings service and rebuilds its client when they change.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	sp "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/JovieInc/jovie/internal/provider"
)

// Adapter implements provider.CatalogClient for Spotify.
type Adapter struct {
	settings *provider.SettingsService
	limiter  *provider.RateLimiterMap
	logger   *slog.Logger

	mu     sync.Mutex
	client *sp.Client
	creds  provider.Credentials
}

// New creates a Spotify adapter. The client is built lazily on first use
// since credentials may not be configured yet.
func New(settings *provider.SettingsService, limiter *provider.RateLimiterMap, logger *slog.Logger) *Adapter {
	return &Adapter{
		settings: settings,
		limiter:  limiter,
		logger:   logger.With(slog.String("provider", string(provider.KeySpotify))),
	}
}

// Name returns the platform identifier.
func (a *Adapter) Name() provider.Key { return provider.KeySpotify }

// RequiresAuth reports whether the platform needs API credentials.
// Spotify rejects unauthenticated requests.
func (a *Adapter) RequiresAuth() bool { return true }

// api returns a client authenticated with the currently stored credentials,
// rebuilding it when they change.
func (a *Adapter) api(ctx context.Context) (*sp.Client, error) {
	creds, err := a.settings.GetCredentials(ctx, provider.KeySpotify)
	if err != nil {
		return nil, fmt.Errorf("loading spotify credentials: %w", err)
	}
	if creds.Empty() {
		return nil, &provider.ErrAuthRequired{Provider: provider.KeySpotify}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil && a.creds == creds {
		return a.client, nil
	}

	config := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	// Token refresh outlives any single request, so the oauth2 transport is
	// bound to the background context rather than the caller's.
	httpClient := config.Client(context.Background())
	a.client = sp.New(httpClient, sp.WithRetry(true))
	a.creds = creds

	a.logger.Debug("spotify client initialized")
	return a.client, nil
}

// LookupISRC resolves a recording by its ISRC using the search filter
// syntax. Spotify can return several regional duplicates of the same
// recording, so the most popular one wins.
func (a *Adapter) LookupISRC(ctx context.Context, isrc string) (*provider.TrackHit, error) {
	if isrc == "" {
		return nil, &provider.ErrNotFound{Provider: provider.KeySpotify, Kind: "isrc", ID: isrc}
	}

	client, err := a.api(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.wait(ctx); err != nil {
		return nil, err
	}

	results, err := client.Search(ctx, "isrc:"+isrc, sp.SearchTypeTrack, sp.Limit(5))
	if err != nil {
		return nil, mapError(err, "isrc", isrc)
	}
	if results.Tracks == nil || len(results.Tracks.Tracks) == 0 {
		return nil, &provider.ErrNotFound{Provider: provider.KeySpotify, Kind: "isrc", ID: isrc}
	}

	hit := trackHitFromFull(pickMostPopular(results.Tracks.Tracks))
	if hit.ISRC == "" {
		hit.ISRC = isrc
	}
	return hit, nil
}

// SearchTrack searches Spotify for recordings matching a title and artist name.
func (a *Adapter) SearchTrack(ctx context.Context, title, artist string) ([]provider.TrackHit, error) {
	if title == "" {
		return nil, nil
	}

	client, err := a.api(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.wait(ctx); err != nil {
		return nil, err
	}

	query := "track:" + title
	if artist != "" {
		query += " artist:" + artist
	}
	results, err := client.Search(ctx, query, sp.SearchTypeTrack, sp.Limit(10))
	if err != nil {
		return nil, mapError(err, "track", query)
	}
	if results.Tracks == nil {
		return nil, nil
	}

	hits := make([]provider.TrackHit, 0, len(results.Tracks.Tracks))
	for i := range results.Tracks.Tracks {
		hits = append(hits, *trackHitFromFull(&results.Tracks.Tracks[i]))
	}

	a.logger.Debug("track search completed",
		slog.String("query", query),
		slog.Int("results", len(hits)))

	return hits, nil
}

// GetArtist fetches an artist's public identity by their Spotify ID.
func (a *Adapter) GetArtist(ctx context.Context, id string) (*provider.ExternalArtist, error) {
	if id == "" {
		return nil, &provider.ErrNotFound{Provider: provider.KeySpotify, Kind: "artist", ID: id}
	}

	client, err := a.api(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.wait(ctx); err != nil {
		return nil, err
	}

	artist, err := client.GetArtist(ctx, sp.ID(id))
	if err != nil {
		return nil, mapError(err, "artist", id)
	}

	out := &provider.ExternalArtist{
		ID:   string(artist.ID),
		Name: artist.Name,
		URL:  artist.ExternalURLs["spotify"],
	}
	if len(artist.Images) > 0 {
		out.ImageURL = artist.Images[0].URL
	}
	return out, nil
}

// FetchArtistCatalog fetches an artist's albums and singles with their
// tracks. Album tracklists omit external IDs, so full track objects are
// fetched separately to fill in ISRCs.
func (a *Adapter) FetchArtistCatalog(ctx context.Context, artistID string) ([]provider.CatalogRelease, error) {
	if artistID == "" {
		return nil, &provider.ErrNotFound{Provider: provider.KeySpotify, Kind: "artist", ID: artistID}
	}

	client, err := a.api(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.wait(ctx); err != nil {
		return nil, err
	}

	// Without a market filter Spotify repeats each album once per region.
	page, err := client.GetArtistAlbums(ctx, sp.ID(artistID),
		[]sp.AlbumType{sp.AlbumTypeAlbum, sp.AlbumTypeSingle},
		sp.Market("US"), sp.Limit(50))
	if err != nil {
		return nil, mapError(err, "artist", artistID)
	}

	releases := make([]provider.CatalogRelease, 0, len(page.Albums))
	for i := range page.Albums {
		release, err := a.getAlbum(ctx, client, page.Albums[i].ID)
		if err != nil {
			return nil, err
		}
		releases = append(releases, *release)
	}

	a.logger.Debug("catalog fetched",
		slog.String("artist_id", artistID),
		slog.Int("releases", len(releases)))

	return releases, nil
}

// TestConnection verifies the stored credentials by requesting a token and
// running a minimal search.
func (a *Adapter) TestConnection(ctx context.Context) error {
	client, err := a.api(ctx)
	if err != nil {
		return err
	}
	if err := a.wait(ctx); err != nil {
		return err
	}
	if _, err := client.Search(ctx, "a", sp.SearchTypeTrack, sp.Limit(1)); err != nil {
		return mapError(err, "track", "")
	}
	return nil
}

// getAlbum fetches one album with its tracks and resolves their ISRCs.
func (a *Adapter) getAlbum(ctx context.Context, client *sp.Client, id sp.ID) (*provider.CatalogRelease, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}

	full, err := client.GetAlbum(ctx, id)
	if err != nil {
		return nil, mapError(err, "album", string(id))
	}

	release := &provider.CatalogRelease{
		ID:          string(full.ID),
		Title:       full.Name,
		URL:         full.ExternalURLs["spotify"],
		UPC:         full.ExternalIDs["upc"],
		ReleaseDate: full.ReleaseDate,
	}
	if len(full.Images) > 0 {
		release.CoverURL = full.Images[0].URL
	}

	ids := make([]sp.ID, 0, len(full.Tracks.Tracks))
	for i := range full.Tracks.Tracks {
		ids = append(ids, full.Tracks.Tracks[i].ID)
	}
	isrcs, err := a.trackISRCs(ctx, client, ids)
	if err != nil {
		return nil, err
	}

	for i := range full.Tracks.Tracks {
		tr := &full.Tracks.Tracks[i]
		release.Tracks = append(release.Tracks, provider.CatalogTrack{
			ID:          string(tr.ID),
			Name:        tr.Name,
			URL:         tr.ExternalURLs["spotify"],
			ISRC:        isrcs[tr.ID],
			DurationMS:  int(tr.Duration),
			DiscNumber:  int(tr.DiscNumber),
			TrackNumber: int(tr.TrackNumber),
			Explicit:    tr.Explicit,
		})
	}
	return release, nil
}

// trackISRCs fetches full track objects in batches of 50, the API maximum,
// and returns their ISRCs by track ID.
func (a *Adapter) trackISRCs(ctx context.Context, client *sp.Client, ids []sp.ID) (map[sp.ID]string, error) {
	isrcs := make(map[sp.ID]string, len(ids))
	for start := 0; start < len(ids); start += 50 {
		end := min(start+50, len(ids))
		if err := a.wait(ctx); err != nil {
			return nil, err
		}
		tracks, err := client.GetTracks(ctx, ids[start:end])
		if err != nil {
			return nil, mapError(err, "track", "")
		}
		for _, tr := range tracks {
			if tr != nil {
				isrcs[tr.ID] = tr.ExternalIDs["isrc"]
			}
		}
	}
	return isrcs, nil
}

// wait blocks on the shared rate limiter for the Spotify key.
func (a *Adapter) wait(ctx context.Context) error {
	if err := a.limiter.Wait(ctx, provider.KeySpotify); err != nil {
		return &provider.ErrProviderUnavailable{
			Provider: provider.KeySpotify,
			Cause:    fmt.Errorf("rate limiter: %w", err),
		}
	}
	return nil
}

// mapError converts Spotify client errors into provider errors.
func mapError(err error, kind, id string) error {
	var apiErr sp.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusNotFound:
			return &provider.ErrNotFound{Provider: provider.KeySpotify, Kind: kind, ID: id}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &provider.ErrAuthRequired{Provider: provider.KeySpotify}
		case http.StatusTooManyRequests:
			return &provider.ErrProviderUnavailable{
				Provider:   provider.KeySpotify,
				Cause:      err,
				RetryAfter: 30 * time.Second,
			}
		}
	}
	return &provider.ErrProviderUnavailable{Provider: provider.KeySpotify, Cause: err}
}

// pickMostPopular returns the most popular track of a result page.
func pickMostPopular(tracks []sp.FullTrack) *sp.FullTrack {
	best := &tracks[0]
	for i := range tracks {
		if tracks[i].Popularity > best.Popularity {
			best = &tracks[i]
		}
	}
	return best
}

// trackHitFromFull converts a full track object into a TrackHit.
func trackHitFromFull(t *sp.FullTrack) *provider.TrackHit {
	hit := &provider.TrackHit{
		ID:         string(t.ID),
		Title:      t.Name,
		URL:        t.ExternalURLs["spotify"],
		ISRC:       t.ExternalIDs["isrc"],
		DurationMS: int(t.Duration),
		Popularity: int(t.Popularity),
		Release: provider.ExternalRelease{
			ID:    string(t.Album.ID),
			Title: t.Album.Name,
			URL:   t.Album.ExternalURLs["spotify"],
		},
	}
	if len(t.Album.Images) > 0 {
		hit.Release.CoverURL = t.Album.Images[0].URL
	}
	if len(t.Artists) > 0 {
		hit.Artist = provider.ExternalArtist{
			ID:   string(t.Artists[0].ID),
			Name: t.Artists[0].Name,
			URL:  t.Artists[0].ExternalURLs["spotify"],
		}
	}
	return hit
}
