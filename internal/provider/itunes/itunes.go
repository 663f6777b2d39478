// Package itunes implements an Apple Music catalog adapter backed by the
// iTunes Search API. The API needs no credentials but is aggressively
// throttled (roughly 20 requests per minute) and exposes no UPC, so imports
// from it are slower and thinner than from other platforms.
package itunes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/JovieInc/jovie/internal/provider"
)

const defaultBaseURL = "https://itunes.apple.com"

// Adapter implements provider.CatalogClient for Apple Music.
type Adapter struct {
	client  *http.Client
	limiter *provider.RateLimiterMap
	logger  *slog.Logger
	baseURL string
}

// New creates an Apple Music adapter with the default base URL.
func New(limiter *provider.RateLimiterMap, logger *slog.Logger) *Adapter {
	return NewWithBaseURL(limiter, logger, defaultBaseURL)
}

// NewWithBaseURL creates an Apple Music adapter with a custom base URL (for testing).
func NewWithBaseURL(limiter *provider.RateLimiterMap, logger *slog.Logger, baseURL string) *Adapter {
	return &Adapter{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
		logger:  logger.With(slog.String("provider", string(provider.KeyAppleMusic))),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the platform identifier.
func (a *Adapter) Name() provider.Key { return provider.KeyAppleMusic }

// RequiresAuth reports whether the platform needs API credentials.
// The iTunes Search API works without any.
func (a *Adapter) RequiresAuth() bool { return false }

// LookupISRC resolves a recording by its ISRC. Lookup results do not echo
// the queried code, so the returned hit carries the input ISRC.
func (a *Adapter) LookupISRC(ctx context.Context, isrc string) (*provider.TrackHit, error) {
	if isrc == "" {
		return nil, &provider.ErrNotFound{Provider: provider.KeyAppleMusic, Kind: "isrc", ID: isrc}
	}

	params := url.Values{
		"isrc":   {isrc},
		"entity": {"song"},
	}
	reqURL := a.baseURL + "/lookup?" + params.Encode()

	var resp lookupResponse
	if err := a.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, err
	}

	song := firstSong(resp.Results)
	if song == nil {
		return nil, &provider.ErrNotFound{Provider: provider.KeyAppleMusic, Kind: "isrc", ID: isrc}
	}

	hit := trackHitFromResult(song)
	hit.ISRC = isrc
	return hit, nil
}

// SearchTrack searches Apple Music for recordings matching a title and
// artist name. Search results never include an ISRC.
func (a *Adapter) SearchTrack(ctx context.Context, title, artist string) ([]provider.TrackHit, error) {
	if title == "" {
		return nil, nil
	}

	term := title
	if artist != "" {
		term = artist + " " + title
	}
	params := url.Values{
		"term":   {term},
		"entity": {"song"},
		"media":  {"music"},
		"limit":  {"10"},
	}
	reqURL := a.baseURL + "/search?" + params.Encode()

	var resp lookupResponse
	if err := a.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, err
	}

	hits := make([]provider.TrackHit, 0, len(resp.Results))
	for i := range resp.Results {
		r := &resp.Results[i]
		if r.WrapperType != wrapperTrack || r.Kind != kindSong {
			continue
		}
		hits = append(hits, *trackHitFromResult(r))
	}

	a.logger.Debug("track search completed",
		slog.String("term", term),
		slog.Int("results", len(hits)))

	return hits, nil
}

// GetArtist fetches an artist's public identity by their iTunes ID (numeric
// string). Returns ErrNotFound for non-numeric IDs, since IDs issued by other
// platforms are never valid here.
func (a *Adapter) GetArtist(ctx context.Context, id string) (*provider.ExternalArtist, error) {
	if !isITunesID(id) {
		return nil, &provider.ErrNotFound{Provider: provider.KeyAppleMusic, Kind: "artist", ID: id}
	}

	params := url.Values{"id": {id}}
	reqURL := a.baseURL + "/lookup?" + params.Encode()

	var resp lookupResponse
	if err := a.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, err
	}

	for i := range resp.Results {
		if resp.Results[i].WrapperType == wrapperArtist {
			return externalArtistFromResult(&resp.Results[i]), nil
		}
	}
	return nil, &provider.ErrNotFound{Provider: provider.KeyAppleMusic, Kind: "artist", ID: id}
}

// FetchArtistCatalog fetches an artist's releases with their tracks. The
// iTunes Search API exposes neither UPC nor ISRC, so catalog entries come
// back without identifiers.
func (a *Adapter) FetchArtistCatalog(ctx context.Context, artistID string) ([]provider.CatalogRelease, error) {
	if !isITunesID(artistID) {
		return nil, &provider.ErrNotFound{Provider: provider.KeyAppleMusic, Kind: "artist", ID: artistID}
	}

	params := url.Values{
		"id":     {artistID},
		"entity": {"album"},
		"limit":  {"200"},
	}
	reqURL := a.baseURL + "/lookup?" + params.Encode()

	var resp lookupResponse
	if err := a.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, err
	}

	var releases []provider.CatalogRelease
	for i := range resp.Results {
		r := &resp.Results[i]
		if r.WrapperType != wrapperCollection {
			continue
		}
		release, err := a.getAlbum(ctx, r.CollectionID)
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

// getAlbum fetches one album with its track listing. The lookup returns the
// collection wrapper first, followed by its songs.
func (a *Adapter) getAlbum(ctx context.Context, collectionID int64) (*provider.CatalogRelease, error) {
	params := url.Values{
		"id":     {strconv.FormatInt(collectionID, 10)},
		"entity": {"song"},
	}
	reqURL := a.baseURL + "/lookup?" + params.Encode()

	var resp lookupResponse
	if err := a.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, err
	}

	var release *provider.CatalogRelease
	for i := range resp.Results {
		r := &resp.Results[i]
		switch {
		case r.WrapperType == wrapperCollection:
			release = releaseFromResult(r)
		case r.WrapperType == wrapperTrack && r.Kind == kindSong && release != nil:
			release.Tracks = append(release.Tracks, catalogTrackFromResult(r))
		}
	}
	if release == nil {
		return nil, &provider.ErrNotFound{
			Provider: provider.KeyAppleMusic,
			Kind:     "album",
			ID:       strconv.FormatInt(collectionID, 10),
		}
	}
	return release, nil
}

// getJSON waits on the rate limiter, executes a GET request, and decodes
// the response body into out.
func (a *Adapter) getJSON(ctx context.Context, reqURL string, out any) error {
	if err := a.limiter.Wait(ctx, provider.KeyAppleMusic); err != nil {
		return &provider.ErrProviderUnavailable{
			Provider: provider.KeyAppleMusic,
			Cause:    fmt.Errorf("rate limiter: %w", err),
		}
	}

	body, err := a.doRequest(ctx, reqURL)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing itunes response: %w", err)
	}
	return nil
}

// doRequest executes a GET request and returns the response body.
// The iTunes API throttles with 403 as well as 429.
func (a *Adapter) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req) //nolint:gosec // URL constructed from adapter config and validated inputs
	if err != nil {
		return nil, &provider.ErrProviderUnavailable{
			Provider: provider.KeyAppleMusic,
			Cause:    err,
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		// continue
	case http.StatusNotFound:
		return nil, &provider.ErrNotFound{Provider: provider.KeyAppleMusic, Kind: "resource", ID: reqURL}
	case http.StatusForbidden, http.StatusTooManyRequests:
		return nil, &provider.ErrProviderUnavailable{
			Provider:   provider.KeyAppleMusic,
			Cause:      fmt.Errorf("rate limited by server"),
			RetryAfter: time.Minute,
		}
	default:
		return nil, &provider.ErrProviderUnavailable{
			Provider: provider.KeyAppleMusic,
			Cause:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	return io.ReadAll(io.LimitReader(resp.Body, 1*1024*1024))
}

// firstSong returns the first song entry of a lookup response, or nil.
func firstSong(results []lookupResult) *lookupResult {
	for i := range results {
		if results[i].WrapperType == wrapperTrack && results[i].Kind == kindSong {
			return &results[i]
		}
	}
	return nil
}

// trackHitFromResult converts a song entry into a TrackHit.
func trackHitFromResult(r *lookupResult) *provider.TrackHit {
	return &provider.TrackHit{
		ID:         strconv.FormatInt(r.TrackID, 10),
		Title:      r.TrackName,
		URL:        r.TrackViewURL,
		DurationMS: r.TrackTimeMillis,
		Artist: provider.ExternalArtist{
			ID:   strconv.FormatInt(r.ArtistID, 10),
			Name: r.ArtistName,
			URL:  r.ArtistViewURL,
		},
		Release: provider.ExternalRelease{
			ID:       strconv.FormatInt(r.CollectionID, 10),
			Title:    r.CollectionName,
			URL:      r.CollectionViewURL,
			CoverURL: upscaleArtwork(r.ArtworkURL100),
		},
	}
}

// externalArtistFromResult converts an artist entry. The iTunes API has no
// artist artwork, so ImageURL stays empty.
func externalArtistFromResult(r *lookupResult) *provider.ExternalArtist {
	artistURL := r.ArtistLinkURL
	if artistURL == "" {
		artistURL = r.ArtistViewURL
	}
	return &provider.ExternalArtist{
		ID:   strconv.FormatInt(r.ArtistID, 10),
		Name: r.ArtistName,
		URL:  artistURL,
	}
}

// releaseFromResult converts a collection entry into a CatalogRelease.
func releaseFromResult(r *lookupResult) *provider.CatalogRelease {
	return &provider.CatalogRelease{
		ID:          strconv.FormatInt(r.CollectionID, 10),
		Title:       r.CollectionName,
		URL:         r.CollectionViewURL,
		ReleaseDate: dateOnly(r.ReleaseDate),
		CoverURL:    upscaleArtwork(r.ArtworkURL100),
	}
}

// catalogTrackFromResult converts a song entry into a CatalogTrack.
func catalogTrackFromResult(r *lookupResult) provider.CatalogTrack {
	return provider.CatalogTrack{
		ID:          strconv.FormatInt(r.TrackID, 10),
		Name:        r.TrackName,
		URL:         r.TrackViewURL,
		DurationMS:  r.TrackTimeMillis,
		DiscNumber:  r.DiscNumber,
		TrackNumber: r.TrackNumber,
		Explicit:    r.TrackExplicitness == "explicit",
	}
}

// upscaleArtwork swaps the 100x100 artwork variant for the 600x600 one.
// The artwork CDN serves any size encoded in the filename.
func upscaleArtwork(u string) string {
	return strings.Replace(u, "100x100", "600x600", 1)
}

// dateOnly trims iTunes timestamps ("2013-05-17T07:00:00Z") to their date.
func dateOnly(s string) string {
	if i := strings.IndexByte(s, 'T'); i > 0 {
		return s[:i]
	}
	return s
}

// isITunesID reports whether id is a valid iTunes ID (all digits).
func isITunesID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
