// Package deezer implements a catalog adapter backed by the Deezer API.
// Deezer requires no authentication, resolves recordings by ISRC directly,
// and serves full artist discographies, which makes it the cheapest platform
// to match against.
package deezer

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

const defaultBaseURL = "https://api.deezer.com"

// Adapter implements provider.CatalogClient for Deezer.
type Adapter struct {
	client  *http.Client
	limiter *provider.RateLimiterMap
	logger  *slog.Logger
	baseURL string
}

// New creates a Deezer adapter with the default base URL.
func New(limiter *provider.RateLimiterMap, logger *slog.Logger) *Adapter {
	return NewWithBaseURL(limiter, logger, defaultBaseURL)
}

// NewWithBaseURL creates a Deezer adapter with a custom base URL (for testing).
func NewWithBaseURL(limiter *provider.RateLimiterMap, logger *slog.Logger, baseURL string) *Adapter {
	return &Adapter{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
		logger:  logger.With(slog.String("provider", string(provider.KeyDeezer))),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the platform identifier.
func (a *Adapter) Name() provider.Key { return provider.KeyDeezer }

// RequiresAuth reports whether the platform needs API credentials.
// Deezer's public API works without any.
func (a *Adapter) RequiresAuth() bool { return false }

// LookupISRC resolves a recording by its ISRC. Deezer reports a miss as
// HTTP 200 with an error object in the body, which maps to ErrNotFound.
func (a *Adapter) LookupISRC(ctx context.Context, isrc string) (*provider.TrackHit, error) {
	if isrc == "" {
		return nil, &provider.ErrNotFound{Provider: provider.KeyDeezer, Kind: "isrc", ID: isrc}
	}

	reqURL := fmt.Sprintf("%s/track/isrc:%s", a.baseURL, url.PathEscape(isrc))

	var result trackResult
	if err := a.getJSON(ctx, reqURL, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, mapAPIError(result.Error, "isrc", isrc)
	}

	hit := trackHitFromResult(&result)
	if hit.ISRC == "" {
		hit.ISRC = isrc
	}
	return hit, nil
}

// SearchTrack searches Deezer for recordings matching a title and artist name.
func (a *Adapter) SearchTrack(ctx context.Context, title, artist string) ([]provider.TrackHit, error) {
	if title == "" {
		return nil, nil
	}

	q := fmt.Sprintf("track:%q", title)
	if artist != "" {
		q = fmt.Sprintf("artist:%q %s", artist, q)
	}
	params := url.Values{
		"q":     {q},
		"limit": {"10"},
	}
	reqURL := a.baseURL + "/search/track?" + params.Encode()

	var resp searchResponse
	if err := a.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, mapAPIError(resp.Error, "track", q)
	}

	hits := make([]provider.TrackHit, 0, len(resp.Data))
	for i := range resp.Data {
		hits = append(hits, *trackHitFromResult(&resp.Data[i]))
	}

	a.logger.Debug("track search completed",
		slog.String("query", q),
		slog.Int("results", len(hits)))

	return hits, nil
}

// GetArtist fetches an artist's public identity by their Deezer ID (numeric
// string). Returns ErrNotFound for non-numeric IDs, since IDs issued by other
// platforms are never valid here.
func (a *Adapter) GetArtist(ctx context.Context, id string) (*provider.ExternalArtist, error) {
	if !isDeezerID(id) {
		return nil, &provider.ErrNotFound{Provider: provider.KeyDeezer, Kind: "artist", ID: id}
	}

	reqURL := fmt.Sprintf("%s/artist/%s", a.baseURL, url.PathEscape(id))

	var result artistResult
	if err := a.getJSON(ctx, reqURL, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, mapAPIError(result.Error, "artist", id)
	}

	return externalArtistFromResult(&result), nil
}

// FetchArtistCatalog fetches an artist's releases with their tracks. The
// discography listing carries no UPC or track data, so each album is fetched
// individually. Deezer album payloads do not include per-track ISRCs, so
// catalog tracks come back without one.
func (a *Adapter) FetchArtistCatalog(ctx context.Context, artistID string) ([]provider.CatalogRelease, error) {
	if !isDeezerID(artistID) {
		return nil, &provider.ErrNotFound{Provider: provider.KeyDeezer, Kind: "artist", ID: artistID}
	}

	reqURL := fmt.Sprintf("%s/artist/%s/albums?limit=100", a.baseURL, url.PathEscape(artistID))

	var listing albumListResponse
	if err := a.getJSON(ctx, reqURL, &listing); err != nil {
		return nil, err
	}
	if listing.Error != nil {
		return nil, mapAPIError(listing.Error, "artist", artistID)
	}

	releases := make([]provider.CatalogRelease, 0, len(listing.Data))
	for i := range listing.Data {
		release, err := a.getAlbum(ctx, listing.Data[i].ID)
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

// getAlbum fetches one album with its embedded track listing.
func (a *Adapter) getAlbum(ctx context.Context, id int) (*provider.CatalogRelease, error) {
	reqURL := fmt.Sprintf("%s/album/%d", a.baseURL, id)

	var result albumResult
	if err := a.getJSON(ctx, reqURL, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, mapAPIError(result.Error, "album", strconv.Itoa(id))
	}

	release := &provider.CatalogRelease{
		ID:          strconv.Itoa(result.ID),
		Title:       result.Title,
		URL:         result.Link,
		UPC:         result.UPC,
		ReleaseDate: result.ReleaseDate,
		CoverURL:    result.CoverXL,
	}
	if release.URL == "" {
		release.URL = "https://www.deezer.com/album/" + release.ID
	}
	for i := range result.Tracks.Data {
		tr := &result.Tracks.Data[i]
		// Embedded album tracklists sometimes omit position fields;
		// fall back to list order.
		number := tr.TrackPosition
		if number == 0 {
			number = i + 1
		}
		disc := tr.DiskNumber
		if disc == 0 {
			disc = 1
		}
		release.Tracks = append(release.Tracks, provider.CatalogTrack{
			ID:          strconv.Itoa(tr.ID),
			Name:        tr.Title,
			URL:         tr.Link,
			DurationMS:  tr.Duration * 1000,
			DiscNumber:  disc,
			TrackNumber: number,
			Explicit:    tr.ExplicitLyrics,
		})
	}
	return release, nil
}

// getJSON waits on the rate limiter, executes a GET request, and decodes
// the response body into out.
func (a *Adapter) getJSON(ctx context.Context, reqURL string, out any) error {
	if err := a.limiter.Wait(ctx, provider.KeyDeezer); err != nil {
		return &provider.ErrProviderUnavailable{
			Provider: provider.KeyDeezer,
			Cause:    fmt.Errorf("rate limiter: %w", err),
		}
	}

	body, err := a.doRequest(ctx, reqURL)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing deezer response: %w", err)
	}
	return nil
}

// doRequest executes a GET request and returns the response body.
func (a *Adapter) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req) //nolint:gosec // URL constructed from adapter config and validated inputs
	if err != nil {
		return nil, &provider.ErrProviderUnavailable{
			Provider: provider.KeyDeezer,
			Cause:    err,
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		// continue
	case http.StatusNotFound:
		return nil, &provider.ErrNotFound{Provider: provider.KeyDeezer, Kind: "resource", ID: reqURL}
	case http.StatusTooManyRequests:
		return nil, &provider.ErrProviderUnavailable{
			Provider: provider.KeyDeezer,
			Cause:    fmt.Errorf("rate limited by server"),
		}
	default:
		return nil, &provider.ErrProviderUnavailable{
			Provider: provider.KeyDeezer,
			Cause:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	return io.ReadAll(io.LimitReader(resp.Body, 1*1024*1024))
}

// mapAPIError converts Deezer's in-band error object into a provider error.
// Deezer returns these with HTTP 200.
func mapAPIError(e *apiError, kind, id string) error {
	switch e.Code {
	case codeNoData:
		return &provider.ErrNotFound{Provider: provider.KeyDeezer, Kind: kind, ID: id}
	case codeQuotaExceeded:
		return &provider.ErrProviderUnavailable{
			Provider:   provider.KeyDeezer,
			Cause:      fmt.Errorf("quota exceeded: %s", e.Message),
			RetryAfter: 5 * time.Second,
		}
	default:
		return &provider.ErrProviderUnavailable{
			Provider: provider.KeyDeezer,
			Cause:    fmt.Errorf("api error %d: %s", e.Code, e.Message),
		}
	}
}

// trackHitFromResult converts a Deezer track payload into a TrackHit.
func trackHitFromResult(r *trackResult) *provider.TrackHit {
	hit := &provider.TrackHit{
		ID:         strconv.Itoa(r.ID),
		Title:      r.Title,
		URL:        r.Link,
		ISRC:       r.ISRC,
		DurationMS: r.Duration * 1000,
		// Deezer ranks span 0 to 1,000,000; scale down to 0 to 100.
		Popularity: r.Rank / 10000,
		Artist: provider.ExternalArtist{
			ID:   strconv.Itoa(r.Artist.ID),
			Name: r.Artist.Name,
			URL:  r.Artist.Link,
		},
		Release: provider.ExternalRelease{
			ID:       strconv.Itoa(r.Album.ID),
			Title:    r.Album.Title,
			URL:      r.Album.Link,
			CoverURL: r.Album.CoverXL,
		},
	}
	if hit.URL == "" && r.ID != 0 {
		hit.URL = "https://www.deezer.com/track/" + hit.ID
	}
	if hit.Artist.URL == "" && r.Artist.ID != 0 {
		hit.Artist.URL = "https://www.deezer.com/artist/" + hit.Artist.ID
	}
	if hit.Release.URL == "" && r.Album.ID != 0 {
		hit.Release.URL = "https://www.deezer.com/album/" + hit.Release.ID
	}
	if !isPlaceholderImage(r.Artist.PictureXL) {
		hit.Artist.ImageURL = r.Artist.PictureXL
	}
	return hit
}

// externalArtistFromResult converts a Deezer artist payload, preferring the
// XL photo and skipping Deezer's placeholder image.
func externalArtistFromResult(r *artistResult) *provider.ExternalArtist {
	artist := &provider.ExternalArtist{
		ID:   strconv.Itoa(r.ID),
		Name: r.Name,
		URL:  r.Link,
	}
	if artist.URL == "" {
		artist.URL = "https://www.deezer.com/artist/" + artist.ID
	}
	switch {
	case !isPlaceholderImage(r.PictureXL):
		artist.ImageURL = r.PictureXL
	case !isPlaceholderImage(r.PictureBig):
		artist.ImageURL = r.PictureBig
	}
	return artist
}

// isPlaceholderImage reports whether a picture URL is empty or Deezer's
// generic placeholder, recognizable by the double slash in its path.
func isPlaceholderImage(u string) bool {
	return u == "" || strings.Contains(u, "/images/artist//")
}

// isDeezerID reports whether id is a valid Deezer ID (all digits).
func isDeezerID(id string) bool {
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
