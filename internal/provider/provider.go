package provider

import (
	"context"
	"fmt"
	"time"
)

// Key uniquely identifies a streaming platform (DSP).
type Key string

// Known platform keys.
const (
	KeySpotify      Key = "spotify"
	KeyAppleMusic   Key = "apple_music"
	KeyYouTubeMusic Key = "youtube_music"
	KeyAmazonMusic  Key = "amazon_music"
	KeyDeezer       Key = "deezer"
	KeyTidal        Key = "tidal"
	KeySoundCloud   Key = "soundcloud"
	KeyYouTube      Key = "youtube"
	KeyPandora      Key = "pandora"
)

// AllKeys returns all known platform keys in display order.
func AllKeys() []Key {
	return []Key{
		KeySpotify,
		KeyAppleMusic,
		KeyYouTubeMusic,
		KeyAmazonMusic,
		KeyDeezer,
		KeyTidal,
		KeySoundCloud,
		KeyYouTube,
		KeyPandora,
	}
}

// ParseKey validates a raw platform identifier, as received from query
// parameters or stored preference lists.
func ParseKey(s string) (Key, bool) {
	for _, k := range AllKeys() {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// DisplayName returns a human-readable name for the platform.
func (k Key) DisplayName() string {
	switch k {
	case KeySpotify:
		return "Spotify"
	case KeyAppleMusic:
		return "Apple Music"
	case KeyYouTubeMusic:
		return "YouTube Music"
	case KeyAmazonMusic:
		return "Amazon Music"
	case KeyDeezer:
		return "Deezer"
	case KeyTidal:
		return "Tidal"
	case KeySoundCloud:
		return "SoundCloud"
	case KeyYouTube:
		return "YouTube"
	case KeyPandora:
		return "Pandora"
	default:
		return string(k)
	}
}

// AllCatalogKeys returns the platforms that expose a queryable catalog API,
// in display order. Only these can serve as a home platform or as a match
// discovery target.
func AllCatalogKeys() []Key {
	return []Key{KeySpotify, KeyAppleMusic, KeyDeezer}
}

// AccessTier classifies a catalog API's access model.
type AccessTier string

// Access tier constants for classifying a catalog API's access model.
const (
	TierFree    AccessTier = "free"     // No key, no limit known
	TierFreeKey AccessTier = "free_key" // Free account/sign-up required
	TierPaid    AccessTier = "paid"     // Paid access only
)

// RateLimitInfo documents the known rate limits for a catalog API.
type RateLimitInfo struct {
	RequestsPerSecond float64    `json:"requests_per_second,omitempty"`
	RequestsPerDay    int        `json:"requests_per_day,omitempty"` // 0 = unknown/unlimited
	ResetAt           *time.Time `json:"reset_at,omitempty"`
}

// Capability describes a catalog API's access model and documented rate limits.
type Capability struct {
	Tier      AccessTier     `json:"tier"`
	HelpURL   string         `json:"help_url,omitempty"`
	RateLimit *RateLimitInfo `json:"rate_limit,omitempty"`
}

// CatalogCapabilities returns the known capability metadata for each
// catalog-capable platform.
func CatalogCapabilities() map[Key]Capability {
	return map[Key]Capability{
		KeySpotify: {
			Tier:      TierFreeKey,
			HelpURL:   "https://developer.spotify.com/dashboard",
			RateLimit: &RateLimitInfo{RequestsPerSecond: 5},
		},
		KeyAppleMusic: {
			Tier:      TierFree,
			RateLimit: &RateLimitInfo{RequestsPerSecond: 0.33},
		},
		KeyDeezer: {
			Tier:      TierFree,
			RateLimit: &RateLimitInfo{RequestsPerSecond: 5},
		},
	}
}

// ExternalArtist identifies an artist as known to a platform's catalog.
type ExternalArtist struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ExternalRelease identifies the album or single a track hit belongs to.
type ExternalRelease struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	UPC      string `json:"upc,omitempty"`
	CoverURL string `json:"cover_url,omitempty"`
}

// TrackHit is a single track returned by an ISRC lookup or a text search.
type TrackHit struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	URL        string          `json:"url"`
	ISRC       string          `json:"isrc,omitempty"`
	DurationMS int             `json:"duration_ms,omitempty"`
	Popularity int             `json:"popularity,omitempty"`
	Artist     ExternalArtist  `json:"artist"`
	Release    ExternalRelease `json:"release"`
}

// CatalogTrack is one track of a release as reported by a platform.
type CatalogTrack struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url,omitempty"`
	ISRC        string `json:"isrc,omitempty"`
	DurationMS  int    `json:"duration_ms,omitempty"`
	DiscNumber  int    `json:"disc_number,omitempty"`
	TrackNumber int    `json:"track_number,omitempty"`
	Explicit    bool   `json:"explicit,omitempty"`
}

// CatalogRelease is one release of an artist's catalog as reported by
// a platform, with its tracks.
type CatalogRelease struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	URL         string         `json:"url,omitempty"`
	UPC         string         `json:"upc,omitempty"`
	ReleaseDate string         `json:"release_date,omitempty"`
	CoverURL    string         `json:"cover_url,omitempty"`
	Tracks      []CatalogTrack `json:"tracks,omitempty"`
}

// CatalogClient is the interface all platform catalog adapters must implement.
type CatalogClient interface {
	// Name returns the unique platform identifier.
	Name() Key

	// RequiresAuth returns true if this platform needs API credentials to function.
	RequiresAuth() bool

	// GetArtist fetches an artist's public identity by the platform's own ID.
	GetArtist(ctx context.Context, id string) (*ExternalArtist, error)

	// FetchArtistCatalog fetches an artist's releases with their tracks.
	FetchArtistCatalog(ctx context.Context, artistID string) ([]CatalogRelease, error)

	// LookupISRC resolves a single recording by its ISRC.
	// A platform that has no recording under that ISRC returns *ErrNotFound.
	LookupISRC(ctx context.Context, isrc string) (*TrackHit, error)

	// SearchTrack searches the platform by track title and artist name.
	// Returns zero or more hits.
	SearchTrack(ctx context.Context, title, artist string) ([]TrackHit, error)
}

// TestableClient is an optional interface catalog adapters can implement
// for the "test credentials" button in the settings UI.
type TestableClient interface {
	CatalogClient
	TestConnection(ctx context.Context) error
}

// ErrProviderUnavailable marks failures worth retrying later: rate limits,
// timeouts and upstream 5xx responses. RetryAfter is zero unless the
// platform said how long to wait.
type ErrProviderUnavailable struct {
	Provider   Key
	Cause      error
	RetryAfter time.Duration
}

func (e *ErrProviderUnavailable) Error() string {
	return fmt.Sprintf("platform %s unavailable: %v", e.Provider, e.Cause)
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.Cause }

// ErrNotFound indicates the platform has no data for the requested ID.
type ErrNotFound struct {
	Provider Key
	Kind     string // "artist", "track", "isrc"
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("platform %s: %s %s not found", e.Provider, e.Kind, e.ID)
}

// ErrAuthRequired indicates the platform needs API credentials but none are configured.
type ErrAuthRequired struct {
	Provider Key
}

func (e *ErrAuthRequired) Error() string {
	return fmt.Sprintf("platform %s: credentials not configured", e.Provider)
}
