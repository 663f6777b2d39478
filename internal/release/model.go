// Package release maintains the catalog snapshot behind each creator's
// smart links: releases and tracks pulled from the home platform, and the
// per-platform destination links attached to them.
package release

import "time"

// Link owner kinds as stored in the dsp_links table.
const (
	OwnerRelease = "release"
	OwnerTrack   = "track"
)

// ValidOwnerType reports whether s names a link owner kind.
func ValidOwnerType(s string) bool {
	return s == OwnerRelease || s == OwnerTrack
}

// Release is one album, EP or single in a creator's catalog, as known from
// the home platform.
type Release struct {
	ID            string    `json:"id"`
	ProfileID     string    `json:"profile_id"`
	Title         string    `json:"title"`
	ReleaseDate   string    `json:"release_date,omitempty"` // YYYY-MM-DD, empty when unknown
	UPC           string    `json:"upc,omitempty"`
	CoverURL      string    `json:"cover_url,omitempty"`
	HomeReleaseID string    `json:"home_release_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Track is one recording on a release.
type Track struct {
	ID          string    `json:"id"`
	ReleaseID   string    `json:"release_id"`
	Name        string    `json:"name"`
	DurationMS  int       `json:"duration_ms,omitempty"`
	DiscNumber  int       `json:"disc_number"`
	TrackNumber int       `json:"track_number"`
	Explicit    bool      `json:"explicit"`
	ISRC        string    `json:"isrc,omitempty"`
	HomeTrackID string    `json:"home_track_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SyncResult summarizes one catalog sync run.
type SyncResult struct {
	Releases int `json:"releases"`
	Tracks   int `json:"tracks"`
}
