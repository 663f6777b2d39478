package match

import (
	"time"

	"github.com/JovieInc/jovie/internal/provider"
)

// Status tracks where a platform identity match sits in its lifecycle.
type Status string

// Match statuses.
const (
	StatusSuggested     Status = "suggested"
	StatusAutoConfirmed Status = "auto_confirmed"
	StatusConfirmed     Status = "confirmed"
	StatusRejected      Status = "rejected"
)

// ArtistMatch ties a profile to an artist identity on another platform.
// At most one non-rejected match exists per profile and platform; rejected
// matches are kept so the same identity is never suggested twice.
type ArtistMatch struct {
	ID                 string       `json:"id"`
	ProfileID          string       `json:"profile_id"`
	Provider           provider.Key `json:"provider"`
	ExternalArtistID   string       `json:"external_artist_id"`
	ExternalArtistName string       `json:"external_artist_name"`
	ExternalArtistURL  string       `json:"external_artist_url,omitempty"`
	ExternalImageURL   string       `json:"external_image_url,omitempty"`
	Confidence         float64      `json:"confidence"`
	MatchingISRCCount  int          `json:"matching_isrc_count"`
	Status             Status       `json:"status"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Active reports whether the match occupies the profile's slot for its
// platform. A rejected match frees the slot for a new candidate.
func (m *ArtistMatch) Active() bool {
	return m.Status != StatusRejected
}

// Candidate is a scored artist identity produced by a discovery run.
type Candidate struct {
	ProfileID          string       `json:"profile_id"`
	Provider           provider.Key `json:"provider"`
	ExternalArtistID   string       `json:"external_artist_id"`
	ExternalArtistName string       `json:"external_artist_name"`
	ExternalArtistURL  string       `json:"external_artist_url,omitempty"`
	ExternalImageURL   string       `json:"external_image_url,omitempty"`
	Confidence         float64      `json:"confidence"`
	MatchingISRCCount  int          `json:"matching_isrc_count"`
}
