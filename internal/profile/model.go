package profile

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/JovieInc/jovie/internal/provider"
)

// Profile is one creator account: the artist identity on their home
// platform plus the presentation settings for their public link page.
type Profile struct {
	ID            string       `json:"id"`
	Handle        string       `json:"handle"`
	DisplayName   string       `json:"display_name"`
	HomeProvider  provider.Key `json:"home_provider"`
	HomeArtistID  string       `json:"home_artist_id,omitempty"`
	HomeArtistURL string       `json:"home_artist_url,omitempty"`
	ImageURL      string       `json:"image_url,omitempty"`
	// Connected is set once a catalog sync from the home platform succeeds.
	Connected bool `json:"connected"`
	// PreferredProviders overrides the instance-wide preference order for
	// this profile's smart links when non-empty.
	PreferredProviders []provider.Key `json:"preferred_providers,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Handles are public URL segments: 3 to 32 chars, lowercase alphanumeric
// and hyphens, starting with a letter or digit.
var handlePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{2,31}$`)

// ValidHandle reports whether h can serve as a public profile handle.
func ValidHandle(h string) bool {
	return handlePattern.MatchString(h)
}

// PreferenceOr returns the profile's preferred provider order, falling back
// to the given instance default when the profile has none.
func (p *Profile) PreferenceOr(fallback []provider.Key) []provider.Key {
	if len(p.PreferredProviders) > 0 {
		return p.PreferredProviders
	}
	return fallback
}

// marshalPreference serializes a provider order to its JSON column form.
func marshalPreference(keys []provider.Key) string {
	if len(keys) == 0 {
		return "[]"
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// unmarshalPreference deserializes the JSON column form, dropping any keys
// no longer known.
func unmarshalPreference(data string) []provider.Key {
	var raw []string
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil
	}
	var keys []provider.Key
	for _, s := range raw {
		if k, ok := provider.ParseKey(s); ok {
			keys = append(keys, k)
		}
	}
	return keys
}
