package smartlink

import (
	"net/url"
	"strings"

	"github.com/JovieInc/jovie/internal/provider"
)

// slugSeparator joins the release and profile ids in a public slug. Both ids
// are UUIDs, which never contain a doubled hyphen, so the slug parses back
// unambiguously.
const slugSeparator = "--"

// BuildReleaseSlug derives the public slug for a release. The release id is
// unique per profile and the profile id is embedded, so the result is
// globally unique without a database lookup.
func BuildReleaseSlug(profileID, releaseID string) string {
	return releaseID + slugSeparator + profileID
}

// ParseReleaseSlug splits a slug back into its release and profile ids.
// Returns ok=false for anything BuildReleaseSlug could not have produced.
func ParseReleaseSlug(slug string) (releaseID, profileID string, ok bool) {
	idx := strings.LastIndex(slug, slugSeparator)
	if idx <= 0 || idx+len(slugSeparator) >= len(slug) {
		return "", "", false
	}
	return slug[:idx], slug[idx+len(slugSeparator):], true
}

// BuildSmartLinkPath returns the addressable path for a slug. A non-empty
// platform override is carried as the dsp query parameter, which bypasses
// preference-order selection at resolution time.
func BuildSmartLinkPath(slug string, override provider.Key) string {
	if override == "" {
		return "/r/" + slug
	}
	return "/r/" + slug + "?dsp=" + url.QueryEscape(string(override))
}

// BuildSmartLinkURL prepends the public base origin to the smart link path,
// with any trailing slashes on the base stripped.
func BuildSmartLinkURL(baseURL, slug string, override provider.Key) string {
	return strings.TrimRight(baseURL, "/") + BuildSmartLinkPath(slug, override)
}
