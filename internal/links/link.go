package links

import (
	"regexp"
	"strings"

	"github.com/JovieInc/jovie/internal/provider"
)

// Source classifies where a candidate link came from.
type Source string

// Known link sources. Canonical links come straight from a platform's own
// catalog metadata, search links are inferred by text search, and override
// links were entered by the creator.
const (
	SourceCanonical Source = "canonical"
	SourceSearch    Source = "search"
	SourceOverride  Source = "override"
)

// sourceRank orders sources by authority. Canonical data is authoritative
// over search guesses regardless of confidence score, and an explicit
// creator override outranks both.
func sourceRank(s Source) int {
	switch s {
	case SourceOverride:
		return 3
	case SourceCanonical:
		return 2
	case SourceSearch:
		return 1
	default:
		return 0
	}
}

// DSPLink is a candidate or resolved destination URL for a release or track
// on one named platform.
type DSPLink struct {
	Provider   provider.Key `json:"provider"`
	URL        string       `json:"url"`
	Source     Source       `json:"source"`
	Confidence float64      `json:"confidence"`
	ISRC       string       `json:"isrc,omitempty"`
	UPC        string       `json:"upc,omitempty"`
}

// Verified reports whether the link carries a well-formed catalog identifier.
// Platform metadata is known to be inconsistent, so malformed identifiers are
// treated as absent rather than rejected.
func (l DSPLink) Verified() bool {
	return ValidISRC(NormalizeISRC(l.ISRC)) || ValidUPC(NormalizeUPC(l.UPC))
}

var isrcPattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{3}[0-9]{7}$`)

// NormalizeISRC strips separators and uppercases an ISRC as found in
// platform metadata, which variously formats them with hyphens, spaces,
// or lowercase prefixes.
func NormalizeISRC(isrc string) string {
	var b strings.Builder
	b.Grow(len(isrc))
	for _, r := range isrc {
		if r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// ValidISRC reports whether a normalized ISRC has the standard twelve
// character layout: country code, registrant code, year and designation.
func ValidISRC(isrc string) bool {
	return isrcPattern.MatchString(isrc)
}

// NormalizeUPC strips separators from a UPC/EAN barcode string.
func NormalizeUPC(upc string) string {
	var b strings.Builder
	b.Grow(len(upc))
	for _, r := range upc {
		if r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidUPC reports whether a normalized barcode is a 12-digit UPC-A or
// 13-digit EAN-13 code.
func ValidUPC(upc string) bool {
	if len(upc) != 12 && len(upc) != 13 {
		return false
	}
	for _, r := range upc {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
