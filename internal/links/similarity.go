package links

import (
	"strings"
	"unicode"
)

// Score floors for accepting a search hit as a candidate link.
const (
	minTitleSimilarity  = 0.65
	minArtistSimilarity = 0.55
	minSearchConfidence = 0.70
)

// Version and packaging suffixes that platforms append to track titles.
var titleSuffixTokens = map[string]struct{}{
	"clean":      {},
	"deluxe":     {},
	"edition":    {},
	"edit":       {},
	"explicit":   {},
	"feat":       {},
	"featuring":  {},
	"ft":         {},
	"live":       {},
	"mix":        {},
	"mono":       {},
	"radio":      {},
	"remaster":   {},
	"remastered": {},
	"single":     {},
	"stereo":     {},
	"version":    {},
}

// SearchScore rates how well a search hit's title and artist match the
// recording being resolved. Returns the blended similarity in [0, 1] and
// whether it clears the acceptance floors.
func SearchScore(wantTitle, wantArtist, gotTitle, gotArtist string) (float64, bool) {
	wt := normalizeForMatch(wantTitle)
	wa := normalizeForMatch(wantArtist)
	gt := normalizeForMatch(gotTitle)
	ga := normalizeForMatch(gotArtist)
	if wt == "" || wa == "" || gt == "" || ga == "" {
		return 0, false
	}

	titleSim := similarity(wt, gt)
	artistSim := similarity(wa, ga)
	score := 0.7*titleSim + 0.3*artistSim

	if titleSim < minTitleSimilarity || artistSim < minArtistSimilarity || score < minSearchConfidence {
		return score, false
	}
	return score, true
}

// TitleContains reports whether haystack contains wantTitle once both are
// normalized. Used to confirm that a destination page (title, og:title) is
// about the expected recording; platform pages decorate titles with artist
// and site names, so containment is the right test rather than equality.
func TitleContains(haystack, wantTitle string) bool {
	h := normalizeForMatch(haystack)
	w := normalizeForMatch(wantTitle)
	if h == "" || w == "" {
		return false
	}
	return strings.Contains(h, w)
}

// normalizeForMatch lowercases, strips version suffixes like "(Remastered)"
// or "- Radio Edit", collapses punctuation to spaces, and squeezes runs of
// whitespace.
func normalizeForMatch(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	lowered := strings.ToLower(strings.TrimSpace(input))
	trimmed := stripVersionSuffixes(lowered)
	cleaned := collapseSeparators(trimmed)
	return strings.Join(strings.Fields(cleaned), " ")
}

func stripVersionSuffixes(input string) string {
	trimmed := strings.TrimSpace(input)
	for {
		next := trimBracketedSuffix(trimmed)
		next = trimDashSuffix(next)
		if next == trimmed {
			return trimmed
		}
		trimmed = strings.TrimSpace(next)
	}
}

func trimBracketedSuffix(input string) string {
	trimmed := strings.TrimSpace(input)
	for _, pair := range [][2]string{{"(", ")"}, {"[", "]"}} {
		open, close := pair[0], pair[1]
		if !strings.HasSuffix(trimmed, close) {
			continue
		}
		idx := strings.LastIndex(trimmed, open)
		if idx == -1 || idx >= len(trimmed)-1 {
			continue
		}
		suffix := trimmed[idx+len(open) : len(trimmed)-len(close)]
		if suffixHasToken(suffix) {
			return strings.TrimSpace(trimmed[:idx])
		}
	}
	return input
}

func trimDashSuffix(input string) string {
	trimmed := strings.TrimSpace(input)
	idx := strings.LastIndex(trimmed, " - ")
	if idx == -1 {
		return input
	}
	suffix := strings.TrimSpace(trimmed[idx+3:])
	if suffixHasToken(suffix) {
		return strings.TrimSpace(trimmed[:idx])
	}
	return input
}

func suffixHasToken(input string) bool {
	if strings.TrimSpace(input) == "" {
		return false
	}
	cleaned := collapseSeparators(strings.ToLower(input))
	for _, token := range strings.Fields(cleaned) {
		if _, ok := titleSuffixTokens[token]; ok {
			return true
		}
	}
	return false
}

func collapseSeparators(input string) string {
	var out strings.Builder
	lastSpace := false
	for _, r := range input {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			out.WriteRune(' ')
			lastSpace = true
		}
	}
	return out.String()
}

func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1.0
	}
	distance := levenshteinDistance(a, b)
	return 1.0 - float64(distance)/float64(maxLen)
}

func levenshteinDistance(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 0
			if ra[i-1] != rb[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,
				curr[j-1]+1,
				prev[j-1]+cost,
			)
		}
		copy(prev, curr)
	}

	return prev[len(rb)]
}
