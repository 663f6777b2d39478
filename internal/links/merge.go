package links

import (
	"sort"

	"github.com/JovieInc/jovie/internal/provider"
)

// Merge resolves multiple sets of candidate links for the same work into one
// canonical set with at most one entry per platform. Inputs may contain any
// number of entries per platform and are never mutated.
//
// Per platform, the winning candidate is chosen by:
//  1. Higher source authority: override beats canonical beats search,
//     regardless of confidence score.
//  2. Same source: a candidate carrying a well-formed ISRC or UPC beats one
//     without.
//  3. Higher confidence score.
//  4. First-seen order, overrides before base.
//
// Platforms present in only one input pass through unchanged. Calling Merge
// again on its own output changes nothing.
func Merge(base, overrides []DSPLink) []DSPLink {
	// Candidates enumerate in tie-break order: overrides first, then base.
	candidates := make([]DSPLink, 0, len(base)+len(overrides))
	candidates = append(candidates, overrides...)
	candidates = append(candidates, base...)

	best := make(map[provider.Key]DSPLink, len(candidates))
	for _, cand := range candidates {
		cur, seen := best[cand.Provider]
		if !seen || beats(cand, cur) {
			best[cand.Provider] = cand
		}
	}

	keys := make([]provider.Key, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := keyRank(keys[i]), keyRank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})

	merged := make([]DSPLink, 0, len(keys))
	for _, k := range keys {
		merged = append(merged, best[k])
	}
	return merged
}

// beats reports whether candidate strictly outranks the current holder.
// Ties keep the holder, which was seen first.
func beats(cand, cur DSPLink) bool {
	cr, hr := sourceRank(cand.Source), sourceRank(cur.Source)
	if cr != hr {
		return cr > hr
	}
	cv, hv := cand.Verified(), cur.Verified()
	if cv != hv {
		return cv
	}
	return cand.Confidence > cur.Confidence
}

// keyRank orders platforms by display order, with unknown keys after all
// known ones so the merged output order is stable for any input.
func keyRank(k provider.Key) int {
	for i, known := range provider.AllKeys() {
		if k == known {
			return i
		}
	}
	return len(provider.AllKeys())
}
