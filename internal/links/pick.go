package links

import "github.com/JovieInc/jovie/internal/provider"

// Pick selects the link to redirect to: the first platform in preference
// order that has an entry in links. Confidence score is not consulted here,
// preference order is a creator choice and deterministically overrides it.
// Returns nil when no preferred platform has a link; the caller falls back
// to a generic profile destination.
func Pick(candidates []DSPLink, preference []provider.Key) *DSPLink {
	for _, key := range preference {
		for _, l := range candidates {
			if l.Provider == key {
				picked := l
				return &picked
			}
		}
	}
	return nil
}

// PickProvider selects the link for one explicitly requested platform,
// bypassing preference order entirely. Returns nil when that platform has
// no link.
func PickProvider(candidates []DSPLink, key provider.Key) *DSPLink {
	for _, l := range candidates {
		if l.Provider == key {
			picked := l
			return &picked
		}
	}
	return nil
}
