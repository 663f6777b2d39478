package links

import (
	"context"
	"errors"
	"log/slog"

	"github.com/JovieInc/jovie/internal/provider"
)

// Aggregator queries registered platform catalogs for a recording and
// collects candidate links for it and for the release it belongs to.
type Aggregator struct {
	registry *provider.Registry
	logger   *slog.Logger
}

// NewAggregator creates a new Aggregator.
func NewAggregator(registry *provider.Registry, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		registry: registry,
		logger:   logger.With(slog.String("component", "aggregator")),
	}
}

// TrackQuery describes one recording to resolve across platforms.
type TrackQuery struct {
	Title  string
	Artist string
	ISRC   string
}

// CandidateLinks queries every registered platform for the recording and
// returns candidate track-level and release-level links. An ISRC lookup hit
// yields a canonical candidate; otherwise a text search yields a scored
// search candidate when it clears the similarity floors. Platforms that fail
// are skipped so one outage never blocks the rest.
func (a *Aggregator) CandidateLinks(ctx context.Context, q TrackQuery) (track, release []DSPLink) {
	isrc := NormalizeISRC(q.ISRC)
	for _, client := range a.registry.All() {
		key := client.Name()

		if ValidISRC(isrc) {
			hit, err := client.LookupISRC(ctx, isrc)
			if err == nil && hit != nil && hit.URL != "" {
				track = append(track, DSPLink{
					Provider:   key,
					URL:        hit.URL,
					Source:     SourceCanonical,
					Confidence: 1,
					ISRC:       isrc,
				})
				if hit.Release.URL != "" {
					release = append(release, DSPLink{
						Provider:   key,
						URL:        hit.Release.URL,
						Source:     SourceCanonical,
						Confidence: 1,
						UPC:        NormalizeUPC(hit.Release.UPC),
					})
				}
				continue
			}
			var notFound *provider.ErrNotFound
			if err != nil && !errors.As(err, &notFound) {
				a.logger.Warn("isrc lookup failed",
					slog.String("platform", string(key)),
					slog.String("isrc", isrc),
					slog.String("error", err.Error()))
				continue
			}
			// Not found on this platform: fall through to text search.
		}

		if q.Title == "" || q.Artist == "" {
			continue
		}
		hits, err := client.SearchTrack(ctx, q.Title, q.Artist)
		if err != nil {
			a.logger.Warn("track search failed",
				slog.String("platform", string(key)),
				slog.String("error", err.Error()))
			continue
		}
		if best, score, ok := bestHit(q, hits); ok {
			track = append(track, DSPLink{
				Provider:   key,
				URL:        best.URL,
				Source:     SourceSearch,
				Confidence: score,
			})
			if best.Release.URL != "" {
				release = append(release, DSPLink{
					Provider:   key,
					URL:        best.Release.URL,
					Source:     SourceSearch,
					Confidence: score,
				})
			}
		}
	}
	return track, release
}

// bestHit scores search hits against the query and returns the
// highest-scoring accepted one.
func bestHit(q TrackQuery, hits []provider.TrackHit) (provider.TrackHit, float64, bool) {
	var (
		best      provider.TrackHit
		bestScore float64
		found     bool
	)
	for _, hit := range hits {
		if hit.URL == "" {
			continue
		}
		score, ok := SearchScore(q.Title, q.Artist, hit.Title, hit.Artist.Name)
		if !ok {
			continue
		}
		if !found || score > bestScore {
			best, bestScore, found = hit, score, true
		}
	}
	return best, bestScore, found
}
