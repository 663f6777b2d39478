package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/JovieInc/jovie/internal/match"
	"github.com/JovieInc/jovie/internal/profile"
	"github.com/JovieInc/jovie/internal/provider"
)

func (r *Router) handleListMatches(w http.ResponseWriter, req *http.Request) {
	profileID := req.PathValue("id")
	if _, err := r.profileService.GetByID(req.Context(), profileID); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "profile not found"})
			return
		}
		r.logger.Error("failed to get profile", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get profile"})
		return
	}

	matches, err := r.matchService.ListByProfile(req.Context(), profileID)
	if err != nil {
		r.logger.Error("failed to list matches", "profile_id", profileID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list matches"})
		return
	}
	if matches == nil {
		matches = []match.ArtistMatch{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// platformTile is one platform's entry in the match overview.
type platformTile struct {
	Provider provider.Key       `json:"provider"`
	State    match.DisplayState `json:"state"`
	Match    *match.ArtistMatch `json:"match,omitempty"`
}

func (r *Router) handleMatchOverview(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	p, err := r.profileService.GetByID(ctx, req.PathValue("id"))
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "profile not found"})
			return
		}
		r.logger.Error("failed to get profile", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get profile"})
		return
	}

	releaseCount, err := r.releaseService.CountByProfile(ctx, p.ID)
	if err != nil {
		r.logger.Error("failed to count releases", "profile_id", p.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to build overview"})
		return
	}

	tiles := []platformTile{}
	for _, key := range provider.AllCatalogKeys() {
		if key == p.HomeProvider {
			continue
		}

		m, err := r.matchService.ActiveByProfileProvider(ctx, p.ID, key)
		if err != nil {
			r.logger.Error("failed to load match", "profile_id", p.ID, "provider", string(key), "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to build overview"})
			return
		}
		hasLinks, err := r.releaseService.HasProviderLinks(ctx, p.ID, key)
		if err != nil {
			r.logger.Error("failed to check links", "profile_id", p.ID, "provider", string(key), "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to build overview"})
			return
		}

		state := match.ProjectState(match.ProjectionInput{
			Connected:       p.Connected,
			ReleaseCount:    releaseCount,
			DiscoveryActive: r.matchEngine.DiscoveryActive(p.ID, key),
			Match:           m,
			HasLinks:        hasLinks,
		})
		tiles = append(tiles, platformTile{Provider: key, State: state, Match: m})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"profile_id": p.ID,
		"providers":  tiles,
	})
}

func (r *Router) handleDiscoverMatches(w http.ResponseWriter, req *http.Request) {
	p, err := r.profileService.GetByID(req.Context(), req.PathValue("id"))
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "profile not found"})
			return
		}
		r.logger.Error("failed to get profile", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get profile"})
		return
	}

	var body struct {
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	key, ok := provider.ParseKey(body.Provider)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown platform"})
		return
	}
	if key == p.HomeProvider {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot run discovery against the home platform"})
		return
	}
	if r.providerRegistry.Get(key) == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no catalog adapter for platform"})
		return
	}
	if r.matchEngine.DiscoveryActive(p.ID, key) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "discovery already in progress"})
		return
	}

	// Respond immediately; a discovery run does one catalog lookup per ISRC
	// and the dashboard polls the overview for the loading state.
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "started",
		"provider": string(key),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	go func() {
		defer cancel()
		if err := r.matchEngine.Discover(ctx, p.ID, key); err != nil {
			if errors.Is(err, match.ErrDiscoveryActive) {
				return
			}
			r.logger.Warn("discovery run failed", "profile_id", p.ID, "provider", string(key), "error", err)
		}
	}()
}

func (r *Router) handleConfirmMatch(w http.ResponseWriter, req *http.Request) {
	m, err := r.matchService.Confirm(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeMatchTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (r *Router) handleRejectMatch(w http.ResponseWriter, req *http.Request) {
	m, err := r.matchService.Reject(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeMatchTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (r *Router) writeMatchTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, match.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "match not found"})
	case errors.Is(err, match.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		r.logger.Error("match transition failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "match transition failed"})
	}
}
