package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/JovieInc/jovie/internal/profile"
	"github.com/JovieInc/jovie/internal/provider"
	"github.com/JovieInc/jovie/internal/release"
)

func (r *Router) handleListProfiles(w http.ResponseWriter, req *http.Request) {
	profiles, err := r.profileService.List(req.Context())
	if err != nil {
		r.logger.Error("failed to list profiles", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list profiles"})
		return
	}
	if profiles == nil {
		profiles = []profile.Profile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (r *Router) handleCreateProfile(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Handle             string   `json:"handle"`
		DisplayName        string   `json:"display_name"`
		HomeProvider       string   `json:"home_provider"`
		HomeArtistID       string   `json:"home_artist_id"`
		HomeArtistURL      string   `json:"home_artist_url"`
		ImageURL           string   `json:"image_url"`
		PreferredProviders []string `json:"preferred_providers"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	preferred, ok := parseProviderKeys(body.PreferredProviders)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown platform in preferred_providers"})
		return
	}

	p := &profile.Profile{
		Handle:             body.Handle,
		DisplayName:        body.DisplayName,
		HomeProvider:       provider.Key(body.HomeProvider),
		HomeArtistID:       body.HomeArtistID,
		HomeArtistURL:      body.HomeArtistURL,
		ImageURL:           body.ImageURL,
		PreferredProviders: preferred,
	}
	if err := r.profileService.Create(req.Context(), p); err != nil {
		if errors.Is(err, profile.ErrHandleTaken) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "handle already taken"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (r *Router) handleGetProfile(w http.ResponseWriter, req *http.Request) {
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
	writeJSON(w, http.StatusOK, p)
}

func (r *Router) handleUpdateProfile(w http.ResponseWriter, req *http.Request) {
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
		Handle             string   `json:"handle"`
		DisplayName        string   `json:"display_name"`
		HomeProvider       string   `json:"home_provider"`
		HomeArtistID       string   `json:"home_artist_id"`
		HomeArtistURL      string   `json:"home_artist_url"`
		ImageURL           string   `json:"image_url"`
		PreferredProviders []string `json:"preferred_providers"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if body.Handle != "" {
		p.Handle = body.Handle
	}
	if body.DisplayName != "" {
		p.DisplayName = body.DisplayName
	}
	if body.HomeProvider != "" {
		p.HomeProvider = provider.Key(body.HomeProvider)
	}
	if body.HomeArtistID != "" {
		p.HomeArtistID = body.HomeArtistID
	}
	if body.HomeArtistURL != "" {
		p.HomeArtistURL = body.HomeArtistURL
	}
	if body.ImageURL != "" {
		p.ImageURL = body.ImageURL
	}
	// A present-but-empty list clears the preference; an absent field keeps it.
	if body.PreferredProviders != nil {
		preferred, ok := parseProviderKeys(body.PreferredProviders)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown platform in preferred_providers"})
			return
		}
		p.PreferredProviders = preferred
	}

	if err := r.profileService.Update(req.Context(), p); err != nil {
		if errors.Is(err, profile.ErrHandleTaken) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "handle already taken"})
			return
		}
		if errors.Is(err, profile.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "profile not found"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (r *Router) handleDeleteProfile(w http.ResponseWriter, req *http.Request) {
	if err := r.profileService.Delete(req.Context(), req.PathValue("id")); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "profile not found"})
			return
		}
		r.logger.Error("failed to delete profile", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete profile"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (r *Router) handleSyncProfile(w http.ResponseWriter, req *http.Request) {
	profileID := req.PathValue("id")
	result, err := r.releaseService.SyncFromHomeProvider(req.Context(), profileID)
	if err != nil {
		switch {
		case errors.Is(err, profile.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "profile not found"})
		case errors.Is(err, release.ErrNotLinked):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "profile has no linked home platform artist"})
		default:
			r.logger.Error("catalog sync failed", "profile_id", profileID, "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "catalog sync failed"})
		}
		return
	}

	writeJSON(w, http.StatusOK, result)

	// Sweep the other platforms for candidate links after the response;
	// the sweep makes one lookup per track and can take a while.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	go func() {
		defer cancel()
		found, err := r.releaseService.CollectCandidateLinks(ctx, profileID)
		if err != nil {
			r.logger.Warn("candidate link sweep failed", "profile_id", profileID, "error", err)
			return
		}
		r.logger.Info("candidate link sweep complete", "profile_id", profileID, "links_found", found)
	}()
}

func (r *Router) handleListProfileReleases(w http.ResponseWriter, req *http.Request) {
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

	releases, err := r.releaseService.ListByProfile(req.Context(), profileID)
	if err != nil {
		r.logger.Error("failed to list releases", "profile_id", profileID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list releases"})
		return
	}
	if releases == nil {
		releases = []release.Release{}
	}
	writeJSON(w, http.StatusOK, releases)
}

// parseProviderKeys converts raw platform names, rejecting any it does not know.
func parseProviderKeys(raw []string) ([]provider.Key, bool) {
	if raw == nil {
		return nil, true
	}
	keys := make([]provider.Key, 0, len(raw))
	for _, s := range raw {
		key, ok := provider.ParseKey(s)
		if !ok {
			return nil, false
		}
		keys = append(keys, key)
	}
	return keys, true
}
