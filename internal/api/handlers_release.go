package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JovieInc/jovie/internal/image"
	"github.com/JovieInc/jovie/internal/links"
	"github.com/JovieInc/jovie/internal/provider"
	"github.com/JovieInc/jovie/internal/release"
	"github.com/JovieInc/jovie/internal/smartlink"
)

// releaseByID loads the release named in the request path, writing the error
// response itself when the lookup fails.
func (r *Router) releaseByID(w http.ResponseWriter, req *http.Request) (*release.Release, bool) {
	rel, err := r.releaseService.GetByID(req.Context(), req.PathValue("id"))
	switch {
	case err == nil:
		return rel, true
	case errors.Is(err, release.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "release not found"})
	default:
		r.logger.Error("failed to get release", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get release"})
	}
	return nil, false
}

func (r *Router) handleGetRelease(w http.ResponseWriter, req *http.Request) {
	if rel, ok := r.releaseByID(w, req); ok {
		writeJSON(w, http.StatusOK, rel)
	}
}

func (r *Router) handleListReleaseTracks(w http.ResponseWriter, req *http.Request) {
	rel, ok := r.releaseByID(w, req)
	if !ok {
		return
	}

	tracks, err := r.releaseService.TracksFor(req.Context(), rel.ID)
	if err != nil {
		r.logger.Error("failed to list tracks", "release_id", rel.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list tracks"})
		return
	}
	if tracks == nil {
		tracks = []release.Track{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

func (r *Router) handleGetReleaseLinks(w http.ResponseWriter, req *http.Request) {
	releaseID := req.PathValue("id")
	linkSet, err := r.releaseService.LinksFor(req.Context(), release.OwnerRelease, releaseID)
	if err != nil {
		r.logger.Error("failed to load links", "release_id", releaseID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load links"})
		return
	}
	if linkSet == nil {
		linkSet = []links.DSPLink{}
	}
	writeJSON(w, http.StatusOK, linkSet)
}

func (r *Router) handleUpdateReleaseLinks(w http.ResponseWriter, req *http.Request) {
	r.applyLinkOverrides(w, req, release.OwnerRelease)
}

func (r *Router) handleUpdateTrackLinks(w http.ResponseWriter, req *http.Request) {
	r.applyLinkOverrides(w, req, release.OwnerTrack)
}

// applyLinkOverrides merges creator-entered destination URLs into the link
// set of the release or track named in the path.
func (r *Router) applyLinkOverrides(w http.ResponseWriter, req *http.Request, ownerType string) {
	var body struct {
		Overrides map[string]string `json:"overrides"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(body.Overrides) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "overrides is required"})
		return
	}

	overrides := make(map[provider.Key]string, len(body.Overrides))
	for name, u := range body.Overrides {
		overrides[provider.Key(name)] = u
	}

	merged, err := r.releaseService.ApplyOverrides(req.Context(), ownerType, req.PathValue("id"), overrides)
	if err != nil {
		switch {
		case errors.Is(err, release.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "release not found"})
		case errors.Is(err, release.ErrTrackNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "track not found"})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return
	}
	if merged == nil {
		merged = []links.DSPLink{}
	}
	writeJSON(w, http.StatusOK, merged)
}

func (r *Router) handleVerifyReleaseLinks(w http.ResponseWriter, req *http.Request) {
	rel, ok := r.releaseByID(w, req)
	if !ok {
		return
	}

	linkSet, err := r.releaseService.LinksFor(req.Context(), release.OwnerRelease, rel.ID)
	if err != nil {
		r.logger.Error("failed to load links", "release_id", rel.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load links"})
		return
	}

	results := r.linkChecker.CheckAll(req.Context(), linkSet, rel.Title)
	writeJSON(w, http.StatusOK, map[string]any{
		"release_id": rel.ID,
		"results":    results,
	})
}

func (r *Router) handleGetSmartLink(w http.ResponseWriter, req *http.Request) {
	rel, ok := r.releaseByID(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"slug": smartlink.BuildReleaseSlug(rel.ProfileID, rel.ID),
		"url":  r.smartLinkService.PublicURL(rel.ProfileID, rel.ID),
	})
}

func (r *Router) handleGetReleaseClicks(w http.ResponseWriter, req *http.Request) {
	rel, ok := r.releaseByID(w, req)
	if !ok {
		return
	}

	stats, err := r.smartLinkService.Clicks(req.Context(), rel.ID)
	if err != nil {
		r.logger.Error("failed to aggregate clicks", "release_id", rel.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to aggregate clicks"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleGetReleaseCover(w http.ResponseWriter, req *http.Request) {
	rel, ok := r.releaseByID(w, req)
	if !ok {
		return
	}
	if rel.CoverURL == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "release has no cover art"})
		return
	}

	data, format, err := image.FetchThumbnail(req.Context(), rel.CoverURL)
	if err != nil {
		r.logger.Warn("failed to fetch cover art", "release_id", rel.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to fetch cover art"})
		return
	}

	w.Header().Set("Content-Type", "image/"+format)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleGetReleaseCoverInfo probes the source cover without downloading it to
// the client, so the dashboard can flag art that is too small or not square.
func (r *Router) handleGetReleaseCoverInfo(w http.ResponseWriter, req *http.Request) {
	rel, ok := r.releaseByID(w, req)
	if !ok {
		return
	}
	if rel.CoverURL == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "release has no cover art"})
		return
	}

	info, err := image.ProbeRemoteImage(req.Context(), rel.CoverURL)
	if err != nil {
		r.logger.Warn("failed to probe cover art", "release_id", rel.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to probe cover art"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"width":          info.Width,
		"height":         info.Height,
		"file_size":      info.FileSize,
		"low_resolution": image.IsLowResolution(info.Width, info.Height),
		"square":         image.IsSquare(info.Width, info.Height),
	})
}
