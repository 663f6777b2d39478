package api

import (
	"errors"
	"net/http"

	"github.com/JovieInc/jovie/internal/api/middleware"
	"github.com/JovieInc/jovie/internal/smartlink"
)

// handleRedirect resolves a public smart link and sends the listener to the
// chosen platform. Resolution is read-only; the click record is written
// after the redirect target is known, and a write failure never blocks the
// redirect itself.
// GET /r/{slug} with optional ?dsp={provider}
func (r *Router) handleRedirect(w http.ResponseWriter, req *http.Request) {
	slug := req.PathValue("slug")
	dspOverride := req.URL.Query().Get("dsp")

	res, err := r.smartLinkService.Resolve(req.Context(), slug, dspOverride)
	if err != nil {
		if errors.Is(err, smartlink.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "link not found"})
			return
		}
		r.logger.Error("smart link resolution failed", "slug", slug, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "resolution failed"})
		return
	}

	// A logged-in creator previewing their own link is not a listener.
	if middleware.UserIDFromContext(req.Context()) == "" {
		if err := r.smartLinkService.RecordClick(req.Context(), res); err != nil {
			r.logger.Warn("failed to record click", "slug", slug, "error", err)
		}
	}

	http.Redirect(w, req, res.TargetURL, http.StatusFound)
}
