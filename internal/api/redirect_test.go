package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JovieInc/jovie/internal/api/middleware"
	"github.com/JovieInc/jovie/internal/provider"
)

func clickCount(t *testing.T, r *Router, releaseID string) int {
	t.Helper()
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM link_events WHERE release_id = ?`, releaseID).Scan(&n); err != nil {
		t.Fatalf("counting clicks: %v", err)
	}
	return n
}

func lastClickProvider(t *testing.T, r *Router, releaseID string) string {
	t.Helper()
	var p string
	err := r.db.QueryRow(`
		SELECT provider FROM link_events WHERE release_id = ? ORDER BY occurred_at DESC, id DESC LIMIT 1
	`, releaseID).Scan(&p)
	if err != nil {
		t.Fatalf("querying last click: %v", err)
	}
	return p
}

func TestHandleRedirect_UnknownSlug(t *testing.T) {
	r := testRouter(t)

	for _, slug := range []string{"garbage", "xx--yy", "--", "a--"} {
		req := httptest.NewRequest(http.MethodGet, "/r/"+slug, nil)
		req.SetPathValue("slug", slug)
		w := httptest.NewRecorder()
		r.handleRedirect(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("slug %q status = %d, want %d; body: %s", slug, w.Code, http.StatusNotFound, w.Body.String())
		}
	}
}

func TestHandleRedirect_PreferenceOrder(t *testing.T) {
	r := testRouter(t)
	seedProfile(t, r.db, "p1", "daftpunk")
	seedRelease(t, r.db, "p1", "rel-1", "Discovery")
	seedReleaseLink(t, r.db, "rel-1", provider.KeyTidal, "https://tidal.com/album/999")
	seedReleaseLink(t, r.db, "rel-1", provider.KeySpotify, "https://open.spotify.com/album/a1")

	req := httptest.NewRequest(http.MethodGet, "/r/rel-1--p1", nil)
	req.SetPathValue("slug", "rel-1--p1")
	w := httptest.NewRecorder()
	r.handleRedirect(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusFound, w.Body.String())
	}
	// Spotify outranks tidal in the default preference order.
	if loc := w.Header().Get("Location"); loc != "https://open.spotify.com/album/a1" {
		t.Errorf("location = %q, want spotify link", loc)
	}
	if n := clickCount(t, r, "rel-1"); n != 1 {
		t.Fatalf("click count = %d, want 1", n)
	}
	if p := lastClickProvider(t, r, "rel-1"); p != "spotify" {
		t.Errorf("click provider = %q, want %q", p, "spotify")
	}
}

func TestHandleRedirect_ProfilePreferenceWins(t *testing.T) {
	r := testRouter(t)
	seedProfile(t, r.db, "p1", "daftpunk")
	if _, err := r.db.Exec(`UPDATE profiles SET preferred_providers = '["tidal"]' WHERE id = 'p1'`); err != nil {
		t.Fatalf("setting preference: %v", err)
	}
	seedRelease(t, r.db, "p1", "rel-1", "Discovery")
	seedReleaseLink(t, r.db, "rel-1", provider.KeySpotify, "https://open.spotify.com/album/a1")
	seedReleaseLink(t, r.db, "rel-1", provider.KeyTidal, "https://tidal.com/album/999")

	req := httptest.NewRequest(http.MethodGet, "/r/rel-1--p1", nil)
	req.SetPathValue("slug", "rel-1--p1")
	w := httptest.NewRecorder()
	r.handleRedirect(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusFound, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "https://tidal.com/album/999" {
		t.Errorf("location = %q, want the profile's preferred tidal link", loc)
	}
}

func TestHandleRedirect_ProviderOverride(t *testing.T) {
	r := testRouter(t)
	seedProfile(t, r.db, "p1", "daftpunk")
	seedRelease(t, r.db, "p1", "rel-1", "Discovery")
	seedReleaseLink(t, r.db, "rel-1", provider.KeySpotify, "https://open.spotify.com/album/a1")
	seedReleaseLink(t, r.db, "rel-1", provider.KeyTidal, "https://tidal.com/album/999")

	req := httptest.NewRequest(http.MethodGet, "/r/rel-1--p1?dsp=tidal", nil)
	req.SetPathValue("slug", "rel-1--p1")
	w := httptest.NewRecorder()
	r.handleRedirect(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusFound, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "https://tidal.com/album/999" {
		t.Errorf("location = %q, want overridden tidal link", loc)
	}
	if p := lastClickProvider(t, r, "rel-1"); p != "tidal" {
		t.Errorf("click provider = %q, want %q", p, "tidal")
	}
}

func TestHandleRedirect_OverrideWithoutLinkFallsBack(t *testing.T) {
	r := testRouter(t)
	seedProfile(t, r.db, "p1", "daftpunk")
	seedRelease(t, r.db, "p1", "rel-1", "Discovery")
	seedReleaseLink(t, r.db, "rel-1", provider.KeySpotify, "https://open.spotify.com/album/a1")

	// The named platform has no link; the listener lands on the profile
	// page rather than a different platform.
	req := httptest.NewRequest(http.MethodGet, "/r/rel-1--p1?dsp=deezer", nil)
	req.SetPathValue("slug", "rel-1--p1")
	w := httptest.NewRecorder()
	r.handleRedirect(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusFound, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "https://jov.ie/daftpunk" {
		t.Errorf("location = %q, want profile page fallback", loc)
	}
	if p := lastClickProvider(t, r, "rel-1"); p != "" {
		t.Errorf("click provider = %q, want empty fallback marker", p)
	}
}

func TestHandleRedirect_NoLinksAtAll(t *testing.T) {
	r := testRouter(t)
	seedProfile(t, r.db, "p1", "daftpunk")
	seedRelease(t, r.db, "p1", "rel-1", "Discovery")

	req := httptest.NewRequest(http.MethodGet, "/r/rel-1--p1", nil)
	req.SetPathValue("slug", "rel-1--p1")
	w := httptest.NewRecorder()
	r.handleRedirect(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusFound, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "https://jov.ie/daftpunk" {
		t.Errorf("location = %q, want profile page fallback", loc)
	}
}

func TestHandleRedirect_CreatorPreviewNotCounted(t *testing.T) {
	r := testRouter(t)
	seedProfile(t, r.db, "p1", "daftpunk")
	seedRelease(t, r.db, "p1", "rel-1", "Discovery")
	seedReleaseLink(t, r.db, "rel-1", provider.KeySpotify, "https://open.spotify.com/album/a1")

	req := httptest.NewRequest(http.MethodGet, "/r/rel-1--p1", nil)
	req = req.WithContext(middleware.WithTestUserID(req.Context(), "u-1"))
	req.SetPathValue("slug", "rel-1--p1")
	w := httptest.NewRecorder()
	r.handleRedirect(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusFound, w.Body.String())
	}
	if n := clickCount(t, r, "rel-1"); n != 0 {
		t.Errorf("click count = %d, want 0 for a creator preview", n)
	}
}

func TestSmartLinkRedirectThroughRouter(t *testing.T) {
	r := testRouter(t)
	seedProfile(t, r.db, "p1", "daftpunk")
	seedRelease(t, r.db, "p1", "rel-1", "Discovery")
	seedReleaseLink(t, r.db, "rel-1", provider.KeySpotify, "https://open.spotify.com/album/a1")

	// The public route needs no session.
	req := httptest.NewRequest(http.MethodGet, "/r/rel-1--p1", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusFound, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "https://open.spotify.com/album/a1" {
		t.Errorf("location = %q, want spotify link", loc)
	}
	if n := clickCount(t, r, "rel-1"); n != 1 {
		t.Errorf("click count = %d, want 1", n)
	}
}
