package deezer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/JovieInc/jovie/internal/provider"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("loading fixture %s: %v", name, err)
	}
	return data
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case strings.HasPrefix(r.URL.Path, "/track/isrc:"):
			isrc := strings.TrimPrefix(r.URL.Path, "/track/isrc:")
			switch isrc {
			case "GBDUW0000061":
				w.Write(loadFixture(t, "track_isrc.json"))
			case "USQUO0000004":
				w.Write(loadFixture(t, "quota_exceeded.json"))
			default:
				w.Write(loadFixture(t, "track_isrc_miss.json"))
			}

		case r.URL.Path == "/search/track":
			q := r.URL.Query().Get("q")
			if strings.Contains(q, "no-results-query") {
				w.Write([]byte(`{"data":[],"total":0}`))
				return
			}
			w.Write(loadFixture(t, "search_tracks.json"))

		case r.URL.Path == "/artist/27/albums":
			w.Write(loadFixture(t, "albums_list.json"))

		case r.URL.Path == "/album/302127":
			w.Write(loadFixture(t, "album.json"))

		case strings.HasPrefix(r.URL.Path, "/artist/"):
			id := strings.TrimPrefix(r.URL.Path, "/artist/")
			switch id {
			case "9999999":
				w.Write(loadFixture(t, "artist_no_photo.json"))
			case "8888888":
				w.Write(loadFixture(t, "track_isrc_miss.json"))
			default:
				w.Write(loadFixture(t, "artist.json"))
			}

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	limiter := provider.NewRateLimiterMap()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewWithBaseURL(limiter, logger, baseURL)
}

func TestName(t *testing.T) {
	a := newTestAdapter(t, "http://localhost")
	if a.Name() != provider.KeyDeezer {
		t.Errorf("expected %q, got %q", provider.KeyDeezer, a.Name())
	}
}

func TestRequiresAuth(t *testing.T) {
	a := newTestAdapter(t, "http://localhost")
	if a.RequiresAuth() {
		t.Error("expected RequiresAuth to return false")
	}
}

func TestLookupISRC(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	hit, err := a.LookupISRC(context.Background(), "GBDUW0000061")
	if err != nil {
		t.Fatalf("LookupISRC: %v", err)
	}
	if hit.ID != "3135556" {
		t.Errorf("expected track id 3135556, got %q", hit.ID)
	}
	if hit.Title != "Harder, Better, Faster, Stronger" {
		t.Errorf("unexpected title %q", hit.Title)
	}
	if hit.ISRC != "GBDUW0000061" {
		t.Errorf("expected isrc echoed back, got %q", hit.ISRC)
	}
	if hit.URL != "https://www.deezer.com/track/3135556" {
		t.Errorf("unexpected track url %q", hit.URL)
	}
	if hit.DurationMS != 224000 {
		t.Errorf("expected duration 224000ms, got %d", hit.DurationMS)
	}
	if hit.Popularity != 95 {
		t.Errorf("expected popularity 95, got %d", hit.Popularity)
	}
	if hit.Artist.ID != "27" || hit.Artist.Name != "Daft Punk" {
		t.Errorf("unexpected artist %+v", hit.Artist)
	}
	if hit.Artist.ImageURL == "" {
		t.Error("expected artist image url to be set")
	}
	if hit.Release.ID != "302127" || hit.Release.Title != "Discovery" {
		t.Errorf("unexpected release %+v", hit.Release)
	}
	if hit.Release.CoverURL == "" {
		t.Error("expected release cover url to be set")
	}
}

func TestLookupISRCMiss(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	_, err := a.LookupISRC(context.Background(), "USXXX9999999")
	var notFound *provider.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if notFound.Kind != "isrc" {
		t.Errorf("expected kind isrc, got %q", notFound.Kind)
	}
}

func TestLookupISRCQuotaExceeded(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	_, err := a.LookupISRC(context.Background(), "USQUO0000004")
	var unavailable *provider.ErrProviderUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if unavailable.RetryAfter <= 0 {
		t.Error("expected quota errors to carry a retry delay")
	}
}

func TestLookupISRCEmptyCode(t *testing.T) {
	a := newTestAdapter(t, "http://localhost")

	_, err := a.LookupISRC(context.Background(), "")
	var notFound *provider.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchTrack(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	hits, err := a.SearchTrack(context.Background(), "One More Time", "Daft Punk")
	if err != nil {
		t.Fatalf("SearchTrack: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Title != "One More Time" {
		t.Errorf("unexpected first hit %q", hits[0].Title)
	}
	if hits[0].ISRC != "" {
		t.Errorf("search results carry no isrc, got %q", hits[0].ISRC)
	}
	// The first fixture entry has no album link, so the adapter builds one.
	if hits[0].Release.URL != "https://www.deezer.com/album/302127" {
		t.Errorf("unexpected release url %q", hits[0].Release.URL)
	}
	if hits[1].Title != "One More Time (Club Mix)" {
		t.Errorf("unexpected second hit %q", hits[1].Title)
	}
}

func TestSearchTrackNoResults(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	hits, err := a.SearchTrack(context.Background(), "no-results-query", "")
	if err != nil {
		t.Fatalf("SearchTrack: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestSearchTrackEmptyTitle(t *testing.T) {
	a := newTestAdapter(t, "http://localhost")

	hits, err := a.SearchTrack(context.Background(), "", "Daft Punk")
	if err != nil {
		t.Fatalf("SearchTrack: %v", err)
	}
	if hits != nil {
		t.Errorf("expected nil hits, got %v", hits)
	}
}

func TestGetArtist(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	artist, err := a.GetArtist(context.Background(), "27")
	if err != nil {
		t.Fatalf("GetArtist: %v", err)
	}
	if artist.ID != "27" {
		t.Errorf("expected id 27, got %q", artist.ID)
	}
	if artist.Name != "Daft Punk" {
		t.Errorf("expected Daft Punk, got %q", artist.Name)
	}
	if artist.URL != "https://www.deezer.com/artist/27" {
		t.Errorf("unexpected url %q", artist.URL)
	}
	if !strings.Contains(artist.ImageURL, "1000x1000") {
		t.Errorf("expected XL photo, got %q", artist.ImageURL)
	}
}

func TestGetArtistPlaceholderPhoto(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	artist, err := a.GetArtist(context.Background(), "9999999")
	if err != nil {
		t.Fatalf("GetArtist: %v", err)
	}
	if artist.ImageURL != "" {
		t.Errorf("expected placeholder photo to be dropped, got %q", artist.ImageURL)
	}
}

func TestGetArtistMiss(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	_, err := a.GetArtist(context.Background(), "8888888")
	var notFound *provider.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetArtistRejectsNonNumericID(t *testing.T) {
	a := newTestAdapter(t, "http://localhost")

	_, err := a.GetArtist(context.Background(), "4ad5a0f5-a8a1-4bbd-a042-leaked")
	var notFound *provider.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchArtistCatalog(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	releases, err := a.FetchArtistCatalog(context.Background(), "27")
	if err != nil {
		t.Fatalf("FetchArtistCatalog: %v", err)
	}
	if len(releases) != 1 {
		t.Fatalf("expected 1 release, got %d", len(releases))
	}

	rel := releases[0]
	if rel.ID != "302127" || rel.Title != "Discovery" {
		t.Errorf("unexpected release %+v", rel)
	}
	if rel.UPC != "724384960650" {
		t.Errorf("expected upc from album payload, got %q", rel.UPC)
	}
	if rel.ReleaseDate != "2001-03-07" {
		t.Errorf("unexpected release date %q", rel.ReleaseDate)
	}
	if len(rel.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(rel.Tracks))
	}
	if rel.Tracks[0].Name != "One More Time" || rel.Tracks[0].TrackNumber != 1 {
		t.Errorf("unexpected first track %+v", rel.Tracks[0])
	}
	if rel.Tracks[0].DurationMS != 320000 {
		t.Errorf("expected duration 320000ms, got %d", rel.Tracks[0].DurationMS)
	}
	if rel.Tracks[0].ISRC != "" {
		t.Errorf("album tracklists carry no isrc, got %q", rel.Tracks[0].ISRC)
	}
	// The second fixture track omits position fields.
	if rel.Tracks[1].TrackNumber != 2 || rel.Tracks[1].DiscNumber != 1 {
		t.Errorf("expected positions from list order, got %+v", rel.Tracks[1])
	}
}

func TestIsDeezerID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"27", true},
		{"3135556", true},
		{"", false},
		{"27a", false},
		{"4ad5a0f5-a8a1-4bbd", false},
		{"-27", false},
	}
	for _, tt := range tests {
		if got := isDeezerID(tt.id); got != tt.want {
			t.Errorf("isDeezerID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
