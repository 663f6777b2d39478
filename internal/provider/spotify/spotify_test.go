package spotify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"testing"

	sp "github.com/zmb3/spotify/v2"

	"github.com/JovieInc/jovie/internal/database"
	"github.com/JovieInc/jovie/internal/encryption"
	"github.com/JovieInc/jovie/internal/provider"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	enc, _, err := encryption.New("")
	if err != nil {
		t.Fatalf("creating encryptor: %v", err)
	}
	settings := provider.NewSettingsService(db, enc, provider.AllKeys(), 0.9)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(settings, provider.NewRateLimiterMap(), logger)
}

func TestName(t *testing.T) {
	a := newTestAdapter(t)
	if a.Name() != provider.KeySpotify {
		t.Errorf("expected %q, got %q", provider.KeySpotify, a.Name())
	}
}

func TestRequiresAuth(t *testing.T) {
	a := newTestAdapter(t)
	if !a.RequiresAuth() {
		t.Error("expected RequiresAuth to return true")
	}
}

func TestLookupISRCWithoutCredentials(t *testing.T) {
	a := newTestAdapter(t)

	_, err := a.LookupISRC(context.Background(), "USQX91300108")
	var authErr *provider.ErrAuthRequired
	if !errors.As(err, &authErr) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

func TestGetArtistWithoutCredentials(t *testing.T) {
	a := newTestAdapter(t)

	_, err := a.GetArtist(context.Background(), "4tZwfgrHOc3mvqYlEYSvVi")
	var authErr *provider.ErrAuthRequired
	if !errors.As(err, &authErr) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

func fullTrackFixture() *sp.FullTrack {
	return &sp.FullTrack{
		SimpleTrack: sp.SimpleTrack{
			ID:          "69kOkLUCkxIZYexIgSG8rq",
			Name:        "Get Lucky",
			Duration:    369626,
			DiscNumber:  1,
			TrackNumber: 8,
			Explicit:    false,
			ExternalURLs: map[string]string{
				"spotify": "https://open.spotify.com/track/69kOkLUCkxIZYexIgSG8rq",
			},
			Artists: []sp.SimpleArtist{
				{
					ID:   "4tZwfgrHOc3mvqYlEYSvVi",
					Name: "Daft Punk",
					ExternalURLs: map[string]string{
						"spotify": "https://open.spotify.com/artist/4tZwfgrHOc3mvqYlEYSvVi",
					},
				},
			},
			Album: sp.SimpleAlbum{
				ID:   "4m2880jivSbbyEGAKfITCa",
				Name: "Random Access Memories",
				ExternalURLs: map[string]string{
					"spotify": "https://open.spotify.com/album/4m2880jivSbbyEGAKfITCa",
				},
				Images: []sp.Image{
					{URL: "https://i.scdn.co/image/ab67616d0000b2739b9b36b0e22870b9f542d937"},
				},
			},
		},
		Popularity:  82,
		ExternalIDs: map[string]string{"isrc": "USQX91300108"},
	}
}

func TestTrackHitFromFull(t *testing.T) {
	hit := trackHitFromFull(fullTrackFixture())

	if hit.ID != "69kOkLUCkxIZYexIgSG8rq" {
		t.Errorf("unexpected id %q", hit.ID)
	}
	if hit.Title != "Get Lucky" {
		t.Errorf("unexpected title %q", hit.Title)
	}
	if hit.ISRC != "USQX91300108" {
		t.Errorf("unexpected isrc %q", hit.ISRC)
	}
	if hit.DurationMS != 369626 {
		t.Errorf("unexpected duration %d", hit.DurationMS)
	}
	if hit.Popularity != 82 {
		t.Errorf("unexpected popularity %d", hit.Popularity)
	}
	if hit.URL != "https://open.spotify.com/track/69kOkLUCkxIZYexIgSG8rq" {
		t.Errorf("unexpected url %q", hit.URL)
	}
	if hit.Artist.ID != "4tZwfgrHOc3mvqYlEYSvVi" || hit.Artist.Name != "Daft Punk" {
		t.Errorf("unexpected artist %+v", hit.Artist)
	}
	if hit.Release.Title != "Random Access Memories" {
		t.Errorf("unexpected release %+v", hit.Release)
	}
	if hit.Release.CoverURL == "" {
		t.Error("expected release cover url to be set")
	}
}

func TestTrackHitFromFullNoArtists(t *testing.T) {
	track := fullTrackFixture()
	track.Artists = nil

	hit := trackHitFromFull(track)
	if hit.Artist.ID != "" || hit.Artist.Name != "" {
		t.Errorf("expected empty artist, got %+v", hit.Artist)
	}
}

func TestPickMostPopular(t *testing.T) {
	tracks := []sp.FullTrack{
		{SimpleTrack: sp.SimpleTrack{ID: "a"}, Popularity: 10},
		{SimpleTrack: sp.SimpleTrack{ID: "b"}, Popularity: 64},
		{SimpleTrack: sp.SimpleTrack{ID: "c"}, Popularity: 31},
	}
	if got := pickMostPopular(tracks); got.ID != "b" {
		t.Errorf("expected track b, got %q", got.ID)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{
			name:   "not found",
			status: http.StatusNotFound,
			check: func(err error) bool {
				var e *provider.ErrNotFound
				return errors.As(err, &e)
			},
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check: func(err error) bool {
				var e *provider.ErrAuthRequired
				return errors.As(err, &e)
			},
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			check: func(err error) bool {
				var e *provider.ErrProviderUnavailable
				return errors.As(err, &e) && e.RetryAfter > 0
			},
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			check: func(err error) bool {
				var e *provider.ErrProviderUnavailable
				return errors.As(err, &e)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError(sp.Error{Message: tt.name, Status: tt.status}, "artist", "x")
			if !tt.check(err) {
				t.Errorf("unexpected mapping: %v", err)
			}
		})
	}
}
