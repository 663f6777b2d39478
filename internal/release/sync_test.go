package release

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/JovieInc/jovie/internal/event"
	"github.com/JovieInc/jovie/internal/links"
	"github.com/JovieInc/jovie/internal/profile"
	"github.com/JovieInc/jovie/internal/provider"
)

type fakeCatalog struct {
	key        provider.Key
	catalog    []provider.CatalogRelease
	catalogErr error
	hits       map[string]provider.TrackHit
	searchHits []provider.TrackHit
}

func (f *fakeCatalog) Name() provider.Key { return f.key }

func (f *fakeCatalog) RequiresAuth() bool { return false }

func (f *fakeCatalog) GetArtist(_ context.Context, id string) (*provider.ExternalArtist, error) {
	return nil, &provider.ErrNotFound{Provider: f.key, Kind: "artist", ID: id}
}

func (f *fakeCatalog) FetchArtistCatalog(_ context.Context, _ string) ([]provider.CatalogRelease, error) {
	if f.catalogErr != nil {
		return nil, f.catalogErr
	}
	return f.catalog, nil
}

func (f *fakeCatalog) LookupISRC(_ context.Context, isrc string) (*provider.TrackHit, error) {
	hit, ok := f.hits[isrc]
	if !ok {
		return nil, &provider.ErrNotFound{Provider: f.key, Kind: "isrc", ID: isrc}
	}
	return &hit, nil
}

func (f *fakeCatalog) SearchTrack(_ context.Context, _, _ string) ([]provider.TrackHit, error) {
	return f.searchHits, nil
}

func discographyFixture() []provider.CatalogRelease {
	return []provider.CatalogRelease{{
		ID:          "4m2880jivSbbyEGAKfITCa",
		Title:       "Random Access Memories",
		URL:         "https://open.spotify.com/album/4m2880jivSbbyEGAKfITCa",
		UPC:         " 88883716862 ",
		ReleaseDate: "2013-05-17",
		CoverURL:    "https://i.scdn.co/image/ram.jpg",
		Tracks: []provider.CatalogTrack{
			{
				ID: "0dEIca2nhcxDUV8C5QkPYb", Name: "Beyond",
				URL:        "https://open.spotify.com/track/0dEIca2nhcxDUV8C5QkPYb",
				DurationMS: 288000, DiscNumber: 1, TrackNumber: 7,
			},
			{
				ID: "69kOkLUCkxIZYexIgSG8rq", Name: "Get Lucky",
				URL:        "https://open.spotify.com/track/69kOkLUCkxIZYexIgSG8rq",
				ISRC:       "usqx91300108",
				DurationMS: 369626, DiscNumber: 1, TrackNumber: 8,
			},
		},
	}}
}

func TestSyncFromHomeProvider(t *testing.T) {
	db := setupTestDB(t)
	home := &fakeCatalog{key: provider.KeySpotify, catalog: discographyFixture()}
	svc := newTestService(t, db, home)
	p := seedProfile(t, db, "daft-punk")
	ctx := context.Background()

	res, err := svc.SyncFromHomeProvider(ctx, p.ID)
	if err != nil {
		t.Fatalf("SyncFromHomeProvider: %v", err)
	}
	if res.Releases != 1 || res.Tracks != 2 {
		t.Errorf("result = %+v, want 1 release, 2 tracks", res)
	}

	rels, err := svc.ListByProfile(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListByProfile: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("got %d releases, want 1", len(rels))
	}
	rel := rels[0]
	if rel.Title != "Random Access Memories" || rel.ReleaseDate != "2013-05-17" {
		t.Errorf("release = %+v", rel)
	}
	if rel.UPC != "88883716862" {
		t.Errorf("UPC = %q, want normalized barcode", rel.UPC)
	}
	if rel.HomeReleaseID != "4m2880jivSbbyEGAKfITCa" {
		t.Errorf("HomeReleaseID = %q", rel.HomeReleaseID)
	}

	tracks, err := svc.TracksFor(ctx, rel.ID)
	if err != nil {
		t.Fatalf("TracksFor: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("got %d tracks, want 2", len(tracks))
	}
	if tracks[0].Name != "Beyond" || tracks[1].Name != "Get Lucky" {
		t.Errorf("track order = [%s %s]", tracks[0].Name, tracks[1].Name)
	}
	if tracks[1].ISRC != "USQX91300108" {
		t.Errorf("ISRC = %q, want normalized", tracks[1].ISRC)
	}

	relLinks, err := svc.LinksFor(ctx, OwnerRelease, rel.ID)
	if err != nil {
		t.Fatalf("LinksFor release: %v", err)
	}
	if len(relLinks) != 1 {
		t.Fatalf("got %d release links, want 1", len(relLinks))
	}
	if relLinks[0].Provider != provider.KeySpotify || relLinks[0].Source != links.SourceCanonical {
		t.Errorf("release link = %+v", relLinks[0])
	}
	if relLinks[0].UPC != "88883716862" {
		t.Errorf("release link UPC = %q", relLinks[0].UPC)
	}

	trackLinks, err := svc.LinksFor(ctx, OwnerTrack, tracks[1].ID)
	if err != nil {
		t.Fatalf("LinksFor track: %v", err)
	}
	if len(trackLinks) != 1 || trackLinks[0].ISRC != "USQX91300108" {
		t.Errorf("track links = %+v", trackLinks)
	}

	got, err := profile.NewService(db).GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.Connected {
		t.Error("profile not marked connected after sync")
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	home := &fakeCatalog{key: provider.KeySpotify, catalog: discographyFixture()}
	svc := newTestService(t, db, home)
	p := seedProfile(t, db, "daft-punk")
	ctx := context.Background()

	if _, err := svc.SyncFromHomeProvider(ctx, p.ID); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	first, err := svc.ListByProfile(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListByProfile: %v", err)
	}

	res, err := svc.SyncFromHomeProvider(ctx, p.ID)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Releases != 1 || res.Tracks != 2 {
		t.Errorf("second result = %+v", res)
	}

	second, err := svc.ListByProfile(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListByProfile again: %v", err)
	}
	if len(second) != 1 || second[0].ID != first[0].ID {
		t.Errorf("release rows changed across syncs: %+v vs %+v", first, second)
	}
	tracks, err := svc.TracksFor(ctx, second[0].ID)
	if err != nil {
		t.Fatalf("TracksFor: %v", err)
	}
	if len(tracks) != 2 {
		t.Errorf("got %d tracks after re-sync, want 2", len(tracks))
	}
}

func TestSyncUpdatesChangedMetadata(t *testing.T) {
	db := setupTestDB(t)
	home := &fakeCatalog{key: provider.KeySpotify, catalog: discographyFixture()}
	svc := newTestService(t, db, home)
	p := seedProfile(t, db, "daft-punk")
	ctx := context.Background()

	if _, err := svc.SyncFromHomeProvider(ctx, p.ID); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	home.catalog[0].Title = "Random Access Memories (10th Anniversary)"
	home.catalog[0].Tracks = append(home.catalog[0].Tracks, provider.CatalogTrack{
		ID: "3oQomOPo6PoiPlLxjIdgnd", Name: "Horizon",
		URL: "https://open.spotify.com/track/3oQomOPo6PoiPlLxjIdgnd", DiscNumber: 1, TrackNumber: 14,
	})

	res, err := svc.SyncFromHomeProvider(ctx, p.ID)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Tracks != 3 {
		t.Errorf("tracks = %d, want 3", res.Tracks)
	}

	rels, err := svc.ListByProfile(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListByProfile: %v", err)
	}
	if len(rels) != 1 || rels[0].Title != "Random Access Memories (10th Anniversary)" {
		t.Errorf("release after re-sync = %+v", rels)
	}
	tracks, err := svc.TracksFor(ctx, rels[0].ID)
	if err != nil {
		t.Fatalf("TracksFor: %v", err)
	}
	if len(tracks) != 3 {
		t.Errorf("got %d tracks, want 3", len(tracks))
	}
}

func TestSyncRequiresLinkedArtist(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, &fakeCatalog{key: provider.KeySpotify})

	p := &profile.Profile{Handle: "unlinked", DisplayName: "Unlinked", HomeProvider: provider.KeySpotify}
	if err := profile.NewService(db).Create(context.Background(), p); err != nil {
		t.Fatalf("creating profile: %v", err)
	}

	_, err := svc.SyncFromHomeProvider(context.Background(), p.ID)
	if !errors.Is(err, ErrNotLinked) {
		t.Errorf("got %v, want ErrNotLinked", err)
	}
}

func TestSyncWithoutRegisteredClient(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	p := seedProfile(t, db, "daft-punk")

	_, err := svc.SyncFromHomeProvider(context.Background(), p.ID)
	if err == nil || !strings.Contains(err.Error(), "no catalog client") {
		t.Errorf("got %v, want missing client error", err)
	}
}

func TestSyncFetchFailureWritesNothing(t *testing.T) {
	db := setupTestDB(t)
	home := &fakeCatalog{
		key:        provider.KeySpotify,
		catalogErr: &provider.ErrProviderUnavailable{Provider: provider.KeySpotify, Cause: errors.New("timeout")},
	}
	svc := newTestService(t, db, home)
	p := seedProfile(t, db, "daft-punk")
	ctx := context.Background()

	if _, err := svc.SyncFromHomeProvider(ctx, p.ID); err == nil {
		t.Fatal("sync succeeded against a failing platform")
	}

	rels, err := svc.ListByProfile(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListByProfile: %v", err)
	}
	if len(rels) != 0 {
		t.Errorf("got %d releases, want none", len(rels))
	}
	got, err := profile.NewService(db).GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Connected {
		t.Error("profile marked connected after failed sync")
	}
}

func TestSyncPublishesEvent(t *testing.T) {
	db := setupTestDB(t)
	logger := testLogger()
	registry := provider.NewRegistry()
	registry.Register(&fakeCatalog{key: provider.KeySpotify, catalog: discographyFixture()})
	bus := event.NewBus(logger, 16)
	go bus.Start()
	defer bus.Stop()

	received := make(chan event.Event, 1)
	bus.Subscribe(event.CatalogSynced, func(e event.Event) {
		received <- e
	})

	svc := NewService(db, profile.NewService(db), registry, nil, bus, logger)
	p := seedProfile(t, db, "daft-punk")

	if _, err := svc.SyncFromHomeProvider(context.Background(), p.ID); err != nil {
		t.Fatalf("SyncFromHomeProvider: %v", err)
	}

	e := <-received
	if e.Data["profile_id"] != p.ID {
		t.Errorf("event profile_id = %v", e.Data["profile_id"])
	}
	if e.Data["releases"] != 1 {
		t.Errorf("event releases = %v", e.Data["releases"])
	}
}

func TestSyncOverrideSurvivesResync(t *testing.T) {
	db := setupTestDB(t)
	home := &fakeCatalog{key: provider.KeySpotify, catalog: discographyFixture()}
	svc := newTestService(t, db, home)
	p := seedProfile(t, db, "daft-punk")
	ctx := context.Background()

	if _, err := svc.SyncFromHomeProvider(ctx, p.ID); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	rels, err := svc.ListByProfile(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListByProfile: %v", err)
	}

	override := "https://open.spotify.com/album/corrected"
	if _, err := svc.ApplyOverrides(ctx, OwnerRelease, rels[0].ID, map[provider.Key]string{
		provider.KeySpotify: override,
	}); err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}

	if _, err := svc.SyncFromHomeProvider(ctx, p.ID); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	got, err := svc.LinksFor(ctx, OwnerRelease, rels[0].ID)
	if err != nil {
		t.Fatalf("LinksFor: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d links, want 1", len(got))
	}
	if got[0].Source != links.SourceOverride || got[0].URL != override {
		t.Errorf("override lost on re-sync: %+v", got[0])
	}
}

func TestCollectCandidateLinks(t *testing.T) {
	db := setupTestDB(t)
	home := &fakeCatalog{key: provider.KeySpotify, catalog: discographyFixture()}
	deezer := &fakeCatalog{key: provider.KeyDeezer, hits: map[string]provider.TrackHit{
		"USQX91300108": {
			ID:    "67238735",
			Title: "Get Lucky",
			URL:   "https://www.deezer.com/track/67238735",
			ISRC:  "USQX91300108",
			Release: provider.ExternalRelease{
				ID:  "6575789",
				URL: "https://www.deezer.com/album/6575789",
				UPC: "88883716862",
			},
		},
	}}
	svc := newTestService(t, db, home, deezer)
	p := seedProfile(t, db, "daft-punk")
	ctx := context.Background()

	if _, err := svc.SyncFromHomeProvider(ctx, p.ID); err != nil {
		t.Fatalf("sync: %v", err)
	}

	enriched, err := svc.CollectCandidateLinks(ctx, p.ID)
	if err != nil {
		t.Fatalf("CollectCandidateLinks: %v", err)
	}
	if enriched != 1 {
		t.Errorf("enriched = %d, want 1", enriched)
	}

	rels, err := svc.ListByProfile(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListByProfile: %v", err)
	}
	tracks, err := svc.TracksFor(ctx, rels[0].ID)
	if err != nil {
		t.Fatalf("TracksFor: %v", err)
	}

	trackLinks, err := svc.LinksFor(ctx, OwnerTrack, tracks[1].ID)
	if err != nil {
		t.Fatalf("LinksFor track: %v", err)
	}
	if len(trackLinks) != 2 {
		t.Fatalf("got %d track links, want spotify and deezer: %+v", len(trackLinks), trackLinks)
	}
	if trackLinks[1].Provider != provider.KeyDeezer || trackLinks[1].Source != links.SourceCanonical {
		t.Errorf("deezer track link = %+v", trackLinks[1])
	}

	relLinks, err := svc.LinksFor(ctx, OwnerRelease, rels[0].ID)
	if err != nil {
		t.Fatalf("LinksFor release: %v", err)
	}
	if len(relLinks) != 2 {
		t.Fatalf("got %d release links, want 2: %+v", len(relLinks), relLinks)
	}
	if relLinks[0].Provider != provider.KeySpotify || relLinks[1].Provider != provider.KeyDeezer {
		t.Errorf("release link order = [%s %s]", relLinks[0].Provider, relLinks[1].Provider)
	}
}

func TestCollectCandidateLinksSearchFallback(t *testing.T) {
	db := setupTestDB(t)
	home := &fakeCatalog{key: provider.KeySpotify, catalog: []provider.CatalogRelease{{
		ID: "album-1", Title: "Homework", URL: "https://open.spotify.com/album/album-1",
		Tracks: []provider.CatalogTrack{
			{ID: "track-1", Name: "Around the World", URL: "https://open.spotify.com/track/track-1", DiscNumber: 1, TrackNumber: 7},
		},
	}}}
	deezer := &fakeCatalog{key: provider.KeyDeezer, searchHits: []provider.TrackHit{{
		ID:     "3129407",
		Title:  "Around the World",
		URL:    "https://www.deezer.com/track/3129407",
		Artist: provider.ExternalArtist{ID: "27", Name: "Daft Punk"},
		Release: provider.ExternalRelease{
			ID:  "302128",
			URL: "https://www.deezer.com/album/302128",
		},
	}}}
	svc := newTestService(t, db, home, deezer)
	p := seedProfile(t, db, "daft-punk")
	ctx := context.Background()

	if _, err := svc.SyncFromHomeProvider(ctx, p.ID); err != nil {
		t.Fatalf("sync: %v", err)
	}
	enriched, err := svc.CollectCandidateLinks(ctx, p.ID)
	if err != nil {
		t.Fatalf("CollectCandidateLinks: %v", err)
	}
	if enriched != 1 {
		t.Errorf("enriched = %d, want 1", enriched)
	}

	rels, err := svc.ListByProfile(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListByProfile: %v", err)
	}
	tracks, err := svc.TracksFor(ctx, rels[0].ID)
	if err != nil {
		t.Fatalf("TracksFor: %v", err)
	}
	got, err := svc.LinksFor(ctx, OwnerTrack, tracks[0].ID)
	if err != nil {
		t.Fatalf("LinksFor: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d links, want 2: %+v", len(got), got)
	}
	if got[1].Provider != provider.KeyDeezer || got[1].Source != links.SourceSearch {
		t.Errorf("deezer link = %+v, want search source", got[1])
	}
	if got[1].Confidence < 0.5 {
		t.Errorf("confidence = %f, want a strong match", got[1].Confidence)
	}
}

func TestCollectCandidateLinksWithoutAggregator(t *testing.T) {
	db := setupTestDB(t)
	logger := testLogger()
	svc := NewService(db, profile.NewService(db), provider.NewRegistry(), nil, nil, logger)
	p := seedProfile(t, db, "daft-punk")

	enriched, err := svc.CollectCandidateLinks(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("CollectCandidateLinks: %v", err)
	}
	if enriched != 0 {
		t.Errorf("enriched = %d, want 0", enriched)
	}
}
