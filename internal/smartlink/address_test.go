package smartlink

import (
	"testing"

	"github.com/JovieInc/jovie/internal/provider"
)

func TestBuildReleaseSlug(t *testing.T) {
	got := BuildReleaseSlug("profile-123", "release-abc")
	if got != "release-abc--profile-123" {
		t.Errorf("BuildReleaseSlug = %q", got)
	}

	// Deterministic across calls.
	if again := BuildReleaseSlug("profile-123", "release-abc"); again != got {
		t.Errorf("slug not stable: %q vs %q", got, again)
	}
}

func TestParseReleaseSlug(t *testing.T) {
	releaseID, profileID, ok := ParseReleaseSlug("release-abc--profile-123")
	if !ok {
		t.Fatal("expected slug to parse")
	}
	if releaseID != "release-abc" || profileID != "profile-123" {
		t.Errorf("parsed %q / %q", releaseID, profileID)
	}

	// Round trip on UUID-shaped ids.
	slug := BuildReleaseSlug("0b26ba53-7c26-4a0f-a206-7a0d04b0a903", "c9a5e0b2-9d4e-4d6e-9f2e-0f3bb3a8c7c1")
	releaseID, profileID, ok = ParseReleaseSlug(slug)
	if !ok || releaseID != "c9a5e0b2-9d4e-4d6e-9f2e-0f3bb3a8c7c1" || profileID != "0b26ba53-7c26-4a0f-a206-7a0d04b0a903" {
		t.Errorf("round trip failed: %q / %q / %v", releaseID, profileID, ok)
	}

	for _, bad := range []string{"", "no-separator", "--profile", "release--", "--"} {
		if _, _, ok := ParseReleaseSlug(bad); ok {
			t.Errorf("expected %q not to parse", bad)
		}
	}
}

func TestBuildSmartLinkPath(t *testing.T) {
	slug := "release-abc--profile-123"
	if got := BuildSmartLinkPath(slug, ""); got != "/r/release-abc--profile-123" {
		t.Errorf("path without override = %q", got)
	}
	if got := BuildSmartLinkPath(slug, provider.KeySoundCloud); got != "/r/release-abc--profile-123?dsp=soundcloud" {
		t.Errorf("path with override = %q", got)
	}
}

func TestBuildSmartLinkURL(t *testing.T) {
	slug := "release-abc--profile-123"
	tests := []struct {
		base     string
		override provider.Key
		want     string
	}{
		{"https://jov.ie", "", "https://jov.ie/r/release-abc--profile-123"},
		{"https://jov.ie/", "", "https://jov.ie/r/release-abc--profile-123"},
		{"https://jov.ie//", "", "https://jov.ie/r/release-abc--profile-123"},
		{"https://jov.ie", provider.KeyAppleMusic, "https://jov.ie/r/release-abc--profile-123?dsp=apple_music"},
	}
	for _, tt := range tests {
		if got := BuildSmartLinkURL(tt.base, slug, tt.override); got != tt.want {
			t.Errorf("BuildSmartLinkURL(%q, _, %q) = %q, want %q", tt.base, tt.override, got, tt.want)
		}
	}
}
