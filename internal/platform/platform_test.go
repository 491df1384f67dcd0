package platform_test

import (
	"testing"

	"reelgrab/internal/platform"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		url  string
		want platform.Platform
		ok   bool
	}{
		{"https://youtu.be/abc", platform.YouTube, true},
		{"https://www.YouTube.com/watch?v=abc", platform.YouTube, true},
		{"https://www.instagram.com/p/xyz/", platform.Instagram, true},
		{"https://pin.it/pinterest-thing", platform.Pinterest, true},
		{"https://www.pinterest.com/pin/123/", platform.Pinterest, true},
		{"https://vimeo.com/1", platform.None, false},
		{"", platform.None, false},
		// Matching is on the raw text, not a parsed host.
		{"watch this: YOUTU.BE/abc", platform.YouTube, true},
		{"https://example.com/?next=instagram.com/p/1", platform.Instagram, true},
		// Ordered rules: a YouTube link mentioning instagram still classifies as YouTube.
		{"https://youtube.com/watch?v=1&ref=instagram", platform.YouTube, true},
		{"https://instagram.com/u/pinterest", platform.Instagram, true},
	}
	for _, tt := range tests {
		got, ok := platform.Classify(tt.url)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Classify(%q) = (%q, %v), want (%q, %v)", tt.url, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseRoundTripsKnownNames(t *testing.T) {
	for _, p := range []platform.Platform{platform.YouTube, platform.Instagram, platform.Pinterest} {
		got, ok := platform.Parse(" " + p.Label() + " ")
		if !ok || got != p {
			t.Fatalf("Parse(%q) = %q %v", p.Label(), got, ok)
		}
	}
	if _, ok := platform.Parse("tiktok"); ok {
		t.Fatal("expected unknown platform to fail")
	}
}
