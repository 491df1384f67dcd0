package session

import (
	"testing"

	"reelgrab/internal/channel"
	"reelgrab/internal/platform"
	"reelgrab/internal/preview"
	"reelgrab/internal/services/worker"
)

func TestDeriveActionPrecedence(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want Action
	}{
		{"processing wins", Inputs{Processing: true, Loading: true, Connection: channel.Disconnected}, ActionProcessing},
		{"loading before connection", Inputs{Loading: true, Connection: channel.Reconnecting}, ActionLoading},
		{"reconnecting is disconnected", Inputs{Connection: channel.Reconnecting, Platform: platform.YouTube}, ActionDisconnected},
		{"unknown platform", Inputs{Connection: channel.Connected}, ActionNoPlatform},
		{"ready", Inputs{Connection: channel.Connected, Platform: platform.Instagram}, ActionReady},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveAction(tc.in); got != tc.want {
				t.Fatalf("DeriveAction(%+v) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestActionLabels(t *testing.T) {
	if got := ActionDisconnected.Label(); got != "Server Disconnected" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := ActionNoPlatform.Label(); got != "Invalid URL" {
		t.Fatalf("unexpected label %q", got)
	}
}

func TestAudioAvailable(t *testing.T) {
	tests := []struct {
		name string
		st   preview.State
		want bool
	}{
		{"no preview", preview.State{Platform: platform.YouTube}, false},
		{"video url", preview.State{Platform: platform.YouTube, Preview: &worker.Preview{VideoURL: "https://v"}}, true},
		{"video media item", preview.State{Platform: platform.Instagram, Preview: &worker.Preview{Media: []worker.MediaItem{{Type: "image"}, {Type: "Video"}}}}, true},
		{"images only", preview.State{Platform: platform.Pinterest, Preview: &worker.Preview{Media: []worker.MediaItem{{Type: "image"}}}}, false},
		{"unknown platform", preview.State{Preview: &worker.Preview{VideoURL: "https://v"}}, false},
	}
	for _, tc := range tests {
		if got := AudioAvailable(tc.st); got != tc.want {
			t.Errorf("%s: AudioAvailable = %v, want %v", tc.name, got, tc.want)
		}
	}
}
