package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"reelgrab/internal/services"
	"reelgrab/internal/services/worker"
)

func newClient(t *testing.T, handler http.HandlerFunc) *worker.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := worker.New(srv.URL+"/", "tok", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestPreviewDecodesPayloadAndSendsHeaders(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/preview" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("missing token, got %q", got)
		}
		if r.Header.Get(worker.RequestIDHeader) == "" {
			t.Error("missing request id")
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["url"] != "https://youtu.be/x" {
			t.Errorf("unexpected body %v", body)
		}
		_, _ = io.WriteString(w, `{"platform":"youtube","title":"T","duration":185,"available_qualities":["1080p","720p"],"ux_tip":"tip"}`)
	})

	preview, err := client.Preview(context.Background(), "https://youtu.be/x")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if preview.Title != "T" || preview.Duration != 185 || len(preview.AvailableQualities) != 2 || preview.UXTip != "tip" {
		t.Fatalf("unexpected preview %+v", preview)
	}
}

func TestPreviewWorkerErrorIsVerbatim(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"Unsupported URL"}`)
	})
	_, err := client.Preview(context.Background(), "https://vimeo.com/1")
	if !errors.Is(err, services.ErrWorker) {
		t.Fatalf("expected worker error, got %v", err)
	}
	if got := services.UserMessage(err); got != "Unsupported URL" {
		t.Fatalf("expected verbatim message, got %q", got)
	}
}

func TestPreviewTimeoutUsesDistinctMessage(t *testing.T) {
	release := make(chan struct{})
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Preview(ctx, "https://youtu.be/x")
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if got := services.UserMessage(err); got != worker.MsgPreviewTimeout {
		t.Fatalf("unexpected timeout message %q", got)
	}
}

func TestPreviewCancellationIsNotClassified(t *testing.T) {
	release := make(chan struct{})
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := client.Preview(ctx, "https://youtu.be/x")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if errors.Is(err, services.ErrTimeout) {
		t.Fatal("cancellation must not look like a timeout")
	}
}

func TestSubmitAsyncAndSyncResponses(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/download":
			w.WriteHeader(http.StatusAccepted)
			_, _ = io.WriteString(w, `{"download_id":"j1"}`)
		case "/api/download-audio":
			_, _ = io.WriteString(w, `{"status":"completed","download_url":"/downloads/youtube/a.mp3","platform":"youtube"}`)
		default:
			http.NotFound(w, r)
		}
	})

	async, err := client.Submit(context.Background(), worker.SubmitRequest{URL: "u", Platform: "youtube", Quality: "720p"}, false)
	if err != nil {
		t.Fatalf("Submit video: %v", err)
	}
	if async.DownloadID != "j1" || async.Completed() {
		t.Fatalf("unexpected async response %+v", async)
	}

	sync, err := client.Submit(context.Background(), worker.SubmitRequest{URL: "u", Platform: "youtube"}, true)
	if err != nil {
		t.Fatalf("Submit audio: %v", err)
	}
	if !sync.Completed() || sync.DownloadURL != "/downloads/youtube/a.mp3" {
		t.Fatalf("unexpected sync response %+v", sync)
	}
}

func TestSubmitRejectsEmptyAcceptance(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"queued"}`)
	})
	_, err := client.Submit(context.Background(), worker.SubmitRequest{URL: "u"}, false)
	if !errors.Is(err, services.ErrWorker) {
		t.Fatalf("expected worker error, got %v", err)
	}
}

func TestMetadataBundleFilename(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/api/download-with-metadata") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Disposition", `attachment; filename="youtube_clip_20240101.zip"`)
		_, _ = io.WriteString(w, "PK")
	})
	bundle, err := client.MetadataBundle(context.Background(), "u", "youtube")
	if err != nil {
		t.Fatalf("MetadataBundle: %v", err)
	}
	defer bundle.Body.Close()
	if bundle.Filename != "youtube_clip_20240101.zip" {
		t.Fatalf("unexpected filename %q", bundle.Filename)
	}
}

func TestMetadataBundleFallbackFilename(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "PK")
	})
	bundle, err := client.MetadataBundle(context.Background(), "u", "instagram")
	if err != nil {
		t.Fatalf("MetadataBundle: %v", err)
	}
	defer bundle.Body.Close()
	if bundle.Filename != "instagram_with_metadata.zip" {
		t.Fatalf("unexpected fallback filename %q", bundle.Filename)
	}
}

func TestURLKeepsArrayKeysReadable(t *testing.T) {
	client, err := worker.New("http://worker:5000", "", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := client.URL("/api/download-zip", url.Values{"platform": {"instagram"}, "files[]": {"a b.jpg", "c.mp4"}})
	want := "http://worker:5000/api/download-zip?files[]=a+b.jpg&files[]=c.mp4&platform=instagram"
	if got != want {
		t.Fatalf("URL() = %q, want %q", got, want)
	}
	if got := client.URL("/downloads/youtube/my%20clip.mp4", nil); got != "http://worker:5000/downloads/youtube/my%20clip.mp4" {
		t.Fatalf("unexpected escaped path %q", got)
	}
}

func TestHealth(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ok","timestamp":"2024-01-01T00:00:00","ffmpeg_available":true}`)
	})
	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != "ok" || !health.FFmpegAvailable {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestSecondsAcceptsClockStrings(t *testing.T) {
	var payload struct {
		A worker.Seconds `json:"a"`
		B worker.Seconds `json:"b"`
		C worker.Seconds `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"3:05","b":null,"c":"1:00:00"}`), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.A != 185 || payload.B != 0 || payload.C != 3600 {
		t.Fatalf("unexpected seconds %+v", payload)
	}
}
