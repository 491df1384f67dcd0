package session_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"reelgrab/internal/artifact"
	"reelgrab/internal/channel"
	"reelgrab/internal/config"
	"reelgrab/internal/job"
	"reelgrab/internal/logging"
	"reelgrab/internal/platform"
	"reelgrab/internal/preview"
	"reelgrab/internal/services"
	"reelgrab/internal/services/worker"
	"reelgrab/internal/session"
	"reelgrab/internal/testsupport"
)

const (
	youtubeURL   = "https://www.youtube.com/watch?v=abc123"
	instagramURL = "https://www.instagram.com/p/xyz/"
	pinterestURL = "https://www.pinterest.com/pin/42/"
)

type watcher struct {
	jobs chan job.Job
}

func newWatcher() *watcher {
	return &watcher{jobs: make(chan job.Job, 128)}
}

func (w *watcher) JobChanged(_ context.Context, j job.Job, _ job.Status) {
	select {
	case w.jobs <- j:
	default:
	}
}

func (w *watcher) ConnectionChanged(context.Context, channel.StateEvent) {}

func (w *watcher) waitFor(t *testing.T, status job.Status) job.Job {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case j := <-w.jobs:
			if j.Status == status {
				return j
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", status)
			return job.Job{}
		}
	}
}

func openSession(t *testing.T, fw *testsupport.FakeWorker, observers ...job.Observer) (*session.Session, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithWorker(fw.URL()), testsupport.WithTransports(config.TransportWebSocket))
	return openWithConfig(t, cfg, observers...), cfg
}

func openWithConfig(t *testing.T, cfg *config.Config, observers ...job.Observer) *session.Session {
	t.Helper()
	s, err := session.Open(context.Background(), cfg, logging.NewNop(), session.Options{Observers: observers})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.WaitConnected(ctx); err != nil {
		t.Fatalf("WaitConnected: %v", err)
	}
	return s
}

func loadPreview(t *testing.T, s *session.Session) preview.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	st, err := s.FetchPreview(ctx)
	if err == nil {
		return st
	}
	if !errors.Is(err, preview.ErrSuperseded) {
		t.Fatalf("FetchPreview: %v", err)
	}
	for ctx.Err() == nil {
		if st := s.Preview(); !st.Loading && st.Preview != nil {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("preview never settled")
	return preview.State{}
}

func TestOpenHoldsSessionLock(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	cfg := testsupport.NewConfig(t, testsupport.WithWorker(fw.URL()))

	first, err := session.Open(context.Background(), cfg, logging.NewNop(), session.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := session.Open(context.Background(), cfg, logging.NewNop(), session.Options{}); !errors.Is(err, session.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := session.Open(context.Background(), cfg, logging.NewNop(), session.Options{})
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	_ = second.Close()
}

func TestAsyncDownloadRoundTrip(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	fw.SetPreview(youtubeURL, worker.Preview{
		Platform:           "youtube",
		Title:              "Clip",
		VideoURL:           "https://cdn.example/clip.mp4",
		AvailableQualities: []string{"1080p", "720p"},
	})
	w := newWatcher()
	s, _ := openSession(t, fw, w)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if got := s.SetURL(ctx, youtubeURL); got != platform.YouTube {
		t.Fatalf("expected youtube, got %q", got)
	}
	st := loadPreview(t, s)
	if st.Quality != "1080p" {
		t.Fatalf("expected default quality 1080p, got %q", st.Quality)
	}
	if err := s.SelectQuality("720p"); err != nil {
		t.Fatalf("SelectQuality: %v", err)
	}
	if got := s.ActionState(); got != session.ActionReady {
		t.Fatalf("expected ready, got %q", got)
	}

	j, err := s.Download(ctx, job.KindVideo)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if j.Status != job.StatusQueued || j.ID != "job-1" {
		t.Fatalf("unexpected accepted job %+v", j)
	}
	subs := fw.Submissions()
	if len(subs) != 1 || subs[0].Audio || subs[0].Request.Quality != "720p" || subs[0].Request.Platform != "youtube" {
		t.Fatalf("unexpected submissions %+v", subs)
	}
	if err := fw.WaitJoined(ctx, "job-1"); err != nil {
		t.Fatalf("WaitJoined: %v", err)
	}
	if got := s.ActionState(); got != session.ActionProcessing {
		t.Fatalf("expected processing, got %q", got)
	}

	fw.Push("job-1", worker.Snapshot{Status: worker.StatusDownloading, Progress: 50, Message: "Downloading... 50%"})
	w.waitFor(t, job.StatusDownloading)

	fw.AddFile("/downloads/youtube/clip.mp4", testsupport.Payload(2048))
	fw.Push("job-1", worker.Snapshot{Status: worker.StatusCompleted, Progress: 100, DownloadedFiles: []string{"clip.mp4"}})
	done := w.waitFor(t, job.StatusCompleted)
	if done.SourceURL != youtubeURL || done.Quality != "720p" {
		t.Fatalf("submission fields not pinned: %+v", done)
	}
	if err := fw.WaitLeft(ctx, "job-1"); err != nil {
		t.Fatalf("room not left after completion: %v", err)
	}

	saved, err := s.Save(ctx, false)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(saved) != 1 || saved[0].Bytes != 2048 || filepath.Base(saved[0].Path) != "clip.mp4" {
		t.Fatalf("unexpected delivery %+v", saved)
	}
	if _, err := os.Stat(saved[0].Path); err != nil {
		t.Fatalf("delivered file missing: %v", err)
	}

	entries, err := s.History().List(ctx, 10)
	if err != nil {
		t.Fatalf("history List: %v", err)
	}
	if len(entries) != 1 || entries[0].JobID != "job-1" || entries[0].Status != string(job.StatusCompleted) {
		t.Fatalf("unexpected history %+v", entries)
	}
}

func TestInlineCompletionDeliversEveryDirectLink(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	fw.SetPreview(instagramURL, worker.Preview{
		Platform: "instagram",
		Media: []worker.MediaItem{
			{Type: "image", URL: "https://cdn.example/a.jpg"},
			{Type: "video", URL: "https://cdn.example/b.mp4"},
		},
	})
	fw.CompleteInline(&worker.Snapshot{
		Status: worker.StatusCompleted,
		DirectLinks: []worker.Link{
			{URL: "https://cdn.example/a.jpg", Filename: "a.jpg"},
			{URL: "https://cdn.example/b.mp4", Filename: "b.mp4"},
		},
	})
	fw.AddFile("https://cdn.example/a.jpg", testsupport.Payload(10))
	fw.AddFile("https://cdn.example/b.mp4", testsupport.Payload(20))

	s, _ := openSession(t, fw)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.SetURL(ctx, instagramURL)
	if st := loadPreview(t, s); st.Quality != preview.Highest {
		t.Fatalf("expected highest without a ladder, got %q", st.Quality)
	}

	j, err := s.Download(ctx, job.KindVideo)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if j.Status != job.StatusCompleted || j.ID != "" {
		t.Fatalf("expected inline completion, got %+v", j)
	}
	if got := fw.Submissions()[0].Request.Quality; got != "highest" {
		t.Fatalf("expected highest quality request, got %q", got)
	}
	if got := s.ActionState(); got != session.ActionReady {
		t.Fatalf("expected ready after inline completion, got %q", got)
	}

	res, err := s.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Source != artifact.SourceDirectLinks || len(res.All) != 2 {
		t.Fatalf("unexpected resolution %+v", res)
	}
	saved, err := s.Save(ctx, true)
	if err != nil {
		t.Fatalf("Save all: %v", err)
	}
	if len(saved) != 2 || saved[0].Bytes != 10 || saved[1].Bytes != 20 {
		t.Fatalf("unexpected deliveries %+v", saved)
	}
}

func TestAudioDownloadUsesAudioLink(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	fw.SetPreview(youtubeURL, worker.Preview{
		Platform:           "youtube",
		VideoURL:           "https://cdn.example/clip.mp4",
		AvailableQualities: []string{"720p"},
	})
	w := newWatcher()
	s, _ := openSession(t, fw, w)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.SetURL(ctx, youtubeURL)
	loadPreview(t, s)
	j, err := s.Download(ctx, job.KindAudio)
	if err != nil {
		t.Fatalf("Download audio: %v", err)
	}
	if j.Message != job.MsgExtractingAudio {
		t.Fatalf("unexpected message %q", j.Message)
	}
	if subs := fw.Submissions(); len(subs) != 1 || !subs[0].Audio {
		t.Fatalf("expected an audio submission, got %+v", subs)
	}
	if err := fw.WaitJoined(ctx, j.ID); err != nil {
		t.Fatalf("WaitJoined: %v", err)
	}

	fw.AddFile("/downloads/youtube/song.mp3", testsupport.Payload(64))
	fw.Push(j.ID, worker.Snapshot{
		Status:      worker.StatusCompleted,
		Progress:    100,
		AudioLink:   &worker.Link{URL: "/downloads/youtube/song.mp3", Filename: "song.mp3"},
		DownloadURL: "/downloads/youtube/clip.mp4",
	})
	w.waitFor(t, job.StatusCompleted)

	res, err := s.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Source != artifact.SourceAudioLink || len(res.All) != 1 {
		t.Fatalf("expected the audio link only, got %+v", res)
	}
	saved, err := s.Save(ctx, true)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(saved[0].Path) != "song.mp3" {
		t.Fatalf("unexpected file %s", saved[0].Path)
	}
}

func TestAudioRejectedWithoutVideo(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	fw.SetPreview(pinterestURL, worker.Preview{
		Platform: "pinterest",
		Media:    []worker.MediaItem{{Type: "image", URL: "https://cdn.example/pin.jpg"}},
	})
	s, _ := openSession(t, fw)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.SetURL(ctx, pinterestURL)
	loadPreview(t, s)
	_, err := s.Download(ctx, job.KindAudio)
	if err == nil || services.UserMessage(err) != session.MsgAudioUnavailable {
		t.Fatalf("expected %q, got %v", session.MsgAudioUnavailable, err)
	}
	if n := len(fw.Submissions()); n != 0 {
		t.Fatalf("expected no submissions, got %d", n)
	}
}

func TestURLChangeSupersedesTrackedJob(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	fw.SetPreview(youtubeURL, worker.Preview{Platform: "youtube", VideoURL: "https://cdn.example/v.mp4"})
	s, _ := openSession(t, fw)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.SetURL(ctx, youtubeURL)
	loadPreview(t, s)
	j, err := s.Download(ctx, job.KindVideo)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if err := fw.WaitJoined(ctx, j.ID); err != nil {
		t.Fatalf("WaitJoined: %v", err)
	}

	s.SetURL(ctx, instagramURL)
	if _, ok := s.Current(); ok {
		t.Fatal("expected the tracked job to be cleared")
	}
	if err := fw.WaitCancel(ctx, j.ID); err != nil {
		t.Fatalf("active job was not cancelled: %v", err)
	}
	if err := fw.WaitLeft(ctx, j.ID); err != nil {
		t.Fatalf("room was not left: %v", err)
	}
	if got := s.LastSubmittedURL(); got != youtubeURL {
		t.Fatalf("expected last submitted url to stay %q, got %q", youtubeURL, got)
	}
}

func TestCancelWaitsForWorkerConfirmation(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	fw.SetPreview(youtubeURL, worker.Preview{Platform: "youtube", VideoURL: "https://cdn.example/v.mp4"})
	fw.SetCancelOutcome(worker.StatusCancelled)
	w := newWatcher()
	s, _ := openSession(t, fw, w)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.SetURL(ctx, youtubeURL)
	loadPreview(t, s)
	j, err := s.Download(ctx, job.KindVideo)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if err := fw.WaitJoined(ctx, j.ID); err != nil {
		t.Fatalf("WaitJoined: %v", err)
	}

	if err := s.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	w.waitFor(t, job.StatusCancelling)
	final := w.waitFor(t, job.StatusCancelled)
	if final.ID != j.ID {
		t.Fatalf("unexpected job %+v", final)
	}
	if cancels := fw.Cancels(); len(cancels) != 1 || cancels[0] != j.ID {
		t.Fatalf("unexpected cancels %v", cancels)
	}
}

func TestBundleSavesMetadataArchive(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	fw.SetBundle("clip_with_metadata.zip", testsupport.Payload(512))
	s, _ := openSession(t, fw)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.Bundle(ctx); err == nil || services.UserMessage(err) != job.MsgEnterURL {
		t.Fatalf("expected %q without a URL, got %v", job.MsgEnterURL, err)
	}

	s.SetURL(ctx, youtubeURL)
	saved, err := s.Bundle(ctx)
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if filepath.Base(saved.Path) != "clip_with_metadata.zip" || saved.Bytes != 512 {
		t.Fatalf("unexpected bundle %+v", saved)
	}
}

func TestDownloadWithoutConnectionIssuesNoRequest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s, err := session.Open(context.Background(), cfg, logging.NewNop(), session.Options{NoHistory: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.SetURL(ctx, youtubeURL)
	if _, err := s.FetchPreview(ctx); err == nil {
		t.Fatal("expected preview against an unreachable worker to fail")
	}
	if got := s.ActionState(); got != session.ActionDisconnected {
		t.Fatalf("expected disconnected, got %q", got)
	}
	_, err = s.Download(ctx, job.KindVideo)
	if err == nil || services.UserMessage(err) != job.MsgNotConnected {
		t.Fatalf("expected %q, got %v", job.MsgNotConnected, err)
	}
}

func TestSessionEndsWhenReconnectsExhausted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s, err := session.Open(context.Background(), cfg, logging.NewNop(), session.Options{NoHistory: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not give up reconnecting")
	}
	if !errors.Is(s.Err(), services.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", s.Err())
	}
	if got := services.UserMessage(s.Err()); got != "Connection lost. Please refresh." {
		t.Fatalf("unexpected user message %q", got)
	}
}

func TestPreviewFailureSurfacesWorkerMessage(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	fw.FailPreview(youtubeURL, http.StatusBadRequest, "Video unavailable")
	s, _ := openSession(t, fw)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s.SetURL(ctx, youtubeURL)
	st, err := s.FetchPreview(ctx)
	if err == nil {
		t.Fatal("expected preview to fail")
	}
	if st.Loading || st.Preview != nil || st.Error != "Video unavailable" {
		t.Fatalf("unexpected preview state %+v", st)
	}
	if got := s.Preview().Error; got != "Video unavailable" {
		t.Fatalf("expected stored error, got %q", got)
	}
	if got := s.ActionState(); got != session.ActionReady {
		t.Fatalf("expected a failed preview to leave the action ready, got %q", got)
	}
}

func TestSubmitTimeoutLeavesNoTrackedJob(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	fw.SetPreview(youtubeURL, worker.Preview{Platform: "youtube", VideoURL: "https://cdn.example/v.mp4"})
	fw.SetSubmitDelay(3 * time.Second)
	cfg := testsupport.NewConfig(t, testsupport.WithWorker(fw.URL()), testsupport.WithTransports(config.TransportWebSocket))
	cfg.Worker.SubmitTimeoutSecs = 1
	s := openWithConfig(t, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.SetURL(ctx, youtubeURL)
	loadPreview(t, s)
	_, err := s.Download(ctx, job.KindVideo)
	if !errors.Is(err, services.ErrTimeout) || services.UserMessage(err) != worker.MsgSubmitTimeout {
		t.Fatalf("expected submit timeout, got %v", err)
	}
	if _, ok := s.Current(); ok {
		t.Fatal("timed out submission must not be tracked")
	}
	if got := s.ActionState(); got != session.ActionReady {
		t.Fatalf("expected ready after timeout, got %q", got)
	}
}

func TestNewerURLPreviewWinsOverSlowerLookup(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	fw.SetPreview(youtubeURL, worker.Preview{Platform: "youtube", Title: "Old clip", VideoURL: "https://cdn.example/old.mp4"})
	fw.SetPreview(instagramURL, worker.Preview{Platform: "instagram", Title: "New reel", VideoURL: "https://cdn.example/new.mp4"})
	fw.SetPreviewDelay(300 * time.Millisecond)
	s, _ := openSession(t, fw)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.SetURL(ctx, youtubeURL)
	for s.Preview().URL != youtubeURL || !s.Preview().Loading {
		if ctx.Err() != nil {
			t.Fatal("first lookup never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.SetURL(ctx, instagramURL)

	var st preview.State
	for {
		st = s.Preview()
		if !st.Loading && st.Preview != nil {
			break
		}
		if ctx.Err() != nil {
			t.Fatalf("preview never settled: %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st.URL != instagramURL || st.Preview.Title != "New reel" {
		t.Fatalf("expected newer preview, got %q for %q", titleOf(st), st.URL)
	}

	// Outlive the first lookup's delay and make sure it never lands.
	time.Sleep(400 * time.Millisecond)
	if st := s.Preview(); st.URL != instagramURL || titleOf(st) != "New reel" {
		t.Fatalf("stale preview overwrote newer one: %q for %q", titleOf(st), st.URL)
	}
}

func titleOf(st preview.State) string {
	if st.Preview == nil {
		return ""
	}
	return st.Preview.Title
}

func TestSessionReconnectsAfterDrop(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	s, _ := openSession(t, fw)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := fw.WaitConnects(ctx, 1); err != nil {
		t.Fatalf("WaitConnects: %v", err)
	}
	fw.DropConnections()
	if err := fw.WaitConnects(ctx, 2); err != nil {
		t.Fatalf("session did not reconnect: %v", err)
	}
	if err := s.WaitConnected(ctx); err != nil {
		t.Fatalf("WaitConnected: %v", err)
	}
	if got := s.Transport(); got != config.TransportWebSocket {
		t.Fatalf("expected websocket transport, got %q", got)
	}
}

func TestCompletedJobPublishesNotification(t *testing.T) {
	titles := make(chan string, 4)
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case titles <- r.Header.Get("Title"):
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ntfy.Close()

	fw := testsupport.NewFakeWorker(t)
	fw.SetPreview(youtubeURL, worker.Preview{Platform: "youtube", VideoURL: "https://cdn.example/v.mp4"})
	cfg := testsupport.NewConfig(t,
		testsupport.WithWorker(fw.URL()),
		testsupport.WithTransports(config.TransportWebSocket),
		testsupport.WithNtfyTopic(ntfy.URL+"/reelgrab"),
	)
	w := newWatcher()
	s := openWithConfig(t, cfg, w)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.SetURL(ctx, youtubeURL)
	loadPreview(t, s)
	j, err := s.Download(ctx, job.KindVideo)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if err := fw.WaitJoined(ctx, j.ID); err != nil {
		t.Fatalf("WaitJoined: %v", err)
	}
	fw.Push(j.ID, worker.Snapshot{Status: worker.StatusCompleted, Progress: 100, DownloadedFiles: []string{"v.mp4"}})
	w.waitFor(t, job.StatusCompleted)

	select {
	case title := <-titles:
		if title != "ReelGrab - Complete" {
			t.Fatalf("unexpected notification title %q", title)
		}
	case <-ctx.Done():
		t.Fatal("no notification published")
	}
}
