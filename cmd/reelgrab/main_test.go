package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"reelgrab/internal/config"
	"reelgrab/internal/job"
	"reelgrab/internal/platform"
	"reelgrab/internal/services/worker"
	"reelgrab/internal/testsupport"
)

const (
	youtubeURL   = "https://www.youtube.com/watch?v=abc123"
	instagramURL = "https://www.instagram.com/p/xyz/"
)

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	t.Setenv("REELGRAB_WORKER_URL", "")
	t.Setenv("REELGRAB_NTFY_TOPIC", "")

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(ctx context.Context, args ...string) cliResult {
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func runCLIWithTimeout(t *testing.T, args ...string) cliResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return runCLI(ctx, args...)
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")

	res := runCLIWithTimeout(t, "config", "init", "--path", target)
	if res.err != nil {
		t.Fatalf("config init: %v", res.err)
	}
	if !strings.Contains(res.stdout, target) {
		t.Fatalf("expected output to name %s, got %q", target, res.stdout)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	res = runCLIWithTimeout(t, "config", "init", "--path", target)
	if res.err == nil || !strings.Contains(res.err.Error(), "already exists") {
		t.Fatalf("expected already exists error, got %v", res.err)
	}
}

func TestConfigShowMasksToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Worker.APIToken = "secret-token"
	path := writeTestConfig(t, cfg)

	res := runCLIWithTimeout(t, "--config", path, "config", "show")
	if res.err != nil {
		t.Fatalf("config show: %v", res.err)
	}
	if strings.Contains(res.stdout, "secret-token") {
		t.Fatalf("token leaked into output:\n%s", res.stdout)
	}
	if !strings.Contains(res.stdout, "base_url") {
		t.Fatalf("expected worker section in output:\n%s", res.stdout)
	}
}

func TestConfigValidateReportsSummary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeTestConfig(t, cfg)

	res := runCLIWithTimeout(t, "--config", path, "config", "validate")
	if res.err != nil {
		t.Fatalf("config validate: %v", res.err)
	}
	for _, want := range []string{"Configuration valid", "Defaults only", "no"} {
		if !strings.Contains(res.stdout, want) {
			t.Fatalf("expected %q in output:\n%s", want, res.stdout)
		}
	}
}

func TestPreviewJSON(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	fw.SetPreview(youtubeURL, worker.Preview{
		Platform:           "youtube",
		Title:              "Clip",
		Thumbnail:          "https://img.example/t.jpg",
		VideoURL:           "https://cdn.example/clip.mp4",
		AvailableQualities: []string{"720p", "1080p"},
	})
	path := writeTestConfig(t, testsupport.NewConfig(t, testsupport.WithWorker(fw.URL())))

	res := runCLIWithTimeout(t, "--config", path, "preview", youtubeURL, "--json")
	if res.err != nil {
		t.Fatalf("preview: %v", res.err)
	}
	var pv struct {
		worker.Preview
		Proxy struct {
			Thumbnail string `json:"thumbnail"`
			VideoURL  string `json:"video_url"`
		} `json:"proxy"`
	}
	if err := json.Unmarshal([]byte(res.stdout), &pv); err != nil {
		t.Fatalf("decode preview: %v\n%s", err, res.stdout)
	}
	if pv.Title != "Clip" || len(pv.AvailableQualities) != 2 {
		t.Fatalf("unexpected preview %+v", pv)
	}
	if want := fw.URL() + "/api/proxy-image?url=https%3A%2F%2Fimg.example%2Ft.jpg"; pv.Proxy.Thumbnail != want {
		t.Fatalf("proxy thumbnail = %q, want %q", pv.Proxy.Thumbnail, want)
	}
	if want := fw.URL() + "/api/proxy-video?url=https%3A%2F%2Fcdn.example%2Fclip.mp4"; pv.Proxy.VideoURL != want {
		t.Fatalf("proxy video = %q, want %q", pv.Proxy.VideoURL, want)
	}
}

func TestPreviewViewProxiesCarouselMedia(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	fw.SetPreview(instagramURL, worker.Preview{
		Platform: "instagram",
		Media: []worker.MediaItem{
			{Type: "image", URL: "https://img.example/1.jpg"},
			{Type: "video", URL: "https://cdn.example/2.mp4"},
		},
	})
	path := writeTestConfig(t, testsupport.NewConfig(t, testsupport.WithWorker(fw.URL())))

	res := runCLIWithTimeout(t, "--config", path, "preview", instagramURL, "--json")
	if res.err != nil {
		t.Fatalf("preview: %v", res.err)
	}
	var pv struct {
		Proxy struct {
			Media []string `json:"media"`
		} `json:"proxy"`
	}
	if err := json.Unmarshal([]byte(res.stdout), &pv); err != nil {
		t.Fatalf("decode preview: %v\n%s", err, res.stdout)
	}
	if len(pv.Proxy.Media) != 2 ||
		!strings.Contains(pv.Proxy.Media[0], "/api/proxy-image?") ||
		!strings.Contains(pv.Proxy.Media[1], "/api/proxy-video?") {
		t.Fatalf("unexpected proxied media %q", pv.Proxy.Media)
	}
}

func TestPreviewTableSortsLadder(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	fw.SetPreview(youtubeURL, worker.Preview{
		Platform:           "youtube",
		Title:              "Clip",
		VideoURL:           "https://cdn.example/clip.mp4",
		AvailableQualities: []string{"360p", "1080p", "720p"},
	})
	path := writeTestConfig(t, testsupport.NewConfig(t, testsupport.WithWorker(fw.URL())))

	res := runCLIWithTimeout(t, "--config", path, "preview", youtubeURL)
	if res.err != nil {
		t.Fatalf("preview: %v", res.err)
	}
	if !strings.Contains(res.stdout, "1080p, 720p, 360p") {
		t.Fatalf("expected sorted ladder in output:\n%s", res.stdout)
	}
	if !strings.Contains(res.stdout, "/api/proxy-video?url=") {
		t.Fatalf("expected proxied stream URL in output:\n%s", res.stdout)
	}
}

func TestPreviewRejectsUnsupportedURL(t *testing.T) {
	path := writeTestConfig(t, testsupport.NewConfig(t))

	res := runCLIWithTimeout(t, "--config", path, "preview", "https://example.com/video")
	if res.err == nil || !strings.Contains(res.err.Error(), "Unsupported URL") {
		t.Fatalf("expected unsupported URL error, got %v", res.err)
	}
}

func TestDownloadInlineSavesEveryArtifact(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	fw.SetPreview(instagramURL, worker.Preview{
		Platform: "instagram",
		Media: []worker.MediaItem{
			{Type: "image", URL: "https://cdn.example/a.jpg"},
			{Type: "image", URL: "https://cdn.example/b.jpg"},
		},
	})
	fw.CompleteInline(&worker.Snapshot{
		Status: worker.StatusCompleted,
		DirectLinks: []worker.Link{
			{URL: "https://cdn.example/a.jpg", Filename: "a.jpg"},
			{URL: "https://cdn.example/b.jpg", Filename: "b.jpg"},
		},
	})
	fw.AddFile("https://cdn.example/a.jpg", testsupport.Payload(16))
	fw.AddFile("https://cdn.example/b.jpg", testsupport.Payload(32))
	cfg := testsupport.NewConfig(t, testsupport.WithWorker(fw.URL()), testsupport.WithTransports(config.TransportWebSocket))
	path := writeTestConfig(t, cfg)

	res := runCLIWithTimeout(t, "--config", path, "download", instagramURL, "--all", "--json")
	if res.err != nil {
		t.Fatalf("download: %v\n%s", res.err, res.stderr)
	}
	var saved []deliveredView
	if err := json.Unmarshal([]byte(res.stdout), &saved); err != nil {
		t.Fatalf("decode output: %v\n%s", err, res.stdout)
	}
	if len(saved) != 2 || saved[0].Bytes != 16 || saved[1].Bytes != 32 {
		t.Fatalf("unexpected saved files %+v", saved)
	}
	for _, s := range saved {
		if filepath.Dir(s.Path) != cfg.Paths.DownloadDir {
			t.Fatalf("file saved outside download dir: %s", s.Path)
		}
	}
}

func TestDownloadFollowsPushedProgress(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	fw.SetPreview(youtubeURL, worker.Preview{
		Platform:           "youtube",
		Title:              "Clip",
		VideoURL:           "https://cdn.example/clip.mp4",
		AvailableQualities: []string{"1080p", "720p"},
	})
	fw.AddFile("/downloads/youtube/clip.mp4", testsupport.Payload(128))
	cfg := testsupport.NewConfig(t, testsupport.WithWorker(fw.URL()), testsupport.WithTransports(config.TransportWebSocket))
	path := writeTestConfig(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan cliResult, 1)
	go func() {
		done <- runCLI(ctx, "--config", path, "download", youtubeURL, "--quality", "720p", "--json")
	}()

	if err := fw.WaitJoined(ctx, "job-1"); err != nil {
		t.Fatalf("WaitJoined: %v", err)
	}
	fw.Push("job-1", worker.Snapshot{Status: worker.StatusDownloading, Progress: 40, Message: "Downloading... 40%"})
	fw.Push("job-1", worker.Snapshot{Status: worker.StatusCompleted, Progress: 100, DownloadedFiles: []string{"clip.mp4"}})

	var res cliResult
	select {
	case res = <-done:
	case <-ctx.Done():
		t.Fatal("download command did not finish")
	}
	if res.err != nil {
		t.Fatalf("download: %v\n%s", res.err, res.stderr)
	}
	if subs := fw.Submissions(); len(subs) != 1 || subs[0].Request.Quality != "720p" {
		t.Fatalf("unexpected submissions %+v", subs)
	}
	if !strings.Contains(res.stderr, "completed") {
		t.Fatalf("expected progress lines on stderr, got %q", res.stderr)
	}
	var saved []deliveredView
	if err := json.Unmarshal([]byte(res.stdout), &saved); err != nil {
		t.Fatalf("decode output: %v\n%s", err, res.stdout)
	}
	if len(saved) != 1 || saved[0].Filename != "clip.mp4" || saved[0].Bytes != 128 {
		t.Fatalf("unexpected saved files %+v", saved)
	}
}

func TestDownloadReportsWorkerFailure(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	fw.SetPreview(youtubeURL, worker.Preview{Platform: "youtube", VideoURL: "https://cdn.example/clip.mp4"})
	path := writeTestConfig(t, testsupport.NewConfig(t, testsupport.WithWorker(fw.URL()), testsupport.WithTransports(config.TransportWebSocket)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan cliResult, 1)
	go func() {
		done <- runCLI(ctx, "--config", path, "download", youtubeURL)
	}()

	if err := fw.WaitJoined(ctx, "job-1"); err != nil {
		t.Fatalf("WaitJoined: %v", err)
	}
	fw.Push("job-1", worker.Snapshot{Status: worker.StatusError, Error: "Video unavailable"})

	select {
	case res := <-done:
		if res.err == nil || !strings.Contains(res.err.Error(), "Video unavailable") {
			t.Fatalf("expected worker error, got %v", res.err)
		}
	case <-ctx.Done():
		t.Fatal("download command did not finish")
	}
}

func TestHistoryJSON(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	entry := job.Job{
		ID:        "job-9",
		Kind:      job.KindAudio,
		Status:    job.StatusCompleted,
		SourceURL: youtubeURL,
		Platform:  platform.YouTube,
	}
	if err := store.Record(context.Background(), "job-9", entry); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = store.Close()
	path := writeTestConfig(t, cfg)

	res := runCLIWithTimeout(t, "--config", path, "history", "--json")
	if res.err != nil {
		t.Fatalf("history: %v", res.err)
	}
	var views []historyView
	if err := json.Unmarshal([]byte(res.stdout), &views); err != nil {
		t.Fatalf("decode history: %v\n%s", err, res.stdout)
	}
	if len(views) != 1 || views[0].JobID != "job-9" || views[0].Kind != "audio" || views[0].Status != "completed" {
		t.Fatalf("unexpected history %+v", views)
	}

	res = runCLIWithTimeout(t, "--config", path, "history", "clear")
	if res.err != nil || !strings.Contains(res.stdout, "Removed 1 history entry") {
		t.Fatalf("history clear: %v %q", res.err, res.stdout)
	}
}

func TestStatusReportsWorkerHealth(t *testing.T) {
	fw := testsupport.NewFakeWorker(t)
	path := writeTestConfig(t, testsupport.NewConfig(t, testsupport.WithWorker(fw.URL())))

	res := runCLIWithTimeout(t, "--config", path, "status")
	if res.err != nil {
		t.Fatalf("status: %v\n%s", res.err, res.stdout)
	}
	for _, want := range []string{"Worker:", "[OK] Reachable", "Notifications:", "[OK] Disabled"} {
		if !strings.Contains(res.stdout, want) {
			t.Fatalf("expected %q in output:\n%s", want, res.stdout)
		}
	}
}

func TestStatusFailsWhenWorkerUnreachable(t *testing.T) {
	path := writeTestConfig(t, testsupport.NewConfig(t))

	res := runCLIWithTimeout(t, "--config", path, "status")
	if res.err == nil || !strings.Contains(res.err.Error(), "status check(s) failed") {
		t.Fatalf("expected failed status, got %v", res.err)
	}
	if !strings.Contains(res.stdout, "[ERROR]") {
		t.Fatalf("expected an error line:\n%s", res.stdout)
	}
}

func TestProgressPrinterSamplesWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf)

	p.update(job.Job{Status: job.StatusQueued, Message: job.MsgPreparing})
	p.update(job.Job{Status: job.StatusDownloading, Progress: 5})
	p.update(job.Job{Status: job.StatusDownloading, Progress: 7})
	p.update(job.Job{Status: job.StatusDownloading, Progress: 12})
	p.update(job.Job{Status: job.StatusCompleted, Progress: 100})
	p.finish()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 sampled lines, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "queued") || !strings.Contains(lines[0], job.MsgPreparing) {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if !strings.HasPrefix(lines[3], "completed") {
		t.Fatalf("unexpected last line %q", lines[3])
	}
}
