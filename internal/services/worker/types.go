package worker

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Job statuses reported by the worker.
const (
	StatusQueued      = "queued"
	StatusDownloading = "downloading"
	StatusProcessing  = "processing"
	StatusCompleted   = "completed"
	StatusError       = "error"
	StatusCancelling  = "cancelling"
	StatusCancelled   = "cancelled"
)

// MediaItem is one entry of a multi-item post.
type MediaItem struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

// IsVideo reports whether the item is a video clip.
func (m MediaItem) IsVideo() bool {
	return strings.EqualFold(m.Type, "video")
}

// Preview is the metadata returned by /api/preview.
type Preview struct {
	Platform           string      `json:"platform"`
	Title              string      `json:"title"`
	Author             string      `json:"author,omitempty"`
	Duration           Seconds     `json:"duration,omitempty"`
	Thumbnail          string      `json:"thumbnail,omitempty"`
	VideoURL           string      `json:"video_url,omitempty"`
	AudioURL           string      `json:"audio_url,omitempty"`
	Media              []MediaItem `json:"media,omitempty"`
	AvailableQualities []string    `json:"available_qualities,omitempty"`
	UXTip              string      `json:"ux_tip,omitempty"`
}

// Link is a named, fetchable artifact location.
type Link struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// Snapshot is the job state carried by submission responses and download_update events.
type Snapshot struct {
	Status          string   `json:"status"`
	Progress        float64  `json:"progress"`
	Message         string   `json:"message,omitempty"`
	CurrentSpeed    float64  `json:"current_speed,omitempty"`
	ETASeconds      *float64 `json:"eta_seconds,omitempty"`
	Error           string   `json:"error,omitempty"`
	DirectLinks     []Link   `json:"direct_links,omitempty"`
	AudioLink       *Link    `json:"audio_link,omitempty"`
	DownloadURL     string   `json:"download_url,omitempty"`
	DownloadedFiles []string `json:"downloaded_files,omitempty"`
	Platform        string   `json:"platform,omitempty"`
}

// SubmitRequest starts a video or audio job.
type SubmitRequest struct {
	URL      string `json:"url"`
	Platform string `json:"platform"`
	Quality  string `json:"quality,omitempty"`
}

// SubmitResponse is either an accepted async job (DownloadID set) or a
// synchronously completed snapshot.
type SubmitResponse struct {
	DownloadID string `json:"download_id,omitempty"`
	Snapshot
}

// Completed reports whether the worker finished the job inline and returned
// fetchable artifacts.
func (r SubmitResponse) Completed() bool {
	return r.Status == StatusCompleted && r.HasArtifacts()
}

// HasArtifacts reports whether s names anything fetchable.
func (s Snapshot) HasArtifacts() bool {
	return (s.AudioLink != nil && s.AudioLink.URL != "") ||
		len(s.DirectLinks) > 0 ||
		s.DownloadURL != "" ||
		len(s.DownloadedFiles) > 0
}

// Health is the payload of /api/health.
type Health struct {
	Status          string `json:"status"`
	Timestamp       string `json:"timestamp"`
	FFmpegAvailable bool   `json:"ffmpeg_available"`
}

// Seconds decodes a duration sent either as a number of seconds or as an
// "m:ss"/"h:mm:ss" string.
type Seconds int

func (s *Seconds) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "" || text == "null" {
		*s = 0
		return nil
	}
	if text[0] != '"' {
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*s = Seconds(n)
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	total := 0
	for _, part := range strings.Split(strings.TrimSpace(raw), ":") {
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			*s = 0
			return nil
		}
		total = total*60 + n
	}
	*s = Seconds(total)
	return nil
}
