// Package artifact turns a completed job into fetchable locations and saves
// them locally.
package artifact

import (
	"net/url"
	"path"
	"strings"

	"reelgrab/internal/job"
	"reelgrab/internal/platform"
	"reelgrab/internal/services"
)

// MsgNoDownload is reported when a completed job exposes no artifact.
const MsgNoDownload = "No download available"

// Source names which artifact field a Resolution came from.
type Source string

const (
	SourceAudioLink       Source = "audio_link"
	SourceDirectLinks     Source = "direct_links"
	SourceDownloadURL     Source = "download_url"
	SourceDownloadedFiles Source = "downloaded_files"
)

// Location is one fetchable artifact.
type Location struct {
	URL      string
	Filename string
}

// Resolution lists the artifacts of a job. Primary is All[0].
type Resolution struct {
	Source  Source
	Primary Location
	All     []Location
}

// URLBuilder resolves worker-relative paths.
type URLBuilder interface {
	URL(path string, query url.Values) string
}

// Resolver maps job artifacts to worker URLs.
type Resolver struct {
	urls URLBuilder
}

// NewResolver returns a resolver for the worker behind urls.
func NewResolver(urls URLBuilder) *Resolver {
	return &Resolver{urls: urls}
}

// Resolve picks the artifacts to deliver for j. The first matching source
// wins: the audio link (audio jobs only), direct links, download_url, then
// downloaded_files. Only j is consulted, so two jobs are never mixed.
func (r *Resolver) Resolve(j job.Job, kind job.Kind) (Resolution, error) {
	if j.Status != job.StatusCompleted {
		return Resolution{}, services.Wrap(services.ErrInput, "artifact", "resolve", "Download is not ready yet", nil)
	}
	set := j.Artifacts

	if kind == job.KindAudio && set.AudioLink != nil && set.AudioLink.URL != "" {
		loc := Location{URL: r.absolute(set.AudioLink.URL), Filename: set.AudioLink.Filename}
		if loc.Filename == "" {
			loc.Filename = filenameFromURL(set.AudioLink.URL)
		}
		return single(SourceAudioLink, loc), nil
	}

	if len(set.DirectLinks) > 0 {
		all := make([]Location, 0, len(set.DirectLinks))
		for _, link := range set.DirectLinks {
			if link.URL == "" {
				continue
			}
			name := link.Filename
			if name == "" {
				name = filenameFromURL(link.URL)
			}
			all = append(all, Location{URL: r.ProxyDownloadURL(link.URL, name), Filename: name})
		}
		if len(all) > 0 {
			return Resolution{Source: SourceDirectLinks, Primary: all[0], All: all}, nil
		}
	}

	if set.DownloadURL != "" {
		return single(SourceDownloadURL, Location{URL: r.absolute(set.DownloadURL), Filename: filenameFromURL(set.DownloadURL)}), nil
	}

	if len(set.DownloadedFiles) > 0 {
		all := make([]Location, 0, len(set.DownloadedFiles))
		for _, name := range set.DownloadedFiles {
			if name == "" {
				continue
			}
			all = append(all, Location{URL: r.StaticURL(j.Platform, name), Filename: name})
		}
		if len(all) > 0 {
			return Resolution{Source: SourceDownloadedFiles, Primary: all[0], All: all}, nil
		}
	}

	return Resolution{}, services.Wrap(services.ErrWorker, "artifact", "resolve", MsgNoDownload, nil)
}

// ProxyDownloadURL routes a third-party media URL through the worker so it
// downloads with a stable filename.
func (r *Resolver) ProxyDownloadURL(target, filename string) string {
	return r.urls.URL("/api/proxy-download", url.Values{"url": {target}, "filename": {filename}})
}

// ProxyVideoURL returns a streamable proxy URL for a preview video.
func (r *Resolver) ProxyVideoURL(target string) string {
	return r.urls.URL("/api/proxy-video", url.Values{"url": {target}})
}

// ProxyImageURL returns a proxy URL for a preview image or thumbnail.
func (r *Resolver) ProxyImageURL(target string) string {
	return r.urls.URL("/api/proxy-image", url.Values{"url": {target}})
}

// StaticURL addresses a file the worker keeps under its downloads folder.
func (r *Resolver) StaticURL(p platform.Platform, filename string) string {
	return r.urls.URL("/downloads/"+url.PathEscape(p.String())+"/"+url.PathEscape(filename), nil)
}

// ZipURL asks the worker to bundle files into one archive.
func (r *Resolver) ZipURL(p platform.Platform, files []string) string {
	query := url.Values{"platform": {p.String()}}
	for _, f := range files {
		query.Add("files[]", f)
	}
	return r.urls.URL("/api/download-zip", query)
}

func (r *Resolver) absolute(raw string) string {
	if isAbsolute(raw) {
		return raw
	}
	return r.urls.URL(raw, nil)
}

func single(source Source, loc Location) Resolution {
	return Resolution{Source: source, Primary: loc, All: []Location{loc}}
}

func isAbsolute(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// filenameFromURL returns the unescaped last path segment of raw.
func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if name := u.Query().Get("filename"); name != "" {
		return name
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSpace(base)
}
