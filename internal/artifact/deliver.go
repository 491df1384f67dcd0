package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"reelgrab/internal/config"
	"reelgrab/internal/fileutil"
	"reelgrab/internal/logging"
	"reelgrab/internal/platform"
	"reelgrab/internal/services"
	"reelgrab/internal/services/worker"
	"reelgrab/internal/textutil"
)

// Worker is the part of the worker client delivery needs.
type Worker interface {
	Fetch(ctx context.Context, absoluteURL string) (*http.Response, error)
	MetadataBundle(ctx context.Context, rawURL, platform string) (*worker.Bundle, error)
}

// ErrBundleInFlight reports a metadata bundle request already running.
var ErrBundleInFlight = errors.New("metadata bundle already in progress")

// DeliveryOptions tune a Deliverer.
type DeliveryOptions struct {
	Dir             string
	Stagger         time.Duration
	Overwrite       bool
	DownloadTimeout time.Duration
	BundleTimeout   time.Duration
}

// Delivered is a saved artifact.
type Delivered struct {
	Location Location
	Path     string
	Bytes    int64
	SHA256   string
}

// Deliverer saves artifacts into the download directory.
type Deliverer struct {
	worker Worker
	opts   DeliveryOptions
	logger *slog.Logger

	bundling atomic.Bool
}

// NewDeliverer constructs a Deliverer.
func NewDeliverer(w Worker, opts DeliveryOptions, logger *slog.Logger) *Deliverer {
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 30 * time.Minute
	}
	if opts.BundleTimeout <= 0 {
		opts.BundleTimeout = 10 * time.Minute
	}
	if opts.Stagger < 0 {
		opts.Stagger = 0
	}
	return &Deliverer{worker: w, opts: opts, logger: logging.NewComponentLogger(logger, "delivery")}
}

// NewDelivererFromConfig builds a Deliverer from [paths] and [delivery].
func NewDelivererFromConfig(cfg *config.Config, w Worker, logger *slog.Logger) *Deliverer {
	return NewDeliverer(w, DeliveryOptions{
		Dir:             cfg.Paths.DownloadDir,
		Stagger:         cfg.DeliveryStagger(),
		Overwrite:       cfg.Delivery.Overwrite,
		DownloadTimeout: cfg.DownloadTimeout(),
		BundleTimeout:   cfg.BundleTimeout(),
	}, logger)
}

// Deliver fetches loc and writes it under the download directory.
func (d *Deliverer) Deliver(ctx context.Context, loc Location) (Delivered, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.DownloadTimeout)
	defer cancel()

	resp, err := d.worker.Fetch(ctx, loc.URL)
	if err != nil {
		return Delivered{}, err
	}
	defer resp.Body.Close()

	name := textutil.SanitizeFileName(loc.Filename)
	if name == "" {
		name = textutil.SanitizeFileName(worker.DispositionFilename(resp.Header.Get("Content-Disposition")))
	}
	if name == "" {
		name = textutil.SanitizeFileName(filenameFromURL(loc.URL))
	}
	if name == "" {
		name = "download"
	}
	return d.write(name, loc, resp.Body, resp.ContentLength)
}

// DeliverAll saves every location in order, pausing between them. It stops at
// the first failure and returns what was saved so far.
func (d *Deliverer) DeliverAll(ctx context.Context, locs []Location) ([]Delivered, error) {
	out := make([]Delivered, 0, len(locs))
	for i, loc := range locs {
		if i > 0 && d.opts.Stagger > 0 {
			timer := time.NewTimer(d.opts.Stagger)
			select {
			case <-ctx.Done():
				timer.Stop()
				return out, ctx.Err()
			case <-timer.C:
			}
		}
		saved, err := d.Deliver(ctx, loc)
		if err != nil {
			return out, fmt.Errorf("deliver %s: %w", loc.Filename, err)
		}
		out = append(out, saved)
	}
	return out, nil
}

// DeliverZip fetches the worker-built archive of files. The archive is not
// tracked as a job.
func (d *Deliverer) DeliverZip(ctx context.Context, r *Resolver, p platform.Platform, files []string) (Delivered, error) {
	if len(files) == 0 {
		return Delivered{}, services.Wrap(services.ErrInput, "delivery", "zip", MsgNoDownload, nil)
	}
	return d.Deliver(ctx, Location{URL: r.ZipURL(p, files), Filename: p.String() + "_files.zip"})
}

// FetchMetadataBundle requests a zip of media plus metadata for rawURL. Only
// one bundle may be in flight per Deliverer.
func (d *Deliverer) FetchMetadataBundle(ctx context.Context, rawURL string, p platform.Platform) (Delivered, error) {
	if !d.bundling.CompareAndSwap(false, true) {
		return Delivered{}, services.Wrap(services.ErrInput, "delivery", "bundle", "A ZIP is already being created", ErrBundleInFlight)
	}
	defer d.bundling.Store(false)

	ctx, cancel := context.WithTimeout(ctx, d.opts.BundleTimeout)
	defer cancel()

	started := time.Now()
	d.logger.Info("requesting metadata bundle", logging.String(logging.FieldPlatform, p.String()))
	bundle, err := d.worker.MetadataBundle(ctx, rawURL, p.String())
	if err != nil {
		return Delivered{}, err
	}
	defer bundle.Body.Close()

	name := textutil.SanitizeFileName(bundle.Filename)
	if name == "" {
		name = p.String() + "_with_metadata.zip"
	}
	saved, err := d.write(name, Location{Filename: bundle.Filename}, bundle.Body, bundle.Size)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Delivered{}, services.Wrap(services.ErrTimeout, "delivery", "bundle", worker.MsgBundleTimeout, err)
		}
		return Delivered{}, err
	}
	d.logger.Info("metadata bundle saved",
		logging.String("path", saved.Path),
		logging.Int64("bytes", saved.Bytes),
		logging.Duration("elapsed", time.Since(started)),
	)
	return saved, nil
}

// Bundling reports whether a metadata bundle request is running.
func (d *Deliverer) Bundling() bool {
	return d.bundling.Load()
}

func (d *Deliverer) write(name string, loc Location, body io.Reader, size int64) (Delivered, error) {
	target, err := fileutil.UniquePath(d.opts.Dir, name, d.opts.Overwrite)
	if err != nil {
		return Delivered{}, services.Wrap(services.ErrInput, "delivery", "write", "Cannot write to the download folder", err)
	}
	res, err := fileutil.WriteAtomic(target, body, size, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return Delivered{}, services.Wrap(services.ErrInput, "delivery", "write", "Cannot write to the download folder", err)
		}
		return Delivered{}, services.Wrap(services.ErrTransport, "delivery", "write", "Download interrupted", err)
	}
	d.logger.Info("artifact saved",
		logging.String("file", filepath.Base(res.Path)),
		logging.Int64("bytes", res.Bytes),
	)
	return Delivered{Location: loc, Path: res.Path, Bytes: res.Bytes, SHA256: res.SHA256}, nil
}
