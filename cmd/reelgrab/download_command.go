package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reelgrab/internal/artifact"
	"reelgrab/internal/job"
	"reelgrab/internal/logging"
	"reelgrab/internal/platform"
	"reelgrab/internal/preview"
	"reelgrab/internal/session"
)

type downloadOptions struct {
	audio      bool
	quality    string
	all        bool
	zip        bool
	jsonOutput bool
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var opts downloadOptions

	cmd := &cobra.Command{
		Use:   "download <url>",
		Short: "Download a video, audio track, or post through the worker",
		Long: "Submit the URL to the worker, follow the job over the push channel, and\n" +
			"save the finished artifacts into the download directory. Ctrl-C asks the\n" +
			"worker to cancel the job.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.audio && opts.zip {
				return errors.New("--zip applies to video downloads only")
			}
			return ctx.withConnectedSession(cmd.Context(), func(s *session.Session) error {
				return runDownload(cmd.Context(), s, cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], opts)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.audio, "audio", false, "Extract the audio track instead of the video")
	cmd.Flags().StringVarP(&opts.quality, "quality", "q", "", "Video quality from the preview ladder (e.g. 720p)")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Save every artifact of a multi-item post")
	cmd.Flags().BoolVar(&opts.zip, "zip", false, "Save the worker-built archive of the downloaded files")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output saved files as JSON")
	return cmd
}

func runDownload(ctx context.Context, s *session.Session, out, progressOut io.Writer, rawURL string, opts downloadOptions) error {
	rawURL = strings.TrimSpace(rawURL)
	if s.SetURL(ctx, rawURL) == platform.None {
		return errors.New(session.MsgUnsupportedURL)
	}
	if _, err := s.FetchPreview(ctx); err != nil {
		return userError(err)
	}
	if opts.quality != "" {
		if err := s.SelectQuality(opts.quality); err != nil {
			return userError(err)
		}
	}

	wake := make(chan struct{}, 1)
	s.Subscribe(job.ObserverFuncs{
		Job: func(context.Context, job.Job, job.Status) {
			select {
			case wake <- struct{}{}:
			default:
			}
		},
	})

	kind := job.KindVideo
	if opts.audio {
		kind = job.KindAudio
	}
	submitted, err := s.Download(ctx, kind)
	if err != nil {
		return userError(err)
	}

	printer := newProgressPrinter(progressOut)
	final, err := awaitTerminal(ctx, s, submitted, wake, printer)
	printer.finish()
	if err != nil {
		return err
	}

	switch final.Status {
	case job.StatusError:
		msg := job.MsgFailed
		if final.Failure != nil && final.Failure.Message != "" {
			msg = final.Failure.Message
		}
		return fmt.Errorf("download failed: %s", msg)
	case job.StatusCancelled:
		return errors.New("download cancelled")
	}

	var saved []artifact.Delivered
	if opts.zip {
		d, err := s.SaveZip(ctx)
		if err != nil {
			return userError(err)
		}
		saved = []artifact.Delivered{d}
	} else {
		saved, err = s.Save(ctx, opts.all)
		if err != nil {
			return userError(err)
		}
	}

	if opts.jsonOutput {
		return writeJSON(out, deliveredViews(saved))
	}
	fmt.Fprintln(out, renderDelivered(saved))
	return nil
}

// awaitTerminal follows the tracked job until it settles. An interrupted ctx
// asks the worker to cancel and waits for its answer.
func awaitTerminal(ctx context.Context, s *session.Session, current job.Job, wake <-chan struct{}, printer *progressPrinter) (job.Job, error) {
	printer.update(current)
	if current.Status.Terminal() {
		return current, nil
	}

	for {
		select {
		case <-wake:
		case <-s.Done():
			return current, userError(s.Err())
		case <-ctx.Done():
			return cancelAndWait(s, wake, printer, ctx.Err())
		}
		latest, ok := s.Current()
		if !ok {
			continue
		}
		current = latest
		printer.update(current)
		if current.Status.Terminal() {
			return current, nil
		}
	}
}

func cancelAndWait(s *session.Session, wake <-chan struct{}, printer *progressPrinter, cause error) (job.Job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Cancel(ctx); err != nil {
		return job.Job{}, userError(err)
	}
	for {
		latest, ok := s.Current()
		if ok {
			printer.update(latest)
			if latest.Status.Terminal() {
				return latest, cause
			}
			if latest.CancelUnconfirmed {
				return latest, fmt.Errorf("worker did not confirm the cancel of %s", latest.ID)
			}
		}
		select {
		case <-wake:
		case <-s.Done():
			return latest, cause
		case <-ctx.Done():
			return latest, cause
		}
	}
}

type progressPrinter struct {
	out     io.Writer
	tty     bool
	printed bool
	sampler *logging.ProgressSampler
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{
		out:     out,
		tty:     isTerminal(out),
		sampler: logging.NewProgressSampler(10),
	}
}

// update redraws the progress line on terminals; elsewhere it prints a line
// on status changes and every 10% of progress.
func (p *progressPrinter) update(j job.Job) {
	if p == nil || p.out == nil || j.Status == "" {
		return
	}
	line := formatProgress(j)
	if p.tty {
		fmt.Fprintf(p.out, "\r\x1b[2K%s", line)
		p.printed = true
		return
	}
	if !p.sampler.ShouldLog(j.Progress, string(j.Status)) {
		return
	}
	fmt.Fprintln(p.out, line)
}

func (p *progressPrinter) finish() {
	if p != nil && p.tty && p.printed {
		fmt.Fprintln(p.out)
	}
}

func formatProgress(j job.Job) string {
	parts := []string{fmt.Sprintf("%-11s %5.1f%%", j.Status, j.Progress)}
	if j.Status == job.StatusDownloading {
		parts = append(parts, preview.FormatSpeed(j.SpeedBytesPerSec), "ETA "+preview.FormatETA(j.ETASeconds))
	}
	if j.Message != "" {
		parts = append(parts, j.Message)
	}
	return strings.Join(parts, "  ")
}
