package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"reelgrab/internal/artifact"
	"reelgrab/internal/platform"
	"reelgrab/internal/preview"
	"reelgrab/internal/services/worker"
	"reelgrab/internal/session"
)

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "preview <url>",
		Short: "Show metadata and available qualities for a media URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawURL := strings.TrimSpace(args[0])
			kind, ok := platform.Classify(rawURL)
			if !ok {
				return errors.New(session.MsgUnsupportedURL)
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.workerClient()
			if err != nil {
				return err
			}

			reqCtx, cancel := context.WithTimeout(cmd.Context(), cfg.PreviewTimeout())
			defer cancel()
			pv, err := client.Preview(reqCtx, rawURL)
			if err != nil {
				return userError(err)
			}

			view := newPreviewView(pv, artifact.NewResolver(client))
			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, view)
			}
			fmt.Fprintln(out, renderFields(kind.Label()+" preview", previewFields(kind, view)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the worker's preview as JSON")
	return cmd
}

// previewView is the worker's preview plus worker-proxied copies of its media
// URLs. Platform CDNs often refuse requests that did not come from the worker.
type previewView struct {
	worker.Preview
	Proxy proxyLinks `json:"proxy"`
}

type proxyLinks struct {
	Thumbnail string   `json:"thumbnail,omitempty"`
	VideoURL  string   `json:"video_url,omitempty"`
	Media     []string `json:"media,omitempty"`
}

func newPreviewView(pv worker.Preview, resolver *artifact.Resolver) previewView {
	view := previewView{Preview: pv}
	if pv.Thumbnail != "" {
		view.Proxy.Thumbnail = resolver.ProxyImageURL(pv.Thumbnail)
	}
	if pv.VideoURL != "" {
		view.Proxy.VideoURL = resolver.ProxyVideoURL(pv.VideoURL)
	}
	for _, item := range pv.Media {
		if item.IsVideo() {
			view.Proxy.Media = append(view.Proxy.Media, resolver.ProxyVideoURL(item.URL))
		} else {
			view.Proxy.Media = append(view.Proxy.Media, resolver.ProxyImageURL(item.URL))
		}
	}
	return view
}

func previewFields(kind platform.Platform, view previewView) [][2]string {
	pv := view.Preview
	fields := [][2]string{
		{"Title", pv.Title},
		{"Author", pv.Author},
	}
	if pv.Duration > 0 {
		fields = append(fields, [2]string{"Duration", preview.FormatDuration(int(pv.Duration))})
	}
	if len(pv.AvailableQualities) > 0 {
		fields = append(fields, [2]string{"Qualities", strings.Join(preview.SortLadder(pv.AvailableQualities), ", ")})
	}
	if len(pv.Media) > 0 {
		fields = append(fields, [2]string{"Media", describeMedia(pv.Media)})
	}
	fields = append(fields,
		[2]string{"Thumbnail", view.Proxy.Thumbnail},
		[2]string{"Stream", view.Proxy.VideoURL},
		[2]string{"Audio", yesNo(session.AudioAvailable(preview.State{Platform: kind, Preview: &pv}))},
		[2]string{"Tip", pv.UXTip},
	)
	return fields
}

func describeMedia(items []worker.MediaItem) string {
	videos := 0
	for _, item := range items {
		if item.IsVideo() {
			videos++
		}
	}
	images := len(items) - videos
	parts := make([]string, 0, 2)
	if images > 0 {
		parts = append(parts, pluralize(images, "image"))
	}
	if videos > 0 {
		parts = append(parts, pluralize(videos, "video"))
	}
	return strings.Join(parts, ", ")
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
