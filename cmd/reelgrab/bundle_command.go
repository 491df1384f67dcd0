package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"reelgrab/internal/artifact"
	"reelgrab/internal/platform"
	"reelgrab/internal/services/worker"
	"reelgrab/internal/session"
)

func newBundleCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "bundle <url>",
		Short: "Save the media plus metadata archive for a URL",
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
			logger, err := ctx.newLogger(uuid.NewString(), true)
			if err != nil {
				return err
			}
			client, err := worker.NewFromConfig(cfg, logger)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.ErrOrStderr(), "Creating ZIP with metadata...")
			deliverer := artifact.NewDelivererFromConfig(cfg, client, logger)
			saved, err := deliverer.FetchMetadataBundle(cmd.Context(), rawURL, kind)
			if err != nil {
				return userError(err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, deliveredViews([]artifact.Delivered{saved}))
			}
			fmt.Fprintln(out, renderDelivered([]artifact.Delivered{saved}))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the saved archive as JSON")
	return cmd
}
