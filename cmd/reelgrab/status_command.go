package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reelgrab/internal/notifications"
	"reelgrab/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var testNotification bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check directories, worker health, and notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.workerClient()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := isTerminal(out)
			lines := renderSectionHeader("ReelGrab Status", colorize)
			lines = append(lines,
				renderStatusLine("Config", statusInfo, configSummary(ctx), colorize),
				renderStatusLine("Worker URL", statusInfo, cfg.Worker.BaseURL, colorize),
				renderStatusLine("Transports", statusInfo, strings.Join(cfg.Channel.Transports, " -> "), colorize),
			)

			results := preflight.RunAll(cmd.Context(), cfg, client)
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}

			if testNotification {
				lines = append(lines, sendTestNotification(cmd.Context(), ctx, colorize))
			}
			fmt.Fprintln(out, strings.Join(lines, "\n"))

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d status check(s) failed", len(failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&testNotification, "test-notification", false, "Send a test notification to the configured ntfy topic")
	return cmd
}

func configSummary(ctx *commandContext) string {
	if !ctx.configExists {
		return "defaults (no config file at " + ctx.configPath + ")"
	}
	return ctx.configPath
}

func sendTestNotification(ctx context.Context, cmdCtx *commandContext, colorize bool) string {
	cfg, _ := cmdCtx.ensureConfig()
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return renderStatusLine("Test notification", statusWarn, "not sent (notifications.ntfy_topic is empty)", colorize)
	}
	svc := notifications.NewService(cfg)
	if err := svc.Publish(ctx, notifications.EventTest, nil); err != nil {
		return renderStatusLine("Test notification", statusError, err.Error(), colorize)
	}
	return renderStatusLine("Test notification", statusOK, "sent", colorize)
}
