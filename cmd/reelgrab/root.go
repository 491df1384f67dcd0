package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var workerFlag string
	var verbose bool

	ctx := newCommandContext(&configFlag, &workerFlag, &verbose)

	rootCmd := &cobra.Command{
		Use:           "reelgrab",
		Short:         "Download YouTube, Instagram and Pinterest media through a ReelGrab worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&workerFlag, "worker", "", "Worker base URL (overrides worker.base_url)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Write logs to stderr as well as the log file")

	rootCmd.AddCommand(newPreviewCommand(ctx))
	rootCmd.AddCommand(newDownloadCommand(ctx))
	rootCmd.AddCommand(newBundleCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newInteractiveCommand(ctx))

	return rootCmd
}
