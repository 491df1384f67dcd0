package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"reelgrab/internal/config"
)

const maskedSecret = "********"

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, inspect, and check the configuration file",
	}
	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigShowCommand(ctx),
		newConfigValidateCommand(ctx),
	)
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		targetPath string
		overwrite  bool
	)

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the sample configuration",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				switch _, err := os.Stat(target); {
				case err == nil:
					return fmt.Errorf("%s already exists; pass --overwrite to replace it", target)
				case !errors.Is(err, fs.ErrNotExist):
					return fmt.Errorf("inspect %s: %w", target, err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("write sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set worker.base_url (or export REELGRAB_WORKER_URL) to point at your worker.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Where to write the file (default: user config dir)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func initTarget(raw string) (string, error) {
	if raw = strings.TrimSpace(raw); raw == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("default config path: %w", err)
		}
		return path, nil
	}
	path, err := config.ExpandPath(raw)
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", raw, err)
	}
	return path, nil
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML (token masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			redacted := *cfg
			if redacted.Worker.APIToken != "" {
				redacted.Worker.APIToken = maskedSecret
			}
			data, err := toml.Marshal(redacted)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n%s", configSummary(ctx), data)
			return nil
		},
	}
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderFields("Configuration valid", [][2]string{
				{"File", ctx.configPath},
				{"Defaults only", yesNo(!ctx.configExists)},
				{"Worker", cfg.Worker.BaseURL},
				{"Downloads", cfg.Paths.DownloadDir},
				{"History", cfg.HistoryPath()},
			}))
			return nil
		},
	}
}
