package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"reelgrab/internal/history"
	"reelgrab/internal/textutil"
)

type historyView struct {
	JobID     string    `json:"job_id,omitempty"`
	URL       string    `json:"url"`
	Platform  string    `json:"platform"`
	Kind      string    `json:"kind"`
	Quality   string    `json:"quality,omitempty"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Files     int       `json:"files"`
	Submitted time.Time `json:"submitted_at"`
	Updated   time.Time `json:"updated_at"`
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently submitted jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				views := make([]historyView, 0, len(entries))
				for _, e := range entries {
					views = append(views, historyView{
						JobID:     e.JobID,
						URL:       e.SourceURL,
						Platform:  e.Platform,
						Kind:      e.Kind,
						Quality:   e.Quality,
						Status:    e.Status,
						Message:   e.Message,
						Error:     e.ErrorMessage,
						Files:     e.ArtifactCount,
						Submitted: e.SubmittedAt,
						Updated:   e.UpdatedAt,
					})
				}
				return writeJSON(out, views)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No downloads recorded yet")
				return nil
			}
			fmt.Fprintln(out, renderHistory(entries))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output entries as JSON")
	cmd.AddCommand(newHistoryClearCommand(ctx))
	return cmd
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every history entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			removed, err := store.Clear(cmd.Context())
			if err != nil {
				return fmt.Errorf("clear history: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d history %s\n", removed, pluralWord(removed, "entry", "entries"))
			return nil
		},
	}
}

func renderHistory(entries []history.Entry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		status := e.Status
		if e.ErrorMessage != "" {
			status += ": " + textutil.Truncate(e.ErrorMessage, 40)
		}
		rows = append(rows, []string{
			humanize.Time(e.UpdatedAt),
			e.Platform,
			e.Kind,
			e.Quality,
			status,
			strconv.Itoa(e.ArtifactCount),
			textutil.Truncate(e.SourceURL, 60),
		})
	}
	return renderTable(tableSpec{
		Headers: []string{"Updated", "Platform", "Kind", "Quality", "Status", "Files", "URL"},
		Rows:    rows,
		Aligns:  map[int]text.Align{5: text.AlignRight},
	})
}

func pluralWord(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
