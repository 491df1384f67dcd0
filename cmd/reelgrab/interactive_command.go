package main

import (
	"context"
	"errors"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"reelgrab/internal/channel"
	"reelgrab/internal/job"
	"reelgrab/internal/preview"
	"reelgrab/internal/services"
)

func newInteractiveCommand(ctx *commandContext) *cobra.Command {
	var initialURL string

	cmd := &cobra.Command{
		Use:     "interactive",
		Aliases: []string{"tui"},
		Short:   "Open the interactive download session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !stdinIsTTY() {
				return errors.New("interactive requires a terminal (TTY)")
			}
			return runInteractive(cmd.Context(), ctx, strings.TrimSpace(initialURL))
		},
	}

	cmd.Flags().StringVar(&initialURL, "url", "", "Start with this URL in the input field")
	return cmd
}

func runInteractive(ctx context.Context, cmdCtx *commandContext, initialURL string) error {
	s, err := cmdCtx.openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	activity := make(chan struct{}, 1)
	poke := func() {
		select {
		case activity <- struct{}{}:
		default:
		}
	}
	s.OnPreview(func(preview.State) { poke() })
	s.Subscribe(job.ObserverFuncs{
		Job:        func(context.Context, job.Job, job.Status) { poke() },
		Connection: func(context.Context, channel.StateEvent) { poke() },
	})

	m := newInteractiveModel(ctx, s, activity)
	if initialURL != "" {
		m.input.SetValue(initialURL)
		s.SetURL(ctx, initialURL)
		m.refresh()
	}

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	finalModel, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return ctx.Err()
		}
		if strings.Contains(strings.ToLower(err.Error()), "tty") {
			return errors.New("interactive requires a terminal (TTY)")
		}
		return err
	}
	if fm, ok := finalModel.(interactiveModel); ok && fm.fatalErr != nil {
		return errors.New(services.UserMessage(fm.fatalErr))
	}
	return nil
}

func stdinIsTTY() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
