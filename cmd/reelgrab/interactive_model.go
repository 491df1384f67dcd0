package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"reelgrab/internal/channel"
	"reelgrab/internal/job"
	"reelgrab/internal/preview"
	"reelgrab/internal/services"
	"reelgrab/internal/session"
	"reelgrab/internal/textutil"
)

type interactiveModel struct {
	ctx      context.Context
	session  *session.Session
	activity <-chan struct{}
	input    textinput.Model
	width    int

	preview    preview.State
	job        job.Job
	hasJob     bool
	connection channel.State
	transport  string
	action     session.Action

	statusMessage string
	statusErr     bool
	fatalErr      error
}

type activityMsg struct{}

type sessionEndedMsg struct {
	err error
}

type actionResultMsg struct {
	message string
	err     error
}

var (
	tuiTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	tuiMutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tuiErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	tuiOKStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	tuiPanelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	tuiSelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
	tuiButtonStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Padding(0, 2).Bold(true)
	tuiBlockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Background(lipgloss.Color("238")).Padding(0, 2)
)

func newInteractiveModel(ctx context.Context, s *session.Session, activity <-chan struct{}) interactiveModel {
	input := textinput.New()
	input.Placeholder = "Paste a YouTube, Instagram or Pinterest URL"
	input.Prompt = "> "
	input.CharLimit = 2048
	input.Width = 60
	input.Focus()

	m := interactiveModel{
		ctx:      ctx,
		session:  s,
		activity: activity,
		input:    input,
	}
	m.refresh()
	return m
}

func (m interactiveModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForActivity(m.activity), waitForSessionEnd(m.session))
}

func waitForActivity(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return activityMsg{}
	}
}

func waitForSessionEnd(s *session.Session) tea.Cmd {
	return func() tea.Msg {
		<-s.Done()
		return sessionEndedMsg{err: s.Err()}
	}
}

// refresh pulls the latest session state into the model.
func (m *interactiveModel) refresh() {
	m.preview = m.session.Preview()
	m.job, m.hasJob = m.session.Current()
	m.connection = m.session.Connection()
	m.transport = m.session.Transport()
	m.action = m.session.ActionState()
}

func (m interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(20, msg.Width-8)
		return m, nil
	case activityMsg:
		m.refresh()
		return m, waitForActivity(m.activity)
	case sessionEndedMsg:
		if msg.err != nil {
			m.fatalErr = msg.err
			return m, tea.Quit
		}
		return m, nil
	case actionResultMsg:
		m.refresh()
		if msg.err != nil {
			m.setStatus(services.UserMessage(msg.err), true)
		} else if msg.message != "" {
			m.setStatus(msg.message, false)
		}
		return m, nil
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch keyMsg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	case "enter":
		return m.startDownload(job.KindVideo)
	case "ctrl+a":
		return m.startDownload(job.KindAudio)
	case "tab":
		m.cycleQuality()
		return m, nil
	case "ctrl+x":
		if !m.hasJob || !m.job.Status.Active() {
			m.setStatus("No active download to cancel", true)
			return m, nil
		}
		return m, m.sessionCmd(func(ctx context.Context, s *session.Session) (string, error) {
			return job.MsgCancelling, s.Cancel(ctx)
		})
	case "ctrl+s":
		return m, m.sessionCmd(func(ctx context.Context, s *session.Session) (string, error) {
			saved, err := s.Save(ctx, true)
			if err != nil {
				return "", err
			}
			if len(saved) == 0 {
				return "Nothing saved", nil
			}
			return fmt.Sprintf("Saved %s to %s", pluralize(len(saved), "file"), filepath.Dir(saved[0].Path)), nil
		})
	case "ctrl+b":
		if m.session.Bundling() {
			m.setStatus("A ZIP is already being created", true)
			return m, nil
		}
		m.setStatus("Creating ZIP with metadata...", false)
		return m, m.sessionCmd(func(ctx context.Context, s *session.Session) (string, error) {
			saved, err := s.Bundle(ctx)
			if err != nil {
				return "", err
			}
			return "Saved " + saved.Path, nil
		})
	case "ctrl+r":
		m.session.Reset(m.ctx)
		m.input.SetValue("")
		m.setStatus("", false)
		m.refresh()
		return m, nil
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if value := m.input.Value(); value != before {
		m.session.SetURL(m.ctx, value)
		m.setStatus("", false)
		m.refresh()
		// A paste is a complete URL; skip the typing debounce.
		if keyMsg.Paste && strings.TrimSpace(value) != "" {
			return m, tea.Batch(cmd, m.fetchPreview())
		}
	}
	return m, cmd
}

// fetchPreview looks the current URL up now instead of waiting out the debounce.
func (m interactiveModel) fetchPreview() tea.Cmd {
	return m.sessionCmd(func(ctx context.Context, s *session.Session) (string, error) {
		if _, err := s.FetchPreview(ctx); err != nil && !errors.Is(err, preview.ErrSuperseded) {
			return "", err
		}
		return "", nil
	})
}

func (m interactiveModel) startDownload(kind job.Kind) (tea.Model, tea.Cmd) {
	m.refresh()
	if m.action == session.ActionLoading && !m.preview.Loading {
		return m, m.fetchPreview()
	}
	if m.action != session.ActionReady {
		if strings.TrimSpace(m.input.Value()) == "" {
			m.setStatus(job.MsgEnterURL, true)
		} else {
			m.setStatus(m.action.Label(), true)
		}
		return m, nil
	}
	if kind == job.KindAudio && !session.AudioAvailable(m.preview) {
		m.setStatus(session.MsgAudioUnavailable, true)
		return m, nil
	}
	return m, m.sessionCmd(func(ctx context.Context, s *session.Session) (string, error) {
		j, err := s.Download(ctx, kind)
		if err != nil {
			return "", err
		}
		if j.Status == job.StatusCompleted {
			return j.Message + " (ctrl+s to save)", nil
		}
		return j.Message, nil
	})
}

func (m *interactiveModel) cycleQuality() {
	ladder := preview.SortLadder(m.preview.Ladder())
	if len(ladder) == 0 {
		return
	}
	next := ladder[0]
	if idx := slices.Index(ladder, m.preview.Quality); idx >= 0 {
		next = ladder[(idx+1)%len(ladder)]
	}
	if err := m.session.SelectQuality(next); err != nil {
		m.setStatus(services.UserMessage(err), true)
		return
	}
	m.refresh()
}

func (m interactiveModel) sessionCmd(fn func(context.Context, *session.Session) (string, error)) tea.Cmd {
	ctx, s := m.ctx, m.session
	return func() tea.Msg {
		message, err := fn(ctx, s)
		return actionResultMsg{message: message, err: err}
	}
}

func (m *interactiveModel) setStatus(message string, isErr bool) {
	m.statusMessage = message
	m.statusErr = isErr
}

func (m interactiveModel) View() string {
	var b strings.Builder
	b.WriteString(tuiTitleStyle.Render("ReelGrab"))
	b.WriteString("  ")
	b.WriteString(m.connectionBadge())
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(m.actionLine())
	b.WriteString("\n")

	panelStyle := tuiPanelStyle
	if m.width > 20 {
		panelStyle = panelStyle.Width(m.width - 4)
	}
	if panel := m.previewPanel(); panel != "" {
		b.WriteString(panelStyle.Render(panel))
		b.WriteString("\n")
	}
	if panel := m.jobPanel(); panel != "" {
		b.WriteString(panelStyle.Render(panel))
		b.WriteString("\n")
	}
	if m.statusMessage != "" {
		if m.statusErr {
			b.WriteString(tuiErrorStyle.Render(m.statusMessage))
		} else {
			b.WriteString(tuiOKStyle.Render(m.statusMessage))
		}
		b.WriteString("\n")
	}
	b.WriteString(tuiMutedStyle.Render("enter download • ctrl+a audio • tab quality • ctrl+x cancel • ctrl+s save • ctrl+b zip+metadata • ctrl+r reset • esc quit"))
	return b.String()
}

func (m interactiveModel) connectionBadge() string {
	label := m.connection.String()
	if m.connection == channel.Connected && m.transport != "" {
		label += " (" + m.transport + ")"
	}
	switch m.connection {
	case channel.Connected:
		return tuiOKStyle.Render("● " + label)
	case channel.Disconnected:
		return tuiErrorStyle.Render("● " + label)
	default:
		return tuiMutedStyle.Render("● " + label)
	}
}

func (m interactiveModel) actionLine() string {
	button := tuiBlockedStyle.Render(m.action.Label())
	if m.action == session.ActionReady {
		button = tuiButtonStyle.Render(m.action.Label())
	}
	ladder := preview.SortLadder(m.preview.Ladder())
	if len(ladder) == 0 {
		return button
	}
	parts := make([]string, 0, len(ladder))
	for _, q := range ladder {
		if q == m.preview.Quality {
			parts = append(parts, tuiSelStyle.Render(" "+q+" "))
		} else {
			parts = append(parts, tuiMutedStyle.Render(" "+q+" "))
		}
	}
	return button + "  " + strings.Join(parts, "")
}

func (m interactiveModel) previewPanel() string {
	st := m.preview
	switch {
	case st.Loading:
		return tuiMutedStyle.Render("Loading preview...")
	case st.Error != "":
		return tuiErrorStyle.Render(st.Error)
	case st.Preview == nil:
		return ""
	}
	pv := st.Preview
	lines := []string{tuiTitleStyle.Render(textutil.Truncate(firstNonEmpty(pv.Title, st.Platform.Label()), 70))}
	meta := make([]string, 0, 3)
	if pv.Author != "" {
		meta = append(meta, pv.Author)
	}
	if pv.Duration > 0 {
		meta = append(meta, preview.FormatDuration(int(pv.Duration)))
	}
	if len(pv.Media) > 0 {
		meta = append(meta, describeMedia(pv.Media))
	}
	if len(meta) > 0 {
		lines = append(lines, tuiMutedStyle.Render(strings.Join(meta, " • ")))
	}
	if pv.UXTip != "" {
		lines = append(lines, tuiMutedStyle.Render("Tip: "+pv.UXTip))
	}
	return strings.Join(lines, "\n")
}

func (m interactiveModel) jobPanel() string {
	if !m.hasJob {
		return ""
	}
	j := m.job
	lines := []string{fmt.Sprintf("%s  %s", progressBar(j.Progress, 30), strings.ToUpper(string(j.Status)))}
	if j.Status == job.StatusDownloading {
		lines = append(lines, tuiMutedStyle.Render(fmt.Sprintf("%s • ETA %s", preview.FormatSpeed(j.SpeedBytesPerSec), preview.FormatETA(j.ETASeconds))))
	}
	switch {
	case j.Failure != nil:
		lines = append(lines, tuiErrorStyle.Render(j.Failure.Message))
	case j.CancelUnconfirmed:
		lines = append(lines, tuiErrorStyle.Render("Cancel not confirmed by worker"))
	case j.Message != "":
		lines = append(lines, j.Message)
	}
	if j.Status == job.StatusCompleted {
		lines = append(lines, tuiOKStyle.Render(fmt.Sprintf("%s ready • ctrl+s to save", pluralize(j.Artifacts.Count(), "file"))))
	}
	return strings.Join(lines, "\n")
}

func progressBar(percent float64, width int) string {
	filled := int(percent / 100 * float64(width))
	filled = min(max(filled, 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + fmt.Sprintf(" %3.0f%%", percent)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
