package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

var statusKinds = map[statusKind]struct {
	label string
	style lipgloss.Style
}{
	statusInfo:  {"INFO", lipgloss.NewStyle().Foreground(lipgloss.Color("39"))},
	statusOK:    {"OK", lipgloss.NewStyle().Foreground(lipgloss.Color("42"))},
	statusWarn:  {"WARN", lipgloss.NewStyle().Foreground(lipgloss.Color("214"))},
	statusError: {"ERROR", lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)},
}

var sectionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)

// renderStatusLine prints "  Label:              [KIND] message".
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	k := statusKinds[kind]
	badge := "[" + k.label + "]"
	if message != "" {
		badge += " " + message
	}
	line := fmt.Sprintf("  %-20s %s", label+":", badge)
	if colorize {
		return k.style.Render(line)
	}
	return line
}

func renderSectionHeader(title string, colorize bool) []string {
	heading := "== " + strings.TrimSpace(title) + " =="
	lines := []string{heading, strings.Repeat("-", len(heading))}
	if colorize {
		for i := range lines {
			lines[i] = sectionStyle.Render(lines[i])
		}
	}
	return lines
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
