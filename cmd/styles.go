package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/devteam/internal/orchestration/events"
)

var (
	colorAccent  = lipgloss.AdaptiveColor{Light: "#2563EB", Dark: "#54A0FF"}
	colorSuccess = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#73F59F"}
	colorError   = lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#FF8787"}
	colorSubtle  = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#888888"}

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(colorSuccess)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorError)
	subtleStyle  = lipgloss.NewStyle().Foreground(colorSubtle)
	phaseStyle   = lipgloss.NewStyle().Width(15).Foreground(colorAccent)
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// progressBar renders percent as a fixed-width bar.
func progressBar(percent, width int) string {
	percent = max(0, min(percent, 100))
	filled := percent * width / 100
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

// formatProgress renders one progress event as a single line.
func formatProgress(e events.ProgressEvent) string {
	msg := e.Message
	switch e.Phase {
	case events.PhaseError:
		msg = errorStyle.Render(msg)
	case events.PhaseComplete:
		msg = successStyle.Render(msg)
	}
	line := fmt.Sprintf("%s %3d%% %s %s %s",
		progressBar(e.ProgressPercent, 20),
		e.ProgressPercent,
		phaseStyle.Render(string(e.Phase)),
		e.ParticipantIcon,
		msg,
	)
	if e.Thought != "" {
		line += "\n" + subtleStyle.Render("    "+e.Thought)
	}
	return line
}
