package ui

import "github.com/charmbracelet/lipgloss"

var (
	accent = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}
	muted  = lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6C6C6C"}
	danger = lipgloss.AdaptiveColor{Light: "#D7263D", Dark: "#FF5F6D"}

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(accent).
			Padding(0, 1)

	userLabelStyle      = lipgloss.NewStyle().Bold(true).Foreground(accent)
	assistantLabelStyle = lipgloss.NewStyle().Bold(true)
	partialStyle        = lipgloss.NewStyle().Foreground(muted).Italic(true)
	mutedStyle          = lipgloss.NewStyle().Foreground(muted)
	errorStyle          = lipgloss.NewStyle().Foreground(danger)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	barStyle        = lipgloss.NewStyle().Foreground(accent)
)
