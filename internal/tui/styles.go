package tui

import "github.com/charmbracelet/lipgloss"

var (
	accentPrimary   = lipgloss.Color("#30BFA5")
	accentSecondary = lipgloss.Color("#EFB94D")
	mutedText       = lipgloss.Color("#7C8A99")
	warningText     = lipgloss.Color("#FF8A65")
	panelBorder     = lipgloss.Color("#287B8E")
)

var (
	headerStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Bold(true).
			Foreground(accentPrimary)

	statusStyle = lipgloss.NewStyle().
			Foreground(accentSecondary).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(warningText).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedText).
			Width(14)

	panelTitleStyle = lipgloss.NewStyle().
			Foreground(accentPrimary).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(panelBorder).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedText)
)
