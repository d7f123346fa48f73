package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#A78BFA") // Light purple
	colorSuccess   = lipgloss.Color("#10B981") // Green (ready)
	colorDanger    = lipgloss.Color("#EF4444") // Red (errors)
	colorMuted     = lipgloss.Color("#6B7280") // Gray
	colorWarning   = lipgloss.Color("#F59E0B") // Amber
)

// Shared styles used across TUI views.
var (
	// Toast title: the host or target name.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	// Muted text (descriptions, secondary info).
	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	// Ready / success indicator.
	installedStyle = lipgloss.NewStyle().
			Foreground(colorSuccess)

	// Error text.
	errorStyle = lipgloss.NewStyle().
			Foreground(colorDanger)

	// Warning / banner text.
	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	// Spinner style.
	spinnerStyle = lipgloss.NewStyle().
			Foreground(colorSecondary)
)
