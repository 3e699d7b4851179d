package tui

import "github.com/charmbracelet/lipgloss"

// Styles 终端界面的配色。
type Styles struct {
	Title       lipgloss.Style
	Subtle      lipgloss.Style
	User        lipgloss.Style
	UserLabel   lipgloss.Style
	AssistLabel lipgloss.Style
	Card        lipgloss.Style
	CardActive  lipgloss.Style
	CardTitle   lipgloss.Style
	Button      lipgloss.Style
	ButtonFocus lipgloss.Style
	Completed   lipgloss.Style
	Alert       lipgloss.Style
	Upgrade     lipgloss.Style
	Spinner     lipgloss.Style
	Cursor      lipgloss.Style
}

// DefaultStyles 返回默认配色（青绿色主调）。
func DefaultStyles() Styles {
	accent := lipgloss.Color("36")
	muted := lipgloss.Color("244")

	return Styles{
		Title:       lipgloss.NewStyle().Bold(true).Foreground(accent),
		Subtle:      lipgloss.NewStyle().Foreground(muted),
		User:        lipgloss.NewStyle().Foreground(lipgloss.Color("255")),
		UserLabel:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75")),
		AssistLabel: lipgloss.NewStyle().Bold(true).Foreground(accent),
		Card: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
		CardActive: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1),
		CardTitle:   lipgloss.NewStyle().Bold(true),
		Button:      lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
		ButtonFocus: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(accent).Padding(0, 1),
		Completed:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Alert:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		Upgrade:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		Spinner:     lipgloss.NewStyle().Foreground(accent),
		Cursor:      lipgloss.NewStyle().Foreground(accent).Bold(true),
	}
}
