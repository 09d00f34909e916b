package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Color palette shared by every renderer in this package. Kept as a
// small, adaptive set (works on light and dark terminals) rather than
// fixed hex values, matching the teacher's lipgloss color usage.
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "25", Dark: "39"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "130", Dark: "214"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "28", Dark: "42"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "243", Dark: "245"}
)

// Table styles built from the palette above, shared by every
// table.Table the CLI renders (task/agent/message/event listings).
var (
	TableHeaderStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent).
		Align(lipgloss.Center)

	TableWarningStyle = lipgloss.NewStyle().Foreground(ColorWarn)
	TableSuccessStyle = lipgloss.NewStyle().Foreground(ColorPass)
	TableHintStyle    = lipgloss.NewStyle().Foreground(ColorMuted)
	TableBorderStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
)

// NewSearchTable returns a table pre-styled with TableBorderStyle at
// the given width, used as the base for every rendered listing.
func NewSearchTable(width int) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width)
}
