package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// SearchResultItem is one row of a message.search result set.
type SearchResultItem struct {
	MessageID   int64
	FromAgentID string
	Subject     string
	BodyPreview string
}

// RenderResults renders the message.search result table.
func RenderResults(query string, results []SearchResultItem, width int) string {
	rows := [][]string{
		{fmt.Sprintf("Found %d message(s):", len(results)), ""},
	}

	maxPreviewWidth := width - 24
	if maxPreviewWidth < 10 {
		maxPreviewWidth = 10
	}

	for _, r := range results {
		preview := r.BodyPreview
		if len(preview) > maxPreviewWidth {
			preview = preview[:maxPreviewWidth-3] + "..."
		}
		idCol := fmt.Sprintf("#%d from %s", r.MessageID, r.FromAgentID)
		rows = append(rows, []string{idCol, preview})
	}

	return NewSearchTable(width).
		Headers("Message", fmt.Sprintf("%q", query)).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row == 0:
				return TableHintStyle
			default:
				return lipgloss.NewStyle().Padding(0, 1)
			}
		}).
		String()
}

// RenderNoResults renders the no-results table with broadening suggestions.
func RenderNoResults(query string, suggestions []string, width int) string {
	rows := [][]string{
		{"No messages found.", ""},
	}
	if len(suggestions) > 0 {
		rows = append(rows, []string{"Try these:", ""})
		for _, s := range suggestions {
			rows = append(rows, []string{"  •", s})
		}
	}

	return NewSearchTable(width).
		Headers("Message", fmt.Sprintf("%q", query)).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row == 0:
				return TableWarningStyle
			default:
				return TableHintStyle
			}
		}).
		String()
}
