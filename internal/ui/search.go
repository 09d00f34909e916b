package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	searchBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1).
			Margin(1, 0)

	searchTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorAccent)

	searchContextStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), true, false, false, false).
				BorderForeground(ColorMuted).
				Padding(0, 0).
				MarginTop(0)
)

// SearchViewModel holds the data needed to render message.search's
// query context box (spec.md §4.J: keyword/from/since/until predicates).
type SearchViewModel struct {
	Query        string
	FromAgentID  string
	Suggestions  []string
	ResultsCount int
	NoResults    bool
}

// RenderSearchBox renders the search context box shown above the
// results table.
func RenderSearchBox(vm SearchViewModel) string {
	var sections []string

	header := fmt.Sprintf("Search: %q", vm.Query)
	if vm.FromAgentID != "" {
		header = fmt.Sprintf("Search: %q from %s", vm.Query, vm.FromAgentID)
	}
	sections = append(sections, searchTitleStyle.Render(header))

	var contextLines []string

	switch {
	case vm.NoResults && len(vm.Suggestions) > 0:
		contextLines = append(contextLines, "No messages found.")
		contextLines = append(contextLines, "Try broadening the search:")
		for _, s := range vm.Suggestions {
			contextLines = append(contextLines, fmt.Sprintf("  • %s", s))
		}
	case vm.NoResults:
		contextLines = append(contextLines, "No messages found.")
	case vm.ResultsCount > 0:
		contextLines = append(contextLines, fmt.Sprintf("Found %d message(s):", vm.ResultsCount))
	}

	if len(contextLines) > 0 {
		contextBlock := strings.Join(contextLines, "\n")
		sections = append(sections, searchContextStyle.Render(contextBlock))
	}

	return searchBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}
