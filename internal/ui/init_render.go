package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/list"
	"github.com/charmbracelet/lipgloss/table"
)

// InitResult summarizes what `lodestar init` created: the spec plane
// (project name, default branch, spec.yaml path) and the runtime plane
// (the SQLite database path), per spec.md §4.C.
type InitResult struct {
	Root          string
	ProjectName   string
	DefaultBranch string
	SpecPath      string
	RuntimePath   string
}

// RenderInitReport renders a short success report for the init command.
func RenderInitReport(res InitResult, width int) string {
	var sections []string

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPass).
		Render("✓ Repository initialized")
	sections = append(sections, header, "")

	rows := [][]string{
		{"Root", res.Root},
		{"Project", res.ProjectName},
		{"Default branch", res.DefaultBranch},
		{"Spec file", res.SpecPath},
		{"Runtime database", res.RuntimePath},
	}

	summaryTable := table.New().
		Headers("Field", "Value").
		Rows(rows...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorMuted)).
		Width(width).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				if col == 0 {
					return TableHeaderStyle.Width(20)
				}
				return TableHeaderStyle.Width(width - 20 - 3)
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if col == 0 {
				style = style.Bold(true).Foreground(ColorAccent)
			}
			return style
		})
	sections = append(sections, summaryTable.String(), "")

	steps := list.New().
		Enumerator(func(_ list.Items, i int) string { return TableSuccessStyle.Render("✓") }).
		EnumeratorStyle(lipgloss.NewStyle().MarginRight(1))
	steps.Item("Spec plane ready — agents can register tasks in " + res.SpecPath)
	steps.Item("Runtime plane ready — agents can join, claim, and message through " + res.RuntimePath)
	sections = append(sections, steps.String(), "")

	nextStep := lipgloss.NewStyle().Foreground(ColorAccent).Bold(true).Render("lodestar agent-join")
	sections = append(sections, fmt.Sprintf("Next: run %s to register the first agent.", nextStep))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
