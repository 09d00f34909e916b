package ui

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/lodestar-dev/lodestar/internal/types"
)

// TaskGraphView is the rendering-facing shape of task.graph's payload:
// a topological order plus the reverse-dependency index, alongside the
// live tasks so labels can show status.
type TaskGraphView struct {
	TopoOrder  []string
	Dependents map[string][]string
	Tasks      map[string]*types.Task
}

// BuildDependentsTree renders the dependents index as a forest rooted
// at every task that depends on no other task, walking from each root
// down through what depends on it.
func BuildDependentsTree(view TaskGraphView) *tree.Tree {
	hasDependent := make(map[string]bool, len(view.Dependents))
	for _, deps := range view.Dependents {
		for _, d := range deps {
			hasDependent[d] = true
		}
	}

	var roots []string
	for _, id := range view.TopoOrder {
		if !hasDependent[id] {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)

	if len(roots) == 0 {
		return nil
	}

	root := tree.New().Root("tasks")
	root.EnumeratorStyle(lipgloss.NewStyle().Foreground(ColorMuted))
	for _, r := range roots {
		root.Child(buildSubtree(r, view, map[string]bool{}))
	}
	return root
}

func buildSubtree(id string, view TaskGraphView, seen map[string]bool) *tree.Tree {
	t := tree.New().Root(taskLabel(id, view.Tasks[id]))
	if seen[id] {
		return t // cycles are rejected by the spec store; guard anyway
	}
	seen[id] = true

	dependents := append([]string(nil), view.Dependents[id]...)
	sort.Strings(dependents)
	for _, dep := range dependents {
		t.Child(buildSubtree(dep, view, seen))
	}
	return t
}

func taskLabel(id string, task *types.Task) string {
	if task == nil {
		return id
	}
	style := lipgloss.NewStyle().Foreground(ColorAccent)
	switch task.Status {
	case types.StatusVerified:
		style = lipgloss.NewStyle().Foreground(ColorPass)
	case types.StatusDeleted:
		style = lipgloss.NewStyle().Foreground(ColorMuted)
	}
	return style.Render(fmt.Sprintf("%s (%s)", id, task.Status))
}

// RenderTaskGraph renders the full task dependency forest, or a hint
// if the spec has no tasks.
func RenderTaskGraph(view TaskGraphView) string {
	t := BuildDependentsTree(view)
	if t == nil {
		return TableHintStyle.Render("No tasks found.")
	}
	return t.String()
}
