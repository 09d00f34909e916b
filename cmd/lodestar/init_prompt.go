package main

import (
	"github.com/charmbracelet/huh"

	"github.com/lodestar-dev/lodestar/internal/ui"
)

// promptProjectName asks interactively for a project name when init is
// run without --project-name on a TTY; falls back to "project" when
// stdout is not a terminal (scripted invocations, CI) or --json was
// requested, since a prompt would otherwise block a non-interactive
// caller forever.
func promptProjectName() string {
	if jsonOutput || !ui.IsTerminal() {
		return "project"
	}

	name := "project"
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Project name").
				Placeholder("project").
				Value(&name),
		),
	)
	if err := form.Run(); err != nil {
		return "project"
	}
	if name == "" {
		return "project"
	}
	return name
}
