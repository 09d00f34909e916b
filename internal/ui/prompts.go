package ui

import "github.com/charmbracelet/huh"

// Confirm asks a yes/no question via huh.Confirm, returning defaultYes
// unchanged if the user aborts (Ctrl-C) rather than erroring out.
// Callers must gate this on IsTerminal themselves; Confirm does not
// fall back to defaultYes on a non-interactive stdin.
func Confirm(question string, defaultYes bool) bool {
	answer := defaultYes
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(question).
				Affirmative("Yes").
				Negative("No").
				Value(&answer),
		),
	)
	if err := form.Run(); err != nil {
		return defaultYes
	}
	return answer
}
