// Package ui provides the decorative terminal rendering the CLI adapter
// layers on top of the engine's envelopes: TTY/color detection, tables,
// trees, and init/search report formatting (spec.md §6.4, SPEC_FULL.md §7.1).
// Every renderer here is bypassed entirely by --json.
package ui

import (
	"os"

	"github.com/lodestar-dev/lodestar/internal/config"
	"golang.org/x/term"
)

// IsTerminal returns true if stdout is connected to a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor determines if ANSI color codes should be used.
// Respects standard conventions:
//   - NO_COLOR: https://no-color.org/ - disables color if set
//   - LODESTAR_NO_COLOR - disables color if set (spec.md §6.5)
//   - CLICOLOR=0: disables color
//   - CLICOLOR_FORCE: forces color even in non-TTY
//   - Falls back to TTY detection
func ShouldUseColor() bool {
	if config.NoColor() {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	return IsTerminal()
}

// GetWidth returns the width of the terminal or a default value.
func GetWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
