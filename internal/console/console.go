// Package console answers terminal questions for the command-line tools.
package console

import (
	"os"
	"strings"
)

// Color modes accepted by ColorEnabled.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// IsTerminal reports whether f refers to an interactive terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isTerminal(f)
}

// ColorEnabled resolves a color mode against the output file.
// In auto mode colour requires a terminal, an unset NO_COLOR and a TERM
// other than "dumb".
func ColorEnabled(mode string, out *os.File) bool {
	switch strings.ToLower(mode) {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return IsTerminal(out)
}
