package styles

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Color modes accepted by ConfigureColor.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// ConfigureColor sets the global color profile. In auto mode color is
// used only when fd is a terminal and neither NO_COLOR nor TERM=dumb is
// set. It reports whether color is enabled.
func ConfigureColor(mode string, fd uintptr) (bool, error) {
	var enabled bool
	switch mode {
	case ColorAlways:
		enabled = true
	case ColorNever:
		enabled = false
	case ColorAuto, "":
		enabled = detectColor(fd)
	default:
		return false, fmt.Errorf("unknown color mode %q", mode)
	}

	if enabled {
		profile := termenv.ColorProfile()
		if profile == termenv.Ascii {
			profile = termenv.ANSI256
		}
		lipgloss.SetColorProfile(profile)
	} else {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	return enabled, nil
}

func detectColor(fd uintptr) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("TERM")), "dumb") {
		return false
	}
	return term.IsTerminal(int(fd))
}
