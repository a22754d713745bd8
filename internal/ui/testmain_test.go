package ui

import (
	"os"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// TestMain points TABDECK_HOME at a scratch directory so no test reads or
// writes the real ~/.tabdeck, and renders without color so assertions can
// match plain text.
func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "tabdeck-ui-test")
	if err != nil {
		panic(err)
	}
	os.Setenv("TABDECK_HOME", dir)
	lipgloss.SetColorProfile(termenv.Ascii)

	code := m.Run()

	os.RemoveAll(dir)
	os.Exit(code)
}
