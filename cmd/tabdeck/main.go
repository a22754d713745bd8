package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const Version = "0.3.0"

// init sets up color profile for consistent terminal colors across environments
func init() {
	initColorProfile()
}

// initColorProfile picks the lipgloss color profile. TABDECK_COLOR
// overrides detection: truecolor, 256, 16, none.
func initColorProfile() {
	if colorEnv := os.Getenv("TABDECK_COLOR"); colorEnv != "" {
		if p, ok := parseColorProfile(colorEnv); ok {
			lipgloss.SetColorProfile(p)
			return
		}
	}

	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	term := os.Getenv("TERM")
	for _, t := range []string{"256color", "xterm-direct", "alacritty", "kitty", "wezterm"} {
		if strings.Contains(term, t) {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}

	if os.Getenv("WT_SESSION") != "" ||
		os.Getenv("ITERM_SESSION_ID") != "" ||
		os.Getenv("KONSOLE_VERSION") != "" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	// Works in SSH and basic terminals.
	lipgloss.SetColorProfile(termenv.ANSI256)
}

func parseColorProfile(s string) (termenv.Profile, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "truecolor", "true", "24bit":
		return termenv.TrueColor, true
	case "256", "ansi256":
		return termenv.ANSI256, true
	case "16", "ansi", "basic":
		return termenv.ANSI, true
	case "none", "off", "ascii":
		return termenv.Ascii, true
	}
	return termenv.Ascii, false
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"panel"}
	}

	var err error
	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("tabdeck v%s\n", Version)
		return
	case "help", "--help", "-h":
		printHelp()
		return
	case "serve":
		err = handleDaemon("serve", args[1:], false)
	case "panel":
		err = handleDaemon("panel", args[1:], true)
	case "config":
		err = handleConfig(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
		printHelp()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("tabdeck v%s - grouped tab panel for the browser\n", Version)
	fmt.Println()
	fmt.Println("Usage: tabdeck <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  panel             Run the bridge and the terminal panel (default)")
	fmt.Println("  serve             Run the bridge without a panel")
	fmt.Println("  config [show]     Print the resolved configuration")
	fmt.Println("  config init       Write an example config.toml")
	fmt.Println("  version           Show version")
	fmt.Println("  help              Show this help")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  TABDECK_HOME      Config and state directory (default ~/.tabdeck)")
	fmt.Println("  TABDECK_COLOR     Color profile: truecolor, 256, 16, none")
	fmt.Println("  TABDECK_DEBUG     Log at debug level")
}
