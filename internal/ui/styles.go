package ui

import (
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/tabdeck/tabdeck/internal/logging"
)

var uiLog = logging.ForComponent(logging.CompUI)

// Theme represents the current color scheme
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

var currentTheme = ThemeDark

type palette struct {
	Bg, Surface, Border, Text, TextDim lipgloss.Color
	Accent, Purple, Green, Yellow, Red lipgloss.Color
}

// Tokyo Night
var darkColors = palette{
	Bg:      lipgloss.Color("#1a1b26"),
	Surface: lipgloss.Color("#24283b"),
	Border:  lipgloss.Color("#414868"),
	Text:    lipgloss.Color("#c0caf5"),
	TextDim: lipgloss.Color("#787fa0"),
	Accent:  lipgloss.Color("#7aa2f7"),
	Purple:  lipgloss.Color("#bb9af7"),
	Green:   lipgloss.Color("#9ece6a"),
	Yellow:  lipgloss.Color("#e0af68"),
	Red:     lipgloss.Color("#f7768e"),
}

// Tokyo Night Light
var lightColors = palette{
	Bg:      lipgloss.Color("#d5d6db"),
	Surface: lipgloss.Color("#e9e9ec"),
	Border:  lipgloss.Color("#9699a3"),
	Text:    lipgloss.Color("#343b58"),
	TextDim: lipgloss.Color("#6a6d7c"),
	Accent:  lipgloss.Color("#34548a"),
	Purple:  lipgloss.Color("#7847bd"),
	Green:   lipgloss.Color("#485e30"),
	Yellow:  lipgloss.Color("#8f5e15"),
	Red:     lipgloss.Color("#8c4351"),
}

// Active colors (set by InitTheme)
var (
	ColorBg      lipgloss.Color
	ColorSurface lipgloss.Color
	ColorBorder  lipgloss.Color
	ColorText    lipgloss.Color
	ColorTextDim lipgloss.Color
	ColorAccent  lipgloss.Color
	ColorPurple  lipgloss.Color
	ColorGreen   lipgloss.Color
	ColorYellow  lipgloss.Color
	ColorRed     lipgloss.Color
)

// themeMu protects the color and style globals during live theme switches.
var themeMu sync.RWMutex

// InitTheme sets the active palette. Anything but "light" is dark.
func InitTheme(theme string) {
	themeMu.Lock()
	defer themeMu.Unlock()
	p := darkColors
	currentTheme = ThemeDark
	if theme == string(ThemeLight) {
		p = lightColors
		currentTheme = ThemeLight
	}
	ColorBg = p.Bg
	ColorSurface = p.Surface
	ColorBorder = p.Border
	ColorText = p.Text
	ColorTextDim = p.TextDim
	ColorAccent = p.Accent
	ColorPurple = p.Purple
	ColorGreen = p.Green
	ColorYellow = p.Yellow
	ColorRed = p.Red
	initStyles()
}

// GetCurrentTheme returns the active theme
func GetCurrentTheme() Theme {
	themeMu.RLock()
	defer themeMu.RUnlock()
	return currentTheme
}

func init() {
	InitTheme(string(ThemeDark))
}

// Panel styles
var (
	ToolbarStyle      lipgloss.Style
	ToolbarTitleStyle lipgloss.Style
	ToolbarDimStyle   lipgloss.Style

	GroupBoxStyle       lipgloss.Style
	GroupBoxActiveStyle lipgloss.Style
	GroupTitleStyle     lipgloss.Style
	GroupCountStyle     lipgloss.Style
	UngroupedTitleStyle lipgloss.Style

	TabStyle          lipgloss.Style
	TabActiveStyle    lipgloss.Style
	TabDiscardedStyle lipgloss.Style
	TabMatchStyle     lipgloss.Style
	PinnedStyle       lipgloss.Style
	ThumbLiveStyle    lipgloss.Style
	ThumbStaleStyle   lipgloss.Style

	SearchBoxStyle    lipgloss.Style
	SearchPromptStyle lipgloss.Style
	ErrorStyle        lipgloss.Style
	DimStyle          lipgloss.Style

	DialogBoxStyle      lipgloss.Style
	DialogTitleStyle    lipgloss.Style
	DialogItemStyle     lipgloss.Style
	DialogSelectedStyle lipgloss.Style
)

func initStyles() {
	ToolbarStyle = lipgloss.NewStyle().
		Foreground(ColorText).
		Background(ColorSurface).
		Padding(0, 1)
	ToolbarTitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent).
		Background(ColorSurface)
	ToolbarDimStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim).
		Background(ColorSurface)

	GroupBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1)
	GroupBoxActiveStyle = GroupBoxStyle.
		BorderForeground(ColorAccent)
	GroupTitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPurple)
	GroupCountStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim)
	UngroupedTitleStyle = lipgloss.NewStyle().
		Italic(true).
		Foreground(ColorTextDim)

	TabStyle = lipgloss.NewStyle().
		Foreground(ColorText)
	TabActiveStyle = lipgloss.NewStyle().
		Foreground(ColorBg).
		Background(ColorAccent).
		Bold(true)
	TabDiscardedStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim).
		Italic(true)
	TabMatchStyle = lipgloss.NewStyle().
		Foreground(ColorYellow).
		Underline(true)
	PinnedStyle = lipgloss.NewStyle().
		Foreground(ColorYellow)
	ThumbLiveStyle = lipgloss.NewStyle().
		Foreground(ColorGreen)
	ThumbStaleStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim)

	SearchBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Padding(0, 1)
	SearchPromptStyle = lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true)
	ErrorStyle = lipgloss.NewStyle().
		Foreground(ColorRed).
		Bold(true)
	DimStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim)

	DialogBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Background(ColorSurface).
		Padding(1, 2)
	DialogTitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent).
		Align(lipgloss.Center)
	DialogItemStyle = lipgloss.NewStyle().
		Foreground(ColorText).
		Padding(0, 1)
	DialogSelectedStyle = lipgloss.NewStyle().
		Foreground(ColorBg).
		Background(ColorAccent).
		Bold(true).
		Padding(0, 1)
}
