package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tabdeck/tabdeck/internal/groups"
	"github.com/tabdeck/tabdeck/internal/tabs"
)

// MaxGroupNameLength bounds names typed into the create dialog.
const MaxGroupNameLength = 50

// GroupDialogMode represents the dialog mode
type GroupDialogMode int

const (
	GroupDialogCreate GroupDialogMode = iota
	GroupDialogMove
)

// GroupDialog names a new group or picks the group to move a tab into.
type GroupDialog struct {
	visible       bool
	mode          GroupDialogMode
	nameInput     textinput.Model
	width         int
	height        int
	targets       []groups.Group
	selected      int
	tab           tabs.TabID
	validationErr string
}

// NewGroupDialog creates a hidden dialog.
func NewGroupDialog() *GroupDialog {
	ti := textinput.New()
	ti.Placeholder = groups.DefaultGroupName
	ti.CharLimit = MaxGroupNameLength
	ti.Width = 30
	return &GroupDialog{nameInput: ti, tab: tabs.NoTab}
}

// ShowCreate opens the dialog in create mode.
func (g *GroupDialog) ShowCreate() {
	g.visible = true
	g.mode = GroupDialogCreate
	g.validationErr = ""
	g.nameInput.SetValue("")
	g.nameInput.Focus()
}

// ShowMove opens the group picker for tab, preselecting its current group.
func (g *GroupDialog) ShowMove(tab tabs.TabID, targets []groups.Group, current tabs.GroupID) {
	g.visible = true
	g.mode = GroupDialogMove
	g.validationErr = ""
	g.tab = tab
	g.targets = targets
	g.selected = 0
	for i, t := range targets {
		if t.ID == current {
			g.selected = i
		}
	}
}

// Hide closes the dialog.
func (g *GroupDialog) Hide() {
	g.visible = false
	g.nameInput.Blur()
}

// IsVisible reports whether the dialog is open.
func (g *GroupDialog) IsVisible() bool { return g.visible }

// Mode returns the current mode.
func (g *GroupDialog) Mode() GroupDialogMode { return g.mode }

// GetValue returns the trimmed name. Empty means the default name.
func (g *GroupDialog) GetValue() string {
	return strings.TrimSpace(g.nameInput.Value())
}

// Tab returns the tab being moved.
func (g *GroupDialog) Tab() tabs.TabID { return g.tab }

// Selected returns the picked group for move mode.
func (g *GroupDialog) Selected() (groups.Group, bool) {
	if g.selected >= 0 && g.selected < len(g.targets) {
		return g.targets[g.selected], true
	}
	return groups.Group{}, false
}

// Validate returns an error message, or "" when the input is usable.
func (g *GroupDialog) Validate() string {
	if g.mode == GroupDialogMove {
		if len(g.targets) == 0 {
			return "No groups to move to"
		}
		return ""
	}
	if n := len([]rune(g.GetValue())); n > MaxGroupNameLength {
		return fmt.Sprintf("Name too long (max %d characters)", MaxGroupNameLength)
	}
	return ""
}

// SetError sets an inline validation error displayed inside the dialog
func (g *GroupDialog) SetError(msg string) {
	g.validationErr = msg
}

// SetSize sets the dialog size
func (g *GroupDialog) SetSize(width, height int) {
	g.width = width
	g.height = height
}

// Update handles keys other than enter and esc, which the panel owns.
func (g *GroupDialog) Update(msg tea.KeyMsg) (*GroupDialog, tea.Cmd) {
	if g.mode == GroupDialogMove {
		switch msg.String() {
		case "up", "k":
			if g.selected > 0 {
				g.selected--
			}
		case "down", "j":
			if g.selected < len(g.targets)-1 {
				g.selected++
			}
		}
		return g, nil
	}
	var cmd tea.Cmd
	g.nameInput, cmd = g.nameInput.Update(msg)
	return g, cmd
}

// View renders the dialog
func (g *GroupDialog) View() string {
	if !g.visible {
		return ""
	}

	var title, content string
	switch g.mode {
	case GroupDialogCreate:
		title = "Create New Group"
		content = g.nameInput.View()
	case GroupDialogMove:
		title = "Move Tab to Group"
		var items []string
		for i, t := range g.targets {
			if i == g.selected {
				items = append(items, DialogSelectedStyle.Render(t.Name))
			} else {
				items = append(items, DialogItemStyle.Render(t.Name))
			}
		}
		content = strings.Join(items, "\n")
	}

	dialogWidth := 44
	if g.width > 0 && g.width < dialogWidth+10 {
		dialogWidth = max(g.width-10, 30)
	}

	errContent := ""
	if g.validationErr != "" {
		errContent = ErrorStyle.Render("⚠ " + g.validationErr)
	}

	dialog := DialogBoxStyle.Width(dialogWidth).Render(lipgloss.JoinVertical(
		lipgloss.Center,
		DialogTitleStyle.Width(dialogWidth-4).Render(title),
		"",
		content,
		errContent,
		"",
		DimStyle.Render("Enter confirm │ Esc cancel"),
	))
	if g.width <= 0 || g.height <= 0 {
		return dialog
	}
	return lipgloss.Place(g.width, g.height, lipgloss.Center, lipgloss.Center, dialog)
}
