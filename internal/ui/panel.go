// Package ui is the terminal rendition of the tab-grouping panel.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"

	"github.com/tabdeck/tabdeck/internal/clipboard"
	"github.com/tabdeck/tabdeck/internal/config"
	"github.com/tabdeck/tabdeck/internal/groups"
	"github.com/tabdeck/tabdeck/internal/navigator"
	"github.com/tabdeck/tabdeck/internal/projection"
	"github.com/tabdeck/tabdeck/internal/registry"
	"github.com/tabdeck/tabdeck/internal/tabs"
)

const defaultWidth = 80

type changedMsg struct{}

type themeMsg Theme

type errMsg struct{ err error }

type statusMsg string

var copyText = clipboard.Copy

// Options tunes the panel.
type Options struct {
	// ToolbarPosition is config.ToolbarTop or config.ToolbarBottom.
	ToolbarPosition string
	// Themes, when set, switches the palette live.
	Themes <-chan Theme
}

// Model is the bubbletea model of the panel.
type Model struct {
	ctx  context.Context
	ctrl Controller
	opts Options

	keys keyMap
	help help.Model

	dialog *GroupDialog

	search    textinput.Model
	searching bool
	matches   map[tabs.TabID][]int
	best      tabs.TabID

	layout []projection.GroupView
	active tabs.TabID
	width  int
	height int
	err    string
	status string

	changes <-chan struct{}
	cancel  func()
}

// NewModel builds the panel over ctrl. Call Close when done.
func NewModel(ctx context.Context, ctrl Controller, opts Options) *Model {
	ti := textinput.New()
	ti.Placeholder = "Find tab..."
	ti.CharLimit = 100
	ti.Width = 40

	changes, cancel := ctrl.Subscribe()
	m := &Model{
		ctx:     ctx,
		ctrl:    ctrl,
		opts:    opts,
		keys:    defaultKeyMap(),
		help:    help.New(),
		dialog:  NewGroupDialog(),
		search:  ti,
		best:    tabs.NoTab,
		changes: changes,
		cancel:  cancel,
	}
	m.refresh()
	return m
}

// Close releases the projection subscription.
func (m *Model) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func waitForTheme(ch <-chan Theme) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		t, ok := <-ch
		if !ok {
			return nil
		}
		return themeMsg(t)
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(waitForChange(m.changes), waitForTheme(m.opts.Themes))
}

func (m *Model) refresh() {
	m.layout = m.ctrl.Layout()
	m.active = m.ctrl.Active()
	if m.searching {
		m.match()
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.dialog.SetSize(msg.Width, msg.Height)
		return m, nil

	case changedMsg:
		m.refresh()
		return m, waitForChange(m.changes)

	case themeMsg:
		InitTheme(string(msg))
		uiLog.Debug("theme_switched", slog.String("theme", string(msg)))
		return m, waitForTheme(m.opts.Themes)

	case errMsg:
		m.err = msg.err.Error()
		return m, nil

	case statusMsg:
		m.status = string(msg)
		return m, nil

	case tea.KeyMsg:
		if m.dialog.IsVisible() {
			return m.updateDialog(msg)
		}
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m *Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = ""
	m.status = ""
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Next):
		m.ctrl.Key(m.ctx, navigator.KeyNext)
		m.refresh()
	case key.Matches(msg, m.keys.Previous):
		m.ctrl.Key(m.ctx, navigator.KeyPrevious)
		m.refresh()
	case key.Matches(msg, m.keys.Activate):
		return m, m.activate(m.active)
	case key.Matches(msg, m.keys.Close):
		if m.active == tabs.NoTab {
			return m, nil
		}
		id := m.active
		return m, func() tea.Msg {
			if err := m.ctrl.Close(m.ctx, id); err != nil {
				return errMsg{err}
			}
			return nil
		}
	case key.Matches(msg, m.keys.CopyURL):
		return m, m.copyURL(m.active)
	case key.Matches(msg, m.keys.NewGroup):
		m.dialog.ShowCreate()
		return m, textinput.Blink
	case key.Matches(msg, m.keys.MoveTab):
		if m.active == tabs.NoTab {
			return m, nil
		}
		m.dialog.ShowMove(m.active, m.targets(), m.groupOf(m.active))
	case key.Matches(msg, m.keys.Search):
		m.searching = true
		m.search.SetValue("")
		m.search.Focus()
		m.match()
		return m, textinput.Blink
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

func (m *Model) activate(id tabs.TabID) tea.Cmd {
	if id == tabs.NoTab {
		return nil
	}
	return func() tea.Msg {
		if err := m.ctrl.Click(m.ctx, id); err != nil {
			return errMsg{err}
		}
		return changedMsg{}
	}
}

// targets lists the groups a tab can be moved into, excluding Ungrouped.
func (m *Model) targets() []groups.Group {
	var out []groups.Group
	for _, gv := range m.layout {
		if gv.Group.ID != tabs.Unassigned {
			out = append(out, gv.Group)
		}
	}
	return out
}

func (m *Model) groupOf(id tabs.TabID) tabs.GroupID {
	for _, gv := range m.layout {
		for _, n := range gv.Nodes {
			if n.TabID == id {
				return gv.Group.ID
			}
		}
	}
	return tabs.Unassigned
}

func (m *Model) updateDialog(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+c":
		m.dialog.Hide()
		return m, nil
	case "enter":
		if errText := m.dialog.Validate(); errText != "" {
			m.dialog.SetError(errText)
			return m, nil
		}
		switch m.dialog.Mode() {
		case GroupDialogCreate:
			g := m.ctrl.CreateGroup(m.dialog.GetValue())
			m.status = "Created group " + g.Name
		case GroupDialogMove:
			target, _ := m.dialog.Selected()
			if err := m.ctrl.MoveTab(m.dialog.Tab(), target.ID, -1); err != nil {
				m.dialog.SetError(err.Error())
				return m, nil
			}
		}
		m.dialog.Hide()
		m.refresh()
		return m, nil
	}
	var cmd tea.Cmd
	m.dialog, cmd = m.dialog.Update(msg)
	return m, cmd
}

func (m *Model) copyURL(id tabs.TabID) tea.Cmd {
	url := ""
	for _, gv := range m.layout {
		for _, n := range gv.Nodes {
			if n.TabID == id {
				url = n.URL
			}
		}
	}
	if url == "" {
		return nil
	}
	return func() tea.Msg {
		res, err := copyText(url)
		if err != nil {
			return errMsg{err}
		}
		uiLog.Debug("url_copied", slog.String("method", res.Method), slog.Int("bytes", res.ByteSize))
		return statusMsg("Copied " + url)
	}
}

func (m *Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+c":
		m.endSearch()
		return m, nil
	case "enter":
		target := m.best
		m.endSearch()
		return m, m.activate(target)
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	m.match()
	return m, cmd
}

func (m *Model) endSearch() {
	m.searching = false
	m.search.Blur()
	m.matches = nil
	m.best = tabs.NoTab
}

// nodeSource lets fuzzy search titles and URLs together.
type nodeSource []registry.Node

func (s nodeSource) String(i int) string { return s[i].Title + " " + s[i].URL }

func (s nodeSource) Len() int { return len(s) }

func (m *Model) match() {
	m.matches = make(map[tabs.TabID][]int)
	m.best = tabs.NoTab
	query := strings.TrimSpace(m.search.Value())
	if query == "" {
		return
	}
	var nodes nodeSource
	for _, gv := range m.layout {
		nodes = append(nodes, gv.Nodes...)
	}
	results := fuzzy.FindFrom(query, nodes)
	for i, r := range results {
		id := nodes[r.Index].TabID
		m.matches[id] = r.MatchedIndexes
		if i == 0 {
			m.best = id
		}
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.dialog.IsVisible() {
		return m.dialog.View()
	}
	width := m.width
	if width <= 0 {
		width = defaultWidth
	}

	var body []string
	for _, gv := range m.layout {
		body = append(body, m.renderGroup(gv, width))
	}
	if len(body) == 0 {
		body = append(body, DimStyle.Render("No tabs in this window."))
	}

	toolbar := m.renderToolbar(width)
	var parts []string
	if m.opts.ToolbarPosition == config.ToolbarTop {
		parts = append(parts, toolbar)
	}
	parts = append(parts, body...)
	if m.searching {
		parts = append(parts, SearchBoxStyle.Width(width-2).Render(
			SearchPromptStyle.Render("/ ")+m.search.View()))
	}
	if m.err != "" {
		parts = append(parts, ErrorStyle.Render(m.err))
	} else if m.status != "" {
		parts = append(parts, DimStyle.Render(runewidth.Truncate(m.status, width, "…")))
	}
	if m.opts.ToolbarPosition != config.ToolbarTop {
		parts = append(parts, toolbar)
	}
	parts = append(parts, m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *Model) renderToolbar(width int) string {
	count := 0
	for _, gv := range m.layout {
		count += len(gv.Nodes)
	}
	groupCount := len(m.layout)
	if groupCount > 0 && m.layout[groupCount-1].Group.ID == tabs.Unassigned {
		groupCount--
	}
	left := ToolbarTitleStyle.Render("tabdeck")
	right := ToolbarDimStyle.Render(fmt.Sprintf("%d groups · %d tabs", groupCount, count))
	gap := width - 2 - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return ToolbarStyle.Width(width).Render(left + ToolbarDimStyle.Render(strings.Repeat(" ", gap)) + right)
}

func (m *Model) renderGroup(gv projection.GroupView, width int) string {
	inner := width - 4
	if inner < 10 {
		inner = 10
	}

	titleStyle := GroupTitleStyle
	if gv.Group.ID == tabs.Unassigned {
		titleStyle = UngroupedTitleStyle
	}
	lines := []string{
		titleStyle.Render(runewidth.Truncate(gv.Group.Name, inner-6, "…")) +
			" " + GroupCountStyle.Render(fmt.Sprintf("(%d)", len(gv.Nodes))),
	}
	holdsActive := false
	for _, n := range gv.Nodes {
		if n.TabID == m.active {
			holdsActive = true
		}
		lines = append(lines, m.renderTab(n, inner))
	}

	box := GroupBoxStyle
	if holdsActive {
		box = GroupBoxActiveStyle
	}
	return box.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func (m *Model) renderTab(n registry.Node, width int) string {
	marker := "  "
	if n.TabID == m.active {
		marker = "▶ "
	}
	pin := " "
	if n.Pinned {
		pin = PinnedStyle.Render("^")
	}
	thumb := " "
	switch n.Thumbnail {
	case registry.TierLive:
		thumb = ThumbLiveStyle.Render("●")
	case registry.TierPersisted:
		thumb = ThumbStaleStyle.Render("○")
	}

	title := n.Title
	if title == "" {
		title = n.URL
	}
	title = runewidth.Truncate(title, width-5, "…")

	style := TabStyle
	switch {
	case n.TabID == m.active:
		style = TabActiveStyle
	case n.Discarded:
		style = TabDiscardedStyle
	}
	if _, ok := m.matches[n.TabID]; ok && n.TabID != m.active {
		style = TabMatchStyle
	}
	return marker + pin + thumb + " " + style.Render(title)
}
