// Package navigator implements circular keyboard traversal across groups.
package navigator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tabdeck/tabdeck/internal/groups"
	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/tabs"
)

var navLog = logging.ForComponent(logging.CompNav)

// Key is a navigation input.
type Key int

const (
	KeyNone Key = iota
	KeyNext
	KeyPrevious
	KeyActivate
)

func (k Key) String() string {
	switch k {
	case KeyNext:
		return "next"
	case KeyPrevious:
		return "previous"
	case KeyActivate:
		return "activate"
	}
	return "none"
}

// Lister supplies the ordered groups. Implementations return copies.
type Lister interface {
	List() []groups.Group
}

// Tracker holds the active tab id.
type Tracker interface {
	Active() tabs.TabID
	SetActive(id tabs.TabID)
}

// Navigator moves the active tab through the group ordering. It only reads
// the groups; nothing it does changes their order or membership.
type Navigator struct {
	groups  Lister
	tracker Tracker
	host    tabs.Host
}

// New creates a navigator.
func New(g Lister, tracker Tracker, host tabs.Host) *Navigator {
	return &Navigator{groups: g, tracker: tracker, host: host}
}

// Next activates the following tab, wrapping into the next non-empty group
// and from the last group to the first. Returns false when the active tab
// is in no group.
func (n *Navigator) Next() bool {
	return n.step(1)
}

// Previous mirrors Next.
func (n *Navigator) Previous() bool {
	return n.step(-1)
}

func (n *Navigator) step(dir int) bool {
	cur := n.tracker.Active()
	if cur == tabs.NoTab {
		return false
	}
	list := n.groups.List()
	gi, ti := locate(list, cur)
	if gi < 0 {
		navLog.Debug("active_not_grouped", slog.Int64("tab_id", int64(cur)))
		return false
	}

	target, ok := neighbour(list, gi, ti, dir)
	if !ok {
		return false
	}
	n.tracker.SetActive(target)
	navLog.Debug("navigated",
		slog.Int64("from", int64(cur)),
		slog.Int64("to", int64(target)))
	return true
}

func locate(list []groups.Group, id tabs.TabID) (int, int) {
	for gi, g := range list {
		if ti := g.IndexOf(id); ti >= 0 {
			return gi, ti
		}
	}
	return -1, -1
}

// neighbour finds the tab one step from list[gi].Tabs[ti]. Empty groups are
// skipped; with a single non-empty group the walk wraps within it.
func neighbour(list []groups.Group, gi, ti, dir int) (tabs.TabID, bool) {
	members := list[gi].Tabs
	if next := ti + dir; next >= 0 && next < len(members) {
		return members[next], true
	}
	count := len(list)
	for k := 1; k <= count; k++ {
		g := list[((gi+dir*k)%count+count)%count]
		if len(g.Tabs) == 0 {
			continue
		}
		if dir > 0 {
			return g.Tabs[0], true
		}
		return g.Tabs[len(g.Tabs)-1], true
	}
	return tabs.NoTab, false
}

// Activate asks the host to foreground the active tab. With no active tab
// it does nothing.
func (n *Navigator) Activate(ctx context.Context) error {
	cur := n.tracker.Active()
	if cur == tabs.NoTab {
		return nil
	}
	if err := n.host.Activate(ctx, cur); err != nil {
		return fmt.Errorf("navigator: activate %d: %w", cur, err)
	}
	return nil
}

// Handle dispatches a key. The bool reports whether the active tab moved
// or was activated.
func (n *Navigator) Handle(ctx context.Context, k Key) (bool, error) {
	switch k {
	case KeyNext:
		return n.Next(), nil
	case KeyPrevious:
		return n.Previous(), nil
	case KeyActivate:
		if n.tracker.Active() == tabs.NoTab {
			return false, nil
		}
		return true, n.Activate(ctx)
	}
	return false, nil
}
