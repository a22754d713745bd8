package ui

import (
	"context"

	"github.com/tabdeck/tabdeck/internal/groups"
	"github.com/tabdeck/tabdeck/internal/navigator"
	"github.com/tabdeck/tabdeck/internal/projection"
	"github.com/tabdeck/tabdeck/internal/tabs"
	"github.com/tabdeck/tabdeck/internal/view"
)

// Controller is what the panel reads and drives.
type Controller interface {
	Layout() []projection.GroupView
	Active() tabs.TabID
	Subscribe() (<-chan struct{}, func())

	Key(ctx context.Context, k navigator.Key) bool
	Click(ctx context.Context, id tabs.TabID) error
	Close(ctx context.Context, id tabs.TabID) error
	CreateGroup(name string) groups.Group
	MoveTab(id tabs.TabID, gid tabs.GroupID, index int) error
}

// ViewController adapts a running view to Controller.
type ViewController struct {
	*view.View
	Projection *projection.Projection
	Groups     groups.Provider
}

// Layout implements Controller.
func (c ViewController) Layout() []projection.GroupView {
	return c.Projection.Layout(c.Groups.List())
}

// Active implements Controller.
func (c ViewController) Active() tabs.TabID {
	return c.Tracker().Active()
}

// Subscribe implements Controller.
func (c ViewController) Subscribe() (<-chan struct{}, func()) {
	return c.Projection.Subscribe()
}
