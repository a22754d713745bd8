package bridge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/tabdeck/tabdeck/internal/groups"
	"github.com/tabdeck/tabdeck/internal/projection"
	"github.com/tabdeck/tabdeck/internal/tabs"
	"github.com/tabdeck/tabdeck/internal/thumbnail"
	"github.com/tabdeck/tabdeck/internal/view"
)

// Snapshot is the panel state served to web clients.
type Snapshot struct {
	WindowID tabs.WindowID   `json:"windowId"`
	Active   tabs.TabID      `json:"activeTabId"`
	Groups   []SnapshotGroup `json:"groups"`
}

// SnapshotGroup is one group in display order.
type SnapshotGroup struct {
	ID   tabs.GroupID  `json:"id"`
	Name string        `json:"name"`
	Tabs []SnapshotTab `json:"tabs"`
}

// SnapshotTab is one rendered tab.
type SnapshotTab struct {
	ID        tabs.TabID `json:"id"`
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	Tooltip   string     `json:"tooltip"`
	Favicon   string     `json:"favicon,omitempty"`
	Pinned    bool       `json:"pinned"`
	Discarded bool       `json:"discarded"`
	Selected  bool       `json:"selected"`
	Thumbnail string     `json:"thumbnail"`
}

// PanelSource feeds the read-only HTTP surface.
type PanelSource interface {
	Snapshot() Snapshot
	Subscribe() (<-chan struct{}, func())
	Thumbnail(id tabs.TabID) thumbnail.Entry
}

// ViewSource is the PanelSource over a live view.
type ViewSource struct {
	View       *view.View
	Projection *projection.Projection
	Groups     groups.Provider
}

// Snapshot implements PanelSource.
func (s ViewSource) Snapshot() Snapshot {
	return BuildSnapshot(
		s.View.Window(),
		s.View.Tracker().Active(),
		s.Projection.Layout(s.Groups.List()),
	)
}

// Subscribe implements PanelSource.
func (s ViewSource) Subscribe() (<-chan struct{}, func()) {
	return s.Projection.Subscribe()
}

// Thumbnail implements PanelSource.
func (s ViewSource) Thumbnail(id tabs.TabID) thumbnail.Entry {
	return s.View.Lookup(id)
}

// BuildSnapshot flattens a projection layout.
func BuildSnapshot(window tabs.WindowID, active tabs.TabID, layout []projection.GroupView) Snapshot {
	snap := Snapshot{WindowID: window, Active: active, Groups: make([]SnapshotGroup, 0, len(layout))}
	for _, gv := range layout {
		g := SnapshotGroup{ID: gv.Group.ID, Name: gv.Group.Name, Tabs: make([]SnapshotTab, 0, len(gv.Nodes))}
		for _, n := range gv.Nodes {
			st := SnapshotTab{
				ID:        n.TabID,
				Title:     n.Title,
				URL:       n.URL,
				Tooltip:   n.Tooltip,
				Pinned:    n.Pinned,
				Discarded: n.Discarded,
				Selected:  n.Selected,
				Thumbnail: n.Thumbnail.String(),
			}
			if n.FaviconVisible {
				st.Favicon = n.FaviconURL
			}
			g.Tabs = append(g.Tabs, st)
		}
		snap.Groups = append(snap.Groups, g)
	}
	return snap
}

func snapshotFingerprint(snap Snapshot) string {
	raw, err := json.Marshal(snap)
	if err != nil {
		return "marshal-error"
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
