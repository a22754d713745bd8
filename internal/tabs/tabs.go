package tabs

import (
	"context"
	"sort"
	"time"
)

// TabID identifies a host tab. Stable for the tab's lifetime in a window.
type TabID int64

// WindowID identifies a host window.
type WindowID int64

// NoTab is the "unset" sentinel for tab ids.
const NoTab TabID = -1

// GroupID identifies a group owned by the group provider.
type GroupID int64

// Unassigned is the explicit group of a tab whose classification never
// arrived. Real group ids start at 1.
const Unassigned GroupID = 0

// NoWindow is the "unset" sentinel for window ids.
const NoWindow WindowID = -1

// Load status values reported by the host.
const (
	StatusLoading  = "loading"
	StatusComplete = "complete"
)

// Tab mirrors the host's view of a single tab.
type Tab struct {
	ID           TabID     `json:"id"`
	WindowID     WindowID  `json:"windowId"`
	Index        int       `json:"index"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	FavIconURL   string    `json:"favIconUrl,omitempty"`
	Status       string    `json:"status,omitempty"`
	Discarded    bool      `json:"discarded"`
	Pinned       bool      `json:"pinned"`
	LastAccessed time.Time `json:"lastAccessed"`
}

// Host is the tab provider the view mirrors. Every call may block on the
// host and must honour ctx.
type Host interface {
	// Query returns the tabs currently open in the given window.
	Query(ctx context.Context, window WindowID) ([]Tab, error)
	// Get returns a single tab.
	Get(ctx context.Context, id TabID) (Tab, error)
	// Activate brings the tab to the foreground.
	Activate(ctx context.Context, id TabID) error
	// Remove closes the tab.
	Remove(ctx context.Context, id TabID) error
	// Capture returns an encoded screenshot of the tab's rendered surface.
	Capture(ctx context.Context, id TabID, quality int) ([]byte, error)
}

// SortByLastAccessed orders tabs most recently accessed first. Ties keep
// their host order.
func SortByLastAccessed(list []Tab) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastAccessed.After(list[j].LastAccessed)
	})
}

// Without returns list minus the tab with the given id.
func Without(list []Tab, id TabID) []Tab {
	out := make([]Tab, 0, len(list))
	for _, t := range list {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}
