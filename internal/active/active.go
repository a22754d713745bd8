// Package active tracks the single most recently accessed tab of the
// observed window.
package active

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/tabs"
)

var activeLog = logging.ForComponent(logging.CompActive)

// Registry is the subset of *registry.Registry the tracker touches.
type Registry interface {
	Has(id tabs.TabID) bool
	Select(id tabs.TabID) bool
}

// Tracker owns ActiveTabID. Recompute may run concurrently with itself;
// only the newest started recompute commits.
type Tracker struct {
	host   tabs.Host
	reg    Registry
	window tabs.WindowID
	self   tabs.TabID

	mu     sync.Mutex
	active tabs.TabID
	gen    uint64
}

// New creates a tracker for window, ignoring the view's own tab self.
func New(host tabs.Host, reg Registry, window tabs.WindowID, self tabs.TabID) *Tracker {
	return &Tracker{
		host:   host,
		reg:    reg,
		window: window,
		self:   self,
		active: tabs.NoTab,
	}
}

// Recompute queries the window's tabs and marks the most recently accessed
// one (excluding self) as active and selected. With no other tabs the
// active id is unset and nothing is selected. Returns the new active id,
// or the current one if a newer recompute superseded this call.
func (t *Tracker) Recompute(ctx context.Context) (tabs.TabID, error) {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	list, err := t.host.Query(ctx, t.window)
	if err != nil {
		return tabs.NoTab, fmt.Errorf("active: query window %d: %w", t.window, err)
	}
	list = tabs.Without(list, t.self)
	tabs.SortByLastAccessed(list)

	head := tabs.NoTab
	if len(list) > 0 {
		head = list[0].ID
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		activeLog.Debug("recompute_superseded", slog.Uint64("gen", gen))
		return t.active, nil
	}
	t.active = head
	// Select clears every other flag and tolerates head having been removed.
	if !t.reg.Select(head) && head != tabs.NoTab {
		activeLog.Debug("active_not_registered", slog.Int64("tab_id", int64(head)))
	}
	return head, nil
}

// SetActive records a navigation result and moves the selection. It also
// supersedes any recompute in flight.
func (t *Tracker) SetActive(id tabs.TabID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.active = id
	t.reg.Select(id)
}

// Active returns the active tab id, or NoTab when unset or when the
// active entry has since been removed from the registry.
func (t *Tracker) Active() tabs.TabID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != tabs.NoTab && !t.reg.Has(t.active) {
		t.active = tabs.NoTab
	}
	return t.active
}

// Invalidate unsets the active id when it equals id. Call it after the
// tab's removal so the next read forces a recompute.
func (t *Tracker) Invalidate(id tabs.TabID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != id {
		return false
	}
	t.active = tabs.NoTab
	return true
}
