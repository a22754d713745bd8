// Package registry mirrors the host's open tabs as nodes keyed by tab id.
//
// The registry holds domain state only. Every change is pushed to a
// Projector, which owns whatever visual resources a node has.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/tabs"
)

var regLog = logging.ForComponent(logging.CompRegistry)

// ErrDuplicateTab is returned by Insert for a tab id already present.
// Inserting twice is a caller bug, not a recoverable condition.
var ErrDuplicateTab = errors.New("registry: duplicate tab")

// Tier says where a node's thumbnail came from.
type Tier int

const (
	TierNone Tier = iota // placeholder
	TierLive
	TierPersisted
)

func (t Tier) String() string {
	switch t {
	case TierLive:
		return "live"
	case TierPersisted:
		return "persisted"
	}
	return "none"
}

// Handle identifies the projected visual of one node.
type Handle uint64

// Node is the registry's record for one open tab.
type Node struct {
	Handle         Handle
	TabID          tabs.TabID
	GroupID        tabs.GroupID
	Title          string
	URL            string
	Tooltip        string
	Discarded      bool
	Pinned         bool
	Selected       bool
	FaviconURL     string
	FaviconVisible bool
	Thumbnail      Tier

	// Resolved is set once group assignment settled. A resolved node with
	// GroupID tabs.Unassigned timed out waiting for the classifier.
	Resolved bool
}

// Projector receives every node change.
type Projector interface {
	Render(n Node)
	Release(h Handle, id tabs.TabID)
}

type nopProjector struct{}

func (nopProjector) Render(Node)                {}
func (nopProjector) Release(Handle, tabs.TabID) {}

// Registry maps tab ids to nodes. Each operation is atomic; callers that
// resume after a suspension point rely on the absent-id no-ops below.
// The projector is called with the lock held and must not call back in.
type Registry struct {
	mu    sync.RWMutex
	nodes map[tabs.TabID]*Node
	next  Handle
	proj  Projector
}

// New creates an empty registry. A nil projector discards changes.
func New(proj Projector) *Registry {
	if proj == nil {
		proj = nopProjector{}
	}
	return &Registry{
		nodes: make(map[tabs.TabID]*Node),
		proj:  proj,
	}
}

// Tooltip renders the hover text for a tab.
func Tooltip(title, rawURL string) string {
	if rawURL == "" || strings.HasPrefix(rawURL, "data:") {
		return title
	}
	decoded, err := url.PathUnescape(rawURL)
	if err != nil {
		decoded = rawURL
	}
	return title + " - " + decoded
}

func apply(n *Node, t tabs.Tab) {
	n.Title = t.Title
	n.URL = t.URL
	n.Tooltip = Tooltip(t.Title, t.URL)
	n.Discarded = t.Discarded
	n.Pinned = t.Pinned
}

// Insert creates the node for a tab and projects it.
func (r *Registry) Insert(t tabs.Tab) (Handle, error) {
	r.mu.Lock()
	if _, ok := r.nodes[t.ID]; ok {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: %d", ErrDuplicateTab, t.ID)
	}
	r.next++
	n := &Node{Handle: r.next, TabID: t.ID}
	apply(n, t)
	r.nodes[t.ID] = n
	r.proj.Render(*n)
	h := n.Handle
	r.mu.Unlock()

	regLog.Debug("tab_inserted", slog.Int64("tab_id", int64(t.ID)))
	return h, nil
}

// Update refreshes title, URL and state flags. Absent ids are ignored:
// updates can arrive after removal.
func (r *Registry) Update(t tabs.Tab) bool {
	return r.mutate(t.ID, func(n *Node) { apply(n, t) })
}

// Remove releases the node's visual and drops the mapping. Removing an
// absent id is a no-op.
func (r *Registry) Remove(id tabs.TabID) bool {
	r.mu.Lock()
	n, ok := r.nodes[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.nodes, id)
	r.proj.Release(n.Handle, id)
	r.mu.Unlock()

	regLog.Debug("tab_removed", slog.Int64("tab_id", int64(id)))
	return true
}

// Get returns a copy of the node.
func (r *Registry) Get(id tabs.TabID) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Has reports whether a node exists for id.
func (r *Registry) Has(id tabs.TabID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[id]
	return ok
}

// Len returns the number of nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// IDs returns the registered tab ids in ascending order.
func (r *Registry) IDs() []tabs.TabID {
	r.mu.RLock()
	ids := make([]tabs.TabID, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Select marks id as the only selected node. When id is absent every
// selection is still cleared and false is returned.
func (r *Registry) Select(id tabs.TabID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	for tid, n := range r.nodes {
		want := tid == id
		if want {
			found = true
		}
		if n.Selected != want {
			n.Selected = want
			r.proj.Render(*n)
		}
	}
	return found
}

// ClearSelection unmarks every node.
func (r *Registry) ClearSelection() {
	r.Select(tabs.NoTab)
}

// Selected returns the ids of selected nodes.
func (r *Registry) Selected() []tabs.TabID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []tabs.TabID
	for id, n := range r.nodes {
		if n.Selected {
			out = append(out, id)
		}
	}
	return out
}

// SetFavicon commits a validated icon. Absent ids are ignored.
func (r *Registry) SetFavicon(id tabs.TabID, iconURL string, visible bool) bool {
	return r.mutate(id, func(n *Node) {
		n.FaviconVisible = visible
		if visible {
			n.FaviconURL = iconURL
		} else {
			n.FaviconURL = ""
		}
	})
}

// SetThumbnail records which tier the node's thumbnail came from.
func (r *Registry) SetThumbnail(id tabs.TabID, tier Tier) bool {
	return r.mutate(id, func(n *Node) { n.Thumbnail = tier })
}

// SetGroup materializes the node inside a group and marks it resolved.
func (r *Registry) SetGroup(id tabs.TabID, gid tabs.GroupID) bool {
	return r.mutate(id, func(n *Node) {
		n.GroupID = gid
		n.Resolved = true
	})
}

func (r *Registry) mutate(id tabs.TabID, fn func(*Node)) bool {
	r.mu.Lock()
	n, ok := r.nodes[id]
	if !ok {
		r.mu.Unlock()
		regLog.Debug("tab_absent", slog.Int64("tab_id", int64(id)))
		return false
	}
	fn(n)
	r.proj.Render(*n)
	r.mu.Unlock()
	return true
}
