// Package projection turns registry changes into a view model the panel
// and the bridge can render. It is the only place visual state lives.
package projection

import (
	"sort"
	"sync"

	"github.com/tabdeck/tabdeck/internal/groups"
	"github.com/tabdeck/tabdeck/internal/registry"
	"github.com/tabdeck/tabdeck/internal/tabs"
)

// UngroupedName labels tabs shown outside any provider group.
const UngroupedName = "Ungrouped"

// GroupView is one group with its rendered nodes in group order.
type GroupView struct {
	Group groups.Group
	Nodes []registry.Node
}

// Projection implements registry.Projector. It never calls back into the
// registry, so it is safe to use under the registry's lock.
type Projection struct {
	mu       sync.RWMutex
	nodes    map[tabs.TabID]registry.Node
	released uint64
	version  uint64
	subs     map[chan struct{}]struct{}
}

// New creates an empty projection.
func New() *Projection {
	return &Projection{
		nodes: make(map[tabs.TabID]registry.Node),
		subs:  make(map[chan struct{}]struct{}),
	}
}

// Render implements registry.Projector.
func (p *Projection) Render(n registry.Node) {
	p.mu.Lock()
	p.nodes[n.TabID] = n
	p.bumpLocked()
	p.mu.Unlock()
}

// Release implements registry.Projector.
func (p *Projection) Release(h registry.Handle, id tabs.TabID) {
	p.mu.Lock()
	if cur, ok := p.nodes[id]; ok && cur.Handle == h {
		delete(p.nodes, id)
		p.released++
	}
	p.bumpLocked()
	p.mu.Unlock()
}

// Refresh notifies subscribers without a node change, e.g. when group
// order changed.
func (p *Projection) Refresh() {
	p.mu.Lock()
	p.bumpLocked()
	p.mu.Unlock()
}

func (p *Projection) bumpLocked() {
	p.version++
	for ch := range p.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a coalescing change signal and its cancel func.
func (p *Projection) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()
	return ch, func() {
		p.mu.Lock()
		delete(p.subs, ch)
		p.mu.Unlock()
	}
}

// Version increases on every change.
func (p *Projection) Version() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

// Released counts released visuals.
func (p *Projection) Released() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.released
}

// Node returns the rendered node of a tab.
func (p *Projection) Node(id tabs.TabID) (registry.Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.nodes[id]
	return n, ok
}

// Nodes returns every rendered node ordered by tab id.
func (p *Projection) Nodes() []registry.Node {
	p.mu.RLock()
	out := make([]registry.Node, 0, len(p.nodes))
	for _, n := range p.nodes {
		out = append(out, n)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// Layout arranges rendered nodes into the given groups. Group members
// without a node are left out; nodes in no group are collected in a
// trailing Ungrouped view when any exist. Pinned tabs lead their group.
func (p *Projection) Layout(list []groups.Group) []GroupView {
	p.mu.RLock()
	defer p.mu.RUnlock()

	placed := make(map[tabs.TabID]bool, len(p.nodes))
	out := make([]GroupView, 0, len(list)+1)
	for _, g := range list {
		gv := GroupView{Group: g}
		for _, id := range g.Tabs {
			if n, ok := p.nodes[id]; ok {
				gv.Nodes = append(gv.Nodes, n)
				placed[id] = true
			}
		}
		sort.SliceStable(gv.Nodes, func(i, j int) bool {
			return gv.Nodes[i].Pinned && !gv.Nodes[j].Pinned
		})
		out = append(out, gv)
	}

	var loose []registry.Node
	for id, n := range p.nodes {
		if !placed[id] {
			loose = append(loose, n)
		}
	}
	if len(loose) > 0 {
		sort.Slice(loose, func(i, j int) bool { return loose[i].TabID < loose[j].TabID })
		out = append(out, GroupView{
			Group: groups.Group{ID: tabs.Unassigned, Name: UngroupedName},
			Nodes: loose,
		})
	}
	return out
}
