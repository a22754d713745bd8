// Package groups holds the ordered group list the background classifier
// maintains. The view consumes it; only the classifier (via the host
// bridge) and explicit drag reassignment write to it.
package groups

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/tabs"
)

var groupLog = logging.ForComponent(logging.CompGroups)

// DefaultGroupName names groups created without a name.
const DefaultGroupName = "New group"

// ErrNoGroup is returned for unknown group ids.
var ErrNoGroup = errors.New("groups: no such group")

// Rect is a group's position as fractions of the panel size.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Group is an ordered collection of tabs with a spatial rectangle.
type Group struct {
	ID   tabs.GroupID `json:"id"`
	Name string       `json:"name"`
	Tabs []tabs.TabID `json:"tabs"`
	Rect Rect         `json:"rect"`
}

func (g *Group) clone() Group {
	out := *g
	out.Tabs = append([]tabs.TabID(nil), g.Tabs...)
	return out
}

// IndexOf returns the position of id in the group, or -1.
func (g Group) IndexOf(id tabs.TabID) int {
	for i, t := range g.Tabs {
		if t == id {
			return i
		}
	}
	return -1
}

// Provider is the group collaborator consumed by the view. Every Group it
// returns is a copy; mutating it never changes the provider.
type Provider interface {
	Create(name string) Group
	Get(id tabs.GroupID) (Group, bool)
	ForEach(fn func(Group))
	List() []Group
	Lookup(tab tabs.TabID) (tabs.GroupID, bool)
}

// Notifier pushes assignment commits to waiters.
type Notifier interface {
	// Subscribe returns a channel receiving the group id committed for tab,
	// and a cancel func releasing the subscription.
	Subscribe(tab tabs.TabID) (<-chan tabs.GroupID, func())
}

// Store is the in-memory Provider and Notifier.
type Store struct {
	mu      sync.RWMutex
	groups  map[tabs.GroupID]*Group
	order   []tabs.GroupID
	member  map[tabs.TabID]tabs.GroupID
	nextID  tabs.GroupID
	waiters map[tabs.TabID]map[chan tabs.GroupID]struct{}
	changed chan struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		groups:  make(map[tabs.GroupID]*Group),
		member:  make(map[tabs.TabID]tabs.GroupID),
		waiters: make(map[tabs.TabID]map[chan tabs.GroupID]struct{}),
		changed: make(chan struct{}, 1),
	}
}

// Changed signals (coalesced) after any mutation.
func (s *Store) Changed() <-chan struct{} {
	return s.changed
}

func (s *Store) touch() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Create appends a new empty group in creation order.
func (s *Store) Create(name string) Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.putLocked(Group{ID: s.nextID, Name: name})
}

func (s *Store) putLocked(g Group) Group {
	if g.Name == "" {
		g.Name = DefaultGroupName
	}
	if g.ID > s.nextID {
		s.nextID = g.ID
	}
	if _, ok := s.groups[g.ID]; !ok {
		s.order = append(s.order, g.ID)
	}
	stored := g.clone()
	s.groups[g.ID] = &stored
	s.touch()
	return stored.clone()
}

// Get returns a copy of a group.
func (s *Store) Get(id tabs.GroupID) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return Group{}, false
	}
	return g.clone(), true
}

// ForEach calls fn with a copy of every group in creation order. fn may
// call back into the store.
func (s *Store) ForEach(fn func(Group)) {
	for _, g := range s.List() {
		fn(g)
	}
}

// List returns copies of every group in creation order.
func (s *Store) List() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Group, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.groups[id].clone())
	}
	return out
}

// Lookup returns the committed group of a tab. Once Assign has committed
// a tab, every Lookup returns that group until Reassign or Forget.
func (s *Store) Lookup(tab tabs.TabID) (tabs.GroupID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gid, ok := s.member[tab]
	return gid, ok
}

// Assign commits the classifier's decision for a newly seen tab, appending
// it to the group. A tab that is already committed keeps its group;
// moving it requires Reassign.
func (s *Store) Assign(tab tabs.TabID, gid tabs.GroupID) (tabs.GroupID, error) {
	s.mu.Lock()
	if cur, ok := s.member[tab]; ok {
		s.mu.Unlock()
		if cur != gid {
			groupLog.Debug("assign_ignored_committed",
				slog.Int64("tab_id", int64(tab)),
				slog.Int64("group_id", int64(cur)),
				slog.Int64("requested", int64(gid)))
		}
		return cur, nil
	}
	g, ok := s.groups[gid]
	if !ok {
		s.mu.Unlock()
		return tabs.Unassigned, fmt.Errorf("assign tab %d: %w: %d", tab, ErrNoGroup, gid)
	}
	g.Tabs = append(g.Tabs, tab)
	s.member[tab] = gid
	waiters := s.takeWaitersLocked(tab)
	s.touch()
	s.mu.Unlock()

	notify(waiters, gid)
	return gid, nil
}

// Reassign moves a tab to gid at index (clamped; negative appends). This
// is the explicit reassignment path used by drag and drop.
func (s *Store) Reassign(tab tabs.TabID, gid tabs.GroupID, index int) error {
	s.mu.Lock()
	g, ok := s.groups[gid]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("reassign tab %d: %w: %d", tab, ErrNoGroup, gid)
	}
	s.detachLocked(tab)
	if index < 0 || index > len(g.Tabs) {
		index = len(g.Tabs)
	}
	g.Tabs = append(g.Tabs, 0)
	copy(g.Tabs[index+1:], g.Tabs[index:])
	g.Tabs[index] = tab
	s.member[tab] = gid
	waiters := s.takeWaitersLocked(tab)
	s.touch()
	s.mu.Unlock()

	notify(waiters, gid)
	return nil
}

// Forget drops a tab's membership (the tab closed).
func (s *Store) Forget(tab tabs.TabID) {
	s.mu.Lock()
	s.detachLocked(tab)
	s.touch()
	s.mu.Unlock()
}

// Replace swaps in a full snapshot from the classifier, preserving the
// snapshot's order. Waiters for tabs present in the snapshot are notified.
func (s *Store) Replace(list []Group) {
	s.mu.Lock()
	s.groups = make(map[tabs.GroupID]*Group, len(list))
	s.order = s.order[:0]
	s.member = make(map[tabs.TabID]tabs.GroupID)
	var fire []func()
	for _, g := range list {
		s.putLocked(g)
		for _, tab := range g.Tabs {
			s.member[tab] = g.ID
			if w := s.takeWaitersLocked(tab); len(w) > 0 {
				gid := g.ID
				fire = append(fire, func() { notify(w, gid) })
			}
		}
	}
	s.mu.Unlock()

	for _, f := range fire {
		f()
	}
}

// Delete removes a group and the membership of its tabs.
func (s *Store) Delete(id tabs.GroupID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return
	}
	for _, tab := range g.Tabs {
		delete(s.member, tab)
	}
	delete(s.groups, id)
	for i, gid := range s.order {
		if gid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.touch()
}

// Subscribe implements Notifier. If the tab is already committed the
// channel is delivered immediately.
func (s *Store) Subscribe(tab tabs.TabID) (<-chan tabs.GroupID, func()) {
	ch := make(chan tabs.GroupID, 1)
	s.mu.Lock()
	if gid, ok := s.member[tab]; ok {
		s.mu.Unlock()
		ch <- gid
		return ch, func() {}
	}
	set, ok := s.waiters[tab]
	if !ok {
		set = make(map[chan tabs.GroupID]struct{})
		s.waiters[tab] = set
	}
	set[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if set, ok := s.waiters[tab]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(s.waiters, tab)
			}
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Store) detachLocked(tab tabs.TabID) {
	cur, ok := s.member[tab]
	if !ok {
		return
	}
	delete(s.member, tab)
	g, ok := s.groups[cur]
	if !ok {
		return
	}
	if i := g.IndexOf(tab); i >= 0 {
		g.Tabs = append(g.Tabs[:i], g.Tabs[i+1:]...)
	}
}

func (s *Store) takeWaitersLocked(tab tabs.TabID) []chan tabs.GroupID {
	set, ok := s.waiters[tab]
	if !ok {
		return nil
	}
	delete(s.waiters, tab)
	out := make([]chan tabs.GroupID, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	return out
}

func notify(waiters []chan tabs.GroupID, gid tabs.GroupID) {
	for _, ch := range waiters {
		select {
		case ch <- gid:
		default:
		}
	}
}
