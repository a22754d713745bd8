package view

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabdeck/tabdeck/internal/groups"
	"github.com/tabdeck/tabdeck/internal/navigator"
	"github.com/tabdeck/tabdeck/internal/projection"
	"github.com/tabdeck/tabdeck/internal/registry"
	"github.com/tabdeck/tabdeck/internal/resolver"
	"github.com/tabdeck/tabdeck/internal/tabs"
	"github.com/tabdeck/tabdeck/internal/tabs/tabstest"
	"github.com/tabdeck/tabdeck/internal/thumbnail"
)

const (
	window tabs.WindowID = 1
	other  tabs.WindowID = 2
	self   tabs.TabID    = 100
)

type okLoader struct{}

func (okLoader) Load(context.Context, string) error { return nil }

type fixture struct {
	host  *tabstest.Host
	store *groups.Store
	proj  *projection.Projection
	view  *View
}

func newFixture(t *testing.T, list ...tabs.Tab) *fixture {
	t.Helper()
	f := &fixture{
		host:  tabstest.NewHost(list...),
		store: groups.NewStore(),
		proj:  projection.New(),
	}
	v, err := New(f.host, f.store, testOptions(f.proj))
	require.NoError(t, err)
	f.view = v
	t.Cleanup(v.Wait)
	return f
}

func testOptions(proj registry.Projector) Options {
	return Options{
		Window: window,
		Self:   self,
		Resolver: resolver.Options{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Timeout:         150 * time.Millisecond,
		},
		Thumbnails:    thumbnail.Options{PerSecond: 1000},
		FaviconLoader: okLoader{},
		Projector:     proj,
	}
}

// renderSignal closes hit the first time tab is rendered.
type renderSignal struct {
	tab  tabs.TabID
	once sync.Once
	hit  chan struct{}
}

func (p *renderSignal) Render(n registry.Node) {
	if n.TabID == p.tab {
		p.once.Do(func() { close(p.hit) })
	}
}

func (p *renderSignal) Release(registry.Handle, tabs.TabID) {}

func tab(id tabs.TabID, accessed int) tabs.Tab {
	return tabs.Tab{
		ID:           id,
		WindowID:     window,
		Index:        int(id),
		Title:        "tab",
		URL:          "https://example.com/",
		LastAccessed: time.Unix(int64(accessed), 0),
	}
}

func created(t tabs.Tab) tabs.Event {
	return tabs.Event{Kind: tabs.EventCreated, TabID: t.ID, WindowID: t.WindowID, Tab: &t}
}

func removed(id tabs.TabID) tabs.Event {
	return tabs.Event{Kind: tabs.EventRemoved, TabID: id, WindowID: window}
}

func TestLoadMirrorsWindow(t *testing.T) {
	foreign := tab(7, 50)
	foreign.WindowID = other
	f := newFixture(t, tab(1, 10), tab(2, 30), tab(self, 99), foreign)
	g := f.store.Create("work")
	_, err := f.store.Assign(1, g.ID)
	require.NoError(t, err)
	_, err = f.store.Assign(2, g.ID)
	require.NoError(t, err)

	require.NoError(t, f.view.Load(context.Background()))
	f.view.Wait()

	assert.Equal(t, []tabs.TabID{1, 2}, f.view.Registry().IDs())
	assert.Equal(t, tabs.TabID(2), f.view.Tracker().Active(), "most recently accessed other tab")

	n, ok := f.view.Registry().Get(1)
	require.True(t, ok)
	assert.True(t, n.Resolved)
	assert.Equal(t, g.ID, n.GroupID)
	assert.True(t, f.view.Subscription().Enabled())
}

func TestCreatedAndRemoved(t *testing.T) {
	f := newFixture(t)
	g := f.store.Create("work")

	f.view.Dispatch(created(tab(1, 1)))
	f.view.Dispatch(created(tab(1, 1)))
	_, err := f.store.Assign(1, g.ID)
	require.NoError(t, err)
	f.view.Wait()

	n, ok := f.view.Registry().Get(1)
	require.True(t, ok)
	assert.Equal(t, g.ID, n.GroupID)

	f.view.Dispatch(removed(1))
	f.view.Wait()
	assert.False(t, f.view.Registry().Has(1))
	_, member := f.store.Lookup(1)
	assert.False(t, member, "closed tab leaves its group")
	assert.Equal(t, uint64(1), f.proj.Released())
}

func TestIgnoresSelfAndOtherWindows(t *testing.T) {
	f := newFixture(t)

	foreign := tab(5, 1)
	foreign.WindowID = other
	f.view.Dispatch(created(foreign))
	f.view.Dispatch(created(tab(self, 1)))
	f.view.Dispatch(tabs.Event{Kind: "bogus"})
	f.view.Wait()

	assert.Zero(t, f.view.Registry().Len())
}

func TestUnassignedAfterTimeout(t *testing.T) {
	f := newFixture(t)

	f.view.Dispatch(created(tab(3, 1)))
	f.view.Wait()

	n, ok := f.view.Registry().Get(3)
	require.True(t, ok)
	assert.True(t, n.Resolved)
	assert.Equal(t, tabs.Unassigned, n.GroupID)

	layout := f.proj.Layout(f.store.List())
	require.Len(t, layout, 1)
	assert.Equal(t, projection.UngroupedName, layout[0].Group.Name)
}

func TestRemovedBeforeResolution(t *testing.T) {
	f := newFixture(t)
	g := f.store.Create("work")

	f.view.Dispatch(created(tab(4, 1)))
	f.view.Dispatch(removed(4))
	_, err := f.store.Assign(4, g.ID)
	require.NoError(t, err)
	f.view.Wait()

	assert.False(t, f.view.Registry().Has(4), "late continuation must not resurrect the node")
	_, ok := f.proj.Node(4)
	assert.False(t, ok)
}

func TestAttachedFillsInFromHost(t *testing.T) {
	full := tab(6, 1)
	full.Title = "attached"
	f := newFixture(t, full)

	f.view.Dispatch(tabs.Event{Kind: tabs.EventAttached, TabID: 6, WindowID: window})
	assert.True(t, f.view.Registry().Has(6), "minimal node inserted synchronously")
	f.view.Wait()

	n, ok := f.view.Registry().Get(6)
	require.True(t, ok)
	assert.Equal(t, "attached", n.Title)

	f.view.Dispatch(tabs.Event{Kind: tabs.EventDetached, TabID: 6, WindowID: window})
	assert.False(t, f.view.Registry().Has(6))
}

func TestAttachedThenDetachedBeforeLookup(t *testing.T) {
	f := newFixture(t)

	f.view.Dispatch(tabs.Event{Kind: tabs.EventAttached, TabID: 8, WindowID: window})
	f.view.Dispatch(tabs.Event{Kind: tabs.EventDetached, TabID: 8, WindowID: window})
	f.view.Wait()

	assert.False(t, f.view.Registry().Has(8))
}

func TestPinnedUpdateRefreshesLayout(t *testing.T) {
	f := newFixture(t)
	f.view.Dispatch(created(tab(1, 1)))
	f.view.Wait()

	before := f.proj.Version()
	pinned := tab(1, 1)
	pinned.Pinned = true
	yes := true
	f.view.Dispatch(tabs.Event{
		Kind:     tabs.EventUpdated,
		TabID:    1,
		WindowID: window,
		Tab:      &pinned,
		Change:   &tabs.ChangeInfo{Pinned: &yes},
	})

	n, _ := f.view.Registry().Get(1)
	assert.True(t, n.Pinned)
	assert.Greater(t, f.proj.Version(), before)
}

func TestCaptureOnLoadOnlyWhileVisible(t *testing.T) {
	f := newFixture(t, tab(1, 1))
	f.view.Dispatch(created(tab(1, 1)))
	f.view.Wait()

	complete := tabs.StatusComplete
	ev := tabs.Event{
		Kind:     tabs.EventUpdated,
		TabID:    1,
		WindowID: window,
		Tab:      ptr(tab(1, 1)),
		Change:   &tabs.ChangeInfo{Status: &complete},
	}

	f.view.Dispatch(ev)
	f.view.Wait()
	assert.Empty(t, f.host.Captures(), "hidden view does not capture")

	f.view.SetVisible(true)
	f.view.Wait()
	batch := len(f.host.Captures())

	f.view.Dispatch(ev)
	f.view.Wait()
	assert.Len(t, f.host.Captures(), batch+1)
}

func TestVisibilityCapturesNonDiscarded(t *testing.T) {
	sleeping := tab(2, 2)
	sleeping.Discarded = true
	f := newFixture(t, tab(1, 1), sleeping)

	f.view.SetVisible(true)
	f.view.Wait()
	assert.Equal(t, []tabs.TabID{1}, f.host.Captures())

	assert.False(t, f.view.Subscription().Enable(), "already enabled")
	f.view.SetVisible(false)
	assert.False(t, f.view.Subscription().Enabled())
}

func TestKeyNavigation(t *testing.T) {
	f := newFixture(t, tab(1, 1), tab(2, 2), tab(3, 3))
	f.store.Replace([]groups.Group{
		{ID: 1, Name: "a", Tabs: []tabs.TabID{1, 2}},
		{ID: 2, Name: "b", Tabs: []tabs.TabID{3}},
	})
	require.NoError(t, f.view.Load(context.Background()))
	f.view.Wait()
	require.Equal(t, tabs.TabID(3), f.view.Tracker().Active())

	assert.True(t, f.view.Key(context.Background(), navigator.KeyNext))
	assert.Equal(t, tabs.TabID(1), f.view.Tracker().Active())

	assert.True(t, f.view.Key(context.Background(), navigator.KeyActivate))
	assert.Equal(t, []tabs.TabID{1}, f.host.Activated())
}

func TestClickAndClose(t *testing.T) {
	f := newFixture(t, tab(1, 1), tab(2, 2))
	require.NoError(t, f.view.Load(context.Background()))
	f.view.Wait()

	require.NoError(t, f.view.Click(context.Background(), 1))
	assert.Equal(t, tabs.TabID(1), f.view.Tracker().Active())
	assert.Equal(t, []tabs.TabID{1}, f.host.Activated())

	require.NoError(t, f.view.MiddleClick(context.Background(), 2))
	assert.Equal(t, []tabs.TabID{2}, f.host.Removed())
	assert.True(t, f.view.Registry().Has(2), "node waits for the host's removed event")

	require.NoError(t, f.view.Close(context.Background(), 99))
	assert.Len(t, f.host.Removed(), 1)
}

func TestMoveTab(t *testing.T) {
	f := newFixture(t, tab(1, 1), tab(2, 2))
	f.store.Replace([]groups.Group{
		{ID: 1, Name: "a", Tabs: []tabs.TabID{1, 2}},
		{ID: 2, Name: "b"},
	})
	require.NoError(t, f.view.Load(context.Background()))
	f.view.Wait()

	require.NoError(t, f.view.MoveTab(2, 2, 0))
	gid, _ := f.store.Lookup(2)
	assert.Equal(t, tabs.GroupID(2), gid)
	n, _ := f.view.Registry().Get(2)
	assert.Equal(t, tabs.GroupID(2), n.GroupID)

	require.ErrorIs(t, f.view.MoveTab(1, 42, 0), groups.ErrNoGroup)

	g := f.view.CreateGroup("")
	assert.Equal(t, groups.DefaultGroupName, g.Name)
}

func TestResyncDropsVanishedTabs(t *testing.T) {
	f := newFixture(t, tab(1, 1), tab(2, 2))
	require.NoError(t, f.view.Load(context.Background()))
	f.view.Wait()

	f.host.Delete(2)
	f.host.Put(tab(3, 3))
	_, err := f.view.Resync(context.Background())
	require.NoError(t, err)
	f.view.Wait()

	assert.Equal(t, []tabs.TabID{1, 3}, f.view.Registry().IDs())
}

// A removal landing after the resync snapshot was read, but before the
// resync reached that tab, must not be undone by the snapshot.
func TestRemovedDuringResyncStaysRemoved(t *testing.T) {
	host := tabstest.NewHost(tab(1, 1), tab(2, 2))
	proj := &renderSignal{tab: 1, hit: make(chan struct{})}
	v, err := New(host, groups.NewStore(), testOptions(proj))
	require.NoError(t, err)
	t.Cleanup(v.Wait)

	// Hold the continuation context so the resync parks right after
	// inserting tab 1.
	v.ctxMu.Lock()
	done := make(chan error, 1)
	go func() {
		_, err := v.Resync(context.Background())
		done <- err
	}()
	<-proj.hit

	host.Delete(2)
	v.Dispatch(removed(2))
	v.ctxMu.Unlock()

	require.NoError(t, <-done)
	v.Wait()
	assert.Equal(t, []tabs.TabID{1}, v.Registry().IDs())
}

// slowIconLoader holds the load of slow until release closes, then fails
// it. Other icons load at once.
type slowIconLoader struct {
	slow    string
	release chan struct{}
}

func (l slowIconLoader) Load(ctx context.Context, iconURL string) error {
	if iconURL != l.slow {
		return nil
	}
	<-l.release
	return errors.New("unreachable")
}

func TestNewerFaviconWinsOverSlowOlderOne(t *testing.T) {
	host := tabstest.NewHost()
	opts := testOptions(projection.New())
	loader := slowIconLoader{slow: "https://a/icon.png", release: make(chan struct{})}
	opts.FaviconLoader = loader
	v, err := New(host, groups.NewStore(), opts)
	require.NoError(t, err)
	t.Cleanup(v.Wait)

	first := tab(1, 1)
	first.FavIconURL = "https://a/icon.png"
	v.Dispatch(created(first))

	second := first
	second.FavIconURL = "https://b/icon.png"
	v.Dispatch(tabs.Event{
		Kind:     tabs.EventUpdated,
		TabID:    1,
		WindowID: window,
		Tab:      &second,
		Change:   &tabs.ChangeInfo{FavIconURL: &second.FavIconURL},
	})

	require.Eventually(t, func() bool {
		n, _ := v.Registry().Get(1)
		return n.FaviconVisible
	}, time.Second, 5*time.Millisecond)
	close(loader.release)
	v.Wait()

	n, _ := v.Registry().Get(1)
	assert.True(t, n.FaviconVisible)
	assert.Equal(t, "https://b/icon.png", n.FaviconURL)
}

func TestLoadQueriesSnapshotOnce(t *testing.T) {
	f := newFixture(t, tab(1, 1), tab(2, 2))

	require.NoError(t, f.view.Load(context.Background()))
	f.view.Wait()

	// One snapshot for the registry, one for the active-tab recompute.
	assert.Equal(t, 2, f.host.Queries())
	assert.ElementsMatch(t, []tabs.TabID{1, 2}, f.host.Captures())
	assert.True(t, f.view.Subscription().Enabled())

	f.view.SetVisible(false)
	f.view.SetVisible(true)
	f.view.Wait()
	assert.Equal(t, 4, f.host.Queries(), "regaining visibility resyncs")
}

// Any interleaving of lifecycle events and assignment commits settles on
// exactly the set of tabs created and not removed, each with its committed
// group.
func TestRandomInterleavingSettles(t *testing.T) {
	for seed := uint64(1); seed <= 5; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*31))
		f := newFixture(t)
		gs := []groups.Group{f.store.Create("a"), f.store.Create("b"), f.store.Create("c")}

		const count = 40
		open := make(map[tabs.TabID]bool)
		var assigns sync.WaitGroup
		for i := 1; i <= count; i++ {
			id := tabs.TabID(i)
			f.view.Dispatch(created(tab(id, i)))
			open[id] = true

			gid := gs[rng.IntN(len(gs))].ID
			delay := time.Duration(rng.IntN(20)) * time.Millisecond
			assigns.Add(1)
			go func() {
				defer assigns.Done()
				time.Sleep(delay)
				_, _ = f.store.Assign(id, gid)
			}()

			if rng.IntN(3) == 0 {
				victim := tabs.TabID(rng.IntN(i) + 1)
				f.view.Dispatch(removed(victim))
				delete(open, victim)
			}
		}
		assigns.Wait()
		f.view.Wait()

		var want []tabs.TabID
		for i := 1; i <= count; i++ {
			if open[tabs.TabID(i)] {
				want = append(want, tabs.TabID(i))
			}
		}
		require.Equal(t, want, f.view.Registry().IDs(), "seed %d", seed)
		assert.Len(t, f.proj.Nodes(), len(want), "seed %d", seed)
		for _, id := range want {
			n, _ := f.view.Registry().Get(id)
			assert.True(t, n.Resolved, "seed %d tab %d", seed, id)
			gid, ok := f.store.Lookup(id)
			require.True(t, ok)
			assert.Equal(t, gid, n.GroupID, "seed %d tab %d", seed, id)
		}
	}
}

func TestRunStopsOnClosedChannel(t *testing.T) {
	f := newFixture(t, tab(1, 1))
	f.host.Put(tab(2, 2))
	f.host.Delete(1)

	events := make(chan tabs.Event, 2)
	events <- created(tab(2, 2))
	events <- removed(1)
	close(events)

	require.NoError(t, f.view.Run(context.Background(), events))
	assert.Equal(t, []tabs.TabID{2}, f.view.Registry().IDs())
}

func ptr[T any](v T) *T { return &v }
