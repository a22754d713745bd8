// Package view keeps the tab registry consistent with the host's lifecycle
// events and wires the tracker, resolver, navigator, thumbnail cache and
// favicon validator together.
//
// Events are dispatched one at a time. Work that waits on the host, the
// classifier, the network or storage runs in goroutines, and every such
// continuation goes through registry operations that ignore tabs removed
// in the meantime.
package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tabdeck/tabdeck/internal/active"
	"github.com/tabdeck/tabdeck/internal/favicon"
	"github.com/tabdeck/tabdeck/internal/groups"
	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/navigator"
	"github.com/tabdeck/tabdeck/internal/registry"
	"github.com/tabdeck/tabdeck/internal/resolver"
	"github.com/tabdeck/tabdeck/internal/tabs"
	"github.com/tabdeck/tabdeck/internal/thumbnail"
)

var viewLog = logging.ForComponent(logging.CompView)

// Groups is the group collaborator: the provider and notifier the core
// consumes plus the two writes the view issues (drag reassignment and
// forgetting closed tabs).
type Groups interface {
	groups.Provider
	groups.Notifier
	Reassign(tab tabs.TabID, gid tabs.GroupID, index int) error
	Forget(tab tabs.TabID)
}

// Refresher is notified when group order or membership changed without a
// node change. *projection.Projection implements it.
type Refresher interface {
	Refresh()
}

// Options configures a View.
type Options struct {
	// Window is the host window the view mirrors.
	Window tabs.WindowID
	// Self is the view's own hosting tab, never mirrored.
	Self tabs.TabID

	Resolver   resolver.Options
	Thumbnails thumbnail.Options

	// Store is the persisted thumbnail tier; nil keeps thumbnails in memory.
	Store thumbnail.Store
	// FaviconLoader test-loads icons; nil uses an HTTP loader.
	FaviconLoader favicon.Loader
	// Projector receives node changes; it may also implement Refresher.
	Projector registry.Projector
}

// View is the owned state of one panel.
type View struct {
	host   tabs.Host
	groups Groups
	window tabs.WindowID
	self   tabs.TabID

	reg      *registry.Registry
	tracker  *active.Tracker
	resolver *resolver.Resolver
	nav      *navigator.Navigator
	thumbs   *thumbnail.Cache
	favicons *favicon.Validator
	refresh  Refresher
	sub      *Subscription

	// Tabs removed while a resync is in flight; the resync must not
	// resurrect them from its older host snapshot.
	syncMu  sync.Mutex
	syncing int
	gone    map[tabs.TabID]bool

	ctxMu sync.RWMutex
	ctx   context.Context
	bg    sync.WaitGroup
}

// New assembles a view over host and the group collaborator.
func New(host tabs.Host, g Groups, opts Options) (*View, error) {
	reg := registry.New(opts.Projector)
	thumbs, err := thumbnail.New(host, reg, opts.Store, opts.Thumbnails)
	if err != nil {
		return nil, fmt.Errorf("view: %w", err)
	}
	loader := opts.FaviconLoader
	if loader == nil {
		loader = favicon.NewHTTPLoader(0)
	}
	tracker := active.New(host, reg, opts.Window, opts.Self)

	v := &View{
		host:     host,
		groups:   g,
		window:   opts.Window,
		self:     opts.Self,
		reg:      reg,
		tracker:  tracker,
		resolver: resolver.New(g, g, opts.Resolver),
		nav:      navigator.New(g, tracker, host),
		thumbs:   thumbs,
		favicons: favicon.NewValidator(loader, reg),
		gone:     make(map[tabs.TabID]bool),
		ctx:      context.Background(),
	}
	if r, ok := opts.Projector.(Refresher); ok {
		v.refresh = r
	}
	v.sub = NewSubscription(v.onVisible, nil)
	return v, nil
}

// Registry exposes the tab registry.
func (v *View) Registry() *registry.Registry { return v.reg }

// Tracker exposes the active tab tracker.
func (v *View) Tracker() *active.Tracker { return v.tracker }

// Thumbnails exposes the thumbnail cache.
func (v *View) Thumbnails() *thumbnail.Cache { return v.thumbs }

// Subscription exposes the visibility-scoped listeners.
func (v *View) Subscription() *Subscription { return v.sub }

// Window returns the observed window.
func (v *View) Window() tabs.WindowID { return v.window }

func (v *View) context() context.Context {
	v.ctxMu.RLock()
	defer v.ctxMu.RUnlock()
	return v.ctx
}

// goAsync runs a continuation off the dispatch path.
func (v *View) goAsync(fn func(ctx context.Context)) {
	ctx := v.context()
	v.bg.Add(1)
	go func() {
		defer v.bg.Done()
		fn(ctx)
	}()
}

// Wait blocks until every continuation started so far has finished.
func (v *View) Wait() {
	v.bg.Wait()
}

func (v *View) refreshLayout() {
	if v.refresh != nil {
		v.refresh.Refresh()
	}
}

// Run loads the window and then dispatches events until ctx ends or the
// channel closes. In-flight continuations are awaited before it returns.
func (v *View) Run(ctx context.Context, events <-chan tabs.Event) error {
	v.ctxMu.Lock()
	v.ctx = ctx
	v.ctxMu.Unlock()
	defer v.Wait()

	if err := v.Load(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			v.Dispatch(ev)
		}
	}
}

// Load mirrors the window's current tabs and arms the visibility
// subscription. The snapshot it loaded also seeds the first thumbnail
// batch and active-tab recompute, so the host is queried once.
func (v *View) Load(ctx context.Context) error {
	list, err := v.Resync(ctx)
	if err != nil {
		return err
	}
	v.sub.Arm()
	v.goAsync(func(ctx context.Context) { v.refreshVisible(ctx, list) })
	return nil
}

// Resync reconciles the registry with the host: missing tabs are inserted
// and tabs the host no longer reports are removed. Returns the host's view
// of the window without the view's own tab.
func (v *View) Resync(ctx context.Context) ([]tabs.Tab, error) {
	before := v.reg.IDs()
	v.beginSync()
	defer v.endSync()

	list, err := v.host.Query(ctx, v.window)
	if err != nil {
		return nil, fmt.Errorf("view: query window %d: %w", v.window, err)
	}
	list = tabs.Without(list, v.self)

	open := make(map[tabs.TabID]bool, len(list))
	kept := list[:0]
	for _, t := range list {
		inserted, ok := v.syncTab(t)
		if !ok {
			continue
		}
		open[t.ID] = true
		kept = append(kept, t)
		if inserted {
			v.follow(t)
		}
	}
	// Only tabs known before the query can be stale; newer ones arrived
	// through events the snapshot predates.
	for _, id := range before {
		if !open[id] {
			v.removeTab(id)
		}
	}
	v.refreshLayout()
	logging.Aggregate(logging.CompView, "resync", slog.Int("tabs", len(kept)))
	return kept, nil
}

func (v *View) beginSync() {
	v.syncMu.Lock()
	v.syncing++
	v.syncMu.Unlock()
}

func (v *View) endSync() {
	v.syncMu.Lock()
	v.syncing--
	if v.syncing == 0 {
		clear(v.gone)
	}
	v.syncMu.Unlock()
}

// syncTab applies one snapshot entry. The tombstone check and the insert
// happen under syncMu so a removal cannot slip in between them. ok is
// false for a tab removed since the snapshot was taken.
func (v *View) syncTab(t tabs.Tab) (inserted, ok bool) {
	v.syncMu.Lock()
	defer v.syncMu.Unlock()
	if v.gone[t.ID] {
		return false, false
	}
	if v.reg.Has(t.ID) {
		v.reg.Update(t)
		return false, true
	}
	return v.insert(t), true
}

// Dispatch applies one host event. Events for other windows and for the
// view's own tab are ignored.
func (v *View) Dispatch(ev tabs.Event) {
	if err := ev.Validate(); err != nil {
		viewLog.Warn("event_invalid", slog.String("error", err.Error()))
		return
	}
	id := ev.ID()
	logging.Aggregate(logging.CompView, "event_"+string(ev.Kind))

	if ev.Window() != v.window {
		return
	}
	if id == v.self && ev.Kind != tabs.EventActivated {
		return
	}

	switch ev.Kind {
	case tabs.EventCreated:
		v.tabCreated(*ev.Tab)
	case tabs.EventRemoved, tabs.EventDetached:
		v.removeTab(id)
		v.refreshLayout()
	case tabs.EventUpdated:
		v.tabUpdated(*ev.Tab, ev.Change)
	case tabs.EventMoved:
		v.tabMoved(id)
	case tabs.EventAttached:
		v.tabAttached(ev)
	case tabs.EventActivated:
		v.tabActivated(id)
	}
}

func (v *View) tabCreated(t tabs.Tab) {
	if v.reg.Has(t.ID) {
		// attached and created can both report the same tab
		v.reg.Update(t)
		return
	}
	v.materialize(t)
}

// materialize inserts a node and starts its continuations.
func (v *View) materialize(t tabs.Tab) {
	if v.insert(t) {
		v.follow(t)
	}
}

func (v *View) insert(t tabs.Tab) bool {
	if _, err := v.reg.Insert(t); err != nil {
		if errors.Is(err, registry.ErrDuplicateTab) {
			viewLog.Debug("insert_duplicate", slog.Int64("tab_id", int64(t.ID)))
			return false
		}
		viewLog.Error("insert_failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// follow starts a fresh node's continuations: favicon validation,
// thumbnail read and group resolution.
func (v *View) follow(t tabs.Tab) {
	v.validateFavicon(t)
	v.goAsync(func(ctx context.Context) {
		v.thumbs.Show(t.ID)
	})
	v.goAsync(func(ctx context.Context) {
		v.resolveGroup(ctx, t.ID)
	})
}

// validateFavicon claims the tab's next validation on the dispatch path,
// so only the latest candidate can commit.
func (v *View) validateFavicon(t tabs.Tab) {
	check := v.favicons.Begin(t.ID)
	v.goAsync(func(ctx context.Context) {
		check.Run(ctx, t.URL, t.FavIconURL)
	})
}

func (v *View) resolveGroup(ctx context.Context, id tabs.TabID) {
	gid, err := v.resolver.Resolve(ctx, id)
	if err != nil && !errors.Is(err, resolver.ErrUnassigned) {
		return
	}
	if !v.reg.SetGroup(id, gid) {
		viewLog.Debug("resolved_after_removal", slog.Int64("tab_id", int64(id)))
		return
	}
	v.refreshLayout()
}

func (v *View) removeTab(id tabs.TabID) {
	v.syncMu.Lock()
	if v.syncing > 0 {
		v.gone[id] = true
	}
	v.reg.Remove(id)
	v.syncMu.Unlock()

	v.groups.Forget(id)
	if v.tracker.Invalidate(id) {
		v.goAsync(func(ctx context.Context) { v.recompute(ctx) })
	}
}

func (v *View) tabUpdated(t tabs.Tab, change *tabs.ChangeInfo) {
	if !v.reg.Update(t) {
		return
	}
	if change == nil || change.FavIconURL != nil || change.URL != nil {
		v.validateFavicon(t)
	}
	if change != nil && change.Pinned != nil {
		v.refreshLayout()
	}
	if change != nil && change.Status != nil && *change.Status == tabs.StatusComplete && v.sub.Enabled() {
		v.goAsync(func(ctx context.Context) {
			if err := v.thumbs.Capture(ctx, t.ID); err != nil {
				viewLog.Debug("capture_on_load_failed",
					slog.Int64("tab_id", int64(t.ID)),
					slog.String("error", err.Error()))
			}
		})
	}
}

func (v *View) tabMoved(id tabs.TabID) {
	v.goAsync(func(ctx context.Context) {
		t, err := v.host.Get(ctx, id)
		if err != nil {
			viewLog.Debug("moved_tab_gone", slog.Int64("tab_id", int64(id)))
			return
		}
		if v.reg.Update(t) {
			v.refreshLayout()
		}
	})
}

// tabAttached inserts a minimal node right away so a detach racing the
// host lookup still finds something to remove, then fills it in.
func (v *View) tabAttached(ev tabs.Event) {
	id := ev.ID()
	minimal := tabs.Tab{ID: id, WindowID: v.window}
	if ev.Tab != nil {
		minimal = *ev.Tab
		minimal.WindowID = v.window
	}
	if v.reg.Has(id) {
		return
	}
	v.materialize(minimal)
	if ev.Tab != nil {
		return
	}
	check := v.favicons.Begin(id)
	v.goAsync(func(ctx context.Context) {
		t, err := v.host.Get(ctx, id)
		if err != nil {
			viewLog.Debug("attached_tab_gone", slog.Int64("tab_id", int64(id)))
			return
		}
		if v.reg.Update(t) {
			check.Run(ctx, t.URL, t.FavIconURL)
		}
	})
}

func (v *View) tabActivated(id tabs.TabID) {
	if id == v.self {
		ids := v.reg.IDs()
		v.goAsync(func(ctx context.Context) { v.thumbs.ShowAll(ids) })
	}
	v.goAsync(func(ctx context.Context) { v.recompute(ctx) })
}

func (v *View) recompute(ctx context.Context) {
	if _, err := v.tracker.Recompute(ctx); err != nil && ctx.Err() == nil {
		viewLog.Warn("active_recompute_failed", slog.String("error", err.Error()))
	}
}

// SetVisible toggles the visibility subscription. Becoming visible
// resyncs, captures a thumbnail batch and recomputes the active tab.
func (v *View) SetVisible(visible bool) {
	if visible {
		v.sub.Enable()
		return
	}
	v.sub.Disable()
}

func (v *View) onVisible() {
	v.goAsync(func(ctx context.Context) {
		list, err := v.Resync(ctx)
		if err != nil {
			viewLog.Warn("resync_failed", slog.String("error", err.Error()))
			return
		}
		v.refreshVisible(ctx, list)
	})
}

// refreshVisible recomputes the active tab and captures every loaded tab
// in list.
func (v *View) refreshVisible(ctx context.Context, list []tabs.Tab) {
	v.recompute(ctx)

	ids := make([]tabs.TabID, 0, len(list))
	for _, t := range list {
		if !t.Discarded {
			ids = append(ids, t.ID)
		}
	}
	v.thumbs.CaptureAll(ctx, ids)
}

// Key handles a navigation key.
func (v *View) Key(ctx context.Context, k navigator.Key) bool {
	moved, err := v.nav.Handle(ctx, k)
	if err != nil {
		viewLog.Warn("navigation_failed",
			slog.String("key", k.String()),
			slog.String("error", err.Error()))
	}
	return moved
}

// Click selects a tab and brings it to the foreground.
func (v *View) Click(ctx context.Context, id tabs.TabID) error {
	if !v.reg.Has(id) {
		return nil
	}
	v.tracker.SetActive(id)
	if err := v.host.Activate(ctx, id); err != nil {
		return fmt.Errorf("view: activate %d: %w", id, err)
	}
	return nil
}

// MiddleClick closes a tab, like the close button.
func (v *View) MiddleClick(ctx context.Context, id tabs.TabID) error {
	return v.Close(ctx, id)
}

// Close asks the host to close a tab. The node goes away when the host's
// removed event arrives.
func (v *View) Close(ctx context.Context, id tabs.TabID) error {
	if !v.reg.Has(id) {
		return nil
	}
	if err := v.host.Remove(ctx, id); err != nil {
		return fmt.Errorf("view: close %d: %w", id, err)
	}
	return nil
}

// MoveTab is the drop target of a drag: it reassigns the tab to gid at
// index in that group.
func (v *View) MoveTab(id tabs.TabID, gid tabs.GroupID, index int) error {
	if !v.reg.Has(id) {
		return nil
	}
	if err := v.groups.Reassign(id, gid, index); err != nil {
		return fmt.Errorf("view: move %d: %w", id, err)
	}
	v.reg.SetGroup(id, gid)
	v.refreshLayout()
	return nil
}

// CreateGroup adds an empty group.
func (v *View) CreateGroup(name string) groups.Group {
	g := v.groups.Create(name)
	v.refreshLayout()
	return g
}

// Lookup resolves a tab's thumbnail for display.
func (v *View) Lookup(id tabs.TabID) thumbnail.Entry {
	return v.thumbs.Lookup(id)
}
