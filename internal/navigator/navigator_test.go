package navigator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabdeck/tabdeck/internal/active"
	"github.com/tabdeck/tabdeck/internal/groups"
	"github.com/tabdeck/tabdeck/internal/registry"
	"github.com/tabdeck/tabdeck/internal/tabs"
	"github.com/tabdeck/tabdeck/internal/tabs/tabstest"
)

const (
	a tabs.TabID = 11
	b tabs.TabID = 12
	c tabs.TabID = 21
	d tabs.TabID = 22
)

type env struct {
	host    *tabstest.Host
	reg     *registry.Registry
	store   *groups.Store
	tracker *active.Tracker
	nav     *Navigator
}

// newEnv builds G1{a,b}, G2{c,d} plus any extra groups.
func newEnv(t *testing.T, extra ...groups.Group) env {
	t.Helper()
	host := tabstest.NewHost()
	reg := registry.New(nil)
	store := groups.NewStore()
	list := append([]groups.Group{
		{ID: 1, Name: "G1", Tabs: []tabs.TabID{a, b}},
		{ID: 2, Name: "G2", Tabs: []tabs.TabID{c, d}},
	}, extra...)
	store.Replace(list)
	for _, g := range list {
		for _, id := range g.Tabs {
			tab := tabs.Tab{ID: id, WindowID: 1}
			host.Put(tab)
			_, err := reg.Insert(tab)
			require.NoError(t, err)
		}
	}
	tracker := active.New(host, reg, 1, tabs.NoTab)
	return env{host: host, reg: reg, store: store, tracker: tracker, nav: New(store, tracker, host)}
}

func TestNavigationAcrossGroups(t *testing.T) {
	tests := []struct {
		name string
		from tabs.TabID
		key  Key
		want tabs.TabID
	}{
		{"next within group", a, KeyNext, b},
		{"next wraps to next group", b, KeyNext, c},
		{"next wraps last group to first", d, KeyNext, a},
		{"previous within group", d, KeyPrevious, c},
		{"previous wraps to previous group", c, KeyPrevious, b},
		{"previous wraps first group to last", a, KeyPrevious, d},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.tracker.SetActive(tt.from)

			moved, err := e.nav.Handle(context.Background(), tt.key)
			require.NoError(t, err)
			require.True(t, moved)
			assert.Equal(t, tt.want, e.tracker.Active())
			assert.Equal(t, []tabs.TabID{tt.want}, e.reg.Selected())
		})
	}
}

func TestNavigationDoesNotMutateGroups(t *testing.T) {
	e := newEnv(t)
	before := e.store.List()

	e.tracker.SetActive(a)
	for i := 0; i < 9; i++ {
		e.nav.Previous()
	}
	for i := 0; i < 9; i++ {
		e.nav.Next()
	}

	assert.Equal(t, before, e.store.List())
	assert.Equal(t, a, e.tracker.Active(), "nine back and nine forward lands where it started")
}

func TestNavigationSkipsEmptyGroups(t *testing.T) {
	e := newEnv(t, groups.Group{ID: 3, Name: "empty"})

	e.tracker.SetActive(d)
	require.True(t, e.nav.Next())
	assert.Equal(t, a, e.tracker.Active())

	require.True(t, e.nav.Previous())
	assert.Equal(t, d, e.tracker.Active())
}

func TestSingleGroupWrapsWithin(t *testing.T) {
	e := newEnv(t)
	e.store.Replace([]groups.Group{{ID: 1, Tabs: []tabs.TabID{a, b}}})

	e.tracker.SetActive(b)
	require.True(t, e.nav.Next())
	assert.Equal(t, a, e.tracker.Active())
}

func TestNavigationNoops(t *testing.T) {
	e := newEnv(t)

	// Nothing active.
	assert.False(t, e.nav.Next())

	// Active tab in no group.
	_, err := e.reg.Insert(tabs.Tab{ID: 99, WindowID: 1})
	require.NoError(t, err)
	e.tracker.SetActive(99)
	assert.False(t, e.nav.Next())
	assert.False(t, e.nav.Previous())
	assert.Equal(t, tabs.TabID(99), e.tracker.Active())

	// Empty group list.
	e.store.Replace(nil)
	e.tracker.SetActive(a)
	assert.False(t, e.nav.Next())
}

func TestActivate(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.nav.Activate(context.Background()))
	assert.Empty(t, e.host.Activated(), "no active tab, no host call")

	e.tracker.SetActive(c)
	moved, err := e.nav.Handle(context.Background(), KeyActivate)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []tabs.TabID{c}, e.host.Activated())
}

func TestActivateHostError(t *testing.T) {
	e := newEnv(t)
	e.tracker.SetActive(c)
	e.host.Delete(c)

	err := e.nav.Activate(context.Background())
	require.ErrorIs(t, err, tabstest.ErrNoTab)
}
