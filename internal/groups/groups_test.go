package groups

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabdeck/tabdeck/internal/tabs"
)

func TestCreateKeepsCreationOrder(t *testing.T) {
	s := NewStore()
	a := s.Create("work")
	b := s.Create("")
	c := s.Create("news")

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, []tabs.GroupID{a.ID, b.ID, c.ID}, []tabs.GroupID{list[0].ID, list[1].ID, list[2].ID})
	assert.Equal(t, DefaultGroupName, list[1].Name)

	var seen []tabs.GroupID
	s.ForEach(func(g Group) { seen = append(seen, g.ID) })
	assert.Equal(t, []tabs.GroupID{a.ID, b.ID, c.ID}, seen)
}

func TestAssignConverges(t *testing.T) {
	s := NewStore()
	s.Create("g1")
	g2 := s.Create("g2")

	_, ok := s.Lookup(7)
	require.False(t, ok, "nothing committed yet")

	got, err := s.Assign(7, g2.ID)
	require.NoError(t, err)
	require.Equal(t, g2.ID, got)

	// Every later poll returns the committed group, even when the
	// classifier repeats itself with a different answer.
	for i := 0; i < 100; i++ {
		gid, ok := s.Lookup(7)
		require.True(t, ok)
		require.Equal(t, g2.ID, gid)
		if i == 50 {
			again, err := s.Assign(7, 1)
			require.NoError(t, err)
			require.Equal(t, g2.ID, again)
		}
	}

	require.NoError(t, s.Reassign(7, 1, -1))
	gid, _ := s.Lookup(7)
	assert.Equal(t, tabs.GroupID(1), gid)
}

func TestAssignUnknownGroup(t *testing.T) {
	s := NewStore()
	_, err := s.Assign(1, 42)
	require.ErrorIs(t, err, ErrNoGroup)
	_, ok := s.Lookup(1)
	assert.False(t, ok)
}

func TestReassignPositions(t *testing.T) {
	s := NewStore()
	g1 := s.Create("g1")
	g2 := s.Create("g2")
	for _, id := range []tabs.TabID{1, 2, 3} {
		_, err := s.Assign(id, g1.ID)
		require.NoError(t, err)
	}

	require.NoError(t, s.Reassign(3, g1.ID, 0))
	g, _ := s.Get(g1.ID)
	assert.Equal(t, []tabs.TabID{3, 1, 2}, g.Tabs)

	require.NoError(t, s.Reassign(1, g2.ID, 10))
	g, _ = s.Get(g1.ID)
	assert.Equal(t, []tabs.TabID{3, 2}, g.Tabs)
	g, _ = s.Get(g2.ID)
	assert.Equal(t, []tabs.TabID{1}, g.Tabs)

	require.ErrorIs(t, s.Reassign(1, 99, 0), ErrNoGroup)
}

func TestListReturnsCopies(t *testing.T) {
	s := NewStore()
	g := s.Create("g")
	_, err := s.Assign(1, g.ID)
	require.NoError(t, err)
	_, err = s.Assign(2, g.ID)
	require.NoError(t, err)

	list := s.List()
	list[0].Tabs = list[0].Tabs[:len(list[0].Tabs)-1]
	list[0].Tabs[0] = 99

	fresh, _ := s.Get(g.ID)
	assert.Equal(t, []tabs.TabID{1, 2}, fresh.Tabs)
}

func TestSubscribeDeliversCommit(t *testing.T) {
	s := NewStore()
	g := s.Create("g")

	ch, cancel := s.Subscribe(5)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = s.Assign(5, g.ID)
	}()

	select {
	case gid := <-ch:
		assert.Equal(t, g.ID, gid)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}
}

func TestSubscribeAlreadyCommitted(t *testing.T) {
	s := NewStore()
	g := s.Create("g")
	_, err := s.Assign(5, g.ID)
	require.NoError(t, err)

	ch, cancel := s.Subscribe(5)
	defer cancel()
	assert.Equal(t, g.ID, <-ch)
}

func TestSubscribeCancel(t *testing.T) {
	s := NewStore()
	_, cancel := s.Subscribe(5)
	cancel()
	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Empty(t, s.waiters)
}

func TestReplaceAndDelete(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Subscribe(8)
	defer cancel()

	s.Replace([]Group{
		{ID: 4, Name: "b", Tabs: []tabs.TabID{8, 9}},
		{ID: 2, Name: "a", Tabs: []tabs.TabID{10}},
	})

	assert.Equal(t, tabs.GroupID(4), <-ch)
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, tabs.GroupID(4), list[0].ID, "snapshot order is kept")

	next := s.Create("c")
	assert.Equal(t, tabs.GroupID(5), next.ID, "ids continue after the highest known id")

	s.Delete(4)
	_, ok := s.Lookup(8)
	assert.False(t, ok)
	assert.Len(t, s.List(), 2)
}

func TestForget(t *testing.T) {
	s := NewStore()
	g := s.Create("g")
	_, _ = s.Assign(1, g.ID)
	_, _ = s.Assign(2, g.ID)
	s.Forget(1)

	got, _ := s.Get(g.ID)
	assert.Equal(t, []tabs.TabID{2}, got.Tabs)
	_, ok := s.Lookup(1)
	assert.False(t, ok)
}
