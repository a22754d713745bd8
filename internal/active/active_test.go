package active

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabdeck/tabdeck/internal/registry"
	"github.com/tabdeck/tabdeck/internal/tabs"
	"github.com/tabdeck/tabdeck/internal/tabs/tabstest"
)

const (
	window = tabs.WindowID(1)
	self   = tabs.TabID(100)
)

func setup(t *testing.T, list ...tabs.Tab) (*tabstest.Host, *registry.Registry, *Tracker) {
	t.Helper()
	host := tabstest.NewHost(list...)
	reg := registry.New(nil)
	for _, tab := range list {
		if tab.ID == self || tab.WindowID != window {
			continue
		}
		_, err := reg.Insert(tab)
		require.NoError(t, err)
	}
	return host, reg, New(host, reg, window, self)
}

func at(id tabs.TabID, win tabs.WindowID, ago time.Duration) tabs.Tab {
	return tabs.Tab{ID: id, WindowID: win, LastAccessed: time.Now().Add(-ago)}
}

func TestRecomputePicksMostRecent(t *testing.T) {
	_, reg, tr := setup(t,
		at(1, window, 3*time.Minute),
		at(2, window, time.Minute),
		at(3, window, 2*time.Minute),
		at(self, window, 0), // the panel itself is always the newest
		at(4, 2, 0),         // other window
	)

	got, err := tr.Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tabs.TabID(2), got)
	assert.Equal(t, tabs.TabID(2), tr.Active())
	assert.Equal(t, []tabs.TabID{2}, reg.Selected())
}

func TestRecomputeMovesSelection(t *testing.T) {
	host, reg, tr := setup(t, at(1, window, time.Minute), at(2, window, 2*time.Minute))

	_, err := tr.Recompute(context.Background())
	require.NoError(t, err)
	require.Equal(t, []tabs.TabID{1}, reg.Selected())

	require.NoError(t, host.Activate(context.Background(), 2))
	_, err = tr.Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []tabs.TabID{2}, reg.Selected(), "exactly one entry selected")
}

func TestRecomputeEmptyWindow(t *testing.T) {
	_, reg, tr := setup(t, at(self, window, 0))

	got, err := tr.Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tabs.NoTab, got)
	assert.Equal(t, tabs.NoTab, tr.Active())
	assert.Empty(t, reg.Selected())
}

func TestRecomputeHeadNotRegistered(t *testing.T) {
	host, reg, tr := setup(t, at(1, window, time.Minute))
	// Host knows a newer tab the registry has not seen yet.
	host.Put(at(2, window, 0))

	got, err := tr.Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tabs.TabID(2), got)
	assert.Empty(t, reg.Selected())
}

func TestActiveAfterRemoval(t *testing.T) {
	_, reg, tr := setup(t, at(1, window, time.Minute), at(2, window, 2*time.Minute))
	_, err := tr.Recompute(context.Background())
	require.NoError(t, err)

	reg.Remove(1)
	assert.Equal(t, tabs.NoTab, tr.Active(), "removed active tab must not be read back")
}

func TestInvalidate(t *testing.T) {
	_, _, tr := setup(t, at(1, window, time.Minute))
	tr.SetActive(1)

	assert.False(t, tr.Invalidate(2))
	assert.Equal(t, tabs.TabID(1), tr.Active())
	assert.True(t, tr.Invalidate(1))
	assert.Equal(t, tabs.NoTab, tr.Active())
}

func TestStaleRecomputeIsDiscarded(t *testing.T) {
	host, reg, tr := setup(t, at(1, window, time.Minute), at(2, window, 2*time.Minute))
	host.QueryDelay = 50 * time.Millisecond

	done := make(chan tabs.TabID)
	go func() {
		got, _ := tr.Recompute(context.Background())
		done <- got
	}()

	time.Sleep(10 * time.Millisecond)
	tr.SetActive(2)

	select {
	case got := <-done:
		assert.Equal(t, tabs.TabID(2), got, "superseded recompute reports the newer state")
	case <-time.After(2 * time.Second):
		t.Fatal("recompute did not return")
	}
	assert.Equal(t, tabs.TabID(2), tr.Active())
	assert.Equal(t, []tabs.TabID{2}, reg.Selected())
}

func TestRecomputeQueryError(t *testing.T) {
	host, _, tr := setup(t, at(1, window, time.Minute))
	host.QueryDelay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := tr.Recompute(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
