// Package tabstest provides an in-memory tab host for tests.
package tabstest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tabdeck/tabdeck/internal/tabs"
)

// ErrNoTab is returned for ids the host does not know.
var ErrNoTab = errors.New("tabstest: no such tab")

// Host is a thread-safe fake tabs.Host.
type Host struct {
	mu        sync.Mutex
	tabs      map[tabs.TabID]tabs.Tab
	images    map[tabs.TabID][]byte
	failing   map[tabs.TabID]error
	activated []tabs.TabID
	removed   []tabs.TabID
	captures  []tabs.TabID
	queries   int
	inFlight  int
	maxFlight int

	// QueryDelay, when set, is slept before Query answers.
	QueryDelay time.Duration
	// CaptureDelay, when set, is slept inside Capture.
	CaptureDelay time.Duration
}

// NewHost returns a host holding the given tabs.
func NewHost(list ...tabs.Tab) *Host {
	h := &Host{
		tabs:    make(map[tabs.TabID]tabs.Tab),
		images:  make(map[tabs.TabID][]byte),
		failing: make(map[tabs.TabID]error),
	}
	for _, t := range list {
		h.tabs[t.ID] = t
	}
	return h
}

// Put adds or replaces a tab.
func (h *Host) Put(t tabs.Tab) {
	h.mu.Lock()
	h.tabs[t.ID] = t
	h.mu.Unlock()
}

// Delete drops a tab.
func (h *Host) Delete(id tabs.TabID) {
	h.mu.Lock()
	delete(h.tabs, id)
	h.mu.Unlock()
}

// SetImage sets the bytes Capture returns for a tab.
func (h *Host) SetImage(id tabs.TabID, data []byte) {
	h.mu.Lock()
	h.images[id] = data
	h.mu.Unlock()
}

// FailCapture makes Capture return err for a tab.
func (h *Host) FailCapture(id tabs.TabID, err error) {
	h.mu.Lock()
	h.failing[id] = err
	h.mu.Unlock()
}

// Query implements tabs.Host.
func (h *Host) Query(ctx context.Context, window tabs.WindowID) ([]tabs.Tab, error) {
	if h.QueryDelay > 0 {
		select {
		case <-time.After(h.QueryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queries++
	out := make([]tabs.Tab, 0, len(h.tabs))
	for _, t := range h.tabs {
		if t.WindowID == window {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Get implements tabs.Host.
func (h *Host) Get(_ context.Context, id tabs.TabID) (tabs.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[id]
	if !ok {
		return tabs.Tab{}, fmt.Errorf("get %d: %w", id, ErrNoTab)
	}
	return t, nil
}

// Activate implements tabs.Host and stamps LastAccessed.
func (h *Host) Activate(_ context.Context, id tabs.TabID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[id]
	if !ok {
		return fmt.Errorf("activate %d: %w", id, ErrNoTab)
	}
	t.LastAccessed = time.Now()
	h.tabs[id] = t
	h.activated = append(h.activated, id)
	return nil
}

// Remove implements tabs.Host.
func (h *Host) Remove(_ context.Context, id tabs.TabID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.tabs, id)
	h.removed = append(h.removed, id)
	return nil
}

// Capture implements tabs.Host.
func (h *Host) Capture(ctx context.Context, id tabs.TabID, _ int) ([]byte, error) {
	h.mu.Lock()
	h.inFlight++
	if h.inFlight > h.maxFlight {
		h.maxFlight = h.inFlight
	}
	h.captures = append(h.captures, id)
	err := h.failing[id]
	data := h.images[id]
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.inFlight--
		h.mu.Unlock()
	}()

	if h.CaptureDelay > 0 {
		select {
		case <-time.After(h.CaptureDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("capture %d: %w", id, ErrNoTab)
	}
	return data, nil
}

// Queries returns how many times Query answered.
func (h *Host) Queries() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queries
}

// Activated returns the ids passed to Activate, in order.
func (h *Host) Activated() []tabs.TabID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]tabs.TabID(nil), h.activated...)
}

// Removed returns the ids passed to Remove, in order.
func (h *Host) Removed() []tabs.TabID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]tabs.TabID(nil), h.removed...)
}

// Captures returns the ids passed to Capture, in order.
func (h *Host) Captures() []tabs.TabID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]tabs.TabID(nil), h.captures...)
}

// MaxConcurrentCaptures reports the highest number of captures in flight.
func (h *Host) MaxConcurrentCaptures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxFlight
}
