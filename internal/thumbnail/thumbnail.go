// Package thumbnail captures, downsamples and serves tab previews.
//
// Images live in two tiers: a bounded in-memory LRU ("live") and a
// session-scoped SQLite store ("persisted"). Entries are keyed by tab id
// independently of the registry so they outlive a node's re-creation.
package thumbnail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/registry"
	"github.com/tabdeck/tabdeck/internal/tabs"
)

var thumbLog = logging.ForComponent(logging.CompThumb)

// Defaults for Options fields left zero.
const (
	DefaultWidth          = 500
	DefaultQuality        = 70
	DefaultCaptureQuality = 25
	DefaultCacheSize      = 128
	DefaultPerSecond      = 4.0
)

// Store is the persisted tier. *statedb.Session implements it.
type Store interface {
	Put(tabID int64, data []byte) error
	Get(tabID int64) ([]byte, bool, error)
}

// Registry is the subset of *registry.Registry the cache touches.
type Registry interface {
	Has(id tabs.TabID) bool
	SetThumbnail(id tabs.TabID, tier registry.Tier) bool
}

// Entry is one resolved thumbnail. Data is nil for the placeholder.
type Entry struct {
	TabID tabs.TabID
	Data  []byte
	Tier  registry.Tier
}

// Placeholder reports whether no image exists for the tab.
func (e Entry) Placeholder() bool {
	return e.Tier == registry.TierNone
}

// DataURL renders the entry for embedding, or "" for the placeholder.
func (e Entry) DataURL() string {
	if e.Placeholder() {
		return ""
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(e.Data)
}

// Options tunes the pipeline.
type Options struct {
	Width          int
	Quality        int
	CaptureQuality int
	CacheSize      int
	PerSecond      float64
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	if o.CaptureQuality <= 0 || o.CaptureQuality > 100 {
		o.CaptureQuality = DefaultCaptureQuality
	}
	if o.CacheSize <= 0 {
		o.CacheSize = DefaultCacheSize
	}
	if o.PerSecond <= 0 {
		o.PerSecond = DefaultPerSecond
	}
	return o
}

// Cache is the two-tier thumbnail cache.
type Cache struct {
	host  tabs.Host
	reg   Registry
	store Store
	opts  Options

	live    *lru.Cache[tabs.TabID, []byte]
	limiter *rate.Limiter

	// captureMu keeps exactly one host capture in flight.
	captureMu sync.Mutex
	// tierMu orders a lookup and its tier write against a capture
	// publishing a newer image.
	tierMu sync.Mutex
}

// New builds a cache. store may be nil, in which case only the live tier
// is used.
func New(host tabs.Host, reg Registry, store Store, opts Options) (*Cache, error) {
	opts = opts.withDefaults()
	live, err := lru.New[tabs.TabID, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("thumbnail: live cache: %w", err)
	}
	return &Cache{
		host:    host,
		reg:     reg,
		store:   store,
		opts:    opts,
		live:    live,
		limiter: rate.NewLimiter(rate.Limit(opts.PerSecond), 1),
	}, nil
}

// Capture refreshes one tab's thumbnail. A tab that left the registry
// before its turn is skipped without error.
func (c *Cache) Capture(ctx context.Context, id tabs.TabID) error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	return c.captureLocked(ctx, id)
}

// CaptureAll refreshes the given tabs one at a time. A failed capture is
// logged and skipped; only context cancellation stops the batch. Returns
// how many thumbnails were stored.
func (c *Cache) CaptureAll(ctx context.Context, ids []tabs.TabID) int {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	stored := 0
	for _, id := range ids {
		err := c.captureLocked(ctx, id)
		switch {
		case err == nil:
			stored++
		case ctx.Err() != nil:
			thumbLog.Debug("capture_batch_cancelled", slog.Int("stored", stored))
			return stored
		case errors.Is(err, errSkipped):
		default:
			thumbLog.Warn("capture_failed",
				slog.Int64("tab_id", int64(id)),
				slog.String("error", err.Error()))
		}
	}
	logging.Aggregate(logging.CompThumb, "capture_batch", slog.Int("stored", stored))
	return stored
}

var errSkipped = errors.New("thumbnail: tab gone")

func (c *Cache) captureLocked(ctx context.Context, id tabs.TabID) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if !c.reg.Has(id) {
		return errSkipped
	}

	raw, err := c.host.Capture(ctx, id, c.opts.CaptureQuality)
	if err != nil {
		return fmt.Errorf("thumbnail: capture %d: %w", id, err)
	}
	data, err := Downsample(raw, c.opts.Width, c.opts.Quality)
	if err != nil {
		return fmt.Errorf("thumbnail: tab %d: %w", id, err)
	}

	if c.store != nil {
		if err := c.store.Put(int64(id), data); err != nil {
			thumbLog.Warn("persist_failed",
				slog.Int64("tab_id", int64(id)),
				slog.String("error", err.Error()))
		}
	}
	c.tierMu.Lock()
	c.live.Add(id, data)
	c.reg.SetThumbnail(id, registry.TierLive)
	c.tierMu.Unlock()
	return nil
}

// Lookup resolves a thumbnail: live tier, then persisted tier, then the
// placeholder. It never fails; store errors degrade to the placeholder.
func (c *Cache) Lookup(id tabs.TabID) Entry {
	if data, ok := c.live.Get(id); ok {
		return Entry{TabID: id, Data: data, Tier: registry.TierLive}
	}
	if c.store != nil {
		data, ok, err := c.store.Get(int64(id))
		if err != nil {
			thumbLog.Warn("persisted_lookup_failed",
				slog.Int64("tab_id", int64(id)),
				slog.String("error", err.Error()))
		} else if ok {
			return Entry{TabID: id, Data: data, Tier: registry.TierPersisted}
		}
	}
	return Entry{TabID: id, Tier: registry.TierNone}
}

// Show resolves a tab's thumbnail and marks the node with the tier found.
// Call it off the event loop: the persisted tier does I/O. The node may
// be gone by the time the lookup returns, in which case nothing happens.
func (c *Cache) Show(id tabs.TabID) Entry {
	c.tierMu.Lock()
	defer c.tierMu.Unlock()
	e := c.Lookup(id)
	c.reg.SetThumbnail(id, e.Tier)
	return e
}

// ShowAll re-reads every listed tab's thumbnail.
func (c *Cache) ShowAll(ids []tabs.TabID) {
	for _, id := range ids {
		c.Show(id)
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.live.Len()
}
