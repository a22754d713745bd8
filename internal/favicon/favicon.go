// Package favicon test-loads candidate tab icons before they are shown.
package favicon

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/tabs"
)

var favLog = logging.ForComponent(logging.CompFavicon)

// PlaceholderPrefix marks the host's built-in placeholder icons.
const PlaceholderPrefix = "chrome://mozapps/skin/"

// DefaultTimeout bounds one HTTP test-load.
const DefaultTimeout = 5 * time.Second

const maxIconBytes = 1 << 20

var (
	ErrNotImage    = errors.New("favicon: not an image")
	ErrUnsupported = errors.New("favicon: unsupported scheme")
)

// Skip reports whether a candidate is hidden without loading it: empty,
// a host placeholder, or the page itself.
func Skip(iconURL, pageURL string) bool {
	return iconURL == "" ||
		strings.HasPrefix(iconURL, PlaceholderPrefix) ||
		iconURL == pageURL
}

// Loader test-loads an icon. A nil error means the icon is displayable.
type Loader interface {
	Load(ctx context.Context, iconURL string) error
}

// HTTPLoader loads data: and http(s) icons.
type HTTPLoader struct {
	Client *http.Client
}

// NewHTTPLoader returns a loader with a bounded client.
func NewHTTPLoader(timeout time.Duration) *HTTPLoader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPLoader{Client: &http.Client{Timeout: timeout}}
}

// Load implements Loader.
func (l *HTTPLoader) Load(ctx context.Context, iconURL string) error {
	if strings.HasPrefix(iconURL, "data:") {
		return loadDataURL(iconURL)
	}
	u, err := url.Parse(iconURL)
	if err != nil {
		return fmt.Errorf("favicon: parse %q: %w", iconURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %s", ErrUnsupported, u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iconURL, nil)
	if err != nil {
		return fmt.Errorf("favicon: request: %w", err)
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return fmt.Errorf("favicon: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("favicon: status %d", resp.StatusCode)
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIconBytes))
	if err != nil {
		return fmt.Errorf("favicon: read: %w", err)
	}
	return decodable(body)
}

func loadDataURL(raw string) error {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok || !strings.HasPrefix(meta, "image/") {
		return ErrNotImage
	}
	var data []byte
	if strings.HasSuffix(meta, ";base64") {
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return fmt.Errorf("favicon: data url: %w", err)
		}
		data = b
	} else {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return fmt.Errorf("favicon: data url: %w", err)
		}
		data = []byte(s)
	}
	if len(data) == 0 {
		return ErrNotImage
	}
	// svg and ico have no stdlib decoder; a non-empty payload is enough.
	if strings.HasPrefix(meta, "image/svg") || strings.HasPrefix(meta, "image/x-icon") || strings.HasPrefix(meta, "image/vnd.microsoft.icon") {
		return nil
	}
	return decodable(data)
}

func decodable(data []byte) error {
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return ErrNotImage
	}
	return nil
}

// Registry is the subset of *registry.Registry the validator touches.
type Registry interface {
	SetFavicon(id tabs.TabID, iconURL string, visible bool) bool
}

// Validator commits icons to nodes only after a successful test-load.
// Validations of one tab may finish out of order; only the most recently
// begun one commits.
type Validator struct {
	loader Loader
	reg    Registry

	mu     sync.Mutex
	seq    uint64
	latest map[tabs.TabID]uint64
}

// NewValidator creates a validator.
func NewValidator(loader Loader, reg Registry) *Validator {
	return &Validator{loader: loader, reg: reg, latest: make(map[tabs.TabID]uint64)}
}

// Check is one claimed validation of a tab's icon.
type Check struct {
	v   *Validator
	id  tabs.TabID
	gen uint64
}

// Begin claims the next validation of id, superseding any in flight.
// Call it in event order, before handing the check to a goroutine.
func (v *Validator) Begin(id tabs.TabID) Check {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	v.latest[id] = v.seq
	return Check{v: v, id: id, gen: v.seq}
}

// Validate begins and runs a validation in one step.
func (v *Validator) Validate(ctx context.Context, id tabs.TabID, pageURL, iconURL string) bool {
	return v.Begin(id).Run(ctx, pageURL, iconURL)
}

// Run test-loads the candidate icon and commits the outcome. It may block
// on the network; run it off the event loop. A node removed meanwhile is
// left alone, as is one whose validation was superseded. Returns whether
// this check committed a visible icon.
func (c Check) Run(ctx context.Context, pageURL, iconURL string) bool {
	if Skip(iconURL, pageURL) {
		c.commit("", false)
		return false
	}
	if err := c.v.loader.Load(ctx, iconURL); err != nil {
		favLog.Debug("favicon_hidden",
			slog.Int64("tab_id", int64(c.id)),
			slog.String("error", err.Error()))
		c.commit("", false)
		return false
	}
	return c.commit(iconURL, true)
}

func (c Check) commit(iconURL string, visible bool) bool {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()
	if c.v.latest[c.id] != c.gen {
		favLog.Debug("favicon_superseded", slog.Int64("tab_id", int64(c.id)))
		return false
	}
	delete(c.v.latest, c.id)
	c.v.reg.SetFavicon(c.id, iconURL, visible)
	return visible
}
