package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tabdeck/tabdeck/internal/groups"
	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/tabs"
)

var bridgeLog = logging.ForComponent(logging.CompBridge)

// DefaultRequestTimeout bounds a single request to the extension.
const DefaultRequestTimeout = 5 * time.Second

var (
	ErrNotConnected = errors.New("bridge: no host connected")
	ErrDisconnected = errors.New("bridge: host disconnected")
	ErrTimeout      = errors.New("bridge: request timed out")
	ErrHost         = errors.New("bridge: host error")
	// ErrNoTab is returned when the extension reports an unknown tab.
	ErrNoTab = errors.New("bridge: no such tab")
)

// Request methods understood by the extension.
const (
	MethodQuery    = "query"
	MethodGet      = "get"
	MethodActivate = "activate"
	MethodRemove   = "remove"
	MethodCapture  = "capture"
)

// hostMessage is anything the extension sends.
type hostMessage struct {
	// hello, event, visibility, groups, group_assigned, group_removed, response
	Type string `json:"type"`
	ID   uint64 `json:"id,omitempty"`

	WindowID tabs.WindowID  `json:"windowId,omitempty"`
	TabID    tabs.TabID     `json:"tabId,omitempty"`
	GroupID  tabs.GroupID   `json:"groupId,omitempty"`
	Event    *tabs.Event    `json:"event,omitempty"`
	Hidden   *bool          `json:"hidden,omitempty"`
	Groups   []groups.Group `json:"groups,omitempty"`

	OK    bool       `json:"ok,omitempty"`
	Code  string     `json:"code,omitempty"`
	Error string     `json:"error,omitempty"`
	Tab   *tabs.Tab  `json:"tab,omitempty"`
	Tabs  []tabs.Tab `json:"tabs,omitempty"`
	Image string     `json:"image,omitempty"`
}

// GroupSink receives the classifier's decisions relayed by the extension.
// *groups.Store implements it.
type GroupSink interface {
	Replace(list []groups.Group)
	Assign(tab tabs.TabID, gid tabs.GroupID) (tabs.GroupID, error)
	Delete(id tabs.GroupID)
}

// request is what the bridge sends the extension.
type request struct {
	Type     string        `json:"type"`
	ID       uint64        `json:"id"`
	Method   string        `json:"method"`
	WindowID tabs.WindowID `json:"windowId,omitempty"`
	TabID    tabs.TabID    `json:"tabId,omitempty"`
	Quality  int           `json:"quality,omitempty"`
}

// Hello identifies the window the connected extension page lives in.
type Hello struct {
	WindowID tabs.WindowID `json:"windowId"`
	SelfID   tabs.TabID    `json:"tabId"`
}

type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSConnWriter(conn *websocket.Conn) *wsConnWriter {
	return &wsConnWriter{conn: conn}
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

// hostConn is one extension connection and its in-flight requests.
type hostConn struct {
	writer *wsConnWriter
	done   chan struct{}

	mu      sync.Mutex
	pending map[uint64]chan hostMessage
	closed  bool
}

func (c *hostConn) register(id uint64, ch chan hostMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.pending[id] = ch
	return true
}

func (c *hostConn) unregister(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *hostConn) deliver(msg hostMessage) bool {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	return true
}

func (c *hostConn) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	c.mu.Unlock()
}

// Bridge implements tabs.Host over the extension's websocket and fans its
// lifecycle events out on a channel. One extension is served at a time.
type Bridge struct {
	timeout time.Duration
	groups  GroupSink
	nextID  atomic.Uint64

	mu        sync.Mutex
	conn      *hostConn
	hello     Hello
	helloCh   chan struct{}
	helloOnce sync.Once

	events  chan tabs.Event
	visible chan bool
}

// New creates a bridge. A zero timeout uses DefaultRequestTimeout. sink
// may be nil, in which case group messages are dropped.
func New(timeout time.Duration, sink GroupSink) *Bridge {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Bridge{
		timeout: timeout,
		groups:  sink,
		helloCh: make(chan struct{}),
		events:  make(chan tabs.Event, 1024),
		visible: make(chan bool, 1),
	}
}

// Events delivers host lifecycle events in arrival order.
func (b *Bridge) Events() <-chan tabs.Event {
	return b.events
}

// Visibility delivers panel visibility changes. Only the newest is kept.
func (b *Bridge) Visibility() <-chan bool {
	return b.visible
}

// Connected reports whether an extension is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// WaitHello blocks until the first extension identified its window.
func (b *Bridge) WaitHello(ctx context.Context) (Hello, error) {
	select {
	case <-b.helloCh:
	case <-ctx.Done():
		return Hello{}, ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hello, nil
}

// attach installs conn as the current connection. Returns false if
// another extension is already connected.
func (b *Bridge) attach(conn *websocket.Conn) (*hostConn, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil, false
	}
	c := &hostConn{
		writer:  newWSConnWriter(conn),
		done:    make(chan struct{}),
		pending: make(map[uint64]chan hostMessage),
	}
	b.conn = c
	return c, true
}

func (b *Bridge) detach(c *hostConn) {
	b.mu.Lock()
	if b.conn == c {
		b.conn = nil
	}
	b.mu.Unlock()
	c.close()
}

func (b *Bridge) current() *hostConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

// serve reads messages from one connection until it fails or ctx ends.
func (b *Bridge) serve(ctx context.Context, conn *websocket.Conn, c *hostConn) {
	defer b.detach(c)
	for {
		var msg hostMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				bridgeLog.Warn("host_closed_unexpectedly", slog.String("error", err.Error()))
			}
			return
		}
		switch msg.Type {
		case "hello":
			b.setHello(Hello{WindowID: msg.WindowID, SelfID: msg.TabID})
		case "event":
			if msg.Event == nil {
				bridgeLog.Debug("event_without_payload")
				continue
			}
			select {
			case b.events <- *msg.Event:
			case <-ctx.Done():
				return
			}
		case "response":
			if !c.deliver(msg) {
				bridgeLog.Debug("response_unmatched", slog.Uint64("id", msg.ID))
			}
		case "visibility":
			if msg.Hidden != nil {
				b.setVisible(!*msg.Hidden)
			}
		case "groups", "group_assigned", "group_removed":
			b.applyGroups(msg)
		default:
			bridgeLog.Debug("message_unsupported", slog.String("type", msg.Type))
		}
	}
}

func (b *Bridge) setHello(h Hello) {
	b.mu.Lock()
	prev := b.hello
	b.hello = h
	b.mu.Unlock()

	first := false
	b.helloOnce.Do(func() {
		first = true
		close(b.helloCh)
	})
	if !first && prev.WindowID != h.WindowID {
		bridgeLog.Warn("host_window_changed",
			slog.Int64("was", int64(prev.WindowID)),
			slog.Int64("now", int64(h.WindowID)))
	}
	bridgeLog.Info("host_hello",
		slog.Int64("window_id", int64(h.WindowID)),
		slog.Int64("self_tab_id", int64(h.SelfID)))
}

func (b *Bridge) applyGroups(msg hostMessage) {
	if b.groups == nil {
		bridgeLog.Debug("groups_dropped", slog.String("type", msg.Type))
		return
	}
	switch msg.Type {
	case "groups":
		b.groups.Replace(msg.Groups)
		logging.Aggregate(logging.CompBridge, "groups_replaced", slog.Int("groups", len(msg.Groups)))
	case "group_assigned":
		if _, err := b.groups.Assign(msg.TabID, msg.GroupID); err != nil {
			bridgeLog.Warn("group_assign_failed",
				slog.Int64("tab_id", int64(msg.TabID)),
				slog.String("error", err.Error()))
		}
	case "group_removed":
		b.groups.Delete(msg.GroupID)
	}
}

func (b *Bridge) setVisible(v bool) {
	select {
	case <-b.visible:
	default:
	}
	select {
	case b.visible <- v:
	default:
	}
}

func (b *Bridge) call(ctx context.Context, req request) (hostMessage, error) {
	c := b.current()
	if c == nil {
		return hostMessage{}, ErrNotConnected
	}
	req.Type = "request"
	req.ID = b.nextID.Add(1)
	ch := make(chan hostMessage, 1)
	if !c.register(req.ID, ch) {
		return hostMessage{}, ErrDisconnected
	}
	defer c.unregister(req.ID)

	if err := c.writer.WriteJSON(req); err != nil {
		return hostMessage{}, fmt.Errorf("bridge: send %s: %w", req.Method, err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case msg := <-ch:
		if msg.OK || msg.Error == "" {
			return msg, nil
		}
		if msg.Code == "no_tab" {
			return msg, fmt.Errorf("%s %d: %w", req.Method, req.TabID, ErrNoTab)
		}
		return msg, fmt.Errorf("%s: %w: %s", req.Method, ErrHost, msg.Error)
	case <-c.done:
		return hostMessage{}, ErrDisconnected
	case <-timer.C:
		return hostMessage{}, fmt.Errorf("%s: %w", req.Method, ErrTimeout)
	case <-ctx.Done():
		return hostMessage{}, ctx.Err()
	}
}

// Query implements tabs.Host.
func (b *Bridge) Query(ctx context.Context, window tabs.WindowID) ([]tabs.Tab, error) {
	msg, err := b.call(ctx, request{Method: MethodQuery, WindowID: window})
	if err != nil {
		return nil, err
	}
	return msg.Tabs, nil
}

// Get implements tabs.Host.
func (b *Bridge) Get(ctx context.Context, id tabs.TabID) (tabs.Tab, error) {
	msg, err := b.call(ctx, request{Method: MethodGet, TabID: id})
	if err != nil {
		return tabs.Tab{}, err
	}
	if msg.Tab == nil {
		return tabs.Tab{}, fmt.Errorf("get %d: %w", id, ErrNoTab)
	}
	return *msg.Tab, nil
}

// Activate implements tabs.Host.
func (b *Bridge) Activate(ctx context.Context, id tabs.TabID) error {
	_, err := b.call(ctx, request{Method: MethodActivate, TabID: id})
	return err
}

// Remove implements tabs.Host.
func (b *Bridge) Remove(ctx context.Context, id tabs.TabID) error {
	_, err := b.call(ctx, request{Method: MethodRemove, TabID: id})
	return err
}

// Capture implements tabs.Host. The extension answers with a data URL or
// bare base64.
func (b *Bridge) Capture(ctx context.Context, id tabs.TabID, quality int) ([]byte, error) {
	msg, err := b.call(ctx, request{Method: MethodCapture, TabID: id, Quality: quality})
	if err != nil {
		return nil, err
	}
	return decodeImageData(msg.Image)
}

func decodeImageData(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("capture: %w: empty image", ErrHost)
	}
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, fmt.Errorf("capture: %w: unsupported data url", ErrHost)
		}
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("capture: decode image: %w", err)
	}
	return data, nil
}
