// Package bridge connects the browser extension to the view. The
// extension holds a websocket open and answers tab requests; the same
// server exposes the panel state read-only over HTTP.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/tabs"
)

// DefaultListenAddr is used when Config.ListenAddr is empty.
const DefaultListenAddr = "127.0.0.1:7432"

var (
	viewEventsPollInterval      = 2 * time.Second
	viewEventsHeartbeatInterval = 15 * time.Second
)

// Config defines runtime options for the server.
type Config struct {
	ListenAddr string
	Token      string
	Bridge     *Bridge
	// Panel may be nil until the view exists; the read-only routes answer
	// 503 meanwhile.
	Panel PanelSource
}

// Server wraps the HTTP server.
type Server struct {
	cfg        Config
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc
	upgrader   websocket.Upgrader

	panelMu  sync.RWMutex
	panelSrc PanelSource
}

// NewServer creates the server with its routes and middleware.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.Bridge == nil {
		cfg.Bridge = New(0, nil)
	}

	s := &Server{
		cfg:      cfg,
		panelSrc: cfg.Panel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 4096,
			CheckOrigin:     allowOrigin,
		},
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws/host", s.handleHostWS)
	mux.HandleFunc("/api/view", s.handleView)
	mux.HandleFunc("/api/thumbnail/", s.handleThumbnail)
	mux.HandleFunc("/events/view", s.handleViewEvents)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          logging.StdLogger(logging.CompHTTP),
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Bridge returns the tab host the extension drives.
func (s *Server) Bridge() *Bridge {
	return s.cfg.Bridge
}

// SetPanel installs the read-only data source once the view is running.
func (s *Server) SetPanel(p PanelSource) {
	s.panelMu.Lock()
	s.panelSrc = p
	s.panelMu.Unlock()
}

// Start serves until shutdown. Returns nil on graceful shutdown.
func (s *Server) Start() error {
	logging.ForComponent(logging.CompBridge).Info("listening", slog.String("addr", s.cfg.ListenAddr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	// Long-lived handlers (websocket, SSE) watch the base context.
	s.cancelBase()

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}
	return err
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.ForComponent(logging.CompHTTP).Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) String() string {
	return fmt.Sprintf("bridge-server(addr=%s, connected=%t)", s.cfg.ListenAddr, s.cfg.Bridge.Connected())
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{Error: apiError{Code: code, Message: message}})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"connected": s.cfg.Bridge.Connected(),
		"time":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHostWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.cfg.Bridge.Connected() {
		writeAPIError(w, http.StatusConflict, "HOST_CONNECTED", "another host is connected")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c, ok := s.cfg.Bridge.attach(conn)
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "another host is connected"))
		return
	}
	bridgeLog.Info("host_connected", slog.String("remote", r.RemoteAddr))

	// Unblock the read loop when the server shuts down.
	stop := context.AfterFunc(r.Context(), func() { _ = conn.Close() })
	defer stop()

	s.cfg.Bridge.serve(r.Context(), conn, c)
	bridgeLog.Info("host_disconnected", slog.String("remote", r.RemoteAddr))
}

func (s *Server) panel(w http.ResponseWriter, r *http.Request) (PanelSource, bool) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return nil, false
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return nil, false
	}
	s.panelMu.RLock()
	p := s.panelSrc
	s.panelMu.RUnlock()
	if p == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "NOT_READY", "view is not running")
		return nil, false
	}
	return p, true
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	p, ok := s.panel(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	p, ok := s.panel(w, r)
	if !ok {
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/api/thumbnail/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || strings.Contains(raw, "/") {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "tab id is required")
		return
	}
	entry := p.Thumbnail(tabs.TabID(id))
	if entry.Placeholder() {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "no thumbnail")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Thumbnail-Tier", entry.Tier.String())
	_, _ = w.Write(entry.Data)
}
