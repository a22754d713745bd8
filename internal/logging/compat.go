package logging

import (
	"bytes"
	"context"
	"log"
	"log/slog"
	"strings"
)

// BridgeWriter adapts slog to io.Writer so stdlib loggers (net/http's
// ErrorLog in particular) land in the structured log. A leading "http: "
// or "[category] " prefix becomes the component field.
type BridgeWriter struct {
	component string
	level     slog.Level
}

// NewBridgeWriter creates a writer logging at warn level under component.
func NewBridgeWriter(component string) *BridgeWriter {
	return &BridgeWriter{component: component, level: slog.LevelWarn}
}

// StdLogger returns a *log.Logger that writes through a BridgeWriter.
func StdLogger(component string) *log.Logger {
	return log.New(NewBridgeWriter(component), "", 0)
}

// Write implements io.Writer; each call is one record.
func (bw *BridgeWriter) Write(p []byte) (int, error) {
	n := len(p)
	msg := string(bytes.TrimSpace(p))
	if msg == "" {
		return n, nil
	}

	component := bw.component
	switch {
	case strings.HasPrefix(msg, "http: "):
		component = CompHTTP
		msg = strings.TrimPrefix(msg, "http: ")
	case strings.HasPrefix(msg, "["):
		if idx := strings.Index(msg, "] "); idx > 0 {
			component = strings.ToLower(msg[1:idx])
			msg = msg[idx+2:]
		}
	}

	Logger().Log(context.Background(), bw.level, msg, slog.String("component", component))
	return n, nil
}
