// Package clipboard copies panel text (tab URLs) to the system clipboard.
package clipboard

import (
	"errors"
	"fmt"
	"os"

	"github.com/atotto/clipboard"
	osc52 "github.com/aymanbagabas/go-osc52/v2"
)

// ErrEmpty is returned when there is nothing to copy.
var ErrEmpty = errors.New("no content to copy")

// CopyResult describes a successful copy.
type CopyResult struct {
	Method   string // "native" or "osc52"
	ByteSize int
}

var (
	writeNative = clipboard.WriteAll
	ttyPath     = "/dev/tty"
)

// Copy puts text on the clipboard. Without a native clipboard tool (SSH,
// headless boxes) it writes an OSC 52 sequence to the terminal instead.
func Copy(text string) (*CopyResult, error) {
	if text == "" {
		return nil, ErrEmpty
	}
	if !clipboard.Unsupported {
		if err := writeNative(text); err == nil {
			return &CopyResult{Method: "native", ByteSize: len(text)}, nil
		}
	}
	if err := writeOSC52(text); err != nil {
		return nil, fmt.Errorf("osc52 clipboard failed: %w", err)
	}
	return &CopyResult{Method: "osc52", ByteSize: len(text)}, nil
}

// writeOSC52 writes to the tty directly so redirected stdout is bypassed.
func writeOSC52(text string) error {
	tty, err := os.OpenFile(ttyPath, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", ttyPath, err)
	}
	defer tty.Close()
	_, err = tty.WriteString(sequence(text, os.Getenv("TMUX") != ""))
	return err
}

// sequence builds the escape, wrapped in a DCS passthrough inside tmux.
func sequence(text string, inTmux bool) string {
	seq := osc52.New(text)
	if inTmux {
		seq = seq.Tmux()
	}
	return seq.String()
}
