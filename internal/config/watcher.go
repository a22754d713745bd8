package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tabdeck/tabdeck/internal/logging"
)

var cfgLog = logging.ForComponent(logging.CompConfig)

// debounce coalesces the burst of events an editor's save produces.
const debounce = 100 * time.Millisecond

// Watcher reloads config.toml when it changes on disk and delivers the
// fresh config on a channel.
type Watcher struct {
	path      string
	watcher   *fsnotify.Watcher
	changeCh  chan *UserConfig
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewWatcher watches the directory holding config.toml (editors replace
// the file, which drops a watch on the file itself).
func NewWatcher() (*Watcher, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     path,
		watcher:  fw,
		changeCh: make(chan *UserConfig, 1),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Changes delivers reloaded configs. Only the newest is kept when the
// consumer falls behind.
func (w *Watcher) Changes() <-chan *UserConfig {
	return w.changeCh
}

// Run processes file events until ctx ends or Close is called.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		timer   *time.Timer
		timerMu sync.Mutex
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, w.reload)
			timerMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			cfgLog.Warn("config_watcher_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	if w.ctx.Err() != nil {
		return
	}
	cfg, err := Reload()
	if err != nil {
		cfgLog.Warn("config_reload_failed", slog.String("error", err.Error()))
		return
	}
	cfgLog.Info("config_reloaded", slog.String("path", w.path))

	// Replace an undelivered config with the newer one.
	select {
	case <-w.changeCh:
	default:
	}
	select {
	case w.changeCh <- cfg:
	default:
	}
}

// Close stops the watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()
		err = w.watcher.Close()
	})
	return err
}
