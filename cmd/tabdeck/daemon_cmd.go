package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/tabdeck/tabdeck/internal/bridge"
	"github.com/tabdeck/tabdeck/internal/config"
	"github.com/tabdeck/tabdeck/internal/groups"
	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/projection"
	"github.com/tabdeck/tabdeck/internal/resolver"
	"github.com/tabdeck/tabdeck/internal/statedb"
	"github.com/tabdeck/tabdeck/internal/thumbnail"
	"github.com/tabdeck/tabdeck/internal/ui"
	"github.com/tabdeck/tabdeck/internal/view"
)

const (
	heartbeatInterval = 30 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type daemonOptions struct {
	listen string
	token  string
	debug  bool
	panel  bool
}

func parseDaemonFlags(name string, args []string) (daemonOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	listen := fs.String("listen", "", "Listen address for the extension bridge (default from config)")
	token := fs.String("token", "", "Token the extension must present (default from config)")
	debug := fs.Bool("debug", false, "Log at debug level")

	fs.Usage = func() {
		fmt.Printf("Usage: tabdeck %s [options]\n", name)
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Printf("  tabdeck %s\n", name)
		fmt.Printf("  tabdeck %s --listen 127.0.0.1:9000 --token s3cret\n", name)
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return daemonOptions{}, err
	}
	if fs.NArg() > 0 {
		return daemonOptions{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return daemonOptions{
		listen: *listen,
		token:  *token,
		debug:  *debug || os.Getenv("TABDECK_DEBUG") != "",
		panel:  name == "panel",
	}, nil
}

func handleDaemon(name string, args []string, withPanel bool) error {
	opts, err := parseDaemonFlags(name, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("flag parsing: %w", err)
	}
	opts.panel = withPanel
	if opts.panel && !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("the panel needs a terminal; use \"tabdeck serve\" to run headless")
	}
	return runDaemon(opts)
}

// logConfig maps [logs] onto the logger. An empty dir logs under
// <baseDir>/logs.
func logConfig(ls config.LogSettings, baseDir string, debug bool) logging.Config {
	dir := ls.Dir
	if dir == "" {
		dir = filepath.Join(baseDir, "logs")
	}
	compress := true
	if ls.Compress != nil {
		compress = *ls.Compress
	}
	return logging.Config{
		LogDir:                dir,
		Level:                 ls.Level,
		Format:                ls.Format,
		MaxSizeMB:             ls.MaxSizeMB,
		MaxBackups:            ls.MaxBackups,
		MaxAgeDays:            ls.MaxAgeDays,
		Compress:              compress,
		RingBufferSize:        ls.RingBufferMB * 1024 * 1024,
		AggregateIntervalSecs: ls.AggregateIntervalSecs,
		PprofAddr:             ls.PprofAddr,
		Debug:                 debug,
	}
}

// viewOptions derives the view's tuning from the user config.
func viewOptions(cfg *config.UserConfig, hello bridge.Hello, store thumbnail.Store, proj *projection.Projection) view.Options {
	initial, maxInterval, timeout := cfg.GetResolverSettings().Durations()
	ts := cfg.GetThumbnailSettings()
	return view.Options{
		Window: hello.WindowID,
		Self:   hello.SelfID,
		Resolver: resolver.Options{
			InitialInterval: initial,
			MaxInterval:     maxInterval,
			Timeout:         timeout,
		},
		Thumbnails: thumbnail.Options{
			Width:          ts.Width,
			Quality:        ts.Quality,
			CaptureQuality: ts.CaptureQuality,
			CacheSize:      ts.CacheSize,
			PerSecond:      ts.CapturesPerSecond,
		},
		Store:     store,
		Projector: proj,
	}
}

func runDaemon(opts daemonOptions) error {
	cfg, cfgErr := config.Load()
	baseDir, err := config.Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", baseDir, err)
	}

	logging.Init(logConfig(cfg.GetLogSettings(), baseDir, opts.debug))
	defer logging.Shutdown()
	log := logging.ForComponent(logging.CompDaemon)
	if cfgErr != nil {
		log.Warn("config_load_failed", slog.String("error", cfgErr.Error()))
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", cfgErr)
	}

	db, err := statedb.Open(filepath.Join(baseDir, statedb.DefaultFileName))
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}
	ts := cfg.GetThumbnailSettings()
	if n, err := db.PurgeStale(time.Duration(ts.StaleSessionMinutes) * time.Minute); err != nil {
		log.Warn("purge_stale_failed", slog.String("error", err.Error()))
	} else if n > 0 {
		log.Info("stale_sessions_purged", slog.Int("count", n))
	}
	sess, err := db.BeginSession()
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.End(); err != nil {
			log.Warn("session_end_failed", slog.String("error", err.Error()))
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	// SIGUSR1 dumps the ring buffer for post-mortem debugging.
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		for range usr1 {
			dumpPath := filepath.Join(baseDir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(dumpPath); err != nil {
				log.Error("crash_dump_failed", slog.String("error", err.Error()))
			} else {
				log.Info("crash_dump_written", slog.String("path", dumpPath))
			}
		}
	}()

	store := groups.NewStore()
	bs := cfg.GetBridgeSettings()
	hostBridge := bridge.New(bs.RequestTimeout(), store)
	srv := bridge.NewServer(bridge.Config{
		ListenAddr: firstNonEmpty(opts.listen, bs.Listen),
		Token:      firstNonEmpty(opts.token, bs.Token),
		Bridge:     hostBridge,
	})

	log.Info("daemon_started",
		slog.String("version", Version),
		slog.String("session", sess.ID()),
		slog.String("listen", srv.Addr()),
		slog.Bool("panel", opts.panel))

	ready := make(chan ui.ViewController, 1)
	edits := make(chan *config.UserConfig, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return heartbeat(gctx, sess)
	})
	g.Go(func() error {
		return runView(gctx, cfg, hostBridge, store, sess, srv, ready)
	})
	g.Go(func() error {
		return watchConfig(gctx, hostBridge, edits)
	})
	if opts.panel {
		g.Go(func() error {
			defer cancel()
			return runPanel(gctx, cfg, srv.Addr(), ready, edits)
		})
	} else {
		fmt.Printf("tabdeck listening on %s\n", srv.Addr())
	}

	err = g.Wait()
	log.Info("daemon_stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func heartbeat(ctx context.Context, sess *statedb.Session) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := sess.Heartbeat(); err != nil {
				logging.ForComponent(logging.CompStorage).Warn("heartbeat_failed",
					slog.String("error", err.Error()))
				if errors.Is(err, statedb.ErrSessionEnded) {
					return nil
				}
			}
		}
	}
}

// runView waits for the extension to identify its window, then mirrors it
// until ctx ends.
func runView(
	ctx context.Context,
	cfg *config.UserConfig,
	hostBridge *bridge.Bridge,
	store *groups.Store,
	sess *statedb.Session,
	srv *bridge.Server,
	ready chan<- ui.ViewController,
) error {
	hello, err := hostBridge.WaitHello(ctx)
	if err != nil {
		return nil
	}

	proj := projection.New()
	v, err := view.New(hostBridge, store, viewOptions(cfg, hello, sess, proj))
	if err != nil {
		return err
	}
	srv.SetPanel(bridge.ViewSource{View: v, Projection: proj, Groups: store})
	ready <- ui.ViewController{View: v, Projection: proj, Groups: store}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case visible := <-hostBridge.Visibility():
				v.SetVisible(visible)
			case <-store.Changed():
				proj.Refresh()
			}
		}
	}()
	return v.Run(ctx, hostBridge.Events())
}

// watchConfig follows config.toml and forwards each reload to edits,
// keeping only the newest. Everything but the theme needs a restart.
func watchConfig(ctx context.Context, hostBridge *bridge.Bridge, edits chan *config.UserConfig) error {
	w, err := config.NewWatcher()
	if err != nil {
		logging.ForComponent(logging.CompConfig).Warn("config_watch_failed",
			slog.String("error", err.Error()))
		return nil
	}
	defer w.Close()
	go func() {
		_ = w.Run(ctx)
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-w.Changes():
			if !ok {
				return nil
			}
			logging.ForComponent(logging.CompConfig).Info("config_reloaded",
				slog.String("theme", cfg.GetTheme()),
				slog.Bool("host_connected", hostBridge.Connected()))
			select {
			case <-edits:
			default:
			}
			select {
			case edits <- cfg:
			default:
			}
		}
	}
}

func runPanel(
	ctx context.Context,
	cfg *config.UserConfig,
	addr string,
	ready <-chan ui.ViewController,
	edits <-chan *config.UserConfig,
) error {
	ui.InitTheme(cfg.ResolveTheme())
	fmt.Printf("Waiting for the browser extension on %s ...\n", addr)

	var ctrl ui.ViewController
	select {
	case <-ctx.Done():
		return nil
	case ctrl = <-ready:
	}

	themes := followTheme(ctx, cfg, edits)
	model := ui.NewModel(ctx, ctrl, ui.Options{
		ToolbarPosition: cfg.GetToolbarPosition(),
		Themes:          themes,
	})
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("panel: %w", err)
	}
	return nil
}

// followTheme merges config edits and, for theme = "system", OS dark mode
// changes into one stream for the panel.
func followTheme(ctx context.Context, cfg *config.UserConfig, edits <-chan *config.UserConfig) <-chan ui.Theme {
	out := make(chan ui.Theme, 1)
	send := func(t ui.Theme) {
		select {
		case <-out:
		default:
		}
		select {
		case out <- t:
		default:
		}
	}

	var system <-chan ui.Theme
	if tw := ui.NewThemeWatcher(ctx); tw != nil {
		system = tw.Changes()
		context.AfterFunc(ctx, tw.Close)
	}

	current := cfg
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-system:
				if current.GetTheme() == "system" {
					send(t)
				}
			case c := <-edits:
				current = c
				send(ui.Theme(c.ResolveTheme()))
			}
		}
	}()
	return out
}
