package main

import (
	"flag"
	"path/filepath"
	"testing"
	"time"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabdeck/tabdeck/internal/bridge"
	"github.com/tabdeck/tabdeck/internal/config"
	"github.com/tabdeck/tabdeck/internal/projection"
)

func TestNormalizeArgs(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.String("listen", "", "")
	fs.Bool("debug", false, "")

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"flags first", []string{"--listen", "x", "show"}, []string{"--listen", "x", "show"}},
		{"flags after positional", []string{"show", "--listen", "x"}, []string{"--listen", "x", "show"}},
		{"bool flag takes no value", []string{"show", "--debug", "extra"}, []string{"--debug", "show", "extra"}},
		{"inline value", []string{"show", "--listen=x"}, []string{"--listen=x", "show"}},
		{"double dash stops", []string{"--debug", "--", "--listen"}, []string{"--debug", "--listen"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeArgs(fs, tt.args))
		})
	}
}

func TestParseDaemonFlags(t *testing.T) {
	t.Setenv("TABDECK_DEBUG", "")
	opts, err := parseDaemonFlags("serve", []string{"--token", "s", "--listen=127.0.0.1:1"})
	require.NoError(t, err)
	assert.Equal(t, daemonOptions{listen: "127.0.0.1:1", token: "s"}, opts)

	t.Setenv("TABDECK_DEBUG", "1")
	opts, err = parseDaemonFlags("panel", nil)
	require.NoError(t, err)
	assert.True(t, opts.debug)
	assert.True(t, opts.panel)

	_, err = parseDaemonFlags("serve", []string{"stray"})
	require.Error(t, err)
}

func TestParseColorProfile(t *testing.T) {
	p, ok := parseColorProfile(" TrueColor ")
	require.True(t, ok)
	assert.Equal(t, termenv.TrueColor, p)

	p, ok = parseColorProfile("none")
	require.True(t, ok)
	assert.Equal(t, termenv.Ascii, p)

	_, ok = parseColorProfile("sepia")
	assert.False(t, ok)
}

func TestLogConfig(t *testing.T) {
	base := t.TempDir()
	ls := (&config.UserConfig{}).GetLogSettings()

	lc := logConfig(ls, base, false)
	assert.Equal(t, filepath.Join(base, "logs"), lc.LogDir)
	assert.True(t, lc.Compress)
	assert.Equal(t, ls.RingBufferMB*1024*1024, lc.RingBufferSize)
	assert.False(t, lc.Debug)

	off := false
	ls.Compress = &off
	ls.Dir = "/var/log/tabdeck"
	lc = logConfig(ls, base, true)
	assert.Equal(t, "/var/log/tabdeck", lc.LogDir)
	assert.False(t, lc.Compress)
	assert.True(t, lc.Debug)
}

func TestViewOptionsFromConfig(t *testing.T) {
	cfg := &config.UserConfig{
		Resolver:   config.ResolverSettings{InitialIntervalMs: 20, MaxIntervalMs: 200, TimeoutMs: 3000},
		Thumbnails: config.ThumbnailSettings{Width: 320, CapturesPerSecond: 2},
	}
	opts := viewOptions(cfg, bridge.Hello{WindowID: 7, SelfID: 70}, nil, projection.New())

	assert.EqualValues(t, 7, opts.Window)
	assert.EqualValues(t, 70, opts.Self)
	assert.Equal(t, 20*time.Millisecond, opts.Resolver.InitialInterval)
	assert.Equal(t, 200*time.Millisecond, opts.Resolver.MaxInterval)
	assert.Equal(t, 3*time.Second, opts.Resolver.Timeout)
	assert.Equal(t, 320, opts.Thumbnails.Width)
	assert.Equal(t, 2.0, opts.Thumbnails.PerSecond)
	assert.Equal(t, 70, opts.Thumbnails.Quality, "defaults fill unset fields")
	assert.NotNil(t, opts.Projector)
}

func TestResolvedConfigFillsDefaults(t *testing.T) {
	got := resolvedConfig(&config.UserConfig{Theme: "bogus"})
	assert.Equal(t, "dark", got.Theme)
	assert.Equal(t, config.ToolbarBottom, got.ToolbarPosition)
	assert.Equal(t, "127.0.0.1:7432", got.Bridge.Listen)
	assert.Equal(t, 5000, got.Favicon.TimeoutMs)
	require.NotNil(t, got.Logs.Compress)
}
