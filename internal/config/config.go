// Package config loads ~/.tabdeck/config.toml.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	dark "github.com/thiagokokada/dark-mode-go"
)

// FileName is the TOML config file for user preferences
const FileName = "config.toml"

// HomeEnv overrides the tabdeck directory.
const HomeEnv = "TABDECK_HOME"

// Toolbar positions.
const (
	ToolbarTop    = "top"
	ToolbarBottom = "bottom"
)

// UserConfig represents user-facing configuration in TOML format
type UserConfig struct {
	// Theme sets the color scheme: "dark" (default), "light", or "system"
	Theme string `toml:"theme"`

	// ToolbarPosition places the panel's key hints: "top" or "bottom" (default)
	ToolbarPosition string `toml:"toolbar_position"`

	Bridge     BridgeSettings    `toml:"bridge"`
	Resolver   ResolverSettings  `toml:"resolver"`
	Thumbnails ThumbnailSettings `toml:"thumbnails"`
	Favicon    FaviconSettings   `toml:"favicon"`
	Logs       LogSettings       `toml:"logs"`
}

// BridgeSettings configures the extension-facing WebSocket server
type BridgeSettings struct {
	// Listen is the host:port to bind. Default: 127.0.0.1:7432
	Listen string `toml:"listen"`

	// Token, when set, must be presented by the extension
	Token string `toml:"token"`

	// RequestTimeoutMs bounds one host request. Default: 5000
	RequestTimeoutMs int `toml:"request_timeout_ms"`
}

// ResolverSettings bounds the wait for a tab's group
type ResolverSettings struct {
	// InitialIntervalMs is the first backoff interval. Default: 25
	InitialIntervalMs int `toml:"initial_interval_ms"`

	// MaxIntervalMs caps the backoff interval. Default: 1000
	MaxIntervalMs int `toml:"max_interval_ms"`

	// TimeoutMs is the total wait before a tab is shown ungrouped. Default: 10000
	TimeoutMs int `toml:"timeout_ms"`
}

// ThumbnailSettings tunes the capture pipeline
type ThumbnailSettings struct {
	// Width is the stored thumbnail width in pixels. Default: 500
	Width int `toml:"width"`

	// Quality is the stored JPEG quality. Default: 70
	Quality int `toml:"quality"`

	// CaptureQuality is the JPEG quality requested from the host. Default: 25
	CaptureQuality int `toml:"capture_quality"`

	// CacheSize is the number of live thumbnails kept in memory. Default: 128
	CacheSize int `toml:"cache_size"`

	// CapturesPerSecond paces host captures. Default: 4
	CapturesPerSecond float64 `toml:"captures_per_second"`

	// StaleSessionMinutes is how old a crashed session's rows must be
	// before they are purged at startup. Default: 60
	StaleSessionMinutes int `toml:"stale_session_minutes"`
}

// FaviconSettings configures icon test-loads
type FaviconSettings struct {
	// TimeoutMs bounds one icon fetch. Default: 5000
	TimeoutMs int `toml:"timeout_ms"`
}

// LogSettings defines debug log configuration
type LogSettings struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `toml:"level"`

	// Format sets the log format: "json" (default) or "text"
	Format string `toml:"format"`

	// Dir overrides the log directory. Default: <tabdeck dir>/logs
	Dir string `toml:"dir"`

	// MaxSizeMB is the max size in MB for tabdeck.log before rotation
	// Default: 10
	MaxSizeMB int `toml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep
	// Default: 5
	MaxBackups int `toml:"max_backups"`

	// MaxAgeDays is the number of days to keep rotated logs
	// Default: 10
	MaxAgeDays int `toml:"max_age_days"`

	// Compress enables gzip compression for rotated logs
	// Default: true
	Compress *bool `toml:"compress"`

	// RingBufferMB is the in-memory ring buffer size in MB for crash dumps
	// Default: 4
	RingBufferMB int `toml:"ring_buffer_mb"`

	// AggregateIntervalSecs is the event aggregation flush interval
	// Default: 30
	AggregateIntervalSecs int `toml:"aggregate_interval_secs"`

	// PprofAddr starts a pprof listener when set, e.g. "localhost:6060"
	PprofAddr string `toml:"pprof_addr"`
}

var defaultConfig = UserConfig{}

// Cache for user config (loaded once per process)
var (
	cache   *UserConfig
	cacheMu sync.RWMutex
)

// Dir returns the tabdeck directory, honouring TABDECK_HOME.
func Dir() (string, error) {
	if d := os.Getenv(HomeEnv); d != "" {
		return d, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".tabdeck"), nil
}

// Path returns the path to the config file
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load loads the configuration from the TOML file.
// Returns cached config after first load
func Load() (*UserConfig, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	// Double-check after acquiring write lock
	if cache != nil {
		return cache, nil
	}

	path, err := Path()
	if err != nil {
		cache = &defaultConfig
		return cache, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cache = &defaultConfig
		return cache, nil
	}

	var cfg UserConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		// Still cache default to prevent repeated parse attempts
		cache = &defaultConfig
		return cache, fmt.Errorf("config.toml parse error: %w", err)
	}

	cache = &cfg
	return cache, nil
}

// Reload forces a reload of the config
func Reload() (*UserConfig, error) {
	ClearCache()
	return Load()
}

// Save writes the config to config.toml using atomic write pattern.
// This clears the cache so the next Load reads fresh values
func Save(cfg *UserConfig) error {
	path, err := Path()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# tabdeck configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return err
	}
	ClearCache()
	return nil
}

// writeAtomic writes to a temp file, fsyncs it and renames it over path so
// a crash never leaves a half-written config behind.
func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if f, err := os.Open(tmpPath); err == nil {
		_ = f.Sync()
		f.Close()
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize config save: %w", err)
	}
	return nil
}

// ClearCache drops the cached config. The next Load reads from disk.
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}

func current() *UserConfig {
	cfg, err := Load()
	if err != nil || cfg == nil {
		return &defaultConfig
	}
	return cfg
}

// GetTheme returns the configured theme, defaulting to "dark"
func GetTheme() string {
	return current().GetTheme()
}

// GetTheme returns c's theme, defaulting to "dark"
func (c *UserConfig) GetTheme() string {
	switch c.Theme {
	case "dark", "light", "system":
		return c.Theme
	default:
		return "dark"
	}
}

// ResolveTheme resolves c's theme to "dark" or "light".
// If theme is "system", detects the OS dark mode setting.
// Falls back to "dark" on detection failure.
func (c *UserConfig) ResolveTheme() string {
	theme := c.GetTheme()
	if theme != "system" {
		return theme
	}
	isDark, err := dark.IsDarkMode()
	if err != nil || isDark {
		return "dark"
	}
	return "light"
}

// ResolveTheme resolves the configured theme to "dark" or "light".
func ResolveTheme() string {
	return current().ResolveTheme()
}

// GetToolbarPosition returns "top" or "bottom" (default).
func (c *UserConfig) GetToolbarPosition() string {
	if c.ToolbarPosition == ToolbarTop {
		return ToolbarTop
	}
	return ToolbarBottom
}

// GetBridgeSettings returns bridge settings with defaults applied
func (c *UserConfig) GetBridgeSettings() BridgeSettings {
	s := c.Bridge
	if s.Listen == "" {
		s.Listen = "127.0.0.1:7432"
	}
	if s.RequestTimeoutMs <= 0 {
		s.RequestTimeoutMs = 5000
	}
	return s
}

// RequestTimeout returns the bridge request timeout.
func (s BridgeSettings) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMs) * time.Millisecond
}

// GetResolverSettings returns resolver settings with defaults applied
func (c *UserConfig) GetResolverSettings() ResolverSettings {
	s := c.Resolver
	if s.InitialIntervalMs <= 0 {
		s.InitialIntervalMs = 25
	}
	if s.MaxIntervalMs <= 0 {
		s.MaxIntervalMs = 1000
	}
	if s.MaxIntervalMs < s.InitialIntervalMs {
		s.MaxIntervalMs = s.InitialIntervalMs
	}
	if s.TimeoutMs <= 0 {
		s.TimeoutMs = 10000
	}
	return s
}

// Durations returns the initial interval, max interval and timeout.
func (s ResolverSettings) Durations() (initial, maxInterval, timeout time.Duration) {
	ms := time.Millisecond
	return time.Duration(s.InitialIntervalMs) * ms, time.Duration(s.MaxIntervalMs) * ms, time.Duration(s.TimeoutMs) * ms
}

// GetThumbnailSettings returns thumbnail settings with defaults applied
func (c *UserConfig) GetThumbnailSettings() ThumbnailSettings {
	s := c.Thumbnails
	if s.Width <= 0 {
		s.Width = 500
	}
	if s.Quality <= 0 || s.Quality > 100 {
		s.Quality = 70
	}
	if s.CaptureQuality <= 0 || s.CaptureQuality > 100 {
		s.CaptureQuality = 25
	}
	if s.CacheSize <= 0 {
		s.CacheSize = 128
	}
	if s.CapturesPerSecond <= 0 {
		s.CapturesPerSecond = 4
	}
	if s.StaleSessionMinutes <= 0 {
		s.StaleSessionMinutes = 60
	}
	return s
}

// GetFaviconTimeout returns the icon fetch timeout
func (c *UserConfig) GetFaviconTimeout() time.Duration {
	if c.Favicon.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Favicon.TimeoutMs) * time.Millisecond
}

// GetLogSettings returns log settings with defaults applied
func (c *UserConfig) GetLogSettings() LogSettings {
	s := c.Logs
	if s.Level == "" {
		s.Level = "info"
	}
	if s.Format == "" {
		s.Format = "json"
	}
	if s.MaxSizeMB <= 0 {
		s.MaxSizeMB = 10
	}
	if s.MaxBackups <= 0 {
		s.MaxBackups = 5
	}
	if s.MaxAgeDays <= 0 {
		s.MaxAgeDays = 10
	}
	if s.Compress == nil {
		on := true
		s.Compress = &on
	}
	if s.RingBufferMB <= 0 {
		s.RingBufferMB = 4
	}
	if s.AggregateIntervalSecs <= 0 {
		s.AggregateIntervalSecs = 30
	}
	return s
}
