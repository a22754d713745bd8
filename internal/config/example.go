package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const exampleConfig = `# tabdeck configuration
# Every key is optional; the values below are the defaults.

# Color scheme: "dark", "light" or "system"
theme = "dark"

# Where the panel shows its key hints: "top" or "bottom"
toolbar_position = "bottom"

[bridge]
# Address the browser extension connects to
listen = "127.0.0.1:7432"
# Shared secret; the extension sends it as a bearer token or ?token=
# token = ""
request_timeout_ms = 5000

[resolver]
# Capped exponential backoff while waiting for a tab's group
initial_interval_ms = 25
max_interval_ms = 1000
# After this long a tab is shown ungrouped
timeout_ms = 10000

[thumbnails]
width = 500
quality = 70
capture_quality = 25
cache_size = 128
captures_per_second = 4.0
stale_session_minutes = 60

[favicon]
timeout_ms = 5000

[logs]
level = "info"
format = "json"
max_size_mb = 10
max_backups = 5
max_age_days = 10
compress = true
ring_buffer_mb = 4
aggregate_interval_secs = 30
# pprof_addr = "localhost:6060"
`

// CreateExampleConfig writes a commented config.toml when none exists.
// Returns the path and whether a file was written.
func CreateExampleConfig() (string, bool, error) {
	path, err := Path()
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := writeAtomic(path, []byte(exampleConfig)); err != nil {
		return "", false, err
	}
	return path, true, nil
}
