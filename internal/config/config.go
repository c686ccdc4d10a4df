// Package config loads the daemon's TOML configuration from
// ~/.jat-sentinel/config.toml, applying defaults for anything unset.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the TOML config file under the sentinel home directory.
const FileName = "config.toml"

// Config is the user-facing daemon configuration.
type Config struct {
	// Poll defines the output-watching loop settings
	Poll PollSettings `toml:"poll"`

	// Web defines the dashboard-facing HTTP API settings
	Web WebSettings `toml:"web"`

	// Logs defines debug log settings
	Logs LogSettings `toml:"logs"`

	// Signals defines state-signal hand-off settings
	Signals SignalSettings `toml:"signals"`

	// Activity defines audit-trail retention settings
	Activity ActivitySettings `toml:"activity"`
}

// PollSettings controls the session-output polling loop.
type PollSettings struct {
	// IntervalMs is the delay between polling cycles (default: 1000)
	IntervalMs int `toml:"interval_ms"`

	// CaptureLines caps trailing pane lines scanned per tick (default: 200)
	CaptureLines int `toml:"capture_lines"`

	// MaxConcurrent bounds sessions evaluated in parallel (default: 8)
	MaxConcurrent int `toml:"max_concurrent"`
}

// WebSettings controls the HTTP API used by the dashboard.
type WebSettings struct {
	// Enabled starts the API server with the daemon (default: true)
	Enabled bool `toml:"enabled"`

	// ListenAddr is the bind address (default: 127.0.0.1:8423)
	ListenAddr string `toml:"listen_addr"`

	// Token, when set, requires Bearer auth on every API request
	Token string `toml:"token"`

	// ReadOnly disables mutating endpoints
	ReadOnly bool `toml:"read_only"`
}

// LogSettings controls the rotating debug log.
type LogSettings struct {
	// Level is "debug", "info", "warn", or "error" (default: info)
	Level string `toml:"level"`

	// Format is "json" (default) or "text"
	Format string `toml:"format"`

	// MaxSizeMB is the rotation threshold (default: 10)
	MaxSizeMB int `toml:"max_size_mb"`

	// MaxBackups is rotated files to keep (default: 5)
	MaxBackups int `toml:"max_backups"`
}

// SignalSettings controls state-signal emission.
type SignalSettings struct {
	// Dir overrides the signals directory (default: ~/.jat-sentinel/signals)
	Dir string `toml:"dir"`

	// MaxAgeHours is how long unconsumed signals survive (default: 24)
	MaxAgeHours int `toml:"max_age_hours"`
}

// ActivitySettings controls audit-trail retention.
type ActivitySettings struct {
	// MemoryCapacity bounds the in-memory ring (default: 500)
	MemoryCapacity int `toml:"memory_capacity"`

	// HistoryCapacity bounds the persisted table (default: 1000)
	HistoryCapacity int `toml:"history_capacity"`
}

// Default returns the configuration applied when no file exists.
func Default() Config {
	return Config{
		Poll: PollSettings{
			IntervalMs:    1000,
			CaptureLines:  200,
			MaxConcurrent: 8,
		},
		Web: WebSettings{
			Enabled:    true,
			ListenAddr: "127.0.0.1:8423",
		},
		Logs: LogSettings{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Signals: SignalSettings{
			MaxAgeHours: 24,
		},
		Activity: ActivitySettings{
			MemoryCapacity:  500,
			HistoryCapacity: 1000,
		},
	}
}

// Dir returns the sentinel home directory (~/.jat-sentinel).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".jat-sentinel")
	}
	return filepath.Join(home, ".jat-sentinel")
}

// Path returns the config file path.
func Path() string {
	return filepath.Join(Dir(), FileName)
}

// DBPath returns the rules database path.
func DBPath() string {
	return filepath.Join(Dir(), "rules.db")
}

// Load reads the config file at path, merging it over defaults. A missing
// file yields the defaults without error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse config: %w", err)
	}
	cfg.applyFloors()
	return cfg, nil
}

// Save writes the config atomically (tmp file + rename).
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// applyFloors clamps nonsensical values back to defaults.
func (c *Config) applyFloors() {
	d := Default()
	if c.Poll.IntervalMs < 100 {
		c.Poll.IntervalMs = d.Poll.IntervalMs
	}
	if c.Poll.CaptureLines <= 0 {
		c.Poll.CaptureLines = d.Poll.CaptureLines
	}
	if c.Poll.MaxConcurrent <= 0 {
		c.Poll.MaxConcurrent = d.Poll.MaxConcurrent
	}
	if c.Web.ListenAddr == "" {
		c.Web.ListenAddr = d.Web.ListenAddr
	}
	if c.Activity.MemoryCapacity <= 0 {
		c.Activity.MemoryCapacity = d.Activity.MemoryCapacity
	}
	if c.Activity.HistoryCapacity <= 0 {
		c.Activity.HistoryCapacity = d.Activity.HistoryCapacity
	}
	if c.Signals.MaxAgeHours <= 0 {
		c.Signals.MaxAgeHours = d.Signals.MaxAgeHours
	}
}
