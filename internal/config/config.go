package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds install-level knobs loaded from YAML. User-tunable settings
// (alert lead time, notification/auto-refresh toggles) live in the store
// instead, so that the control surface can edit them without rewriting the
// config file.

// TelegramConfig enables delivery of reminder notifications to a Telegram
// chat. Both fields must be set for the notifier to be activated.
type TelegramConfig struct {
	Token  string `yaml:"token" json:"token"`
	ChatID int64  `yaml:"chat_id" json:"chat_id"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the control surface.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the control surface.
	Listen string `yaml:"listen" json:"listen"`

	// SourceURL is the schedule page loaded in headless Chromium.
	SourceURL string `yaml:"source_url" json:"source_url"`

	// Timezone is the IANA timezone events are anchored in (e.g.
	// "America/Mexico_City"). The page itself only exposes a free-text
	// timezone label, so the effective zone comes from here.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule (e.g. "*/15 * * * *") for
	// periodic re-extraction. The auto-refresh toggle in the stored
	// settings gates whether a tick actually runs a pass.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// DBPath is the SQLite database holding schedule, alarm and settings
	// state.
	DBPath string `yaml:"db_path" json:"db_path"`

	// SettleSeconds is the delay after page load before extraction, to let
	// dynamic content finish rendering.
	SettleSeconds int `yaml:"settle_seconds" json:"settle_seconds"`

	// DebounceSeconds is the quiet period that coalesces bursts of refresh
	// triggers into a single extraction pass.
	DebounceSeconds int `yaml:"debounce_seconds" json:"debounce_seconds"`

	// CaptureTimeoutSeconds bounds a single page capture.
	CaptureTimeoutSeconds int `yaml:"capture_timeout_seconds" json:"capture_timeout_seconds"`

	// Telegram, if non-nil and fully populated, enables the Telegram
	// notifier in addition to the log notifier.
	Telegram *TelegramConfig `yaml:"telegram,omitempty" json:"telegram,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                "127.0.0.1:8080",
		SourceURL:             "https://app.assembledhq.com/",
		Timezone:              "America/Mexico_City",
		RefreshCron:           "*/15 * * * *",
		DBPath:                "/var/lib/shiftwatch/shiftwatch.db",
		SettleSeconds:         2,
		DebounceSeconds:       3,
		CaptureTimeoutSeconds: 30,
		Telegram:              nil,
		BasicAuth:             nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.SourceURL == "" {
		c.SourceURL = "https://app.assembledhq.com/"
	}
	if c.Timezone == "" {
		c.Timezone = "America/Mexico_City"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.DBPath == "" {
		c.DBPath = "/var/lib/shiftwatch/shiftwatch.db"
	}
	if c.SettleSeconds <= 0 {
		c.SettleSeconds = 2
	}
	if c.DebounceSeconds <= 0 {
		c.DebounceSeconds = 3
	}
	if c.CaptureTimeoutSeconds <= 0 {
		c.CaptureTimeoutSeconds = 30
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".shiftwatch-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
