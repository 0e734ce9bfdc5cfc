package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"dayplanner/internal/fsutil"
	appLog "dayplanner/internal/log"
)

// DefaultPath is where the daemon looks for its config file.
const DefaultPath = "/etc/dayplanner/config.yaml"

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID prefixes imported event ids; it must be unique across feeds.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// PostgresConfig selects the PostgreSQL event store instead of the YAML file.
type PostgresConfig struct {
	DSN string `yaml:"dsn" json:"-"`
}

// SnapshotConfig is the viewport of the headless day snapshot.
type SnapshotConfig struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone reminders are anchored to (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// Timeline geometry and drag policy.
	PixelsPerHour   float64 `yaml:"pixels_per_hour" json:"pixels_per_hour"`
	SnapMinutes     int     `yaml:"snap_minutes" json:"snap_minutes"`
	DragThresholdPx float64 `yaml:"drag_threshold_px" json:"drag_threshold_px"`

	// HorizonDays bounds recurring reminder expansion.
	HorizonDays   int `yaml:"horizon_days" json:"horizon_days"`
	SnoozeMinutes int `yaml:"snooze_minutes" json:"snooze_minutes"`

	// ReconcileCron runs feed sync plus a full reminder reconciliation.
	ReconcileCron string `yaml:"reconcile" json:"reconcile"`
	// DeliverCron delivers due reminders from the spool.
	DeliverCron string `yaml:"deliver" json:"deliver"`

	EventsPath   string `yaml:"events_path" json:"events_path"`
	SettingsPath string `yaml:"settings_path" json:"settings_path"`
	SpoolPath    string `yaml:"spool_path" json:"spool_path"`
	CacheDir     string `yaml:"cache_dir" json:"cache_dir"`

	// Postgres, if set, replaces the YAML event store.
	Postgres *PostgresConfig `yaml:"postgres,omitempty" json:"postgres,omitempty"`

	// Metrics exposes /metrics.
	Metrics bool `yaml:"metrics" json:"metrics"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          "127.0.0.1:8080",
		Timezone:        "Local",
		LogLevel:        "info",
		PixelsPerHour:   80,
		SnapMinutes:     15,
		DragThresholdPx: 5,
		HorizonDays:     30,
		SnoozeMinutes:   5,
		ReconcileCron:   "*/15 * * * *",
		DeliverCron:     "@every 30s",
		EventsPath:      "/var/lib/dayplanner/events.yaml",
		SettingsPath:    "/var/lib/dayplanner/settings.yaml",
		SpoolPath:       "/var/lib/dayplanner/reminders.ics",
		CacheDir:        "/var/lib/dayplanner/ics-cache",
		Metrics:         true,
		ICS:             []ICSConfig{},
		Snapshot:        SnapshotConfig{Width: 480, Height: 1920},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.PixelsPerHour == 0 {
		c.PixelsPerHour = d.PixelsPerHour
	}
	if c.SnapMinutes == 0 {
		c.SnapMinutes = d.SnapMinutes
	}
	if c.DragThresholdPx == 0 {
		c.DragThresholdPx = d.DragThresholdPx
	}
	if c.HorizonDays == 0 {
		c.HorizonDays = d.HorizonDays
	}
	if c.SnoozeMinutes == 0 {
		c.SnoozeMinutes = d.SnoozeMinutes
	}
	if c.ReconcileCron == "" {
		c.ReconcileCron = d.ReconcileCron
	}
	if c.DeliverCron == "" {
		c.DeliverCron = d.DeliverCron
	}
	if c.EventsPath == "" {
		c.EventsPath = d.EventsPath
	}
	if c.SettingsPath == "" {
		c.SettingsPath = d.SettingsPath
	}
	if c.SpoolPath == "" {
		c.SpoolPath = d.SpoolPath
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Snapshot.Width <= 0 {
		c.Snapshot.Width = d.Snapshot.Width
	}
	if c.Snapshot.Height <= 0 {
		c.Snapshot.Height = d.Snapshot.Height
	}
}

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate reports every problem at once, joined with errors.Join.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.PixelsPerHour <= 0 {
		bad("pixels_per_hour", "must be positive, got %v", c.PixelsPerHour)
	}
	if c.SnapMinutes <= 0 || c.SnapMinutes > 60 {
		bad("snap_minutes", "must be in 1..60, got %d", c.SnapMinutes)
	}
	if c.DragThresholdPx <= 0 {
		bad("drag_threshold_px", "must be positive, got %v", c.DragThresholdPx)
	}
	if c.HorizonDays <= 0 {
		bad("horizon_days", "must be positive, got %d", c.HorizonDays)
	}
	if c.SnoozeMinutes <= 0 {
		bad("snooze_minutes", "must be positive, got %d", c.SnoozeMinutes)
	}
	if _, err := cron.ParseStandard(c.ReconcileCron); err != nil {
		bad("reconcile", "invalid cron expression %q: %v", c.ReconcileCron, err)
	}
	if _, err := cron.ParseStandard(c.DeliverCron); err != nil {
		bad("deliver", "invalid cron expression %q: %v", c.DeliverCron, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		bad("timezone", "unknown zone %q", c.Timezone)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		bad("log_level", "must be debug, info, warn or error, got %q", c.LogLevel)
	}
	if c.Postgres != nil && c.Postgres.DSN == "" {
		bad("postgres.dsn", "required when postgres is set")
	}

	seen := make(map[string]bool)
	for i, src := range c.ICS {
		switch {
		case src.ID == "":
			bad(fmt.Sprintf("ics[%d].id", i), "required")
		case seen[src.ID]:
			bad(fmt.Sprintf("ics[%d].id", i), "duplicate id %q", src.ID)
		}
		seen[src.ID] = true
		if src.URL == "" {
			bad(fmt.Sprintf("ics[%d].url", i), "required")
		}
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Warn("unknown timezone, using local", "timezone", c.Timezone)
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read and normalized.
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

// Save normalizes cfg and writes it atomically with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o600)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
