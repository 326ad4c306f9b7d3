package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// CalendarConfig describes one subscribed ICS calendar.
type CalendarConfig struct {
	// ID is what event rules reference.
	ID string `yaml:"id" json:"id"`
	// Name is the calendar name event filters compare against.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the process configuration. User sleep preferences live in the
// separate settings file.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone nights are computed in (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// DataDir holds the ICS cache, the sample database and, unless
	// overridden, the settings file.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// SettingsPath overrides <data_dir>/settings.yaml.
	SettingsPath string `yaml:"settings_path,omitempty" json:"settings_path,omitempty"`

	// FeedPath, if set, receives an .ics export of the computed nights after
	// each sync.
	FeedPath string `yaml:"feed_path,omitempty" json:"feed_path,omitempty"`

	// Calendars is the list of subscribed ICS calendars.
	Calendars []CalendarConfig `yaml:"calendars" json:"calendars"`

	// BasicAuth, if set with both fields, protects everything but /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		Timezone:  "Local",
		LogLevel:  "info",
		DataDir:   "/var/lib/sleepcal",
		Calendars: []CalendarConfig{},
	}
}

// Normalize fills in missing values so older or hand-edited files still work.
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
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	for i := range c.Calendars {
		if c.Calendars[i].ID == "" {
			c.Calendars[i].ID = c.Calendars[i].Name
		}
		if c.Calendars[i].ID == "" {
			c.Calendars[i].ID = c.Calendars[i].URL
		}
	}
}

// Validate reports configuration the process cannot run with.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, cal := range c.Calendars {
		if cal.URL == "" {
			return fmt.Errorf("calendar %q: url is empty", cal.ID)
		}
		if seen[cal.ID] {
			return fmt.Errorf("calendar %q: duplicate id", cal.ID)
		}
		seen[cal.ID] = true
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) ResolvedSettingsPath() string {
	if c.SettingsPath != "" {
		return c.SettingsPath
	}
	return filepath.Join(c.DataDir, "settings.yaml")
}

func (c *Config) CacheDir() string {
	return filepath.Join(c.DataDir, "ics-cache")
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "sleepcal.db")
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is decoded, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Return cfg with the error so the caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save normalizes cfg and writes it to path atomically with 0600 perms.
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
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to a temp file next to path, fsyncs it, sets
// 0600 and renames it over path. The parent directory is created (0700) if
// needed.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// No-op after a successful rename.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
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
	return os.Rename(tmpName, path)
}
