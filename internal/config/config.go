package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"printcal/internal/ics"
	appLog "printcal/internal/log"
)

var (
	// ErrConfigurationMissing is returned when a required setting is absent.
	ErrConfigurationMissing = errors.New("configuration missing")
	// ErrInvalidConfig is returned when a setting is present but unusable.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Delivery methods.
const (
	MethodFile  = "file"
	MethodEmail = "email"
)

// Output formats.
const (
	FormatPDF  = "pdf"
	FormatHTML = "html"
)

const (
	DefaultTitle          = "Daily Agenda"
	DefaultTimezone       = "UTC"
	DefaultConcurrency    = 4
	DefaultLookaheadDays  = 730
	DefaultMaxOccurrences = 5000
	DefaultSMTPPort       = 587
	DefaultRenderTimeout  = 30 * time.Second
)

// FeedConfig describes a single ICS subscription source.
type FeedConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is the identifier attached to events and log lines.
	ID string `yaml:"id,omitempty" json:"id,omitempty"`
	// Name is a human-friendly label, used as ID when ID is empty.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	// From defaults to Username.
	From string `yaml:"from" json:"from"`
}

// DeliveryConfig selects where the rendered document goes.
type DeliveryConfig struct {
	// Method is "file" (default) or "email".
	Method string `yaml:"method" json:"method"`
	// OutputPath may contain a {date} placeholder (YYYY-MM-DD).
	OutputPath string `yaml:"output_path" json:"output_path"`
	// PrinterEmail is the print-by-email mailbox.
	PrinterEmail string     `yaml:"printer_email" json:"printer_email"`
	SMTP         SMTPConfig `yaml:"smtp" json:"smtp"`
}

// RenderConfig controls document rendering.
type RenderConfig struct {
	// Format is "pdf" (default) or "html".
	Format string `yaml:"format" json:"format"`
	// Paper is "a4" (default) or "letter".
	Paper string `yaml:"paper" json:"paper"`
	// ChromePath overrides the Chrome/Chromium executable.
	ChromePath     string `yaml:"chrome_path,omitempty" json:"chrome_path,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the preview server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration. It is built once at
// startup and passed explicitly to every component.
type Config struct {
	// Title is printed at the top of the agenda.
	Title string `yaml:"title" json:"title"`

	// Timezone is the IANA timezone that defines "today" and display times.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Feeds is the list of subscribed ICS sources, in display order.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// Strategy selects the extraction strategy: "auto", "flat" or "recurring".
	Strategy string `yaml:"strategy" json:"strategy"`

	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`
	Concurrency         int `yaml:"concurrency" json:"concurrency"`

	// LookaheadDays bounds recurrence expansion.
	LookaheadDays  int `yaml:"lookahead_days" json:"lookahead_days"`
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	// Schedule is a cron expression used when not running with -once.
	// Empty means run once.
	Schedule string `yaml:"schedule" json:"schedule"`

	// Listen, if set, starts the preview HTTP server.
	Listen    string           `yaml:"listen,omitempty" json:"listen,omitempty"`
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Render   RenderConfig   `yaml:"render" json:"render"`
	Delivery DeliveryConfig `yaml:"delivery" json:"delivery"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Title == "" {
		c.Title = DefaultTitle
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	for i := range c.Feeds {
		c.Feeds[i].URL = strings.TrimSpace(c.Feeds[i].URL)
	}
	c.Strategy = strings.ToLower(strings.TrimSpace(c.Strategy))
	if c.Strategy == "" {
		c.Strategy = string(ics.StrategyAuto)
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = int(ics.DefaultFetchTimeout / time.Second)
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.LookaheadDays <= 0 {
		c.LookaheadDays = DefaultLookaheadDays
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = DefaultMaxOccurrences
	}

	c.Render.Format = strings.ToLower(c.Render.Format)
	if c.Render.Format == "" {
		c.Render.Format = FormatPDF
	}
	c.Render.Paper = strings.ToLower(c.Render.Paper)
	if c.Render.Paper == "" {
		c.Render.Paper = "a4"
	}
	if c.Render.TimeoutSeconds <= 0 {
		c.Render.TimeoutSeconds = int(DefaultRenderTimeout / time.Second)
	}

	d := &c.Delivery
	d.Method = strings.ToLower(d.Method)
	if d.Method == "" {
		if d.PrinterEmail != "" {
			d.Method = MethodEmail
		} else {
			d.Method = MethodFile
		}
	}
	if d.OutputPath == "" {
		d.OutputPath = "agenda-{date}." + c.Render.Format
	}
	if d.SMTP.Port <= 0 {
		d.SMTP.Port = DefaultSMTPPort
	}
	if d.SMTP.From == "" {
		d.SMTP.From = d.SMTP.Username
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports the first setting that prevents a run. The returned
// error wraps ErrConfigurationMissing or ErrInvalidConfig.
func (c *Config) Validate() error {
	if len(c.Sources()) == 0 {
		return fmt.Errorf("%w: no calendar feeds configured", ErrConfigurationMissing)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	if _, err := ics.ParseStrategy(c.Strategy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.Render.Format {
	case FormatPDF, FormatHTML:
	default:
		return fmt.Errorf("%w: unknown render format %q", ErrInvalidConfig, c.Render.Format)
	}
	switch c.Render.Paper {
	case "a4", "letter":
	default:
		return fmt.Errorf("%w: unknown paper size %q", ErrInvalidConfig, c.Render.Paper)
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("%w: schedule %q: %v", ErrInvalidConfig, c.Schedule, err)
		}
	}
	if _, ok := appLog.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.LogLevel)
	}

	switch c.Delivery.Method {
	case MethodFile:
		if c.Delivery.OutputPath == "" {
			return fmt.Errorf("%w: output path", ErrConfigurationMissing)
		}
	case MethodEmail:
		if c.Delivery.PrinterEmail == "" {
			return fmt.Errorf("%w: printer email", ErrConfigurationMissing)
		}
		if c.Delivery.SMTP.Host == "" {
			return fmt.Errorf("%w: SMTP host", ErrConfigurationMissing)
		}
		if c.Delivery.SMTP.From == "" {
			return fmt.Errorf("%w: SMTP sender address", ErrConfigurationMissing)
		}
	default:
		return fmt.Errorf("%w: unknown delivery method %q", ErrInvalidConfig, c.Delivery.Method)
	}
	return nil
}

// Location resolves Timezone. Call Validate first; an unknown zone yields UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FetchTimeout is the per-feed request timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// Lookahead is the recurrence expansion span.
func (c *Config) Lookahead() time.Duration {
	return time.Duration(c.LookaheadDays) * 24 * time.Hour
}

// RenderTimeout bounds one render.
func (c *Config) RenderTimeout() time.Duration {
	return time.Duration(c.Render.TimeoutSeconds) * time.Second
}

// Sources converts the configured feeds into fetch sources, skipping entries
// without a URL. The ID falls back to Name, then URL.
func (c *Config) Sources() []ics.Source {
	sources := make([]ics.Source, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		if f.URL == "" {
			continue
		}
		id := f.ID
		if id == "" {
			if f.Name != "" {
				id = f.Name
			} else {
				id = f.URL
			}
		}
		sources = append(sources, ics.Source{ID: id, URL: f.URL})
	}
	return sources
}

// ApplyEnv applies the legacy environment variables on top of the file
// values. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup("CALENDAR_URLS"); ok && strings.TrimSpace(v) != "" {
		feeds := []FeedConfig{}
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				feeds = append(feeds, FeedConfig{URL: u})
			}
		}
		c.Feeds = feeds
	}
	str("TIMEZONE", &c.Timezone)
	str("CALENDAR_TITLE", &c.Title)
	str("OUTPUT_PATH", &c.Delivery.OutputPath)
	str("PRINTER_EMAIL", &c.Delivery.PrinterEmail)
	str("SMTP_HOST", &c.Delivery.SMTP.Host)
	str("SMTP_USER", &c.Delivery.SMTP.Username)
	str("SMTP_FROM", &c.Delivery.SMTP.From)
	str("LOG_LEVEL", &c.LogLevel)
	if v, ok := lookup("SMTP_PASS"); ok && v != "" {
		c.Delivery.SMTP.Password = v
	}
	if v, ok := lookup("SMTP_PORT"); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("%w: SMTP_PORT %q", ErrInvalidConfig, v)
		}
		c.Delivery.SMTP.Port = port
	}
	return nil
}

// Load loads configuration from the given YAML path and applies environment
// overrides.
//
// Behavior:
//   - An empty path skips the file; defaults plus environment are used.
//   - A missing file is created with the defaults (0600) so it can be
//     edited; failure to create it is logged, not fatal.
//   - An existing file is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if err := Save(path, starterConfig()); err != nil {
				appLog.Warn("could not write default config", "config_path", path, "err", err)
			} else {
				appLog.Info("wrote default config", "config_path", path)
			}
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
			}
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// starterConfig is the file written on first run: the defaults, minus the
// delivery fields Normalize derives from other settings on every load.
func starterConfig() *Config {
	c := DefaultConfig()
	c.Delivery.Method = ""
	c.Delivery.OutputPath = ""
	c.Delivery.SMTP.From = ""
	return c
}

// Save writes the given configuration as-is to the specified path
// atomically (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".printcal-*.tmp")
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
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
