package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	toml "github.com/pelletier/go-toml/v2"
)

// DatabaseDriver selects the storage backend.
type DatabaseDriver string

const (
	DriverSQLite   DatabaseDriver = "sqlite"
	DriverJSONFile DatabaseDriver = "jsonfile"
	DriverPostgres DatabaseDriver = "postgres"
)

// AlertStore selects where the notified set lives.
type AlertStore string

const (
	AlertStoreMemory AlertStore = "memory"
	AlertStoreRedis  AlertStore = "redis"
)

// DefaultTimezone is the facility time zone used when none is configured.
const DefaultTimezone = "Asia/Yekaterinburg"

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Facility FacilityConfig `toml:"facility"`
	Alerts   AlertsConfig   `toml:"alerts"`
	Rollover RolloverConfig `toml:"rollover"`
	Report   ReportConfig   `toml:"report"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
}

type DatabaseConfig struct {
	Driver DatabaseDriver `toml:"driver"`
	Path   string         `toml:"path"`
	Dir    string         `toml:"dir"`
	URL    string         `toml:"url"`
}

type FacilityConfig struct {
	Timezone string `toml:"timezone"`
}

type AlertsConfig struct {
	Enabled          bool       `toml:"enabled"`
	LoadingThreshold Duration   `toml:"loading_threshold"`
	ScanInterval     Duration   `toml:"scan_interval"`
	Store            AlertStore `toml:"store"`
	RedisAddr        string     `toml:"redis_addr"`
	RedisKey         string     `toml:"redis_key"`
}

type RolloverConfig struct {
	Enabled bool   `toml:"enabled"`
	At      string `toml:"at"`
	// Secret guards the remote rollover trigger; empty disables it.
	Secret string `toml:"secret"`
}

type ReportConfig struct {
	DailyEnabled bool   `toml:"daily_enabled"`
	DailyAt      string `toml:"daily_at"`
}

type NotifyConfig struct {
	WebhookURL string `toml:"webhook_url"`
}

type ServerConfig struct {
	HTTPBind        string `toml:"http_bind"`
	APIEndpoint     string `toml:"api_endpoint"`
	MCPEndpoint     string `toml:"mcp_endpoint"`
	MetricsEndpoint string `toml:"metrics_endpoint"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// Duration decodes TOML strings such as "30m".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   dbPath,
			Dir:    filepath.Join(filepath.Dir(dbPath), "history"),
		},
		Facility: FacilityConfig{
			Timezone: DefaultTimezone,
		},
		Alerts: AlertsConfig{
			Enabled:          true,
			LoadingThreshold: Duration(30 * time.Minute),
			ScanInterval:     Duration(time.Minute),
			Store:            AlertStoreMemory,
			RedisAddr:        "127.0.0.1:6379",
			RedisKey:         "yard:alerts:notified",
		},
		Rollover: RolloverConfig{
			Enabled: true,
			At:      "03:00",
		},
		Report: ReportConfig{
			DailyEnabled: true,
			DailyAt:      "19:00",
		},
		Server: ServerConfig{
			HTTPBind:        "127.0.0.1:5437",
			APIEndpoint:     "/api/v1",
			MCPEndpoint:     "/mcp",
			MetricsEndpoint: "/metrics",
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: false,
				Dir:     ".yard/log",
			},
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyEnv overrides file values with YARD_* variables from lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var driver string
	str("YARD_DB_DRIVER", &driver)
	if driver != "" {
		c.Database.Driver = DatabaseDriver(strings.ToLower(driver))
	}
	str("YARD_DB_PATH", &c.Database.Path)
	str("YARD_DB_DIR", &c.Database.Dir)
	str("YARD_DATABASE_URL", &c.Database.URL)
	str("YARD_TIMEZONE", &c.Facility.Timezone)
	str("YARD_REDIS_ADDR", &c.Alerts.RedisAddr)
	str("YARD_ROLLOVER_SECRET", &c.Rollover.Secret)
	str("YARD_WEBHOOK_URL", &c.Notify.WebhookURL)
	str("YARD_HTTP_BIND", &c.Server.HTTPBind)
	str("YARD_LOG_LEVEL", &c.Logging.Level)

	var threshold string
	str("YARD_LOADING_THRESHOLD", &threshold)
	if threshold != "" {
		if err := c.Alerts.LoadingThreshold.UnmarshalText([]byte(threshold)); err != nil {
			return fmt.Errorf("YARD_LOADING_THRESHOLD: %w", err)
		}
	}
	return c.Validate()
}

// Location loads the facility time zone.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Facility.Timezone)
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load facility timezone %q: %w", name, err)
	}
	return loc, nil
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database.path is required for the sqlite driver")
		}
	case DriverJSONFile:
		if strings.TrimSpace(c.Database.Dir) == "" {
			return errors.New("database.dir is required for the jsonfile driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Database.URL) == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid database.driver: %q", c.Database.Driver)
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	if c.Alerts.LoadingThreshold <= 0 {
		return errors.New("alerts.loading_threshold must be positive")
	}
	if c.Alerts.ScanInterval <= 0 {
		return errors.New("alerts.scan_interval must be positive")
	}
	switch c.Alerts.Store {
	case AlertStoreMemory:
	case AlertStoreRedis:
		if strings.TrimSpace(c.Alerts.RedisAddr) == "" {
			return errors.New("alerts.redis_addr is required for the redis store")
		}
	default:
		return fmt.Errorf("invalid alerts.store: %q", c.Alerts.Store)
	}

	if err := validateClock("rollover.at", c.Rollover.At); err != nil {
		return err
	}
	if err := validateClock("report.daily_at", c.Report.DailyAt); err != nil {
		return err
	}

	if strings.TrimSpace(c.Server.HTTPBind) == "" {
		return errors.New("server.http_bind is required")
	}
	for name, endpoint := range map[string]string{
		"server.api_endpoint":     c.Server.APIEndpoint,
		"server.mcp_endpoint":     c.Server.MCPEndpoint,
		"server.metrics_endpoint": c.Server.MetricsEndpoint,
	} {
		if !strings.HasPrefix(strings.TrimSpace(endpoint), "/") {
			return fmt.Errorf("%s must start with /: %q", name, endpoint)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	if c.Logging.DevFile.Enabled && strings.TrimSpace(c.Logging.DevFile.Dir) == "" {
		return errors.New("logging.dev_file.dir is required when the dev file sink is enabled")
	}
	return nil
}

// validateClock checks an HH:MM wall-clock value.
func validateClock(field, raw string) error {
	if _, err := time.Parse("15:04", strings.TrimSpace(raw)); err != nil {
		return fmt.Errorf("invalid %s: %q must be HH:MM", field, raw)
	}
	return nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
