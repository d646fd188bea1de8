// Package config loads babylog settings from YAML with BABYLOG_* environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/babylog/internal/identity"
	"github.com/kimhsiao/babylog/internal/logging"
	"github.com/kimhsiao/babylog/internal/uuid"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BABYLOG_"

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Identity IdentityConfig `yaml:"identity"`
	Logging  LoggingConfig  `yaml:"logging"`
	Reminder ReminderConfig `yaml:"reminder"`
	Client   ClientConfig   `yaml:"client"`
	Timezone string         `yaml:"timezone"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Dir string `yaml:"dir"`
}

// IdentityConfig sets the fallback user and an optional static session.
type IdentityConfig struct {
	FallbackUserID string `yaml:"fallback_user_id"`
	UserID         string `yaml:"user_id"`
	Email          string `yaml:"email"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ReminderConfig struct {
	FeedingInterval time.Duration `yaml:"feeding_interval"`
	CheckSchedule   string        `yaml:"check_schedule"`
}

// ClientConfig points the CLI at a running server.
type ClientConfig struct {
	BaseURL string `yaml:"base_url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:8787",
		},
		Database: DatabaseConfig{
			Dir: "./data",
		},
		Identity: IdentityConfig{
			FallbackUserID: identity.DefaultFallbackUserID,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Reminder: ReminderConfig{
			FeedingInterval: 3 * time.Hour,
			CheckSchedule:   "@every 1m",
		},
		Client: ClientConfig{
			BaseURL: "http://127.0.0.1:8787",
		},
		Timezone: "Local",
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BABYLOG_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	str("SERVER_ADDR", &c.Server.Addr)
	str("DATA_DIR", &c.Database.Dir)
	str("FALLBACK_USER_ID", &c.Identity.FallbackUserID)
	str("USER_ID", &c.Identity.UserID)
	str("USER_EMAIL", &c.Identity.Email)
	str("LOG_LEVEL", &c.Logging.Level)
	str("CHECK_SCHEDULE", &c.Reminder.CheckSchedule)
	str("BASE_URL", &c.Client.BaseURL)
	str("TIMEZONE", &c.Timezone)

	if v, ok := lookup(EnvPrefix + "ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Server.AllowedOrigins = append(c.Server.AllowedOrigins, o)
			}
		}
	}
	if v, ok := lookup(EnvPrefix + "FEEDING_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sFEEDING_INTERVAL: %w", EnvPrefix, err)
		}
		c.Reminder.FeedingInterval = d
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Database.Dir == "" {
		return fmt.Errorf("database.dir is required")
	}
	if _, err := uuid.Normalize(c.Identity.FallbackUserID); err != nil {
		return fmt.Errorf("identity.fallback_user_id: %w", err)
	}
	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Reminder.FeedingInterval <= 0 {
		return fmt.Errorf("reminder.feeding_interval must be positive")
	}
	if _, err := cron.ParseStandard(c.Reminder.CheckSchedule); err != nil {
		return fmt.Errorf("reminder.check_schedule: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// LogLevel returns the parsed logging level, INFO when unset.
func (c *Config) LogLevel() logging.LogLevel {
	level, ok := logging.ParseLevel(c.Logging.Level)
	if !ok {
		return logging.LevelInfo
	}
	return level
}

// Sessions returns the static session from the identity section.
func (c *Config) Sessions() identity.Sessions {
	if c.Identity.UserID == "" {
		return identity.NoSession{}
	}
	return identity.StaticSession{ID: c.Identity.UserID, Email: c.Identity.Email}
}
