// Package config loads clutchbot settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// HostingMarkers are environment variables whose presence, not value, marks a hosted deployment.
var HostingMarkers = []string{"RENDER", "HOSTED"}

const (
	DefaultPort             = 10000
	DefaultHealthHost       = "0.0.0.0"
	DefaultPresenceInterval = 5 * time.Minute
	DefaultPresenceStatus   = "dnd"
	DefaultPresenceActivity = "Clutch Info 📑"
	DefaultExtension        = "infoCommands"
)

// Config holds all configuration for the bot
type Config struct {
	Token      string   `mapstructure:"token"`
	GuildID    string   `mapstructure:"guild_id"   validate:"omitempty,numeric"`
	Extensions []string `mapstructure:"extensions"`

	// HealthHost is HEALTH_HOST rather than HOST, which shells and container images often set to the hostname.
	HealthHost string `mapstructure:"health_host" validate:"required"`
	Port       int    `mapstructure:"port"        validate:"min=1,max=65535"`

	PresenceInterval time.Duration `mapstructure:"presence_interval" validate:"min=1s"`
	PresenceStatus   string        `mapstructure:"presence_status"   validate:"oneof=online idle dnd invisible"`
	PresenceActivity string        `mapstructure:"presence_activity" validate:"required"`

	LogLevel  string `mapstructure:"log_level"  validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=console json"`

	JaegerEndpoint string `mapstructure:"jaeger_endpoint" validate:"omitempty,url"`
	Environment    string `mapstructure:"environment"`

	// Hosted is resolved once from HostingMarkers when the config is loaded.
	Hosted bool `mapstructure:"-"`
}

var defaults = map[string]any{
	"health_host":       DefaultHealthHost,
	"port":              DefaultPort,
	"extensions":        []string{DefaultExtension},
	"presence_interval": DefaultPresenceInterval,
	"presence_status":   DefaultPresenceStatus,
	"presence_activity": DefaultPresenceActivity,
	"log_level":         "info",
	"log_format":        "console",
	"environment":       "dev",
}

// Load reads configuration from .env (if present) and the process environment.
// It does not validate; callers decide when a missing token becomes fatal.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, &ConfigError{Field: ".env", Message: "failed to read .env file", Err: err}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range []string{"token", "guild_id", "jaeger_endpoint"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &ConfigError{Field: "environment", Message: "failed to parse configuration", Err: err}
	}
	cfg.Extensions = trimAll(cfg.Extensions)
	cfg.Hosted = hostingMarkerPresent()

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Token == "" {
		return &ConfigError{Field: "TOKEN", Message: "missing TOKEN in environment"}
	}
	if err := validator.New().Struct(c); err != nil {
		return &ConfigError{Field: fieldOf(err), Message: "invalid configuration", Err: err}
	}
	return nil
}

func hostingMarkerPresent() bool {
	for _, marker := range HostingMarkers {
		if _, ok := os.LookupEnv(marker); ok {
			return true
		}
	}
	return false
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func fieldOf(err error) string {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		return errs[0].Field()
	}
	return ""
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
