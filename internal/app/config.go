package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the larder backend.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Invites  InviteConfig   `mapstructure:"invites"`
	Audit    AuditConfig    `mapstructure:"audit"`
}

// ServerConfig holds process-wide options.
type ServerConfig struct {
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string            `mapstructure:"driver"`
	Path     string            `mapstructure:"path"`
	DSN      string            `mapstructure:"dsn"`
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	User     string            `mapstructure:"user"`
	Password string            `mapstructure:"password"`
	Name     string            `mapstructure:"name"`
	Options  map[string]string `mapstructure:"options"`
}

// InviteConfig controls the invitation lifecycle.
type InviteConfig struct {
	Expiry        time.Duration `mapstructure:"expiry"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

// AuditConfig controls audit log retention.
type AuditConfig struct {
	RetentionDays int    `mapstructure:"retention_days"`
	Schedule      string `mapstructure:"schedule"`
}

// LoadConfig reads configuration from yaml files in the given paths plus
// LARDER_ prefixed environment variables. A missing config file is fine; the
// defaults stand on their own.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("LARDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "", "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}

	if c.Invites.Expiry <= 0 {
		return errors.New("config: invites.expiry must be positive")
	}
	if strings.TrimSpace(c.Invites.SweepSchedule) == "" {
		return errors.New("config: invites.sweep_schedule is required")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/larder.sqlite")

	v.SetDefault("invites.expiry", "168h")
	v.SetDefault("invites.sweep_schedule", "@hourly")

	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("audit.schedule", "@daily")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
