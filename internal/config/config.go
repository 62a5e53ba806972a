// Package config handles application configuration.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	Addr            string `mapstructure:"addr"`
	DBPath          string `mapstructure:"db_path"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	IntervalMinutes int    `mapstructure:"interval_minutes"`
	FetchWorkers    int    `mapstructure:"fetch_workers"`
	LogLevel        string `mapstructure:"log_level"`
}

// Load reads configuration from an optional feedbarn.yaml and from
// FEEDBARN_-prefixed environment variables, which take precedence. The
// basic-auth username and password have no default and must be set.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("feedbarn")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/feedbarn")
	v.SetEnvPrefix("FEEDBARN")
	v.AutomaticEnv()

	v.SetDefault("addr", ":4000")
	v.SetDefault("db_path", "data/feedbarn.db")
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("interval_minutes", 30)
	v.SetDefault("fetch_workers", 8)
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	if cfg.IntervalMinutes < 1 {
		return nil, fmt.Errorf("interval_minutes must be at least 1")
	}
	return cfg, nil
}
