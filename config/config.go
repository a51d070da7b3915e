/*
Package config loads runtime settings for the cashback engine.

PURPOSE:
  Centralizes every tunable in one struct, loaded from environment
  variables with an optional .env file for local development. Viper
  handles the binding so deployment environments only need to export
  variables.

SETTINGS:
  SERVER_PORT           HTTP listen port (default 8080)
  DATABASE_PATH         SQLite file path, ":memory:" for ephemeral
  AUDIT_INTERVAL_SECONDS  Background integrity sweep period (0 disables)
  LOCK_TIMEOUT_MS       How long a request waits on a busy pair

USAGE:
  cfg, err := config.Load(".")
  if err != nil { ... }
*/
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings, loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabasePath         string `mapstructure:"DATABASE_PATH"`
	AuditIntervalSeconds int    `mapstructure:"AUDIT_INTERVAL_SECONDS"`
	LockTimeoutMillis    int    `mapstructure:"LOCK_TIMEOUT_MS"`
}

// AuditInterval returns the integrity sweep period. Zero means the
// background auditor is disabled.
func (c Config) AuditInterval() time.Duration {
	if c.AuditIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.AuditIntervalSeconds) * time.Second
}

// LockTimeout returns how long an operation waits for a pair lock before
// giving up with a busy error.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMillis) * time.Millisecond
}

// Load reads configuration from environment variables, with an optional
// .env file in the given path. A missing .env file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()

	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("DATABASE_PATH", "./data/cashback.db")
	v.SetDefault("AUDIT_INTERVAL_SECONDS", 300)
	v.SetDefault("LOCK_TIMEOUT_MS", 2000)

	_ = v.BindEnv("SERVER_PORT")
	_ = v.BindEnv("DATABASE_PATH")
	_ = v.BindEnv("AUDIT_INTERVAL_SECONDS")
	_ = v.BindEnv("LOCK_TIMEOUT_MS")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.LockTimeoutMillis <= 0 {
		cfg.LockTimeoutMillis = 2000
	}
	return cfg, nil
}
