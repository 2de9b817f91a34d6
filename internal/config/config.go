// Package config loads the composition root's process configuration from
// environment variables and an optional .env file. Grounded on the
// teacher's internal/config/config.go: caarlos0/env struct tags, godotenv
// for the .env file, and a CLI-override struct applied after env parsing.
package config

import (
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the discovery agent's process configuration.
type Config struct {
	ListenAddr        string `env:"LISTEN_ADDR" envDefault:":8088"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	ProfileDir        string `env:"PROFILE_DIR" envDefault:"./profiles"`
	DefaultFileMaxNum int    `env:"DEFAULT_FILE_MAX_NUM" envDefault:"1000"`

	// DefaultTimeZone backs DatePatternEngine's time zone for any task
	// profile that doesn't set its own (glossary: "config-defined, default
	// UTC+8").
	DefaultTimeZone string `env:"DEFAULT_TIME_ZONE" envDefault:"Asia/Shanghai"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile    string
	ListenAddr string
	LogLevel   string
	ProfileDir string
}

// Load reads configuration from a .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.ListenAddr != "" {
		cfg.ListenAddr = overrides.ListenAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.ProfileDir != "" {
		cfg.ProfileDir = overrides.ProfileDir
	}

	return cfg, nil
}
