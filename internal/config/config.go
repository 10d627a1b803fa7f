// Package config loads, validates and hot-reloads the orchestrator configuration.
// Values come from a YAML file, LEADPILOT_* environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	_ "time/tzdata" // business-hour timezones must resolve on minimal images
)

// EnvPrefix prefixes environment overrides, e.g. LEADPILOT_GEMINI_API_KEY.
const EnvPrefix = "LEADPILOT"

// LoadConfig reads, defaults and validates the configuration at path.
// A missing file is tolerated; required credentials must then come from the environment.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := load(path)
	return cfg, err
}

func load(path string) (*Config, *viper.Viper, error) {
	// .env is optional and never overrides variables already set
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		slog.Warn("Config file not found, using defaults and environment", "path", path)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
