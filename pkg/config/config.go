// Package config loads runtime settings from a YAML file with environment
// overrides, and builds the configured engine pieces from them.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/sluicelabs/sluice/internal/logging"
	"github.com/sluicelabs/sluice/pkg/adapters/file"
	"github.com/sluicelabs/sluice/pkg/adapters/memory"
	"github.com/sluicelabs/sluice/pkg/adapters/redis"
	"github.com/sluicelabs/sluice/pkg/ports"
)

// Config defines runtime settings for a Sluice engine.
type Config struct {
	// Store selects the persistence backend: memory, file, or redis.
	Store string `yaml:"store"`
	// FilePath is the base directory of the file backend.
	FilePath string `yaml:"filePath"`

	Redis RedisConfig `yaml:"redis"`

	// MaxSupersteps caps the scheduler loop; zero keeps the engine default.
	MaxSupersteps int    `yaml:"maxSupersteps"`
	LogLevel      string `yaml:"logLevel"`
}

// RedisConfig holds the redis backend settings.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Load reads configuration from a YAML file (path may be empty) and applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Store:    "memory",
		FilePath: "./workflows",
		Redis:    RedisConfig{Address: "localhost:6379"},
		LogLevel: "info",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if store := os.Getenv("SLUICE_STORE"); store != "" {
		cfg.Store = store
	}
	if filePath := os.Getenv("SLUICE_FILE_PATH"); filePath != "" {
		cfg.FilePath = filePath
	}
	if addr := os.Getenv("SLUICE_REDIS_ADDRESS"); addr != "" {
		cfg.Redis.Address = addr
	}
	if password := os.Getenv("SLUICE_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if db := os.Getenv("SLUICE_REDIS_DB"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid SLUICE_REDIS_DB: %w", err)
		}
		cfg.Redis.DB = n
	}
	if max := os.Getenv("SLUICE_MAX_SUPERSTEPS"); max != "" {
		n, err := strconv.Atoi(max)
		if err != nil {
			return nil, fmt.Errorf("invalid SLUICE_MAX_SUPERSTEPS: %w", err)
		}
		cfg.MaxSupersteps = n
	}
	if level := os.Getenv("SLUICE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	switch cfg.Store {
	case "memory", "file", "redis":
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	return cfg, nil
}

// Logger builds a logger at the configured level.
func (c *Config) Logger() *slog.Logger {
	return logging.New(logging.ParseLevel(c.LogLevel))
}

// NewStore builds the configured persistence backend.
func (c *Config) NewStore() (ports.StepStore, error) {
	switch c.Store {
	case "memory":
		return memory.NewStore(), nil
	case "file":
		return file.New(c.FilePath), nil
	case "redis":
		return redis.New(c.Redis.Address, c.Redis.Password, c.Redis.DB), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Store)
	}
}
