// Package config loads server configuration and builds the logger.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration.
type Config struct {
	Port        int      `yaml:"port"`
	DBPath      string   `yaml:"db_path"`
	LogLevel    string   `yaml:"log_level"`
	LogFormat   string   `yaml:"log_format"`
	BatchSize   int      `yaml:"batch_size"`
	CORSOrigins []string `yaml:"cors_origins"`
	Metrics     bool     `yaml:"metrics"`

	// SchedulerInterval is how often queued bill runs are picked up. Zero disables the scheduler.
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Port:              8080,
		DBPath:            "billing.db",
		LogLevel:          "info",
		LogFormat:         "json",
		BatchSize:         10,
		CORSOrigins:       []string{"http://localhost:5173", "http://localhost:8080"},
		Metrics:           true,
		SchedulerInterval: time.Minute,
	}
}

// Load reads configuration: defaults, then .env, then the YAML file at path
// (or BILLING_CONFIG when path is empty), then BILLING_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("BILLING_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Port = getenvIntDefault("BILLING_PORT", cfg.Port)
	cfg.DBPath = getenvDefault("BILLING_DB", cfg.DBPath)
	cfg.LogLevel = getenvDefault("BILLING_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenvDefault("BILLING_LOG_FORMAT", cfg.LogFormat)
	cfg.BatchSize = getenvIntDefault("BILLING_BATCH_SIZE", cfg.BatchSize)
	if origins := splitCSV(os.Getenv("BILLING_CORS_ORIGINS")); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
	if value := os.Getenv("BILLING_METRICS"); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			cfg.Metrics = enabled
		}
	}
	if value := os.Getenv("BILLING_SCHEDULER_INTERVAL"); value != "" {
		if interval, err := time.ParseDuration(value); err == nil {
			cfg.SchedulerInterval = interval
		}
	}

	return cfg, cfg.Validate()
}

// Validate reports configuration that the server cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("config: database path required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch size must be positive, got %d", c.BatchSize)
	}
	if c.SchedulerInterval < 0 {
		return fmt.Errorf("config: negative scheduler interval %s", c.SchedulerInterval)
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
