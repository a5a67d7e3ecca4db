// Package common provides shared utilities for piiscan
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for piiscan
type Config struct {
	Environment string         `toml:"environment"`
	Server      ServerConfig   `toml:"server"`
	Storage     StorageConfig  `toml:"storage"`
	Analysis    AnalysisConfig `toml:"analysis"`
	Logging     LoggingConfig  `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds result database configuration
type StorageConfig struct {
	DBPath string `toml:"db_path"` // SQLite file; parent dir created on open
}

// AnalysisConfig holds scan and scheduling configuration
type AnalysisConfig struct {
	DataPath        string  `toml:"data_path"`          // directory tree to scan
	Workers         int     `toml:"workers"`            // 0 = auto-sized from CPU/RAM
	BatchSize       int     `toml:"batch_size"`
	Threshold       float64 `toml:"threshold"`          // analyzer confidence floor, [0,1]
	FileSizeLimitMB int64   `toml:"file_size_limit_mb"` // per-file upper bound
	WorkerBin       string  `toml:"worker_bin"`         // analyzer subprocess; "" = re-exec self
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level"`
}

// FileSizeLimitBytes returns the per-file limit in bytes.
func (c *AnalysisConfig) FileSizeLimitBytes() int64 {
	return c.FileSizeLimitMB * 1024 * 1024
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			DBPath: "/app/db/pii_results.db",
		},
		Analysis: AnalysisConfig{
			DataPath:        "/data",
			Workers:         0,
			BatchSize:       50,
			Threshold:       0.7,
			FileSizeLimitMB: 100,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Apply environment overrides
	applyEnvOverrides(config)

	// Clamp out-of-range analysis values
	validateAnalysis(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PII_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("PII_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("PII_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("PII_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("PII_DB_PATH"); path != "" {
		config.Storage.DBPath = path
	}

	if path := os.Getenv("PII_DATA_PATH"); path != "" {
		config.Analysis.DataPath = path
	}

	if workers := os.Getenv("PII_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Analysis.Workers = w
		}
	}

	if batch := os.Getenv("PII_BATCH_SIZE"); batch != "" {
		if b, err := strconv.Atoi(batch); err == nil {
			config.Analysis.BatchSize = b
		}
	}

	if threshold := os.Getenv("PII_THRESHOLD"); threshold != "" {
		if t, err := strconv.ParseFloat(threshold, 64); err == nil {
			config.Analysis.Threshold = t
		}
	}

	if limit := os.Getenv("PII_FILE_SIZE_LIMIT"); limit != "" {
		if l, err := strconv.ParseInt(limit, 10, 64); err == nil {
			config.Analysis.FileSizeLimitMB = l
		}
	}

	if bin := os.Getenv("PII_WORKER_BIN"); bin != "" {
		config.Analysis.WorkerBin = bin
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// validateAnalysis clamps analysis values to their legal ranges.
func validateAnalysis(config *Config) {
	a := &config.Analysis
	if a.Threshold < 0 {
		a.Threshold = 0
	}
	if a.Threshold > 1 {
		a.Threshold = 1
	}
	if a.Workers < 0 {
		a.Workers = 0
	}
	if a.BatchSize <= 0 {
		a.BatchSize = 50
	}
	if a.FileSizeLimitMB <= 0 {
		a.FileSizeLimitMB = 100
	}
}
