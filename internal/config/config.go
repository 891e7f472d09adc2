// Package config provides unified configuration for the gridbase services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the unified configuration for gridbase.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `json:"log_level" yaml:"log_level"`

	// Database configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Trash configuration
	Trash TrashConfig `json:"trash" yaml:"trash"`

	// DataSync configuration
	DataSync DataSyncConfig `json:"data_sync" yaml:"data_sync"`

	// Storage configuration for user files
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// gRPC health endpoint configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`
}

// DatabaseConfig holds SQLite configuration.
type DatabaseConfig struct {
	// Path is the SQLite file holding catalog and user tables
	Path string `json:"path" yaml:"path"`

	// BusyTimeoutMS is the SQLite busy timeout in milliseconds
	BusyTimeoutMS int `json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// TrashConfig holds trash retention configuration.
type TrashConfig struct {
	// RetentionHours is how long trashed items stay restorable
	RetentionHours int `json:"retention_hours" yaml:"retention_hours"`

	// SweepInterval is how often the scheduler marks and purges old trash
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

// DataSyncConfig holds data sync refresh configuration.
type DataSyncConfig struct {
	// Enabled controls periodic refreshes
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Interval is the minimum age of the last sync before a refresh
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	Addr    string `json:"addr" yaml:"addr"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  "./data/gridbase",
		LogLevel: "info",
		Database: DatabaseConfig{
			BusyTimeoutMS: 5000,
		},
		Trash: TrashConfig{
			RetentionHours: 72,
			SweepInterval:  5 * time.Minute,
		},
		DataSync: DataSyncConfig{
			Enabled:  true,
			Interval: time.Hour,
		},
		Storage: StorageConfig{
			Type: "local",
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/gridbase"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "gridbase.db")
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "user_files")
	}
}

// TempDir is where uploads are staged before they reach storage.
func (c *Config) TempDir() string {
	return filepath.Join(c.DataDir, "tmp")
}

// Retention returns the trash retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Trash.RetentionHours) * time.Hour
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Trash.RetentionHours < 0 {
		return fmt.Errorf("trash.retention_hours must not be negative, got %d", c.Trash.RetentionHours)
	}

	if c.Trash.SweepInterval <= 0 {
		return fmt.Errorf("trash.sweep_interval must be positive")
	}

	if c.DataSync.Enabled && c.DataSync.Interval <= 0 {
		return fmt.Errorf("data_sync.interval must be positive when data sync is enabled")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the GRIDBASE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("GRIDBASE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("GRIDBASE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GRIDBASE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Trash configuration
	if v := os.Getenv("GRIDBASE_TRASH_RETENTION_HOURS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Trash.RetentionHours)
	}
	if v := os.Getenv("GRIDBASE_TRASH_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Trash.SweepInterval = d
		}
	}

	// Data sync configuration
	if v := os.Getenv("GRIDBASE_DATA_SYNC_ENABLED"); v != "" {
		cfg.DataSync.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("GRIDBASE_DATA_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DataSync.Interval = d
		}
	}

	// gRPC configuration
	if v := os.Getenv("GRIDBASE_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("GRIDBASE_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = v == "true" || v == "1"
	}

	// Storage configuration
	if v := os.Getenv("GRIDBASE_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("GRIDBASE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("GRIDBASE_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("GRIDBASE_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("GRIDBASE_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.TempDir(),
		filepath.Dir(c.Database.Path),
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
