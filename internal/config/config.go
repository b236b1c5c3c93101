package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Detector DetectorConfig `mapstructure:"detector"`
	Source   SourceConfig   `mapstructure:"source"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// EngineConfig holds master/worker orchestration configuration
type EngineConfig struct {
	WorkerCount     int           `mapstructure:"worker_count"`
	BatchSize       int           `mapstructure:"batch_size"` // 0 = derive from readings/workers
	PollingInterval time.Duration `mapstructure:"polling_interval"`
	WorkerTimeout   time.Duration `mapstructure:"worker_timeout"`
	MaxCycles       int           `mapstructure:"max_cycles"` // 0 = run until shutdown signal
}

// DetectorConfig holds the statistical detection thresholds
type DetectorConfig struct {
	MinHistory         int     `mapstructure:"min_history"`
	MaxHistory         int     `mapstructure:"max_history"`
	ThresholdDeviation float64 `mapstructure:"threshold_deviation"`
	ThresholdCritical  float64 `mapstructure:"threshold_critical"`
}

// SourceConfig holds the telemetry input configuration
type SourceConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	DBPath     string `mapstructure:"db_path"`
	MaxReports int    `mapstructure:"max_reports"`
	ReportPath string `mapstructure:"report_path"` // optional JSONL export, "" = disabled
}

// MetricsConfig holds the ops endpoint configuration
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("SEWERWATCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.worker_count", 3)
	v.SetDefault("engine.batch_size", 0) // derive from readings / worker count
	v.SetDefault("engine.polling_interval", "30s")
	v.SetDefault("engine.worker_timeout", "10s")
	v.SetDefault("engine.max_cycles", 0)

	// Detector defaults
	v.SetDefault("detector.min_history", 10)
	v.SetDefault("detector.max_history", 50)
	v.SetDefault("detector.threshold_deviation", 2.5)
	v.SetDefault("detector.threshold_critical", 3.5)

	// Source defaults
	v.SetDefault("source.path", "./data/sensor_readings.csv")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/sewerwatch.db")
	v.SetDefault("storage.max_reports", 500)
	v.SetDefault("storage.report_path", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid. A failure
// here is fatal at startup: running with malformed thresholds would
// silently produce wrong classifications.
func (c *Config) Validate() error {
	// Validate Engine config
	if c.Engine.WorkerCount < 1 {
		return fmt.Errorf("engine.worker_count must be at least 1")
	}
	if c.Engine.BatchSize < 0 {
		return fmt.Errorf("engine.batch_size must not be negative")
	}
	if c.Engine.PollingInterval < 1*time.Second {
		return fmt.Errorf("engine.polling_interval must be at least 1 second")
	}
	if c.Engine.WorkerTimeout < 100*time.Millisecond {
		return fmt.Errorf("engine.worker_timeout must be at least 100ms")
	}
	if c.Engine.MaxCycles < 0 {
		return fmt.Errorf("engine.max_cycles must not be negative")
	}

	// Validate Detector config
	if c.Detector.MinHistory < 2 {
		return fmt.Errorf("detector.min_history must be at least 2")
	}
	if c.Detector.MaxHistory < c.Detector.MinHistory {
		return fmt.Errorf("detector.max_history must be >= detector.min_history")
	}
	if c.Detector.ThresholdDeviation <= 0 {
		return fmt.Errorf("detector.threshold_deviation must be positive")
	}
	if c.Detector.ThresholdCritical < c.Detector.ThresholdDeviation {
		return fmt.Errorf("detector.threshold_critical must be >= detector.threshold_deviation")
	}

	// Validate Source config
	if c.Source.Path == "" {
		return fmt.Errorf("source.path is required")
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxReports < 1 {
		return fmt.Errorf("storage.max_reports must be at least 1")
	}

	// Validate Metrics config
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
