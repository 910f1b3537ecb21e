package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all epiwatch runtime configuration.
//
// Sources (priority order, high to low):
//  1. Environment variables (EPIWATCH_* prefix, dots become underscores)
//  2. YAML config file (./config.yaml, /etc/epiwatch/, $HOME/.epiwatch)
//  3. Built-in defaults
type Config struct {
	Port             int      `mapstructure:"port"`
	DatabasePath     string   `mapstructure:"database_path"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	IngestRatePerMin int      `mapstructure:"ingest_rate_per_min"` // per client IP, 0 disables

	Log       LogConfig       `mapstructure:"log"`
	Detection DetectionConfig `mapstructure:"detection"`
	ML        MLConfig        `mapstructure:"ml"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerts    AlertConfig     `mapstructure:"alerts"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level      string `mapstructure:"level"`  // debug | info | warn | error
	Path       string `mapstructure:"path"`   // empty = stderr only
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DetectionConfig carries the tunable detection thresholds. Everything
// else about scoring is fixed by the detection contract.
type DetectionConfig struct {
	AnomalyThreshold float64 `mapstructure:"anomaly_threshold"` // fused score >= threshold flags an anomaly
	ConfidenceMin    float64 `mapstructure:"confidence_min"`    // escalation confidence gate
}

// MLConfig locates trained model artifacts. A missing artifact is a soft
// failure: the reconstruction score degrades to absent, detection
// continues.
type MLConfig struct {
	ModelPath  string `mapstructure:"model_path"`  // sequence autoencoder weights (JSON)
	WatchModel bool   `mapstructure:"watch_model"` // hot-reload on file change
	ForestSeed int64  `mapstructure:"forest_seed"` // 0 = time-seeded
}

// SchedulerConfig drives the periodic pipeline runs.
type SchedulerConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	IntervalMinutes     int  `mapstructure:"interval_minutes"`
	AggregationDaysBack int  `mapstructure:"aggregation_days_back"`
}

// AlertConfig configures the notification collaborator.
type AlertConfig struct {
	WebhookURLs    []string `mapstructure:"webhook_urls"`
	WebhookTimeout int      `mapstructure:"webhook_timeout_sec"`
	DedupHours     int      `mapstructure:"dedup_hours"` // no second alert per ward within this window
}

// Load reads configuration from file, environment, and defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/epiwatch/")
	v.AddConfigPath("$HOME/.epiwatch")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("EPIWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file is fine; defaults + env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("database_path", "./epiwatch.db")
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("ingest_rate_per_min", 600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("detection.anomaly_threshold", 0.7)
	v.SetDefault("detection.confidence_min", 0.6)

	v.SetDefault("ml.model_path", "./models/autoencoder.json")
	v.SetDefault("ml.watch_model", true)
	v.SetDefault("ml.forest_seed", 0)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_minutes", 1440)
	v.SetDefault("scheduler.aggregation_days_back", 1)

	v.SetDefault("alerts.webhook_urls", []string{})
	v.SetDefault("alerts.webhook_timeout_sec", 10)
	v.SetDefault("alerts.dedup_hours", 12)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []string

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.DatabasePath == "" {
		errs = append(errs, "database_path must not be empty")
	}
	if c.IngestRatePerMin < 0 {
		errs = append(errs, "ingest_rate_per_min must not be negative")
	}
	if c.Detection.AnomalyThreshold < 0 || c.Detection.AnomalyThreshold > 1 {
		errs = append(errs, fmt.Sprintf("detection.anomaly_threshold %.3f must be in [0,1]", c.Detection.AnomalyThreshold))
	}
	if c.Detection.ConfidenceMin < 0 || c.Detection.ConfidenceMin > 1 {
		errs = append(errs, fmt.Sprintf("detection.confidence_min %.3f must be in [0,1]", c.Detection.ConfidenceMin))
	}
	if c.Scheduler.IntervalMinutes <= 0 {
		errs = append(errs, "scheduler.interval_minutes must be positive")
	}
	if c.Scheduler.AggregationDaysBack <= 0 {
		errs = append(errs, "scheduler.aggregation_days_back must be positive")
	}
	if c.Alerts.DedupHours < 0 {
		errs = append(errs, "alerts.dedup_hours must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
