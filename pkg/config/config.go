package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the SIEM gateway, per the override
// surface in spec.md §6. Every field has a code-level default and can be
// overridden by a YAML file or a SIEM_-prefixed environment variable. The
// struct is kept flat (rather than nested under Store/Correlation/...) so
// that each key maps to one flat env var (SIEM_RETENTION_LIMIT,
// SIEM_CORRELATION_WINDOW_SECONDS, ...). Load binds every key with BindEnv,
// since Unmarshal only reads env vars for keys viper already knows.
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
	Port        int    `mapstructure:"listen_port"`
	LogLevel    string `mapstructure:"log_level"`

	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsPath    string `mapstructure:"metrics_path"`

	// AlertsFile is the path the File Tailer follows.
	AlertsFile string `mapstructure:"alerts_file"`

	// DBFile, RetentionLimit, StartupLoadLimit, and PruneInterval configure
	// the embedded store and its retention policy.
	DBFile           string `mapstructure:"db_file"`
	RetentionLimit   int    `mapstructure:"retention_limit"`
	StartupLoadLimit int    `mapstructure:"startup_load_limit"`
	PruneInterval    int    `mapstructure:"prune_interval"`

	// CorrelationWindowSeconds and CorrelationThreshold parameterize the
	// sliding-window detector.
	CorrelationWindowSeconds int `mapstructure:"correlation_window_seconds"`
	CorrelationThreshold     int `mapstructure:"correlation_threshold"`
}

// Load reads configuration from an optional file and environment variables,
// applying the defaults from spec.md §6.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		ServiceName:    serviceName,
		Environment:    "development",
		Port:           9001,
		LogLevel:       "info",
		MetricsEnabled: true,
		MetricsPath:    "/metrics",

		AlertsFile: "/var/ossec/logs/alerts/alerts.json",

		DBFile:           "/opt/siem-backend/alerts.db",
		RetentionLimit:   10000,
		StartupLoadLimit: 50,
		PruneInterval:    100,

		CorrelationWindowSeconds: 300,
		CorrelationThreshold:     5,
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	cfg.Environment = env

	if err := viper.ReadInConfig(); err != nil {
		// No config file found; defaults and environment variables still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("SIEM")
	viper.AutomaticEnv()
	for _, key := range []string{
		"service_name", "environment", "listen_port", "log_level",
		"metrics_enabled", "metrics_path", "alerts_file", "db_file",
		"retention_limit", "startup_load_limit", "prune_interval",
		"correlation_window_seconds", "correlation_threshold",
	} {
		if err := viper.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("listen_port must be between 1 and 65535")
	}
	if cfg.RetentionLimit <= 0 {
		return fmt.Errorf("retention_limit must be positive")
	}
	if cfg.StartupLoadLimit <= 0 {
		return fmt.Errorf("startup_load_limit must be positive")
	}
	if cfg.PruneInterval <= 0 {
		return fmt.Errorf("prune_interval must be positive")
	}
	if cfg.CorrelationWindowSeconds <= 0 {
		return fmt.Errorf("correlation_window_seconds must be positive")
	}
	if cfg.CorrelationThreshold <= 0 {
		return fmt.Errorf("correlation_threshold must be positive")
	}
	return nil
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

// IsDevelopment returns true if running in development
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}
