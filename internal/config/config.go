// Package config loads supervision-cli settings from config.yaml and
// SUPERVISION_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Engine    EngineConfig    `yaml:"engine" mapstructure:"engine"`
	Territory TerritoryConfig `yaml:"territory" mapstructure:"territory"`
	Quality   QualityConfig   `yaml:"quality" mapstructure:"quality"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
}

// StoreConfig selects the database and the tables to read and write.
type StoreConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL     string `yaml:"database_url" mapstructure:"database_url"`
	RawTable        string `yaml:"raw_table" mapstructure:"raw_table"`
	RegistryTable   string `yaml:"registry_table" mapstructure:"registry_table"`
	NormalizedTable string `yaml:"normalized_table" mapstructure:"normalized_table"`
	MaxConns        int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns        int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// EngineConfig tunes normalization. Empty paths use the embedded calendar
// and alias table.
type EngineConfig struct {
	Timezone         string   `yaml:"timezone" mapstructure:"timezone"`
	Workers          int      `yaml:"workers" mapstructure:"workers"`
	CacheTTLSecs     int      `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	CalendarPath     string   `yaml:"calendar_path" mapstructure:"calendar_path"`
	AliasesPath      string   `yaml:"aliases_path" mapstructure:"aliases_path"`
	MinSubstringLen  int      `yaml:"min_substring_len" mapstructure:"min_substring_len"`
	MaxPointsMarkers []string `yaml:"max_points_markers" mapstructure:"max_points_markers"`
}

// CacheTTL returns the dataset cache lifetime.
func (e EngineConfig) CacheTTL() time.Duration {
	return time.Duration(e.CacheTTLSecs) * time.Second
}

// TerritoryConfig holds the Local/Foránea rule.
type TerritoryConfig struct {
	LocalStates       []string `yaml:"local_states" mapstructure:"local_states"`
	LocalGroups       []string `yaml:"local_groups" mapstructure:"local_groups"`
	ForaneaExceptions []int    `yaml:"foranea_exceptions" mapstructure:"foranea_exceptions"`
}

// QualityConfig sets data-quality alert thresholds. Rates are fractions in
// [0,1]; a zero threshold disables its alert.
type QualityConfig struct {
	UnmappedRateThreshold     float64 `yaml:"unmapped_rate_threshold" mapstructure:"unmapped_rate_threshold"`
	InsufficientRateThreshold float64 `yaml:"insufficient_rate_threshold" mapstructure:"insufficient_rate_threshold"`
	WarningRateThreshold      float64 `yaml:"warning_rate_threshold" mapstructure:"warning_rate_threshold"`
	MinSubmissions            int     `yaml:"min_submissions" mapstructure:"min_submissions"`
	WebhookURL                string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	WebhookRatePerSec         float64 `yaml:"webhook_rate_per_sec" mapstructure:"webhook_rate_per_sec"`
	CheckIntervalSecs         int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// RetryConfig bounds retries of snapshot reads and webhook posts.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SUPERVISION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key gets one so AutomaticEnv can override it.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.raw_table", "supervision_raw")
	v.SetDefault("store.registry_table", "sucursales")
	v.SetDefault("store.normalized_table", "supervision_normalized")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("engine.timezone", "America/Monterrey")
	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.cache_ttl_secs", 600)
	v.SetDefault("engine.calendar_path", "")
	v.SetDefault("engine.aliases_path", "")
	v.SetDefault("engine.min_substring_len", 4)
	v.SetDefault("engine.max_points_markers", []string{"PUNTOS MAXIMOS", "PUNTAJE MAXIMO"})
	v.SetDefault("territory.local_states", []string{"Nuevo León"})
	v.SetDefault("territory.local_groups", []string{"GRUPO SALTILLO"})
	// Placeholder: the confirmed exception list has not been supplied.
	v.SetDefault("territory.foranea_exceptions", []int{})
	v.SetDefault("quality.unmapped_rate_threshold", 0.05)
	v.SetDefault("quality.insufficient_rate_threshold", 0.10)
	v.SetDefault("quality.warning_rate_threshold", 0.25)
	v.SetDefault("quality.min_submissions", 5)
	v.SetDefault("quality.webhook_url", "")
	v.SetDefault("quality.webhook_rate_per_sec", 1.0)
	v.SetDefault("quality.check_interval_secs", 900)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 250)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of "store"
// (database access), "engine" (building views) or "quality" (alerting);
// "quality" implies "engine", which implies "store".
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch mode {
	case "store", "engine", "quality":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for postgres")
		}
	case "sqlite":
	default:
		add("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}
	if c.Store.MaxConns < 0 || c.Store.MinConns < 0 || (c.Store.MaxConns > 0 && c.Store.MinConns > c.Store.MaxConns) {
		add("store.min_conns/max_conns out of range")
	}

	if mode == "engine" || mode == "quality" {
		if c.Engine.Workers < 1 {
			add("engine.workers must be at least 1")
		}
		if c.Engine.CacheTTLSecs < 0 {
			add("engine.cache_ttl_secs must not be negative")
		}
		if c.Engine.MinSubstringLen < 1 {
			add("engine.min_substring_len must be at least 1")
		}
		if strings.TrimSpace(c.Engine.Timezone) == "" {
			add("engine.timezone is required")
		} else if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
			add("engine.timezone %q is not a known zone", c.Engine.Timezone)
		}
		for _, code := range c.Territory.ForaneaExceptions {
			if code <= 0 {
				add("territory.foranea_exceptions must hold positive branch codes, got %d", code)
			}
		}
		if c.Retry.MaxAttempts < 1 {
			add("retry.max_attempts must be at least 1")
		}
	}

	if mode == "quality" {
		for name, v := range map[string]float64{
			"quality.unmapped_rate_threshold":     c.Quality.UnmappedRateThreshold,
			"quality.insufficient_rate_threshold": c.Quality.InsufficientRateThreshold,
			"quality.warning_rate_threshold":      c.Quality.WarningRateThreshold,
		} {
			if v < 0 || v > 1 {
				add("%s must be within [0,1], got %g", name, v)
			}
		}
		if c.Quality.WebhookURL != "" && !strings.HasPrefix(c.Quality.WebhookURL, "http://") && !strings.HasPrefix(c.Quality.WebhookURL, "https://") {
			add("quality.webhook_url must be an http(s) URL")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
