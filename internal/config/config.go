package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rewired-gh/clickjudge/internal/models"
)

// Config represents the complete application configuration
type Config struct {
	Estimator   EstimatorConfig   `mapstructure:"estimator"`
	Input       InputConfig       `mapstructure:"input"`
	Output      OutputConfig      `mapstructure:"output"`
	Storage     StorageConfig     `mapstructure:"storage"`
	JudgmentSet JudgmentSetConfig `mapstructure:"judgment_set"`
	Drift       DriftConfig       `mapstructure:"drift"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// EstimatorConfig holds the judgment estimator parameters
type EstimatorConfig struct {
	Percentile       float64 `mapstructure:"percentile"`
	SampleSize       int     `mapstructure:"sample_size"`
	Iterations       int     `mapstructure:"iterations"`
	ResultSetSizeCap int     `mapstructure:"result_set_size_cap"`
	Weighted         bool    `mapstructure:"weighted"`
	Seed             uint64  `mapstructure:"seed"`
}

// InputConfig holds event input configuration
// Paths may be local files or http(s) URLs.
type InputConfig struct {
	Paths      []string      `mapstructure:"paths"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// OutputConfig holds judgment export configuration
type OutputConfig struct {
	Dir  string `mapstructure:"dir"`
	Full bool   `mapstructure:"full"`
	TopN int    `mapstructure:"top_n"`
}

// StorageConfig holds judgment set persistence configuration
type StorageConfig struct {
	DBPath          string `mapstructure:"db_path"`
	MaxJudgmentSets int    `mapstructure:"max_judgment_sets"`
}

// JudgmentSetConfig holds the metadata attached to produced judgment sets
type JudgmentSetConfig struct {
	Name      string `mapstructure:"name"`
	Type      string `mapstructure:"type"`
	Generator string `mapstructure:"generator"`
}

// DriftConfig holds judgment drift scoring configuration
type DriftConfig struct {
	TopK         int     `mapstructure:"top_k"`
	MinScore     float64 `mapstructure:"min_score"`
	ViewRef      float64 `mapstructure:"view_ref"`
	MinAbsChange float64 `mapstructure:"min_abs_change"`
}

// MetricsConfig holds Prometheus textfile export configuration
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Textfile string `mapstructure:"textfile"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FlagKeys maps command-line flag names to the configuration keys they override.
var FlagKeys = map[string]string{
	"input":       "input.paths",
	"output":      "output.dir",
	"full":        "output.full",
	"top":         "output.top_n",
	"db":          "storage.db_path",
	"name":        "judgment_set.name",
	"seed":        "estimator.seed",
	"percentile":  "estimator.percentile",
	"iterations":  "estimator.iterations",
	"sample-size": "estimator.sample_size",
	"weighted":    "estimator.weighted",
	"log-level":   "logging.level",
	"top-k":       "drift.top_k",
	"min-score":   "drift.min_score",
	"view-ref":    "drift.view_ref",
	"min-change":  "drift.min_abs_change",
}

// Load reads configuration from defaults, an optional file, environment
// variables and flags, in increasing order of precedence. An empty path skips
// the file. Flags present in FlagKeys are bound when flags is non-nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("CLICKJUDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %q: %w", name, err)
			}
		}
	}

	// Read config file
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Estimator defaults
	v.SetDefault("estimator.percentile", 99.0)
	v.SetDefault("estimator.sample_size", 0)
	v.SetDefault("estimator.iterations", 1000)
	v.SetDefault("estimator.result_set_size_cap", models.DefaultResultSetSizeCap)
	v.SetDefault("estimator.weighted", false)
	v.SetDefault("estimator.seed", 0)

	// Input defaults
	v.SetDefault("input.timeout", "30s")
	v.SetDefault("input.max_retries", 3)
	v.SetDefault("input.retry_delay", "1s")

	// Output defaults
	v.SetDefault("output.dir", "./data")
	v.SetDefault("output.full", false)
	v.SetDefault("output.top_n", 10)

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/clickjudge.db")
	v.SetDefault("storage.max_judgment_sets", 20)

	// Judgment set defaults
	v.SetDefault("judgment_set.name", "implicit-judgments")
	v.SetDefault("judgment_set.type", models.JudgmentSetTypeImplicit)
	v.SetDefault("judgment_set.generator", "ebayes-coec")

	// Drift defaults
	v.SetDefault("drift.top_k", 10)
	v.SetDefault("drift.min_score", 0.0)
	v.SetDefault("drift.view_ref", 100.0)
	v.SetDefault("drift.min_abs_change", 0.01)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.textfile", "./data/clickjudge.prom")

	// Telegram defaults
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Estimator config
	if c.Estimator.Percentile <= 0 || c.Estimator.Percentile > 100 {
		return fmt.Errorf("estimator.percentile must be in (0, 100]")
	}
	if c.Estimator.SampleSize < 0 {
		return fmt.Errorf("estimator.sample_size must not be negative")
	}
	if c.Estimator.Iterations < 1 {
		return fmt.Errorf("estimator.iterations must be at least 1")
	}
	if c.Estimator.ResultSetSizeCap < 1 {
		return fmt.Errorf("estimator.result_set_size_cap must be at least 1")
	}

	// Validate Input config
	if c.Input.MaxRetries < 0 {
		return fmt.Errorf("input.max_retries must not be negative")
	}
	if c.Input.Timeout < 0 {
		return fmt.Errorf("input.timeout must not be negative")
	}

	// Validate Output config
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Output.TopN < 1 {
		return fmt.Errorf("output.top_n must be at least 1")
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxJudgmentSets < 1 {
		return fmt.Errorf("storage.max_judgment_sets must be at least 1")
	}

	// Validate JudgmentSet config
	if c.JudgmentSet.Name == "" {
		return fmt.Errorf("judgment_set.name is required")
	}
	if c.JudgmentSet.Type != models.JudgmentSetTypeImplicit && c.JudgmentSet.Type != models.JudgmentSetTypeExplicit {
		return fmt.Errorf("judgment_set.type must be one of: %s, %s", models.JudgmentSetTypeImplicit, models.JudgmentSetTypeExplicit)
	}

	// Validate Drift config
	if c.Drift.TopK < 1 {
		return fmt.Errorf("drift.top_k must be at least 1")
	}
	if c.Drift.MinScore < 0 {
		return fmt.Errorf("drift.min_score must not be negative")
	}
	if c.Drift.ViewRef <= 0 {
		return fmt.Errorf("drift.view_ref must be positive")
	}
	if c.Drift.MinAbsChange < 0 || c.Drift.MinAbsChange >= 1 {
		return fmt.Errorf("drift.min_abs_change must be in [0, 1)")
	}

	// Validate Metrics config
	if c.Metrics.Enabled && c.Metrics.Textfile == "" {
		return fmt.Errorf("metrics.textfile is required when metrics are enabled")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.MaxRetries < 1 {
			return fmt.Errorf("telegram.max_retries must be at least 1")
		}
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
