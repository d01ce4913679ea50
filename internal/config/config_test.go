package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func validConfig() *Config {
	return &Config{
		Estimator: EstimatorConfig{
			Percentile:       99,
			Iterations:       1000,
			ResultSetSizeCap: 400,
		},
		Output: OutputConfig{
			Dir:  "./data",
			TopN: 10,
		},
		Storage: StorageConfig{
			DBPath:          "./data/test.db",
			MaxJudgmentSets: 20,
		},
		JudgmentSet: JudgmentSetConfig{
			Name:      "test",
			Type:      "IMPLICIT",
			Generator: "ebayes-coec",
		},
		Drift: DriftConfig{
			TopK:         10,
			ViewRef:      100,
			MinAbsChange: 0.01,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestLoadAndValidate(t *testing.T) {
	// Create temp config file
	content := `
estimator:
  percentile: 95
  iterations: 200
  sample_size: 50
  weighted: true
  seed: 7

input:
  paths:
    - ./events-a.csv
    - ./events-b.zip

storage:
  db_path: "./data/test.db"
  max_judgment_sets: 5

telegram:
  bot_token: "test_token"
  chat_id: "test_chat_id"
  enabled: true
  retry_delay_base: 2s

logging:
  level: "debug"
  format: "json"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	// Test Load
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Verify values
	if cfg.Estimator.Percentile != 95 {
		t.Errorf("Unexpected percentile: %f", cfg.Estimator.Percentile)
	}
	if cfg.Estimator.Iterations != 200 || cfg.Estimator.SampleSize != 50 {
		t.Errorf("Unexpected bootstrap size: iterations=%d sample_size=%d", cfg.Estimator.Iterations, cfg.Estimator.SampleSize)
	}
	if !cfg.Estimator.Weighted || cfg.Estimator.Seed != 7 {
		t.Errorf("Unexpected weighted/seed: %v/%d", cfg.Estimator.Weighted, cfg.Estimator.Seed)
	}
	if len(cfg.Input.Paths) != 2 {
		t.Errorf("Expected 2 input paths, got %d", len(cfg.Input.Paths))
	}
	if cfg.Telegram.RetryDelayBase != 2*time.Second {
		t.Errorf("Unexpected retry delay: %v", cfg.Telegram.RetryDelayBase)
	}

	// Defaults for keys absent from the file
	if cfg.Estimator.ResultSetSizeCap != 400 {
		t.Errorf("Expected default result set size cap 400, got %d", cfg.Estimator.ResultSetSizeCap)
	}
	if cfg.JudgmentSet.Generator != "ebayes-coec" {
		t.Errorf("Unexpected generator: %s", cfg.JudgmentSet.Generator)
	}
	if cfg.Telegram.MaxRetries != 3 {
		t.Errorf("Expected default max retries 3, got %d", cfg.Telegram.MaxRetries)
	}

	// Test Validate
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Estimator.Percentile != 99 || cfg.Estimator.Iterations != 1000 || cfg.Estimator.SampleSize != 0 {
		t.Errorf("Unexpected estimator defaults: %+v", cfg.Estimator)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected text log format by default, got %s", cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults failed validation: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CLICKJUDGE_ESTIMATOR_ITERATIONS", "250")
	t.Setenv("CLICKJUDGE_LOGGING_LEVEL", "warn")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Estimator.Iterations != 250 {
		t.Errorf("Expected iterations from env 250, got %d", cfg.Estimator.Iterations)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected log level from env warn, got %s", cfg.Logging.Level)
	}
}

func TestLoadFlagOverride(t *testing.T) {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.Float64("percentile", 99, "")
	flags.Uint64("seed", 0, "")
	flags.StringSlice("input", nil, "")
	flags.Bool("unrelated", false, "")
	if err := flags.Parse([]string{"--percentile", "90", "--seed", "3", "--input", "a.csv", "--input", "b.csv"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Estimator.Percentile != 90 {
		t.Errorf("Expected percentile from flag 90, got %f", cfg.Estimator.Percentile)
	}
	if cfg.Estimator.Seed != 3 {
		t.Errorf("Expected seed from flag 3, got %d", cfg.Estimator.Seed)
	}
	if len(cfg.Input.Paths) != 2 || cfg.Input.Paths[1] != "b.csv" {
		t.Errorf("Expected inputs from flags, got %v", cfg.Input.Paths)
	}
	// Unchanged flags keep their defaults without overriding config defaults.
	if cfg.Estimator.Iterations != 1000 {
		t.Errorf("Expected default iterations, got %d", cfg.Estimator.Iterations)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero percentile", func(c *Config) { c.Estimator.Percentile = 0 }, true},
		{"percentile above 100", func(c *Config) { c.Estimator.Percentile = 100.5 }, true},
		{"percentile of 100", func(c *Config) { c.Estimator.Percentile = 100 }, false},
		{"negative sample size", func(c *Config) { c.Estimator.SampleSize = -1 }, true},
		{"no iterations", func(c *Config) { c.Estimator.Iterations = 0 }, true},
		{"zero size cap", func(c *Config) { c.Estimator.ResultSetSizeCap = 0 }, true},
		{"negative input retries", func(c *Config) { c.Input.MaxRetries = -1 }, true},
		{"no top n", func(c *Config) { c.Output.TopN = 0 }, true},
		{"missing db path", func(c *Config) { c.Storage.DBPath = "" }, true},
		{"no judgment sets kept", func(c *Config) { c.Storage.MaxJudgmentSets = 0 }, true},
		{"unknown judgment set type", func(c *Config) { c.JudgmentSet.Type = "MIXED" }, true},
		{"no drift top k", func(c *Config) { c.Drift.TopK = 0 }, true},
		{"negative drift min score", func(c *Config) { c.Drift.MinScore = -0.1 }, true},
		{"zero view reference", func(c *Config) { c.Drift.ViewRef = 0 }, true},
		{"min change of 1", func(c *Config) { c.Drift.MinAbsChange = 1 }, true},
		{"metrics without textfile", func(c *Config) { c.Metrics.Enabled = true }, true},
		{"missing telegram token when enabled", func(c *Config) {
			c.Telegram = TelegramConfig{Enabled: true, ChatID: "1", MaxRetries: 3}
		}, true},
		{"telegram enabled", func(c *Config) {
			c.Telegram = TelegramConfig{Enabled: true, BotToken: "t", ChatID: "1", MaxRetries: 3}
		}, false},
		{"invalid log level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
