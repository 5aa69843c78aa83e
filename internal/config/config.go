package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shpitdev/catalog-attribute-enricher/internal/catalog"
	"github.com/shpitdev/catalog-attribute-enricher/internal/inference"
	"github.com/shpitdev/catalog-attribute-enricher/internal/inference/gemini"
	"github.com/shpitdev/catalog-attribute-enricher/internal/metrics"
	"github.com/shpitdev/catalog-attribute-enricher/internal/ratecontrol"
	"github.com/shpitdev/catalog-attribute-enricher/internal/retry"
	"gopkg.in/yaml.v3"
)

// Config is the full enricher configuration. It is built once per process and passed
// explicitly to the components that need a part of it.
type Config struct {
	Gemini   GeminiConfig       `yaml:"gemini"`
	Paths    PathsConfig        `yaml:"paths"`
	Columns  catalog.Columns    `yaml:"columns"`
	Retry    RetryConfig        `yaml:"retry"`
	Rate     RateConfig         `yaml:"rate"`
	Classify inference.Patterns `yaml:"classification"`

	LogLevel string `yaml:"log_level"`
	// MetricsAddr, when set, serves Prometheus metrics on this address during a run.
	MetricsAddr string `yaml:"metrics_addr"`
}

type GeminiConfig struct {
	// APIKey is normally supplied through GEMINI_API_KEY rather than the file.
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type PathsConfig struct {
	Catalog string `yaml:"catalog"`
	// Output defaults to Catalog when empty.
	Output    string `yaml:"output"`
	Images    string `yaml:"images"`
	Prompt    string `yaml:"prompt"`
	LogFile   string `yaml:"log_file"`
	ReportDir string `yaml:"report_dir"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type RateConfig struct {
	InitialDelay      time.Duration `yaml:"initial_delay"`
	TargetSuccessRate float64       `yaml:"target_success_rate"`
	Window            int           `yaml:"window"`
	MinDelay          time.Duration `yaml:"min_delay"`
	SlowLatency       time.Duration `yaml:"slow_latency"`
	QuotaPerMinute    int           `yaml:"quota_per_minute"`
	SafetyFactor      float64       `yaml:"safety_factor"`
	// EnforceQuota waits on a token bucket at QuotaPerMinute*SafetyFactor before
	// every call.
	EnforceQuota bool `yaml:"enforce_quota"`
}

// Default returns the built-in configuration.
func Default() Config {
	p := ratecontrol.DefaultPolicy()
	return Config{
		Gemini: GeminiConfig{Model: gemini.DefaultModel},
		Paths: PathsConfig{
			Catalog:   "products.csv",
			Output:    "products_with_attributes.csv",
			Images:    "images",
			Prompt:    "prompt.txt",
			LogFile:   "enricher.log",
			ReportDir: ".",
		},
		Columns: catalog.DefaultColumns(),
		Retry: RetryConfig{
			MaxAttempts:    5,
			BaseDelay:      1500 * time.Millisecond,
			RequestTimeout: 60 * time.Second,
		},
		Rate: RateConfig{
			InitialDelay:      p.InitialDelay,
			TargetSuccessRate: p.TargetSuccessRate,
			Window:            p.Window,
			MinDelay:          p.MinDelay,
			SlowLatency:       p.SlowLatency,
			QuotaPerMinute:    metrics.DefaultQuotaPerMinute,
			SafetyFactor:      metrics.DefaultSafetyFactor,
		},
		Classify: inference.DefaultPatterns(),
		LogLevel: "info",
	}
}

// Load returns Default overlaid with the YAML file at path (if any) and then the
// environment. A missing file at an explicitly given path is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. Unset variables leave the current
// value in place.
func (c *Config) ApplyEnv() error {
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
		c.Gemini.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_MODEL")); v != "" {
		c.Gemini.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_BASE_URL")); v != "" {
		c.Gemini.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ENRICHER_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}

	var err error
	if c.Retry.MaxAttempts, err = envInt("ENRICHER_MAX_RETRIES", c.Retry.MaxAttempts); err != nil {
		return err
	}
	if c.Retry.BaseDelay, err = envDuration("ENRICHER_BASE_DELAY", c.Retry.BaseDelay); err != nil {
		return err
	}
	if c.Retry.RequestTimeout, err = envDuration("ENRICHER_REQUEST_TIMEOUT", c.Retry.RequestTimeout); err != nil {
		return err
	}
	if c.Rate.InitialDelay, err = envDuration("ENRICHER_INITIAL_DELAY", c.Rate.InitialDelay); err != nil {
		return err
	}
	if c.Rate.QuotaPerMinute, err = envInt("ENRICHER_QUOTA_PER_MINUTE", c.Rate.QuotaPerMinute); err != nil {
		return err
	}
	if c.Rate.SafetyFactor, err = envFloat("ENRICHER_SAFETY_FACTOR", c.Rate.SafetyFactor); err != nil {
		return err
	}
	if c.Rate.EnforceQuota, err = envBool("ENRICHER_ENFORCE_QUOTA", c.Rate.EnforceQuota); err != nil {
		return err
	}
	return nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Gemini.Model) == "" {
		errs = append(errs, errors.New("gemini.model is required"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.BaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("retry.base_delay must be positive, got %s", c.Retry.BaseDelay))
	}
	if c.Retry.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("retry.request_timeout must not be negative, got %s", c.Retry.RequestTimeout))
	}
	if c.Rate.InitialDelay <= 0 {
		errs = append(errs, fmt.Errorf("rate.initial_delay must be positive, got %s", c.Rate.InitialDelay))
	}
	if c.Rate.TargetSuccessRate <= 0 || c.Rate.TargetSuccessRate > 1 {
		errs = append(errs, fmt.Errorf("rate.target_success_rate must be in (0, 1], got %v", c.Rate.TargetSuccessRate))
	}
	if c.Rate.Window < 1 {
		errs = append(errs, fmt.Errorf("rate.window must be >= 1, got %d", c.Rate.Window))
	}
	if c.Rate.MinDelay < 0 {
		errs = append(errs, fmt.Errorf("rate.min_delay must not be negative, got %s", c.Rate.MinDelay))
	}
	if c.Rate.QuotaPerMinute < 0 {
		errs = append(errs, fmt.Errorf("rate.quota_per_minute must not be negative, got %d", c.Rate.QuotaPerMinute))
	}
	if c.Rate.SafetyFactor <= 0 || c.Rate.SafetyFactor > 1 {
		errs = append(errs, fmt.Errorf("rate.safety_factor must be in (0, 1], got %v", c.Rate.SafetyFactor))
	}
	if c.Rate.EnforceQuota && c.Rate.QuotaPerMinute == 0 {
		errs = append(errs, errors.New("rate.enforce_quota requires rate.quota_per_minute"))
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// OutputPath returns the file commits go to.
func (c Config) OutputPath() string {
	if strings.TrimSpace(c.Paths.Output) != "" {
		return c.Paths.Output
	}
	return c.Paths.Catalog
}

func (c Config) RetryOptions() retry.Options {
	opts := retry.Options{
		MaxAttempts:    c.Retry.MaxAttempts,
		BaseDelay:      c.Retry.BaseDelay,
		RequestTimeout: c.Retry.RequestTimeout,
	}
	if c.Rate.EnforceQuota {
		opts.Limiter = retry.QuotaLimiter(c.Rate.QuotaPerMinute, c.Rate.SafetyFactor)
	}
	return opts
}

func (c Config) RatePolicy() ratecontrol.Policy {
	return ratecontrol.Policy{
		InitialDelay:      c.Rate.InitialDelay,
		TargetSuccessRate: c.Rate.TargetSuccessRate,
		Window:            c.Rate.Window,
		MinDelay:          c.Rate.MinDelay,
		SlowLatency:       c.Rate.SlowLatency,
	}
}

func (c Config) EstimateOptions() metrics.EstimateOptions {
	return metrics.EstimateOptions{
		QuotaPerMinute: c.Rate.QuotaPerMinute,
		SafetyFactor:   c.Rate.SafetyFactor,
	}
}
