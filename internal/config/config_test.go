package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_BASE_URL", "ENRICHER_LOG_LEVEL",
		"ENRICHER_MAX_RETRIES", "ENRICHER_BASE_DELAY", "ENRICHER_REQUEST_TIMEOUT",
		"ENRICHER_INITIAL_DELAY", "ENRICHER_QUOTA_PER_MINUTE", "ENRICHER_SAFETY_FACTOR",
		"ENRICHER_ENFORCE_QUOTA",
	} {
		t.Setenv(k, "")
	}
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BaseDelay != 1500*time.Millisecond {
		t.Fatalf("retry defaults=%+v", cfg.Retry)
	}
	if cfg.Rate.InitialDelay != time.Second || cfg.Rate.TargetSuccessRate != 0.95 || cfg.Rate.QuotaPerMinute != 10 {
		t.Fatalf("rate defaults=%+v", cfg.Rate)
	}
	if cfg.Columns.Result != "gemini_attributes" {
		t.Fatalf("columns=%+v", cfg.Columns)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "enricher.yaml")
	content := `
gemini:
  model: gemini-2.0-flash
paths:
  catalog: data/catalog.csv
  output: ""
columns:
  result: attributes
retry:
  max_attempts: 3
  base_delay: 2s
rate:
  quota_per_minute: 15
classification:
  quota: ["billing limit"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("ENRICHER_MAX_RETRIES", "7")
	t.Setenv("ENRICHER_INITIAL_DELAY", "2.5")
	t.Setenv("ENRICHER_ENFORCE_QUOTA", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gemini.Model != "gemini-2.0-flash" || cfg.Gemini.APIKey != "secret" {
		t.Fatalf("gemini=%+v", cfg.Gemini)
	}
	if cfg.Retry.MaxAttempts != 7 || cfg.Retry.BaseDelay != 2*time.Second {
		t.Fatalf("retry=%+v", cfg.Retry)
	}
	if cfg.Rate.InitialDelay != 2500*time.Millisecond || cfg.Rate.QuotaPerMinute != 15 || !cfg.Rate.EnforceQuota {
		t.Fatalf("rate=%+v", cfg.Rate)
	}
	if cfg.Columns.Result != "attributes" || cfg.Columns.ID != "id" {
		t.Fatalf("columns=%+v", cfg.Columns)
	}
	if cfg.OutputPath() != "data/catalog.csv" {
		t.Fatalf("output path=%s", cfg.OutputPath())
	}
	if len(cfg.Classify.Quota) != 1 || len(cfg.Classify.RateLimit) == 0 {
		t.Fatalf("patterns=%+v", cfg.Classify)
	}
	if cfg.Paths.Images != "images" {
		t.Fatalf("unset file fields must keep defaults: %+v", cfg.Paths)
	}

	opts := cfg.RetryOptions()
	if opts.Limiter == nil || opts.MaxAttempts != 7 {
		t.Fatalf("retry options=%+v", opts)
	}
	if p := cfg.RatePolicy(); p.InitialDelay != 2500*time.Millisecond {
		t.Fatalf("policy=%+v", p)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("retry: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected parse error")
	}

	t.Setenv("ENRICHER_QUOTA_PER_MINUTE", "ten")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "ENRICHER_QUOTA_PER_MINUTE") {
		t.Fatalf("expected env error naming the variable, got %v", err)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Gemini.Model = " "
	cfg.Retry.MaxAttempts = 0
	cfg.Rate.SafetyFactor = 1.5
	cfg.Rate.QuotaPerMinute = 0
	cfg.Rate.EnforceQuota = true
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"gemini.model", "retry.max_attempts", "rate.safety_factor", "rate.enforce_quota", "log_level"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestEnvDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{in: "", want: time.Minute},
		{in: "1.5", want: 1500 * time.Millisecond},
		{in: "250ms", want: 250 * time.Millisecond},
		{in: "soon", err: true},
	}
	for _, tc := range cases {
		t.Setenv("ENRICHER_TEST_DURATION", tc.in)
		got, err := envDuration("ENRICHER_TEST_DURATION", time.Minute)
		if tc.err {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %s err=%v want %s", tc.in, got, err, tc.want)
		}
	}
}
