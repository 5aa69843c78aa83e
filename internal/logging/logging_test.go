package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"DEBUG": zerolog.DebugLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"noise": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%s want %s", in, got, want)
		}
	}
}

func TestInit_WritesConsoleAndJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "enricher.log")
	var console bytes.Buffer

	logger, closeFn, err := Init(Options{Level: "info", File: path, Console: &console})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	logger.Info().Str("id", "42").Msg("item processed")
	logger.Debug().Msg("hidden")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(console.String(), "item processed") || strings.Contains(console.String(), "hidden") {
		t.Fatalf("console=%q", console.String())
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 1 {
		t.Fatalf("log file lines=%q", lines)
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("log line not JSON: %v", err)
	}
	if ev["id"] != "42" || ev["message"] != "item processed" {
		t.Fatalf("event=%v", ev)
	}
}

func TestStartupLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewStartupLogger("run").
		Version("1.2.3").
		RunID("abc").
		Path("catalog", "products.csv").
		Setting("model", "gemini-2.5-flash").
		Feature("enforce_quota", true).
		Log(zerolog.New(&buf))

	var ev map[string]any
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if ev["command"] != "run" || ev["version"] != "1.2.3" || ev["run_id"] != "abc" {
		t.Fatalf("event=%v", ev)
	}
	paths, _ := ev["paths"].(map[string]any)
	features, _ := ev["features"].(map[string]any)
	if paths["catalog"] != "products.csv" || features["enforce_quota"] != true {
		t.Fatalf("event=%v", ev)
	}
}
