//go:build gemini_e2e

package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shpitdev/catalog-attribute-enricher/internal/app"
	"github.com/shpitdev/catalog-attribute-enricher/internal/catalog"
	"github.com/shpitdev/catalog-attribute-enricher/internal/inference"
	"github.com/shpitdev/catalog-attribute-enricher/internal/inference/gemini"
)

func TestRunLocal_RealGemini_EndToEnd(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Fatalf("GEMINI_API_KEY is required for gemini_e2e tests")
	}
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = gemini.DefaultModel
	}
	baseURL := os.Getenv("GEMINI_BASE_URL")

	ctx := context.Background()

	// Synthetic images only; this validates API and classification assumptions.
	cfg := workspace(t, "id,image\n1,1.png\n2,2.png\n", "1.png", "2.png")
	if artifactDir := os.Getenv("GEMINI_E2E_ARTIFACT_DIR"); artifactDir != "" {
		if err := os.MkdirAll(artifactDir, 0o755); err != nil {
			t.Fatalf("create GEMINI_E2E_ARTIFACT_DIR: %v", err)
		}
		cfg.Paths.Output = filepath.Join(artifactDir, "enriched.csv")
	}
	cfg.Gemini.Model = model

	adapter, err := gemini.New(ctx, gemini.Config{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    baseURL,
		Classifier: inference.NewClassifier(cfg.Classify),
	})
	if err != nil {
		t.Fatalf("create gemini adapter: %v", err)
	}

	res, err := app.RunLocal(ctx, cfg, adapter, zerolog.New(zerolog.NewTestWriter(t)), app.RunOptions{})
	if err != nil {
		t.Fatalf("RunLocal failed: %v", err)
	}
	if res.Summary.Processed != 2 {
		t.Fatalf("expected 2 processed items, got %+v", res.Summary)
	}

	out, err := catalog.Open(cfg.OutputPath(), "", cfg.Columns)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	for _, it := range out.Items() {
		if it.Pending() {
			t.Fatalf("item %s still pending", it.ID)
		}
		if it.Errored() {
			t.Fatalf("item %s failed: %s", it.ID, it.Result)
		}
	}
}
