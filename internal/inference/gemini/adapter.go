package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shpitdev/catalog-attribute-enricher/internal/inference"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string

	// Classifier maps API errors to outcome kinds. Nil uses the default patterns.
	Classifier *inference.Classifier
}

// Adapter sends one image plus the instruction prompt per call.
type Adapter struct {
	client     *genai.Client
	model      string
	classifier *inference.Classifier
}

var _ inference.Adapter = (*Adapter)(nil)

func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = inference.NewClassifier(inference.DefaultPatterns())
	}
	return &Adapter{
		client:     client,
		model:      model,
		classifier: classifier,
	}, nil
}

// Model returns the model identifier requests are sent to.
func (a *Adapter) Model() string {
	return a.model
}

// Submit makes exactly one GenerateContent call.
func (a *Adapter) Submit(ctx context.Context, req inference.Request) inference.Outcome {
	if len(req.Image) == 0 {
		return inference.Outcome{
			Kind: inference.KindFatal,
			Err:  fmt.Errorf("%w: empty image payload", inference.ErrUnreadableImage),
		}
	}
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(req.Image, mimeType),
			genai.NewPartFromText(req.Prompt),
		}, genai.RoleUser),
	}

	start := time.Now()
	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, &genai.GenerateContentConfig{
		CandidateCount: 1,
	})
	elapsed := time.Since(start)
	if err != nil {
		return inference.Outcome{
			Kind:    a.classify(err),
			Err:     err,
			Elapsed: elapsed,
		}
	}

	text := inference.NormalizeText(resp.Text())
	if text == "" {
		return inference.Outcome{
			Kind:    inference.KindTransient,
			Err:     fmt.Errorf("gemini: %w", inference.ErrEmptyResponse),
			Elapsed: elapsed,
		}
	}
	return inference.Outcome{
		Kind:    inference.KindSuccess,
		Text:    text,
		Elapsed: elapsed,
	}
}

func (a *Adapter) classify(err error) inference.Kind {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		// Match on code, status and message together; the status carries the
		// RESOURCE_EXHAUSTED signature when the quota (not just the rate) is hit.
		return a.classifier.ClassifyMessage(fmt.Sprintf("%d %s %s", apiErr.Code, apiErr.Status, apiErr.Message))
	}
	return a.classifier.Classify(err)
}
