package gemini_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/shpitdev/catalog-attribute-enricher/internal/inference"
	"github.com/shpitdev/catalog-attribute-enricher/internal/inference/gemini"
	"github.com/shpitdev/catalog-attribute-enricher/internal/mockgemini"
)

func newAdapter(t *testing.T, srv *mockgemini.Server) *gemini.Adapter {
	t.Helper()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	a, err := gemini.New(context.Background(), gemini.Config{
		APIKey:  "test-key",
		Model:   "gemini-test",
		BaseURL: ts.URL + "/",
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return a
}

var req = inference.Request{Image: []byte{0x89, 0x50, 0x4e, 0x47}, MIMEType: "image/png", Prompt: "Describe the product"}

func TestAdapter_Success(t *testing.T) {
	t.Parallel()

	srv := mockgemini.New()
	srv.RequireAPIKey("test-key")
	srv.SetDefault(mockgemini.OK("  color: azul\nmaterial: algodón \n"))
	a := newAdapter(t, srv)

	out := a.Submit(context.Background(), req)
	if out.Kind != inference.KindSuccess || out.Err != nil {
		t.Fatalf("unexpected outcome: %#v", out)
	}
	if out.Text != "color: azul material: algodón" {
		t.Fatalf("text not normalised: %q", out.Text)
	}

	calls := srv.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Model != "gemini-test" || calls[0].MIMEType != "image/png" || calls[0].ImageBytes != len(req.Image) || calls[0].Prompt != req.Prompt {
		t.Fatalf("unexpected request: %#v", calls[0])
	}
}

func TestAdapter_ClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply mockgemini.Reply
		want  inference.Kind
	}{
		{name: "quota", reply: mockgemini.QuotaExhausted(), want: inference.KindQuotaExceeded},
		{name: "rate_limited", reply: mockgemini.RateLimited(), want: inference.KindRateLimited},
		{name: "unavailable", reply: mockgemini.Unavailable(), want: inference.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := mockgemini.New()
			srv.SetDefault(tt.reply)
			a := newAdapter(t, srv)

			out := a.Submit(context.Background(), req)
			if out.Kind != tt.want {
				t.Fatalf("kind=%s want %s (err=%v)", out.Kind, tt.want, out.Err)
			}
			if out.Err == nil || out.Text != "" {
				t.Fatalf("failed outcome should carry an error and no text: %#v", out)
			}
		})
	}
}

func TestAdapter_EmptyImageIsFatal(t *testing.T) {
	t.Parallel()

	srv := mockgemini.New()
	a := newAdapter(t, srv)

	out := a.Submit(context.Background(), inference.Request{Prompt: "x"})
	if out.Kind != inference.KindFatal {
		t.Fatalf("kind=%s want fatal", out.Kind)
	}
	if len(srv.Calls()) != 0 {
		t.Fatalf("empty payload must not reach the service")
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := gemini.New(context.Background(), gemini.Config{Model: "m"}); err == nil {
		t.Fatalf("expected error without API key")
	}
}
