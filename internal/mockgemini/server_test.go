package mockgemini_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shpitdev/catalog-attribute-enricher/internal/mockgemini"
)

const body = `{"contents":[{"role":"user","parts":[{"inlineData":{"mimeType":"image/png","data":"AAEC"}},{"text":"describe"}]}]}`

func post(t *testing.T, url, key string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if key != "" {
		req.Header.Set("x-goog-api-key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func TestServer_ScriptThenDefault(t *testing.T) {
	t.Parallel()

	srv := mockgemini.New()
	srv.Enqueue(mockgemini.QuotaExhausted(), mockgemini.OK("first"))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := ts.URL + "/v1beta/models/gemini-test:generateContent"

	resp := post(t, url, "")
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("call 1: want 429, got %d", resp.StatusCode)
	}

	for _, want := range []string{"first", "mock attributes"} {
		resp := post(t, url, "")
		var out struct {
			Candidates []struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
			} `json:"candidates"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		_ = resp.Body.Close()
		if len(out.Candidates) != 1 || out.Candidates[0].Content.Parts[0].Text != want {
			t.Fatalf("want %q, got %#v", want, out)
		}
	}

	calls := srv.Calls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(calls))
	}
	if calls[0].Model != "gemini-test" || calls[0].MIMEType != "image/png" || calls[0].ImageBytes != 3 || calls[0].Prompt != "describe" {
		t.Fatalf("unexpected call record: %#v", calls[0])
	}
}

func TestServer_RequireAPIKey(t *testing.T) {
	t.Parallel()

	srv := mockgemini.New()
	srv.RequireAPIKey("k1")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := ts.URL + "/v1beta/models/m:generateContent"
	resp := post(t, url, "wrong")
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", resp.StatusCode)
	}
	resp = post(t, url, "k1")
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	if got := len(srv.Calls()); got != 1 {
		t.Fatalf("unauthorized calls must not be recorded; got %d calls", got)
	}
}
