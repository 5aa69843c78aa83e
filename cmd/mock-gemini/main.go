package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/shpitdev/catalog-attribute-enricher/internal/mockgemini"
)

func main() {
	addr := defaultString("MOCK_GEMINI_ADDR", ":8080")
	apiKey := defaultString("MOCK_GEMINI_API_KEY", "")
	text := defaultString("MOCK_GEMINI_REPLY", "color: black; material: cotton; style: casual")
	script := defaultString("MOCK_GEMINI_SCRIPT", "")

	fs := flag.NewFlagSet("mock-gemini", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&apiKey, "api-key", apiKey, "Reject requests without this API key (empty accepts any)")
	fs.StringVar(&text, "reply", text, "Text returned by successful replies")
	fs.StringVar(&script, "script", script, "Comma-separated replies served before the default: ok, quota, rate, unavailable (also supports env: MOCK_GEMINI_SCRIPT)")
	_ = fs.Parse(os.Args[1:])

	srv := mockgemini.New()
	if apiKey != "" {
		srv.RequireAPIKey(apiKey)
	}
	srv.SetDefault(mockgemini.OK(text))
	for _, name := range splitCSV(script) {
		r, err := parseReply(name, text)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			os.Exit(2)
		}
		srv.Enqueue(r)
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-gemini listening on %s (script=%q)\n", addr, script)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func parseReply(name, text string) (mockgemini.Reply, error) {
	switch strings.ToLower(name) {
	case "ok":
		return mockgemini.OK(text), nil
	case "quota":
		return mockgemini.QuotaExhausted(), nil
	case "rate":
		return mockgemini.RateLimited(), nil
	case "unavailable":
		return mockgemini.Unavailable(), nil
	default:
		return mockgemini.Reply{}, fmt.Errorf("unknown reply %q", name)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
