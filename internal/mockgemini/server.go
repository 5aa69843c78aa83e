package mockgemini

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Call records a generateContent request made to the mock service.
type Call struct {
	Method     string
	Path       string
	Model      string
	MIMEType   string
	ImageBytes int
	Prompt     string
}

// Reply is one scripted response.
type Reply struct {
	// Status is the HTTP status; zero means 200.
	Status int
	// Text is returned as the single candidate part on success.
	Text string
	// ErrorStatus and ErrorMessage populate the Google API error envelope for non-2xx replies.
	ErrorStatus  string
	ErrorMessage string
	// Delay is slept before replying.
	Delay time.Duration
}

// OK returns a successful reply with the given text.
func OK(text string) Reply {
	return Reply{Status: http.StatusOK, Text: text}
}

// QuotaExhausted returns the 429 the service sends when the account quota is spent.
func QuotaExhausted() Reply {
	return Reply{
		Status:       http.StatusTooManyRequests,
		ErrorStatus:  "RESOURCE_EXHAUSTED",
		ErrorMessage: "Resource has been exhausted (e.g. check quota).",
	}
}

// RateLimited returns a 429 without the quota signature.
func RateLimited() Reply {
	return Reply{
		Status:       http.StatusTooManyRequests,
		ErrorStatus:  "UNAVAILABLE",
		ErrorMessage: "Too many requests, please slow down.",
	}
}

// Unavailable returns a 503 overload error.
func Unavailable() Reply {
	return Reply{
		Status:       http.StatusServiceUnavailable,
		ErrorStatus:  "UNAVAILABLE",
		ErrorMessage: "The model is overloaded. Please try again later.",
	}
}

// Server implements a minimal Gemini-compatible generateContent surface.
//
// Replies are served from a FIFO script; once the script is empty the default reply
// is used for every call.
type Server struct {
	mu             sync.Mutex
	calls          []Call
	script         []Reply
	defaultReply   Reply
	expectedAPIKey string
}

// New constructs a mock server whose default reply is a fixed success text.
func New() *Server {
	return &Server{defaultReply: OK("mock attributes")}
}

// RequireAPIKey enforces that requests carry the given API key. Empty disables the check.
func (s *Server) RequireAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expectedAPIKey = strings.TrimSpace(key)
}

// Enqueue appends replies to the script.
func (s *Server) Enqueue(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, replies...)
}

// SetDefault replaces the reply used when the script is empty.
func (s *Server) SetDefault(r Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultReply = r
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Handler returns an http.Handler that serves the mock API.
//
// A plain handler (not a ServeMux) keeps paths like "//v1beta/..." from being redirected.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

type generateRequest struct {
	Contents []struct {
		Parts []struct {
			Text       string `json:"text"`
			InlineData *struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"inlineData"`
		} `json:"parts"`
	} `json:"contents"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, ":generateContent") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "API key not valid. Please pass a valid API key.")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	var req generateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON payload")
		return
	}

	call := Call{Method: r.Method, Path: r.URL.Path, Model: modelFromPath(r.URL.Path)}
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if p.InlineData != nil {
				call.MIMEType = p.InlineData.MIMEType
				if raw, err := base64.StdEncoding.DecodeString(p.InlineData.Data); err == nil {
					call.ImageBytes = len(raw)
				}
			}
			if p.Text != "" {
				call.Prompt = p.Text
			}
		}
	}
	reply := s.next(call)

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-r.Context().Done():
			return
		}
	}

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status/100 != 2 {
		writeError(w, status, reply.ErrorStatus, reply.ErrorMessage)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": reply.Text}},
			},
			"finishReason": "STOP",
		}},
	})
}

func (s *Server) next(call Call) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if len(s.script) == 0 {
		return s.defaultReply
	}
	r := s.script[0]
	s.script = s.script[1:]
	return r
}

func (s *Server) authorize(r *http.Request) bool {
	s.mu.Lock()
	expected := s.expectedAPIKey
	s.mu.Unlock()

	if expected == "" {
		return true
	}
	got := r.Header.Get("x-goog-api-key")
	if got == "" {
		got = r.URL.Query().Get("key")
	}
	return got == expected
}

func writeError(w http.ResponseWriter, status int, errStatus, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": message,
			"status":  errStatus,
		},
	})
}

// modelFromPath extracts "gemini-x" from ".../models/gemini-x:generateContent".
func modelFromPath(p string) string {
	i := strings.LastIndex(p, "/models/")
	if i < 0 {
		return ""
	}
	rest := p[i+len("/models/"):]
	return strings.TrimSuffix(rest, ":generateContent")
}
