package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// GroqServer is an httptest server speaking the subset of the Groq API the
// node uses. Chat completions fail with FailStatus for the first FailFirst
// attempts, then answer with Reply.
type GroqServer struct {
	*httptest.Server

	mu         sync.Mutex
	failFirst  int
	failStatus int
	reply      string
	requests   []map[string]any
}

// GroqOption configures a GroqServer.
type GroqOption func(*GroqServer)

// FailFirst makes the first n completion attempts fail with status.
func FailFirst(n, status int) GroqOption {
	return func(s *GroqServer) {
		s.failFirst = n
		s.failStatus = status
	}
}

// Reply sets the assistant content of successful completions.
func Reply(content string) GroqOption {
	return func(s *GroqServer) { s.reply = content }
}

// NewGroqServer starts a fake Groq API, closed when the test ends.
func NewGroqServer(t *testing.T, opts ...GroqOption) *GroqServer {
	t.Helper()
	s := &GroqServer{failStatus: http.StatusServiceUnavailable, reply: "pong"}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /openai/v1/chat/completions", s.handleCompletion)
	mux.HandleFunc("GET /openai/v1/models", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"llama-3.1-8b-instant"},{"id":"gemma2-9b-it"}]}`))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *GroqServer) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	s.requests = append(s.requests, body)
	attempt := len(s.requests)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if attempt <= s.failFirst {
		w.WriteHeader(s.failStatus)
		_, _ = w.Write([]byte(`{"error":{"message":"simulated failure","type":"server_error"}}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":    "chatcmpl-test",
		"model": body["model"],
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": s.reply},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4},
	})
}

// Attempts returns how many completion requests arrived.
func (s *GroqServer) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns the decoded completion request bodies.
func (s *GroqServer) Requests() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.requests))
	copy(out, s.requests)
	return out
}
