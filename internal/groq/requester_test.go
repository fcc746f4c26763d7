package groq

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mnemic/groqnode/pkg/llm"
	"go.uber.org/zap"
)

// newTestRequester points a Requester at serverURL with no retry waits.
func newTestRequester(t *testing.T, serverURL string) *Requester {
	t.Helper()
	r, err := New(Config{
		APIKey:  "gsk-test",
		BaseURL: serverURL,
		Timeout: 5 * time.Second,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func baseRequest() llm.Request {
	return llm.Request{
		Model: "llama-3.1-8b-instant",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "hi"},
		},
		Temperature: 0.85,
		MaxTokens:   1024,
		TopP:        1.0,
		Seed:        42,
		MaxRetries:  3,
	}
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":    "chatcmpl-1",
		"model": "llama-3.1-8b-instant",
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
		"usage": map[string]int{"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10},
	})
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": msg, "type": "invalid_request_error"},
	})
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}, zap.NewNop()); err == nil {
		t.Fatal("expected error for empty api key")
	}
	if _, err := New(Config{APIKey: "   "}, zap.NewNop()); err == nil {
		t.Fatal("expected error for blank api key")
	}
}

func TestSend_Success(t *testing.T) {
	var gotAuth, gotPath string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		writeCompletion(w, "Hello!")
	}))
	t.Cleanup(srv.Close)

	res := newTestRequester(t, srv.URL).Send(context.Background(), baseRequest())

	if !res.Success {
		t.Fatalf("Success = false, text = %q", res.Text)
	}
	if res.Text != "Hello!" {
		t.Errorf("Text = %q, want Hello!", res.Text)
	}
	if res.StatusCode != "200" {
		t.Errorf("StatusCode = %q, want 200", res.StatusCode)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if res.Usage.TotalTokens != 10 {
		t.Errorf("TotalTokens = %d, want 10", res.Usage.TotalTokens)
	}
	if gotAuth != "Bearer gsk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/openai/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}

	for _, key := range []string{"model", "messages", "temperature", "max_tokens", "top_p", "seed"} {
		if _, ok := payload[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
	if payload["seed"].(float64) != 42 {
		t.Errorf("seed = %v", payload["seed"])
	}
	if msgs := payload["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages len = %d, want 2", len(msgs))
	}
}

func TestSend_StopAndJSONMode(t *testing.T) {
	tests := []struct {
		name       string
		stop       string
		jsonMode   bool
		wantStop   bool
		wantFormat bool
	}{
		{"empty stop omitted", "", false, false, false},
		{"stop included verbatim", "###", false, true, false},
		{"json mode adds response_format", "", true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewDecoder(r.Body).Decode(&payload)
				writeCompletion(w, "{}")
			}))
			t.Cleanup(srv.Close)

			req := baseRequest()
			req.Stop = tt.stop
			req.JSONMode = tt.jsonMode
			newTestRequester(t, srv.URL).Send(context.Background(), req)

			stop, hasStop := payload["stop"]
			if hasStop != tt.wantStop {
				t.Errorf("stop present = %v, want %v", hasStop, tt.wantStop)
			}
			if tt.wantStop && stop != tt.stop {
				t.Errorf("stop = %v, want %q", stop, tt.stop)
			}
			_, hasFormat := payload["response_format"]
			if hasFormat != tt.wantFormat {
				t.Errorf("response_format present = %v, want %v", hasFormat, tt.wantFormat)
			}
		})
	}
}

func TestSend_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIError(w, http.StatusServiceUnavailable, "over capacity")
	}))
	t.Cleanup(srv.Close)

	res := newTestRequester(t, srv.URL).Send(context.Background(), baseRequest())

	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("attempts = %d, want exactly 3", got)
	}
	if res.Attempts != 3 {
		t.Errorf("Result.Attempts = %d, want 3", res.Attempts)
	}
	if res.StatusCode != "503" {
		t.Errorf("StatusCode = %q, want 503", res.StatusCode)
	}
	if res.Text == "" {
		t.Error("failure text should describe the error")
	}
}

func TestSend_FailureThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeAPIError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		writeCompletion(w, "second time lucky")
	}))
	t.Cleanup(srv.Close)

	res := newTestRequester(t, srv.URL).Send(context.Background(), baseRequest())

	if !res.Success {
		t.Fatalf("Success = false: %s", res.Text)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	if res.Text != "second time lucky" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestSend_ClientErrorNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeAPIError(w, status, "rejected")
			}))
			t.Cleanup(srv.Close)

			res := newTestRequester(t, srv.URL).Send(context.Background(), baseRequest())

			if res.Success {
				t.Fatal("Success = true, want false")
			}
			if got := calls.Load(); got != 1 {
				t.Errorf("attempts = %d, want 1", got)
			}
			if want := strconv.Itoa(status); res.StatusCode != want {
				t.Errorf("StatusCode = %q, want %q", res.StatusCode, want)
			}
		})
	}
}

func TestSend_NetworkErrorRetriedWithStatusZero(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	req := baseRequest()
	req.MaxRetries = 2
	res := newTestRequester(t, url).Send(context.Background(), req)

	if res.Success {
		t.Fatal("Success = true against a closed server")
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if res.StatusCode != "0" {
		t.Errorf("StatusCode = %q, want \"0\"", res.StatusCode)
	}
}

func TestSend_MaxRetriesBelowOneMakesOneAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIError(w, http.StatusInternalServerError, "boom")
	}))
	t.Cleanup(srv.Close)

	req := baseRequest()
	req.MaxRetries = 0
	newTestRequester(t, srv.URL).Send(context.Background(), req)

	if got := calls.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestSend_CancelledDuringBackoff(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIError(w, http.StatusBadGateway, "upstream")
	}))
	t.Cleanup(srv.Close)

	r := newTestRequester(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	res := r.Send(ctx, baseRequest())
	if res.Success {
		t.Fatal("Success = true after cancellation")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
	if res.StatusCode != "502" {
		t.Errorf("StatusCode = %q, want last attempt's 502", res.StatusCode)
	}
}

func TestSend_MalformedSuccessBodyIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte("not json"))
			return
		}
		writeCompletion(w, "ok")
	}))
	t.Cleanup(srv.Close)

	res := newTestRequester(t, srv.URL).Send(context.Background(), baseRequest())
	if !res.Success || res.Text != "ok" {
		t.Errorf("got %+v, want success with ok", res)
	}
}

func TestBackoff(t *testing.T) {
	r := &Requester{cfg: Config{RetryDelay: time.Second, MaxRetryDelay: 5 * time.Second}}

	tests := []struct {
		n       int
		lastErr error
		want    time.Duration
	}{
		{1, nil, time.Second},
		{2, nil, 2 * time.Second},
		{3, nil, 4 * time.Second},
		{4, nil, 5 * time.Second},
		{10, nil, 5 * time.Second},
		{1, &statusError{StatusCode: 429, RetryAfter: 3 * time.Second}, 3 * time.Second},
		{1, &statusError{StatusCode: 429, RetryAfter: time.Minute}, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := r.backoff(tt.n, tt.lastErr); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestListModelsAndHeartbeat(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /openai/v1/models", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gsk-test" {
			writeAPIError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"id": "llama-3.1-8b-instant"}, {"id": "gemma2-9b-it"}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	r := newTestRequester(t, srv.URL)
	models, err := r.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[1] != "gemma2-9b-it" {
		t.Errorf("models = %v", models)
	}
	if err := r.Heartbeat(context.Background()); err != nil {
		t.Errorf("Heartbeat: %v", err)
	}

	bad, _ := New(Config{APIKey: "wrong", BaseURL: srv.URL}, zap.NewNop())
	err = bad.Heartbeat(context.Background())
	if !llm.IsAuthenticationError(err) {
		t.Errorf("Heartbeat with bad key = %v, want authentication error", err)
	}
}
