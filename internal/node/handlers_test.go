package node

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mnemic/groqnode/internal/server"
	"github.com/mnemic/groqnode/pkg/llm"
)

func newTestMux(t *testing.T, fc *fakeCompleter) (*Module, *http.ServeMux) {
	t.Helper()
	m := newTestModule(t, fc)
	mux := http.NewServeMux()
	for _, route := range m.Routes() {
		mux.HandleFunc(route.Method+" "+route.Path, route.Handler)
	}
	return m, mux
}

func TestHandleComplete(t *testing.T) {
	fc := &fakeCompleter{results: []llm.Result{success("42")}}
	m, mux := newTestMux(t, fc)

	body := `{"system_message":"Answer briefly.","user_input":"meaning of life?","temperature":0.5}`
	req := httptest.NewRequest(http.MethodPost, "/complete", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var out Outputs
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Success || out.APIResponse != "42" || out.StatusCode != "200" || out.ConversationID == "" {
		t.Errorf("unexpected outputs %+v", out)
	}

	sent := fc.requests[0]
	if sent.Temperature != 0.5 {
		t.Errorf("Temperature = %v, want 0.5", sent.Temperature)
	}
	if sent.MaxTokens != 1024 || sent.Model != Models[0] {
		t.Errorf("defaults not applied: %+v", sent)
	}
	if len(m.Store().GetHistory(out.ConversationID)) != 3 {
		t.Error("conversation not stored")
	}
}

func TestHandleComplete_FailureIsReportedInBody(t *testing.T) {
	_, mux := newTestMux(t, &fakeCompleter{results: []llm.Result{failed("500")}})

	req := httptest.NewRequest(http.MethodPost, "/complete", bytes.NewBufferString(`{"user_input":"hi"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var out Outputs
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Success || out.StatusCode != "500" {
		t.Errorf("unexpected outputs %+v", out)
	}
}

func TestHandleComplete_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"user_input":`},
		{"temperature out of range", `{"user_input":"hi","temperature":9}`},
		{"unknown preset", `{"user_input":"hi","preset":"Nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeCompleter{}
			_, mux := newTestMux(t, fc)

			req := httptest.NewRequest(http.MethodPost, "/complete", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var p server.Problem
			if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
				t.Fatalf("decode problem: %v", err)
			}
			if p.Type != server.ProblemTypeInvalidInput || p.Instance != "/complete" {
				t.Errorf("problem = %+v", p)
			}
			if len(fc.requests) != 0 {
				t.Error("completer should not be called")
			}
		})
	}
}

func TestHandleConversations(t *testing.T) {
	m, mux := newTestMux(t, &fakeCompleter{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/conversations", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", w.Code)
	}
	var created ConversationResponse
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ConversationID == "" || created.Messages == nil || len(created.Messages) != 0 {
		t.Errorf("unexpected create response %+v", created)
	}

	m.Store().UpdateHistory(created.ConversationID, []llm.Message{{Role: llm.RoleUser, Content: "hey"}})

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversations/"+created.ConversationID, nil))
	var got ConversationResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ConversationID != created.ConversationID || len(got.Messages) != 1 {
		t.Errorf("unexpected get response %+v", got)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversations/unknown", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unknown id status = %d, want 200", w.Code)
	}
	var unknown ConversationResponse
	if err := json.NewDecoder(w.Body).Decode(&unknown); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if unknown.Messages == nil || len(unknown.Messages) != 0 {
		t.Errorf("unknown id messages = %v, want empty list", unknown.Messages)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversations", nil))
	var all map[string][]llm.Message
	if err := json.NewDecoder(w.Body).Decode(&all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("conversations = %d, want 1", len(all))
	}
}

func TestHandleModelsAndPresets(t *testing.T) {
	_, mux := newTestMux(t, &fakeCompleter{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models", nil))
	var models ModelsResponse
	if err := json.NewDecoder(w.Body).Decode(&models); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(models.Models) != len(Models) {
		t.Errorf("models = %d, want %d", len(models.Models), len(Models))
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/presets", nil))
	var presets PresetsResponse
	if err := json.NewDecoder(w.Body).Decode(&presets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"Use [system_message] and [user_input]", "Pirate"}
	if len(presets.Presets) != 2 || presets.Presets[0] != want[0] || presets.Presets[1] != want[1] {
		t.Errorf("presets = %v, want %v", presets.Presets, want)
	}
}
