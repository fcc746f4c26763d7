package node

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mnemic/groqnode/internal/server"
	"github.com/mnemic/groqnode/pkg/llm"
	"github.com/mnemic/groqnode/pkg/plugin"
)

// ConversationResponse is the response for conversation lookups.
type ConversationResponse struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []llm.Message `json:"messages"`
}

// ModelsResponse lists the model choices.
type ModelsResponse struct {
	Models []string `json:"models"`
}

// PresetsResponse lists the preset choices, DefaultPrompt first.
type PresetsResponse struct {
	Presets []string `json:"presets"`
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/complete", Handler: m.handleComplete, Metered: true},
		{Method: "GET", Path: "/conversations", Handler: m.handleListConversations},
		{Method: "POST", Path: "/conversations", Handler: m.handleCreateConversation},
		{Method: "GET", Path: "/conversations/{id}", Handler: m.handleGetConversation},
		{Method: "GET", Path: "/models", Handler: m.handleModels},
		{Method: "GET", Path: "/presets", Handler: m.handlePresets},
	}
}

// handleComplete runs one completion turn. Omitted fields take the widget
// defaults. A failed completion is still a 200: the failure is in the body.
func (m *Module) handleComplete(w http.ResponseWriter, r *http.Request) {
	in := DefaultInputs()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}

	out, err := m.Process(r.Context(), in)
	if errors.Is(err, ErrInvalidInput) {
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	if err != nil {
		server.InternalError(w, err.Error(), r.URL.Path)
		return
	}
	server.WriteJSON(w, http.StatusOK, out)
}

func (m *Module) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	server.WriteJSON(w, http.StatusOK, m.store.GetAllConversations())
}

func (m *Module) handleCreateConversation(w http.ResponseWriter, _ *http.Request) {
	id := m.store.CreateNewConversation()
	server.WriteJSON(w, http.StatusCreated, ConversationResponse{ConversationID: id, Messages: []llm.Message{}})
}

// handleGetConversation returns a conversation; unknown IDs read as empty.
func (m *Module) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	server.WriteJSON(w, http.StatusOK, ConversationResponse{ConversationID: id, Messages: m.store.GetHistory(id)})
}

func (m *Module) handleModels(w http.ResponseWriter, _ *http.Request) {
	server.WriteJSON(w, http.StatusOK, ModelsResponse{Models: Models})
}

func (m *Module) handlePresets(w http.ResponseWriter, _ *http.Request) {
	server.WriteJSON(w, http.StatusOK, PresetsResponse{Presets: m.presets.Names()})
}
