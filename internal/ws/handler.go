// Package ws streams conversation changes to WebSocket clients.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/mnemic/groqnode/internal/conversation"
	"github.com/mnemic/groqnode/pkg/llm"
	"github.com/mnemic/groqnode/pkg/plugin"
	"go.uber.org/zap"
)

// HistorySource supplies the snapshot sent to clients watching one
// conversation. *conversation.Store satisfies it.
type HistorySource interface {
	GetHistory(id string) []llm.Message
}

// Handler serves GET /api/v1/ws/conversations.
//
// Clients may pass ?conversation_id=<id> to watch a single conversation; they
// then receive a snapshot first and only that conversation's updates after.
type Handler struct {
	hub            *Hub
	history        HistorySource
	originPatterns []string
	unsubscribe    func()
	logger         *zap.Logger
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a handler fed by conversation.updated events on bus.
// originPatterns are passed to websocket.Accept; empty allows same-origin only.
func NewHandler(bus plugin.Subscriber, history HistorySource, originPatterns []string, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:            NewHub(logger),
		history:        history,
		originPatterns: originPatterns,
		logger:         logger,
	}
	if bus != nil {
		h.unsubscribe = bus.Subscribe(conversation.TopicUpdated, h.onUpdated)
	}
	return h
}

// RegisterRoutes registers the WebSocket route on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/conversations", h.handleConversations)
}

// Close stops forwarding bus events.
func (h *Handler) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}
}

// ClientCount returns the number of connected clients.
func (h *Handler) ClientCount() int {
	return h.hub.ClientCount()
}

func (h *Handler) onUpdated(_ context.Context, event plugin.Event) {
	update, ok := event.Payload.(*conversation.UpdatedEvent)
	if !ok {
		return
	}
	h.hub.Broadcast(Message{
		Type:           MessageUpdated,
		ConversationID: update.ConversationID,
		Timestamp:      event.Timestamp,
		Data:           HistoryData{Messages: update.Messages},
	})
}

func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:           conn,
		remote:         r.RemoteAddr,
		conversationID: r.URL.Query().Get("conversation_id"),
		send:           make(chan Message, sendBuffer),
		logger:         h.logger,
	}

	// Queue the snapshot before registering so it precedes any update.
	if client.conversationID != "" && h.history != nil {
		client.send <- Message{
			Type:           MessageSnapshot,
			ConversationID: client.conversationID,
			Timestamp:      time.Now().UTC(),
			Data:           HistoryData{Messages: h.history.GetHistory(client.conversationID)},
		}
	}
	h.hub.Register(client)

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	client.readPump(ctx)

	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}
