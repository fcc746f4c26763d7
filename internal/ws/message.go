package ws

import (
	"time"

	"github.com/mnemic/groqnode/pkg/llm"
)

// MessageType discriminates WebSocket messages.
type MessageType string

const (
	// MessageSnapshot carries the current history of the watched conversation,
	// sent once right after connecting.
	MessageSnapshot MessageType = "conversation.snapshot"
	// MessageUpdated carries the full history after every change.
	MessageUpdated MessageType = "conversation.updated"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Timestamp      time.Time   `json:"timestamp"`
	Data           HistoryData `json:"data"`
}

// HistoryData is the payload for snapshot and update messages.
type HistoryData struct {
	Messages []llm.Message `json:"messages"`
}
