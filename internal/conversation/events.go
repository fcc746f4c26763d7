package conversation

import "github.com/mnemic/groqnode/pkg/llm"

// TopicUpdated is published after a conversation is created or replaced.
const TopicUpdated = "conversation.updated"

// UpdatedEvent is the payload for TopicUpdated.
type UpdatedEvent struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []llm.Message `json:"messages"`
}
