package llm

// Message represents a single message in a chat conversation.
type Message struct {
	Role    string `json:"role"` // One of RoleSystem, RoleUser, RoleAssistant.
	Content string `json:"content"`
}

// Role constants for the Message.Role field.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ValidRole reports whether role is one of the known message roles.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Usage tracks token consumption for a single completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
