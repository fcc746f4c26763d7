// Package testutil holds shared test fixtures: chat histories and a fake
// Groq API server.
package testutil

import "github.com/mnemic/groqnode/pkg/llm"

// NewHistory returns a conversation opening with the given system message,
// followed by the turns added by opts.
func NewHistory(system string, opts ...func([]llm.Message) []llm.Message) []llm.Message {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: system}}
	for _, opt := range opts {
		msgs = opt(msgs)
	}
	return msgs
}

// WithExchange appends a user turn and the assistant's reply.
func WithExchange(user, assistant string) func([]llm.Message) []llm.Message {
	return func(msgs []llm.Message) []llm.Message {
		return append(msgs,
			llm.Message{Role: llm.RoleUser, Content: user},
			llm.Message{Role: llm.RoleAssistant, Content: assistant},
		)
	}
}

// WithUser appends a user turn with no reply yet.
func WithUser(user string) func([]llm.Message) []llm.Message {
	return func(msgs []llm.Message) []llm.Message {
		return append(msgs, llm.Message{Role: llm.RoleUser, Content: user})
	}
}
