package node

import (
	"fmt"

	"github.com/mnemic/groqnode/internal/preset"
)

// Models lists the model choices offered in the node's model dropdown.
var Models = []string{
	"llama-3.1-8b-instant",
	"llama-3.1-70b-versatile",
	"llama3-8b-8192",
	"llama3-70b-8192",
	"llama-guard-3-8b",
	"llama3-groq-8b-8192-tool-use-preview",
	"llama3-groq-70b-8192-tool-use-preview",
	"mixtral-8x7b-32768",
	"gemma-7b-it",
	"gemma2-9b-it",
	"llama-3.2-1b-preview",
	"llama-3.2-3b-preview",
	"llama-3.2-11b-text-preview",
	"llama-3.2-90b-text-preview",
}

// Input bounds, matching the host widget descriptors.
const (
	MinTemperature = 0.1
	MaxTemperature = 2.0
	MinMaxTokens   = 1
	MaxMaxTokens   = 131072
	MinTopP        = 0.1
	MaxTopP        = 1.0
	MinSeed        = 0
	MaxSeed        = 4294967295
	MinMaxRetries  = 1
	MaxMaxRetries  = 10
)

// Inputs are the node's input sockets and widgets.
type Inputs struct {
	Model          string  `json:"model"`
	Preset         string  `json:"preset"`
	SystemMessage  string  `json:"system_message"`
	UserInput      string  `json:"user_input"`
	Temperature    float64 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens"`
	TopP           float64 `json:"top_p"`
	Seed           int64   `json:"seed"`
	MaxRetries     int     `json:"max_retries"`
	Stop           string  `json:"stop"`
	JSONMode       bool    `json:"json_mode"`
	ConversationID string  `json:"conversation_id"`
}

// DefaultInputs returns the widget defaults.
func DefaultInputs() Inputs {
	return Inputs{
		Model:       Models[0],
		Preset:      preset.DefaultPrompt,
		Temperature: 0.85,
		MaxTokens:   1024,
		TopP:        1.0,
		Seed:        42,
		MaxRetries:  2,
	}
}

// Validate rejects inputs outside the widget ranges.
func (in Inputs) Validate() error {
	switch {
	case in.Model == "":
		return fmt.Errorf("model is required")
	case in.Temperature < MinTemperature || in.Temperature > MaxTemperature:
		return fmt.Errorf("temperature %.2f outside [%.1f, %.1f]", in.Temperature, MinTemperature, MaxTemperature)
	case in.MaxTokens < MinMaxTokens || in.MaxTokens > MaxMaxTokens:
		return fmt.Errorf("max_tokens %d outside [%d, %d]", in.MaxTokens, MinMaxTokens, MaxMaxTokens)
	case in.TopP < MinTopP || in.TopP > MaxTopP:
		return fmt.Errorf("top_p %.2f outside [%.1f, %.1f]", in.TopP, MinTopP, MaxTopP)
	case in.Seed < MinSeed || in.Seed > MaxSeed:
		return fmt.Errorf("seed %d outside [%d, %d]", in.Seed, MinSeed, int64(MaxSeed))
	case in.MaxRetries < MinMaxRetries || in.MaxRetries > MaxMaxRetries:
		return fmt.Errorf("max_retries %d outside [%d, %d]", in.MaxRetries, MinMaxRetries, MaxMaxRetries)
	}
	return nil
}

// Outputs are the node's output sockets.
type Outputs struct {
	APIResponse    string `json:"api_response"`
	Success        bool   `json:"success"`
	StatusCode     string `json:"status_code"`
	ConversationID string `json:"conversation_id"`
	ChatHistory    string `json:"chat_history"` // All conversations as indented JSON.
}
