// Package llm provides the provider-neutral types shared by the completion
// node and its chat-completion backends. Backends live in internal/{provider}/.
package llm

import "context"

// Completer sends one completion request, retrying per its own policy, and
// reports the outcome as a normalized Result. Failures are reported through
// Result rather than an error so callers can surface them as node outputs.
type Completer interface {
	Send(ctx context.Context, req Request) Result
}

// HealthReporter is optionally implemented by completers that can check
// endpoint reachability and model availability. Detected via type assertion.
type HealthReporter interface {
	// Heartbeat checks whether the completion endpoint is reachable.
	Heartbeat(ctx context.Context) error

	// ListModels returns the model IDs the endpoint serves.
	ListModels(ctx context.Context) ([]string, error)
}

// Request carries everything needed for a single completion round trip.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	TopP        float64
	Seed        int64
	Stop        string // Omitted from the payload when empty.
	JSONMode    bool
	MaxRetries  int // Total attempts, not additional ones. Values < 1 mean 1.
}

// Result is the normalized outcome of a completion request.
type Result struct {
	Text       string `json:"text"`        // Generated text, or an error description on failure.
	Success    bool   `json:"success"`     // True only if an attempt returned 2xx with a parsable body.
	StatusCode string `json:"status_code"` // HTTP status of the last attempt; "0" if none was received.
	Attempts   int    `json:"attempts"`
	Usage      Usage  `json:"usage"`
}
