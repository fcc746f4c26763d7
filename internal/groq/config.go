package groq

import "time"

// DefaultBaseURL is the Groq API origin. Paths below it follow the
// OpenAI-compatible layout under /openai/v1.
const DefaultBaseURL = "https://api.groq.com"

// Config holds the requester configuration.
type Config struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`         // Per attempt.
	RetryDelay    time.Duration `mapstructure:"retry_delay"`     // Wait before the first retry; doubles after.
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"` // Upper bound for any single wait.
}

// DefaultConfig returns sensible defaults. APIKey has no default.
func DefaultConfig() Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		Timeout:       2 * time.Minute,
		RetryDelay:    time.Second,
		MaxRetryDelay: 10 * time.Second,
	}
}
