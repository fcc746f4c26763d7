package node

import (
	"fmt"
	"strings"

	"github.com/mnemic/groqnode/internal/groq"
)

// Config holds the node configuration (the "node" config section).
type Config struct {
	groq.Config      `mapstructure:",squash"`
	PresetFiles      []string          `mapstructure:"preset_files"`
	MaxConversations int               `mapstructure:"max_conversations"`
	Persistence      PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig controls the optional SQLite conversation backend.
type PersistenceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DefaultConfig returns sensible defaults. APIKey must still be supplied.
func DefaultConfig() Config {
	return Config{
		Config:      groq.DefaultConfig(),
		PresetFiles: []string{"./presets/DefaultPrompts.json", "./presets/UserPrompts.json"},
		Persistence: PersistenceConfig{Path: "./data/conversations.db"},
	}
}

// ConfigError reports configuration that prevents the node from starting.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("node config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Validate checks the settings every node needs, whatever completer it uses.
func (c Config) Validate() error {
	if c.MaxConversations < 0 {
		return &ConfigError{Field: "max_conversations", Err: fmt.Errorf("must be >= 0, got %d", c.MaxConversations)}
	}
	if c.Persistence.Enabled && strings.TrimSpace(c.Persistence.Path) == "" {
		return &ConfigError{Field: "persistence.path", Err: fmt.Errorf("is required when persistence is enabled")}
	}
	return nil
}

// validateCredentials checks what the Groq requester needs to be built.
func (c Config) validateCredentials() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return &ConfigError{Field: "api_key", Err: fmt.Errorf("is required (set node.api_key or GROQNODE_NODE_API_KEY)")}
	}
	return nil
}
