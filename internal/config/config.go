// Package config loads node configuration with Viper and exposes it through
// the plugin.Config interface.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mnemic/groqnode/pkg/plugin"
	"github.com/spf13/viper"
)

// Compile-time interface guard.
var _ plugin.Config = (*ViperConfig)(nil)

// EnvPrefix is the prefix for environment overrides: GROQNODE_NODE_API_KEY=...
const EnvPrefix = "GROQNODE"

// Load reads configuration from file and environment variables. A missing
// config file is not an error; defaults and environment still apply.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("groqnode")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/groqnode")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys Viper already knows; the key has no default.
	_ = v.BindEnv("node.api_key")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return v, nil
}

// SetDefaults registers the default value of every known key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8188)
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("server.write_timeout", "10m")
	v.SetDefault("server.upstream_rate_limit_rps", 1)
	v.SetDefault("server.upstream_rate_limit_burst", 5)

	v.SetDefault("node.base_url", "https://api.groq.com")
	v.SetDefault("node.timeout", "2m")
	v.SetDefault("node.retry_delay", "1s")
	v.SetDefault("node.max_retry_delay", "10s")
	v.SetDefault("node.preset_files", []string{"./presets/DefaultPrompts.json", "./presets/UserPrompts.json"})
	v.SetDefault("node.max_conversations", 0)
	v.SetDefault("node.persistence.enabled", false)
	v.SetDefault("node.persistence.path", "./data/conversations.db")
}

// ViperConfig wraps a Viper instance to implement plugin.Config.
type ViperConfig struct {
	v *viper.Viper
}

// New creates a Config backed by the given Viper instance.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) Unmarshal(target any) error {
	return c.v.Unmarshal(target)
}

func (c *ViperConfig) Get(key string) any {
	return c.v.Get(key)
}

func (c *ViperConfig) GetString(key string) string {
	return c.v.GetString(key)
}

func (c *ViperConfig) GetInt(key string) int {
	return c.v.GetInt(key)
}

func (c *ViperConfig) GetBool(key string) bool {
	return c.v.GetBool(key)
}

func (c *ViperConfig) GetDuration(key string) time.Duration {
	return c.v.GetDuration(key)
}

func (c *ViperConfig) IsSet(key string) bool {
	return c.v.IsSet(key)
}

// Sub returns the config scoped to key. The section is rebuilt from the
// resolved leaf keys because viper.Sub drops defaults and environment bindings.
func (c *ViperConfig) Sub(key string) plugin.Config {
	prefix := key + "."
	sub := viper.New()
	for _, k := range c.v.AllKeys() {
		if strings.HasPrefix(k, prefix) {
			sub.Set(strings.TrimPrefix(k, prefix), c.v.Get(k))
		}
	}
	return New(sub)
}

// Viper returns the underlying Viper instance.
func (c *ViperConfig) Viper() *viper.Viper {
	return c.v
}
