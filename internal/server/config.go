package server

import (
	"fmt"
	"time"
)

// Config holds the HTTP server configuration (the "server" config section).
type Config struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`

	// Upstream limits apply per client to metered node routes, on top of
	// the general limit. UpstreamRateLimitRPS <= 0 disables them.
	UpstreamRateLimitRPS   float64 `mapstructure:"upstream_rate_limit_rps"`
	UpstreamRateLimitBurst int     `mapstructure:"upstream_rate_limit_burst"`
}

// DefaultConfig mirrors the defaults registered by config.SetDefaults.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8188,
		RateLimitRPS:   20,
		RateLimitBurst: 40,
		WriteTimeout:   10 * time.Minute,

		UpstreamRateLimitRPS:   1,
		UpstreamRateLimitBurst: 5,
	}
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
