// Package plugin defines the host-side contract for graph nodes: lifecycle,
// metadata, injected dependencies, and optional HTTP and health capabilities.
package plugin

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// API version constants for node compatibility checking.
const (
	APIVersionMin     = 1
	APIVersionCurrent = 1
)

// Plugin defines the lifecycle every hosted node implements.
type Plugin interface {
	// Info returns the node's metadata.
	Info() PluginInfo

	// Init initializes the node with its dependencies. Configuration
	// problems must be reported here so the host fails at startup.
	Init(ctx context.Context, deps Dependencies) error

	// Start begins any background work.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the node.
	Stop(ctx context.Context) error
}

// PluginInfo contains node metadata as shown in the host's node palette.
type PluginInfo struct {
	Name        string // Unique identifier, also the HTTP mount prefix.
	Version     string // Semantic version string
	Description string // Human-readable summary
	Category    string // Palette category
	APIVersion  int
}

// Dependencies provides controlled access to shared services.
type Dependencies struct {
	Config Config      // Scoped to this node's config section
	Logger *zap.Logger // Named logger for this node
	Bus    EventBus    // May be nil when the host runs without a bus.
}

// Route represents an HTTP route exposed by a node.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
	// Metered routes spend upstream quota; the host applies its stricter
	// per-client upstream limit to them.
	Metered bool
}

// HTTPProvider is implemented by nodes that expose HTTP routes.
type HTTPProvider interface {
	Routes() []Route
}

// HealthChecker is implemented by nodes that can report their health.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// HealthStatus represents a node's health report.
type HealthStatus struct {
	Status  string            `json:"status"` // "healthy", "degraded", "unhealthy"
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Config abstracts configuration access. Wraps Viper today.
type Config interface {
	Unmarshal(target any) error
	Get(key string) any
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	IsSet(key string) bool
	Sub(key string) Config
}

// Publisher sends events to the bus.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber receives events from the bus.
type Subscriber interface {
	Subscribe(topic string, handler EventHandler) (unsubscribe func())
}

// EventBus composes Publisher and Subscriber.
type EventBus interface {
	Publisher
	Subscriber
}

// Event represents a typed message on the event bus.
type Event struct {
	Topic     string
	Source    string // Node name that emitted the event
	Timestamp time.Time
	Payload   any // Type depends on topic
}

// EventHandler processes events from the bus.
type EventHandler func(ctx context.Context, event Event)
