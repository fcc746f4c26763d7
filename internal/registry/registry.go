// Package registry hosts graph nodes: registration, API version checks, and
// ordered Init/Start/Stop.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mnemic/groqnode/pkg/plugin"
	"go.uber.org/zap"
)

// Registry owns the lifecycle of every registered node. Nodes start in
// registration order and stop in reverse.
type Registry struct {
	mu      sync.RWMutex
	nodes   []plugin.Plugin
	byName  map[string]plugin.Plugin
	started int // nodes[:started] have been started
	logger  *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		byName: make(map[string]plugin.Plugin),
		logger: logger,
	}
}

// Register adds a node. Names must be unique and the node's API version must
// fall inside the supported range.
func (r *Registry) Register(p plugin.Plugin) error {
	info := p.Info()
	if info.Name == "" {
		return fmt.Errorf("node has empty name")
	}
	if err := checkAPIVersion(info); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[info.Name]; exists {
		return fmt.Errorf("node %q already registered", info.Name)
	}
	r.nodes = append(r.nodes, p)
	r.byName[info.Name] = p

	r.logger.Info("node registered",
		zap.String("name", info.Name),
		zap.String("version", info.Version),
		zap.Int("api_version", info.APIVersion),
	)
	return nil
}

// InitAll initializes nodes in registration order. The first failure aborts:
// a node that cannot be configured must not be served.
func (r *Registry) InitAll(ctx context.Context, depsFn func(name string) plugin.Dependencies) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.nodes {
		name := p.Info().Name
		r.logger.Info("initializing node", zap.String("name", name))
		if err := p.Init(ctx, depsFn(name)); err != nil {
			return fmt.Errorf("node %q failed to initialize: %w", name, err)
		}
	}
	return nil
}

// StartAll starts nodes in registration order. On failure the nodes already
// started are stopped again.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.nodes {
		name := p.Info().Name
		r.logger.Info("starting node", zap.String("name", name))
		if err := p.Start(ctx); err != nil {
			_ = r.stopLocked(ctx)
			return fmt.Errorf("node %q failed to start: %w", name, err)
		}
		r.started = i + 1
	}
	return nil
}

// StopAll stops started nodes in reverse order and joins their errors.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked(ctx)
}

func (r *Registry) stopLocked(ctx context.Context) error {
	var errs []error
	for i := r.started - 1; i >= 0; i-- {
		p := r.nodes[i]
		name := p.Info().Name
		r.logger.Info("stopping node", zap.String("name", name))
		if err := p.Stop(ctx); err != nil {
			r.logger.Error("failed to stop node", zap.String("name", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("stop %q: %w", name, err))
		}
	}
	r.started = 0
	return errors.Join(errs...)
}

// Get returns a node by name.
func (r *Registry) Get(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// All returns the registered nodes in registration order.
func (r *Registry) All() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]plugin.Plugin, len(r.nodes))
	copy(out, r.nodes)
	return out
}

func checkAPIVersion(info plugin.PluginInfo) error {
	if info.APIVersion < plugin.APIVersionMin {
		return fmt.Errorf("node %q targets API v%d, but this host requires v%d or newer",
			info.Name, info.APIVersion, plugin.APIVersionMin)
	}
	if info.APIVersion > plugin.APIVersionCurrent {
		return fmt.Errorf("node %q targets API v%d, but this host only supports up to v%d",
			info.Name, info.APIVersion, plugin.APIVersionCurrent)
	}
	return nil
}
