// Package event provides the in-process plugin.EventBus the host hands to nodes.
package event

import (
	"context"
	"sync"

	"github.com/mnemic/groqnode/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ plugin.EventBus = (*Bus)(nil)

// Bus is an in-memory event bus. Publish runs handlers synchronously in the
// caller's goroutine, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
	logger   *zap.Logger
}

type subscription struct {
	id      uint64
	handler plugin.EventHandler
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logger,
	}
}

// Publish dispatches event to every handler subscribed to its topic.
// A panicking handler is logged and does not stop the others.
func (b *Bus) Publish(ctx context.Context, event plugin.Event) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.handlers[event.Topic]))
	copy(subs, b.handlers[event.Topic])
	b.mu.RUnlock()

	for _, s := range subs {
		b.safeCall(ctx, s.handler, event)
	}
	return nil
}

// Subscribe registers handler for topic and returns its unsubscribe func.
func (b *Bus) Subscribe(topic string, handler plugin.EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[topic]
		for i, s := range subs {
			if s.id == id {
				b.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) safeCall(ctx context.Context, handler plugin.EventHandler, event plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", event.Topic),
				zap.String("source", event.Source),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, event)
}
