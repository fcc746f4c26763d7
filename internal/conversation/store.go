// Package conversation keeps multi-turn chat histories keyed by conversation
// ID. Lookups never fail: unknown IDs read as empty histories.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mnemic/groqnode/pkg/llm"
	"github.com/mnemic/groqnode/pkg/plugin"
	"go.uber.org/zap"
)

// Record is one persisted conversation.
type Record struct {
	ID       string
	Messages []llm.Message
}

// Backend persists conversations beyond the process lifetime. LoadAll
// returns records least recently updated first.
type Backend interface {
	LoadAll(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, id string, messages []llm.Message) error
	Delete(ctx context.Context, id string) error
}

// Option configures a Store.
type Option func(*Store)

// WithBackend writes every change through to b.
func WithBackend(b Backend) Option {
	return func(s *Store) { s.backend = b }
}

// WithMaxConversations bounds the store to n conversations, evicting the
// least recently updated one first. Zero means unbounded.
func WithMaxConversations(n int) Option {
	return func(s *Store) { s.maxConversations = n }
}

// WithPublisher emits TopicUpdated events after each change.
func WithPublisher(p plugin.Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

const backendTimeout = 5 * time.Second

// Store owns the conversation map. Safe for concurrent use; concurrent
// updates to the same ID are last-write-wins.
type Store struct {
	mu               sync.RWMutex
	convs            map[string]*entry
	seq              uint64
	maxConversations int
	backend          Backend
	publisher        plugin.Publisher
	logger           *zap.Logger
}

type entry struct {
	messages []llm.Message
	touched  uint64
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		convs:  make(map[string]*entry),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads all conversations from the backend, replacing memory state.
// Recency follows the backend's order, so eviction after a restart still
// picks the least recently updated conversation. A store without a backend
// restores nothing.
func (s *Store) Restore(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	all, err := s.backend.LoadAll(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.convs = make(map[string]*entry, len(all))
	for _, rec := range all {
		s.seq++
		s.convs[rec.ID] = &entry{messages: clone(rec.Messages), touched: s.seq}
	}
	s.mu.Unlock()

	s.logger.Info("conversations restored", zap.Int("count", len(all)))
	return nil
}

// CreateNewConversation registers an empty conversation under a fresh ID.
func (s *Store) CreateNewConversation() string {
	s.mu.Lock()
	id := uuid.NewString()
	for s.convs[id] != nil {
		id = uuid.NewString()
	}
	s.seq++
	s.convs[id] = &entry{messages: []llm.Message{}, touched: s.seq}
	evicted := s.evictLocked()
	s.mu.Unlock()

	s.logger.Debug("conversation created", zap.String("conversation_id", id))
	s.afterWrite(id, []llm.Message{}, evicted)
	return id
}

// GetHistory returns a copy of the conversation's messages, or an empty
// slice when id is unknown.
func (s *Store) GetHistory(id string) []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.convs[id]
	if !ok {
		return []llm.Message{}
	}
	return clone(e.messages)
}

// UpdateHistory replaces the stored messages for id with messages.
func (s *Store) UpdateHistory(id string, messages []llm.Message) {
	stored := clone(messages)

	s.mu.Lock()
	s.seq++
	s.convs[id] = &entry{messages: stored, touched: s.seq}
	evicted := s.evictLocked()
	s.mu.Unlock()

	s.afterWrite(id, stored, evicted)
}

// GetAllConversations returns a deep snapshot of every conversation.
func (s *Store) GetAllConversations() map[string][]llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]llm.Message, len(s.convs))
	for id, e := range s.convs {
		out[id] = clone(e.messages)
	}
	return out
}

// Len returns the number of known conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// evictLocked drops least recently updated conversations above the bound.
// Must be called with s.mu held.
func (s *Store) evictLocked() []string {
	if s.maxConversations <= 0 {
		return nil
	}
	var evicted []string
	for len(s.convs) > s.maxConversations {
		var oldestID string
		var oldest uint64
		for id, e := range s.convs {
			if oldestID == "" || e.touched < oldest {
				oldestID, oldest = id, e.touched
			}
		}
		delete(s.convs, oldestID)
		evicted = append(evicted, oldestID)
	}
	return evicted
}

// afterWrite persists and announces a change. Backend failures are logged,
// not returned: the in-memory history stays authoritative.
func (s *Store) afterWrite(id string, messages []llm.Message, evicted []string) {
	if s.backend != nil {
		ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		if err := s.backend.Save(ctx, id, messages); err != nil {
			s.logger.Warn("persist conversation failed",
				zap.String("conversation_id", id),
				zap.Error(err),
			)
		}
		for _, old := range evicted {
			if err := s.backend.Delete(ctx, old); err != nil {
				s.logger.Warn("delete evicted conversation failed",
					zap.String("conversation_id", old),
					zap.Error(err),
				)
			}
		}
		cancel()
	}

	for _, old := range evicted {
		s.logger.Info("conversation evicted", zap.String("conversation_id", old))
	}

	if s.publisher != nil {
		_ = s.publisher.Publish(context.Background(), plugin.Event{
			Topic:     TopicUpdated,
			Source:    "conversation",
			Timestamp: time.Now().UTC(),
			Payload:   &UpdatedEvent{ConversationID: id, Messages: clone(messages)},
		})
	}
}

func clone(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	copy(out, msgs)
	return out
}
