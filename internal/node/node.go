// Package node implements the Groq chat-completion graph node: it resolves
// the system message, keeps per-conversation history, and delegates the
// network round trip to an llm.Completer.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mnemic/groqnode/internal/conversation"
	"github.com/mnemic/groqnode/internal/groq"
	"github.com/mnemic/groqnode/internal/preset"
	"github.com/mnemic/groqnode/internal/store"
	"github.com/mnemic/groqnode/internal/version"
	"github.com/mnemic/groqnode/pkg/llm"
	"github.com/mnemic/groqnode/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
)

// Option overrides a collaborator the module would otherwise build in Init.
type Option func(*Module)

// WithCompleter injects the completion backend.
func WithCompleter(c llm.Completer) Option {
	return func(m *Module) { m.completer = c }
}

// WithStore injects the conversation store.
func WithStore(s *conversation.Store) Option {
	return func(m *Module) { m.store = s }
}

// WithPresets injects the preset catalog.
func WithPresets(c *preset.Catalog) Option {
	return func(m *Module) { m.presets = c }
}

// Module is the Groq completion node.
type Module struct {
	logger    *zap.Logger
	cfg       Config
	completer llm.Completer
	store     *conversation.Store
	presets   *preset.Catalog
	db        *store.SQLite // Non-nil only when Init opened it.
}

// New creates a node. Collaborators not injected are built in Init.
func New(opts ...Option) *Module {
	m := &Module{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "groq",
		Version:     "1.0.0",
		Description: "Uses Groq API to generate text from language models with conversation context.",
		Category:    "MNeMiC Nodes",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return &ConfigError{Field: "node", Err: fmt.Errorf("unmarshal: %w", err)}
		}
	}

	if err := m.cfg.Validate(); err != nil {
		return err
	}

	if m.completer == nil {
		if err := m.cfg.validateCredentials(); err != nil {
			return err
		}
		requester, err := groq.New(m.cfg.Config, m.logger.Named("requester"))
		if err != nil {
			return &ConfigError{Field: "api_key", Err: err}
		}
		m.completer = requester
	}

	if m.presets == nil {
		catalog, err := preset.Load(m.logger, m.cfg.PresetFiles...)
		if err != nil {
			return &ConfigError{Field: "preset_files", Err: err}
		}
		m.presets = catalog
	}

	if m.store == nil {
		s, err := m.newStore(ctx, deps.Bus)
		if err != nil {
			return err
		}
		m.store = s
	}

	m.logger.Info("groq node initialized",
		zap.String("base_url", m.cfg.BaseURL),
		zap.Int("presets", len(m.presets.Names())-1),
		zap.Bool("persistence", m.db != nil),
		zap.Int("conversations", m.store.Len()),
	)
	return nil
}

// newStore builds the conversation store, hydrating it from SQLite when
// persistence is enabled.
func (m *Module) newStore(ctx context.Context, bus plugin.EventBus) (*conversation.Store, error) {
	opts := []conversation.Option{conversation.WithMaxConversations(m.cfg.MaxConversations)}
	if bus != nil {
		opts = append(opts, conversation.WithPublisher(bus))
	}

	if !m.cfg.Persistence.Enabled {
		return conversation.NewStore(m.logger.Named("conversation"), opts...), nil
	}

	db, err := store.Open(m.cfg.Persistence.Path)
	if err != nil {
		return nil, &ConfigError{Field: "persistence.path", Err: err}
	}
	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		db.Close()
		return nil, &ConfigError{Field: "persistence.path", Err: err}
	}
	backend, err := conversation.NewSQLiteBackend(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create conversation backend: %w", err)
	}
	s := conversation.NewStore(m.logger.Named("conversation"), append(opts, conversation.WithBackend(backend))...)
	if err := s.Restore(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("restore conversations: %w", err)
	}
	m.db = db
	return s, nil
}

func (m *Module) Start(ctx context.Context) error {
	hr, ok := m.completer.(llm.HealthReporter)
	if !ok {
		return nil
	}

	models, err := hr.ListModels(ctx)
	if err != nil {
		m.logger.Warn("groq endpoint not reachable; completions will fail until it is",
			zap.Error(err),
		)
		return nil
	}

	m.logger.Info("groq endpoint connected", zap.Strings("models", models))
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			return fmt.Errorf("close conversation database: %w", err)
		}
		m.db = nil
	}
	m.logger.Info("groq node stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	hr, ok := m.completer.(llm.HealthReporter)
	if !ok {
		return plugin.HealthStatus{Status: "healthy", Message: "no health reporter"}
	}
	if err := hr.Heartbeat(ctx); err != nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: err.Error()}
	}
	return plugin.HealthStatus{Status: "healthy"}
}

// Store returns the node's conversation store.
func (m *Module) Store() *conversation.Store {
	return m.store
}

// Presets returns the node's preset catalog.
func (m *Module) Presets() *preset.Catalog {
	return m.presets
}

// ErrInvalidInput wraps input validation failures returned by Process.
var ErrInvalidInput = errors.New("invalid input")

// Process runs one completion turn. Request failures are reported in
// Outputs; only invalid inputs return an error.
//
// The user turn is stored before the request is sent so it survives a
// failure. Re-running after a failure with the same user input re-sends
// that stored turn instead of appending a duplicate.
func (m *Module) Process(ctx context.Context, in Inputs) (Outputs, error) {
	if err := in.Validate(); err != nil {
		return Outputs{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	systemMessage, err := m.presets.Resolve(in.Preset, in.SystemMessage)
	if err != nil {
		return Outputs{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	id := in.ConversationID
	if id == "" {
		id = m.store.CreateNewConversation()
	}

	history := m.store.GetHistory(id)
	if len(history) == 0 {
		history = append(history, llm.Message{Role: llm.RoleSystem, Content: systemMessage})
	}
	if last := history[len(history)-1]; last.Role != llm.RoleUser || last.Content != in.UserInput {
		history = append(history, llm.Message{Role: llm.RoleUser, Content: in.UserInput})
	}
	m.store.UpdateHistory(id, history)

	res := m.completer.Send(ctx, llm.Request{
		Model:       in.Model,
		Messages:    history,
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
		TopP:        in.TopP,
		Seed:        in.Seed,
		Stop:        in.Stop,
		JSONMode:    in.JSONMode,
		MaxRetries:  in.MaxRetries,
	})

	if res.Success {
		history = append(history, llm.Message{Role: llm.RoleAssistant, Content: res.Text})
		m.store.UpdateHistory(id, history)
	}

	m.logger.Info("completion processed",
		zap.String("conversation_id", id),
		zap.String("model", in.Model),
		zap.Bool("success", res.Success),
		zap.String("status_code", res.StatusCode),
		zap.Int("attempts", res.Attempts),
		zap.Int("turns", len(history)),
	)

	return Outputs{
		APIResponse:    res.Text,
		Success:        res.Success,
		StatusCode:     res.StatusCode,
		ConversationID: id,
		ChatHistory:    m.ChatHistory(),
	}, nil
}

// ChatHistory serializes every conversation as indented JSON for display.
func (m *Module) ChatHistory() string {
	data, err := json.MarshalIndent(m.store.GetAllConversations(), "", "  ")
	if err != nil {
		m.logger.Error("serialize chat history", zap.Error(err))
		return "{}"
	}
	return string(data)
}
