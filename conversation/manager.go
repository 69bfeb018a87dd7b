// Package conversation hosts the per-session aggregate and the manager that
// resolves sessions by id, secret, or persistence token. A send is guarded by
// an atomic busy flag in the store so at most one exchange per conversation is
// ever in flight.
package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/chatforge/errors"
	"github.com/sweetpotato0/chatforge/message"
	"github.com/sweetpotato0/chatforge/personality"
	"github.com/sweetpotato0/chatforge/pkg/logging"
	"github.com/sweetpotato0/chatforge/provider"
	"github.com/sweetpotato0/chatforge/store"
)

// Manager creates and resolves conversations and owns personality dedup.
type Manager struct {
	store     store.Store
	provider  provider.CompletionProvider
	moderator provider.Moderator
	counter   TokenCounter
	budget    int
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithProvider sets the completion backend used by every send.
func WithProvider(p provider.CompletionProvider) Option {
	return func(m *Manager) { m.provider = p }
}

// WithModerator sets the moderation backend. Without one every textual reply
// passes unflagged.
func WithModerator(mod provider.Moderator) Option {
	return func(m *Manager) { m.moderator = mod }
}

// WithTokenCounter sets the token estimator used by the window builder.
func WithTokenCounter(c TokenCounter) Option {
	return func(m *Manager) { m.counter = c }
}

// WithBudget overrides the history token budget.
func WithBudget(budget int) Option {
	return func(m *Manager) { m.budget = budget }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager builds a Manager. A store and a provider are required for any
// useful work; the rest has defaults.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		budget: DefaultTokenBudget,
		// Rough bytes-per-token fallback; real deployments install a
		// tokenizer-backed counter.
		counter: func(text string) int { return len(text)/4 + 1 },
		logger:  logging.WithComponent("conversation"),
		tracer:  otel.Tracer("chatforge/conversation"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Created is the caller-facing result of Create.
type Created struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// Create starts a conversation, or resumes one when a persistence token is
// supplied and the stored personality hash still matches the request. On a
// hash mismatch the stale conversation is deleted so a changed character can
// never silently continue an old session's history.
func (m *Manager) Create(ctx context.Context, p personality.Personality, functions []personality.Function, users []message.User, persistenceToken string) (*Created, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("personality name is required: %w", errors.ErrInvalidInput)
	}
	hash := personality.Hash(p, functions)

	if persistenceToken != "" {
		conv, rec, err := m.store.FindConversationByToken(ctx, persistenceToken)
		switch {
		case err == nil && rec.Hash == hash:
			m.logger.Info("resuming conversation", "conversation", conv.ID, "hash", hash)
			return &Created{ID: conv.ID, Secret: conv.Secret}, nil
		case err == nil:
			m.logger.Info("personality changed, discarding stale conversation", "conversation", conv.ID)
			if err := m.store.DeleteConversation(ctx, conv.ID); err != nil && !errors.Is(err, errors.ErrNotFound) {
				return nil, fmt.Errorf("delete stale conversation: %w", err)
			}
		case !errors.Is(err, errors.ErrNotFound):
			return nil, fmt.Errorf("resolve persistence token: %w", err)
		}
	}

	rec, err := m.getOrCreatePersonality(ctx, p, functions, hash)
	if err != nil {
		return nil, err
	}

	conv := &store.Conversation{
		ID:               uuid.NewString(),
		Secret:           uuid.NewString(),
		PersistenceToken: persistenceToken,
		PersonalityID:    rec.ID,
	}
	if err := m.store.CreateConversation(ctx, conv, users); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if _, err := m.store.AppendMessages(ctx, conv.ID, []store.Message{
		{Role: message.RoleSystem, Content: rec.Prompt},
	}); err != nil {
		return nil, fmt.Errorf("seed system prompt: %w", err)
	}

	m.logger.Info("conversation created", "conversation", conv.ID, "personality", rec.Name, "users", len(users))
	return &Created{ID: conv.ID, Secret: conv.Secret}, nil
}

// getOrCreatePersonality returns the record for a hash, rendering and
// persisting it on first sight. A lost creation race falls back to the
// winner's record.
func (m *Manager) getOrCreatePersonality(ctx context.Context, p personality.Personality, functions []personality.Function, hash string) (*store.Personality, error) {
	rec, err := m.store.FindPersonalityByHash(ctx, hash)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, fmt.Errorf("find personality: %w", err)
	}

	rec = &store.Personality{
		ID:        uuid.NewString(),
		Name:      p.Name,
		Hash:      hash,
		Prompt:    personality.RenderPrompt(p),
		Spec:      p,
		Functions: functions,
	}
	if err := m.store.CreatePersonality(ctx, rec); err != nil {
		if existing, findErr := m.store.FindPersonalityByHash(ctx, hash); findErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create personality: %w", err)
	}
	return rec, nil
}

// GetBySecret resolves a conversation by its capability secret.
func (m *Manager) GetBySecret(ctx context.Context, secret string) (*Conversation, error) {
	rec, err := m.store.FindConversationBySecret(ctx, secret)
	if err != nil {
		return nil, err
	}
	return m.wrap(rec), nil
}

// GetByID resolves a conversation by id. The returned handle deliberately
// omits the secret.
func (m *Manager) GetByID(ctx context.Context, id string) (*Conversation, error) {
	rec, err := m.store.FindConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	c := m.wrap(rec)
	c.Secret = ""
	return c, nil
}

func (m *Manager) wrap(rec *store.Conversation) *Conversation {
	return &Conversation{
		ID:      rec.ID,
		Secret:  rec.Secret,
		manager: m,
	}
}
