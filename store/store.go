// Package store defines the persistence contract for conversations and the
// records that cross it. Two implementations ship: Postgres for production
// and an in-memory store for tests.
package store

import (
	"context"

	"github.com/sweetpotato0/chatforge/message"
	"github.com/sweetpotato0/chatforge/personality"
)

// Conversation is the persisted conversation row. Secret is a capability
// token distinct from the id and is never returned by id-based lookups made
// on behalf of untrusted callers.
type Conversation struct {
	ID               string
	Secret           string
	PersistenceToken string
	Busy             bool
	PersonalityID    string
}

// Personality is the persisted character record, created once per distinct
// hash and never mutated afterwards.
type Personality struct {
	ID        string
	Name      string
	Hash      string
	Prompt    string
	Spec      personality.Personality
	Functions []personality.Function
}

// Message is a persisted conversation message, ordered by ID.
type Message struct {
	ID             int64
	ConversationID string
	Role           message.Role
	Content        string
	SenderID       string
}

// View is the full conversation read model used by send orchestration.
type View struct {
	Conversation Conversation
	Users        []message.User
	Messages     []Message
	Personality  Personality
}

// Store is the persistence boundary. Deleting a conversation cascades to its
// messages and context entries; no other multi-record invariants exist.
type Store interface {
	CreateConversation(ctx context.Context, conv *Conversation, users []message.User) error
	FindConversation(ctx context.Context, id string) (*Conversation, error)
	FindConversationBySecret(ctx context.Context, secret string) (*Conversation, error)
	// FindConversationByToken also loads the personality so callers can
	// compare hashes before resuming.
	FindConversationByToken(ctx context.Context, token string) (*Conversation, *Personality, error)
	DeleteConversation(ctx context.Context, id string) error

	// AcquireBusy atomically flips busy from false to true. It returns false
	// without error when the flag was already set. A missing conversation is
	// errors.ErrNotFound.
	AcquireBusy(ctx context.Context, id string) (bool, error)
	ReleaseBusy(ctx context.Context, id string) error

	// ReplaceMembers swaps the member list, upserting users by id.
	ReplaceMembers(ctx context.Context, id string, users []message.User) error

	// AppendMessages persists messages in order and returns the id of the
	// last one so context entries can attach to it.
	AppendMessages(ctx context.Context, conversationID string, msgs []Message) (int64, error)
	AttachContext(ctx context.Context, messageID int64, entries []message.ContextEntry) error

	FindPersonalityByHash(ctx context.Context, hash string) (*Personality, error)
	CreatePersonality(ctx context.Context, p *Personality) error

	LoadView(ctx context.Context, conversationID string) (*View, error)
}
