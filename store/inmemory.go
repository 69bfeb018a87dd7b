package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/sweetpotato0/chatforge/errors"
	"github.com/sweetpotato0/chatforge/message"
)

// InMemoryStore keeps everything in process memory behind one mutex, which
// makes AcquireBusy a true compare-and-set. Used by tests and local runs.
type InMemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	members       map[string][]message.User
	messages      map[string][]Message
	contexts      map[int64][]message.ContextEntry
	personalities map[string]*Personality
	nextMessageID int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*Conversation),
		members:       make(map[string][]message.User),
		messages:      make(map[string][]Message),
		contexts:      make(map[int64][]message.ContextEntry),
		personalities: make(map[string]*Personality),
	}
}

func (s *InMemoryStore) CreateConversation(_ context.Context, conv *Conversation, users []message.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[conv.ID]; exists {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	cloned := *conv
	s.conversations[conv.ID] = &cloned
	s.members[conv.ID] = append([]message.User(nil), users...)
	return nil
}

func (s *InMemoryStore) FindConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, errors.ErrNotFound)
	}
	cloned := *conv
	return &cloned, nil
}

func (s *InMemoryStore) FindConversationBySecret(_ context.Context, secret string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		if conv.Secret == secret {
			cloned := *conv
			return &cloned, nil
		}
	}
	return nil, fmt.Errorf("conversation by secret: %w", errors.ErrNotFound)
}

func (s *InMemoryStore) FindConversationByToken(_ context.Context, token string) (*Conversation, *Personality, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		if conv.PersistenceToken != "" && conv.PersistenceToken == token {
			cloned := *conv
			rec := s.personalityByIDLocked(conv.PersonalityID)
			if rec == nil {
				return nil, nil, fmt.Errorf("personality %s: %w", conv.PersonalityID, errors.ErrNotFound)
			}
			recCloned := *rec
			return &cloned, &recCloned, nil
		}
	}
	return nil, nil, fmt.Errorf("conversation by token: %w", errors.ErrNotFound)
}

func (s *InMemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("conversation %s: %w", id, errors.ErrNotFound)
	}
	for _, msg := range s.messages[id] {
		delete(s.contexts, msg.ID)
	}
	delete(s.conversations, id)
	delete(s.members, id)
	delete(s.messages, id)
	return nil
}

func (s *InMemoryStore) AcquireBusy(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return false, fmt.Errorf("conversation %s: %w", id, errors.ErrNotFound)
	}
	if conv.Busy {
		return false, nil
	}
	conv.Busy = true
	return true, nil
}

func (s *InMemoryStore) ReleaseBusy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, errors.ErrNotFound)
	}
	conv.Busy = false
	return nil
}

func (s *InMemoryStore) ReplaceMembers(_ context.Context, id string, users []message.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("conversation %s: %w", id, errors.ErrNotFound)
	}
	s.members[id] = append([]message.User(nil), users...)
	return nil
}

func (s *InMemoryStore) AppendMessages(_ context.Context, conversationID string, msgs []Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return 0, fmt.Errorf("conversation %s: %w", conversationID, errors.ErrNotFound)
	}
	var lastID int64
	for _, msg := range msgs {
		s.nextMessageID++
		msg.ID = s.nextMessageID
		msg.ConversationID = conversationID
		s.messages[conversationID] = append(s.messages[conversationID], msg)
		lastID = msg.ID
	}
	return lastID, nil
}

func (s *InMemoryStore) AttachContext(_ context.Context, messageID int64, entries []message.ContextEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, msgs := range s.messages {
		for _, msg := range msgs {
			if msg.ID == messageID {
				found = true
				break
			}
		}
	}
	if !found {
		return fmt.Errorf("message %d: %w", messageID, errors.ErrNotFound)
	}
	s.contexts[messageID] = append(s.contexts[messageID], entries...)
	return nil
}

func (s *InMemoryStore) FindPersonalityByHash(_ context.Context, hash string) (*Personality, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.personalities {
		if rec.Hash == hash {
			cloned := *rec
			return &cloned, nil
		}
	}
	return nil, fmt.Errorf("personality by hash: %w", errors.ErrNotFound)
}

func (s *InMemoryStore) CreatePersonality(_ context.Context, p *Personality) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.personalities[p.ID]; exists {
		return fmt.Errorf("personality %s already exists", p.ID)
	}
	cloned := *p
	s.personalities[p.ID] = &cloned
	return nil
}

func (s *InMemoryStore) LoadView(_ context.Context, conversationID string) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, errors.ErrNotFound)
	}
	rec := s.personalityByIDLocked(conv.PersonalityID)
	if rec == nil {
		return nil, fmt.Errorf("personality %s: %w", conv.PersonalityID, errors.ErrNotFound)
	}
	view := &View{
		Conversation: *conv,
		Users:        append([]message.User(nil), s.members[conversationID]...),
		Messages:     append([]Message(nil), s.messages[conversationID]...),
		Personality:  *rec,
	}
	return view, nil
}

// Messages returns the persisted messages for a conversation; test helper.
func (s *InMemoryStore) Messages(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages[conversationID]...)
}

// ContextEntries returns the entries attached to a message; test helper.
func (s *InMemoryStore) ContextEntries(messageID int64) []message.ContextEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.ContextEntry(nil), s.contexts[messageID]...)
}

func (s *InMemoryStore) personalityByIDLocked(id string) *Personality {
	for _, rec := range s.personalities {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}
