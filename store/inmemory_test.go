package store

import (
	"context"
	"sync"
	"testing"

	"github.com/sweetpotato0/chatforge/errors"
	"github.com/sweetpotato0/chatforge/message"
)

func seedConversation(t *testing.T, s *InMemoryStore) *Conversation {
	t.Helper()
	rec := &Personality{ID: "p1", Name: "Greeter", Hash: "hash-1", Prompt: "You are Greeter."}
	if err := s.CreatePersonality(context.Background(), rec); err != nil {
		t.Fatalf("CreatePersonality: %v", err)
	}
	conv := &Conversation{ID: "c1", Secret: "s1", PersonalityID: "p1"}
	users := []message.User{{ID: "u1", Name: "Alice"}}
	if err := s.CreateConversation(context.Background(), conv, users); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return conv
}

func TestAcquireBusyIsExclusive(t *testing.T) {
	s := NewInMemoryStore()
	conv := seedConversation(t, s)
	ctx := context.Background()

	ok, err := s.AcquireBusy(ctx, conv.ID)
	if err != nil || !ok {
		t.Fatalf("first acquire = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = s.AcquireBusy(ctx, conv.ID)
	if err != nil || ok {
		t.Fatalf("second acquire = (%v, %v), want (false, nil)", ok, err)
	}
	if err := s.ReleaseBusy(ctx, conv.ID); err != nil {
		t.Fatalf("ReleaseBusy: %v", err)
	}
	ok, err = s.AcquireBusy(ctx, conv.ID)
	if err != nil || !ok {
		t.Fatalf("acquire after release = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestAcquireBusyConcurrent(t *testing.T) {
	s := NewInMemoryStore()
	conv := seedConversation(t, s)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.AcquireBusy(ctx, conv.ID)
			if err != nil {
				t.Errorf("AcquireBusy: %v", err)
				return
			}
			if ok {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if acquired != 1 {
		t.Errorf("acquired = %d, want exactly 1", acquired)
	}
}

func TestAcquireBusyMissingConversation(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.AcquireBusy(context.Background(), "nope"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("AcquireBusy on missing conversation: got %v, want ErrNotFound", err)
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	s := NewInMemoryStore()
	conv := seedConversation(t, s)
	ctx := context.Background()

	lastID, err := s.AppendMessages(ctx, conv.ID, []Message{
		{Role: message.RoleUser, Content: "hello", SenderID: "u1"},
		{Role: message.RoleAssistant, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	if err := s.AttachContext(ctx, lastID, []message.ContextEntry{{Key: "mood", Value: "sunny"}}); err != nil {
		t.Fatalf("AttachContext: %v", err)
	}

	if err := s.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := s.FindConversation(ctx, conv.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("FindConversation after delete: got %v, want ErrNotFound", err)
	}
	if got := s.Messages(conv.ID); len(got) != 0 {
		t.Errorf("messages survived delete: %v", got)
	}
	if got := s.ContextEntries(lastID); len(got) != 0 {
		t.Errorf("context entries survived delete: %v", got)
	}
}

func TestAttachContextMissingMessage(t *testing.T) {
	s := NewInMemoryStore()
	conv := seedConversation(t, s)
	ctx := context.Background()

	entries := []message.ContextEntry{{Key: "mood", Value: "sunny"}}
	if err := s.AttachContext(ctx, 42, entries); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("AttachContext on unknown message: got %v, want ErrNotFound", err)
	}

	lastID, err := s.AppendMessages(ctx, conv.ID, []Message{
		{Role: message.RoleAssistant, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	if err := s.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if err := s.AttachContext(ctx, lastID, entries); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("AttachContext after delete: got %v, want ErrNotFound", err)
	}
	if got := s.ContextEntries(lastID); len(got) != 0 {
		t.Errorf("entries recorded for a deleted message: %v", got)
	}
}

func TestFindConversationByToken(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	rec := &Personality{ID: "p1", Name: "Greeter", Hash: "hash-1"}
	if err := s.CreatePersonality(ctx, rec); err != nil {
		t.Fatalf("CreatePersonality: %v", err)
	}
	conv := &Conversation{ID: "c1", Secret: "s1", PersistenceToken: "tok-1", PersonalityID: "p1"}
	if err := s.CreateConversation(ctx, conv, nil); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	got, gotRec, err := s.FindConversationByToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("FindConversationByToken: %v", err)
	}
	if got.ID != "c1" || gotRec.Hash != "hash-1" {
		t.Errorf("got conversation %s personality hash %s", got.ID, gotRec.Hash)
	}

	if _, _, err := s.FindConversationByToken(ctx, ""); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("empty token should not match: got %v", err)
	}
}

func TestLoadView(t *testing.T) {
	s := NewInMemoryStore()
	conv := seedConversation(t, s)
	ctx := context.Background()

	if _, err := s.AppendMessages(ctx, conv.ID, []Message{
		{Role: message.RoleSystem, Content: "prompt"},
		{Role: message.RoleUser, Content: "hello", SenderID: "u1"},
	}); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	view, err := s.LoadView(ctx, conv.ID)
	if err != nil {
		t.Fatalf("LoadView: %v", err)
	}
	if view.Personality.Name != "Greeter" {
		t.Errorf("personality = %q", view.Personality.Name)
	}
	if len(view.Users) != 1 || view.Users[0].Name != "Alice" {
		t.Errorf("users = %v", view.Users)
	}
	if len(view.Messages) != 2 || view.Messages[0].Role != message.RoleSystem {
		t.Errorf("messages = %v", view.Messages)
	}
	if view.Messages[0].ID >= view.Messages[1].ID {
		t.Errorf("message ids not increasing: %d, %d", view.Messages[0].ID, view.Messages[1].ID)
	}
}
