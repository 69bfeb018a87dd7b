package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sweetpotato0/chatforge/errors"
	"github.com/sweetpotato0/chatforge/message"
	"github.com/sweetpotato0/chatforge/personality"
	"github.com/sweetpotato0/chatforge/provider"
	"github.com/sweetpotato0/chatforge/store"
)

type stubProvider struct {
	complete func(ctx context.Context, req *provider.Request) (*provider.Response, error)
	requests []*provider.Request
}

func (s *stubProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	s.requests = append(s.requests, req)
	return s.complete(ctx, req)
}

type stubModerator struct {
	flagged bool
	calls   int
}

func (s *stubModerator) Moderate(context.Context, string) (bool, error) {
	s.calls++
	return s.flagged, nil
}

func testSetup(t *testing.T, p provider.CompletionProvider, mod provider.Moderator) (*Manager, *store.InMemoryStore, *Conversation) {
	t.Helper()
	st := store.NewInMemoryStore()
	m := NewManager(WithStore(st), WithProvider(p), WithModerator(mod))

	created, err := m.Create(context.Background(), personality.Personality{Name: "Greeter"}, nil,
		[]message.User{{ID: "u1", Name: "Alice"}, {ID: "u2", Name: "Bob"}}, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	conv, err := m.GetBySecret(context.Background(), created.Secret)
	if err != nil {
		t.Fatalf("GetBySecret: %v", err)
	}
	return m, st, conv
}

func TestSendHappyPath(t *testing.T) {
	stub := &stubProvider{complete: func(context.Context, *provider.Request) (*provider.Response, error) {
		return &provider.Response{Content: "hi\n"}, nil
	}}
	mod := &stubModerator{}
	_, st, conv := testSetup(t, stub, mod)

	entries := []message.ContextEntry{{Key: "location", Value: "tavern"}}
	resp, err := conv.Send(context.Background(), "hello", entries, "u1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Flagged || resp.Content != "hi" {
		t.Errorf("response = %+v, want unflagged content %q", resp, "hi")
	}

	msgs := st.Messages(conv.ID)
	if len(msgs) != 4 {
		t.Fatalf("persisted %d messages, want 4 (seed system, context, user, assistant)", len(msgs))
	}
	if msgs[1].Role != message.RoleSystem || msgs[2].Role != message.RoleUser || msgs[3].Role != message.RoleAssistant {
		t.Errorf("turn roles = %s, %s, %s", msgs[1].Role, msgs[2].Role, msgs[3].Role)
	}
	if msgs[2].Content != "hello" || msgs[2].SenderID != "u1" {
		t.Errorf("user message = %+v", msgs[2])
	}
	if msgs[3].Content != "hi" {
		t.Errorf("assistant content = %q, want trailing newline stripped", msgs[3].Content)
	}
	if got := st.ContextEntries(msgs[3].ID); len(got) != 1 || got[0].Key != "location" {
		t.Errorf("context entries on last message = %v", got)
	}
	if mod.calls != 1 {
		t.Errorf("moderator called %d times, want 1", mod.calls)
	}
	if conv2, err := st.FindConversation(context.Background(), conv.ID); err != nil || conv2.Busy {
		t.Errorf("busy flag not released: %+v, %v", conv2, err)
	}
}

func TestSendWhileBusy(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	stub := &stubProvider{complete: func(ctx context.Context, _ *provider.Request) (*provider.Response, error) {
		close(entered)
		<-release
		return &provider.Response{Content: "slow"}, nil
	}}
	_, st, conv := testSetup(t, stub, nil)

	done := make(chan error, 1)
	go func() {
		_, err := conv.Send(context.Background(), "first", nil, "u1")
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first send never reached the provider")
	}

	before := len(st.Messages(conv.ID))
	if _, err := conv.Send(context.Background(), "second", nil, "u2"); !errors.Is(err, errors.ErrConversationBusy) {
		t.Errorf("concurrent send error = %v, want ErrConversationBusy", err)
	}
	if after := len(st.Messages(conv.ID)); after != before {
		t.Errorf("busy send mutated history: %d -> %d messages", before, after)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first send: %v", err)
	}
}

func TestSendToolCallSkipsModeration(t *testing.T) {
	stub := &stubProvider{complete: func(context.Context, *provider.Request) (*provider.Response, error) {
		return &provider.Response{Calls: []provider.Call{{Name: "greet", Parameters: map[string]any{"who": "A"}}}}, nil
	}}
	mod := &stubModerator{flagged: true}
	_, st, conv := testSetup(t, stub, mod)

	resp, err := conv.Send(context.Background(), "wave at A", nil, "u1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Content != "" || resp.Flagged {
		t.Errorf("tool-call response = %+v, want empty unflagged content", resp)
	}
	if len(resp.Calls) != 1 || resp.Calls[0].Name != "greet" || resp.Calls[0].Parameters["who"] != "A" {
		t.Errorf("calls = %+v", resp.Calls)
	}
	if mod.calls != 0 {
		t.Errorf("moderator invoked %d times on a tool-only turn", mod.calls)
	}

	msgs := st.Messages(conv.ID)
	if got := msgs[len(msgs)-1].Content; got != actionPlaceholder {
		t.Errorf("assistant placeholder = %q", got)
	}
}

func TestSendFlaggedContent(t *testing.T) {
	stub := &stubProvider{complete: func(context.Context, *provider.Request) (*provider.Response, error) {
		return &provider.Response{Content: "something rude"}, nil
	}}
	mod := &stubModerator{flagged: true}
	_, st, conv := testSetup(t, stub, mod)

	resp, err := conv.Send(context.Background(), "hello", nil, "u1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.Flagged || resp.Content != "" {
		t.Errorf("response = %+v, want flagged with empty content", resp)
	}
	msgs := st.Messages(conv.ID)
	if got := msgs[len(msgs)-1].Content; got != "" {
		t.Errorf("persisted assistant content = %q, want empty", got)
	}
}

func TestSendUnknownUserCancelled(t *testing.T) {
	stub := &stubProvider{complete: func(context.Context, *provider.Request) (*provider.Response, error) {
		return &provider.Response{Content: "should not happen"}, nil
	}}
	_, st, conv := testSetup(t, stub, nil)

	before := len(st.Messages(conv.ID))
	resp, err := conv.Send(context.Background(), "hello", nil, "stranger")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.Cancelled || resp.Content != "" {
		t.Errorf("response = %+v, want cancelled", resp)
	}
	if len(stub.requests) != 0 {
		t.Errorf("provider invoked for a non-member sender")
	}
	if after := len(st.Messages(conv.ID)); after != before {
		t.Errorf("cancelled send persisted messages: %d -> %d", before, after)
	}
}

func TestSendDeletedConversationCancelled(t *testing.T) {
	stub := &stubProvider{complete: func(context.Context, *provider.Request) (*provider.Response, error) {
		return &provider.Response{Content: "hi"}, nil
	}}
	_, _, conv := testSetup(t, stub, nil)

	if err := conv.Finish(context.Background()); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	resp, err := conv.Send(context.Background(), "hello", nil, "u1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.Cancelled {
		t.Errorf("response = %+v, want cancelled after delete", resp)
	}
}

// contextLostStore simulates a conversation whose messages were cascaded away
// between the turn insert and the context insert.
type contextLostStore struct {
	*store.InMemoryStore
}

func (s *contextLostStore) AttachContext(_ context.Context, messageID int64, _ []message.ContextEntry) error {
	return fmt.Errorf("message %d: %w", messageID, errors.ErrNotFound)
}

func TestSendContextRaceCancelled(t *testing.T) {
	stub := &stubProvider{complete: func(context.Context, *provider.Request) (*provider.Response, error) {
		return &provider.Response{Content: "hi"}, nil
	}}
	st := &contextLostStore{InMemoryStore: store.NewInMemoryStore()}
	m := NewManager(WithStore(st), WithProvider(stub))

	created, err := m.Create(context.Background(), personality.Personality{Name: "Greeter"}, nil,
		[]message.User{{ID: "u1", Name: "Alice"}}, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	conv, err := m.GetBySecret(context.Background(), created.Secret)
	if err != nil {
		t.Fatalf("GetBySecret: %v", err)
	}

	entries := []message.ContextEntry{{Key: "location", Value: "tavern"}}
	resp, err := conv.Send(context.Background(), "hello", entries, "u1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.Cancelled {
		t.Errorf("response = %+v, want cancelled when the context insert loses its message", resp)
	}
}

func TestUpdateAndFinishTolerateMissing(t *testing.T) {
	stub := &stubProvider{complete: func(context.Context, *provider.Request) (*provider.Response, error) {
		return &provider.Response{Content: "hi"}, nil
	}}
	_, _, conv := testSetup(t, stub, nil)

	if err := conv.Update(context.Background(), []message.User{{ID: "u3", Name: "Carol"}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := conv.Finish(context.Background()); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	// Both are no-ops once the conversation is gone.
	if err := conv.Update(context.Background(), nil); err != nil {
		t.Errorf("Update after finish: %v", err)
	}
	if err := conv.Finish(context.Background()); err != nil {
		t.Errorf("second Finish: %v", err)
	}
}

func TestSendRequestMeta(t *testing.T) {
	stub := &stubProvider{complete: func(_ context.Context, req *provider.Request) (*provider.Response, error) {
		return &provider.Response{Content: "hi"}, nil
	}}
	_, _, conv := testSetup(t, stub, nil)

	if _, err := conv.Send(context.Background(), "hello", nil, "u2"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(stub.requests) != 1 {
		t.Fatalf("provider called %d times", len(stub.requests))
	}
	meta := stub.requests[0].Meta
	if meta.AgentName != "Greeter" || meta.UserID != "u2" || meta.UserName != "Bob" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.AgentID == "" || meta.RoomID != conv.ID {
		t.Errorf("meta identifiers = %+v", meta)
	}
}
