package conversation

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sweetpotato0/chatforge/errors"
	"github.com/sweetpotato0/chatforge/message"
	"github.com/sweetpotato0/chatforge/pkg/telemetry"
	"github.com/sweetpotato0/chatforge/provider"
	"github.com/sweetpotato0/chatforge/store"
)

// actionPlaceholder stands in for assistant turns that produced only tool
// calls, keeping the persisted history's turn shape intact.
const actionPlaceholder = "This action was handled via functions."

// Conversation is a resolved session handle. All state lives in the store;
// the handle only carries identity and the manager's collaborators.
type Conversation struct {
	ID     string
	Secret string

	manager *Manager
}

// Send runs one exchange. The busy flag is acquired with a compare-and-set
// before any other work and released in a deferred step when the record still
// exists, so concurrent callers either proceed alone or get
// errors.ErrConversationBusy with no side effects. A conversation deleted
// mid-flight and a sender who is not a member both yield a cancelled response
// instead of an error.
func (c *Conversation) Send(ctx context.Context, content string, entries []message.ContextEntry, userID string) (_ *provider.Response, err error) {
	m := c.manager
	ctx, span := m.tracer.Start(ctx, "conversation.send")
	span.SetAttributes(attribute.String("conversation.id", c.ID))
	defer func() { telemetry.End(span, err) }()

	acquired, err := m.store.AcquireBusy(ctx, c.ID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return provider.Cancelled(), nil
		}
		return nil, fmt.Errorf("acquire busy: %w", err)
	}
	if !acquired {
		return nil, errors.ErrConversationBusy
	}
	defer func() {
		if releaseErr := m.store.ReleaseBusy(context.WithoutCancel(ctx), c.ID); releaseErr != nil && !errors.Is(releaseErr, errors.ErrNotFound) {
			m.logger.Error("failed to release busy flag", "conversation", c.ID, "error", releaseErr)
		}
	}()

	view, err := m.store.LoadView(ctx, c.ID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return provider.Cancelled(), nil
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	window, err := buildWindow(view, content, entries, userID, m.budget, m.counter)
	if err != nil {
		// Unknown sender. Never leak a reply to a non-member.
		m.logger.Warn("sender is not a member", "conversation", c.ID, "user", userID)
		return provider.Cancelled(), nil
	}

	resp, err := c.complete(ctx, view, window, userID)
	if err != nil {
		return nil, err
	}
	if resp.Cancelled {
		return resp, nil
	}
	resp.Content = strings.TrimRight(resp.Content, "\n")

	if len(resp.Calls) == 0 && resp.Content != "" && m.moderator != nil {
		flagged, modErr := m.moderator.Moderate(ctx, content+"\n"+resp.Content)
		if modErr != nil {
			return nil, fmt.Errorf("moderation: %w", modErr)
		}
		if flagged {
			resp.Flagged = true
			resp.Content = ""
		}
	}

	assistantContent := resp.Content
	if len(resp.Calls) > 0 && assistantContent == "" {
		assistantContent = actionPlaceholder
	}
	contextMessage := window[len(window)-2]

	lastID, err := m.store.AppendMessages(ctx, c.ID, []store.Message{
		{Role: message.RoleSystem, Content: contextMessage.Content},
		{Role: message.RoleUser, Content: content, SenderID: userID},
		{Role: message.RoleAssistant, Content: assistantContent},
	})
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			// Finished mid-flight; discard the turn.
			m.logger.Info("conversation deleted mid-send", "conversation", c.ID)
			return provider.Cancelled(), nil
		}
		return nil, fmt.Errorf("persist turn: %w", err)
	}
	if len(entries) > 0 {
		if err := m.store.AttachContext(ctx, lastID, entries); err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				// Same race as above, caught one step later.
				m.logger.Info("conversation deleted mid-send", "conversation", c.ID)
				return provider.Cancelled(), nil
			}
			return nil, fmt.Errorf("persist context entries: %w", err)
		}
	}
	return resp, nil
}

func (c *Conversation) complete(ctx context.Context, view *store.View, window []message.Message, userID string) (_ *provider.Response, err error) {
	m := c.manager
	ctx, span := m.tracer.Start(ctx, "provider.complete")
	defer func() { telemetry.End(span, err) }()

	sender, _ := memberByID(view.Users, userID)
	roomID := view.Conversation.PersistenceToken
	if roomID == "" {
		roomID = view.Conversation.ID
	}
	req := &provider.Request{
		Messages: window,
		Tools:    view.Personality.Functions,
		Meta: provider.Meta{
			AgentID:   view.Personality.Hash,
			AgentName: view.Personality.Name,
			RoomID:    roomID,
			UserID:    userID,
			UserName:  sender.Name,
		},
	}
	resp, err := m.provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	if resp == nil {
		return nil, errors.ErrNoProviderResponse
	}
	return resp, nil
}

// Update replaces the member list. A conversation that finished mid-request
// makes this a logged no-op rather than a failure.
func (c *Conversation) Update(ctx context.Context, users []message.User) error {
	err := c.manager.store.ReplaceMembers(ctx, c.ID, users)
	if err != nil && errors.Is(err, errors.ErrNotFound) {
		c.manager.logger.Info("membership update raced a finish", "conversation", c.ID)
		return nil
	}
	return err
}

// Finish deletes the conversation and, through the store, its messages and
// context entries. Idempotent.
func (c *Conversation) Finish(ctx context.Context) error {
	err := c.manager.store.DeleteConversation(ctx, c.ID)
	if err != nil && errors.Is(err, errors.ErrNotFound) {
		return nil
	}
	return err
}
