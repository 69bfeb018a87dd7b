package conversation

import (
	"fmt"
	"strings"

	"github.com/sweetpotato0/chatforge/message"
	"github.com/sweetpotato0/chatforge/store"
)

// TokenCounter estimates the token cost of a piece of text.
type TokenCounter func(text string) int

// DefaultTokenBudget bounds the admitted history portion of a window.
const DefaultTokenBudget = 10000

// errUnknownSender reports a sender id with no matching member. Callers treat
// it as a cancelled turn, not a failure.
var errUnknownSender = fmt.Errorf("sender is not a conversation member")

// buildWindow assembles the provider message list for one turn.
//
// The leading system prompt is always kept and costs nothing against the
// budget. History after it is walked oldest to newest and admission stops at
// the first message that would push the running total past the budget;
// admitted messages are never evicted afterwards. The synthesized context
// message and the new user message are appended outside the budget so recency
// and situational grounding survive any truncation.
func buildWindow(view *store.View, content string, entries []message.ContextEntry, senderID string, budget int, count TokenCounter) ([]message.Message, error) {
	sender, ok := memberByID(view.Users, senderID)
	if !ok {
		return nil, errUnknownSender
	}
	if budget <= 0 {
		budget = DefaultTokenBudget
	}

	window := make([]message.Message, 0, len(view.Messages)+2)
	history := view.Messages
	if len(history) > 0 {
		window = append(window, message.New(history[0].Role, history[0].Content))
		history = history[1:]
	}

	total := 0
	for _, msg := range history {
		cost := count(msg.Content)
		if total+cost > budget {
			break
		}
		total += cost
		window = append(window, message.Message{Role: msg.Role, Content: msg.Content, SenderID: msg.SenderID})
	}

	window = append(window, buildContextMessage(view.Users, sender, entries))
	window = append(window, message.NewFromUser(content, senderID))
	return window, nil
}

// buildContextMessage renders the situational system message that precedes
// every new user turn.
func buildContextMessage(users []message.User, sender message.User, entries []message.ContextEntry) message.Message {
	names := make([]string, len(users))
	for i, user := range users {
		names[i] = user.Name
	}

	var b strings.Builder
	b.WriteString("## Context\n")
	b.WriteString("Users in this conversation: ")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString("\n")
	b.WriteString("The message you are replying to was sent by ")
	b.WriteString(sender.Name)
	b.WriteString(".")
	for _, entry := range entries {
		b.WriteString("\n")
		b.WriteString(entry.Key)
		b.WriteString(": ")
		b.WriteString(entry.Value)
	}
	return message.New(message.RoleSystem, b.String())
}

func memberByID(users []message.User, id string) (message.User, bool) {
	for _, user := range users {
		if user.ID == id {
			return user, true
		}
	}
	return message.User{}, false
}
