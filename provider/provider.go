// Package provider defines the contract every completion backend is
// normalized to. Adapters live under contrib/provider and the stateful agent
// runtime under agent; all of them produce the same Response shape so the
// conversation layer never branches on the backend.
package provider

import (
	"context"

	"github.com/sweetpotato0/chatforge/message"
	"github.com/sweetpotato0/chatforge/personality"
)

// Meta carries caller identity for backends that keep their own state.
type Meta struct {
	// AgentID is the personality hash; stateful runtimes are keyed by it.
	AgentID   string
	AgentName string
	// RoomID scopes runtime memory; the persistence token when set,
	// otherwise the conversation id.
	RoomID   string
	UserID   string
	UserName string
}

// Request is the common request contract: ordered role-tagged messages, the
// declarative tool list, and caller identity. System handling is adapter
// business: stateless backends send system turns inline, system-merging
// backends extract and concatenate them, stateful runtimes receive only the
// trailing user message plus the preceding context hint.
type Request struct {
	Messages []message.Message
	Tools    []personality.Function
	Meta     Meta
}

// Call is one structured tool invocation produced by a backend. Execution of
// the associated callback is the caller's responsibility.
type Call struct {
	Name       string         `json:"name"`
	Message    string         `json:"message,omitempty"`
	Parameters map[string]any `json:"parameters"`
}

// Response is the common response contract.
type Response struct {
	Content   string `json:"content"`
	Flagged   bool   `json:"flagged"`
	Calls     []Call `json:"calls,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// CompletionProvider produces a completion for a request. Implementations
// must return errors.ErrNoProviderResponse (wrapped or bare) when the backend
// yields no usable result.
type CompletionProvider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Moderator screens text for disallowed content. Backends without a
// moderation capability simply don't implement this; the caller treats a
// missing moderator as the neutral unflagged default.
type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

// Cancelled is the empty non-flagged result returned when a conversation
// vanished mid-flight or the requester is not a member.
func Cancelled() *Response {
	return &Response{Cancelled: true}
}
