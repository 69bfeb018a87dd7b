package message

import "time"

// Role represents the role of the message sender
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a conversation. The first message of
// every conversation is the rendered personality system prompt.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// New creates a message with the given role and content.
func New(role Role, content string) Message {
	return Message{Role: role, Content: content, CreatedAt: time.Now()}
}

// NewFromUser creates a user message tagged with the sending user's id.
func NewFromUser(content, senderID string) Message {
	return Message{Role: RoleUser, Content: content, SenderID: senderID, CreatedAt: time.Now()}
}

// User is a conversation participant. Membership is many-to-many with
// conversations and upserts by id; the name may be refreshed on update.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ContextEntry is an arbitrary situational key/value pair supplied by the
// caller alongside a sent message. Entries attach to the last message of the
// turn they arrived with.
type ContextEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
