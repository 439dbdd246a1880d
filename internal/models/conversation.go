package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse is always well formed. Audio is nil when synthesis was
// skipped or failed, which encodes as JSON null.
type ChatResponse struct {
	Reply          string  `json:"reply"`
	Audio          *string `json:"audio"`
	ConversationID string  `json:"conversation_id,omitempty"`
}
