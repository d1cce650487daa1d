package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// MessageStatus is the delivery state of a message in the session log.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusError   MessageStatus = "error"
)

// Terminal reports whether the status can no longer change.
func (s MessageStatus) Terminal() bool {
	return s == StatusSent || s == StatusError
}

// Message represents a conversation message.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Role           Role          `json:"role"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
	Status         MessageStatus `json:"status,omitempty"`

	// Model is set on assistant replies when the provider reports it.
	Model string `json:"model,omitempty"`

	// Sequence is the JetStream sequence, populated on read.
	Sequence uint64 `json:"sequence,omitempty"`
}

// HistoryRequest is the request for a conversation's messages.
type HistoryRequest struct {
	ID    string `json:"id"`
	Limit int    `json:"limit,omitempty"`
}

// StreamChatRequest triggers a streamed reply. The reply arrives as chat:chunk
// events for ConversationID.
type StreamChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Prompt         string `json:"prompt"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
	Model          string `json:"model,omitempty"`
}

// InvokeChatRequest is the legacy non-streaming chat request.
type InvokeChatRequest struct {
	Prompt         string `json:"prompt"`
	Model          string `json:"model,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
}

// InvokeChatResponse is the legacy non-streaming chat response.
type InvokeChatResponse struct {
	Reply string `json:"reply"`
	Model string `json:"model"`
}

// SendMessageRequest is the HTTP gateway's body for chat endpoints.
type SendMessageRequest struct {
	Content      string `json:"content"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Model        string `json:"model,omitempty"`
}
